package sdk

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bturcanu/opentoolbox/pkg/connectors"
)

type echoParams struct {
	Text string `json:"text"`
}

type echo struct{}

func (echo) Name() string { return "echo" }
func (echo) Operations() []connectors.Operation {
	return []connectors.Operation{
		connectors.SentinelOp(connectors.Operation{Name: "echo_say", Description: "Echo", Action: "echoing"},
			func(_ context.Context, p echoParams) (string, error) { return p.Text, nil }),
	}
}

func newRegistry(t *testing.T) *connectors.Registry {
	reg := connectors.NewRegistry(nil)
	require.NoError(t, reg.Register(echo{}))
	return reg
}

func TestHandler_Exec(t *testing.T) {
	h := Handler(newRegistry(t), Config{InternalToken: "tok"})
	body, _ := json.Marshal(connectors.ExecRequest{Tool: "echo_say", Params: json.RawMessage(`{"text":"hi"}`)})

	req := httptest.NewRequest(http.MethodPost, "/exec", bytes.NewReader(body))
	req.Header.Set("X-Internal-Token", "tok")
	rec := httptest.NewRecorder()
	h(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp connectors.ExecResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "success", string(resp.Status))
	assert.JSONEq(t, `"hi"`, string(resp.OutputJSON))
}

func TestHandler_Unauthorized(t *testing.T) {
	h := Handler(newRegistry(t), Config{InternalToken: "tok"})
	rec := httptest.NewRecorder()
	h(rec, httptest.NewRequest(http.MethodPost, "/exec", bytes.NewReader([]byte(`{}`))))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHandler_UnknownTool(t *testing.T) {
	h := Handler(newRegistry(t), Config{})
	rec := httptest.NewRecorder()
	h(rec, httptest.NewRequest(http.MethodPost, "/exec", bytes.NewReader([]byte(`{"tool":"nope_x"}`))))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestToolsHandler(t *testing.T) {
	rec := httptest.NewRecorder()
	ToolsHandler(newRegistry(t))(rec, httptest.NewRequest(http.MethodGet, "/tools", nil))
	var out struct {
		Tools []connectors.ToolInfo `json:"tools"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&out))
	require.Len(t, out.Tools, 1)
	assert.Equal(t, "echo_say", out.Tools[0].Name)
}
