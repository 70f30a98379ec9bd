package policy

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bturcanu/opentoolbox/pkg/connectors/shell"
)

func opaServer(t *testing.T, status int, result map[string]any, got *Input) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, DefaultPath, r.URL.Path)
		var req struct {
			Input Input `json:"input"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		if got != nil {
			*got = req.Input
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		json.NewEncoder(w).Encode(map[string]any{"result": result})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestEvaluate_AllowDecision(t *testing.T) {
	var in Input
	srv := opaServer(t, http.StatusOK, map[string]any{"decision": "allow", "reason": "read-only command"}, &in)

	res, err := NewClient(srv.URL, nil).Evaluate(context.Background(), Input{Command: "ls -la", Dir: "/tmp", TenantID: "acme"})
	require.NoError(t, err)
	assert.Equal(t, DecisionAllow, res.Decision)
	assert.Equal(t, "read-only command", res.Reason)
	assert.Equal(t, Input{Command: "ls -la", Dir: "/tmp", TenantID: "acme"}, in)
}

func TestEvaluate_DefaultDenyOnEmptyDecision(t *testing.T) {
	srv := opaServer(t, http.StatusOK, map[string]any{}, nil)
	res, err := NewClient(srv.URL, nil).Evaluate(context.Background(), Input{})
	require.NoError(t, err)
	assert.Equal(t, DecisionDeny, res.Decision)
}

func TestEvaluate_Non200(t *testing.T) {
	srv := opaServer(t, http.StatusInternalServerError, nil, nil)
	_, err := NewClient(srv.URL, nil).Evaluate(context.Background(), Input{})
	assert.ErrorContains(t, err, "500")
}

func TestConfirm(t *testing.T) {
	ctx := context.Background()
	req := shell.ConfirmRequest{Command: "echo hi", TenantID: "acme"}

	allow := opaServer(t, http.StatusOK, map[string]any{"decision": "allow"}, nil)
	ok, err := NewClient(allow.URL, nil).Confirm(ctx, req)
	require.NoError(t, err)
	assert.True(t, ok)

	deny := opaServer(t, http.StatusOK, map[string]any{"decision": "deny"}, nil)
	ok, err = NewClient(deny.URL, nil).Confirm(ctx, req)
	require.NoError(t, err)
	assert.False(t, ok)

	broken := opaServer(t, http.StatusBadGateway, nil, nil)
	ok, err = NewClient(broken.URL, nil).Confirm(ctx, req)
	require.NoError(t, err)
	assert.False(t, ok, "errors refuse")
}
