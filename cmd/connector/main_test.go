package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bturcanu/opentoolbox/pkg/config"
	"github.com/bturcanu/opentoolbox/pkg/connectors"
	"github.com/bturcanu/opentoolbox/pkg/connectors/sdk"
	"github.com/bturcanu/opentoolbox/pkg/toolbox"
	"github.com/bturcanu/opentoolbox/pkg/types"
)

func searchUpstream(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"organic_results":[{"title":"Go","link":"https://go.dev","snippet":"The Go language"}]}`))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func testFile(t *testing.T, baseURL string) *config.File {
	t.Helper()
	f, err := config.ParseFile([]byte("connectors:\n  searchapi:\n    api_key: k\n    base_url: " + baseURL + "\n"))
	require.NoError(t, err)
	return f
}

func TestBuildRegistry(t *testing.T) {
	up := searchUpstream(t)
	reg, err := buildRegistry([]string{" searchapi ", ""}, toolbox.Options{File: testFile(t, up.URL)})
	require.NoError(t, err)
	assert.True(t, reg.Has("searchapi_search"))

	_, err = buildRegistry([]string{"fax"}, toolbox.Options{})
	assert.ErrorIs(t, err, toolbox.ErrUnknownConnector)

	_, err = buildRegistry(nil, toolbox.Options{})
	assert.Error(t, err)
}

func TestRouter_ServesRemoteRegistry(t *testing.T) {
	up := searchUpstream(t)
	reg, err := buildRegistry([]string{"searchapi"}, toolbox.Options{File: testFile(t, up.URL)})
	require.NoError(t, err)

	srv := httptest.NewServer(newRouter(reg, sdk.Config{InternalToken: "secret"}))
	defer srv.Close()

	// A gateway-side registry forwarding to this process.
	gw := connectors.NewRegistry(nil)
	gw.RegisterRemote("searchapi", srv.URL)
	gw.SetInternalToken("secret")

	params, _ := json.Marshal(map[string]any{"q": "golang"})
	resp, err := gw.Exec(context.Background(), connectors.ExecRequest{EventID: "e1", TenantID: "t", Tool: "searchapi_search", Params: params})
	require.NoError(t, err)
	assert.Equal(t, types.StatusSuccess, resp.Status)
	assert.Contains(t, string(resp.OutputJSON), "https://go.dev")

	_, err = gw.Exec(context.Background(), connectors.ExecRequest{Tool: "searchapi_missing"})
	assert.ErrorIs(t, err, connectors.ErrUnknownTool)
}

func TestRouter_RejectsWrongToken(t *testing.T) {
	up := searchUpstream(t)
	reg, err := buildRegistry([]string{"searchapi"}, toolbox.Options{File: testFile(t, up.URL)})
	require.NoError(t, err)
	h := newRouter(reg, sdk.Config{InternalToken: "secret"})

	req := httptest.NewRequest(http.MethodPost, "/exec", bytes.NewReader([]byte(`{"tool":"searchapi_search"}`)))
	req.Header.Set("X-Internal-Token", "wrong")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/tools", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "searchapi_search")
}
