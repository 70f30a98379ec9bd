package searchapi

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bturcanu/opentoolbox/pkg/connectors/connectortest"
)

func newTestConnector(t *testing.T, h http.HandlerFunc) *Connector {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return New(Config{BaseURL: srv.URL, APIKey: "key1", Query: map[string]string{"gl": "us"}})
}

func TestContract(t *testing.T) {
	connectortest.RunOperationContract(t, New(Config{BaseURL: connectortest.DeadURL(t)}))
}

func TestSearch_ClampsNum(t *testing.T) {
	c := newTestConnector(t, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "/api/v1/search", r.URL.Path)
		assert.Equal(t, "100", q.Get("num"))
		assert.Equal(t, "google", q.Get("engine"))
		assert.Equal(t, "key1", q.Get("api_key"))
		assert.Equal(t, "de", q.Get("gl"))
		w.Write([]byte(`{"organic_results":[{"position":1,"title":"Go","link":"https://go.dev","snippet":"Build simple..."}]}`))
	})
	res := connectortest.Invoke(t, c, "searchapi_search", map[string]any{"q": "golang", "num": 500, "gl": "de"})
	require.True(t, res.OK(), res.Error)
	assert.Equal(t, []Result{{Position: 1, Title: "Go", Link: "https://go.dev", Snippet: "Build simple..."}}, res.Output)
}

func TestSearch_ConfiguredQueryApplied(t *testing.T) {
	c := newTestConnector(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "us", r.URL.Query().Get("gl"))
		assert.Equal(t, "10", r.URL.Query().Get("num"))
		w.Write([]byte(`{}`))
	})
	res := connectortest.Invoke(t, c, "searchapi_search", map[string]string{"q": "x"})
	require.True(t, res.OK(), res.Error)
	assert.Equal(t, "[]", string(res.OutputJSON()))
}

func TestSearch_ErrorOn200(t *testing.T) {
	c := newTestConnector(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"error":"Invalid API key."}`))
	})
	res := connectortest.Invoke(t, c, "searchapi_search", map[string]string{"q": "x"})
	assert.False(t, res.OK())
	assert.Equal(t, "Invalid API key.", res.Error)
	assert.Equal(t, []Result{}, res.Output)
}

func TestSearch_Idempotent(t *testing.T) {
	c := newTestConnector(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"organic_results":[{"position":1,"title":"a"},{"position":2,"title":"b"}]}`))
	})
	first := connectortest.Invoke(t, c, "searchapi_search", map[string]string{"q": "x"})
	second := connectortest.Invoke(t, c, "searchapi_search", map[string]string{"q": "x"})
	assert.Equal(t, string(first.OutputJSON()), string(second.OutputJSON()))
}
