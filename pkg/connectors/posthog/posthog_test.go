package posthog

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bturcanu/opentoolbox/pkg/connectors/connectortest"
)

func newTestConnector(t *testing.T, h http.HandlerFunc) *Connector {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c := New(Config{Host: srv.URL, ProjectAPIKey: "phc_1", PersonalAPIKey: "phx_1", ProjectID: "42"})
	c.newUUID = func() string { return "0190-uuid" }
	c.now = func() time.Time { return time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC) }
	return c
}

func TestContract(t *testing.T) {
	connectortest.RunOperationContract(t, New(Config{Host: connectortest.DeadURL(t), ProjectAPIKey: "k", PersonalAPIKey: "p", ProjectID: "1"}))
}

func TestCapture(t *testing.T) {
	c := newTestConnector(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/i/v0/e/", r.URL.Path)
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "phc_1", body["api_key"])
		assert.Equal(t, "signup", body["event"])
		assert.Equal(t, "0190-uuid", body["uuid"])
		assert.Equal(t, "2025-03-01T12:00:00Z", body["timestamp"])
		assert.Equal(t, map[string]any{}, body["properties"])
		w.Write([]byte(`{"status":1}`))
	})
	res := connectortest.Invoke(t, c, "posthog_capture", map[string]string{"event": "signup", "distinct_id": "u1"})
	require.True(t, res.OK(), res.Error)
	assert.Equal(t, CaptureResult{Success: true, Event: "signup", UUID: "0190-uuid", Status: 1}, res.Output)
}

func TestCapture_Failure(t *testing.T) {
	c := newTestConnector(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"type":"authentication_error","code":"invalid_api_key","detail":"Project API key invalid."}`))
	})
	res := connectortest.Invoke(t, c, "posthog_capture", map[string]string{"event": "signup", "distinct_id": "u1"})
	assert.False(t, res.OK())
	assert.Equal(t, CaptureResult{Error: "Project API key invalid."}, res.Output)
}

func TestQuery(t *testing.T) {
	c := newTestConnector(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/projects/42/query/", r.URL.Path)
		assert.Equal(t, "Bearer phx_1", r.Header.Get("Authorization"))
		var body struct {
			Query map[string]string `json:"query"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "HogQLQuery", body.Query["kind"])
		w.Write([]byte(`{"columns":["event","c"],"results":[["signup",3],["login",9]],"types":[["event","String"],["c","UInt64"]]}`))
	})
	res := connectortest.Invoke(t, c, "posthog_query", map[string]string{"query": "SELECT event, count() AS c FROM events GROUP BY event"})
	require.True(t, res.OK(), res.Error)
	assert.Equal(t, QueryResult{
		Success:  true,
		Columns:  []string{"event", "c"},
		Results:  [][]any{{"signup", float64(3)}, {"login", float64(9)}},
		Types:    []string{"String", "UInt64"},
		RowCount: 2,
	}, res.Output)
}

func TestQuery_FailureRecordIsDefaulted(t *testing.T) {
	c := newTestConnector(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"type":"validation_error","detail":"Unable to resolve field: nope"}`))
	})
	res := connectortest.Invoke(t, c, "posthog_query", map[string]string{"query": "SELECT nope FROM events"})
	assert.False(t, res.OK())
	assert.JSONEq(t, `{"success":false,"columns":[],"results":[],"types":[],"row_count":0,"error":"Unable to resolve field: nope"}`, string(res.OutputJSON()))
}

func TestQuery_NoProject(t *testing.T) {
	c := New(Config{PersonalAPIKey: "p"})
	res := connectortest.Invoke(t, c, "posthog_query", map[string]string{"query": "SELECT 1"})
	assert.Equal(t, "project_id is required", res.Error)
}
