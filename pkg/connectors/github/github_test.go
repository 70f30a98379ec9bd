package github

import (
	"encoding/json"
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
	return New(Config{BaseURL: srv.URL, Token: "ghp_x"})
}

func TestContract(t *testing.T) {
	connectortest.RunOperationContract(t, New(Config{BaseURL: connectortest.DeadURL(t)}))
}

func TestListWorkflowRuns(t *testing.T) {
	c := newTestConnector(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/repos/acme/api/actions/runs", r.URL.Path)
		assert.Equal(t, "100", r.URL.Query().Get("per_page"))
		assert.Equal(t, "main", r.URL.Query().Get("branch"))
		assert.Equal(t, DefaultAPIVersion, r.Header.Get("X-GitHub-Api-Version"))
		assert.Equal(t, "Bearer ghp_x", r.Header.Get("Authorization"))
		w.Write([]byte(`{"total_count":1,"workflow_runs":[{"id":7,"name":"CI","run_number":3,"status":"in_progress","conclusion":null,"head_branch":"main"}]}`))
	})
	res := connectortest.Invoke(t, c, "github_list_workflow_runs", map[string]any{"owner": "acme", "repo": "api", "branch": "main", "per_page": 250})
	require.True(t, res.OK(), res.Error)
	assert.Equal(t, []WorkflowRun{{ID: 7, Name: "CI", RunNumber: 3, Status: "in_progress", HeadBranch: "main"}}, res.Output)
}

func TestListWorkflowRuns_NotFoundIsEmptyList(t *testing.T) {
	c := newTestConnector(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"message":"Not Found"}`))
	})
	res := connectortest.Invoke(t, c, "github_list_workflow_runs", map[string]any{"owner": "acme", "repo": "nope"})
	assert.False(t, res.OK())
	assert.Equal(t, "Not Found", res.Error)
	assert.Equal(t, []WorkflowRun{}, res.Output)
}

func TestDispatchWorkflow(t *testing.T) {
	c := newTestConnector(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/repos/acme/api/actions/workflows/deploy.yml/dispatches", r.URL.Path)
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "main", body["ref"])
		assert.Equal(t, map[string]any{"env": "prod"}, body["inputs"])
		w.WriteHeader(http.StatusNoContent)
	})
	res := connectortest.Invoke(t, c, "github_dispatch_workflow", map[string]any{
		"owner": "acme", "repo": "api", "workflow": "deploy.yml", "ref": "main", "inputs": map[string]string{"env": "prod"},
	})
	require.True(t, res.OK(), res.Error)
	assert.Equal(t, Dispatch{Dispatched: true, Workflow: "deploy.yml", Ref: "main"}, res.Output)
}

func TestRerunWorkflow_Failure(t *testing.T) {
	c := newTestConnector(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/repos/acme/api/actions/runs/42/rerun", r.URL.Path)
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte(`{"message":"Resource not accessible by integration"}`))
	})
	res := connectortest.Invoke(t, c, "github_rerun_workflow", map[string]any{"owner": "acme", "repo": "api", "run_id": 42})
	assert.Equal(t, "Error re-running workflow: Resource not accessible by integration", res.Output)
}

func TestRerunWorkflow_MissingRunID(t *testing.T) {
	c := New(Config{BaseURL: connectortest.DeadURL(t)})
	res := connectortest.Invoke(t, c, "github_rerun_workflow", map[string]any{"owner": "acme", "repo": "api"})
	assert.Equal(t, "Error re-running workflow: missing required parameter: run_id", res.Output)
}
