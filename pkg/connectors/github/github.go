// Package github lists, dispatches and re-runs GitHub Actions workflows.
package github

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/bturcanu/opentoolbox/pkg/connectors"
	"github.com/bturcanu/opentoolbox/pkg/transport"
)

const (
	DefaultBaseURL    = "https://api.github.com"
	DefaultAPIVersion = "2022-11-28"
)

type Config struct {
	BaseURL    string
	Token      string
	APIVersion string // sent as X-GitHub-Api-Version
	Headers    map[string]string
	Query      map[string]string
	Timeout    time.Duration
	HTTPClient *http.Client
}

type Connector struct {
	client *transport.Client
}

func New(cfg Config) *Connector {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.APIVersion == "" {
		cfg.APIVersion = DefaultAPIVersion
	}
	headers := map[string]string{
		"Accept":               "application/vnd.github+json",
		"X-GitHub-Api-Version": cfg.APIVersion,
	}
	for k, v := range cfg.Headers {
		headers[k] = v
	}
	return &Connector{client: transport.New(transport.Config{
		Name:       "github",
		BaseURL:    cfg.BaseURL,
		APIVersion: cfg.APIVersion,
		Auth:       transport.Bearer(cfg.Token),
		Headers:    headers,
		Query:      cfg.Query,
		Timeout:    cfg.Timeout,
		HTTPClient: cfg.HTTPClient,
		UserAgent:  "opentoolbox",
	})}
}

func (c *Connector) Name() string { return "github" }

func (c *Connector) Operations() []connectors.Operation {
	repoParams := []connectors.Param{
		{Name: "owner", Type: connectors.TypeString, Description: "Repository owner", Required: true},
		{Name: "repo", Type: connectors.TypeString, Description: "Repository name", Required: true},
	}
	with := func(extra ...connectors.Param) []connectors.Param {
		return append(append([]connectors.Param{}, repoParams...), extra...)
	}
	return []connectors.Operation{
		connectors.ListOp(connectors.Operation{
			Name:        "github_list_workflow_runs",
			Description: "List recent workflow runs of a repository.",
			ReadOnly:    true,
			Params: with(
				connectors.Param{Name: "branch", Type: connectors.TypeString},
				connectors.Param{Name: "status", Type: connectors.TypeString, Description: "e.g. completed, in_progress, failure"},
				connectors.Param{Name: "per_page", Type: connectors.TypeInteger, Range: &connectors.Range{Min: 1, Max: 100}, Default: 30},
			),
		}, c.listWorkflowRuns),
		connectors.SentinelOp(connectors.Operation{
			Name:        "github_dispatch_workflow",
			Description: "Trigger a workflow_dispatch event for a workflow file or ID.",
			Action:      "dispatching workflow",
			Params: with(
				connectors.Param{Name: "workflow", Type: connectors.TypeString, Description: "Workflow file name (ci.yml) or numeric ID", Required: true},
				connectors.Param{Name: "ref", Type: connectors.TypeString, Description: "Branch or tag", Required: true},
				connectors.Param{Name: "inputs", Type: connectors.TypeObject},
			),
		}, c.dispatchWorkflow),
		connectors.SentinelOp(connectors.Operation{
			Name:        "github_rerun_workflow",
			Description: "Re-run a workflow run.",
			Action:      "re-running workflow",
			Params: with(
				connectors.Param{Name: "run_id", Type: connectors.TypeInteger, Required: true},
			),
		}, c.rerunWorkflow),
	}
}

type WorkflowRun struct {
	ID         int64  `json:"id"`
	Name       string `json:"name"`
	RunNumber  int    `json:"run_number"`
	Event      string `json:"event"`
	Status     string `json:"status"`
	Conclusion string `json:"conclusion"`
	HeadBranch string `json:"head_branch"`
	HeadSHA    string `json:"head_sha"`
	HTMLURL    string `json:"html_url"`
	CreatedAt  string `json:"created_at"`
	UpdatedAt  string `json:"updated_at"`
}

type listRunsParams struct {
	Owner   string `json:"owner"`
	Repo    string `json:"repo"`
	Branch  string `json:"branch"`
	Status  string `json:"status"`
	PerPage int    `json:"per_page"`
}

func (c *Connector) listWorkflowRuns(ctx context.Context, p listRunsParams) ([]WorkflowRun, error) {
	q := url.Values{"per_page": {strconv.Itoa(transport.ClampDefault(p.PerPage, 30, 1, 100))}}
	if p.Branch != "" {
		q.Set("branch", p.Branch)
	}
	if p.Status != "" {
		q.Set("status", p.Status)
	}
	var out struct {
		WorkflowRuns []struct {
			ID         int64   `json:"id"`
			Name       string  `json:"name"`
			RunNumber  int     `json:"run_number"`
			Event      string  `json:"event"`
			Status     string  `json:"status"`
			Conclusion *string `json:"conclusion"`
			HeadBranch string  `json:"head_branch"`
			HeadSHA    string  `json:"head_sha"`
			HTMLURL    string  `json:"html_url"`
			CreatedAt  string  `json:"created_at"`
			UpdatedAt  string  `json:"updated_at"`
		} `json:"workflow_runs"`
	}
	path := transport.PathEscape("/repos/%s/%s/actions/runs", p.Owner, p.Repo)
	if _, err := c.client.JSON(ctx, transport.Request{Path: path, Query: q}, &out); err != nil {
		return nil, err
	}
	runs := make([]WorkflowRun, 0, len(out.WorkflowRuns))
	for _, r := range out.WorkflowRuns {
		run := WorkflowRun{
			ID:         r.ID,
			Name:       r.Name,
			RunNumber:  r.RunNumber,
			Event:      r.Event,
			Status:     r.Status,
			HeadBranch: r.HeadBranch,
			HeadSHA:    r.HeadSHA,
			HTMLURL:    r.HTMLURL,
			CreatedAt:  r.CreatedAt,
			UpdatedAt:  r.UpdatedAt,
		}
		if r.Conclusion != nil {
			run.Conclusion = *r.Conclusion
		}
		runs = append(runs, run)
	}
	return runs, nil
}

type dispatchParams struct {
	Owner    string         `json:"owner"`
	Repo     string         `json:"repo"`
	Workflow string         `json:"workflow"`
	Ref      string         `json:"ref"`
	Inputs   map[string]any `json:"inputs"`
}

type Dispatch struct {
	Dispatched bool   `json:"dispatched"`
	Workflow   string `json:"workflow"`
	Ref        string `json:"ref"`
}

func (c *Connector) dispatchWorkflow(ctx context.Context, p dispatchParams) (Dispatch, error) {
	body := map[string]any{"ref": p.Ref}
	if len(p.Inputs) > 0 {
		body["inputs"] = p.Inputs
	}
	path := transport.PathEscape("/repos/%s/%s/actions/workflows/%s/dispatches", p.Owner, p.Repo, p.Workflow)
	if _, err := c.client.Do(ctx, transport.Request{Method: http.MethodPost, Path: path, JSON: body}); err != nil {
		return Dispatch{}, err
	}
	return Dispatch{Dispatched: true, Workflow: p.Workflow, Ref: p.Ref}, nil
}

type rerunParams struct {
	Owner string `json:"owner"`
	Repo  string `json:"repo"`
	RunID int64  `json:"run_id"`
}

type Rerun struct {
	Rerun bool  `json:"rerun"`
	RunID int64 `json:"run_id"`
}

func (c *Connector) rerunWorkflow(ctx context.Context, p rerunParams) (Rerun, error) {
	path := transport.PathEscape("/repos/%s/%s/actions/runs/%s/rerun", p.Owner, p.Repo, strconv.FormatInt(p.RunID, 10))
	if _, err := c.client.Do(ctx, transport.Request{Method: http.MethodPost, Path: path}); err != nil {
		return Rerun{}, err
	}
	return Rerun{Rerun: true, RunID: p.RunID}, nil
}
