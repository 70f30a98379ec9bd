// Package jira creates and searches Jira Cloud issues (REST API v3).
package jira

import (
	"context"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/bturcanu/opentoolbox/pkg/connectors"
	"github.com/bturcanu/opentoolbox/pkg/transport"
)

const DefaultIssueType = "Task"

type Config struct {
	BaseURL    string // e.g. https://acme.atlassian.net
	Email      string
	APIToken   string
	Headers    map[string]string
	Query      map[string]string
	Timeout    time.Duration
	HTTPClient *http.Client
}

type Connector struct {
	client *transport.Client
}

func New(cfg Config) *Connector {
	return &Connector{client: transport.New(transport.Config{
		Name:       "jira",
		BaseURL:    cfg.BaseURL,
		Auth:       transport.Basic(cfg.Email, cfg.APIToken),
		Headers:    cfg.Headers,
		Query:      cfg.Query,
		Timeout:    cfg.Timeout,
		HTTPClient: cfg.HTTPClient,
		Classifier: classifier,
	})}
}

// classifier prefers errorMessages[0], then the per-field errors map
// rendered as "field: message" in field order.
var classifier = transport.ClassifierFunc(func(resp *transport.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	obj := transport.BodyObject(resp.Body)
	if msgs, ok := obj["errorMessages"].([]any); ok && len(msgs) > 0 {
		if s, ok := msgs[0].(string); ok && s != "" {
			return &transport.Error{StatusCode: resp.StatusCode, Message: s}
		}
	}
	if fields, ok := obj["errors"].(map[string]any); ok && len(fields) > 0 {
		keys := make([]string, 0, len(fields))
		for k := range fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, 0, len(keys))
		for _, k := range keys {
			if s, ok := fields[k].(string); ok {
				parts = append(parts, k+": "+s)
			}
		}
		return &transport.Error{StatusCode: resp.StatusCode, Message: strings.Join(parts, "; ")}
	}
	return &transport.Error{StatusCode: resp.StatusCode, Message: transport.MessageFromBody(resp.Body)}
})

func (c *Connector) Name() string { return "jira" }

func (c *Connector) Operations() []connectors.Operation {
	return []connectors.Operation{
		connectors.SentinelOp(connectors.Operation{
			Name:        "jira_create_issue",
			Description: "Create an issue in a project.",
			Action:      "creating issue",
			Params: []connectors.Param{
				{Name: "project", Type: connectors.TypeString, Description: "Project key, e.g. OPS", Required: true},
				{Name: "summary", Type: connectors.TypeString, Required: true},
				{Name: "description", Type: connectors.TypeString, Description: "Plain text; sent as a single ADF paragraph per line"},
				{Name: "issue_type", Type: connectors.TypeString, Default: DefaultIssueType},
			},
		}, c.createIssue),
		connectors.ListOp(connectors.Operation{
			Name:        "jira_search_issues",
			Description: "Search issues with JQL.",
			ReadOnly:    true,
			Params: []connectors.Param{
				{Name: "jql", Type: connectors.TypeString, Description: "e.g. project = OPS AND status != Done", Required: true},
				{Name: "max_results", Type: connectors.TypeInteger, Range: &connectors.Range{Min: 1, Max: 100}, Default: 20},
			},
		}, c.searchIssues),
	}
}

type createParams struct {
	Project     string `json:"project"`
	Summary     string `json:"summary"`
	Description string `json:"description"`
	IssueType   string `json:"issue_type"`
}

type CreatedIssue struct {
	ID  string `json:"id"`
	Key string `json:"key"`
	URL string `json:"url"`
}

func (c *Connector) createIssue(ctx context.Context, p createParams) (CreatedIssue, error) {
	issueType := p.IssueType
	if issueType == "" {
		issueType = DefaultIssueType
	}
	fields := map[string]any{
		"project":   map[string]string{"key": p.Project},
		"summary":   p.Summary,
		"issuetype": map[string]string{"name": issueType},
	}
	if p.Description != "" {
		fields["description"] = adfDocument(p.Description)
	}
	var out struct {
		ID  string `json:"id"`
		Key string `json:"key"`
	}
	req := transport.Request{Method: http.MethodPost, Path: "/rest/api/3/issue", JSON: map[string]any{"fields": fields}}
	if _, err := c.client.JSON(ctx, req, &out); err != nil {
		return CreatedIssue{}, err
	}
	return CreatedIssue{ID: out.ID, Key: out.Key, URL: c.client.BaseURL() + transport.PathEscape("/browse/%s", out.Key)}, nil
}

// adfDocument renders plain text as an Atlassian Document Format document
// with one paragraph per non-empty line.
func adfDocument(text string) map[string]any {
	content := []any{}
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimRight(line, "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		content = append(content, map[string]any{
			"type":    "paragraph",
			"content": []any{map[string]any{"type": "text", "text": line}},
		})
	}
	return map[string]any{"type": "doc", "version": 1, "content": content}
}

type Issue struct {
	ID        string `json:"id"`
	Key       string `json:"key"`
	Summary   string `json:"summary"`
	Status    string `json:"status"`
	IssueType string `json:"issue_type"`
	Priority  string `json:"priority"`
	Assignee  string `json:"assignee"`
	Updated   string `json:"updated"`
}

type named struct {
	Name string `json:"name"`
}

type searchParams struct {
	JQL        string `json:"jql"`
	MaxResults int    `json:"max_results"`
}

func (c *Connector) searchIssues(ctx context.Context, p searchParams) ([]Issue, error) {
	q := url.Values{
		"jql":        {p.JQL},
		"maxResults": {strconv.Itoa(transport.ClampDefault(p.MaxResults, 20, 1, 100))},
		"fields":     {"summary,status,issuetype,priority,assignee,updated"},
	}
	var out struct {
		Issues []struct {
			ID     string `json:"id"`
			Key    string `json:"key"`
			Fields struct {
				Summary   string `json:"summary"`
				Status    *named `json:"status"`
				IssueType *named `json:"issuetype"`
				Priority  *named `json:"priority"`
				Assignee  *struct {
					DisplayName string `json:"displayName"`
				} `json:"assignee"`
				Updated string `json:"updated"`
			} `json:"fields"`
		} `json:"issues"`
	}
	if _, err := c.client.JSON(ctx, transport.Request{Path: "/rest/api/3/search/jql", Query: q}, &out); err != nil {
		return nil, err
	}
	issues := make([]Issue, 0, len(out.Issues))
	for _, is := range out.Issues {
		issue := Issue{ID: is.ID, Key: is.Key, Summary: is.Fields.Summary, Updated: is.Fields.Updated}
		if is.Fields.Status != nil {
			issue.Status = is.Fields.Status.Name
		}
		if is.Fields.IssueType != nil {
			issue.IssueType = is.Fields.IssueType.Name
		}
		if is.Fields.Priority != nil {
			issue.Priority = is.Fields.Priority.Name
		}
		if is.Fields.Assignee != nil {
			issue.Assignee = is.Fields.Assignee.DisplayName
		}
		issues = append(issues, issue)
	}
	return issues, nil
}
