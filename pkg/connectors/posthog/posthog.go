// Package posthog captures product analytics events and runs HogQL queries.
// Both operations report failure as a record with success=false.
package posthog

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/bturcanu/opentoolbox/pkg/connectors"
	"github.com/bturcanu/opentoolbox/pkg/transport"
)

const DefaultHost = "https://us.i.posthog.com"

type Config struct {
	Host string
	// ProjectAPIKey (phc_...) authorises capture; PersonalAPIKey (phx_...)
	// authorises queries.
	ProjectAPIKey  string
	PersonalAPIKey string
	ProjectID      string
	Headers        map[string]string
	Query          map[string]string
	Timeout        time.Duration
	HTTPClient     *http.Client
}

type Connector struct {
	client         *transport.Client
	projectAPIKey  string
	personalAPIKey string
	projectID      string
	newUUID        func() string
	now            func() time.Time
}

func New(cfg Config) *Connector {
	if cfg.Host == "" {
		cfg.Host = DefaultHost
	}
	return &Connector{
		projectAPIKey:  cfg.ProjectAPIKey,
		personalAPIKey: cfg.PersonalAPIKey,
		projectID:      cfg.ProjectID,
		newUUID:        uuid.NewString,
		now:            time.Now,
		client: transport.New(transport.Config{
			Name:       "posthog",
			BaseURL:    cfg.Host,
			Headers:    cfg.Headers,
			Query:      cfg.Query,
			Timeout:    cfg.Timeout,
			HTTPClient: cfg.HTTPClient,
		}),
	}
}

func (c *Connector) Name() string { return "posthog" }

func (c *Connector) Operations() []connectors.Operation {
	return []connectors.Operation{
		connectors.RecordOp(connectors.Operation{
			Name:        "posthog_capture",
			Description: "Capture an analytics event for a distinct user.",
			Params: []connectors.Param{
				{Name: "event", Type: connectors.TypeString, Required: true},
				{Name: "distinct_id", Type: connectors.TypeString, Required: true},
				{Name: "properties", Type: connectors.TypeObject},
				{Name: "timestamp", Type: connectors.TypeString, Description: "RFC 3339; defaults to now"},
			},
		}, c.capture, failedCapture),
		connectors.RecordOp(connectors.Operation{
			Name:        "posthog_query",
			Description: "Run a HogQL query against a project.",
			ReadOnly:    true,
			Params: []connectors.Param{
				{Name: "query", Type: connectors.TypeString, Description: "HogQL, e.g. SELECT event, count() FROM events GROUP BY event", Required: true},
				{Name: "project_id", Type: connectors.TypeString, Description: "Defaults to the configured project"},
			},
		}, c.query, failedQuery),
	}
}

// ──────────────────────────────────────────────────────────────────────────────
// Capture
// ──────────────────────────────────────────────────────────────────────────────

type captureParams struct {
	Event      string         `json:"event"`
	DistinctID string         `json:"distinct_id"`
	Properties map[string]any `json:"properties"`
	Timestamp  string         `json:"timestamp"`
}

type CaptureResult struct {
	Success bool   `json:"success"`
	Event   string `json:"event"`
	UUID    string `json:"uuid"`
	Status  int    `json:"status"`
	Error   string `json:"error"`
}

func failedCapture(msg string) CaptureResult {
	return CaptureResult{Error: msg}
}

func (c *Connector) capture(ctx context.Context, p captureParams) (CaptureResult, error) {
	if c.projectAPIKey == "" {
		return CaptureResult{}, errors.New("project API key is not configured")
	}
	id := c.newUUID()
	ts := p.Timestamp
	if ts == "" {
		ts = c.now().UTC().Format(time.RFC3339Nano)
	}
	props := p.Properties
	if props == nil {
		props = map[string]any{}
	}
	body := map[string]any{
		"api_key":     c.projectAPIKey,
		"event":       p.Event,
		"distinct_id": p.DistinctID,
		"properties":  props,
		"timestamp":   ts,
		"uuid":        id,
	}
	var out struct {
		Status int `json:"status"`
	}
	if _, err := c.client.JSON(ctx, transport.Request{Method: http.MethodPost, Path: "/i/v0/e/", JSON: body}, &out); err != nil {
		return CaptureResult{}, err
	}
	return CaptureResult{Success: true, Event: p.Event, UUID: id, Status: out.Status}, nil
}

// ──────────────────────────────────────────────────────────────────────────────
// HogQL query
// ──────────────────────────────────────────────────────────────────────────────

type queryParams struct {
	Query     string `json:"query"`
	ProjectID string `json:"project_id"`
}

type QueryResult struct {
	Success  bool     `json:"success"`
	Columns  []string `json:"columns"`
	Results  [][]any  `json:"results"`
	Types    []string `json:"types"`
	RowCount int      `json:"row_count"`
	Error    string   `json:"error"`
}

func failedQuery(msg string) QueryResult {
	return QueryResult{Columns: []string{}, Results: [][]any{}, Types: []string{}, Error: msg}
}

func (c *Connector) query(ctx context.Context, p queryParams) (QueryResult, error) {
	projectID := p.ProjectID
	if projectID == "" {
		projectID = c.projectID
	}
	if projectID == "" {
		return QueryResult{}, errors.New("project_id is required")
	}
	if c.personalAPIKey == "" {
		return QueryResult{}, errors.New("personal API key is not configured")
	}

	var out struct {
		Columns []string `json:"columns"`
		Results [][]any  `json:"results"`
		Types   []any    `json:"types"`
	}
	req := transport.Request{
		Method: http.MethodPost,
		Path:   transport.PathEscape("/api/projects/%s/query/", projectID),
		Header: http.Header{"Authorization": {"Bearer " + c.personalAPIKey}},
		JSON: map[string]any{
			"query": map[string]string{"kind": "HogQLQuery", "query": p.Query},
		},
	}
	if _, err := c.client.JSON(ctx, req, &out); err != nil {
		return QueryResult{}, err
	}

	res := QueryResult{
		Success:  true,
		Columns:  out.Columns,
		Results:  out.Results,
		Types:    columnTypes(out.Types),
		RowCount: len(out.Results),
	}
	if res.Columns == nil {
		res.Columns = []string{}
	}
	if res.Results == nil {
		res.Results = [][]any{}
	}
	return res, nil
}

// columnTypes accepts either ["String", ...] or [["event","String"], ...].
func columnTypes(raw []any) []string {
	out := make([]string, 0, len(raw))
	for _, t := range raw {
		switch v := t.(type) {
		case string:
			out = append(out, v)
		case []any:
			if len(v) > 0 {
				out = append(out, fmt.Sprint(v[len(v)-1]))
			}
		}
	}
	return out
}
