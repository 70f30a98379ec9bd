// Package policy provides an HTTP client for Open Policy Agent evaluation,
// used to confirm local shell commands before they run.
package policy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/bturcanu/opentoolbox/pkg/connectors/shell"
)

// DefaultPath is the OPA data document holding the shell decision.
const DefaultPath = "/v1/data/toolbox/shell"

// Decision is the value of result.decision.
type Decision string

const (
	DecisionAllow Decision = "allow"
	DecisionDeny  Decision = "deny"
)

// Input is the document OPA evaluates.
type Input struct {
	Command  string `json:"command"`
	Dir      string `json:"dir,omitempty"`
	TenantID string `json:"tenant_id,omitempty"`
}

// Result is the evaluated decision.
type Result struct {
	Decision Decision `json:"decision"`
	Reason   string   `json:"reason,omitempty"`
}

// Client calls OPA over HTTP.
type Client struct {
	baseURL    string
	path       string
	httpClient *http.Client
	log        *slog.Logger
}

// NewClient creates a new OPA policy client.
func NewClient(baseURL string, log *slog.Logger) *Client {
	if log == nil {
		log = slog.Default()
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		path:    DefaultPath,
		httpClient: &http.Client{
			Timeout: 5 * time.Second,
		},
		log: log,
	}
}

// WithPath overrides the decision document path.
func (c *Client) WithPath(path string) *Client {
	c.path = path
	return c
}

type opaRequest struct {
	Input Input `json:"input"`
}

type opaResponse struct {
	Result Result `json:"result"`
}

// Evaluate sends input to OPA and returns the decision. An empty decision
// is reported as deny.
func (c *Client) Evaluate(ctx context.Context, input Input) (*Result, error) {
	body, err := json.Marshal(opaRequest{Input: input})
	if err != nil {
		return nil, fmt.Errorf("policy marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+c.path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("policy new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("policy request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("policy OPA returned %d: %s", resp.StatusCode, string(b))
	}

	var opaResp opaResponse
	if err := json.NewDecoder(resp.Body).Decode(&opaResp); err != nil {
		return nil, fmt.Errorf("policy decode response: %w", err)
	}
	if opaResp.Result.Decision == "" {
		opaResp.Result.Decision = DecisionDeny
	}
	return &opaResp.Result, nil
}

// Confirm implements shell.Confirmer. Only an explicit allow confirms; OPA
// errors refuse the command.
func (c *Client) Confirm(ctx context.Context, req shell.ConfirmRequest) (bool, error) {
	res, err := c.Evaluate(ctx, Input{Command: req.Command, Dir: req.Dir, TenantID: req.TenantID})
	if err != nil {
		c.log.WarnContext(ctx, "policy evaluation failed, refusing command", "error", err)
		return false, nil
	}
	if res.Decision != DecisionAllow {
		c.log.InfoContext(ctx, "policy denied command", "decision", res.Decision, "reason", res.Reason, "tenant_id", req.TenantID)
		return false, nil
	}
	return true, nil
}

var _ shell.Confirmer = (*Client)(nil)
