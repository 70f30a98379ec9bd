// Package client is a Go client for the gateway HTTP API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/bturcanu/opentoolbox/pkg/connectors"
	"github.com/bturcanu/opentoolbox/pkg/journal"
	"github.com/bturcanu/opentoolbox/pkg/types"
)

type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

func New(baseURL, apiKey string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
}

// Call submits a tool call. A missing trace ID is generated; the idempotency
// key is left to the caller so retries can reuse it.
func (c *Client) Call(ctx context.Context, req types.ToolCallRequest) (*types.ToolCallResponse, error) {
	if req.TraceID == "" {
		req.TraceID = uuid.NewString()
	}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("client.Call marshal: %w", err)
	}
	var resp types.ToolCallResponse
	if err := c.do(ctx, http.MethodPost, "/v1/toolcalls", bytes.NewReader(body), &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Tools lists the tools the API key may call.
func (c *Client) Tools(ctx context.Context) ([]connectors.ToolInfo, error) {
	var out struct {
		Tools []connectors.ToolInfo `json:"tools"`
	}
	if err := c.do(ctx, http.MethodGet, "/v1/tools", nil, &out); err != nil {
		return nil, err
	}
	return out.Tools, nil
}

// Entry fetches the journal entry of a past call.
func (c *Client) Entry(ctx context.Context, eventID string) (*journal.Entry, error) {
	var e journal.Entry
	if err := c.do(ctx, http.MethodGet, "/v1/toolcalls/"+url.PathEscape(eventID), nil, &e); err != nil {
		return nil, err
	}
	return &e, nil
}

// do returns *types.APIError for non-2xx responses carrying an error body.
func (c *Client) do(ctx context.Context, method, path string, body io.Reader, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("client new request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("X-API-Key", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var apiErr types.APIError
		if decodeErr := json.NewDecoder(resp.Body).Decode(&apiErr); decodeErr == nil && apiErr.Message != "" {
			apiErr.HTTPCode = resp.StatusCode
			return &apiErr
		}
		return fmt.Errorf("http status %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("client decode: %w", err)
	}
	return nil
}
