// Package types defines the tool-call schema shared by the gateway, the
// connector registry and the journal.
package types

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"
)

// ──────────────────────────────────────────────────────────────────────────────
// Limits
// ──────────────────────────────────────────────────────────────────────────────

const (
	MaxParamsBytes         = 64 * 1024 // 64 KB
	MaxIdempotencyKeyBytes = 256
	MaxLabelsCount         = 50
	CurrentSchemaVer       = "1.0"
)

var toolNamePattern = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

// ──────────────────────────────────────────────────────────────────────────────
// ToolCallRequest — the payload sent by an orchestrator.
// ──────────────────────────────────────────────────────────────────────────────

type ToolCallRequest struct {
	// Identity
	TenantID string `json:"tenant_id"`
	AgentID  string `json:"agent_id"`

	// Operation, e.g. "stripe_create_payment_intent"
	Tool string `json:"tool"`

	// Inputs
	Params json.RawMessage `json:"params,omitempty"`

	// Metadata
	SessionID string            `json:"session_id,omitempty"`
	Labels    map[string]string `json:"labels,omitempty"`
	TraceID   string            `json:"trace_id,omitempty"`

	// Control
	IdempotencyKey string    `json:"idempotency_key,omitempty"`
	RequestedAt    time.Time `json:"requested_at"`
	SchemaVersion  string    `json:"schema_version"`
}

// Normalize lowercases and trims the tool name.
func (r *ToolCallRequest) Normalize() {
	r.Tool = strings.ToLower(strings.TrimSpace(r.Tool))
	r.TenantID = strings.TrimSpace(r.TenantID)
	r.AgentID = strings.TrimSpace(r.AgentID)
}

// NormalizeAndValidate normalizes the request, enforces its invariants and
// fills defaults for schema version, requested_at and params.
func (r *ToolCallRequest) NormalizeAndValidate() error {
	r.Normalize()

	if r.TenantID == "" {
		return &ValidationError{Field: "tenant_id", Reason: "required"}
	}
	if r.AgentID == "" {
		return &ValidationError{Field: "agent_id", Reason: "required"}
	}
	if r.Tool == "" {
		return &ValidationError{Field: "tool", Reason: "required"}
	}
	if !toolNamePattern.MatchString(r.Tool) {
		return &ValidationError{Field: "tool", Reason: "must match [a-z][a-z0-9_]*"}
	}
	if len(r.IdempotencyKey) > MaxIdempotencyKeyBytes {
		return &ValidationError{Field: "idempotency_key", Reason: fmt.Sprintf("exceeds %d bytes", MaxIdempotencyKeyBytes)}
	}
	if len(r.Params) > MaxParamsBytes {
		return &ValidationError{Field: "params", Reason: fmt.Sprintf("exceeds %d bytes", MaxParamsBytes)}
	}
	if len(r.Params) > 0 && !json.Valid(r.Params) {
		return &ValidationError{Field: "params", Reason: "must be valid JSON"}
	}
	if len(r.Labels) > MaxLabelsCount {
		return &ValidationError{Field: "labels", Reason: fmt.Sprintf("exceeds %d entries", MaxLabelsCount)}
	}
	if r.SchemaVersion == "" {
		r.SchemaVersion = CurrentSchemaVer
	} else if r.SchemaVersion != CurrentSchemaVer {
		return &ValidationError{Field: "schema_version", Reason: fmt.Sprintf("unsupported version %q, expected %q", r.SchemaVersion, CurrentSchemaVer)}
	}
	if len(r.Params) == 0 {
		r.Params = json.RawMessage(`{}`)
	}
	if r.RequestedAt.IsZero() {
		r.RequestedAt = time.Now().UTC()
	}
	return nil
}

// Vendor returns the connector prefix of the tool name ("stripe" for
// "stripe_create_payment_intent").
func (r *ToolCallRequest) Vendor() string {
	vendor, _, _ := strings.Cut(r.Tool, "_")
	return vendor
}

// ──────────────────────────────────────────────────────────────────────────────
// Execution result
// ──────────────────────────────────────────────────────────────────────────────

type ExecutionResult struct {
	Status     Status          `json:"status"`
	OutputJSON json.RawMessage `json:"output_json,omitempty"`
	Error      string          `json:"error,omitempty"`
	DurationMS int64           `json:"duration_ms"`
}

// ──────────────────────────────────────────────────────────────────────────────
// API response
// ──────────────────────────────────────────────────────────────────────────────

type ToolCallResponse struct {
	EventID string           `json:"event_id"`
	Tool    string           `json:"tool"`
	Replay  bool             `json:"replay,omitempty"`
	Result  *ExecutionResult `json:"result,omitempty"`
}
