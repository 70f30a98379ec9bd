// Package connectors defines the operation model shared by every adapter:
// typed parameters, the list/sentinel/record failure conventions, and the
// registry that routes tool calls to local or remote connectors.
package connectors

import (
	"context"
	"encoding/json"
	"regexp"

	"github.com/bturcanu/opentoolbox/pkg/types"
)

// Connector is an adapter exposing one or more named operations.
type Connector interface {
	// Name is the vendor prefix, e.g. "stripe".
	Name() string
	Operations() []Operation
}

// Kind is the failure convention of an operation.
type Kind string

const (
	KindList     Kind = "list"
	KindSentinel Kind = "sentinel"
	KindRecord   Kind = "record"
)

// Operation is one callable tool. Build it with ListOp, SentinelOp or
// RecordOp so Invoke honours the failure convention.
type Operation struct {
	Name        string
	Description string
	// Action is the phrase used in sentinel strings, e.g. "creating refund".
	Action   string
	Params   []Param
	ReadOnly bool
	Kind     Kind
	Invoke   func(ctx context.Context, params json.RawMessage) types.Result

	fail func(msg string) any
}

// Fallback returns the value Output carries when the operation fails with msg.
func (o Operation) Fallback(msg string) any {
	if msg == "" {
		msg = types.UnknownError
	}
	if o.fail != nil {
		return o.fail(msg)
	}
	switch o.Kind {
	case KindList:
		return []any{}
	case KindRecord:
		return map[string]any{"success": false, "error": msg}
	default:
		return Sentinel(o.Action, msg)
	}
}

var operationNamePattern = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

// ValidName reports whether name is usable as a tool identifier.
func ValidName(name string) bool {
	return operationNamePattern.MatchString(name)
}

// ──────────────────────────────────────────────────────────────────────────────
// Wire types between gateway and remote connectors
// ──────────────────────────────────────────────────────────────────────────────

// ExecRequest is the payload sent from the gateway to a connector.
type ExecRequest struct {
	EventID  string          `json:"event_id"`
	TenantID string          `json:"tenant_id"`
	AgentID  string          `json:"agent_id"`
	Tool     string          `json:"tool"`
	Params   json.RawMessage `json:"params"`
}

// ExecResponse is what the connector returns.
type ExecResponse struct {
	Status     types.Status    `json:"status"` // "success" | "error"
	OutputJSON json.RawMessage `json:"output_json,omitempty"`
	Error      string          `json:"error,omitempty"`
}

// ResponseFromResult converts a Result to its wire form.
func ResponseFromResult(r types.Result) ExecResponse {
	return ExecResponse{Status: r.Status, OutputJSON: r.OutputJSON(), Error: r.Error}
}
