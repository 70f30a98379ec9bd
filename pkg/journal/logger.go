package journal

import (
	"context"
	"log/slog"

	"github.com/bturcanu/opentoolbox/pkg/types"
)

// Logger wraps a Store and emits a structured log line for every write and
// idempotency hit.
type Logger struct {
	store Store
	log   *slog.Logger
}

// NewLogger creates a journal logger backed by store.
func NewLogger(store Store, log *slog.Logger) *Logger {
	if log == nil {
		log = slog.Default()
	}
	return &Logger{store: store, log: log}
}

// Store returns the wrapped store.
func (l *Logger) Store() Store { return l.store }

// Record persists and logs e.
func (l *Logger) Record(ctx context.Context, e *Entry) error {
	if err := l.store.Record(ctx, e); err != nil {
		l.log.ErrorContext(ctx, "journal record failed",
			"event_id", e.EventID,
			"tenant_id", e.Request.TenantID,
			"error", err,
		)
		return err
	}
	attrs := []any{
		"event_id", e.EventID,
		"seq", e.Seq,
		"tenant_id", e.Request.TenantID,
		"agent_id", e.Request.AgentID,
		"tool", e.Request.Tool,
		"hash", e.Hash,
	}
	if e.Result != nil {
		attrs = append(attrs, "status", string(e.Result.Status), "duration_ms", e.Result.DurationMS)
	}
	l.log.InfoContext(ctx, "tool_call recorded", attrs...)
	return nil
}

// CheckIdempotency delegates to the store.
func (l *Logger) CheckIdempotency(ctx context.Context, tenantID, key string) (*types.ToolCallResponse, error) {
	resp, err := l.store.CheckIdempotency(ctx, tenantID, key)
	if err != nil {
		return nil, err
	}
	if resp != nil {
		l.log.InfoContext(ctx, "idempotency hit",
			"tenant_id", tenantID,
			"idempotency_key", key,
			"event_id", resp.EventID,
		)
	}
	return resp, nil
}

// Get delegates to the store.
func (l *Logger) Get(ctx context.Context, eventID string) (*Entry, error) {
	return l.store.Get(ctx, eventID)
}
