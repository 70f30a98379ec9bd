package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/bturcanu/opentoolbox/pkg/auth"
	"github.com/bturcanu/opentoolbox/pkg/connectors"
	"github.com/bturcanu/opentoolbox/pkg/journal"
	"github.com/bturcanu/opentoolbox/pkg/types"
)

// ──────────────────────────────────────────────────────────────────────────────
// Gateway handler
// ──────────────────────────────────────────────────────────────────────────────

type Gateway struct {
	log        *slog.Logger
	journal    gatewayJournal
	connectors gatewayConnectors
	limiter    *tenantLimiter
}

type gatewayJournal interface {
	Record(context.Context, *journal.Entry) error
	CheckIdempotency(context.Context, string, string) (*types.ToolCallResponse, error)
	Get(context.Context, string) (*journal.Entry, error)
}

type gatewayConnectors interface {
	Exec(context.Context, connectors.ExecRequest) (connectors.ExecResponse, error)
	Has(string) bool
	Tools() []connectors.ToolInfo
}

// HandleToolCall is POST /v1/toolcalls
func (gw *Gateway) HandleToolCall(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	// 1. Parse + validate (with body size limit)
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	var req types.ToolCallRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		types.ErrBadRequest("invalid JSON body").WriteJSON(w)
		return
	}
	// The authenticated tenant always wins over the body.
	principal, authenticated := auth.PrincipalFromContext(ctx)
	if authenticated {
		req.TenantID = principal.TenantID
	}
	if err := req.NormalizeAndValidate(); err != nil {
		types.ErrValidation(err).WriteJSON(w)
		return
	}

	// 2. Tool scope
	if authenticated && !principal.Allows(req.Tool) {
		types.ErrForbidden("API key is not allowed to call " + req.Tool).WriteJSON(w)
		return
	}
	if !gw.connectors.Has(req.Tool) {
		types.ErrUnknownTool(req.Tool).WriteJSON(w)
		return
	}

	// 3. Rate limit
	if !gw.limiter.Allow(req.TenantID) {
		types.ErrRateLimited().WriteJSON(w)
		return
	}

	// 4. Idempotency
	if req.IdempotencyKey != "" {
		prior, err := gw.journal.CheckIdempotency(ctx, req.TenantID, req.IdempotencyKey)
		if err != nil {
			gw.log.ErrorContext(ctx, "idempotency check failed", "error", err)
			types.ErrInternal("failed to validate idempotency").WriteJSON(w)
			return
		}
		if prior != nil {
			writeJSON(ctx, w, gw.log, prior)
			return
		}
	}

	// 5. Execute
	eventID := uuid.NewString()
	result, execErr := gw.execute(ctx, eventID, req)
	if errors.Is(execErr, connectors.ErrUnknownTool) {
		types.ErrUnknownTool(req.Tool).WriteJSON(w)
		return
	}

	// 6. Journal
	entry := &journal.Entry{
		EventID:    eventID,
		Request:    req,
		Result:     result,
		ReceivedAt: time.Now().UTC(),
	}
	if err := gw.journal.Record(ctx, entry); err != nil {
		// A concurrent call with the same key may have won the insert.
		if req.IdempotencyKey != "" {
			if prior, perr := gw.journal.CheckIdempotency(ctx, req.TenantID, req.IdempotencyKey); perr == nil && prior != nil {
				writeJSON(ctx, w, gw.log, prior)
				return
			}
		}
		gw.log.ErrorContext(ctx, "journal record failed", "event_id", eventID, "error", err)
		types.ErrInternal("journal recording failed after execution").WriteJSON(w)
		return
	}

	if execErr != nil {
		if errors.Is(execErr, context.DeadlineExceeded) {
			types.ErrToolTimeout(req.Tool).WriteJSON(w)
			return
		}
		types.ErrToolFailure(req.Tool, execErr.Error()).WriteJSON(w)
		return
	}
	writeJSON(ctx, w, gw.log, types.ToolCallResponse{EventID: eventID, Tool: req.Tool, Result: result})
}

// HandleGetEvent is GET /v1/toolcalls/{event_id}
func (gw *Gateway) HandleGetEvent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	eventID := chi.URLParam(r, "event_id")

	if _, err := uuid.Parse(eventID); err != nil {
		types.ErrBadRequest("invalid event_id format").WriteJSON(w)
		return
	}

	entry, err := gw.journal.Get(ctx, eventID)
	if err != nil {
		gw.log.ErrorContext(ctx, "get event failed", "error", err)
		types.ErrInternal("failed to retrieve event").WriteJSON(w)
		return
	}
	if entry == nil {
		types.ErrNotFound("event not found").WriteJSON(w)
		return
	}
	if tenant := auth.TenantFromContext(ctx); tenant != "" && entry.Request.TenantID != tenant {
		types.ErrNotFound("event not found").WriteJSON(w)
		return
	}
	writeJSON(ctx, w, gw.log, entry)
}

// HandleListTools is GET /v1/tools. Tools outside the caller's scope are
// omitted.
func (gw *Gateway) HandleListTools(w http.ResponseWriter, r *http.Request) {
	principal, scoped := auth.PrincipalFromContext(r.Context())
	tools := make([]connectors.ToolInfo, 0)
	for _, t := range gw.connectors.Tools() {
		if scoped && !principal.Allows(t.Name) {
			continue
		}
		tools = append(tools, t)
	}
	writeJSON(r.Context(), w, gw.log, map[string]any{"tools": tools})
}

// execute runs the call. The returned error is set only when the tool is
// unknown or its remote connector could not be reached; the result then
// carries the same message.
func (gw *Gateway) execute(ctx context.Context, eventID string, req types.ToolCallRequest) (*types.ExecutionResult, error) {
	start := time.Now()
	resp, err := gw.connectors.Exec(ctx, connectors.ExecRequest{
		EventID:  eventID,
		TenantID: req.TenantID,
		AgentID:  req.AgentID,
		Tool:     req.Tool,
		Params:   req.Params,
	})
	duration := time.Since(start).Milliseconds()
	if err != nil {
		return &types.ExecutionResult{Status: types.StatusError, Error: err.Error(), DurationMS: duration}, err
	}
	return &types.ExecutionResult{
		Status:     resp.Status,
		OutputJSON: resp.OutputJSON,
		Error:      resp.Error,
		DurationMS: duration,
	}, nil
}

func writeJSON(ctx context.Context, w http.ResponseWriter, log *slog.Logger, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.ErrorContext(ctx, "response encode failed", "error", err)
	}
}
