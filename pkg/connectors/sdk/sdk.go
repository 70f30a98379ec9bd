// Package sdk serves a connector registry over HTTP so a gateway can route
// tool calls to it with Registry.RegisterRemote.
package sdk

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/bturcanu/opentoolbox/pkg/connectors"
)

const maxBodyBytes = 1 << 20

type Executor interface {
	Exec(context.Context, connectors.ExecRequest) (connectors.ExecResponse, error)
}

type Lister interface {
	Tools() []connectors.ToolInfo
}

type Config struct {
	InternalToken string
	Logger        *slog.Logger
	// Timeout bounds a single execution; defaults to 15s.
	Timeout time.Duration
}

// Handler serves POST /exec.
func Handler(executor Executor, cfg Config) http.HandlerFunc {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return func(w http.ResponseWriter, r *http.Request) {
		if cfg.InternalToken != "" && r.Header.Get("X-Internal-Token") != cfg.InternalToken {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
		var req connectors.ExecRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid body", http.StatusBadRequest)
			return
		}
		ctx, cancel := context.WithTimeout(r.Context(), timeout)
		defer cancel()

		resp, err := executor.Exec(ctx, req)
		status := http.StatusOK
		if err != nil {
			resp = connectors.ExecResponse{Status: "error", Error: err.Error()}
			status = http.StatusBadGateway
			if errors.Is(err, connectors.ErrUnknownTool) {
				status = http.StatusNotFound
			}
			log.Warn("exec failed", "tool", req.Tool, "event_id", req.EventID, "error", err)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		if err := json.NewEncoder(w).Encode(resp); err != nil {
			log.Error("encode response failed", "error", err)
		}
	}
}

// ToolsHandler serves GET /tools with the schema of every operation.
func ToolsHandler(l Lister) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"tools": l.Tools()})
	}
}
