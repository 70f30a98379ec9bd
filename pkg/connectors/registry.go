package connectors

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/bturcanu/opentoolbox/pkg/types"
)

const maxRemoteResponseBytes = 4 << 20

var (
	// ErrDuplicateOperation is returned by Register when an operation name is
	// already taken.
	ErrDuplicateOperation = errors.New("operation already registered")
	// ErrUnknownTool is returned by Exec when no local operation or remote
	// connector serves the tool.
	ErrUnknownTool = errors.New("unknown tool")
)

type entry struct {
	connector string
	op        Operation
}

// Registry maps tool names to local operations and tool prefixes to remote
// connector base URLs.
type Registry struct {
	mu            sync.RWMutex
	ops           map[string]entry
	remotes       map[string]string // prefix → base URL
	httpClient    *http.Client
	internalToken string
	log           *slog.Logger
	invocations   metric.Int64Counter
}

// NewRegistry creates an empty registry. A nil logger uses slog.Default().
func NewRegistry(log *slog.Logger) *Registry {
	if log == nil {
		log = slog.Default()
	}
	counter, _ := otel.Meter("github.com/bturcanu/opentoolbox/pkg/connectors").Int64Counter(
		"toolbox.tool.invocations",
		metric.WithDescription("Tool invocations by tool and status"))
	return &Registry{
		ops:     make(map[string]entry),
		remotes: make(map[string]string),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		log:         log,
		invocations: counter,
	}
}

// Register adds every operation of c. Nothing is added if any name is
// invalid or already registered.
func (r *Registry) Register(c Connector) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	ops := c.Operations()
	seen := make(map[string]bool, len(ops))
	for _, op := range ops {
		if !ValidName(op.Name) {
			return fmt.Errorf("connectors.Register %s: invalid operation name %q", c.Name(), op.Name)
		}
		if op.Invoke == nil {
			return fmt.Errorf("connectors.Register %s: operation %q has no Invoke", c.Name(), op.Name)
		}
		if _, dup := r.ops[op.Name]; dup || seen[op.Name] {
			return fmt.Errorf("connectors.Register %s: %w: %s", c.Name(), ErrDuplicateOperation, op.Name)
		}
		seen[op.Name] = true
	}
	for _, op := range ops {
		r.ops[op.Name] = entry{connector: c.Name(), op: op}
	}
	return nil
}

// RegisterRemote routes every tool named "<prefix>_..." that has no local
// operation to the connector service at baseURL. The longest matching
// prefix wins.
func (r *Registry) RegisterRemote(prefix, baseURL string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.remotes[prefix] = strings.TrimRight(baseURL, "/")
}

// SetTimeout overrides the default HTTP client timeout for remote calls.
func (r *Registry) SetTimeout(d time.Duration) {
	r.httpClient.Timeout = d
}

// SetInternalToken sets the X-Internal-Token sent to remote connectors.
func (r *Registry) SetInternalToken(token string) {
	r.internalToken = token
}

// Lookup returns the local operation registered under name.
func (r *Registry) Lookup(name string) (Operation, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.ops[name]
	return e.op, ok
}

// Has reports whether name is served locally or by a remote connector.
func (r *Registry) Has(name string) bool {
	if _, ok := r.Lookup(name); ok {
		return true
	}
	_, ok := r.remoteFor(name)
	return ok
}

// Tools describes every local operation, sorted by name.
func (r *Registry) Tools() []ToolInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]ToolInfo, 0, len(r.ops))
	for name, e := range r.ops {
		out = append(out, ToolInfo{
			Name:        name,
			Connector:   e.connector,
			Description: e.op.Description,
			ReadOnly:    e.op.ReadOnly,
			Kind:        e.op.Kind,
			InputSchema: Schema(e.op.Params),
		})
	}
	sortTools(out)
	return out
}

// Invoke runs a local operation. It never returns a Go error: unknown tools
// and panics are reported as failed Results.
func (r *Registry) Invoke(ctx context.Context, name string, params json.RawMessage) types.Result {
	e, ok := r.lookupEntry(name)
	if !ok {
		return types.Fail(nil, fmt.Sprintf("%s: %s", ErrUnknownTool, name))
	}
	return r.invoke(ctx, e, params)
}

// Exec routes req to the local operation or, failing that, to the remote
// connector registered for its prefix. The returned error is non-nil only
// when the tool is unknown or the remote connector could not be reached.
func (r *Registry) Exec(ctx context.Context, req ExecRequest) (ExecResponse, error) {
	if e, ok := r.lookupEntry(req.Tool); ok {
		ctx = WithCaller(ctx, Caller{TenantID: req.TenantID, AgentID: req.AgentID, EventID: req.EventID})
		return ResponseFromResult(r.invoke(ctx, e, req.Params)), nil
	}
	baseURL, ok := r.remoteFor(req.Tool)
	if !ok {
		return ExecResponse{}, fmt.Errorf("%w: %s", ErrUnknownTool, req.Tool)
	}
	return r.forward(ctx, baseURL, req)
}

func (r *Registry) lookupEntry(name string) (entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.ops[name]
	return e, ok
}

func (r *Registry) remoteFor(tool string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	best, url := "", ""
	for prefix, u := range r.remotes {
		if strings.HasPrefix(tool, prefix+"_") && len(prefix) > len(best) {
			best, url = prefix, u
		}
	}
	return url, best != ""
}

func (r *Registry) invoke(ctx context.Context, e entry, params json.RawMessage) (res types.Result) {
	start := time.Now()
	defer func() {
		if p := recover(); p != nil {
			msg := fmt.Sprintf("panic: %v", p)
			r.log.Error("tool panicked", "tool", e.op.Name, "panic", p)
			res = types.Fail(e.op.Fallback(msg), msg)
		}
		if r.invocations != nil {
			r.invocations.Add(ctx, 1, metric.WithAttributes(
				attribute.String("tool", e.op.Name),
				attribute.String("status", string(res.Status)),
			))
		}
		durationMS := time.Since(start).Milliseconds()
		if res.OK() {
			r.log.Info("tool invoked", "tool", e.op.Name, "status", res.Status, "duration_ms", durationMS)
		} else {
			r.log.Warn("tool failed", "tool", e.op.Name, "status", res.Status, "duration_ms", durationMS, "error", res.Error)
		}
	}()
	return e.op.Invoke(ctx, params)
}

func (r *Registry) forward(ctx context.Context, baseURL string, req ExecRequest) (ExecResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return ExecResponse{}, fmt.Errorf("connector marshal: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/exec", bytes.NewReader(body))
	if err != nil {
		return ExecResponse{}, fmt.Errorf("connector new request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if r.internalToken != "" {
		httpReq.Header.Set("X-Internal-Token", r.internalToken)
	}

	resp, err := r.httpClient.Do(httpReq)
	if err != nil {
		return ExecResponse{}, fmt.Errorf("connector request to %s: %w", req.Tool, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxRemoteResponseBytes))
	if err != nil {
		return ExecResponse{}, fmt.Errorf("connector read response: %w", err)
	}
	if resp.StatusCode == http.StatusNotFound {
		return ExecResponse{}, fmt.Errorf("%w: %s", ErrUnknownTool, req.Tool)
	}

	var execResp ExecResponse
	if err := json.Unmarshal(respBody, &execResp); err != nil {
		return ExecResponse{}, fmt.Errorf("connector decode response (status %d): %w", resp.StatusCode, err)
	}
	return execResp, nil
}
