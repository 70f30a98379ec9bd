package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bturcanu/opentoolbox/pkg/auth"
	"github.com/bturcanu/opentoolbox/pkg/connectors"
	"github.com/bturcanu/opentoolbox/pkg/journal"
	"github.com/bturcanu/opentoolbox/pkg/types"
)

type stubConnector struct {
	ops []connectors.Operation
}

func (stubConnector) Name() string                         { return "echo" }
func (s stubConnector) Operations() []connectors.Operation { return s.ops }

type echoParams struct {
	Text string `json:"text"`
}

func newEchoConnector(calls *atomic.Int64) stubConnector {
	return stubConnector{ops: []connectors.Operation{
		connectors.SentinelOp(connectors.Operation{
			Name:   "echo_say",
			Action: "echoing",
			Params: []connectors.Param{{Name: "text", Type: connectors.TypeString, Required: true}},
		}, func(_ context.Context, p echoParams) (string, error) {
			calls.Add(1)
			return p.Text, nil
		}),
		connectors.ListOp(connectors.Operation{Name: "echo_broken"},
			func(context.Context, struct{}) ([]string, error) {
				return nil, errors.New("upstream said no")
			}),
	}}
}

type testEnv struct {
	handler http.Handler
	store   *journal.SQLiteStore
	calls   *atomic.Int64
}

func newTestEnv(t *testing.T, ratePerSec int) *testEnv {
	t.Helper()
	store, err := journal.OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	log := slog.New(slog.NewJSONHandler(&bytes.Buffer{}, nil))
	calls := &atomic.Int64{}
	reg := connectors.NewRegistry(log)
	require.NoError(t, reg.Register(newEchoConnector(calls)))

	dead := httptest.NewServer(http.NotFoundHandler())
	deadURL := dead.URL
	dead.Close()
	reg.RegisterRemote("remote", deadURL)

	gw := &Gateway{
		log:        log,
		journal:    journal.NewLogger(store, log),
		connectors: reg,
		limiter:    newTenantLimiter(ratePerSec, 0),
	}
	keys := auth.NewKeyStore("acme:sk-acme,globex:sk-globex:remote_*")
	return &testEnv{handler: gw.Routes(keys, store.Ping), store: store, calls: calls}
}

func (e *testEnv) do(t *testing.T, method, path, key string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if key != "" {
		req.Header.Set("X-API-Key", key)
	}
	rr := httptest.NewRecorder()
	e.handler.ServeHTTP(rr, req)
	return rr
}

func call(tool string, params string) map[string]any {
	return map[string]any{"tenant_id": "spoofed", "agent_id": "agent-1", "tool": tool, "params": json.RawMessage(params)}
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &v))
	return v
}

func TestToolCall_ExecutesAndJournals(t *testing.T) {
	env := newTestEnv(t, 100)

	rr := env.do(t, http.MethodPost, "/v1/toolcalls", "sk-acme", call("echo_say", `{"text":"hi"}`))
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	resp := decode[types.ToolCallResponse](t, rr)
	require.NotNil(t, resp.Result)
	assert.Equal(t, types.StatusSuccess, resp.Result.Status)
	assert.JSONEq(t, `"hi"`, string(resp.Result.OutputJSON))

	entry, err := env.store.Get(context.Background(), resp.EventID)
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, "acme", entry.Request.TenantID, "tenant comes from the API key")
	assert.NotEmpty(t, entry.Hash)

	rr = env.do(t, http.MethodGet, "/v1/toolcalls/"+resp.EventID, "sk-acme", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	got := decode[journal.Entry](t, rr)
	assert.Equal(t, entry.Hash, got.Hash)

	rr = env.do(t, http.MethodGet, "/v1/toolcalls/"+resp.EventID, "sk-globex", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code, "other tenants cannot read the entry")
}

func TestToolCall_FailedOperationIsRecorded(t *testing.T) {
	env := newTestEnv(t, 100)

	rr := env.do(t, http.MethodPost, "/v1/toolcalls", "sk-acme", call("echo_broken", `{}`))
	require.Equal(t, http.StatusOK, rr.Code)
	resp := decode[types.ToolCallResponse](t, rr)
	assert.Equal(t, types.StatusError, resp.Result.Status)
	assert.Equal(t, "upstream said no", resp.Result.Error)
	assert.JSONEq(t, `[]`, string(resp.Result.OutputJSON))

	entry, err := env.store.Get(context.Background(), resp.EventID)
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, types.StatusError, entry.Result.Status)
}

func TestToolCall_IdempotentReplay(t *testing.T) {
	env := newTestEnv(t, 100)
	body := call("echo_say", `{"text":"once"}`)
	body["idempotency_key"] = "k-1"

	first := decode[types.ToolCallResponse](t, env.do(t, http.MethodPost, "/v1/toolcalls", "sk-acme", body))
	second := decode[types.ToolCallResponse](t, env.do(t, http.MethodPost, "/v1/toolcalls", "sk-acme", body))

	assert.Equal(t, first.EventID, second.EventID)
	assert.True(t, second.Replay)
	assert.Equal(t, int64(1), env.calls.Load())
}

func TestToolCall_ConcurrentSameKeyJournalsOnce(t *testing.T) {
	env := newTestEnv(t, 1000)
	body := call("echo_say", `{"text":"race"}`)
	body["idempotency_key"] = "k-race"

	var wg sync.WaitGroup
	ids := make([]string, 5)
	for i := range ids {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rr := env.do(t, http.MethodPost, "/v1/toolcalls", "sk-acme", body)
			if rr.Code == http.StatusOK {
				ids[i] = decode[types.ToolCallResponse](t, rr).EventID
			}
		}()
	}
	wg.Wait()

	events, err := env.store.ChainEntries(context.Background(), "acme", 0)
	require.NoError(t, err)
	assert.Len(t, events, 1)
	for _, id := range ids {
		assert.Equal(t, events[0].EventID, id)
	}
}

func TestToolCall_Rejections(t *testing.T) {
	env := newTestEnv(t, 100)

	tests := []struct {
		name string
		key  string
		body any
		want int
	}{
		{"no key", "", call("echo_say", `{"text":"x"}`), http.StatusUnauthorized},
		{"invalid json", "sk-acme", "not an object", http.StatusBadRequest},
		{"bad tool name", "sk-acme", call("Echo-Say!", `{}`), http.StatusUnprocessableEntity},
		{"unknown tool", "sk-acme", call("fax_send", `{}`), http.StatusNotFound},
		{"out of scope", "sk-globex", call("echo_say", `{"text":"x"}`), http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := env.do(t, http.MethodPost, "/v1/toolcalls", tt.key, tt.body)
			assert.Equal(t, tt.want, rr.Code, rr.Body.String())
		})
	}
	assert.Equal(t, int64(0), env.calls.Load())
}

func TestToolCall_RemoteUnreachable(t *testing.T) {
	env := newTestEnv(t, 100)

	rr := env.do(t, http.MethodPost, "/v1/toolcalls", "sk-globex", call("remote_ping", `{}`))
	assert.Equal(t, http.StatusBadGateway, rr.Code)
	apiErr := decode[types.APIError](t, rr)
	assert.Equal(t, "TOOL_ERROR", apiErr.Code)

	events, err := env.store.ChainEntries(context.Background(), "globex", 0)
	require.NoError(t, err)
	assert.Len(t, events, 1, "the failed attempt is journaled")
}

func TestToolCall_RateLimited(t *testing.T) {
	env := newTestEnv(t, 1)

	codes := map[int]int{}
	for range 4 {
		codes[env.do(t, http.MethodPost, "/v1/toolcalls", "sk-acme", call("echo_say", `{"text":"x"}`)).Code]++
	}
	assert.Equal(t, 2, codes[http.StatusOK])
	assert.Equal(t, 2, codes[http.StatusTooManyRequests])
}

func TestListTools_FilteredByScope(t *testing.T) {
	env := newTestEnv(t, 100)

	all := decode[struct {
		Tools []connectors.ToolInfo `json:"tools"`
	}](t, env.do(t, http.MethodGet, "/v1/tools", "sk-acme", nil))
	assert.Len(t, all.Tools, 2)

	scoped := decode[struct {
		Tools []connectors.ToolInfo `json:"tools"`
	}](t, env.do(t, http.MethodGet, "/v1/tools", "sk-globex", nil))
	assert.Empty(t, scoped.Tools)
}

func TestHealthAndReady(t *testing.T) {
	env := newTestEnv(t, 100)
	assert.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/healthz", "", nil).Code)
	assert.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/readyz", "", nil).Code)

	env.store.Close()
	assert.Equal(t, http.StatusServiceUnavailable, env.do(t, http.MethodGet, "/readyz", "", nil).Code)
}

func TestGetEvent_InvalidID(t *testing.T) {
	env := newTestEnv(t, 100)
	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodGet, "/v1/toolcalls/not-a-uuid", "sk-acme", nil).Code)
}

func TestTenantLimiter_EvictsLeastRecentlyUsed(t *testing.T) {
	l := newTenantLimiterSize(1, 1, 2)
	assert.True(t, l.Allow("a"))
	assert.True(t, l.Allow("b"))
	assert.False(t, l.Allow("a"))
	assert.True(t, l.Allow("c"), "evicts b")
	assert.Equal(t, 2, l.cache.Len())
	_, ok := l.cache.Get("a")
	assert.True(t, ok)
	_, ok = l.cache.Get("b")
	assert.False(t, ok)
	assert.True(t, l.Allow("b"), "evicted tenant starts with a fresh bucket")

	assert.True(t, newTenantLimiter(0, 0).Allow("x"), "zero rate disables limiting")
}
