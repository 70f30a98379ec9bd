// Package connectortest provides the contract every connector operation is
// held to, for use from connector package tests.
package connectortest

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bturcanu/opentoolbox/pkg/connectors"
	"github.com/bturcanu/opentoolbox/pkg/types"
)

// RunOperationContract checks the static shape of every operation of c,
// that malformed or empty params fail through the operation's fallback
// without panicking, and that read-only operations give the same result
// when called twice. Build c against a failing upstream (see DeadURL) so
// operations without required params also exercise the failure path.
func RunOperationContract(t *testing.T, c connectors.Connector) {
	t.Helper()

	t.Run("Contract/Name_NonEmpty", func(t *testing.T) {
		assert.NotEmpty(t, c.Name())
	})

	ops := c.Operations()
	t.Run("Contract/Operations_NonEmpty", func(t *testing.T) {
		assert.NotEmpty(t, ops)
	})

	t.Run("Contract/Names_UniqueAndValid", func(t *testing.T) {
		seen := map[string]bool{}
		for _, op := range ops {
			assert.True(t, connectors.ValidName(op.Name), "invalid operation name %q", op.Name)
			assert.False(t, seen[op.Name], "duplicate operation %q", op.Name)
			seen[op.Name] = true
			assert.NotEmpty(t, op.Description, "%s: description", op.Name)
			assert.NotNil(t, op.Invoke, "%s: Invoke", op.Name)
			if op.Kind == connectors.KindSentinel {
				assert.NotEmpty(t, op.Action, "%s: sentinel action", op.Name)
			}
		}
	})

	t.Run("Contract/Schema_Object", func(t *testing.T) {
		for _, op := range ops {
			s := connectors.Schema(op.Params)
			assert.Equal(t, "object", s["type"], op.Name)
			props := s["properties"].(map[string]any)
			for _, p := range op.Params {
				assert.Contains(t, props, p.Name, "%s: param %s", op.Name, p.Name)
				if p.Range != nil {
					assert.LessOrEqual(t, p.Range.Min, p.Range.Max, "%s: %s range", op.Name, p.Name)
				}
			}
		}
	})

	t.Run("Contract/MalformedParams_Fallback", func(t *testing.T) {
		for _, op := range ops {
			res := op.Invoke(context.Background(), json.RawMessage(`[1,2`))
			AssertFallback(t, op, res)
		}
	})

	t.Run("Contract/EmptyParams_NoPanic", func(t *testing.T) {
		for _, op := range ops {
			var res types.Result
			require.NotPanics(t, func() {
				res = op.Invoke(context.Background(), nil)
			}, op.Name)
			if !res.OK() {
				AssertFallback(t, op, res)
			}
		}
	})

	t.Run("Contract/ReadOnly_Idempotent", func(t *testing.T) {
		for _, op := range ops {
			if !op.ReadOnly {
				continue
			}
			first := op.Invoke(context.Background(), nil)
			second := op.Invoke(context.Background(), nil)
			assert.Equal(t, first.Status, second.Status, op.Name)
			assert.Equal(t, first.Error, second.Error, op.Name)
			// Records may carry per-call IDs; lists and sentinels must match.
			if op.Kind != connectors.KindRecord {
				assert.JSONEq(t, string(first.OutputJSON()), string(second.OutputJSON()), op.Name)
			}
		}
	})
}

// AssertFallback asserts res is a failure shaped per the operation's
// convention.
func AssertFallback(t *testing.T, op connectors.Operation, res types.Result) {
	t.Helper()
	require.Equal(t, types.StatusError, res.Status, "%s: expected failure", op.Name)
	assert.NotEmpty(t, res.Error, "%s: error message", op.Name)

	switch op.Kind {
	case connectors.KindList:
		v := reflect.ValueOf(res.Output)
		require.Equal(t, reflect.Slice, v.Kind(), "%s: list fallback must be a slice", op.Name)
		assert.Equal(t, 0, v.Len(), "%s: list fallback must be empty", op.Name)
		assert.False(t, v.IsNil(), "%s: list fallback must marshal as []", op.Name)
	case connectors.KindSentinel:
		s, ok := res.Output.(string)
		require.True(t, ok, "%s: sentinel fallback must be a string", op.Name)
		assert.True(t, strings.HasPrefix(s, "Error "+op.Action+": "), "%s: got %q", op.Name, s)
	case connectors.KindRecord:
		var rec map[string]any
		require.NoError(t, json.Unmarshal(res.OutputJSON(), &rec), op.Name)
		assert.Equal(t, false, rec["success"], "%s: record success flag", op.Name)
		assert.NotEmpty(t, rec["error"], "%s: record error", op.Name)
	default:
		t.Errorf("%s: unknown kind %q", op.Name, op.Kind)
	}
}

// DeadURL returns the URL of a server that has already been closed, so every
// request to it fails at the transport level.
func DeadURL(t *testing.T) string {
	t.Helper()
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()
	return url
}

// Params marshals v for Invoke, failing the test on error.
func Params(t *testing.T, v any) json.RawMessage {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return b
}

// Op returns the named operation of c or fails the test.
func Op(t *testing.T, c connectors.Connector, name string) connectors.Operation {
	t.Helper()
	for _, o := range c.Operations() {
		if o.Name == name {
			return o
		}
	}
	t.Fatalf("operation %s not found", name)
	return connectors.Operation{}
}

// Invoke runs the named operation with params marshalled to JSON.
func Invoke(t *testing.T, c connectors.Connector, name string, params any) types.Result {
	t.Helper()
	var raw json.RawMessage
	if params != nil {
		raw = Params(t, params)
	}
	return Op(t, c, name).Invoke(context.Background(), raw)
}
