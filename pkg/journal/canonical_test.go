package journal

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanonicalJSON_SortsKeysAtEveryDepth(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want string
	}{
		{"flat", map[string]any{"z": 1, "a": 2, "m": 3}, `{"a":2,"m":3,"z":1}`},
		{"nested", map[string]any{"b": map[string]any{"y": 2, "x": 1}, "a": "hello"}, `{"a":"hello","b":{"x":1,"y":2}}`},
		{"array of objects", map[string]any{"items": []any{map[string]any{"b": 2, "a": 1}}}, `{"items":[{"a":1,"b":2}]}`},
		{"raw params", map[string]any{"params": json.RawMessage(`{ "q" : "go", "num": 10 }`)}, `{"params":{"num":10,"q":"go"}}`},
		{"large number kept", map[string]any{"n": json.Number("12345678901234567890")}, `{"n":12345678901234567890}`},
		{"escaped key", map[string]any{"<k>": true}, `{"<k>":true}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := CanonicalJSON(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, string(got))
		})
	}
}

func TestCanonicalJSON_InsertionOrderIndependent(t *testing.T) {
	a, err := CanonicalJSON(map[string]any{"x": 1, "y": []int{1, 2}})
	require.NoError(t, err)
	b, err := CanonicalJSON(map[string]any{"y": []int{1, 2}, "x": 1})
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestHashBytes(t *testing.T) {
	assert.Equal(t, "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855", HashBytes(nil))
	assert.Len(t, HashBytes([]byte("x")), 64)
}
