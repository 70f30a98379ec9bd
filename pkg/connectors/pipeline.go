package connectors

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/bturcanu/opentoolbox/pkg/types"
)

// Decode unmarshals raw params into P after checking that every required
// parameter is present and non-empty. Empty raw input decodes as {}.
func Decode[P any](raw json.RawMessage, params []Param) (P, error) {
	var p P
	if len(bytes.TrimSpace(raw)) == 0 {
		raw = json.RawMessage(`{}`)
	}
	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		return p, &types.ValidationError{Field: "params", Reason: "must be a JSON object"}
	}
	for _, param := range params {
		if !param.Required {
			continue
		}
		v, ok := fields[param.Name]
		if s, isString := v.(string); !ok || v == nil || (isString && strings.TrimSpace(s) == "") {
			return p, fmt.Errorf("missing required parameter: %s", param.Name)
		}
	}
	if err := json.Unmarshal(raw, &p); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			return p, fmt.Errorf("invalid parameter %s: expected %s", typeErr.Field, typeErr.Type)
		}
		return p, fmt.Errorf("invalid params: %w", err)
	}
	return p, nil
}

// Message renders err for a failure result. Empty messages become
// "Unknown error".
func Message(err error) string {
	if err == nil {
		return types.UnknownError
	}
	var ve *types.ValidationError
	if errors.As(err, &ve) {
		return fmt.Sprintf("invalid %s: %s", ve.Field, ve.Reason)
	}
	msg := strings.TrimSpace(err.Error())
	if msg == "" {
		return types.UnknownError
	}
	return msg
}

// Sentinel formats the sentinel failure string "Error <action>: <msg>".
func Sentinel(action, msg string) string {
	if msg == "" {
		msg = types.UnknownError
	}
	return "Error " + action + ": " + msg
}

// EmptyList is the list-convention fallback. It marshals as [] not null.
func EmptyList[T any]() []T {
	return []T{}
}

// ListOp completes op as a list operation: any failure yields an empty list.
func ListOp[P, T any](op Operation, fn func(ctx context.Context, p P) ([]T, error)) Operation {
	params := op.Params
	op.Kind = KindList
	op.fail = func(string) any { return EmptyList[T]() }
	op.Invoke = func(ctx context.Context, raw json.RawMessage) types.Result {
		p, err := Decode[P](raw, params)
		if err != nil {
			return types.Fail(EmptyList[T](), Message(err))
		}
		items, err := fn(ctx, p)
		if err != nil {
			return types.Fail(EmptyList[T](), Message(err))
		}
		if items == nil {
			items = EmptyList[T]()
		}
		return types.Ok(items)
	}
	return op
}

// SentinelOp completes op as a single-resource operation: any failure yields
// the string "Error <op.Action>: <message>".
func SentinelOp[P any, R any](op Operation, fn func(ctx context.Context, p P) (R, error)) Operation {
	params, action := op.Params, op.Action
	op.Kind = KindSentinel
	op.fail = func(msg string) any { return Sentinel(action, msg) }
	op.Invoke = func(ctx context.Context, raw json.RawMessage) types.Result {
		p, err := Decode[P](raw, params)
		if err != nil {
			msg := Message(err)
			return types.Fail(Sentinel(action, msg), msg)
		}
		out, err := fn(ctx, p)
		if err != nil {
			msg := Message(err)
			return types.Fail(Sentinel(action, msg), msg)
		}
		return types.Ok(out)
	}
	return op
}

// RecordOp completes op as a record operation: any failure yields
// onFail(message), a record with success=false and every field defaulted.
func RecordOp[P, R any](op Operation, fn func(ctx context.Context, p P) (R, error), onFail func(msg string) R) Operation {
	params := op.Params
	op.Kind = KindRecord
	op.fail = func(msg string) any { return onFail(msg) }
	op.Invoke = func(ctx context.Context, raw json.RawMessage) types.Result {
		p, err := Decode[P](raw, params)
		if err != nil {
			msg := Message(err)
			return types.Fail(onFail(msg), msg)
		}
		out, err := fn(ctx, p)
		if err != nil {
			msg := Message(err)
			return types.Fail(onFail(msg), msg)
		}
		return types.Ok(out)
	}
	return op
}
