package types

import "encoding/json"

// Status discriminates a Result.
type Status string

const (
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

// UnknownError is substituted whenever an upstream failure carries no message.
const UnknownError = "Unknown error"

// Result is the value every tool operation returns. Operations never return
// Go errors: failures are represented as Status "error" with Output set to the
// operation's fallback value (an empty list, a sentinel string, or a record
// whose success flag is false).
type Result struct {
	Status Status `json:"status"`
	Output any    `json:"output"`
	Error  string `json:"error,omitempty"`
}

// Ok wraps a successful output.
func Ok(v any) Result {
	return Result{Status: StatusSuccess, Output: v}
}

// Fail wraps a failure. fallback is what callers reading only Output will see.
func Fail(fallback any, msg string) Result {
	if msg == "" {
		msg = UnknownError
	}
	return Result{Status: StatusError, Output: fallback, Error: msg}
}

// OK reports whether the result is a success.
func (r Result) OK() bool {
	return r.Status == StatusSuccess
}

// OutputJSON marshals Output. A value that cannot be marshalled yields null.
func (r Result) OutputJSON() json.RawMessage {
	b, err := json.Marshal(r.Output)
	if err != nil {
		return json.RawMessage("null")
	}
	return b
}
