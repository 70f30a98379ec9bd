package transport

import (
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/bturcanu/opentoolbox/pkg/types"
)

const maxTextMessage = 512

// Error is an upstream failure recognised by a Classifier.
type Error struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return types.UnknownError
	}
	return e.Message
}

// Classifier inspects a completed response and returns a non-nil error when
// the upstream signalled failure, whatever its envelope looks like.
type Classifier interface {
	Classify(resp *Response) error
}

// ClassifierFunc adapts a function to Classifier.
type ClassifierFunc func(resp *Response) error

func (f ClassifierFunc) Classify(resp *Response) error { return f(resp) }

// StatusClassifier treats any non-2xx status as a failure and extracts the
// message with MessageFromBody.
var StatusClassifier = ClassifierFunc(func(resp *Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	return &Error{StatusCode: resp.StatusCode, Message: MessageFromBody(resp.Body)}
})

// Chain runs classifiers in order and returns the first failure.
func Chain(cs ...Classifier) Classifier {
	return ClassifierFunc(func(resp *Response) error {
		for _, c := range cs {
			if c == nil {
				continue
			}
			if err := c.Classify(resp); err != nil {
				return err
			}
		}
		return nil
	})
}

// BodyObject decodes body as a JSON object. Non-objects yield nil.
func BodyObject(body []byte) map[string]any {
	var m map[string]any
	if err := json.Unmarshal(body, &m); err != nil {
		return nil
	}
	return m
}

// MessageFromBody extracts the most specific error message from the common
// vendor envelopes. Plain-text bodies are returned trimmed. Absent any
// message it returns "Unknown error".
func MessageFromBody(body []byte) string {
	trimmed := strings.TrimSpace(string(body))
	if trimmed == "" {
		return types.UnknownError
	}
	obj := BodyObject(body)
	if obj == nil {
		if json.Valid(body) {
			return types.UnknownError
		}
		return truncate(trimmed)
	}
	if msg := MessageFromObject(obj); msg != "" {
		return msg
	}
	return types.UnknownError
}

// MessageFromObject walks error, errors[0], errorMessages[0], message,
// detail and error_description in that order.
func MessageFromObject(obj map[string]any) string {
	if msg := messageOf(obj["error"]); msg != "" {
		return msg
	}
	for _, key := range []string{"errors", "errorMessages"} {
		if list, ok := obj[key].([]any); ok && len(list) > 0 {
			if msg := messageOf(list[0]); msg != "" {
				return msg
			}
		}
	}
	for _, key := range []string{"message", "detail", "error_description"} {
		if s, ok := obj[key].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

func messageOf(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case map[string]any:
		for _, key := range []string{"message", "detail", "title"} {
			if s, ok := t[key].(string); ok && s != "" {
				return s
			}
		}
	}
	return ""
}

// String reads a string field, defaulting to "".
func String(obj map[string]any, key string) string {
	switch v := obj[key].(type) {
	case string:
		return v
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

func truncate(s string) string {
	if len(s) <= maxTextMessage {
		return s
	}
	cut := maxTextMessage
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
