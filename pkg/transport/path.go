package transport

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// ErrDotSegment is returned by Client.Do when a request path contains a "."
// or ".." segment, escaped or not.
var ErrDotSegment = errors.New("path segment must not be . or ..")

// PathEscape formats a path template, escaping every argument as a single
// path segment so "/", "?" and dot segments in identifiers cannot change the
// target.
func PathEscape(format string, args ...any) string {
	escaped := make([]any, len(args))
	for i, a := range args {
		escaped[i] = escapeSegment(fmt.Sprint(a))
	}
	return fmt.Sprintf(format, escaped...)
}

// escapeSegment is url.PathEscape plus percent-encoding of a whole "." or
// "..", which url.PathEscape leaves as is.
func escapeSegment(s string) string {
	if s == "." || s == ".." {
		return strings.Repeat("%2E", len(s))
	}
	return url.PathEscape(s)
}

// checkSegments rejects a path that any segment would resolve as "." or
// "..". Servers may decode %2E before normalising, so encoded dots count.
func checkSegments(path string) error {
	for _, seg := range strings.Split(path, "/") {
		if seg == "" {
			continue
		}
		dec, err := url.PathUnescape(seg)
		if err != nil {
			dec = seg
		}
		if dec == "." || dec == ".." {
			return fmt.Errorf("transport.Do %q: %w", seg, ErrDotSegment)
		}
	}
	return nil
}

// JoinSegments escapes each "/"-separated segment of p and drops empty and
// dot segments. Used for hierarchical identifiers such as secret paths.
func JoinSegments(p string) string {
	parts := strings.Split(p, "/")
	out := parts[:0]
	for _, seg := range parts {
		if seg == "" || seg == "." || seg == ".." {
			continue
		}
		out = append(out, url.PathEscape(seg))
	}
	return strings.Join(out, "/")
}
