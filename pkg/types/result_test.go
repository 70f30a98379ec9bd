package types

import "testing"

func TestFail_EmptyMessageBecomesUnknown(t *testing.T) {
	r := Fail([]string{}, "")
	if r.Error != UnknownError {
		t.Errorf("expected %q, got %q", UnknownError, r.Error)
	}
	if r.OK() {
		t.Error("expected failure")
	}
}

func TestResult_OutputJSON(t *testing.T) {
	r := Ok(map[string]int{"n": 1})
	if got := string(r.OutputJSON()); got != `{"n":1}` {
		t.Errorf("unexpected output json %s", got)
	}
	bad := Ok(func() {})
	if got := string(bad.OutputJSON()); got != "null" {
		t.Errorf("expected null for unmarshalable output, got %s", got)
	}
}
