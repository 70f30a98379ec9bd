package shell

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bturcanu/opentoolbox/pkg/connectors"
	"github.com/bturcanu/opentoolbox/pkg/connectors/connectortest"
	"github.com/bturcanu/opentoolbox/pkg/process"
)

func newTestConnector(t *testing.T, fake *process.Fake, confirmer Confirmer) *Connector {
	t.Helper()
	c, err := New(Config{Runner: fake, Confirmer: confirmer, WorkingDir: "/srv"})
	require.NoError(t, err)
	return c
}

func TestContract(t *testing.T) {
	connectortest.RunOperationContract(t, newTestConnector(t, &process.Fake{}, DenyAll))
}

func TestExecute_Stdout(t *testing.T) {
	fake := &process.Fake{Handler: func(cmd process.Command) (process.Output, error) {
		return process.Output{Stdout: "hello\n"}, nil
	}}
	c := newTestConnector(t, fake, AllowAll)

	res := connectortest.Invoke(t, c, "shell_execute", map[string]string{"command": "echo hello"})
	require.True(t, res.OK(), res.Error)
	assert.Equal(t, "hello\n", res.Output)

	calls := fake.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, []string{"-c", "echo hello"}, calls[0].Args)
	assert.Equal(t, "/srv", calls[0].Dir)
	assert.Equal(t, 60*time.Second, calls[0].Timeout)
}

func TestExecute_StderrAndExitCode(t *testing.T) {
	fake := &process.Fake{Handler: func(process.Command) (process.Output, error) {
		return process.Output{Stderr: "boom\n", ExitCode: 2}, nil
	}}
	res := connectortest.Invoke(t, newTestConnector(t, fake, AllowAll), "shell_execute", map[string]string{"command": "false"})
	require.True(t, res.OK(), res.Error)
	assert.Equal(t, "STDERR:\nboom\n\nExit code: 2", res.Output)
}

func TestExecute_NoOutput(t *testing.T) {
	res := connectortest.Invoke(t, newTestConnector(t, &process.Fake{}, AllowAll), "shell_execute", map[string]string{"command": "true"})
	assert.Equal(t, "(no output)", res.Output)
}

func TestExecute_Truncates(t *testing.T) {
	fake := &process.Fake{Handler: func(process.Command) (process.Output, error) {
		return process.Output{Stdout: strings.Repeat("x", maxOutputChars+5)}, nil
	}}
	res := connectortest.Invoke(t, newTestConnector(t, fake, AllowAll), "shell_execute", map[string]string{"command": "yes"})
	assert.True(t, strings.HasSuffix(res.Output.(string), "(truncated, 5 more chars)"))
}

func TestExecute_TruncatesOnRuneBoundary(t *testing.T) {
	fake := &process.Fake{Handler: func(process.Command) (process.Output, error) {
		return process.Output{Stdout: strings.Repeat("x", maxOutputChars-1) + "é tail"}, nil
	}}
	res := connectortest.Invoke(t, newTestConnector(t, fake, AllowAll), "shell_execute", map[string]string{"command": "cat"})
	out := res.Output.(string)
	assert.True(t, utf8.ValidString(out))
	assert.True(t, strings.HasPrefix(out, strings.Repeat("x", maxOutputChars-1)+"\n... (truncated"), out[maxOutputChars-5:])
}

func TestExecute_TimeoutClampedAndReported(t *testing.T) {
	fake := &process.Fake{Handler: func(cmd process.Command) (process.Output, error) {
		assert.Equal(t, 600*time.Second, cmd.Timeout)
		return process.Output{TimedOut: true}, nil
	}}
	res := connectortest.Invoke(t, newTestConnector(t, fake, AllowAll), "shell_execute", map[string]any{"command": "sleep 9999", "timeout": 9999})
	assert.Equal(t, "Error executing command: command timed out after 10m0s", res.Output)
}

func TestExecute_Rejected(t *testing.T) {
	fake := &process.Fake{}
	res := connectortest.Invoke(t, newTestConnector(t, fake, DenyAll), "shell_execute", map[string]string{"command": "ls"})
	assert.Equal(t, "Error executing command: command rejected by confirmer", res.Output)
	assert.Empty(t, fake.Calls())
}

func TestExecute_ConfirmerSeesCaller(t *testing.T) {
	var seen ConfirmRequest
	confirm := ConfirmFunc(func(_ context.Context, req ConfirmRequest) (bool, error) {
		seen = req
		return true, nil
	})
	c := newTestConnector(t, &process.Fake{}, confirm)
	ctx := connectors.WithCaller(context.Background(), connectors.Caller{TenantID: "acme"})
	connectortest.Op(t, c, "shell_execute").Invoke(ctx, connectortest.Params(t, map[string]string{"command": "ls", "working_dir": "/tmp"}))
	assert.Equal(t, ConfirmRequest{Command: "ls", Dir: "/tmp", TenantID: "acme"}, seen)
}

func TestExecute_ConfirmerError(t *testing.T) {
	confirm := ConfirmFunc(func(context.Context, ConfirmRequest) (bool, error) { return true, errors.New("opa down") })
	res := connectortest.Invoke(t, newTestConnector(t, &process.Fake{}, confirm), "shell_execute", map[string]string{"command": "ls"})
	assert.Equal(t, "Error executing command: command rejected by confirmer: opa down", res.Output)
}

func TestExecute_DenyPatterns(t *testing.T) {
	fake := &process.Fake{}
	c := newTestConnector(t, fake, AllowAll)
	for _, cmd := range []string{"rm -rf /", "sudo shutdown now", "dd if=/dev/zero of=/dev/sda"} {
		res := connectortest.Invoke(t, c, "shell_execute", map[string]string{"command": cmd})
		assert.Contains(t, res.Output, "blocked by safety guard", cmd)
	}
	assert.Empty(t, fake.Calls())
}

func TestExecute_AllowList(t *testing.T) {
	c, err := New(Config{Runner: &process.Fake{}, Confirmer: AllowAll, AllowPatterns: []string{`^git\b`}})
	require.NoError(t, err)
	res := connectortest.Invoke(t, c, "shell_execute", map[string]string{"command": "curl example.com"})
	assert.Contains(t, res.Output, "not in allowlist")
	res = connectortest.Invoke(t, c, "shell_execute", map[string]string{"command": "git status"})
	assert.True(t, res.OK())
}

func TestExecute_RunnerStartFailure(t *testing.T) {
	fake := &process.Fake{Handler: func(process.Command) (process.Output, error) {
		return process.Output{}, errors.New("exec: \"sh\": executable file not found in $PATH")
	}}
	res := connectortest.Invoke(t, newTestConnector(t, fake, AllowAll), "shell_execute", map[string]string{"command": "ls"})
	assert.True(t, strings.HasPrefix(res.Output.(string), "Error executing command: exec:"))
}

func TestNew_InvalidPattern(t *testing.T) {
	_, err := New(Config{DenyPatterns: []string{"("}})
	assert.Error(t, err)
}
