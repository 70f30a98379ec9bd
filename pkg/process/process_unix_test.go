//go:build unix

package process

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecRunner_TimeoutKillsForkedChildren(t *testing.T) {
	cmd := ShellCommand("sleep 6; echo done")
	cmd.Timeout = 500 * time.Millisecond

	start := time.Now()
	out, err := ExecRunner{}.Run(context.Background(), cmd)
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 4*time.Second)
	assert.True(t, out.TimedOut)
	assert.Equal(t, -1, out.ExitCode)
	assert.NotContains(t, out.Stdout, "done")
}

func TestExecRunner_BackgroundedChildDoesNotHoldCall(t *testing.T) {
	start := time.Now()
	out, err := ExecRunner{}.Run(context.Background(), ShellCommand("sleep 6 & echo started"))
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 5*time.Second)
	assert.False(t, out.TimedOut)
	assert.Equal(t, 0, out.ExitCode)
	assert.Equal(t, "started\n", out.Stdout)
}
