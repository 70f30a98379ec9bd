//go:build unix

package process

import (
	"os/exec"
	"syscall"
)

func killGroupOnCancel(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		// Negative pid signals the group led by the child.
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
}
