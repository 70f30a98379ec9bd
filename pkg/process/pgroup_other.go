//go:build !unix

package process

import "os/exec"

// killGroupOnCancel keeps the exec.CommandContext default of killing only
// the direct child; WaitDelay still bounds the wait on its pipes.
func killGroupOnCancel(*exec.Cmd) {}
