//go:build windows

package process

import (
	"os"
	"os/exec"
	"syscall"
)

// setupProcessAttributes starts the child in a new process group so that
// CTRL_BREAK_EVENT can target it without hitting devrun's own console group.
func setupProcessAttributes(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		CreationFlags: syscall.CREATE_NEW_PROCESS_GROUP,
	}
}

func signalOf(state *os.ProcessState) (int, bool) {
	return 0, false
}
