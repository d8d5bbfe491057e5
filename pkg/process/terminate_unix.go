//go:build !windows

package process

import (
	"os"

	"golang.org/x/sys/unix"
)

// RequestGracefulStop sends SIGTERM to the process group led by p,
// falling back to the process itself if the group is gone.
func RequestGracefulStop(p *os.Process) error {
	if err := unix.Kill(-p.Pid, unix.SIGTERM); err == nil {
		return nil
	}
	return p.Signal(unix.SIGTERM)
}

// ForceKill sends SIGKILL to the process group and then to the process.
func ForceKill(p *os.Process) error {
	_ = unix.Kill(-p.Pid, unix.SIGKILL)
	if err := p.Kill(); err != nil && err != os.ErrProcessDone {
		return err
	}
	return nil
}
