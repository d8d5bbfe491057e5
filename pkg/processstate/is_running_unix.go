//go:build !windows

package processstate

import (
	"golang.org/x/sys/unix"

	"github.com/core-tools/hsu-devrun/pkg/errors"
)

// IsProcessRunning sends signal 0 to pid. A process owned by another user
// counts as running.
func IsProcessRunning(pid int) (bool, error) {
	if pid <= 0 {
		return false, errors.NewValidationError("invalid PID", nil).WithContext("pid", pid)
	}

	switch err := unix.Kill(pid, 0); err {
	case nil, unix.EPERM:
		return true, nil
	case unix.ESRCH:
		return false, nil
	default:
		return false, errors.NewProcessError("failed to signal process", err).WithContext("pid", pid)
	}
}
