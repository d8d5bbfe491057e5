//go:build darwin

package processstate

import (
	"time"

	"golang.org/x/sys/unix"

	"github.com/core-tools/hsu-devrun/pkg/errors"
)

// StartTime returns when pid was started.
func StartTime(pid int) (time.Time, error) {
	if pid <= 0 {
		return time.Time{}, errors.NewValidationError("invalid PID", nil).WithContext("pid", pid)
	}

	info, err := unix.SysctlKinfoProc("kern.proc.pid", pid)
	if err != nil {
		return time.Time{}, errors.NewProcessError("failed to query process", err).WithContext("pid", pid)
	}
	if int(info.Proc.P_pid) != pid {
		return time.Time{}, errors.NewNotFoundError("process not found", nil).WithContext("pid", pid)
	}
	return time.Unix(info.Proc.P_starttime.Unix()), nil
}
