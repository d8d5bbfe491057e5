//go:build windows

package processstate

import (
	"time"

	"golang.org/x/sys/windows"

	"github.com/core-tools/hsu-devrun/pkg/errors"
)

// StartTime returns the creation time of pid.
func StartTime(pid int) (time.Time, error) {
	if pid <= 0 {
		return time.Time{}, errors.NewValidationError("invalid PID", nil).WithContext("pid", pid)
	}

	handle, err := windows.OpenProcess(windows.PROCESS_QUERY_LIMITED_INFORMATION, false, uint32(pid))
	if err != nil {
		if err == windows.ERROR_INVALID_PARAMETER {
			return time.Time{}, errors.NewNotFoundError("process not found", err).WithContext("pid", pid)
		}
		return time.Time{}, errors.NewProcessError("failed to open process", err).WithContext("pid", pid)
	}
	defer windows.CloseHandle(handle)

	var creation, exit, kernel, user windows.Filetime
	if err := windows.GetProcessTimes(handle, &creation, &exit, &kernel, &user); err != nil {
		return time.Time{}, errors.NewProcessError("failed to query process times", err).WithContext("pid", pid)
	}
	return time.Unix(0, creation.Nanoseconds()), nil
}
