//go:build !linux && !darwin && !windows

package processstate

import (
	"time"

	"github.com/core-tools/hsu-devrun/pkg/errors"
)

// StartTime is not available on this platform.
func StartTime(pid int) (time.Time, error) {
	return time.Time{}, errors.NewProcessError("process start time not supported on this platform", nil).WithContext("pid", pid)
}
