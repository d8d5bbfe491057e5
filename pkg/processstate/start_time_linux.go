//go:build linux

package processstate

import (
	"bytes"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/core-tools/hsu-devrun/pkg/errors"
)

// USER_HZ is 100 on every architecture Linux exports to userspace.
const clockTicksPerSecond = 100

// starttime is field 22 of /proc/<pid>/stat, the 20th after the command name.
const startTimeField = 19

// StartTime returns when pid was started, to within a clock tick.
func StartTime(pid int) (time.Time, error) {
	if pid <= 0 {
		return time.Time{}, errors.NewValidationError("invalid PID", nil).WithContext("pid", pid)
	}

	stat, err := os.ReadFile("/proc/" + strconv.Itoa(pid) + "/stat")
	if err != nil {
		if os.IsNotExist(err) {
			return time.Time{}, errors.NewNotFoundError("process not found", err).WithContext("pid", pid)
		}
		return time.Time{}, errors.NewIOError("failed to read process stat", err).WithContext("pid", pid)
	}

	// The command name may contain spaces and parentheses.
	end := bytes.LastIndexByte(stat, ')')
	if end < 0 {
		return time.Time{}, errors.NewProcessError("malformed process stat", nil).WithContext("pid", pid)
	}
	fields := strings.Fields(string(stat[end+1:]))
	if len(fields) <= startTimeField {
		return time.Time{}, errors.NewProcessError("malformed process stat", nil).WithContext("pid", pid)
	}
	ticks, err := strconv.ParseInt(fields[startTimeField], 10, 64)
	if err != nil {
		return time.Time{}, errors.NewProcessError("malformed process start time", err).WithContext("pid", pid)
	}

	boot, err := bootTime()
	if err != nil {
		return time.Time{}, err
	}
	return boot.Add(time.Duration(ticks) * time.Second / clockTicksPerSecond), nil
}

func bootTime() (time.Time, error) {
	stat, err := os.ReadFile("/proc/stat")
	if err != nil {
		return time.Time{}, errors.NewIOError("failed to read /proc/stat", err)
	}
	for _, line := range strings.Split(string(stat), "\n") {
		value, ok := strings.CutPrefix(line, "btime ")
		if !ok {
			continue
		}
		secs, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
		if err != nil {
			return time.Time{}, errors.NewProcessError("malformed boot time", err)
		}
		return time.Unix(secs, 0), nil
	}
	return time.Time{}, errors.NewNotFoundError("boot time not found in /proc/stat", nil)
}
