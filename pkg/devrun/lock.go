package devrun

import (
	"path/filepath"

	"github.com/core-tools/hsu-devrun/pkg/errors"
	"github.com/core-tools/hsu-devrun/pkg/logging"

	"github.com/gofrs/flock"
)

const LockFileName = ".devrun.lock"

// RunLock keeps a second runner from starting the same servers in the same
// project root.
type RunLock struct {
	fl     *flock.Flock
	logger logging.Logger
}

// AcquireRunLock takes the project lock without waiting. A lock held by
// another runner is reported as a conflict error.
func AcquireRunLock(projectRoot string, logger logging.Logger) (*RunLock, error) {
	path := filepath.Join(projectRoot, LockFileName)
	fl := flock.New(path)

	locked, err := fl.TryLock()
	if err != nil {
		return nil, errors.NewIOError("failed to acquire run lock", err).WithContext("path", path)
	}
	if !locked {
		return nil, errors.NewConflictError("another devrun is already running in this project", nil).
			WithContext("path", path)
	}

	logger.Debugf("Acquired run lock, path: %s", path)
	return &RunLock{fl: fl, logger: logger}, nil
}

// Release unlocks and closes the lock file. The file stays on disk so that a
// concurrent acquirer never locks an unlinked inode.
func (l *RunLock) Release() {
	if l == nil || l.fl == nil {
		return
	}
	if err := l.fl.Close(); err != nil {
		l.logger.Debugf("Failed to release run lock, path: %s, error: %v", l.fl.Path(), err)
	}
	l.fl = nil
}
