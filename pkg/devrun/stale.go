package devrun

import (
	"os"
	"time"

	"github.com/core-tools/hsu-devrun/pkg/errors"
	"github.com/core-tools/hsu-devrun/pkg/process"
	"github.com/core-tools/hsu-devrun/pkg/processfile"
	"github.com/core-tools/hsu-devrun/pkg/processstate"
	"github.com/core-tools/hsu-devrun/pkg/supervisor"
)

const (
	StepStale = "stale-servers"

	stalePollInterval = 100 * time.Millisecond
	startTimeSlack    = 2 * time.Second
)

// checkStaleServers looks at the PID file a previous run left behind. Holding
// the run lock means that run is gone, so any recorded server still alive was
// orphaned. Such servers are reported, and stopped when reap is set.
//
// A recorded PID may since have been reused by an unrelated process. A live
// PID only counts as an orphan when its process started no later than the PID
// file was written.
func (r *Runner) checkStaleServers(pids *processfile.ProcessFileManager, reap bool, timeout time.Duration) errors.Outcome {
	records, err := pids.Read()
	if err != nil {
		r.logger.Warnf("Could not read %s: %v", pids.Path(), err)
		return errors.Recoverable(StepStale, err)
	}
	if len(records) == 0 {
		return errors.OK(StepStale)
	}

	written, writtenErr := pids.Written()

	outcome := errors.OK(StepStale)
	for _, record := range records {
		running, err := processstate.IsProcessRunning(record.PID)
		if err != nil || !running {
			continue
		}

		orphan, err := startedBy(record.PID, written, writtenErr)
		if err == nil && !orphan {
			r.logger.Debugf("[%s] PID %d now belongs to a process started after %s; ignoring it.", record.Label, record.PID, pids.Path())
			continue
		}

		if !reap || err != nil {
			if reap {
				r.logger.Warnf("[%s] Cannot tell whether process %d is left over from a previous run (%v); leaving it running.", record.Label, record.PID, err)
			} else {
				r.logger.Warnf("[%s] Process %d from a previous run is still running; its port may be taken.", record.Label, record.PID)
			}
			outcome = errors.Recoverable(StepStale, errors.NewConflictError("server from a previous run still running", err).
				WithContext("label", record.Label).WithContext("pid", record.PID))
			continue
		}

		r.logger.Warnf("[%s] Stopping process %d left over from a previous run...", record.Label, record.PID)
		if err := r.terminatePID(record.PID, timeout); err != nil {
			r.logger.Warnf("[%s] Could not stop process %d: %v", record.Label, record.PID, err)
			outcome = errors.Recoverable(StepStale, err)
		}
	}

	if err := pids.Remove(); err != nil {
		r.logger.Debugf("Could not remove %s: %v", pids.Path(), err)
	}
	return outcome
}

// startedBy reports whether pid started before written, allowing for the
// coarse clocks some platforms report start times with.
func startedBy(pid int, written time.Time, writtenErr error) (bool, error) {
	if writtenErr != nil {
		return false, writtenErr
	}
	started, err := processstate.StartTime(pid)
	if err != nil {
		return false, err
	}
	return !started.After(written.Add(startTimeSlack)), nil
}

// terminatePID stops a process this runner did not start: graceful stop,
// polling until timeout, then a forced kill.
func (r *Runner) terminatePID(pid int, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = supervisor.DefaultTerminateTimeout
	}

	p, err := os.FindProcess(pid)
	if err != nil {
		return errors.NewNotFoundError("process not found", err).WithContext("pid", pid)
	}
	defer p.Release()

	if err := process.RequestGracefulStop(p); err != nil {
		r.logger.Debugf("Graceful stop of process %d failed, waiting before a forced kill: %v", pid, err)
	}

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if running, err := processstate.IsProcessRunning(pid); err == nil && !running {
			return nil
		}
		time.Sleep(stalePollInterval)
	}

	if err := process.ForceKill(p); err != nil {
		return errors.NewProcessError("failed to kill process", err).WithContext("pid", pid)
	}
	return nil
}

func recordsOf(procs []*supervisor.ManagedProcess) []processfile.Record {
	records := make([]processfile.Record, 0, len(procs))
	for _, p := range procs {
		records = append(records, processfile.Record{Label: p.Label(), PID: p.PID()})
	}
	return records
}
