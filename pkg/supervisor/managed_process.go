package supervisor

import (
	"errors"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/core-tools/hsu-devrun/pkg/logging"
	"github.com/core-tools/hsu-devrun/pkg/process"
)

// TerminationResult describes what Terminate did.
type TerminationResult string

const (
	TerminationSkipped  TerminationResult = "skipped"  // already exited or already terminated
	TerminationGraceful TerminationResult = "graceful" // exited within the timeout
	TerminationForced   TerminationResult = "forced"   // killed after the timeout
)

const (
	DefaultTerminateTimeout = 5 * time.Second
	DefaultLivenessInterval = 100 * time.Millisecond

	// How long shutdown waits for a relay to drain after its process is gone.
	relayDrainTimeout = time.Second
)

// Replaced in tests to count the signals sent.
var (
	gracefulStop = process.RequestGracefulStop
	forceKill    = process.ForceKill
)

// ManagedProcess is a child dev server together with its output relay.
type ManagedProcess struct {
	label  string
	cmd    *exec.Cmd
	output io.Closer
	logger logging.Logger

	exited    chan struct{}
	relayDone chan struct{}
	exitCode  int

	livenessInterval time.Duration

	mutex      sync.Mutex
	terminated bool
	released   bool
}

func (p *ManagedProcess) Label() string {
	return p.label
}

func (p *ManagedProcess) PID() int {
	return p.cmd.Process.Pid
}

// Alive reports whether the child has not exited yet.
func (p *ManagedProcess) Alive() bool {
	select {
	case <-p.exited:
		return false
	default:
		return true
	}
}

// Exited is closed once the child has exited and its status is recorded.
func (p *ManagedProcess) Exited() <-chan struct{} {
	return p.exited
}

// ExitCode returns the exit code once the child has exited.
func (p *ManagedProcess) ExitCode() (int, bool) {
	select {
	case <-p.exited:
		return p.exitCode, true
	default:
		return 0, false
	}
}

// wait is the only caller of cmd.Wait.
func (p *ManagedProcess) wait() {
	_ = p.cmd.Wait()
	p.exitCode = process.ExitCode(p.cmd.ProcessState)
	close(p.exited)
}

// Terminate asks the child to stop and kills it if it is still alive after
// timeout. It is a no-op when the child has already exited or when Terminate
// was called before; a process is never signalled twice.
func (p *ManagedProcess) Terminate(timeout time.Duration) TerminationResult {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	if p.terminated || !p.Alive() {
		p.terminated = true
		p.releaseLocked()
		return TerminationSkipped
	}
	p.terminated = true
	defer p.releaseLocked()

	if timeout <= 0 {
		timeout = DefaultTerminateTimeout
	}

	pid := p.cmd.Process.Pid
	p.logger.Debugf("Requesting graceful stop, label: %s, PID: %d, timeout: %v", p.label, pid, timeout)
	if err := gracefulStop(p.cmd.Process); err != nil {
		p.logger.Warnf("[%s] Graceful stop request failed: %v", p.label, err)
	}

	if p.pollUntilExited(timeout) {
		return TerminationGraceful
	}

	p.logger.Warnf("[%s] Forcing kill...", p.label)
	if err := forceKill(p.cmd.Process); err != nil {
		p.logger.Errorf("[%s] Error during termination: %v", p.label, err)
	}
	if !p.pollUntilExited(timeout) {
		p.logger.Errorf("[%s] Process %d still running after kill", p.label, pid)
	}
	return TerminationForced
}

// pollUntilExited checks liveness every livenessInterval until the child is
// gone or timeout elapses.
func (p *ManagedProcess) pollUntilExited(timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(p.livenessInterval)
	defer ticker.Stop()

	for p.Alive() {
		if !time.Now().Before(deadline) {
			return false
		}
		<-ticker.C
	}
	return true
}

// releaseLocked waits briefly for the relay to flush the tail of the output
// and then closes the read end of the pipe. A grandchild that kept the pipe
// open cannot block shutdown past relayDrainTimeout.
func (p *ManagedProcess) releaseLocked() {
	if p.released || p.Alive() {
		return
	}
	p.released = true

	select {
	case <-p.relayDone:
	case <-time.After(relayDrainTimeout):
		p.logger.Debugf("Relay for %s still busy after %v, closing its pipe", p.label, relayDrainTimeout)
	}
	if err := p.output.Close(); err != nil && !errors.Is(err, os.ErrClosed) {
		p.logger.Debugf("Closing output of %s: %v", p.label, err)
	}
	select {
	case <-p.relayDone:
	case <-time.After(relayDrainTimeout):
		p.logger.Warnf("[%s] Output relay did not stop; abandoning it", p.label)
	}
}
