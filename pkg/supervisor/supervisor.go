// Package supervisor runs the dev servers as child processes, relays their
// output and owns the shutdown protocol.
package supervisor

import (
	"context"
	"os"
	"time"

	"github.com/core-tools/hsu-devrun/pkg/errors"
	"github.com/core-tools/hsu-devrun/pkg/logging"
	"github.com/core-tools/hsu-devrun/pkg/process"
)

const DefaultWaitInterval = 200 * time.Millisecond

type SupervisorOptions struct {
	// ProjectRoot is the working directory of every child.
	ProjectRoot string
	// TerminateTimeout is how long a graceful stop may take before a kill.
	TerminateTimeout time.Duration
	// LivenessInterval is the polling period while terminating.
	LivenessInterval time.Duration
	// WaitInterval is the polling period of WaitAny.
	WaitInterval time.Duration
}

type Supervisor struct {
	options SupervisorOptions
	sink    LineSink
	logger  logging.Logger
}

func NewSupervisor(options SupervisorOptions, sink LineSink, logger logging.Logger) *Supervisor {
	if options.TerminateTimeout <= 0 {
		options.TerminateTimeout = DefaultTerminateTimeout
	}
	if options.LivenessInterval <= 0 {
		options.LivenessInterval = DefaultLivenessInterval
	}
	if options.WaitInterval <= 0 {
		options.WaitInterval = DefaultWaitInterval
	}
	return &Supervisor{
		options: options,
		sink:    sink,
		logger:  logger,
	}
}

// Spawn starts command in the project root and attaches its relay.
func (s *Supervisor) Spawn(command []string, label string) (*ManagedProcess, error) {
	if len(command) == 0 {
		return nil, errors.NewValidationError("empty command", nil).WithContext("label", label)
	}

	cmd, output, err := process.Start(process.ExecutionConfig{
		ExecutablePath:   command[0],
		Args:             command[1:],
		WorkingDirectory: s.options.ProjectRoot,
	}, label, s.logger)
	if err != nil {
		return nil, err
	}

	p := &ManagedProcess{
		label:            label,
		cmd:              cmd,
		output:           output,
		logger:           s.logger,
		exited:           make(chan struct{}),
		relayDone:        make(chan struct{}),
		livenessInterval: s.options.LivenessInterval,
	}
	go p.wait()
	go relay(output, label, s.sink, p.relayDone)

	return p, nil
}

// WaitAny polls the processes until one of them exits, a signal arrives on
// interrupts or ctx is cancelled. It returns the first exited process, or nil
// when woken by an interrupt or cancellation.
func (s *Supervisor) WaitAny(ctx context.Context, interrupts <-chan os.Signal, procs ...*ManagedProcess) *ManagedProcess {
	ticker := time.NewTicker(s.options.WaitInterval)
	defer ticker.Stop()

	for {
		for _, p := range procs {
			if !p.Alive() {
				return p
			}
		}

		select {
		case sig := <-interrupts:
			s.logger.Debugf("Received signal: %v", sig)
			return nil
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Shutdown terminates procs in order. Nil entries are skipped.
func (s *Supervisor) Shutdown(procs ...*ManagedProcess) {
	for _, p := range procs {
		if p == nil {
			continue
		}
		result := p.Terminate(s.options.TerminateTimeout)
		s.logger.Debugf("Terminated %s: %s", p.Label(), result)
	}
}
