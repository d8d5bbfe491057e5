package process

import (
	"os"
	"os/exec"

	"github.com/core-tools/hsu-devrun/pkg/errors"
	"github.com/core-tools/hsu-devrun/pkg/logging"
)

type ExecutionConfig struct {
	ExecutablePath   string   `yaml:"executable_path"`
	Args             []string `yaml:"args,omitempty"`
	Environment      []string `yaml:"environment,omitempty"`
	WorkingDirectory string   `yaml:"working_directory,omitempty"`
}

// Start launches the process in its own process group with stdout and stderr
// merged into one pipe. The caller owns the returned read end and must close it.
//
// The pipe is created by hand instead of cmd.StdoutPipe so that reading it
// does not race with cmd.Wait, which closes StdoutPipe readers on exit.
func Start(execution ExecutionConfig, id string, logger logging.Logger) (*exec.Cmd, *os.File, error) {
	if err := ValidateExecutionConfig(execution); err != nil {
		logger.Errorf("Execution configuration validation failed, id: %s, error: %v", id, err)
		return nil, nil, errors.NewValidationError("invalid execution configuration", err).WithContext("id", id)
	}

	logger.Debugf("Executing process: id: %s, executable path: '%s', args: %v, working directory: '%s'",
		id, execution.ExecutablePath, execution.Args, execution.WorkingDirectory)

	cmd := exec.Command(execution.ExecutablePath, execution.Args...)
	cmd.Dir = execution.WorkingDirectory
	cmd.Env = append(os.Environ(), execution.Environment...)

	setupProcessAttributes(cmd)

	reader, writer, err := os.Pipe()
	if err != nil {
		return nil, nil, errors.NewIOError("failed to create output pipe", err).WithContext("id", id)
	}
	cmd.Stdout = writer
	cmd.Stderr = writer

	err = cmd.Start()
	// The child holds its own copy of the write end; ours must go so EOF arrives on exit.
	writer.Close()
	if err != nil {
		reader.Close()
		return nil, nil, errors.NewProcessError("failed to start the process", err).
			WithContext("id", id).
			WithContext("executable_path", execution.ExecutablePath)
	}

	logger.Infof("Started process, id: %s, PID: %d", id, cmd.Process.Pid)

	return cmd, reader, nil
}

// ExitCode maps a finished process state to a shell-style exit code:
// the process' own code, or 128+signal when it was killed by a signal.
func ExitCode(state *os.ProcessState) int {
	if state == nil {
		return 1
	}
	if code := state.ExitCode(); code >= 0 {
		return code
	}
	if sig, ok := signalOf(state); ok {
		return 128 + sig
	}
	return 1
}
