package process

import (
	"context"
	"errors"
	"io"
	"os"
	"os/exec"

	domainErrors "github.com/core-tools/hsu-devrun/pkg/errors"
)

// Runner runs a command to completion. A nonzero exit is reported through
// the exit code, not the error; the error is set only when the command
// could not be run at all.
type Runner interface {
	Run(ctx context.Context, execution ExecutionConfig, stdout, stderr io.Writer) (int, error)
}

// ExecRunner runs commands with os/exec.
type ExecRunner struct{}

func NewExecRunner() *ExecRunner {
	return &ExecRunner{}
}

func (r *ExecRunner) Run(ctx context.Context, execution ExecutionConfig, stdout, stderr io.Writer) (int, error) {
	if execution.ExecutablePath == "" {
		return -1, domainErrors.NewValidationError("executable path is required", nil)
	}

	cmd := exec.CommandContext(ctx, execution.ExecutablePath, execution.Args...)
	cmd.Dir = execution.WorkingDirectory
	cmd.Env = append(os.Environ(), execution.Environment...)
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	err := cmd.Run()
	if err == nil {
		return 0, nil
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return ExitCode(exitErr.ProcessState), nil
	}
	if ctx.Err() != nil {
		return -1, domainErrors.NewCancelledError("command cancelled", ctx.Err()).
			WithContext("executable_path", execution.ExecutablePath)
	}
	return -1, domainErrors.NewProcessError("failed to run command", err).
		WithContext("executable_path", execution.ExecutablePath)
}
