package errors

import "fmt"

// Severity tells the coordinator whether a failed step aborts the run
type Severity string

const (
	SeverityOK          Severity = "ok"
	SeverityRecoverable Severity = "recoverable"
	SeverityFatal       Severity = "fatal"
)

// Outcome is the result of one setup step.
// ExitCode is only meaningful for fatal outcomes and is always nonzero there.
type Outcome struct {
	Step     string
	Severity Severity
	ExitCode int
	Err      error
}

func OK(step string) Outcome {
	return Outcome{Step: step, Severity: SeverityOK}
}

func Recoverable(step string, err error) Outcome {
	return Outcome{Step: step, Severity: SeverityRecoverable, Err: err}
}

func Fatal(step string, exitCode int, err error) Outcome {
	if exitCode == 0 {
		exitCode = 1
	}
	return Outcome{Step: step, Severity: SeverityFatal, ExitCode: exitCode, Err: err}
}

func (o Outcome) IsFatal() bool {
	return o.Severity == SeverityFatal
}

func (o Outcome) IsOK() bool {
	return o.Severity == SeverityOK
}

func (o Outcome) String() string {
	if o.Err == nil {
		return fmt.Sprintf("%s: %s", o.Step, o.Severity)
	}
	if o.IsFatal() {
		return fmt.Sprintf("%s: %s (exit %d): %v", o.Step, o.Severity, o.ExitCode, o.Err)
	}
	return fmt.Sprintf("%s: %s: %v", o.Step, o.Severity, o.Err)
}
