package database

import (
	"context"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/core-tools/hsu-devrun/pkg/envfile"
	"github.com/core-tools/hsu-devrun/pkg/errors"
	"github.com/core-tools/hsu-devrun/pkg/logging"
	"github.com/core-tools/hsu-devrun/pkg/process"
	"github.com/core-tools/hsu-devrun/pkg/tools"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCall struct {
	execution process.ExecutionConfig
}

type fakeResponse struct {
	stdout string
	code   int
	err    error
}

// fakeRunner answers by executable path.
type fakeRunner struct {
	responses map[string]fakeResponse
	calls     []fakeCall
}

func (f *fakeRunner) Run(ctx context.Context, execution process.ExecutionConfig, stdout, stderr io.Writer) (int, error) {
	f.calls = append(f.calls, fakeCall{execution: execution})
	resp := f.responses[execution.ExecutablePath]
	if resp.err != nil {
		return -1, resp.err
	}
	fmt.Fprint(stdout, resp.stdout)
	return resp.code, nil
}

type fakeServiceManager struct {
	registered map[string]bool // name -> running
	started    []string
	startErr   error
	closed     bool
}

func (f *fakeServiceManager) Exists(ctx context.Context, name string) (bool, error) {
	_, ok := f.registered[name]
	return ok, nil
}

func (f *fakeServiceManager) List(ctx context.Context) ([]string, error) {
	names := make([]string, 0, len(f.registered))
	for name := range f.registered {
		names = append(names, name)
	}
	return names, nil
}

func (f *fakeServiceManager) IsRunning(ctx context.Context, name string) (bool, error) {
	return f.registered[name], nil
}

func (f *fakeServiceManager) Start(ctx context.Context, name string) error {
	f.started = append(f.started, name)
	return f.startErr
}

func (f *fakeServiceManager) Close() error {
	f.closed = true
	return nil
}

func factoryFor(sm ServiceManager) ServiceManagerFactory {
	return func(ctx context.Context) (ServiceManager, error) { return sm, nil }
}

var allTools = tools.Paths{PackageManager: "/bin/npm", Psql: "/bin/psql", Createdb: "/bin/createdb"}

type logRecord struct {
	level int
	msg   string
}

func recordingLogger(records *[]logRecord) logging.Logger {
	return logging.NewLogger("", logging.LogFuncs{
		LogLevelf: func(level int, format string, args ...interface{}) {
			*records = append(*records, logRecord{level: level, msg: fmt.Sprintf(format, args...)})
		},
	})
}

func warnings(records []logRecord) []string {
	var out []string
	for _, r := range records {
		if r.level == logging.LogLevelWarn {
			out = append(out, r.msg)
		}
	}
	return out
}

func noServiceManager(ctx context.Context) (ServiceManager, error) {
	return nil, ErrNoServiceManager
}

func TestEnsureDatabase_Exists(t *testing.T) {
	runner := &fakeRunner{responses: map[string]fakeResponse{"/bin/psql": {stdout: "1\n"}}}
	b := NewBootstrapper(BootstrapOptions{}, allTools, runner, noServiceManager, logging.Nop())

	outcomes := b.EnsureDatabase(context.Background(), "postgres://u:p@h:1234/mydb")

	require.Len(t, outcomes, 1)
	assert.True(t, outcomes[0].IsOK())
	require.Len(t, runner.calls, 1)
	assert.Equal(t, process.ExecutionConfig{
		ExecutablePath: "/bin/psql",
		Args: []string{"-h", "h", "-p", "1234", "-U", "u", "-d", "postgres", "-tAc",
			"SELECT 1 FROM pg_database WHERE datname='mydb';"},
		Environment: []string{"PGPASSWORD=p"},
	}, runner.calls[0].execution)
}

func TestEnsureDatabase_CreatesWhenMissing(t *testing.T) {
	runner := &fakeRunner{responses: map[string]fakeResponse{
		"/bin/psql":     {stdout: "\n"},
		"/bin/createdb": {},
	}}
	b := NewBootstrapper(BootstrapOptions{}, allTools, runner, noServiceManager, logging.Nop())

	outcomes := b.EnsureDatabase(context.Background(), "postgres://u:p@h:1234/mydb")

	require.Len(t, outcomes, 2)
	assert.True(t, outcomes[1].IsOK())
	assert.Equal(t, StepCreate, outcomes[1].Step)
	require.Len(t, runner.calls, 2)
	assert.Equal(t, process.ExecutionConfig{
		ExecutablePath: "/bin/createdb",
		Args:           []string{"-h", "h", "-p", "1234", "-U", "u", "mydb"},
		Environment:    []string{"PGPASSWORD=p"},
	}, runner.calls[1].execution)
}

func TestEnsureDatabase_CreateFailureIsRecoverable(t *testing.T) {
	runner := &fakeRunner{responses: map[string]fakeResponse{
		"/bin/psql":     {code: 2},
		"/bin/createdb": {code: 1},
	}}
	b := NewBootstrapper(BootstrapOptions{}, allTools, runner, noServiceManager, logging.Nop())

	outcomes := b.EnsureDatabase(context.Background(), DefaultDatabaseURL)

	require.Len(t, outcomes, 2)
	assert.Equal(t, errors.SeverityRecoverable, outcomes[1].Severity)
	assert.True(t, errors.IsDatabaseError(outcomes[1].Err))
	for _, o := range outcomes {
		assert.False(t, o.IsFatal())
	}
}

func TestEnsureDatabase_NoPsqlSkips(t *testing.T) {
	runner := &fakeRunner{}
	b := NewBootstrapper(BootstrapOptions{}, tools.Paths{PackageManager: "/bin/npm"}, runner, noServiceManager, logging.Nop())

	outcomes := b.EnsureDatabase(context.Background(), DefaultDatabaseURL)

	require.Len(t, outcomes, 1)
	assert.Equal(t, errors.SeverityRecoverable, outcomes[0].Severity)
	assert.True(t, errors.IsNotFoundError(outcomes[0].Err))
	assert.Empty(t, runner.calls)
}

func TestEnsureDatabase_NoCreatedb(t *testing.T) {
	runner := &fakeRunner{responses: map[string]fakeResponse{"/bin/psql": {stdout: ""}}}
	b := NewBootstrapper(BootstrapOptions{}, tools.Paths{Psql: "/bin/psql"}, runner, noServiceManager, logging.Nop())

	outcomes := b.EnsureDatabase(context.Background(), DefaultDatabaseURL)

	require.Len(t, outcomes, 2)
	assert.Equal(t, StepCreate, outcomes[1].Step)
	assert.True(t, errors.IsNotFoundError(outcomes[1].Err))
	assert.Len(t, runner.calls, 1)
}

func TestEnsureDatabase_PsqlCannotRun(t *testing.T) {
	runner := &fakeRunner{responses: map[string]fakeResponse{
		"/bin/psql": {err: errors.NewProcessError("exec format error", nil)},
	}}
	b := NewBootstrapper(BootstrapOptions{}, allTools, runner, noServiceManager, logging.Nop())

	outcomes := b.EnsureDatabase(context.Background(), DefaultDatabaseURL)

	require.Len(t, outcomes, 1)
	assert.Equal(t, errors.SeverityRecoverable, outcomes[0].Severity)
	assert.Len(t, runner.calls, 1)
}

func TestRun_ConfigWithoutDatabaseURLUsesDefault(t *testing.T) {
	runner := &fakeRunner{responses: map[string]fakeResponse{
		"/bin/psql":     {stdout: ""},
		"/bin/createdb": {},
	}}
	b := NewBootstrapper(BootstrapOptions{}, allTools, runner, noServiceManager, logging.Nop())
	env := envfile.Map{"PORT": "5000", "NODE_ENV": "development"}

	var outcomes []errors.Outcome
	require.NotPanics(t, func() {
		outcomes = b.Run(context.Background(), env)
	})

	for _, o := range outcomes {
		assert.False(t, o.IsFatal())
	}
	require.Len(t, runner.calls, 2)
	assert.Equal(t, []string{"-h", "localhost", "-p", "5432", "-U", "postgres", "-d", "postgres", "-tAc",
		"SELECT 1 FROM pg_database WHERE datname='museum';"}, runner.calls[0].execution.Args)
	assert.Equal(t, []string{"PGPASSWORD=admin"}, runner.calls[0].execution.Environment)
	assert.Equal(t, "museum", runner.calls[1].execution.Args[len(runner.calls[1].execution.Args)-1])
}

func TestEnsureService_StartsStoppedCandidate(t *testing.T) {
	sm := &fakeServiceManager{registered: map[string]bool{"postgresql-x64-16": false}}
	b := NewBootstrapper(BootstrapOptions{ServiceCandidates: []string{"postgresql-x64-17", "postgresql-x64-16"}},
		allTools, &fakeRunner{}, factoryFor(sm), logging.Nop())

	outcome := b.EnsureService(context.Background())

	assert.True(t, outcome.IsOK())
	assert.Equal(t, []string{"postgresql-x64-16"}, sm.started)
	assert.True(t, sm.closed)
}

func TestEnsureService_AlreadyRunning(t *testing.T) {
	sm := &fakeServiceManager{registered: map[string]bool{"postgresql": true}}
	b := NewBootstrapper(BootstrapOptions{ServiceCandidates: []string{"postgresql"}},
		allTools, &fakeRunner{}, factoryFor(sm), logging.Nop())

	outcome := b.EnsureService(context.Background())

	assert.True(t, outcome.IsOK())
	assert.Empty(t, sm.started)
}

func TestEnsureService_SubstringScan(t *testing.T) {
	sm := &fakeServiceManager{registered: map[string]bool{"Spooler": true, "MyPostgreSQLServer": false}}
	b := NewBootstrapper(BootstrapOptions{ServiceCandidates: []string{"postgresql"}},
		allTools, &fakeRunner{}, factoryFor(sm), logging.Nop())

	outcome := b.EnsureService(context.Background())

	assert.True(t, outcome.IsOK())
	assert.Equal(t, []string{"MyPostgreSQLServer"}, sm.started)
}

func TestEnsureService_StartFailureIsRecoverable(t *testing.T) {
	sm := &fakeServiceManager{
		registered: map[string]bool{"postgresql": false},
		startErr:   errors.NewPermissionError("access denied", nil),
	}
	b := NewBootstrapper(BootstrapOptions{ServiceCandidates: []string{"postgresql"}},
		allTools, &fakeRunner{}, factoryFor(sm), logging.Nop())

	outcome := b.EnsureService(context.Background())

	assert.Equal(t, errors.SeverityRecoverable, outcome.Severity)
	assert.True(t, errors.IsPermissionError(outcome.Err))
}

func TestEnsureService_StartFailureMessages(t *testing.T) {
	tests := []struct {
		name        string
		startErr    error
		wantWarning string
	}{
		{"permission", errors.NewPermissionError("access denied", nil), "Not allowed to start service postgresql"},
		{"timeout", errors.NewTimeoutError("start job did not finish in time", nil), "Service postgresql did not start within 5s"},
		{"other", errors.NewServiceError("start job failed: failed", nil), "Failed to start service postgresql"},
		{"cancelled", errors.NewCancelledError("start job cancelled", nil), ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var records []logRecord
			sm := &fakeServiceManager{registered: map[string]bool{"postgresql": false}, startErr: tt.startErr}
			b := NewBootstrapper(BootstrapOptions{ServiceCandidates: []string{"postgresql"}, ServiceTimeout: 5 * time.Second},
				allTools, &fakeRunner{}, factoryFor(sm), recordingLogger(&records))

			outcome := b.EnsureService(context.Background())

			assert.Equal(t, errors.SeverityRecoverable, outcome.Severity)
			warns := warnings(records)
			if tt.wantWarning == "" {
				assert.Empty(t, warns)
				return
			}
			require.Len(t, warns, 1)
			assert.Contains(t, warns[0], tt.wantWarning)
		})
	}
}

func TestEnsureDatabase_CancelledIsQuiet(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var records []logRecord
	runner := &fakeRunner{responses: map[string]fakeResponse{
		"/bin/psql": {err: context.Canceled},
	}}
	b := NewBootstrapper(BootstrapOptions{}, allTools, runner, noServiceManager, recordingLogger(&records))

	outcomes := b.EnsureDatabase(ctx, "postgres://localhost:5432/museum")

	require.Len(t, outcomes, 1)
	assert.Equal(t, errors.SeverityRecoverable, outcomes[0].Severity)
	assert.True(t, errors.IsCancelledError(outcomes[0].Err))
	assert.Len(t, runner.calls, 1, "createdb is not attempted")
	assert.Empty(t, warnings(records))
}

func TestEnsureService_NoServiceFound(t *testing.T) {
	sm := &fakeServiceManager{registered: map[string]bool{"Spooler": true}}
	b := NewBootstrapper(BootstrapOptions{}, allTools, &fakeRunner{}, factoryFor(sm), logging.Nop())

	outcome := b.EnsureService(context.Background())

	assert.True(t, outcome.IsOK())
	assert.Empty(t, sm.started)
}

func TestEnsureService_ConnectFailures(t *testing.T) {
	b := NewBootstrapper(BootstrapOptions{}, allTools, &fakeRunner{}, noServiceManager, logging.Nop())
	assert.True(t, b.EnsureService(context.Background()).IsOK())

	failing := func(ctx context.Context) (ServiceManager, error) {
		return nil, errors.NewServiceError("bus unavailable", nil)
	}
	b = NewBootstrapper(BootstrapOptions{}, allTools, &fakeRunner{}, failing, logging.Nop())
	outcome := b.EnsureService(context.Background())
	assert.Equal(t, errors.SeverityRecoverable, outcome.Severity)
}
