//go:build !windows

package devrun

import (
	"bytes"
	"context"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/core-tools/hsu-devrun/pkg/console"
	"github.com/core-tools/hsu-devrun/pkg/database"
	"github.com/core-tools/hsu-devrun/pkg/logging"
	"github.com/core-tools/hsu-devrun/pkg/processfile"
	"github.com/core-tools/hsu-devrun/pkg/tools"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const fakeNpm = "/opt/node/bin/npm"

// syncBuffer guards a buffer written from relay goroutines.
type syncBuffer struct {
	mutex sync.Mutex
	buf   bytes.Buffer
}

func (s *syncBuffer) Write(p []byte) (int, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.buf.Write(p)
}

func (s *syncBuffer) String() string {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.buf.String()
}

type harness struct {
	root       string
	config     *Config
	paths      tools.Paths
	commands   *fakeCommands
	interrupts chan os.Signal
	out        *syncBuffer
	errOut     *syncBuffer
	install    bool
}

func newHarness(t *testing.T, frontend, backend string) *harness {
	root := t.TempDir()
	mkdirs(t, root, "frontend/node_modules", "backend/node_modules")

	config := DefaultConfig()
	config.Servers[0].Command = []string{"/bin/sh", "-c", frontend}
	config.Servers[1].Command = []string{"/bin/sh", "-c", backend}
	config.Database.Skip = true
	disabled := false
	config.Readiness.Enabled = &disabled
	config.Shutdown.Timeout = 2 * time.Second
	config.Shutdown.LivenessInterval = 20 * time.Millisecond
	config.Shutdown.WaitInterval = 20 * time.Millisecond

	return &harness{
		root:       root,
		config:     config,
		paths:      tools.Paths{PackageManager: fakeNpm},
		commands:   &fakeCommands{},
		interrupts: make(chan os.Signal, 1),
		out:        &syncBuffer{},
		errOut:     &syncBuffer{},
	}
}

func (h *harness) run(ctx context.Context) int {
	runner := NewRunner(RunnerOptions{
		ProjectRoot:  h.root,
		Install:      h.install,
		Config:       h.config,
		Interrupts:   h.interrupts,
		ResolveTools: func(string) tools.Paths { return h.paths },
		Commands:     h.commands,
		Services: func(ctx context.Context) (database.ServiceManager, error) {
			return nil, database.ErrNoServiceManager
		},
	}, console.New(h.out, h.errOut), logging.Nop())
	return runner.Run(ctx)
}

func TestRun_FirstExitCodeWins(t *testing.T) {
	h := newHarness(t, "echo vite ready; sleep 30", "echo api up; sleep 0.2; exit 3")

	start := time.Now()
	code := h.run(context.Background())

	assert.Equal(t, 3, code)
	assert.Less(t, time.Since(start), 10*time.Second, "frontend is terminated, not waited for")
	assert.Empty(t, h.commands.callsTo(fakeNpm), "dependencies present, no install")

	out := h.out.String()
	assert.Contains(t, out, "Starting servers...\n\nFrontend: http://localhost:5173\nAPI:      http://localhost:5000/api\n\n")
	assert.Contains(t, out, "[frontend] vite ready\n")
	assert.Contains(t, out, "[backend] api up\n")
	assert.NotContains(t, out, "Installing dependencies")

	_, err := os.Stat(filepath.Join(h.root, processfile.DefaultFileName))
	assert.True(t, os.IsNotExist(err), "PID file removed on exit")
}

func TestRun_InterruptStopsBothAndExitsZero(t *testing.T) {
	h := newHarness(t, "echo f; sleep 30", "echo b; sleep 30")

	go func() {
		assert.Eventually(t, func() bool {
			out := h.out.String()
			return strings.Contains(out, "[frontend] f") && strings.Contains(out, "[backend] b")
		}, 5*time.Second, 10*time.Millisecond)
		h.interrupts <- os.Interrupt
	}()

	code := h.run(context.Background())

	assert.Equal(t, 0, code)
	assert.Contains(t, h.out.String(), "Shutting down...\n")
}

func TestRun_ContextCancelled(t *testing.T) {
	h := newHarness(t, "sleep 30", "sleep 30")

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	assert.Equal(t, 0, h.run(ctx))
}

func TestRun_InstallsMissingDependencies(t *testing.T) {
	h := newHarness(t, "exit 0", "sleep 30")
	require.NoError(t, os.RemoveAll(filepath.Join(h.root, "backend", "node_modules")))

	code := h.run(context.Background())

	assert.Equal(t, 0, code)
	calls := h.commands.callsTo(fakeNpm)
	require.Len(t, calls, 2, "one missing directory installs every server")
	assert.Equal(t, []string{"install", "--prefix", "frontend"}, calls[0].Args)
	assert.Equal(t, []string{"install", "--prefix", "backend"}, calls[1].Args)
	assert.Contains(t, h.out.String(), "Detected missing node_modules in: backend. Running installs...")
}

func TestRun_InstallFlagForcesEveryServer(t *testing.T) {
	h := newHarness(t, "exit 0", "sleep 30")
	h.install = true

	assert.Equal(t, 0, h.run(context.Background()))
	assert.Len(t, h.commands.callsTo(fakeNpm), 2)
	assert.NotContains(t, h.out.String(), "Detected missing")
}

func TestRun_InstallFailureAbortsBeforeSpawning(t *testing.T) {
	h := newHarness(t, "echo should-not-run", "echo should-not-run")
	h.install = true
	h.commands.responses = map[string]fakeResponse{fakeNpm: {code: 9}}

	assert.Equal(t, 9, h.run(context.Background()))
	assert.NotContains(t, h.out.String(), "should-not-run")
	assert.NotContains(t, h.out.String(), "Starting servers")
}

func TestRun_MissingPackageManagerExitsOne(t *testing.T) {
	h := newHarness(t, "exit 0", "exit 0")
	h.paths = tools.Paths{}

	assert.Equal(t, 1, h.run(context.Background()))
	assert.Contains(t, h.errOut.String(), "Error: 'npm' not found on PATH.")
	assert.NotContains(t, h.out.String(), "Starting servers")
}

func TestRun_HeldLockExitsOne(t *testing.T) {
	h := newHarness(t, "exit 0", "exit 0")

	lock, err := AcquireRunLock(h.root, logging.Nop())
	require.NoError(t, err)
	defer lock.Release()

	assert.Equal(t, 1, h.run(context.Background()))
	assert.Contains(t, h.errOut.String(), "Error: another devrun is already running in")
	assert.NotContains(t, h.out.String(), "Starting servers")
}

func TestRun_InvalidConfigExitsOne(t *testing.T) {
	h := newHarness(t, "exit 0", "exit 0")
	h.config.LogLevel = "loud"
	h.config.Servers[1].Port = -1

	assert.Equal(t, 1, h.run(context.Background()))
	assert.Contains(t, h.errOut.String(), "unsupported log level: loud")
	assert.Contains(t, h.errOut.String(), `server "backend": port must be between 0 and 65535`)
	assert.NotContains(t, h.out.String(), "Starting servers")
}

func TestRun_SpawnFailureStopsStartedServers(t *testing.T) {
	h := newHarness(t, "sleep 30", "exit 0")
	h.config.Servers[1].Command = []string{filepath.Join(h.root, "missing-binary")}

	start := time.Now()
	assert.Equal(t, 1, h.run(context.Background()))
	assert.Less(t, time.Since(start), 10*time.Second)
}

func TestRun_DatabaseFallsBackToDefaultURL(t *testing.T) {
	h := newHarness(t, "exit 0", "sleep 30")
	h.config.Database.Skip = false
	h.paths = tools.Paths{PackageManager: fakeNpm, Psql: "/usr/bin/psql", Createdb: "/usr/bin/createdb"}
	require.NoError(t, os.WriteFile(filepath.Join(h.root, "backend", ".env"), []byte("PORT=5000\n# comment\n"), 0o600))

	assert.Equal(t, 0, h.run(context.Background()))

	psql := h.commands.callsTo("/usr/bin/psql")
	require.Len(t, psql, 1)
	assert.Contains(t, psql[0].Args, "SELECT 1 FROM pg_database WHERE datname='museum';")
	assert.Contains(t, psql[0].Environment, "PGPASSWORD=admin")

	createdb := h.commands.callsTo("/usr/bin/createdb")
	require.Len(t, createdb, 1)
	assert.Equal(t, "museum", createdb[0].Args[len(createdb[0].Args)-1])
	assert.Contains(t, h.out.String(), "Checking local PostgreSQL...")
}

func TestRun_DatabaseUsesEnvFileURL(t *testing.T) {
	h := newHarness(t, "exit 0", "sleep 30")
	h.config.Database.Skip = false
	h.paths = tools.Paths{PackageManager: fakeNpm, Psql: "/usr/bin/psql", Createdb: "/usr/bin/createdb"}
	h.commands.responses = map[string]fakeResponse{"/usr/bin/psql": {stdout: "1\n"}}
	require.NoError(t, os.WriteFile(filepath.Join(h.root, "backend", ".env"),
		[]byte("DATABASE_URL=postgres://u:p@db.local:1234/mydb\n"), 0o600))

	assert.Equal(t, 0, h.run(context.Background()))

	psql := h.commands.callsTo("/usr/bin/psql")
	require.Len(t, psql, 1)
	assert.Equal(t, []string{"-h", "db.local", "-p", "1234", "-U", "u"}, psql[0].Args[:6])
	assert.Empty(t, h.commands.callsTo("/usr/bin/createdb"), "database exists")
}

func TestRun_ReadinessAnnouncement(t *testing.T) {
	h := newHarness(t, "sleep 30", "sleep 30")
	enabled := true
	h.config.Readiness.Enabled = &enabled
	h.config.Readiness.Interval = 500 * time.Millisecond
	h.config.Servers[0].Port = freePortListening(t)
	h.config.Servers[0].URL = "http://localhost:test"
	h.config.Servers[1].Port = 0

	go func() {
		assert.Eventually(t, func() bool {
			return strings.Contains(h.out.String(), "[frontend] ready at http://localhost:test")
		}, 5*time.Second, 10*time.Millisecond)
		h.interrupts <- os.Interrupt
	}()

	assert.Equal(t, 0, h.run(context.Background()))
}

// freePortListening returns the port of a loopback listener that accepts and
// drops connections until the test ends.
func freePortListening(t *testing.T) int {
	t.Helper()
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { listener.Close() })
	go func() {
		for {
			conn, err := listener.Accept()
			if err != nil {
				return
			}
			conn.Close()
		}
	}()
	return listener.Addr().(*net.TCPAddr).Port
}
