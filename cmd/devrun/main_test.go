package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/core-tools/hsu-devrun/pkg/console"
	"github.com/core-tools/hsu-devrun/pkg/devrun"
	"github.com/core-tools/hsu-devrun/pkg/logging"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sessionCall struct {
	options devrun.RunnerOptions
}

// stubSession replaces the runner for the duration of the test.
func stubSession(t *testing.T, root string, code int) *[]sessionCall {
	t.Helper()
	var calls []sessionCall

	prevSession, prevGetwd := runSession, getwd
	t.Cleanup(func() { runSession, getwd = prevSession, prevGetwd })

	getwd = func() (string, error) { return root, nil }
	runSession = func(ctx context.Context, options devrun.RunnerOptions, out *console.Console, logger logging.Logger) int {
		calls = append(calls, sessionCall{options: options})
		return code
	}
	return &calls
}

func TestRun_Flags(t *testing.T) {
	tests := []struct {
		name        string
		argv        []string
		wantCode    int
		wantSession bool
		wantInstall bool
		wantStdout  string
		wantStderr  string
	}{
		{name: "no_args", argv: nil, wantCode: 3, wantSession: true},
		{name: "install", argv: []string{"--install"}, wantCode: 3, wantSession: true, wantInstall: true},
		{name: "help", argv: []string{"--help"}, wantCode: 0, wantStdout: "--install"},
		{name: "unknown_flag", argv: []string{"--verbose"}, wantCode: 1, wantStderr: "Command line flags parsing failed"},
		{name: "stray_argument", argv: []string{"frontend"}, wantCode: 1, wantStderr: "Unexpected arguments: frontend"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			root := t.TempDir()
			calls := stubSession(t, root, 3)
			var stdout, stderr bytes.Buffer

			code := run(tt.argv, &stdout, &stderr)

			assert.Equal(t, tt.wantCode, code)
			if tt.wantStdout != "" {
				assert.Contains(t, stdout.String(), tt.wantStdout)
			}
			if tt.wantStderr != "" {
				assert.Contains(t, stderr.String(), tt.wantStderr)
			}
			if !tt.wantSession {
				assert.Empty(t, *calls)
				return
			}
			require.Len(t, *calls, 1)
			options := (*calls)[0].options
			assert.Equal(t, tt.wantInstall, options.Install)
			assert.Equal(t, root, options.ProjectRoot)
			require.NotNil(t, options.Config)
			assert.Len(t, options.Config.Servers, 2)
		})
	}
}

func TestRun_BrokenConfigFile(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, devrun.ConfigFileName), []byte("servers: [\n"), 0o644))
	calls := stubSession(t, root, 0)
	var stdout, stderr bytes.Buffer

	assert.Equal(t, 1, run(nil, &stdout, &stderr))
	assert.Contains(t, stderr.String(), "Failed to load devrun.yaml")
	assert.Empty(t, *calls)
}

func TestRun_UnknownLogLevel(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, devrun.ConfigFileName), []byte("log_level: loud\n"), 0o644))
	calls := stubSession(t, root, 0)
	var stdout, stderr bytes.Buffer

	assert.Equal(t, 1, run(nil, &stdout, &stderr))
	assert.Contains(t, stderr.String(), "Failed to set up logging")
	assert.Empty(t, *calls)
}
