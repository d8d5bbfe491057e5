//go:build linux

package database

import (
	"context"
	"errors"
	"strings"

	domainErrors "github.com/core-tools/hsu-devrun/pkg/errors"

	"github.com/coreos/go-systemd/v22/dbus"
	godbus "github.com/godbus/dbus/v5"
)

// DefaultServiceCandidates are the unit names distribution packages use.
var DefaultServiceCandidates = []string{
	"postgresql.service",
	"postgresql-17.service", "postgresql-16.service", "postgresql-15.service",
	"postgresql-14.service", "postgresql-13.service",
}

type systemdServiceManager struct {
	conn *dbus.Conn
}

// ConnectServiceManager connects to the system instance of systemd over D-Bus.
func ConnectServiceManager(ctx context.Context) (ServiceManager, error) {
	conn, err := dbus.NewSystemConnectionContext(ctx)
	if err != nil {
		return nil, domainErrors.NewServiceError("failed to connect to systemd", err)
	}
	return &systemdServiceManager{conn: conn}, nil
}

func (s *systemdServiceManager) Exists(ctx context.Context, name string) (bool, error) {
	units, err := s.conn.ListUnitsByNamesContext(ctx, []string{name})
	if err != nil {
		return false, domainErrors.NewServiceError("failed to look up unit", err).WithContext("unit", name)
	}
	for _, unit := range units {
		if unit.Name == name && unit.LoadState == "loaded" {
			return true, nil
		}
	}
	return false, nil
}

func (s *systemdServiceManager) List(ctx context.Context) ([]string, error) {
	files, err := s.conn.ListUnitFilesByPatternsContext(ctx, nil, []string{"*.service"})
	if err != nil {
		return nil, domainErrors.NewServiceError("failed to list unit files", err)
	}
	names := make([]string, 0, len(files))
	for _, f := range files {
		name := f.Path
		if i := strings.LastIndex(name, "/"); i >= 0 {
			name = name[i+1:]
		}
		// Template units like postgresql@.service cannot be started by name.
		if strings.Contains(name, "@.") {
			continue
		}
		names = append(names, name)
	}
	return names, nil
}

func (s *systemdServiceManager) IsRunning(ctx context.Context, name string) (bool, error) {
	prop, err := s.conn.GetUnitPropertyContext(ctx, name, "ActiveState")
	if err != nil {
		return false, domainErrors.NewServiceError("failed to query unit", err).WithContext("unit", name)
	}
	state, _ := prop.Value.Value().(string)
	return state == "active" || state == "reloading", nil
}

func (s *systemdServiceManager) Start(ctx context.Context, name string) error {
	resultChan := make(chan string, 1)
	if _, err := s.conn.StartUnitContext(ctx, name, "replace", resultChan); err != nil {
		return startUnitError(name, err)
	}

	select {
	case result := <-resultChan:
		if result != "done" {
			return domainErrors.NewServiceError("start job failed: "+result, nil).WithContext("unit", name)
		}
		return nil
	case <-ctx.Done():
		return startJobAbandoned(name, ctx.Err())
	}
}

// startUnitError maps polkit and D-Bus access denials to permission errors.
func startUnitError(name string, err error) error {
	var busErr godbus.Error
	if errors.As(err, &busErr) {
		switch busErr.Name {
		case "org.freedesktop.DBus.Error.AccessDenied",
			"org.freedesktop.DBus.Error.InteractiveAuthorizationRequired":
			return domainErrors.NewPermissionError("not allowed to start unit", err).WithContext("unit", name)
		}
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return startJobAbandoned(name, err)
	}
	return domainErrors.NewServiceError("failed to start unit", err).WithContext("unit", name)
}

// startJobAbandoned reports a start job that was still queued when ctx ended.
func startJobAbandoned(name string, cause error) error {
	if errors.Is(cause, context.DeadlineExceeded) {
		return domainErrors.NewTimeoutError("start job did not finish in time", cause).WithContext("unit", name)
	}
	return domainErrors.NewCancelledError("start job cancelled", cause).WithContext("unit", name)
}

func (s *systemdServiceManager) Close() error {
	s.conn.Close()
	return nil
}
