package database

import (
	"context"
	"strings"

	"github.com/core-tools/hsu-devrun/pkg/errors"
)

// ServiceManager is the platform service controller the database engine may
// be registered with: the Service Control Manager on Windows, systemd on Linux.
type ServiceManager interface {
	// Exists reports whether a service with exactly this name is registered.
	Exists(ctx context.Context, name string) (bool, error)
	// List returns the names of all registered services.
	List(ctx context.Context) ([]string, error)
	IsRunning(ctx context.Context, name string) (bool, error)
	Start(ctx context.Context, name string) error
	Close() error
}

// ServiceManagerFactory connects to the platform service manager.
type ServiceManagerFactory func(ctx context.Context) (ServiceManager, error)

// ErrNoServiceManager is returned on platforms without a supported service manager.
var ErrNoServiceManager = errors.NewServiceError("no supported service manager on this platform", nil)

// FindService tries candidates in order, then scans every registered service
// for one whose name contains match (case-insensitive).
func FindService(ctx context.Context, sm ServiceManager, candidates []string, match string) (string, bool, error) {
	for _, name := range candidates {
		ok, err := sm.Exists(ctx, name)
		if err == nil && ok {
			return name, true, nil
		}
	}

	if match == "" {
		return "", false, nil
	}

	names, err := sm.List(ctx)
	if err != nil {
		return "", false, errors.NewServiceError("failed to list services", err)
	}
	match = strings.ToUpper(match)
	for _, name := range names {
		if strings.Contains(strings.ToUpper(name), match) {
			return name, true, nil
		}
	}
	return "", false, nil
}
