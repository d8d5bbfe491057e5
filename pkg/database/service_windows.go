//go:build windows

package database

import (
	"context"
	"errors"

	domainErrors "github.com/core-tools/hsu-devrun/pkg/errors"

	"golang.org/x/sys/windows"
	"golang.org/x/sys/windows/svc"
	"golang.org/x/sys/windows/svc/mgr"
)

// DefaultServiceCandidates are the names the EnterpriseDB installer and
// common packagings register PostgreSQL under.
var DefaultServiceCandidates = []string{
	"postgresql-x64-17", "postgresql-x64-16", "postgresql-x64-15", "postgresql-x64-14", "postgresql-x64-13",
	"postgresql-17", "postgresql-16", "postgresql-15", "postgresql", "pgsql",
}

type scmServiceManager struct {
	m *mgr.Mgr
}

// ConnectServiceManager opens the local Service Control Manager.
func ConnectServiceManager(ctx context.Context) (ServiceManager, error) {
	m, err := mgr.Connect()
	if err != nil {
		return nil, domainErrors.NewServiceError("failed to connect to service control manager", err)
	}
	return &scmServiceManager{m: m}, nil
}

func (s *scmServiceManager) Exists(ctx context.Context, name string) (bool, error) {
	service, err := s.m.OpenService(name)
	if err != nil {
		return false, nil
	}
	service.Close()
	return true, nil
}

func (s *scmServiceManager) List(ctx context.Context) ([]string, error) {
	names, err := s.m.ListServices()
	if err != nil {
		return nil, domainErrors.NewServiceError("failed to list services", err)
	}
	return names, nil
}

func (s *scmServiceManager) IsRunning(ctx context.Context, name string) (bool, error) {
	service, err := s.m.OpenService(name)
	if err != nil {
		return false, domainErrors.NewServiceError("failed to open service", err).WithContext("service", name)
	}
	defer service.Close()

	status, err := service.Query()
	if err != nil {
		return false, domainErrors.NewServiceError("failed to query service", err).WithContext("service", name)
	}
	return status.State == svc.Running, nil
}

func (s *scmServiceManager) Start(ctx context.Context, name string) error {
	service, err := s.m.OpenService(name)
	if err != nil {
		return startServiceError(name, "failed to open service", err)
	}
	defer service.Close()

	if err := service.Start(); err != nil {
		return startServiceError(name, "failed to start service", err)
	}
	return nil
}

// startServiceError reports ERROR_ACCESS_DENIED, which an unelevated shell
// gets for SERVICE_START, as a permission error.
func startServiceError(name, message string, err error) error {
	if errors.Is(err, windows.ERROR_ACCESS_DENIED) {
		return domainErrors.NewPermissionError(message, err).WithContext("service", name)
	}
	return domainErrors.NewServiceError(message, err).WithContext("service", name)
}

func (s *scmServiceManager) Close() error {
	return s.m.Disconnect()
}
