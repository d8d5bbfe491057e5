package database

import (
	"bytes"
	"context"
	"strings"
	"time"

	"github.com/core-tools/hsu-devrun/pkg/envfile"
	"github.com/core-tools/hsu-devrun/pkg/errors"
	"github.com/core-tools/hsu-devrun/pkg/logging"
	"github.com/core-tools/hsu-devrun/pkg/process"
	"github.com/core-tools/hsu-devrun/pkg/tools"
)

const (
	StepService = "database-service"
	StepExists  = "database-exists"
	StepCreate  = "database-create"

	defaultServiceMatch   = "postgres"
	defaultServiceTimeout = 30 * time.Second
)

type BootstrapOptions struct {
	// DefaultURL is used when the env map has no DATABASE_URL.
	DefaultURL string
	// ServiceCandidates are tried by exact name before the substring scan.
	ServiceCandidates []string
	// ServiceMatch is the substring the fallback scan looks for.
	ServiceMatch string
	// ServiceTimeout bounds the whole service check, including a start job.
	ServiceTimeout time.Duration
	// SkipServiceCheck disables step 1.
	SkipServiceCheck bool
}

// Bootstrapper makes a best effort to have the database engine running and
// the target database created. Nothing it does is fatal: the backend creates
// its schema lazily and is expected to cope with a database that is not there.
type Bootstrapper struct {
	options  BootstrapOptions
	tools    tools.Paths
	runner   process.Runner
	services ServiceManagerFactory
	logger   logging.Logger
}

func NewBootstrapper(options BootstrapOptions, paths tools.Paths, runner process.Runner, services ServiceManagerFactory, logger logging.Logger) *Bootstrapper {
	if options.DefaultURL == "" {
		options.DefaultURL = DefaultDatabaseURL
	}
	if options.ServiceCandidates == nil {
		options.ServiceCandidates = DefaultServiceCandidates
	}
	if options.ServiceMatch == "" {
		options.ServiceMatch = defaultServiceMatch
	}
	if options.ServiceTimeout <= 0 {
		options.ServiceTimeout = defaultServiceTimeout
	}
	if services == nil {
		services = ConnectServiceManager
	}
	return &Bootstrapper{
		options:  options,
		tools:    paths,
		runner:   runner,
		services: services,
		logger:   logger,
	}
}

// Run executes the service check, then the existence check and creation
// against the database named by env's DATABASE_URL. The returned outcomes are
// never fatal.
func (b *Bootstrapper) Run(ctx context.Context, env envfile.Map) []errors.Outcome {
	var outcomes []errors.Outcome
	if !b.options.SkipServiceCheck {
		outcomes = append(outcomes, b.EnsureService(ctx))
	}

	dsn := DatabaseURLOrDefault(env, b.options.DefaultURL)
	outcomes = append(outcomes, b.EnsureDatabase(ctx, dsn)...)
	return outcomes
}

// EnsureService starts the database service if it is registered and stopped.
func (b *Bootstrapper) EnsureService(ctx context.Context) errors.Outcome {
	ctx, cancel := context.WithTimeout(ctx, b.options.ServiceTimeout)
	defer cancel()

	sm, err := b.services(ctx)
	if err != nil {
		if err == ErrNoServiceManager {
			b.logger.Infof("No service manager to query; assuming PostgreSQL is managed externally.")
			return errors.OK(StepService)
		}
		b.logger.Warnf("Could not query the service manager (%v); continuing.", err)
		return errors.Recoverable(StepService, err)
	}
	defer sm.Close()

	name, found, err := FindService(ctx, sm, b.options.ServiceCandidates, b.options.ServiceMatch)
	if err != nil {
		b.logger.Warnf("Service detection failed (%v); continuing.", err)
		return errors.Recoverable(StepService, err)
	}
	if !found {
		b.logger.Infof("No PostgreSQL service detected; assuming it's running or managed externally.")
		return errors.OK(StepService)
	}

	running, err := sm.IsRunning(ctx, name)
	if err != nil {
		b.logger.Warnf("Could not query service %s; continuing.", name)
		return errors.Recoverable(StepService, err)
	}
	if running {
		b.logger.Infof("PostgreSQL service '%s' already running.", name)
		return errors.OK(StepService)
	}

	b.logger.Infof("Starting PostgreSQL service '%s'...", name)
	if err := sm.Start(ctx, name); err != nil {
		switch {
		case errors.IsPermissionError(err):
			b.logger.Warnf("Not allowed to start service %s; start it from an elevated shell. Continuing.", name)
		case errors.IsTimeoutError(err):
			b.logger.Warnf("Service %s did not start within %s; continuing.", name, b.options.ServiceTimeout)
		case errors.IsCancelledError(err):
			b.logger.Debugf("Start of service %s cancelled: %v", name, err)
		default:
			b.logger.Warnf("Failed to start service %s (%v); continuing.", name, err)
		}
		return errors.Recoverable(StepService, err)
	}
	return errors.OK(StepService)
}

// EnsureDatabase checks whether the database named in dsn exists and creates it if not.
func (b *Bootstrapper) EnsureDatabase(ctx context.Context, dsn string) []errors.Outcome {
	d, err := ParseConnectionString(dsn)
	if err != nil {
		b.logger.Warnf("Skipping database check: %v", err)
		return []errors.Outcome{errors.Recoverable(StepExists, err)}
	}

	if b.tools.Psql == "" {
		// The backend creates the database on first connect; not verified here.
		b.logger.Infof("psql not found; skipping database existence check (backend will create DB if missing).")
		return []errors.Outcome{errors.Recoverable(StepExists,
			errors.NewNotFoundError("psql not found", nil))}
	}

	exists, err := b.databaseExists(ctx, d)
	if errors.IsCancelledError(err) {
		b.logger.Debugf("Database check cancelled: %v", err)
		return []errors.Outcome{errors.Recoverable(StepExists, err)}
	}
	if err != nil {
		b.logger.Warnf("Skipping database check due to an error: %v", err)
		return []errors.Outcome{errors.Recoverable(StepExists, err)}
	}
	if exists {
		b.logger.Infof("Database '%s' exists.", d.DBName)
		return []errors.Outcome{errors.OK(StepExists)}
	}

	return []errors.Outcome{errors.OK(StepExists), b.createDatabase(ctx, d)}
}

func (b *Bootstrapper) databaseExists(ctx context.Context, d ConnectionDescriptor) (bool, error) {
	args := append(d.ClientArgs(), "-d", MaintenanceDatabase, "-tAc", d.ExistsQuery())

	var stdout, stderr bytes.Buffer
	code, err := b.runner.Run(ctx, process.ExecutionConfig{
		ExecutablePath: b.tools.Psql,
		Args:           args,
		Environment:    d.Environment(),
	}, &stdout, &stderr)
	if err != nil {
		if ctx.Err() != nil {
			return false, errors.NewCancelledError("database check cancelled", ctx.Err())
		}
		return false, errors.NewDatabaseError("failed to run psql", err)
	}
	if code != 0 {
		// Treated like "not found" so that createdb gets a chance, as the
		// query fails the same way when the server rejects the maintenance db.
		b.logger.Debugf("psql exited with %d: %s", code, strings.TrimSpace(stderr.String()))
		return false, nil
	}
	return strings.HasPrefix(strings.TrimSpace(stdout.String()), "1"), nil
}

func (b *Bootstrapper) createDatabase(ctx context.Context, d ConnectionDescriptor) errors.Outcome {
	if b.tools.Createdb == "" {
		b.logger.Warnf("createdb not found; cannot create database automatically.")
		return errors.Recoverable(StepCreate, errors.NewNotFoundError("createdb not found", nil))
	}

	b.logger.Infof("Creating database '%s'...", d.DBName)

	var stdout, stderr bytes.Buffer
	code, err := b.runner.Run(ctx, process.ExecutionConfig{
		ExecutablePath: b.tools.Createdb,
		Args:           append(d.ClientArgs(), d.DBName),
		Environment:    d.Environment(),
	}, &stdout, &stderr)
	if err != nil {
		b.logger.Warnf("Could not run createdb (%v). Continuing.", err)
		return errors.Recoverable(StepCreate, errors.NewDatabaseError("failed to run createdb", err))
	}
	if code != 0 {
		// Lost a race with a concurrent creation, or missing privileges.
		b.logger.Warnf("Could not create database (may already exist). Continuing.")
		return errors.Recoverable(StepCreate,
			errors.NewDatabaseError("createdb failed", nil).
				WithContext("exit_code", code).
				WithContext("stderr", strings.TrimSpace(stderr.String())))
	}

	b.logger.Infof("Created database '%s'.", d.DBName)
	return errors.OK(StepCreate)
}
