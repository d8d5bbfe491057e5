// Package devrun sequences a development session: lock, configuration, tool
// resolution, dependency installation, database bootstrap, the dev servers
// themselves and their shutdown.
package devrun

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/core-tools/hsu-devrun/pkg/console"
	"github.com/core-tools/hsu-devrun/pkg/database"
	"github.com/core-tools/hsu-devrun/pkg/envfile"
	"github.com/core-tools/hsu-devrun/pkg/errors"
	"github.com/core-tools/hsu-devrun/pkg/logging"
	"github.com/core-tools/hsu-devrun/pkg/monitoring"
	"github.com/core-tools/hsu-devrun/pkg/process"
	"github.com/core-tools/hsu-devrun/pkg/processfile"
	"github.com/core-tools/hsu-devrun/pkg/supervisor"
	"github.com/core-tools/hsu-devrun/pkg/tools"
)

const (
	StepLock   = "lock"
	StepConfig = "config"
	StepTools  = "tools"
	StepSpawn  = "spawn"
)

type RunnerOptions struct {
	ProjectRoot string
	// Install forces dependency installation for every server.
	Install bool
	// Config is loaded from ProjectRoot when nil.
	Config *Config
	// Interrupts wakes the wait for a first exit. When nil, Run listens for
	// SIGINT and SIGTERM itself.
	Interrupts <-chan os.Signal
	// ResolveTools defaults to a platform tools.Locator.
	ResolveTools func(packageManager string) tools.Paths
	// Commands runs the short-lived setup commands.
	Commands process.Runner
	// Services connects to the platform service manager.
	Services database.ServiceManagerFactory
}

type Runner struct {
	options RunnerOptions
	console *console.Console
	logger  logging.Logger
}

func NewRunner(options RunnerOptions, out *console.Console, logger logging.Logger) *Runner {
	if options.ProjectRoot == "" {
		options.ProjectRoot = "."
	}
	if abs, err := filepath.Abs(options.ProjectRoot); err == nil {
		options.ProjectRoot = abs
	}
	if options.ResolveTools == nil {
		options.ResolveTools = tools.NewLocator(logger).Resolve
	}
	if options.Commands == nil {
		options.Commands = process.NewExecRunner()
	}
	return &Runner{
		options: options,
		console: out,
		logger:  logger,
	}
}

// Run executes the session and returns the process exit code: the exit code
// of the server that stopped first, the code of a fatal setup step, or 0.
func (r *Runner) Run(ctx context.Context) int {
	root := r.options.ProjectRoot

	lock, err := AcquireRunLock(root, r.logger)
	if err != nil {
		if errors.IsConflictError(err) {
			r.console.ErrLine("", "Error: another devrun is already running in "+root+".")
		}
		return r.fatal(errors.Fatal(StepLock, 1, err))
	}
	defer lock.Release()

	config := r.options.Config
	if config == nil {
		if config, err = LoadConfig(root); err != nil {
			return r.fatal(errors.Fatal(StepConfig, 1, err))
		}
	}
	if err := ValidateConfig(config); err != nil {
		if errors.IsValidationError(err) {
			r.console.ErrLine("", "Error: invalid "+ConfigFileName+": "+err.Error())
		}
		return r.fatal(errors.Fatal(StepConfig, 1, err))
	}

	pids := processfile.NewProcessFileManager(root, r.logger)
	r.checkStaleServers(pids, config.Shutdown.ReapStale, config.Shutdown.Timeout)

	paths := r.options.ResolveTools(config.PackageManager)
	if paths.PackageManager == "" {
		r.console.ErrLine("", "Error: '"+config.PackageManager+"' not found on PATH. Please install Node.js and "+config.PackageManager+".")
		return r.fatal(errors.Fatal(StepTools, 1, errors.NewNotFoundError("package manager not found", nil).
			WithContext("package_manager", config.PackageManager)))
	}
	r.logger.Debugf("Resolved tools, package manager: %s, psql: %q, createdb: %q", paths.PackageManager, paths.Psql, paths.Createdb)

	if !r.options.Install {
		if missing := MissingDependencies(root, config.Servers); len(missing) > 0 {
			r.console.Printf("Detected missing %s in: %s. Running installs...", dependencyDir, serverNames(missing))
		}
	}
	plan := InstallPlan(root, config.Servers, r.options.Install)
	if outcome := RunInstall(ctx, r.options.Commands, paths.PackageManager, root, plan, r.console); outcome.IsFatal() {
		return r.fatal(outcome)
	}

	if !config.Database.Skip {
		r.bootstrapDatabase(ctx, config, paths)
	}

	r.printBanner(config)

	sup := supervisor.NewSupervisor(supervisor.SupervisorOptions{
		ProjectRoot:      root,
		TerminateTimeout: config.Shutdown.Timeout,
		LivenessInterval: config.Shutdown.LivenessInterval,
		WaitInterval:     config.Shutdown.WaitInterval,
	}, r.console, r.logger)

	interrupts := r.options.Interrupts
	if interrupts == nil {
		signals := make(chan os.Signal, 1)
		signal.Notify(signals, os.Interrupt, syscall.SIGTERM)
		defer signal.Stop(signals)
		interrupts = signals
	}

	procs := make([]*supervisor.ManagedProcess, 0, len(config.Servers))
	for _, server := range config.Servers {
		p, err := sup.Spawn(serverCommand(paths.PackageManager, server), server.Name)
		if err != nil {
			sup.Shutdown(procs...)
			return r.fatal(errors.Fatal(StepSpawn, 1, err))
		}
		procs = append(procs, p)
	}
	if err := pids.Write(recordsOf(procs)); err != nil {
		r.logger.Debugf("Could not record server PIDs: %v", err)
	}
	defer func() {
		if err := pids.Remove(); err != nil {
			r.logger.Debugf("Could not remove %s: %v", pids.Path(), err)
		}
	}()

	watchCtx, stopWatching := context.WithCancel(ctx)
	watchers := r.startReadiness(watchCtx, config)

	first := sup.WaitAny(ctx, interrupts, procs...)
	if first == nil {
		r.console.Printf("")
		r.console.Printf("Shutting down...")
	}

	stopWatching()
	for _, w := range watchers {
		w.Stop()
	}
	sup.Shutdown(procs...)

	if first == nil {
		return 0
	}
	code, _ := first.ExitCode()
	r.logger.Debugf("%s exited first with code %d", first.Label(), code)
	return code
}

func (r *Runner) bootstrapDatabase(ctx context.Context, config *Config, paths tools.Paths) {
	r.console.Printf("Checking local PostgreSQL...")

	bootstrapper := database.NewBootstrapper(database.BootstrapOptions{
		DefaultURL:        config.Database.DefaultURL,
		ServiceCandidates: config.Database.Services,
		ServiceMatch:      config.Database.ServiceMatch,
		ServiceTimeout:    config.Database.ServiceTimeout,
		SkipServiceCheck:  config.Database.SkipServiceCheck,
	}, paths, r.options.Commands, r.options.Services, r.logger)

	env := envfile.Read(filepath.Join(r.options.ProjectRoot, config.Database.EnvFile))
	for _, outcome := range bootstrapper.Run(ctx, env) {
		r.logger.Debugf("Database step %s", outcome)
	}
}

func (r *Runner) printBanner(config *Config) {
	r.console.Printf("Starting servers...")
	r.console.Printf("")
	for _, server := range config.Servers {
		if server.URL != "" {
			r.console.Printf("%s %s", server.Banner, server.URL)
		}
	}
	r.console.Printf("")
}

func (r *Runner) startReadiness(ctx context.Context, config *Config) []monitoring.ReadinessWatcher {
	if config.Readiness.Enabled != nil && !*config.Readiness.Enabled {
		return nil
	}

	var watchers []monitoring.ReadinessWatcher
	for _, server := range config.Servers {
		if server.Port == 0 {
			continue
		}
		w := monitoring.NewReadinessWatcher(monitoring.ReadinessConfig{
			Name:     server.Name,
			URL:      server.URL,
			TCP:      monitoring.TCPReadinessConfig{Address: "localhost", Port: server.Port},
			Interval: config.Readiness.Interval,
			Deadline: config.Readiness.Deadline,
		}, r.announceReady, r.logger)
		if err := w.Start(ctx); err != nil {
			r.logger.Warnf("Readiness check for %s not started: %v", server.Name, err)
			continue
		}
		watchers = append(watchers, w)
	}
	return watchers
}

func (r *Runner) announceReady(name, url string) {
	if url == "" {
		r.console.Line(name, "ready")
		return
	}
	r.console.Line(name, "ready at "+url)
}

// fatal reports a fatal outcome on the failure stream and returns its exit code.
func (r *Runner) fatal(outcome errors.Outcome) int {
	r.logger.Errorf("Aborting: %s", outcome)
	return outcome.ExitCode
}

func serverCommand(packageManager string, server ServerConfig) []string {
	if len(server.Command) > 0 {
		return server.Command
	}
	return []string{packageManager, "run", "dev", "--prefix", server.Dir}
}
