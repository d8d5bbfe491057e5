package devrun

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/core-tools/hsu-devrun/pkg/database"
	"github.com/core-tools/hsu-devrun/pkg/errors"

	"gopkg.in/yaml.v3"
)

const (
	ConfigFileName = "devrun.yaml"

	defaultPackageManager = "npm"
	defaultEnvFile        = "backend/.env"
	defaultLogLevel       = "info"
)

// Config represents the optional devrun.yaml in the project root.
type Config struct {
	PackageManager string          `yaml:"package_manager,omitempty"`
	Servers        []ServerConfig  `yaml:"servers"`
	Database       DatabaseConfig  `yaml:"database,omitempty"`
	Shutdown       ShutdownConfig  `yaml:"shutdown,omitempty"`
	Readiness      ReadinessConfig `yaml:"readiness,omitempty"`
	LogLevel       string          `yaml:"log_level,omitempty"`
}

// ServerConfig describes one dev server subproject.
type ServerConfig struct {
	Name string `yaml:"name"`
	// Dir is the subproject directory relative to the project root.
	Dir  string `yaml:"dir"`
	Port int    `yaml:"port"`
	URL  string `yaml:"url"`
	// Command replaces the default "<package manager> run dev --prefix <dir>".
	Command []string `yaml:"command,omitempty"`
	// Banner is the label printed in front of URL at startup.
	Banner string `yaml:"banner,omitempty"`
}

type DatabaseConfig struct {
	// EnvFile holds DATABASE_URL, relative to the project root.
	EnvFile          string        `yaml:"env_file,omitempty"`
	DefaultURL       string        `yaml:"default_url,omitempty"`
	Services         []string      `yaml:"services,omitempty"`
	ServiceMatch     string        `yaml:"service_match,omitempty"`
	ServiceTimeout   time.Duration `yaml:"service_timeout,omitempty"`
	SkipServiceCheck bool          `yaml:"skip_service_check,omitempty"`
	Skip             bool          `yaml:"skip,omitempty"`
}

type ShutdownConfig struct {
	Timeout          time.Duration `yaml:"timeout,omitempty"`
	LivenessInterval time.Duration `yaml:"liveness_interval,omitempty"`
	WaitInterval     time.Duration `yaml:"wait_interval,omitempty"`
	// ReapStale stops servers a crashed previous run left running instead of
	// only warning about them. Recorded PIDs can be reused by the OS, so a
	// process is only stopped when its start time shows it predates the PID
	// file. Where the start time cannot be read the process is left alone.
	ReapStale bool `yaml:"reap_stale,omitempty"`
}

type ReadinessConfig struct {
	// Enabled is a pointer to distinguish unset from false.
	Enabled  *bool         `yaml:"enabled,omitempty"`
	Interval time.Duration `yaml:"interval,omitempty"`
	Deadline time.Duration `yaml:"deadline,omitempty"`
}

// DefaultConfig returns the built-in layout: frontend on 5173, backend on 5000.
func DefaultConfig() *Config {
	config := &Config{}
	_ = setConfigDefaults(config)
	return config
}

// LoadConfig reads devrun.yaml from projectRoot. A missing file yields the defaults.
func LoadConfig(projectRoot string) (*Config, error) {
	filename := filepath.Join(projectRoot, ConfigFileName)
	if _, err := os.Stat(filename); os.IsNotExist(err) {
		return DefaultConfig(), nil
	}
	return LoadConfigFromFile(filename)
}

// LoadConfigFromFile loads the configuration from a YAML file
func LoadConfigFromFile(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, errors.NewIOError("failed to read configuration file", err).WithContext("filename", filename)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, errors.NewValidationError("failed to parse YAML configuration", err).WithContext("filename", filename)
	}

	if err := setConfigDefaults(&config); err != nil {
		return nil, errors.NewValidationError("failed to apply configuration defaults", err)
	}

	return &config, nil
}

// ValidateConfig validates the entire configuration structure
func ValidateConfig(config *Config) error {
	if config == nil {
		return errors.NewValidationError("configuration cannot be nil", nil)
	}

	errs := errors.NewErrorCollection()

	if config.PackageManager == "" {
		errs.Add(errors.NewValidationError("package manager is required", nil))
	}

	if err := validateServersConfig(config.Servers); err != nil {
		errs.Add(errors.NewValidationError("invalid servers configuration", err))
	}

	if config.Shutdown.Timeout < 0 || config.Shutdown.LivenessInterval < 0 || config.Shutdown.WaitInterval < 0 {
		errs.Add(errors.NewValidationError("shutdown durations cannot be negative", nil))
	}

	if config.Database.ServiceTimeout < 0 {
		errs.Add(errors.NewValidationError("database service timeout cannot be negative", nil))
	}

	if config.Readiness.Interval < 0 || config.Readiness.Deadline < 0 {
		errs.Add(errors.NewValidationError("readiness durations cannot be negative", nil))
	}

	switch config.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		errs.Add(errors.NewValidationError("unsupported log level: "+config.LogLevel, nil).
			WithContext("supported_levels", "debug, info, warn, error"))
	}

	return errs.ToError()
}

// validateServersConfig reports every invalid server, not just the first.
func validateServersConfig(servers []ServerConfig) error {
	if len(servers) == 0 {
		return errors.NewValidationError("at least one server is required", nil)
	}

	errs := errors.NewErrorCollection()
	seen := make(map[string]bool, len(servers))
	for i, server := range servers {
		if server.Name == "" {
			errs.Add(errors.NewValidationError(fmt.Sprintf("server at index %d has no name", i), nil))
		} else if seen[server.Name] {
			errs.Add(errors.NewValidationError("duplicate server name "+server.Name, nil).WithContext("name", server.Name))
		}
		seen[server.Name] = true

		if server.Dir == "" {
			errs.Add(errors.NewValidationError(fmt.Sprintf("server %q: directory is required", server.Name), nil).
				WithContext("name", server.Name))
		} else if filepath.IsAbs(server.Dir) {
			errs.Add(errors.NewValidationError(fmt.Sprintf("server %q: directory must be relative to the project root", server.Name), nil).
				WithContext("name", server.Name).WithContext("dir", server.Dir))
		}
		if server.Port < 0 || server.Port > 65535 {
			errs.Add(errors.NewValidationError(fmt.Sprintf("server %q: port must be between 0 and 65535", server.Name), nil).
				WithContext("name", server.Name))
		}
	}

	return errs.ToError()
}

// setConfigDefaults applies default values to configuration
func setConfigDefaults(config *Config) error {
	if config.PackageManager == "" {
		config.PackageManager = defaultPackageManager
	}
	if config.LogLevel == "" {
		config.LogLevel = defaultLogLevel
	}

	if len(config.Servers) == 0 {
		config.Servers = []ServerConfig{
			{Name: "frontend", Dir: "frontend", Port: 5173, URL: "http://localhost:5173", Banner: "Frontend:"},
			{Name: "backend", Dir: "backend", Port: 5000, URL: "http://localhost:5000/api", Banner: "API:     "},
		}
	}
	for i := range config.Servers {
		server := &config.Servers[i]
		if server.Dir == "" {
			server.Dir = server.Name
		}
		if server.URL == "" && server.Port > 0 {
			server.URL = fmt.Sprintf("http://localhost:%d", server.Port)
		}
		if server.Banner == "" {
			server.Banner = server.Name + ":"
		}
	}

	if config.Database.EnvFile == "" {
		config.Database.EnvFile = defaultEnvFile
	}
	if config.Database.DefaultURL == "" {
		config.Database.DefaultURL = database.DefaultDatabaseURL
	}

	if config.Readiness.Enabled == nil {
		enabled := true
		config.Readiness.Enabled = &enabled
	}

	return nil
}
