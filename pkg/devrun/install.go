package devrun

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/core-tools/hsu-devrun/pkg/console"
	"github.com/core-tools/hsu-devrun/pkg/errors"
	"github.com/core-tools/hsu-devrun/pkg/process"
)

const (
	StepInstall = "install"

	dependencyDir = "node_modules"
)

// MissingDependencies lists the servers without a dependency directory.
func MissingDependencies(projectRoot string, servers []ServerConfig) []ServerConfig {
	var missing []ServerConfig
	for _, server := range servers {
		info, err := os.Stat(filepath.Join(projectRoot, server.Dir, dependencyDir))
		if err != nil || !info.IsDir() {
			missing = append(missing, server)
		}
	}
	return missing
}

// InstallPlan lists the servers whose dependencies must be installed. The
// install always covers every server: it runs when force is set or when any
// server lacks its dependency directory, and is skipped otherwise.
func InstallPlan(projectRoot string, servers []ServerConfig, force bool) []ServerConfig {
	if force || len(MissingDependencies(projectRoot, servers)) > 0 {
		return servers
	}
	return nil
}

func installCommand(packageManager string, server ServerConfig) process.ExecutionConfig {
	return process.ExecutionConfig{
		ExecutablePath: packageManager,
		Args:           []string{"install", "--prefix", server.Dir},
	}
}

// RunInstall runs the package manager's install for every server in plan,
// stopping at the first failure. Install output goes straight to the console.
func RunInstall(ctx context.Context, commands process.Runner, packageManager, projectRoot string, plan []ServerConfig, out *console.Console) errors.Outcome {
	if len(plan) == 0 {
		return errors.OK(StepInstall)
	}

	out.Printf("Installing dependencies...")
	out.Printf("")
	for _, server := range plan {
		out.Printf("→ %s install in %s...", filepath.Base(packageManager), server.Dir)

		execution := installCommand(packageManager, server)
		execution.WorkingDirectory = projectRoot

		code, err := commands.Run(ctx, execution, out.Out(), out.Err())
		if err != nil {
			out.ErrLine("", fmt.Sprintf("Install failed for %s: %v", server.Name, err))
			return errors.Fatal(StepInstall, 1, err)
		}
		if code != 0 {
			out.ErrLine("", fmt.Sprintf("Install failed for %s (exit %d).", server.Name, code))
			return errors.Fatal(StepInstall, code,
				errors.NewProcessError("dependency installation failed", nil).
					WithContext("server", server.Name).
					WithContext("exit_code", strconv.Itoa(code)))
		}
	}
	out.Printf("✓ Dependencies installed.")
	out.Printf("")
	return errors.OK(StepInstall)
}

func serverNames(servers []ServerConfig) string {
	names := make([]string, 0, len(servers))
	for _, server := range servers {
		names = append(names, server.Name)
	}
	return strings.Join(names, ", ")
}
