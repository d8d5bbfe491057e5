//go:build !windows

package tools

import (
	"os"
	"path/filepath"
	"runtime"
)

func platformSuffixes() []string {
	return nil
}

func platformInstallRoots() []string {
	var roots []string
	switch runtime.GOOS {
	case "darwin":
		roots = []string{
			"/Library/PostgreSQL",
			"/Applications/Postgres.app/Contents/Versions",
		}
	default:
		// Debian/Ubuntu keep one directory per major version.
		roots = []string{"/usr/lib/postgresql"}
	}
	if home, err := os.UserHomeDir(); err == nil {
		roots = append(roots, filepath.Join(home, "PostgreSQL"))
	}
	return roots
}

func platformRegistryDirs() []string {
	return nil
}

func platformInstallGlobs() []string {
	if runtime.GOOS == "linux" {
		// PGDG packages on RHEL/Fedora install under /usr/pgsql-<major>.
		return []string{"/usr/pgsql-*"}
	}
	return nil
}
