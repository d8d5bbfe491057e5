//go:build windows

package tools

import (
	"os"
	"path/filepath"

	"golang.org/x/sys/windows/registry"
)

const installationsKey = `SOFTWARE\PostgreSQL\Installations`

func platformSuffixes() []string {
	return []string{".cmd", ".exe"}
}

func platformInstallRoots() []string {
	roots := []string{
		`C:\Program Files\PostgreSQL`,
		`C:\Program Files (x86)\PostgreSQL`,
	}
	if home, err := os.UserHomeDir(); err == nil {
		roots = append(roots, filepath.Join(home, "PostgreSQL"))
	}
	return roots
}

func platformInstallGlobs() []string {
	return nil
}

// platformRegistryDirs reads the "Base Directory" value of every installation
// registered by the EnterpriseDB installer.
func platformRegistryDirs() []string {
	root, err := registry.OpenKey(registry.LOCAL_MACHINE, installationsKey, registry.ENUMERATE_SUB_KEYS)
	if err != nil {
		return nil
	}
	defer root.Close()

	names, err := root.ReadSubKeyNames(-1)
	if err != nil {
		return nil
	}

	var dirs []string
	for _, name := range names {
		sub, err := registry.OpenKey(root, name, registry.QUERY_VALUE)
		if err != nil {
			continue
		}
		base, _, err := sub.GetStringValue("Base Directory")
		sub.Close()
		if err != nil || base == "" {
			continue
		}
		dirs = append(dirs, filepath.Join(base, "bin"))
	}
	return dirs
}
