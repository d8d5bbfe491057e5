// Package tools resolves the external executables devrun drives: the
// package manager and the database client utilities.
package tools

import (
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"unicode"

	"github.com/core-tools/hsu-devrun/pkg/logging"
)

// Paths holds the resolved tool locations for one run. Empty means not found.
type Paths struct {
	PackageManager string
	Psql           string
	Createdb       string
}

// Locator searches PATH first, then versioned installation roots, then the
// platform registry where one exists.
type Locator struct {
	// LookPath resolves a bare command name against PATH.
	LookPath func(file string) (string, error)
	// InstallRoots are directories whose versioned subdirectories hold a bin/ folder.
	InstallRoots []string
	// InstallGlobs match versioned installation directories directly, e.g.
	// "/usr/pgsql-*" on RHEL-family systems. Each match holds a bin/ folder.
	InstallGlobs []string
	// RegistryDirs returns additional bin directories from the platform registry.
	RegistryDirs func() []string
	// Suffixes are tried after the bare name, e.g. ".cmd" and ".exe" on Windows.
	Suffixes []string

	logger logging.Logger
}

// NewLocator returns a locator configured for the current platform.
func NewLocator(logger logging.Logger) *Locator {
	return &Locator{
		LookPath:     exec.LookPath,
		InstallRoots: platformInstallRoots(),
		InstallGlobs: platformInstallGlobs(),
		RegistryDirs: platformRegistryDirs,
		Suffixes:     platformSuffixes(),
		logger:       logger,
	}
}

// LocateOnPath looks name up in PATH only, trying each platform suffix.
func (l *Locator) LocateOnPath(name string) (string, bool) {
	for _, candidate := range l.names(name) {
		if path, err := l.LookPath(candidate); err == nil {
			return path, true
		}
	}
	return "", false
}

// Locate finds a single executable.
func (l *Locator) Locate(name string) (string, bool) {
	found := l.LocateTogether(name)
	return found[0], found[0] != ""
}

// LocateTogether resolves several executables that ship together. When PATH
// has all of them they are returned as is. Otherwise the first candidate
// directory containing every one of them wins. Failing that, the PATH results
// are returned, possibly with gaps.
func (l *Locator) LocateTogether(names ...string) []string {
	fromPath := make([]string, len(names))
	complete := true
	for i, name := range names {
		if path, ok := l.LocateOnPath(name); ok {
			fromPath[i] = path
		} else {
			complete = false
		}
	}
	if complete {
		return fromPath
	}

	for _, dir := range l.CandidateDirs() {
		if found, ok := l.allIn(dir, names); ok {
			l.logf("Found %s in %s", strings.Join(names, ", "), dir)
			return found
		}
	}

	return fromPath
}

// CandidateDirs lists fallback bin directories in search order: each install
// root's versions newest first, then glob matches newest first, then registry
// entries.
func (l *Locator) CandidateDirs() []string {
	var dirs []string
	for _, root := range l.InstallRoots {
		entries, err := os.ReadDir(root)
		if err != nil {
			continue
		}
		var versions []string
		for _, entry := range entries {
			if entry.IsDir() {
				versions = append(versions, entry.Name())
			}
		}
		SortNewestFirst(versions)
		for _, version := range versions {
			bin := filepath.Join(root, version, "bin")
			if isDir(bin) {
				dirs = append(dirs, bin)
			}
		}
	}
	for _, pattern := range l.InstallGlobs {
		matches, err := filepath.Glob(pattern)
		if err != nil {
			l.logf("Ignoring install glob %q: %v", pattern, err)
			continue
		}
		SortNewestFirst(matches)
		for _, match := range matches {
			bin := filepath.Join(match, "bin")
			if isDir(bin) {
				dirs = append(dirs, bin)
			}
		}
	}
	if l.RegistryDirs != nil {
		for _, bin := range l.RegistryDirs() {
			if isDir(bin) {
				dirs = append(dirs, bin)
			}
		}
	}
	return dirs
}

func (l *Locator) allIn(dir string, names []string) ([]string, bool) {
	found := make([]string, len(names))
	for i, name := range names {
		for _, candidate := range l.names(name) {
			path := filepath.Join(dir, candidate)
			if isFile(path) {
				found[i] = path
				break
			}
		}
		if found[i] == "" {
			return nil, false
		}
	}
	return found, true
}

func (l *Locator) names(name string) []string {
	names := []string{name}
	for _, suffix := range l.Suffixes {
		names = append(names, name+suffix)
	}
	return names
}

func (l *Locator) logf(format string, args ...interface{}) {
	if l.logger != nil {
		l.logger.Debugf(format, args...)
	}
}

// Resolve locates the package manager and the database client tools once.
func (l *Locator) Resolve(packageManager string) Paths {
	var paths Paths
	paths.PackageManager, _ = l.LocateOnPath(packageManager)

	dbTools := l.LocateTogether("psql", "createdb")
	paths.Psql, paths.Createdb = dbTools[0], dbTools[1]
	return paths
}

// SortNewestFirst orders version directory names so that higher versions come
// first, comparing digit runs numerically ("17" > "9.6" > "9.5").
func SortNewestFirst(versions []string) {
	sort.SliceStable(versions, func(i, j int) bool {
		return compareVersions(versions[i], versions[j]) > 0
	})
}

func compareVersions(a, b string) int {
	ap, bp := splitVersion(a), splitVersion(b)
	for i := 0; i < len(ap) && i < len(bp); i++ {
		if c := comparePart(ap[i], bp[i]); c != 0 {
			return c
		}
	}
	switch {
	case len(ap) > len(bp):
		return 1
	case len(ap) < len(bp):
		return -1
	}
	return 0
}

func comparePart(a, b string) int {
	an, aerr := strconv.Atoi(a)
	bn, berr := strconv.Atoi(b)
	switch {
	case aerr == nil && berr == nil:
		switch {
		case an > bn:
			return 1
		case an < bn:
			return -1
		}
		return 0
	case aerr == nil:
		return 1
	case berr == nil:
		return -1
	}
	return strings.Compare(a, b)
}

// splitVersion breaks "postgresql@16.2" into ["postgresql", "16", "2"].
func splitVersion(v string) []string {
	var parts []string
	var current strings.Builder
	digits := false
	flush := func() {
		if current.Len() > 0 {
			parts = append(parts, current.String())
			current.Reset()
		}
	}
	for _, r := range v {
		isDigit := unicode.IsDigit(r)
		if !isDigit && !unicode.IsLetter(r) {
			flush()
			continue
		}
		if current.Len() > 0 && isDigit != digits {
			flush()
		}
		digits = isDigit
		current.WriteRune(r)
	}
	flush()
	return parts
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

func isFile(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
