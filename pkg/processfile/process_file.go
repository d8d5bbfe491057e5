// Package processfile records the PIDs of the dev servers a run started, so
// that the next run can recognise servers a crashed runner left behind.
package processfile

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/core-tools/hsu-devrun/pkg/errors"
	"github.com/core-tools/hsu-devrun/pkg/logging"
)

const DefaultFileName = ".devrun.pids"

// Record is one spawned server.
type Record struct {
	Label string
	PID   int
}

type ProcessFileManager struct {
	path   string
	logger logging.Logger
}

func NewProcessFileManager(projectRoot string, logger logging.Logger) *ProcessFileManager {
	return &ProcessFileManager{
		path:   filepath.Join(projectRoot, DefaultFileName),
		logger: logger,
	}
}

func (m *ProcessFileManager) Path() string {
	return m.path
}

// Write replaces the file with records, one "label pid" pair per line.
func (m *ProcessFileManager) Write(records []Record) error {
	var b bytes.Buffer
	for _, record := range records {
		fmt.Fprintf(&b, "%s %d\n", record.Label, record.PID)
	}

	tmp := m.path + ".tmp"
	if err := os.WriteFile(tmp, b.Bytes(), 0o644); err != nil {
		return errors.NewIOError("failed to write PID file", err).WithContext("pid_file", m.path)
	}
	if err := os.Rename(tmp, m.path); err != nil {
		os.Remove(tmp)
		return errors.NewIOError("failed to replace PID file", err).WithContext("pid_file", m.path)
	}

	m.logger.Debugf("PID file written, path: %s, records: %d", m.path, len(records))
	return nil
}

// Read returns the recorded servers. A missing file is not an error;
// malformed lines are skipped.
func (m *ProcessFileManager) Read() ([]Record, error) {
	content, err := os.ReadFile(m.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.NewIOError("failed to read PID file", err).WithContext("pid_file", m.path)
	}

	var records []Record
	scanner := bufio.NewScanner(bytes.NewReader(content))
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) != 2 {
			continue
		}
		pid, err := strconv.Atoi(fields[1])
		if err != nil || pid <= 0 {
			m.logger.Debugf("Skipping malformed PID file line: %q", scanner.Text())
			continue
		}
		records = append(records, Record{Label: fields[0], PID: pid})
	}
	return records, nil
}

// Written returns the modification time of the file. Every recorded server
// was started before it.
func (m *ProcessFileManager) Written() (time.Time, error) {
	info, err := os.Stat(m.path)
	if err != nil {
		if os.IsNotExist(err) {
			return time.Time{}, errors.NewNotFoundError("PID file not found", err).WithContext("pid_file", m.path)
		}
		return time.Time{}, errors.NewIOError("failed to stat PID file", err).WithContext("pid_file", m.path)
	}
	return info.ModTime(), nil
}

// Remove deletes the file; a file that is already gone is fine.
func (m *ProcessFileManager) Remove() error {
	if err := os.Remove(m.path); err != nil && !os.IsNotExist(err) {
		return errors.NewIOError("failed to remove PID file", err).WithContext("pid_file", m.path)
	}
	return nil
}
