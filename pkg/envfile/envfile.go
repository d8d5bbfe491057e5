// Package envfile reads KEY=VALUE configuration files such as backend/.env.
package envfile

import (
	"bufio"
	"io"
	"os"
	"strings"
)

// Map holds the parsed keys. Later lines override earlier ones.
type Map map[string]string

// Get returns the value for key and whether it was set.
func (m Map) Get(key string) (string, bool) {
	v, ok := m[key]
	return v, ok
}

// Read parses the file at path. A missing or unreadable file yields an empty map.
func Read(path string) Map {
	f, err := os.Open(path)
	if err != nil {
		return Map{}
	}
	defer f.Close()

	return Parse(f)
}

// Parse reads KEY=VALUE lines from r. Blank lines, lines starting with '#'
// and lines without '=' are skipped. Key and value are trimmed. A read error
// stops parsing and keeps what was read so far.
func Parse(r io.Reader) Map {
	m := Map{}

	reader := bufio.NewReader(r)
	for {
		line, err := reader.ReadString('\n')
		parseLine(m, line)
		if err != nil {
			break
		}
	}

	return m
}

func parseLine(m Map, line string) {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") {
		return
	}
	key, value, found := strings.Cut(line, "=")
	if !found {
		return
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return
	}
	m[key] = strings.TrimSpace(value)
}
