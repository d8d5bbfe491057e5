// Package console is the shared output sink for relayed child output and
// coordinator diagnostics. Every line is a single Write on a locked
// WriteSyncer followed by a Sync, so lines from concurrent relays never
// interleave and nothing sits in a buffer.
package console

import (
	"fmt"
	"io"
	"strings"

	"go.uber.org/zap/zapcore"
)

type Console struct {
	out zapcore.WriteSyncer
	err zapcore.WriteSyncer
}

// New wraps out and errOut into mutex-guarded write syncers.
func New(out, errOut io.Writer) *Console {
	return &Console{
		out: zapcore.Lock(zapcore.AddSync(out)),
		err: zapcore.Lock(zapcore.AddSync(errOut)),
	}
}

// Out is the informational stream. Loggers built on it share its lock.
func (c *Console) Out() zapcore.WriteSyncer {
	return c.out
}

// Err is the failure stream.
func (c *Console) Err() zapcore.WriteSyncer {
	return c.err
}

// Line writes "[label] text" to the informational stream.
func (c *Console) Line(label, text string) {
	writeLine(c.out, label, text)
}

// ErrLine writes "[label] text" to the failure stream.
func (c *Console) ErrLine(label, text string) {
	writeLine(c.err, label, text)
}

// Printf writes an unlabelled line to the informational stream.
func (c *Console) Printf(format string, args ...interface{}) {
	writeLine(c.out, "", fmt.Sprintf(format, args...))
}

func writeLine(ws zapcore.WriteSyncer, label, text string) {
	text = strings.TrimRight(text, "\r\n")

	var b strings.Builder
	b.Grow(len(label) + len(text) + 4)
	if label != "" {
		b.WriteByte('[')
		b.WriteString(label)
		b.WriteString("] ")
	}
	b.WriteString(text)
	b.WriteByte('\n')

	// Terminals reject fsync with EINVAL; a failed flush never loses the line.
	_, _ = ws.Write([]byte(b.String()))
	_ = ws.Sync()
}
