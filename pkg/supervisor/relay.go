package supervisor

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
)

// LineSink receives relayed lines. console.Console implements it.
type LineSink interface {
	Line(label, text string)
	ErrLine(label, text string)
}

// relay copies r to sink line by line, prefixed with label, until EOF.
// Read failures are reported on the sink's error stream; relay never panics
// into its caller.
func relay(r io.Reader, label string, sink LineSink, done chan<- struct{}) {
	defer close(done)
	defer func() {
		if v := recover(); v != nil {
			sink.ErrLine(label, fmt.Sprintf("stream error: %v", v))
		}
	}()

	reader := bufio.NewReader(r)
	for {
		line, err := reader.ReadString('\n')
		if line != "" {
			sink.Line(label, line)
		}
		if err == nil {
			continue
		}
		if err != io.EOF && !errors.Is(err, os.ErrClosed) {
			sink.ErrLine(label, fmt.Sprintf("stream error: %v", err))
		}
		return
	}
}
