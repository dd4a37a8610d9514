package supervisor

import (
	"bufio"
	"io"
	"log/slog"
	"strings"

	"go.olrik.dev/warden/internal/sessionlog"
)

const maxLineSize = 1024 * 1024

// LineSink receives supervisor messages and lines read from child output streams
type LineSink interface {
	Log(source sessionlog.Source, message string, pid int) sessionlog.LogEntry
	LogStream(source sessionlog.Source, stream sessionlog.Stream, message string, pid int) sessionlog.LogEntry
}

// Pump forwards every non-blank line of r to sink, tagged with the stream it
// was read from, until r is exhausted.
// Overlong lines end scanning; the rest of the stream is discarded so the
// child never blocks on a full pipe.
func Pump(r io.Reader, source sessionlog.Source, stream sessionlog.Stream, pid int, sink LineSink) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		sink.LogStream(source, stream, line, pid)
	}

	if err := scanner.Err(); err != nil {
		slog.Debug("Output stream ended with error", "source", string(source), "stream", string(stream), "pid", pid, "error", err)
		io.Copy(io.Discard, r)
	}
}
