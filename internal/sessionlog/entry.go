package sessionlog

import (
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
)

// Source identifies where a log line came from
type Source string

const (
	SourceStdout     Source = "stdout"
	SourceStderr     Source = "stderr"
	SourceSupervisor Source = "supervisor"
	SourceBackend    Source = "backend"
	SourceFrontend   Source = "frontend"
)

// Stream names the child output stream a line was read from
type Stream string

const (
	StreamStdout Stream = "stdout"
	StreamStderr Stream = "stderr"
)

// LogEntry is one line of a session log. Entries are never modified after creation.
type LogEntry struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Source    Source    `json:"source"`
	Message   string    `json:"message"`
	Pid       *int      `json:"pid,omitempty"`
	Stream    Stream    `json:"stream,omitempty"`
}

func newEntry(now time.Time, source Source, stream Stream, message string, pid int) LogEntry {
	e := LogEntry{
		ID:        uuid.NewString(),
		Timestamp: now.UTC().Truncate(time.Millisecond),
		Source:    source,
		Message:   strings.TrimRightFunc(message, unicode.IsSpace),
		Stream:    stream,
	}
	if pid > 0 {
		e.Pid = &pid
	}
	return e
}
