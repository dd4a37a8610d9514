package sessionlog

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

const (
	DefaultRetention = 90 * 24 * time.Hour
	queueSize        = 1024
)

var ErrClosed = errors.New("session log closed")

// Options configures a Manager
type Options struct {
	Dir        string
	BufferSize int
	Retention  time.Duration
	Logger     *slog.Logger     // operator console, slog.Default() when nil
	Now        func() time.Time // clock, time.Now when nil
}

// Manager owns the session lifecycle: the in-memory ring of recent entries
// and the append-only NDJSON file of the current session.
//
// File writes are serialized through a single writer goroutine so that the
// on-disk order always matches the order entries were logged in.
type Manager struct {
	dir       string
	retention time.Duration
	ring      *Ring
	logger    *slog.Logger
	now       func() time.Time

	mu           sync.Mutex
	current      string
	lastRotation time.Time
	started      bool
	closed       bool

	queue chan writeRequest
	done  chan struct{}
}

type writeRequest struct {
	line   []byte
	rotate string        // open this file as the new session
	ack    chan struct{} // closed once the request has been handled
}

// NewManager creates a Manager. Call Init before logging.
func NewManager(opts Options) *Manager {
	retention := opts.Retention
	if retention <= 0 {
		retention = DefaultRetention
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Manager{
		dir:       opts.Dir,
		retention: retention,
		ring:      NewRing(opts.BufferSize),
		logger:    opts.Logger,
		now:       now,
		queue:     make(chan writeRequest, queueSize),
		done:      make(chan struct{}),
	}
}

func (m *Manager) console() *slog.Logger {
	if m.logger != nil {
		return m.logger
	}
	return slog.Default()
}

// Dir returns the session log directory
func (m *Manager) Dir() string {
	return m.dir
}

// Init ensures the log directory exists, sweeps expired sessions and opens the first session
func (m *Manager) Init() error {
	if err := os.MkdirAll(m.dir, 0o755); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}

	m.Sweep()

	return m.Rotate()
}

// Rotate clears the ring buffer and starts a new session file.
// Earlier session files are left untouched.
func (m *Manager) Rotate() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	if !m.started {
		m.started = true
		go m.writer()
	}

	ts := m.now().UTC().Truncate(time.Millisecond)
	if !ts.After(m.lastRotation) {
		ts = m.lastRotation.Add(time.Millisecond)
	}
	m.lastRotation = ts
	name := SessionFileName(ts)
	m.current = name
	m.ring.Clear()

	ack := make(chan struct{})
	m.queue <- writeRequest{rotate: filepath.Join(m.dir, name), ack: ack}
	m.mu.Unlock()

	<-ack
	return nil
}

// CurrentSession returns the file name of the session receiving writes
func (m *Manager) CurrentSession() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// Log records a line. Disk failures are reported on the console and never returned.
func (m *Manager) Log(source Source, message string, pid int) LogEntry {
	return m.LogStream(source, "", message, pid)
}

// LogStream records a line read from a child's stdout or stderr
func (m *Manager) LogStream(source Source, stream Stream, message string, pid int) LogEntry {
	m.mu.Lock()
	entry := newEntry(m.now(), source, stream, message, pid)
	m.ring.Add(entry)

	if !m.closed && m.started {
		line, err := json.Marshal(entry)
		if err != nil {
			m.console().Error("Failed to encode log entry", "error", err)
		} else {
			m.queue <- writeRequest{line: append(line, '\n')}
		}
	}
	m.mu.Unlock()

	m.mirror(entry)
	return entry
}

// Logf is a convenience wrapper for supervisor messages
func (m *Manager) Logf(source Source, format string, args ...any) LogEntry {
	return m.Log(source, fmt.Sprintf(format, args...), 0)
}

func (m *Manager) mirror(e LogEntry) {
	attrs := []any{"source", string(e.Source)}
	if e.Pid != nil {
		attrs = append(attrs, "pid", *e.Pid)
	}
	if e.Stream != "" {
		attrs = append(attrs, "stream", string(e.Stream))
	}
	if e.Source == SourceStderr || e.Stream == StreamStderr {
		m.console().Warn(e.Message, attrs...)
		return
	}
	m.console().Info(e.Message, attrs...)
}

// Entries returns the live view of the current session, oldest first
func (m *Manager) Entries() []LogEntry {
	return m.ring.Entries()
}

// Subscribe streams entries logged from now on
func (m *Manager) Subscribe() chan LogEntry {
	return m.ring.Subscribe()
}

// Unsubscribe stops a stream returned by Subscribe
func (m *Manager) Unsubscribe(ch chan LogEntry) {
	m.ring.Unsubscribe(ch)
}

// Flush blocks until every line logged so far has been handed to the file
func (m *Manager) Flush() {
	m.mu.Lock()
	if m.closed || !m.started {
		m.mu.Unlock()
		return
	}
	ack := make(chan struct{})
	m.queue <- writeRequest{ack: ack}
	m.mu.Unlock()

	<-ack
}

// Close flushes pending writes and closes the session file
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	started := m.started
	close(m.queue)
	m.mu.Unlock()

	if started {
		<-m.done
	}
}

// writer owns the session file handle
func (m *Manager) writer() {
	defer close(m.done)

	var f *os.File
	defer func() {
		if f != nil {
			f.Close()
		}
	}()

	for req := range m.queue {
		switch {
		case req.rotate != "":
			if f != nil {
				if err := f.Close(); err != nil {
					m.console().Error("Failed to close session log", "error", err)
				}
				f = nil
			}
			nf, err := os.OpenFile(req.rotate, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
			if err != nil {
				m.console().Error("Failed to open session log", "path", req.rotate, "error", err)
			} else {
				f = nf
			}
		case req.line != nil:
			if f == nil {
				continue
			}
			if _, err := f.Write(req.line); err != nil {
				m.console().Error("Failed to append to session log", "path", f.Name(), "error", err)
			}
		}

		if req.ack != nil {
			close(req.ack)
		}
	}
}
