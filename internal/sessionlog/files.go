package sessionlog

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

const (
	sessionPrefix = "session-"
	sessionExt    = ".jsonl"
	sessionLayout = "20060102T150405.000Z"
	maxLineSize   = 1024 * 1024
)

var ErrInvalidLogName = errors.New("invalid log file name")

// SessionInfo describes a persisted session file
type SessionInfo struct {
	Name    string    `json:"name"`
	Size    int64     `json:"size"`
	Created time.Time `json:"created"`
}

// SessionFileName returns the sortable file name of a session rotated at ts
func SessionFileName(ts time.Time) string {
	return sessionPrefix + ts.UTC().Format(sessionLayout) + sessionExt
}

// parseSessionTime extracts the rotation timestamp from a session file name
func parseSessionTime(name string) (time.Time, bool) {
	if !strings.HasPrefix(name, sessionPrefix) || !strings.HasSuffix(name, sessionExt) {
		return time.Time{}, false
	}
	raw := strings.TrimSuffix(strings.TrimPrefix(name, sessionPrefix), sessionExt)
	ts, err := time.Parse(sessionLayout, raw)
	if err != nil {
		return time.Time{}, false
	}
	return ts, true
}

// ValidateName rejects names that could escape the log directory or are not session logs.
// It never touches the filesystem.
func ValidateName(name string) error {
	switch {
	case name == "":
		return ErrInvalidLogName
	case strings.Contains(name, ".."):
		return fmt.Errorf("%w: %q contains a parent directory reference", ErrInvalidLogName, name)
	case strings.ContainsAny(name, `/\`):
		return fmt.Errorf("%w: %q contains a path separator", ErrInvalidLogName, name)
	case filepath.Ext(name) != sessionExt:
		return fmt.Errorf("%w: %q does not have the %s extension", ErrInvalidLogName, name, sessionExt)
	}
	return nil
}

// createdAt returns when a session file was created: the rotation timestamp in
// its name, or the modification time for files that do not follow the naming scheme
func createdAt(name string, info os.FileInfo) time.Time {
	if ts, ok := parseSessionTime(name); ok {
		return ts
	}
	return info.ModTime()
}

// ListLogs returns the session files in the log directory, newest first
func (m *Manager) ListLogs() ([]SessionInfo, error) {
	dirEntries, err := os.ReadDir(m.dir)
	if err != nil {
		m.console().Error("Failed to list session logs", "dir", m.dir, "error", err)
		return []SessionInfo{}, err
	}

	sessions := make([]SessionInfo, 0, len(dirEntries))
	for _, de := range dirEntries {
		if de.IsDir() || filepath.Ext(de.Name()) != sessionExt {
			continue
		}
		info, err := de.Info()
		if err != nil {
			// Removed between ReadDir and Info
			continue
		}
		sessions = append(sessions, SessionInfo{
			Name:    de.Name(),
			Size:    info.Size(),
			Created: createdAt(de.Name(), info),
		})
	}

	sort.Slice(sessions, func(i, j int) bool {
		if sessions[i].Created.Equal(sessions[j].Created) {
			return sessions[i].Name > sessions[j].Name
		}
		return sessions[i].Created.After(sessions[j].Created)
	})

	return sessions, nil
}

// ReadLog parses a session file. Malformed lines are skipped. Invalid names
// return ErrInvalidLogName; read failures yield a single synthetic entry
// describing the problem so callers always get entries to display.
func (m *Manager) ReadLog(name string) ([]LogEntry, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}

	f, err := os.Open(filepath.Join(m.dir, name))
	if err != nil {
		return m.readFailure(name, err), nil
	}
	defer f.Close()

	entries := []LogEntry{}
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(strings.TrimSpace(string(line))) == 0 {
			continue
		}
		var e LogEntry
		if err := json.Unmarshal(line, &e); err != nil {
			continue
		}
		entries = append(entries, e)
	}
	if err := scanner.Err(); err != nil {
		return m.readFailure(name, err), nil
	}

	return entries, nil
}

func (m *Manager) readFailure(name string, err error) []LogEntry {
	m.console().Error("Failed to read session log", "file", name, "error", err)
	return []LogEntry{newEntry(m.now(), SourceSupervisor, "", fmt.Sprintf("Error reading log file %s: %v", name, err), 0)}
}
