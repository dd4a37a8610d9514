package runner

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"go.olrik.dev/warden/internal/core"
	"go.olrik.dev/warden/internal/sessionlog"
)

type capturedLog struct {
	mu      sync.Mutex
	entries []sessionlog.LogEntry
}

func (c *capturedLog) Log(source sessionlog.Source, message string, pid int) sessionlog.LogEntry {
	return c.LogStream(source, "", message, pid)
}

func (c *capturedLog) LogStream(source sessionlog.Source, stream sessionlog.Stream, message string, pid int) sessionlog.LogEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	e := sessionlog.LogEntry{Source: source, Stream: stream, Message: message}
	c.entries = append(c.entries, e)
	return e
}

func (c *capturedLog) bySource(source sessionlog.Source) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []string
	for _, e := range c.entries {
		if e.Source == source {
			out = append(out, e.Message)
		}
	}
	return out
}

func TestRunSuccessStreamsOutput(t *testing.T) {
	log := &capturedLog{}
	r := New(core.CommandsConfig{ProjectDir: t.TempDir()}, log)

	ok, err := r.Run(context.Background(), []string{"sh", "-c", "echo one; echo two; echo oops >&2"})
	if err != nil || !ok {
		t.Fatalf("Expected success, got ok=%v err=%v", ok, err)
	}

	stdout := log.bySource(sessionlog.SourceStdout)
	if len(stdout) != 2 || stdout[0] != "one" || stdout[1] != "two" {
		t.Errorf("Expected stdout [one two], got %v", stdout)
	}
	stderr := log.bySource(sessionlog.SourceStderr)
	if len(stderr) != 1 || stderr[0] != "oops" {
		t.Errorf("Expected stderr [oops], got %v", stderr)
	}
	supervisorLines := log.bySource(sessionlog.SourceSupervisor)
	if len(supervisorLines) != 2 || !strings.HasPrefix(supervisorLines[0], "Running sh -c") ||
		!strings.Contains(supervisorLines[1], "completed successfully") {
		t.Errorf("Unexpected supervisor lines %v", supervisorLines)
	}
}

func TestRunNonZeroExit(t *testing.T) {
	log := &capturedLog{}
	r := New(core.CommandsConfig{ProjectDir: t.TempDir()}, log)

	ok, err := r.Run(context.Background(), []string{"sh", "-c", "echo conflict >&2; exit 1"})
	if ok {
		t.Fatal("Expected failure")
	}
	if err == nil {
		t.Fatal("Expected an error")
	}

	supervisorLines := log.bySource(sessionlog.SourceSupervisor)
	last := supervisorLines[len(supervisorLines)-1]
	if !strings.Contains(last, "failed") || !strings.Contains(last, "exit status 1") {
		t.Errorf("Expected a failure line with the exit status, got %q", last)
	}
}

func TestRunMissingBinary(t *testing.T) {
	log := &capturedLog{}
	r := New(core.CommandsConfig{}, log)

	ok, err := r.Run(context.Background(), []string{"/nonexistent/git", "pull"})
	if ok || err == nil {
		t.Errorf("Expected failure for a missing binary, got ok=%v err=%v", ok, err)
	}
}

func TestRunEmptyCommand(t *testing.T) {
	log := &capturedLog{}
	r := New(core.CommandsConfig{}, log)

	if ok, err := r.Build(context.Background()); ok || err == nil {
		t.Errorf("Expected failure with no build command, got ok=%v err=%v", ok, err)
	}
}

func TestRunTimeout(t *testing.T) {
	log := &capturedLog{}
	r := New(core.CommandsConfig{Timeout: 100 * time.Millisecond}, log)

	start := time.Now()
	ok, err := r.Run(context.Background(), []string{"sleep", "10"})
	if ok {
		t.Fatal("Expected the command to be cut off")
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Expected DeadlineExceeded, got %v", err)
	}
	if time.Since(start) > 5*time.Second {
		t.Errorf("Timeout was not enforced")
	}
}

func TestPullAndBuildUseConfiguredCommands(t *testing.T) {
	log := &capturedLog{}
	r := New(core.CommandsConfig{
		ProjectDir: t.TempDir(),
		Pull:       []string{"sh", "-c", "echo pulled"},
		Build:      []string{"sh", "-c", "pwd"},
	}, log)

	if ok, err := r.Pull(context.Background()); !ok || err != nil {
		t.Fatalf("Pull failed: %v", err)
	}
	if ok, err := r.Build(context.Background()); !ok || err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	stdout := log.bySource(sessionlog.SourceStdout)
	if len(stdout) != 2 || stdout[0] != "pulled" {
		t.Fatalf("Unexpected output %v", stdout)
	}
	if !strings.HasSuffix(stdout[1], r.dir[strings.LastIndex(r.dir, "/"):]) {
		t.Errorf("Expected build to run in %s, got %s", r.dir, stdout[1])
	}
}
