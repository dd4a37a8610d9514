package cmd

import (
	"context"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.olrik.dev/warden/internal/api"
	"go.olrik.dev/warden/internal/client"
	"go.olrik.dev/warden/internal/core"
	"go.olrik.dev/warden/internal/portreclaim"
	"go.olrik.dev/warden/internal/supervisor"
)

func quietLogger(t *testing.T) {
	t.Helper()
	old := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(io.Discard, nil)))
	t.Cleanup(func() { slog.SetDefault(old) })
}

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port
}

func waitFor(t *testing.T, timeout time.Duration, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("Timed out waiting for %s", what)
}

func TestServeEndToEnd(t *testing.T) {
	quietLogger(t)

	dir := t.TempDir()
	cfg := core.GetDefaultConfig()
	cfg.Port = freePort(t)
	cfg.AppPort = 0
	cfg.DataDir = filepath.Join(dir, "data")
	cfg.Dashboard = filepath.Join(dir, "dashboard.html")
	cfg.Logs.Dir = filepath.Join(dir, "logs")
	cfg.Backend = core.ProcessConfig{Command: "sh", Args: []string{"-c", "echo backend up; exec sleep 30"}}
	cfg.Frontend = core.ProcessConfig{Command: "sh", Args: []string{"-c", "echo frontend up; exec sleep 30"}}
	cfg.Restart.StopTimeout = time.Second
	cfg.Commands.ProjectDir = dir
	cfg.Commands.Pull = []string{"sh", "-c", "echo pulled"}

	if err := os.WriteFile(cfg.Dashboard, []byte("<html>warden</html>"), 0o644); err != nil {
		t.Fatalf("write dashboard: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- serve(ctx, cfg, portreclaim.Noop{}) }()

	c := client.FromConfig(cfg)
	waitFor(t, 10*time.Second, "processes to be running", func() bool {
		status, _, err := c.Status(ctx)
		return err == nil && status.Status == supervisor.StatusRunning
	})

	if _, err := c.Action(ctx, api.ActionPull); err != nil {
		t.Fatalf("pull: %v", err)
	}
	waitFor(t, 10*time.Second, "pull output in the session log", func() bool {
		entries, err := c.Logs(ctx)
		if err != nil {
			return false
		}
		for _, e := range entries {
			if e.Message == "pulled" {
				return true
			}
		}
		return false
	})

	entries, err := c.Logs(ctx)
	if err != nil {
		t.Fatalf("logs: %v", err)
	}
	var sawBackend, sawFrontend bool
	for _, e := range entries {
		sawBackend = sawBackend || e.Message == "backend up"
		sawFrontend = sawFrontend || e.Message == "frontend up"
	}
	if !sawBackend || !sawFrontend {
		t.Errorf("Expected output from both processes, got %+v", entries)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Expected clean shutdown, got %v", err)
		}
	case <-time.After(15 * time.Second):
		t.Fatal("serve did not return after cancellation")
	}

	files, err := os.ReadDir(cfg.Logs.Dir)
	if err != nil {
		t.Fatalf("read log dir: %v", err)
	}
	if len(files) == 0 || !strings.HasSuffix(files[0].Name(), ".jsonl") {
		t.Errorf("Expected a session file in %s, got %v", cfg.Logs.Dir, files)
	}
	if _, err := os.Stat(cfg.DatabasePath()); err != nil {
		t.Errorf("Expected event database at %s: %v", cfg.DatabasePath(), err)
	}
}
