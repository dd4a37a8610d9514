package supervisor

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"syscall"
	"time"

	"go.olrik.dev/warden/internal/core"
	"go.olrik.dev/warden/internal/sessionlog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"
)

// Role names one of the two supervised children
type Role string

const (
	RoleBackend  Role = "backend"
	RoleFrontend Role = "frontend"
)

// unit is one supervised child: its process, output streams and exit signal
type unit struct {
	role Role
	cmd  *exec.Cmd
	pid  int

	done     chan struct{} // closed once the child has been reaped
	exitCode int
	exitErr  error
}

// startUnit spawns the child described by cfg and begins multiplexing its
// stdout and stderr into sink under the role's source
func startUnit(role Role, cfg core.ProcessConfig, sink LineSink) (*unit, error) {
	if cfg.Command == "" {
		return nil, fmt.Errorf("%s: no command configured", role)
	}

	cmd := exec.Command(cfg.Command, cfg.Args...)
	cmd.Dir = cfg.Dir
	if len(cfg.Env) > 0 {
		cmd.Env = os.Environ()
		for k, v := range cfg.Env {
			cmd.Env = append(cmd.Env, k+"="+v)
		}
	}
	setProcessGroup(cmd)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("%s: failed to create stdout pipe: %w", role, err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("%s: failed to create stderr pipe: %w", role, err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%s: failed to start %s: %w", role, cfg.Command, err)
	}

	u := &unit{
		role: role,
		cmd:  cmd,
		pid:  cmd.Process.Pid,
		done: make(chan struct{}),
	}

	source := sessionlog.Source(role)
	var g errgroup.Group
	g.Go(func() error {
		Pump(stdout, source, sessionlog.StreamStdout, u.pid, sink)
		return nil
	})
	g.Go(func() error {
		Pump(stderr, source, sessionlog.StreamStderr, u.pid, sink)
		return nil
	})

	go func() {
		// Pipes must be drained before Wait closes them
		g.Wait()
		err := cmd.Wait()
		u.exitCode, u.exitErr = exitStatus(err)
		close(u.done)
	}()

	slog.Debug("Started child", "role", string(role), "pid", u.pid, "command", cfg.Command)
	return u, nil
}

// exitStatus converts the result of cmd.Wait into an exit code. Children
// killed by a signal report 128+signal like a shell would.
func exitStatus(err error) (int, error) {
	if err == nil {
		return 0, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if ws, ok := exitErr.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
			return 128 + int(ws.Signal()), err
		}
		return exitErr.ExitCode(), err
	}
	return -1, err
}

// exited reports whether the child has been reaped
func (u *unit) exited() bool {
	select {
	case <-u.done:
		return true
	default:
		return false
	}
}

// terminate sends SIGTERM to the child's process group, waits up to timeout
// for it to exit and then falls back to SIGKILL. Errors are logged, not returned.
func (u *unit) terminate(timeout time.Duration) {
	if u == nil || u.exited() {
		return
	}

	if err := signalGroup(u.pid, unix.SIGTERM); err != nil {
		slog.Warn("Failed to send SIGTERM to child, forcing kill", "role", string(u.role), "pid", u.pid, "error", err)
	} else {
		select {
		case <-u.done:
			slog.Debug("Child terminated gracefully", "role", string(u.role), "pid", u.pid)
			return
		case <-time.After(timeout):
			slog.Warn("Child did not exit in time, forcing kill", "role", string(u.role), "pid", u.pid, "timeout", timeout)
		}
	}

	if err := signalGroup(u.pid, unix.SIGKILL); err != nil {
		slog.Error("Failed to kill child", "role", string(u.role), "pid", u.pid, "error", err)
		return
	}

	select {
	case <-u.done:
	case <-time.After(timeout):
		slog.Error("Child survived SIGKILL", "role", string(u.role), "pid", u.pid)
	}
}
