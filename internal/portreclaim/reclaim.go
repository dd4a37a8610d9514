// Package portreclaim frees ports still held by listeners left over from a
// previous run before the supervisor binds them again.
package portreclaim

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	psnet "github.com/shirou/gopsutil/v3/net"
	"github.com/shirou/gopsutil/v3/process"
)

// DefaultTimeout bounds a full reclaim pass at startup
const DefaultTimeout = 5 * time.Second

// Reclaimer frees a TCP port held by a stale listener
type Reclaimer interface {
	Reclaim(ctx context.Context, port int) error
}

// Noop leaves ports alone
type Noop struct{}

func (Noop) Reclaim(context.Context, int) error { return nil }

// Gopsutil finds listeners through the platform connection table and
// terminates their owning processes
type Gopsutil struct {
	GracePeriod time.Duration // between SIGTERM and SIGKILL

	connections func(ctx context.Context) ([]psnet.ConnectionStat, error)
	self        int32
}

// NewGopsutil creates a Reclaimer backed by gopsutil
func NewGopsutil(grace time.Duration) *Gopsutil {
	if grace <= 0 {
		grace = 2 * time.Second
	}
	return &Gopsutil{
		GracePeriod: grace,
		connections: func(ctx context.Context) ([]psnet.ConnectionStat, error) {
			return psnet.ConnectionsWithContext(ctx, "tcp")
		},
		self: int32(os.Getpid()),
	}
}

// Owners returns the pids listening on port, excluding this process
func (g *Gopsutil) Owners(ctx context.Context, port int) ([]int32, error) {
	conns, err := g.connections(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list connections: %w", err)
	}

	seen := make(map[int32]bool)
	var pids []int32
	for _, c := range conns {
		if c.Status != "LISTEN" || int(c.Laddr.Port) != port {
			continue
		}
		// Pid is 0 when the owner is not visible to us
		if c.Pid <= 0 || c.Pid == g.self || seen[c.Pid] {
			continue
		}
		seen[c.Pid] = true
		pids = append(pids, c.Pid)
	}
	return pids, nil
}

// Reclaim terminates every process listening on port
func (g *Gopsutil) Reclaim(ctx context.Context, port int) error {
	pids, err := g.Owners(ctx, port)
	if err != nil {
		return err
	}
	if len(pids) == 0 {
		slog.Debug("Port is free", "port", port)
		return nil
	}

	var firstErr error
	for _, pid := range pids {
		if err := g.terminate(ctx, pid); err != nil {
			slog.Error("Failed to reclaim port", "port", port, "pid", pid, "error", err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		slog.Info("Killed stale listener", "port", port, "pid", pid)
	}
	return firstErr
}

// terminate sends SIGTERM, waits for the grace period and then kills
func (g *Gopsutil) terminate(ctx context.Context, pid int32) error {
	proc, err := process.NewProcessWithContext(ctx, pid)
	if err != nil {
		// Already gone
		return nil
	}

	name, _ := proc.NameWithContext(ctx)
	slog.Warn("Terminating stale listener", "pid", pid, "name", name)

	if err := proc.TerminateWithContext(ctx); err != nil {
		slog.Debug("SIGTERM failed, forcing kill", "pid", pid, "error", err)
		return proc.KillWithContext(ctx)
	}

	deadline := time.Now().Add(g.GracePeriod)
	for time.Now().Before(deadline) {
		running, err := proc.IsRunningWithContext(ctx)
		if err != nil || !running {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(100 * time.Millisecond):
		}
	}

	slog.Warn("Stale listener ignored SIGTERM, forcing kill", "pid", pid)
	if err := proc.KillWithContext(ctx); err != nil {
		if running, _ := proc.IsRunningWithContext(ctx); !running {
			return nil
		}
		return err
	}
	return nil
}

// ReclaimAll runs r for each port under a shared timeout. Failures are
// logged and never stop startup.
func ReclaimAll(ctx context.Context, r Reclaimer, timeout time.Duration, ports ...int) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	for _, port := range ports {
		if port <= 0 {
			continue
		}
		if err := r.Reclaim(ctx, port); err != nil {
			slog.Warn("Could not reclaim port, continuing", "port", port, "error", err)
		}
	}
}
