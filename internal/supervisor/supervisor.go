package supervisor

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.olrik.dev/warden/internal/core"
	"go.olrik.dev/warden/internal/sessionlog"
	"golang.org/x/sync/errgroup"
)

var ErrAlreadyRunning = errors.New("processes already running")

// Status is the lifecycle state of the supervised pair
type Status string

const (
	StatusStopped  Status = "Stopped"
	StatusStarting Status = "Starting"
	StatusRunning  Status = "Running"
	StatusCrashed  Status = "Crashed"
	StatusFailed   Status = "Failed" // crash loop detected, waiting for a manual restart
)

// ProcessStats is a point-in-time snapshot of the supervisor
type ProcessStats struct {
	Status        Status     `json:"status"`
	Pid           *int       `json:"pid"`
	StartTime     *time.Time `json:"startTime"`
	RestartCount  int        `json:"restartCount"`
	LastExitCode  *int       `json:"lastExitCode"`
	UptimeSeconds int64      `json:"uptimeSeconds"`
}

// SessionLog is what the supervisor needs from the log manager
type SessionLog interface {
	LineSink
	Rotate() error
}

// EventRecorder persists lifecycle events
type EventRecorder interface {
	LogSupervisorEvent(eventType, details string) error
}

// Options configures a Supervisor
type Options struct {
	Backend  core.ProcessConfig
	Frontend core.ProcessConfig
	Restart  core.RestartConfig
	Log      SessionLog
	Events   EventRecorder    // optional
	Now      func() time.Time // time.Now when nil
}

// Supervisor keeps a backend and a frontend process running. If either child
// exits while the supervisor intends to keep running, the other is stopped too
// and the pair is restarted with exponential backoff.
type Supervisor struct {
	backendCfg  core.ProcessConfig
	frontendCfg core.ProcessConfig
	policy      core.RestartConfig
	log         SessionLog
	events      EventRecorder
	now         func() time.Time
	spawn       func(role Role, cfg core.ProcessConfig, sink LineSink) (*unit, error)

	mu           sync.Mutex
	status       Status
	shouldRun    bool
	generation   uint64 // bumped by every Start and Stop; stale exits and timers compare against it
	backend      *unit
	frontend     *unit
	pid          *int
	startTime    *time.Time
	restartCount int
	lastExitCode *int
	breaker      crashBreaker
	timer        *time.Timer
}

// New creates a stopped Supervisor
func New(opts Options) *Supervisor {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Supervisor{
		backendCfg:  opts.Backend,
		frontendCfg: opts.Frontend,
		policy:      opts.Restart,
		log:         opts.Log,
		events:      opts.Events,
		now:         now,
		spawn:       startUnit,
		status:      StatusStopped,
	}
}

func (s *Supervisor) logf(format string, args ...any) {
	s.log.Log(sessionlog.SourceSupervisor, fmt.Sprintf(format, args...), 0)
}

func (s *Supervisor) recordEvent(eventType, details string) {
	if s.events == nil {
		return
	}
	if err := s.events.LogSupervisorEvent(eventType, details); err != nil {
		slog.Error("Failed to record supervisor event", "event", eventType, "error", err)
	}
}

// Start spawns both children. A failed spawn leaves the supervisor Crashed
// with a restart scheduled under the normal restart policy.
func (s *Supervisor) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status == StatusFailed {
		s.breaker.reset()
	}
	return s.startLocked()
}

func (s *Supervisor) startLocked() error {
	if s.status == StatusStarting || s.status == StatusRunning {
		return ErrAlreadyRunning
	}

	s.cancelTimerLocked()
	s.generation++
	gen := s.generation
	s.shouldRun = true
	s.status = StatusStarting
	s.logf("Starting processes")

	backend, err := s.spawn(RoleBackend, s.backendCfg, s.log)
	if err != nil {
		s.spawnFailedLocked(gen, err)
		return err
	}

	frontend, err := s.spawn(RoleFrontend, s.frontendCfg, s.log)
	if err != nil {
		// Never leave a half-started pair behind
		backend.terminate(s.policy.StopTimeout)
		s.spawnFailedLocked(gen, err)
		return err
	}

	startTime := s.now()
	pid := backend.pid
	s.backend = backend
	s.frontend = frontend
	s.pid = &pid
	s.startTime = &startTime
	s.status = StatusRunning

	s.logf("Processes running (backend pid %d, frontend pid %d)", backend.pid, frontend.pid)
	slog.Info("Processes running", "backend_pid", backend.pid, "frontend_pid", frontend.pid)
	s.recordEvent("start", fmt.Sprintf("backend pid %d, frontend pid %d", backend.pid, frontend.pid))

	go s.watch(gen, backend, frontend)
	return nil
}

func (s *Supervisor) spawnFailedLocked(gen uint64, err error) {
	s.status = StatusCrashed
	s.pid = nil
	s.startTime = nil
	s.backend = nil
	s.frontend = nil

	s.logf("Failed to start processes: %v", err)
	slog.Error("Failed to start processes", "error", err)
	s.recordEvent("spawn_error", err.Error())

	s.scheduleRestartLocked(gen, 0)
}

// watch waits for the first child of a generation to exit
func (s *Supervisor) watch(gen uint64, backend, frontend *unit) {
	select {
	case <-backend.done:
		s.onExit(gen, backend, frontend)
	case <-frontend.done:
		s.onExit(gen, frontend, backend)
	}
}

// onExit handles an unintended exit: the sibling is stopped, the session is
// rotated and a restart is scheduled. Exits from an earlier generation or
// during a deliberate stop are ignored.
func (s *Supervisor) onExit(gen uint64, exited, sibling *unit) {
	s.mu.Lock()
	if gen != s.generation {
		s.mu.Unlock()
		return
	}
	if !s.shouldRun {
		s.status = StatusStopped
		s.backend, s.frontend = nil, nil
		s.pid, s.startTime = nil, nil
		s.mu.Unlock()
		return
	}

	code := exited.exitCode
	var uptime time.Duration
	if s.startTime != nil {
		uptime = s.now().Sub(*s.startTime)
	}
	s.status = StatusCrashed
	s.restartCount++
	s.lastExitCode = &code
	s.backend, s.frontend = nil, nil
	s.pid, s.startTime = nil, nil
	restarts := s.restartCount
	s.mu.Unlock()

	s.logf("Process %s (pid %d) exited with code %d", exited.role, exited.pid, code)
	slog.Warn("Child exited unexpectedly", "role", string(exited.role), "pid", exited.pid, "code", code, "restarts", restarts)
	s.recordEvent("crash", fmt.Sprintf("%s pid %d exited with code %d", exited.role, exited.pid, code))

	sibling.terminate(s.policy.StopTimeout)

	if err := s.log.Rotate(); err != nil {
		slog.Error("Failed to rotate session log", "error", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.generation || !s.shouldRun {
		return
	}
	s.scheduleRestartLocked(gen, uptime)
}

// scheduleRestartLocked applies the restart policy after a failure of
// generation gen. It either arms the backoff timer or trips the breaker.
func (s *Supervisor) scheduleRestartLocked(gen uint64, uptime time.Duration) {
	n, tripped := s.breaker.record(s.policy, s.now(), uptime)
	if tripped {
		s.status = StatusFailed
		s.shouldRun = false
		s.logf("Giving up after %d consecutive failures; restart manually", n)
		slog.Error("Crash loop detected, giving up", "failures", n, "window", s.policy.FailureWindow)
		s.recordEvent("failed", fmt.Sprintf("%d consecutive failures", n))
		return
	}

	delay := calculateBackoff(s.policy, n)
	s.logf("Restarting in %s (attempt %d)", delay, n)
	s.armTimerLocked(gen, delay)
}

func (s *Supervisor) armTimerLocked(gen uint64, delay time.Duration) {
	s.cancelTimerLocked()
	s.timer = time.AfterFunc(delay, func() { s.delayedStart(gen) })
}

func (s *Supervisor) cancelTimerLocked() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

// delayedStart runs when a restart timer fires. Timers from a generation that
// has since been stopped or restarted do nothing.
func (s *Supervisor) delayedStart(gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if gen != s.generation || !s.shouldRun {
		return
	}
	s.timer = nil
	if err := s.startLocked(); err != nil && !errors.Is(err, ErrAlreadyRunning) {
		slog.Debug("Scheduled start failed", "error", err)
	}
}

// Stop terminates both children and leaves the supervisor Stopped. Pending
// restarts are cancelled. Failures to stop one child never prevent stopping the other.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	s.shouldRun = false
	s.generation++
	gen := s.generation
	s.cancelTimerLocked()
	backend, frontend := s.backend, s.frontend
	s.backend, s.frontend = nil, nil
	s.mu.Unlock()

	if backend != nil || frontend != nil {
		s.logf("Stopping processes")
		var g errgroup.Group
		for _, u := range []*unit{backend, frontend} {
			if u == nil {
				continue
			}
			g.Go(func() error {
				u.terminate(s.policy.StopTimeout)
				return nil
			})
		}
		g.Wait()
		s.recordEvent("stop", "processes stopped")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if gen == s.generation {
		s.status = StatusStopped
		s.pid = nil
		s.startTime = nil
	}
}

// Restart stops the children, begins a new session and starts again after
// the configured restart delay. It also clears a tripped crash breaker.
func (s *Supervisor) Restart() {
	s.logf("Restart requested")
	s.Stop()

	if err := s.log.Rotate(); err != nil {
		slog.Error("Failed to rotate session log", "error", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.breaker.reset()
	s.shouldRun = true
	s.recordEvent("restart", fmt.Sprintf("start in %s", s.policy.RestartDelay))
	s.armTimerLocked(s.generation, s.policy.RestartDelay)
}

// Stats returns a snapshot with uptime computed now
func (s *Supervisor) Stats() ProcessStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := ProcessStats{
		Status:       s.status,
		RestartCount: s.restartCount,
	}
	if s.pid != nil {
		pid := *s.pid
		stats.Pid = &pid
	}
	if s.startTime != nil {
		start := *s.startTime
		stats.StartTime = &start
		stats.UptimeSeconds = int64(s.now().Sub(start) / time.Second)
	}
	if s.lastExitCode != nil {
		code := *s.lastExitCode
		stats.LastExitCode = &code
	}
	return stats
}

// Status returns the current lifecycle state
func (s *Supervisor) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}
