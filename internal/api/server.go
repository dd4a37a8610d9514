// Package api exposes the supervisor over HTTP: status, live and historical
// logs, and the restart/pull/build/deploy actions.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"go.olrik.dev/warden/internal/db"
	"go.olrik.dev/warden/internal/sessionlog"
	"go.olrik.dev/warden/internal/supervisor"
	"go.olrik.dev/warden/internal/telemetry"
)

// Controller is the part of the supervisor driven over HTTP
type Controller interface {
	Restart()
	Stats() supervisor.ProcessStats
}

// CommandRunner runs the project's pull and build commands
type CommandRunner interface {
	Pull(ctx context.Context) (bool, error)
	Build(ctx context.Context) (bool, error)
}

// LogSource serves live and historical session logs
type LogSource interface {
	Entries() []sessionlog.LogEntry
	ListLogs() ([]sessionlog.SessionInfo, error)
	ReadLog(name string) ([]sessionlog.LogEntry, error)
	Subscribe() chan sessionlog.LogEntry
	Unsubscribe(ch chan sessionlog.LogEntry)
}

// CountSource supplies the latest item-count snapshot
type CountSource interface {
	Snapshot() map[string]int
}

// EventHistory lists recent supervisor lifecycle events
type EventHistory interface {
	GetRecentSupervisorEvents(limit int) ([]db.SupervisorEvent, error)
}

// Options wires a Server to its collaborators. Counts, Events and Dashboard are optional.
type Options struct {
	Supervisor   Controller
	Runner       CommandRunner
	Logs         LogSource
	Interactions *InteractionStats
	Counts       CountSource
	Events       EventHistory
	Dashboard    *Dashboard
	AppURL       string
	Versions     map[string]string
	Telemetry    func(ctx context.Context) telemetry.Snapshot // telemetry.Collect when nil
}

// Server is the HTTP control surface
type Server struct {
	opts Options

	ctx    context.Context // cancelled on Shutdown; background actions derive from it
	cancel context.CancelFunc

	actionMu sync.Mutex     // one background action at a time
	pending  sync.WaitGroup // background actions in flight
}

// NewServer creates a Server
func NewServer(opts Options) *Server {
	if opts.Interactions == nil {
		opts.Interactions = NewInteractionStats(nil)
	}
	if opts.Telemetry == nil {
		opts.Telemetry = telemetry.Collect
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		opts:   opts,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Router builds the HTTP handler
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(requestLogger)
	r.Use(chimiddleware.Recoverer)

	r.Get("/", s.handleDashboard)
	r.Get("/index.html", s.handleDashboard)
	r.Get("/health", s.handleHealth)

	r.Route("/api", func(r chi.Router) {
		r.Get("/status", s.handleStatus)
		r.Get("/events", s.handleEvents)

		r.Get("/logs", s.handleLogs)
		r.Get("/logs/list", s.handleLogList)
		r.Get("/logs/view", s.handleLogView)
		r.Get("/logs/stream", s.handleLogStream)

		r.Post("/restart", s.handleRestart)
		r.Post("/git-pull", s.handlePull)
		r.Post("/build", s.handleBuild)
		r.Post("/deploy", s.handleDeploy)
	})

	return r
}

// ListenAndServe serves on addr until ctx is cancelled
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("Control API listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		s.Shutdown()
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := srv.Shutdown(shutdownCtx)
	s.Shutdown()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown cancels background actions and waits for them to return
func (s *Server) Shutdown() {
	s.cancel()
	s.pending.Wait()
}

// Wait blocks until all background actions have finished
func (s *Server) Wait() {
	s.pending.Wait()
}

// requestLogger logs each request through slog
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		slog.Debug("HTTP request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"request_id", chimiddleware.GetReqID(r.Context()))
	})
}
