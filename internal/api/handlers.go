package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"go.olrik.dev/warden/internal/sessionlog"
	"go.olrik.dev/warden/internal/supervisor"
	"go.olrik.dev/warden/internal/telemetry"
)

const (
	defaultEventLimit = 50
	sseHeartbeat      = 15 * time.Second
)

// StatusResponse is the body of GET /api/status
type StatusResponse struct {
	supervisor.ProcessStats
	telemetry.Snapshot
	AppURL           string                    `json:"appUrl"`
	RuntimeVersions  map[string]string         `json:"runtimeVersions"`
	Timestamp        time.Time                 `json:"timestamp"`
	DBStats          map[string]int            `json:"dbStats"`
	InteractionStats map[string]map[string]int `json:"interactionStats"`
}

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	if s.opts.Dashboard == nil {
		http.NotFound(w, r)
		return
	}
	data, err := s.opts.Dashboard.Load()
	if err != nil {
		slog.Debug("Dashboard asset unavailable", "error", err)
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(data)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": time.Now().UTC(),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	counts := map[string]int{}
	if s.opts.Counts != nil {
		counts = s.opts.Counts.Snapshot()
	}
	versions := s.opts.Versions
	if versions == nil {
		versions = map[string]string{}
	}

	writeJSON(w, http.StatusOK, StatusResponse{
		ProcessStats:     s.opts.Supervisor.Stats(),
		Snapshot:         s.opts.Telemetry(r.Context()),
		AppURL:           s.opts.AppURL,
		RuntimeVersions:  versions,
		Timestamp:        time.Now().UTC(),
		DBStats:          counts,
		InteractionStats: s.opts.Interactions.Snapshot(),
	})
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.opts.Events == nil {
		writeJSON(w, http.StatusOK, []any{})
		return
	}
	limit := defaultEventLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}
	events, err := s.opts.Events.GetRecentSupervisorEvents(limit)
	if err != nil {
		slog.Error("Failed to load supervisor events", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load events")
		return
	}
	if events == nil {
		writeJSON(w, http.StatusOK, []any{})
		return
	}
	writeJSON(w, http.StatusOK, events)
}

func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.opts.Logs.Entries())
}

func (s *Server) handleLogList(w http.ResponseWriter, r *http.Request) {
	// Listing errors are already reported by the log manager; an empty list is returned
	sessions, _ := s.opts.Logs.ListLogs()
	writeJSON(w, http.StatusOK, sessions)
}

func (s *Server) handleLogView(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("file")
	if name == "" {
		writeError(w, http.StatusBadRequest, "file parameter is required")
		return
	}
	entries, err := s.opts.Logs.ReadLog(name)
	if errors.Is(err, sessionlog.ErrInvalidLogName) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

// handleLogStream sends live entries as server-sent events
func (s *Server) handleLogStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	ch := s.opts.Logs.Subscribe()
	defer s.opts.Logs.Unsubscribe(ch)

	fmt.Fprint(w, ": connected\n\n")
	flusher.Flush()

	heartbeat := time.NewTicker(sseHeartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-s.ctx.Done():
			return
		case <-heartbeat.C:
			fmt.Fprint(w, ": ping\n\n")
			flusher.Flush()
		case entry, ok := <-ch:
			if !ok {
				return
			}
			data, err := json.Marshal(entry)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "data: %s\n\n", data)
			flusher.Flush()
		}
	}
}

func (s *Server) handleRestart(w http.ResponseWriter, r *http.Request) {
	s.opts.Interactions.Record(ActionRestart, originFromRequest(r))
	s.background(ActionRestart, func(ctx context.Context) {
		s.opts.Supervisor.Restart()
	})
	writeAccepted(w, "Restart initiated")
}

func (s *Server) handlePull(w http.ResponseWriter, r *http.Request) {
	s.opts.Interactions.Record(ActionPull, originFromRequest(r))
	s.background(ActionPull, func(ctx context.Context) {
		s.opts.Runner.Pull(ctx)
	})
	writeAccepted(w, "Git pull initiated")
}

func (s *Server) handleBuild(w http.ResponseWriter, r *http.Request) {
	s.opts.Interactions.Record(ActionBuild, originFromRequest(r))
	s.background(ActionBuild, func(ctx context.Context) {
		s.opts.Runner.Build(ctx)
	})
	writeAccepted(w, "Build initiated")
}

func (s *Server) handleDeploy(w http.ResponseWriter, r *http.Request) {
	s.opts.Interactions.Record(ActionDeploy, originFromRequest(r))
	s.background(ActionDeploy, s.deploy)
	writeAccepted(w, "Deploy initiated")
}

// deploy runs pull, build and restart, stopping at the first failure
func (s *Server) deploy(ctx context.Context) {
	if ok, err := s.opts.Runner.Pull(ctx); !ok {
		slog.Warn("Deploy aborted: pull failed", "error", err)
		return
	}
	if ok, err := s.opts.Runner.Build(ctx); !ok {
		slog.Warn("Deploy aborted: build failed", "error", err)
		return
	}
	s.opts.Supervisor.Restart()
	slog.Info("Deploy complete")
}

// background runs an action after the response has been sent. Actions are
// serialized so pull and build never run over each other.
func (s *Server) background(action Action, fn func(ctx context.Context)) {
	s.pending.Add(1)
	go func() {
		defer s.pending.Done()
		s.actionMu.Lock()
		defer s.actionMu.Unlock()

		if s.ctx.Err() != nil {
			return
		}
		slog.Debug("Running action", "action", action)
		fn(s.ctx)
	}()
}
