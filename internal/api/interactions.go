package api

import (
	"log/slog"
	"net/http"
	"sync"
)

// Action is a mutating control request
type Action string

const (
	ActionRestart Action = "restart"
	ActionPull    Action = "pull"
	ActionBuild   Action = "build"
	ActionDeploy  Action = "deploy"
)

// Origin says where a request came from: a dashboard click or a quick command
type Origin string

const (
	OriginUI    Origin = "ui"
	OriginQuick Origin = "quick"
)

var (
	allActions = []Action{ActionRestart, ActionPull, ActionBuild, ActionDeploy}
	allOrigins = []Origin{OriginUI, OriginQuick}
)

// originFromRequest reads ?source=, defaulting to the dashboard
func originFromRequest(r *http.Request) Origin {
	if Origin(r.URL.Query().Get("source")) == OriginQuick {
		return OriginQuick
	}
	return OriginUI
}

// InteractionStore persists interaction counts across supervisor restarts
type InteractionStore interface {
	LogInteraction(action, origin string) error
	InteractionCounts() (map[string]map[string]int, error)
}

// InteractionStats counts control requests per action and origin. Counts
// only ever increase.
type InteractionStats struct {
	mu     sync.Mutex
	counts map[Action]map[Origin]int
	store  InteractionStore
}

// NewInteractionStats creates the counters, seeded from store when given
func NewInteractionStats(store InteractionStore) *InteractionStats {
	s := &InteractionStats{
		counts: make(map[Action]map[Origin]int),
		store:  store,
	}
	for _, a := range allActions {
		s.counts[a] = make(map[Origin]int)
	}

	if store != nil {
		persisted, err := store.InteractionCounts()
		if err != nil {
			slog.Error("Failed to load interaction counts", "error", err)
		}
		for action, origins := range persisted {
			for origin, n := range origins {
				a := Action(action)
				if s.counts[a] == nil {
					s.counts[a] = make(map[Origin]int)
				}
				s.counts[a][Origin(origin)] = n
			}
		}
	}
	return s
}

// Record counts one request
func (s *InteractionStats) Record(action Action, origin Origin) {
	s.mu.Lock()
	s.counts[action][origin]++
	s.mu.Unlock()

	if s.store != nil {
		if err := s.store.LogInteraction(string(action), string(origin)); err != nil {
			slog.Error("Failed to persist interaction", "action", action, "origin", origin, "error", err)
		}
	}
}

// Snapshot returns every action and origin, including zero counts
func (s *InteractionStats) Snapshot() map[string]map[string]int {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]map[string]int, len(s.counts))
	for action, origins := range s.counts {
		m := make(map[string]int, len(allOrigins))
		for _, o := range allOrigins {
			m[string(o)] = 0
		}
		for origin, n := range origins {
			m[string(origin)] = n
		}
		out[string(action)] = m
	}
	return out
}
