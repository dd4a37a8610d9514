package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

const defaultCountTimeout = 10 * time.Second

// ItemCounter reports how many items the application currently stores, per kind
type ItemCounter interface {
	Count(ctx context.Context) (map[string]int, error)
}

// NoopCounter reports nothing
type NoopCounter struct{}

func (NoopCounter) Count(context.Context) (map[string]int, error) {
	return map[string]int{}, nil
}

// CommandCounter runs a command whose stdout is a JSON object of counts,
// for example {"meals": 120, "workouts": 14}
type CommandCounter struct {
	Argv []string
	Dir  string
}

func (c CommandCounter) Count(ctx context.Context) (map[string]int, error) {
	if len(c.Argv) == 0 {
		return nil, errors.New("no counter command configured")
	}

	cmd := exec.CommandContext(ctx, c.Argv[0], c.Argv[1:]...)
	cmd.Dir = c.Dir
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("counter command failed: %w: %s", err, strings.TrimSpace(stderr.String()))
	}

	counts := make(map[string]int)
	if err := json.Unmarshal(out, &counts); err != nil {
		return nil, fmt.Errorf("counter output is not a JSON object of counts: %w", err)
	}
	return counts, nil
}

// Poller caches the latest item counts. A failed refresh keeps the previous snapshot.
type Poller struct {
	counter ItemCounter
	timeout time.Duration

	mu      sync.RWMutex
	counts  map[string]int
	updated time.Time
}

// NewPoller creates a Poller around counter
func NewPoller(counter ItemCounter) *Poller {
	if counter == nil {
		counter = NoopCounter{}
	}
	return &Poller{
		counter: counter,
		timeout: defaultCountTimeout,
		counts:  map[string]int{},
	}
}

// Refresh queries the counter once
func (p *Poller) Refresh(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	counts, err := p.counter.Count(ctx)
	if err != nil {
		slog.Warn("Failed to refresh item counts", "error", err)
		return err
	}
	if counts == nil {
		counts = map[string]int{}
	}

	p.mu.Lock()
	p.counts = counts
	p.updated = time.Now()
	p.mu.Unlock()
	return nil
}

// Snapshot returns a copy of the cached counts
func (p *Poller) Snapshot() map[string]int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return maps.Clone(p.counts)
}

// Updated returns when the counts were last refreshed
func (p *Poller) Updated() time.Time {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.updated
}

// Schedule refreshes the counts on c every interval
func (p *Poller) Schedule(c *cron.Cron, interval time.Duration) (cron.EntryID, error) {
	if interval <= 0 {
		return 0, fmt.Errorf("invalid refresh interval %s", interval)
	}
	return c.AddFunc("@every "+interval.String(), func() {
		p.Refresh(context.Background())
	})
}
