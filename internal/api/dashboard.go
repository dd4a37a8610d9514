package api

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// Dashboard serves the dashboard asset from memory. The cache is dropped
// whenever the file changes on disk.
type Dashboard struct {
	path string

	mu     sync.Mutex
	data   []byte
	cached bool
}

// NewDashboard creates a Dashboard for the asset at path
func NewDashboard(path string) *Dashboard {
	return &Dashboard{path: path}
}

// Load returns the asset, reading it from disk on a cache miss
func (d *Dashboard) Load() ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.cached {
		return d.data, nil
	}
	data, err := os.ReadFile(d.path)
	if err != nil {
		return nil, err
	}
	d.data = data
	d.cached = true
	return data, nil
}

// Invalidate drops the cached asset
func (d *Dashboard) Invalidate() {
	d.mu.Lock()
	d.data = nil
	d.cached = false
	d.mu.Unlock()
}

// Watch invalidates the cache on changes to the asset until ctx is done.
// The directory is watched rather than the file so that editors replacing
// the file atomically are noticed.
func (d *Dashboard) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	dir := filepath.Dir(d.path)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return err
	}
	name := filepath.Base(d.path)

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Base(event.Name) != name {
					continue
				}
				slog.Debug("Dashboard asset changed", "event", event.Op.String(), "file", event.Name)
				d.Invalidate()
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				slog.Error("Dashboard watcher error", "error", err)
			}
		}
	}()

	slog.Debug("Watching dashboard asset for changes", "path", d.path)
	return nil
}
