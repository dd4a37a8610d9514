package sessionlog

import (
	"os"
	"path/filepath"

	"github.com/robfig/cron/v3"
)

// Sweep deletes session files older than the retention window and returns how many
// were removed. A file exactly at the boundary is kept. Failing to delete one file
// does not stop the sweep.
func (m *Manager) Sweep() int {
	dirEntries, err := os.ReadDir(m.dir)
	if err != nil {
		m.console().Error("Failed to scan log directory for retention", "dir", m.dir, "error", err)
		return 0
	}

	current := m.CurrentSession()
	now := m.now()
	removed := 0

	for _, de := range dirEntries {
		name := de.Name()
		if de.IsDir() || filepath.Ext(name) != sessionExt || name == current {
			continue
		}
		info, err := de.Info()
		if err != nil {
			continue
		}
		if now.Sub(createdAt(name, info)) <= m.retention {
			continue
		}

		if err := os.Remove(filepath.Join(m.dir, name)); err != nil {
			m.console().Error("Failed to delete expired session log", "file", name, "error", err)
			continue
		}
		removed++
		m.console().Debug("Deleted expired session log", "file", name)
	}

	if removed > 0 {
		m.console().Info("Retention sweep complete", "removed", removed, "retention", m.retention)
	}
	return removed
}

// ScheduleSweep registers the retention sweep on c using a cron spec such as "@daily"
func (m *Manager) ScheduleSweep(c *cron.Cron, spec string) (cron.EntryID, error) {
	return c.AddFunc(spec, func() { m.Sweep() })
}
