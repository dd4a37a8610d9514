package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// DB wraps the SQLite database holding supervisor and interaction history
type DB struct {
	conn *sql.DB
	path string
}

// Open opens or creates the SQLite database at the specified path
func Open(path string) (*DB, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Enable WAL mode for better concurrency
	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	db := &DB{
		conn: conn,
		path: path,
	}

	if err := db.initSchema(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return db, nil
}

// Close checkpoints the WAL and closes the connection
func (db *DB) Close() error {
	if db.conn != nil {
		db.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
		return db.conn.Close()
	}
	return nil
}

// Flush forces a WAL checkpoint to write pending changes to the main database file
func (db *DB) Flush() error {
	if db.conn != nil {
		_, err := db.conn.Exec("PRAGMA wal_checkpoint(RESTART)")
		return err
	}
	return nil
}

func (db *DB) initSchema() error {
	schema := `
	-- Control actions requested through the API or CLI
	CREATE TABLE IF NOT EXISTS interaction_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		action TEXT NOT NULL,
		origin TEXT NOT NULL,
		timestamp DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	-- Supervisor lifecycle events
	CREATE TABLE IF NOT EXISTS supervisor_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		event_type TEXT NOT NULL,
		details TEXT,
		timestamp DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_interaction_events_action ON interaction_events(action, origin);
	CREATE INDEX IF NOT EXISTS idx_supervisor_events_timestamp ON supervisor_events(timestamp);
	`

	_, err := db.conn.Exec(schema)
	return err
}

// execWithRetry retries briefly while the database is locked.
// This is best-effort, callers never block for long.
func (db *DB) execWithRetry(query string, args ...any) error {
	const maxRetries = 3
	for i := 0; i < maxRetries; i++ {
		_, err := db.conn.Exec(query, args...)
		if err == nil {
			return nil
		}
		if strings.Contains(err.Error(), "database is locked") || strings.Contains(err.Error(), "SQLITE_BUSY") {
			time.Sleep(5 * time.Millisecond)
			continue
		}
		return err
	}
	return fmt.Errorf("failed to write after %d retries: database locked", maxRetries)
}

// LogInteraction records one control action and where it came from
func (db *DB) LogInteraction(action, origin string) error {
	return db.execWithRetry(
		`INSERT INTO interaction_events (action, origin, timestamp) VALUES (?, ?, ?)`,
		action, origin, time.Now(),
	)
}

// InteractionCounts returns the number of recorded interactions per action and origin
func (db *DB) InteractionCounts() (map[string]map[string]int, error) {
	rows, err := db.conn.Query(
		`SELECT action, origin, COUNT(*) FROM interaction_events GROUP BY action, origin`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]map[string]int)
	for rows.Next() {
		var action, origin string
		var n int
		if err := rows.Scan(&action, &origin, &n); err != nil {
			return nil, err
		}
		if counts[action] == nil {
			counts[action] = make(map[string]int)
		}
		counts[action][origin] = n
	}
	return counts, rows.Err()
}

// SupervisorEvent represents a supervisor lifecycle event
type SupervisorEvent struct {
	ID        int64     `json:"id"`
	EventType string    `json:"eventType"`
	Details   string    `json:"details"`
	Timestamp time.Time `json:"timestamp"`
}

// LogSupervisorEvent records a supervisor lifecycle event
func (db *DB) LogSupervisorEvent(eventType, details string) error {
	return db.execWithRetry(
		`INSERT INTO supervisor_events (event_type, details, timestamp) VALUES (?, ?, ?)`,
		eventType, details, time.Now(),
	)
}

// GetRecentSupervisorEvents retrieves recent supervisor events, newest first
func (db *DB) GetRecentSupervisorEvents(limit int) ([]SupervisorEvent, error) {
	rows, err := db.conn.Query(
		`SELECT id, event_type, details, timestamp
		 FROM supervisor_events
		 ORDER BY id DESC
		 LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []SupervisorEvent
	for rows.Next() {
		var e SupervisorEvent
		if err := rows.Scan(&e.ID, &e.EventType, &e.Details, &e.Timestamp); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}
