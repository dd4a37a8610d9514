package db

import (
	"os"
	"path/filepath"
	"testing"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestDB_OpenAndClose(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "nested", "warden.db")

	db, err := Open(dbPath)
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}

	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		t.Error("Database file was not created")
	}

	if err := db.Close(); err != nil {
		t.Errorf("Failed to close database: %v", err)
	}
}

func TestDB_InteractionCounts(t *testing.T) {
	db := openTestDB(t)

	for _, ev := range []struct{ action, origin string }{
		{"restart", "ui"},
		{"restart", "ui"},
		{"restart", "quick"},
		{"deploy", "quick"},
	} {
		if err := db.LogInteraction(ev.action, ev.origin); err != nil {
			t.Fatalf("Failed to log interaction: %v", err)
		}
	}

	counts, err := db.InteractionCounts()
	if err != nil {
		t.Fatalf("Failed to read counts: %v", err)
	}

	if counts["restart"]["ui"] != 2 {
		t.Errorf("Expected restart/ui=2, got %d", counts["restart"]["ui"])
	}
	if counts["restart"]["quick"] != 1 {
		t.Errorf("Expected restart/quick=1, got %d", counts["restart"]["quick"])
	}
	if counts["deploy"]["quick"] != 1 {
		t.Errorf("Expected deploy/quick=1, got %d", counts["deploy"]["quick"])
	}
	if _, ok := counts["build"]; ok {
		t.Error("Expected no build entry")
	}
}

func TestDB_InteractionCountsSurviveReopen(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "warden.db")

	db, err := Open(dbPath)
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	if err := db.LogInteraction("build", "ui"); err != nil {
		t.Fatalf("Failed to log interaction: %v", err)
	}
	db.Close()

	db, err = Open(dbPath)
	if err != nil {
		t.Fatalf("Failed to reopen database: %v", err)
	}
	defer db.Close()

	counts, err := db.InteractionCounts()
	if err != nil {
		t.Fatalf("Failed to read counts: %v", err)
	}
	if counts["build"]["ui"] != 1 {
		t.Errorf("Expected build/ui=1 after reopen, got %d", counts["build"]["ui"])
	}
}

func TestDB_SupervisorEvents(t *testing.T) {
	db := openTestDB(t)

	if err := db.LogSupervisorEvent("start", "pid 100"); err != nil {
		t.Fatalf("Failed to log event: %v", err)
	}
	if err := db.LogSupervisorEvent("crash", "backend exited with code 1"); err != nil {
		t.Fatalf("Failed to log event: %v", err)
	}

	events, err := db.GetRecentSupervisorEvents(10)
	if err != nil {
		t.Fatalf("Failed to read events: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("Expected 2 events, got %d", len(events))
	}
	if events[0].EventType != "crash" {
		t.Errorf("Expected newest event first, got %q", events[0].EventType)
	}
	if events[1].Details != "pid 100" {
		t.Errorf("Expected details 'pid 100', got %q", events[1].Details)
	}

	limited, err := db.GetRecentSupervisorEvents(1)
	if err != nil {
		t.Fatalf("Failed to read events: %v", err)
	}
	if len(limited) != 1 {
		t.Errorf("Expected limit to be honored, got %d", len(limited))
	}
}

func TestDB_Flush(t *testing.T) {
	db := openTestDB(t)
	if err := db.LogSupervisorEvent("stop", ""); err != nil {
		t.Fatalf("Failed to log event: %v", err)
	}
	if err := db.Flush(); err != nil {
		t.Errorf("Flush failed: %v", err)
	}
}
