package client

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go.olrik.dev/warden/internal/api"
	"go.olrik.dev/warden/internal/core"
	"go.olrik.dev/warden/internal/sessionlog"
	"go.olrik.dev/warden/internal/supervisor"
)

func TestFromConfig(t *testing.T) {
	cfg := core.GetDefaultConfig()
	cfg.Port = 9191

	c := FromConfig(cfg)
	if c.BaseURL != "http://127.0.0.1:9191" {
		t.Errorf("Expected base URL for port 9191, got %q", c.BaseURL)
	}
}

func TestStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/status" {
			t.Errorf("Expected /api/status, got %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"status":"Running","pid":42,"restartCount":2,"uptimeSeconds":10,"appUrl":"http://localhost:3000"}`)
	}))
	defer srv.Close()

	status, raw, err := New(srv.URL).Status(context.Background())
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	if status.Status != supervisor.StatusRunning {
		t.Errorf("Expected status Running, got %q", status.Status)
	}
	if status.Pid == nil || *status.Pid != 42 {
		t.Errorf("Expected pid 42, got %v", status.Pid)
	}
	if status.RestartCount != 2 {
		t.Errorf("Expected restart count 2, got %d", status.RestartCount)
	}
	if status.AppURL != "http://localhost:3000" {
		t.Errorf("Expected app URL, got %q", status.AppURL)
	}
	if !strings.Contains(string(raw), `"pid":42`) {
		t.Errorf("Expected raw body to be returned, got %s", raw)
	}
}

func TestActionSendsQuickSource(t *testing.T) {
	tests := []struct {
		action api.Action
		path   string
	}{
		{api.ActionRestart, "/api/restart"},
		{api.ActionPull, "/api/git-pull"},
		{api.ActionBuild, "/api/build"},
		{api.ActionDeploy, "/api/deploy"},
	}

	for _, tt := range tests {
		t.Run(string(tt.action), func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.Method != http.MethodPost {
					t.Errorf("Expected POST, got %s", r.Method)
				}
				if r.URL.Path != tt.path {
					t.Errorf("Expected path %s, got %s", tt.path, r.URL.Path)
				}
				if got := r.URL.Query().Get("source"); got != "quick" {
					t.Errorf("Expected source=quick, got %q", got)
				}
				fmt.Fprint(w, `{"success":true,"message":"ok"}`)
			}))
			defer srv.Close()

			resp, err := New(srv.URL).Action(context.Background(), tt.action)
			if err != nil {
				t.Fatalf("Action failed: %v", err)
			}
			if !resp.Success || resp.Message != "ok" {
				t.Errorf("Expected success response, got %+v", resp)
			}
		})
	}
}

func TestActionUnknown(t *testing.T) {
	if _, err := New("http://127.0.0.1:1").Action(context.Background(), api.Action("explode")); err == nil {
		t.Error("Expected error for unknown action")
	}
}

func TestErrorBodyIsSurfaced(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"error":"invalid log file name"}`)
	}))
	defer srv.Close()

	_, err := New(srv.URL).ViewLog(context.Background(), "../etc/passwd")
	if err == nil {
		t.Fatal("Expected error for bad request")
	}
	if !strings.Contains(err.Error(), "invalid log file name") {
		t.Errorf("Expected API error message in %q", err)
	}
}

func TestViewLogEncodesName(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("file"); got != "session-1.jsonl" {
			t.Errorf("Expected file parameter, got %q", got)
		}
		fmt.Fprint(w, `[{"id":"a","source":"backend","message":"hello"}]`)
	}))
	defer srv.Close()

	entries, err := New(srv.URL).ViewLog(context.Background(), "session-1.jsonl")
	if err != nil {
		t.Fatalf("ViewLog failed: %v", err)
	}
	if len(entries) != 1 || entries[0].Message != "hello" {
		t.Errorf("Expected one entry, got %+v", entries)
	}
}

func TestNotRunning(t *testing.T) {
	// Grab a free port and close it again so nothing is listening
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := l.Addr().String()
	l.Close()

	_, _, err = New("http://" + addr).Status(context.Background())
	if !errors.Is(err, ErrNotRunning) {
		t.Errorf("Expected ErrNotRunning, got %v", err)
	}
}

func TestStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, ": connected\n\n")
		fmt.Fprint(w, `data: {"id":"1","source":"backend","message":"one"}`+"\n\n")
		fmt.Fprint(w, "data: not json\n\n")
		fmt.Fprint(w, ": ping\n\n")
		fmt.Fprint(w, `data: {"id":"2","source":"frontend","message":"two"}`+"\n\n")
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var got []sessionlog.LogEntry
	if err := New(srv.URL).Stream(ctx, func(e sessionlog.LogEntry) { got = append(got, e) }); err != nil {
		t.Fatalf("Stream failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("Expected 2 entries, got %d", len(got))
	}
	if got[0].Message != "one" || got[1].Source != sessionlog.SourceFrontend {
		t.Errorf("Unexpected entries: %+v", got)
	}
}
