// Package client talks to a running warden over its control API.
package client

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"syscall"
	"time"

	"go.olrik.dev/warden/internal/api"
	"go.olrik.dev/warden/internal/core"
	"go.olrik.dev/warden/internal/sessionlog"
)

// ErrNotRunning is returned when nothing answers on the control port
var ErrNotRunning = errors.New("warden is not running")

// Client is a thin wrapper around the control API
type Client struct {
	BaseURL string
	HTTP    *http.Client
}

// New creates a Client for the API at baseURL
func New(baseURL string) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTP:    &http.Client{Timeout: 10 * time.Second},
	}
}

// FromConfig creates a Client for the API described by cfg
func FromConfig(cfg *core.Configuration) *Client {
	return New(fmt.Sprintf("http://127.0.0.1:%d", cfg.Port))
}

// Status fetches the supervisor status. The raw body is returned alongside
// the decoded value for callers that print it unchanged.
func (c *Client) Status(ctx context.Context) (api.StatusResponse, []byte, error) {
	var status api.StatusResponse
	body, err := c.get(ctx, "/api/status", nil)
	if err != nil {
		return status, nil, err
	}
	if err := json.Unmarshal(body, &status); err != nil {
		return status, body, fmt.Errorf("failed to parse status: %w", err)
	}
	return status, body, nil
}

// Action posts one of the control actions as a quick command
func (c *Client) Action(ctx context.Context, action api.Action) (api.ActionResponse, error) {
	var response api.ActionResponse

	path, ok := actionPaths[action]
	if !ok {
		return response, fmt.Errorf("unknown action %q", action)
	}
	body, err := c.do(ctx, http.MethodPost, path, url.Values{"source": {string(api.OriginQuick)}})
	if err != nil {
		return response, err
	}
	if err := json.Unmarshal(body, &response); err != nil {
		return response, fmt.Errorf("failed to parse response: %w", err)
	}
	return response, nil
}

var actionPaths = map[api.Action]string{
	api.ActionRestart: "/api/restart",
	api.ActionPull:    "/api/git-pull",
	api.ActionBuild:   "/api/build",
	api.ActionDeploy:  "/api/deploy",
}

// Logs returns the entries of the current session
func (c *Client) Logs(ctx context.Context) ([]sessionlog.LogEntry, error) {
	return getJSON[[]sessionlog.LogEntry](ctx, c, "/api/logs", nil)
}

// ListLogs returns the session files on disk, newest first
func (c *Client) ListLogs(ctx context.Context) ([]sessionlog.SessionInfo, error) {
	return getJSON[[]sessionlog.SessionInfo](ctx, c, "/api/logs/list", nil)
}

// ViewLog returns the entries of a stored session
func (c *Client) ViewLog(ctx context.Context, name string) ([]sessionlog.LogEntry, error) {
	return getJSON[[]sessionlog.LogEntry](ctx, c, "/api/logs/view", url.Values{"file": {name}})
}

// Stream calls fn for each live entry until ctx is cancelled or the server
// closes the stream
func (c *Client) Stream(ctx context.Context, fn func(sessionlog.LogEntry)) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/api/logs/stream", nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")

	// The stream is long lived, so the client timeout must not apply
	streaming := *c.HTTP
	streaming.Timeout = 0
	resp, err := streaming.Do(req)
	if err != nil {
		return connError(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("log stream returned %s", resp.Status)
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		payload, ok := strings.CutPrefix(scanner.Text(), "data: ")
		if !ok {
			continue
		}
		var entry sessionlog.LogEntry
		if err := json.Unmarshal([]byte(payload), &entry); err != nil {
			continue
		}
		fn(entry)
	}
	if ctx.Err() != nil {
		return nil
	}
	return scanner.Err()
}

func getJSON[T any](ctx context.Context, c *Client, path string, query url.Values) (T, error) {
	var out T
	body, err := c.get(ctx, path, query)
	if err != nil {
		return out, err
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return out, fmt.Errorf("failed to parse response from %s: %w", path, err)
	}
	return out, nil
}

func (c *Client) get(ctx context.Context, path string, query url.Values) ([]byte, error) {
	return c.do(ctx, http.MethodGet, path, query)
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values) ([]byte, error) {
	target := c.BaseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, target, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, connError(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode >= 400 {
		var apiErr struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Error != "" {
			return nil, fmt.Errorf("%s: %s", resp.Status, apiErr.Error)
		}
		return nil, fmt.Errorf("%s %s returned %s", method, path, resp.Status)
	}
	return body, nil
}

// connError maps dial failures to ErrNotRunning
func connError(err error) error {
	var opErr interface{ Timeout() bool }
	if errors.Is(err, syscall.ECONNREFUSED) {
		return fmt.Errorf("%w: %v", ErrNotRunning, err)
	}
	if errors.As(err, &opErr) && opErr.Timeout() {
		return fmt.Errorf("request timed out: %w", err)
	}
	return err
}
