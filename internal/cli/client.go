package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"caravel/internal/events"
	"caravel/internal/manifest"
	"caravel/internal/release"
	"caravel/internal/server"
)

// Client talks to a running caravel server over its JSON API.
type Client struct {
	endpoint string
	http     *http.Client
}

// NewClient creates a client for the given endpoint, e.g.
// "http://localhost:8484".
func NewClient(endpoint string) *Client {
	return &Client{
		endpoint: endpoint,
		http: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Endpoint returns the server address the client targets.
func (c *Client) Endpoint() string {
	return c.endpoint
}

// Trigger asks the server to release commit to unit. The endpoint accepts
// multi-unit webhook payloads and answers with one release per unit; the
// CLI triggers one unit at a time.
func (c *Client) Trigger(ctx context.Context, unit, commit string) (release.Release, error) {
	var releases []release.Release
	err := c.post(ctx, "/api/v1/trigger", server.TriggerRequest{Commit: commit, Units: []string{unit}}, &releases)
	if err != nil {
		return release.Release{}, err
	}
	if len(releases) == 0 {
		return release.Release{}, fmt.Errorf("server accepted the trigger but returned no release")
	}
	return releases[0], nil
}

// Status fetches the status of one unit.
func (c *Client) Status(ctx context.Context, unit string) (server.UnitStatus, error) {
	var status server.UnitStatus
	err := c.get(ctx, "/api/v1/status?unit="+unit, &status)
	return status, err
}

// StatusAll fetches the status of every known unit.
func (c *Client) StatusAll(ctx context.Context) ([]server.UnitStatus, error) {
	var statuses []server.UnitStatus
	err := c.get(ctx, "/api/v1/status", &statuses)
	return statuses, err
}

// Manifest fetches one revision of a unit's manifest. Seq zero means the
// head revision.
func (c *Client) Manifest(ctx context.Context, unit string, seq int64) (manifest.Revision, error) {
	path := "/api/v1/manifest?unit=" + unit
	if seq > 0 {
		path += "&seq=" + strconv.FormatInt(seq, 10)
	}
	var rev manifest.Revision
	err := c.get(ctx, path, &rev)
	return rev, err
}

// History fetches a unit's release history, newest first. Limit zero means
// everything retained.
func (c *Client) History(ctx context.Context, unit string, limit int) ([]release.Release, error) {
	path := "/api/v1/history?unit=" + unit
	if limit > 0 {
		path += "&limit=" + strconv.Itoa(limit)
	}
	var history []release.Release
	err := c.get(ctx, path, &history)
	return history, err
}

// Sync queues an immediate reconciliation pass for the unit's head revision.
func (c *Client) Sync(ctx context.Context, unit string) error {
	return c.post(ctx, "/api/v1/sync", server.UnitRequest{Unit: unit}, nil)
}

// Rollback queues a manual rollback to the last healthy revision.
func (c *Client) Rollback(ctx context.Context, unit string) (release.Release, error) {
	var rel release.Release
	err := c.post(ctx, "/api/v1/rollback", server.UnitRequest{Unit: unit}, &rel)
	return rel, err
}

// ClearFatal lifts the fatal latch so the unit accepts triggers again.
func (c *Client) ClearFatal(ctx context.Context, unit string) error {
	return c.post(ctx, "/api/v1/clear-fatal", server.UnitRequest{Unit: unit}, nil)
}

// Events fetches recorded events, newest first. An empty unit means all
// units; limit zero means everything retained.
func (c *Client) Events(ctx context.Context, unit string, limit int) ([]events.Event, error) {
	path := "/api/v1/events?unit=" + unit
	if limit > 0 {
		path += "&limit=" + strconv.Itoa(limit)
	}
	var list []events.Event
	err := c.get(ctx, path, &list)
	return list, err
}

func (c *Client) get(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint+path, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) post(ctx context.Context, path string, body, out interface{}) error {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(body); err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+path, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out interface{}) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return ClassifyConnectionError(err, c.endpoint)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &APIError{StatusCode: resp.StatusCode, Message: readErrorMessage(resp.Body)}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding server response: %w", err)
	}
	return nil
}

// readErrorMessage extracts the error field of the uniform error body,
// falling back to the raw body.
func readErrorMessage(r io.Reader) string {
	raw, err := io.ReadAll(io.LimitReader(r, 4096))
	if err != nil {
		return "unreadable error response"
	}
	var body struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(raw, &body); err == nil && body.Error != "" {
		return body.Error
	}
	return string(bytes.TrimSpace(raw))
}
