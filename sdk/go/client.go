package timeledgersdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Timeledger HTTP API client.
type Client struct {
	BaseURL     string
	Project     string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL, project string) *Client {
	return &Client{
		BaseURL: baseURL,
		Project: project,
		Timeout: 10 * time.Second,
	}
}

// ProjectInfo represents the API project model.
type ProjectInfo struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Start     string `json:"start"`
	ParentID  string `json:"parent_id,omitempty"`
	CreatedAt string `json:"created_at"`
}

// Task represents a completed task row.
type Task struct {
	ID        string `json:"id"`
	ProjectID string `json:"project_id"`
	Name      string `json:"name"`
	Start     string `json:"start"`
	End       string `json:"end"`
	Duration  string `json:"duration"`
}

// Session represents a task that has been begun and not yet finished.
type Session struct {
	ID        string `json:"id"`
	ProjectID string `json:"project_id"`
	Name      string `json:"name"`
	Start     string `json:"start"`
	Elapsed   string `json:"elapsed"`
}

// SlowestTask describes the longest-running task of a project.
type SlowestTask struct {
	Name       string  `json:"name"`
	Duration   string  `json:"duration"`
	Percentage float64 `json:"percentage"`
}

// Event represents a log entry.
type Event struct {
	ID        int64          `json:"id"`
	TS        string         `json:"ts"`
	Type      string         `json:"type"`
	ProjectID string         `json:"project_id"`
	EntityID  string         `json:"entity_id"`
	Actor     string         `json:"actor"`
	Payload   map[string]any `json:"payload"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// PaginatedEvents wraps event listings with cursors.
type PaginatedEvents struct {
	Items      []Event `json:"items"`
	NextCursor string  `json:"next_cursor"`
}

// Ping checks that the server is up.
func (c *Client) Ping(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "v1/ping", nil, nil)
}

// CreateProject creates a root project.
func (c *Client) CreateProject(ctx context.Context, name string) (ProjectInfo, error) {
	var resp ProjectInfo
	err := c.do(ctx, http.MethodPost, "v1/projects", map[string]any{"name": name}, &resp)
	return resp, err
}

// ListProjects returns the root projects.
func (c *Client) ListProjects(ctx context.Context) ([]ProjectInfo, error) {
	var resp []ProjectInfo
	err := c.do(ctx, http.MethodGet, "v1/projects", nil, &resp)
	return resp, err
}

// LogTask records a finished task with a known duration, e.g. "1h30m".
func (c *Client) LogTask(ctx context.Context, name, duration string, merge bool) (Task, error) {
	body := map[string]any{
		"name":     name,
		"duration": duration,
		"merge":    merge,
	}
	var resp Task
	err := c.do(ctx, http.MethodPost, c.projectPath("tasks"), body, &resp)
	return resp, err
}

// Tasks returns the completed tasks of the project.
func (c *Client) Tasks(ctx context.Context) ([]Task, error) {
	var resp []Task
	err := c.do(ctx, http.MethodGet, c.projectPath("tasks"), nil, &resp)
	return resp, err
}

// Begin starts a session for a task.
func (c *Client) Begin(ctx context.Context, name string) (Session, error) {
	var resp Session
	err := c.do(ctx, http.MethodPost, c.projectPath("sessions"), map[string]any{"name": name}, &resp)
	return resp, err
}

// Finish ends a session and records the task. merge may be nil to use
// the server's configured default.
func (c *Client) Finish(ctx context.Context, name string, merge *bool) (Task, error) {
	body := map[string]any{}
	if merge != nil {
		body["merge"] = *merge
	}
	var resp Task
	endpoint := c.projectPath(fmt.Sprintf("sessions/%s/finish", url.PathEscape(name)))
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp, err
}

// Absorb folds the named child project into this one.
func (c *Client) Absorb(ctx context.Context, child string) (Task, error) {
	var resp Task
	err := c.do(ctx, http.MethodPost, c.projectPath("absorb"), map[string]any{"child": child}, &resp)
	return resp, err
}

// Snapshot represents the recursive tracker snapshot served by the API,
// the same shape the CLI's save command writes to disk.
type Snapshot struct {
	Name        string         `json:"name"`
	Start       string         `json:"start"`
	Tasks       []SnapshotTask `json:"tasks"`
	SubTrackers []Snapshot     `json:"sub_trackers"`
}

// SnapshotTask is one completed task inside a snapshot.
type SnapshotTask struct {
	Name  string `json:"name"`
	Start string `json:"start"`
	End   string `json:"end"`
}

// Snapshot fetches the project's full recursive snapshot.
func (c *Client) Snapshot(ctx context.Context) (Snapshot, error) {
	var resp Snapshot
	err := c.do(ctx, http.MethodGet, c.projectPath("snapshot"), nil, &resp)
	return resp, err
}

// Report fetches the markdown time report.
func (c *Client) Report(ctx context.Context) (string, error) {
	b, err := c.raw(ctx, http.MethodGet, c.projectPath("report"))
	return string(b), err
}

// Slowest returns the project's longest task.
func (c *Client) Slowest(ctx context.Context) (SlowestTask, error) {
	var resp SlowestTask
	err := c.do(ctx, http.MethodGet, c.projectPath("slowest"), nil, &resp)
	return resp, err
}

// Events returns recent events.
func (c *Client) Events(ctx context.Context, limit int) ([]Event, error) {
	page, err := c.EventsPage(ctx, limit, "")
	return page.Items, err
}

// EventsPage returns a paginated event listing.
func (c *Client) EventsPage(ctx context.Context, limit int, cursor string) (PaginatedEvents, error) {
	endpoint := c.projectPath("events")
	if limit > 0 {
		endpoint = fmt.Sprintf("%s?limit=%d", endpoint, limit)
	}
	if cursor != "" {
		sep := "?"
		if strings.Contains(endpoint, "?") {
			sep = "&"
		}
		endpoint = fmt.Sprintf("%s%scursor=%s", endpoint, sep, url.QueryEscape(cursor))
	}
	var resp PaginatedEvents
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	resp, err := c.send(ctx, method, endpoint, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) raw(ctx context.Context, method, endpoint string) ([]byte, error) {
	resp, err := c.send(ctx, method, endpoint, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 300 {
		return nil, &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	return b, nil
}

func (c *Client) send(ctx context.Context, method, endpoint string, body any) (*http.Response, error) {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return nil, err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	return c.HTTPClient.Do(req)
}

func (c *Client) projectPath(p string) string {
	project := url.PathEscape(c.Project)
	return fmt.Sprintf("v1/projects/%s/%s", project, strings.TrimLeft(p, "/"))
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
