package taskdecksdk

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

// Client is a minimal Taskdeck HTTP API client.
type Client struct {
	BaseURL     string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// ChecklistItem is one checklist entry on a task.
type ChecklistItem struct {
	Text      string `json:"text"`
	Completed bool   `json:"completed"`
}

// Task represents the API task model (partial).
type Task struct {
	ID            string          `json:"id"`
	Title         string          `json:"title"`
	Status        string          `json:"status"`
	ReviewStatus  string          `json:"review_status"`
	Progress      int             `json:"progress"`
	RevisionCount int             `json:"revision_count"`
	AssignedTo    []string        `json:"assigned_to"`
	Reviewers     []string        `json:"reviewers"`
	Dependencies  []string        `json:"dependencies"`
	TodoChecklist []ChecklistItem `json:"todo_checklist"`
}

// TimeLog represents a timer on a task.
type TimeLog struct {
	ID         string  `json:"id"`
	TaskID     string  `json:"task_id"`
	UserID     string  `json:"user_id"`
	StartTime  string  `json:"start_time"`
	EndTime    *string `json:"end_time,omitempty"`
	DurationMS int64   `json:"duration_ms"`
}

// Event represents a log entry.
type Event struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts"`
	Type       string         `json:"type"`
	EntityID   string         `json:"entity_id"`
	EntityKind string         `json:"entity_kind"`
	Payload    map[string]any `json:"payload_json"`
}

// BatchReviewResult summarizes a best-effort bulk review.
type BatchReviewResult struct {
	Processed int      `json:"processed"`
	TaskIDs   []string `json:"task_ids"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// PaginatedTasks wraps task listings with a cursor.
type PaginatedTasks struct {
	Items      []Task `json:"items"`
	NextCursor string `json:"next_cursor"`
}

// CreateTask creates a task.
func (c *Client) CreateTask(ctx context.Context, title string, assignees, reviewers []string) (Task, error) {
	body := map[string]any{
		"title":       title,
		"assigned_to": assignees,
		"reviewers":   reviewers,
	}
	var resp Task
	err := c.do(ctx, http.MethodPost, "v0/tasks", body, &resp)
	return resp, err
}

// GetTask fetches a task by id.
func (c *Client) GetTask(ctx context.Context, id string) (Task, error) {
	var resp Task
	err := c.do(ctx, http.MethodGet, "v0/tasks/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

// Tasks returns a page of tasks filtered by status.
func (c *Client) Tasks(ctx context.Context, status, cursor string, limit int) (PaginatedTasks, error) {
	q := url.Values{}
	if status != "" {
		q.Set("status", status)
	}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	if limit > 0 {
		q.Set("limit", fmt.Sprint(limit))
	}
	endpoint := "v0/tasks"
	if enc := q.Encode(); enc != "" {
		endpoint += "?" + enc
	}
	var resp PaginatedTasks
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// SubmitForReview moves a task into the review pipeline.
func (c *Client) SubmitForReview(ctx context.Context, id string) (Task, error) {
	var resp Task
	err := c.do(ctx, http.MethodPut, "v0/tasks/"+url.PathEscape(id)+"/submit-review", nil, &resp)
	return resp, err
}

// ProcessReview records a first-line review decision.
func (c *Client) ProcessReview(ctx context.Context, id, decision, comment string) (Task, error) {
	body := map[string]any{"decision": decision, "review_comment": comment}
	var resp Task
	err := c.do(ctx, http.MethodPut, "v0/tasks/"+url.PathEscape(id)+"/process-review", body, &resp)
	return resp, err
}

// FinalApprove records the creator's final decision.
func (c *Client) FinalApprove(ctx context.Context, id, decision, comment string) (Task, error) {
	body := map[string]any{"decision": decision, "review_comment": comment}
	var resp Task
	err := c.do(ctx, http.MethodPut, "v0/tasks/"+url.PathEscape(id)+"/final-approval", body, &resp)
	return resp, err
}

// BatchReview applies one decision across tasks, skipping any that fail.
func (c *Client) BatchReview(ctx context.Context, ids []string, decision, comment string) (BatchReviewResult, error) {
	body := map[string]any{"task_ids": ids, "decision": decision, "review_comment": comment}
	var resp BatchReviewResult
	err := c.do(ctx, http.MethodPut, "v0/tasks/review/batch", body, &resp)
	return resp, err
}

// UpdateChecklist replaces the checklist; status and progress are derived
// server side.
func (c *Client) UpdateChecklist(ctx context.Context, id string, items []ChecklistItem) (Task, error) {
	body := map[string]any{"todo_checklist": items}
	var resp Task
	err := c.do(ctx, http.MethodPut, "v0/tasks/"+url.PathEscape(id)+"/todo", body, &resp)
	return resp, err
}

// Nudge pings the task's assignees.
func (c *Client) Nudge(ctx context.Context, id string) (Task, error) {
	var resp Task
	err := c.do(ctx, http.MethodPost, "v0/tasks/"+url.PathEscape(id)+"/nudge", nil, &resp)
	return resp, err
}

// StartTimer opens a time log on a task for the caller.
func (c *Client) StartTimer(ctx context.Context, taskID string) (TimeLog, error) {
	var resp TimeLog
	err := c.do(ctx, http.MethodPost, "v0/tasks/"+url.PathEscape(taskID)+"/timelogs/start", nil, &resp)
	return resp, err
}

// StopTimer closes a time log.
func (c *Client) StopTimer(ctx context.Context, taskID, timeLogID string) (TimeLog, error) {
	endpoint := fmt.Sprintf("v0/tasks/%s/timelogs/%s/stop", url.PathEscape(taskID), url.PathEscape(timeLogID))
	var resp TimeLog
	err := c.do(ctx, http.MethodPut, endpoint, nil, &resp)
	return resp, err
}

// ActiveTimers returns the caller's running timers.
func (c *Client) ActiveTimers(ctx context.Context) ([]TimeLog, error) {
	var resp []TimeLog
	err := c.do(ctx, http.MethodGet, "v0/timelogs/active", nil, &resp)
	return resp, err
}

// Events returns recent events after the given id.
func (c *Client) Events(ctx context.Context, after int64, limit int) ([]Event, error) {
	endpoint := fmt.Sprintf("v0/events?after=%d", after)
	if limit > 0 {
		endpoint += fmt.Sprintf("&limit=%d", limit)
	}
	var resp []Event
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
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

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
