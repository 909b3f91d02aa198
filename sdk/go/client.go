package processlinesdk

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

// Client is a minimal Processline HTTP API client.
type Client struct {
	BaseURL     string
	BasePath    string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL, token string) *Client {
	return &Client{
		BaseURL:     baseURL,
		BasePath:    "/v1",
		BearerToken: token,
		Timeout:     10 * time.Second,
	}
}

// Process represents the API process model (partial).
type Process struct {
	ID           string   `json:"id"`
	Title        string   `json:"title"`
	Flow         []string `json:"flow"`
	CurrentIndex int      `json:"current_index"`
	Status       string   `json:"status"`
	Priority     string   `json:"priority"`
	Progress     int      `json:"progress"`
	ParallelMode bool     `json:"parallel_mode"`
	Version      int      `json:"version"`
}

// CurrentDepartment returns the department the process is waiting on.
func (p Process) CurrentDepartment() string {
	if p.CurrentIndex < 0 || p.CurrentIndex >= len(p.Flow) {
		return ""
	}
	return p.Flow[p.CurrentIndex]
}

// CreateProcess is the request body for CreateProcess. Stages follow the
// server's stage input shape and are passed through untouched.
type CreateProcess struct {
	Title        string   `json:"title"`
	Description  string   `json:"description,omitempty"`
	Flow         []string `json:"flow"`
	Priority     string   `json:"priority,omitempty"`
	ParallelMode bool     `json:"parallel_mode,omitempty"`
	AssigneeID   string   `json:"assignee_id,omitempty"`
	CompanyID    string   `json:"company_id,omitempty"`
	Stages       []any    `json:"stages,omitempty"`
}

// ChecklistEntry is one department's parallel-mode sign-off.
type ChecklistEntry struct {
	DepartmentID string `json:"department_id"`
	Position     int    `json:"position"`
	Completed    bool   `json:"completed"`
}

// Event represents an audit trail entry.
type Event struct {
	ID              int64  `json:"id"`
	ProcessID       string `json:"process_id"`
	Kind            string `json:"kind"`
	Description     string `json:"description"`
	ActorID         string `json:"actor_id"`
	DepartmentLabel string `json:"department_label,omitempty"`
	CreatedAt       string `json:"created_at"`
}

// TrashItem represents a soft-deleted process or document.
type TrashItem struct {
	ID        string `json:"id"`
	Kind      string `json:"kind"`
	EntityID  string `json:"entity_id"`
	Title     string `json:"title"`
	DeletedBy string `json:"deleted_by"`
	ExpiresAt string `json:"expires_at"`
}

// RestoreResult reports what a restore re-created.
type RestoreResult struct {
	Kind       string `json:"kind"`
	ProcessID  string `json:"process_id"`
	DocumentID string `json:"document_id,omitempty"`
	Warnings   []struct {
		Entity string `json:"entity"`
		Field  string `json:"field"`
		Ref    string `json:"ref"`
	} `json:"warnings,omitempty"`
	Skipped map[string]int `json:"skipped,omitempty"`
}

// Issue is one unmet requirement reported by a failed advance.
type Issue struct {
	FieldID     string `json:"field_id,omitempty"`
	Requirement string `json:"requirement,omitempty"`
	Message     string `json:"message"`
}

// APIError wraps non-2xx responses. Code and Message are taken from the
// error envelope when the body carries one.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Issues     []Issue
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s message=%s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// CreateProcess creates a process.
func (c *Client) CreateProcess(ctx context.Context, in CreateProcess) (Process, error) {
	var resp Process
	err := c.do(ctx, http.MethodPost, "processes", in, &resp)
	return resp, err
}

// GetProcess fetches a process by id.
func (c *Client) GetProcess(ctx context.Context, id string) (Process, error) {
	var resp struct {
		Process Process `json:"process"`
	}
	err := c.do(ctx, http.MethodGet, "processes/"+url.PathEscape(id), nil, &resp)
	return resp.Process, err
}

// Advance moves a process to its next department.
func (c *Client) Advance(ctx context.Context, id string) (Process, error) {
	return c.move(ctx, id, "advance")
}

// Rollback moves a process back one department.
func (c *Client) Rollback(ctx context.Context, id string) (Process, error) {
	return c.move(ctx, id, "rollback")
}

// Finalize finishes a process at its last department.
func (c *Client) Finalize(ctx context.Context, id string) (Process, error) {
	return c.move(ctx, id, "finalize")
}

// SetStatus pauses, resumes or cancels a process.
func (c *Client) SetStatus(ctx context.Context, id, status string) (Process, error) {
	var resp Process
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("processes/%s/status", url.PathEscape(id)), map[string]string{"status": status}, &resp)
	return resp, err
}

func (c *Client) move(ctx context.Context, id, op string) (Process, error) {
	var resp Process
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("processes/%s/%s", url.PathEscape(id), op), nil, &resp)
	return resp, err
}

// SaveAnswers stores field answers keyed by field id.
func (c *Client) SaveAnswers(ctx context.Context, id string, answers map[string]string) error {
	endpoint := fmt.Sprintf("processes/%s/answers", url.PathEscape(id))
	return c.do(ctx, http.MethodPut, endpoint, map[string]any{"answers": answers}, nil)
}

// SetChecklistEntry signs a department off, or reopens it when completed is false.
func (c *Client) SetChecklistEntry(ctx context.Context, id, departmentID string, completed bool) ([]ChecklistEntry, error) {
	var resp struct {
		Items []ChecklistEntry `json:"items"`
	}
	endpoint := fmt.Sprintf("processes/%s/checklist/%s", url.PathEscape(id), url.PathEscape(departmentID))
	err := c.do(ctx, http.MethodPut, endpoint, map[string]bool{"completed": completed}, &resp)
	return resp.Items, err
}

// Timeline returns the audit trail of a process, newest first.
func (c *Client) Timeline(ctx context.Context, id string, limit int) ([]Event, error) {
	endpoint := fmt.Sprintf("processes/%s/timeline", url.PathEscape(id))
	if limit > 0 {
		endpoint = fmt.Sprintf("%s?limit=%d", endpoint, limit)
	}
	var resp struct {
		Items []Event `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp.Items, err
}

// DeleteProcess moves a process to the trash.
func (c *Client) DeleteProcess(ctx context.Context, id string) (TrashItem, error) {
	var resp TrashItem
	err := c.do(ctx, http.MethodDelete, "processes/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

// Trash lists the trash items visible to the caller.
func (c *Client) Trash(ctx context.Context) ([]TrashItem, error) {
	var resp struct {
		Items []TrashItem `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, "trash", nil, &resp)
	return resp.Items, err
}

// Restore re-creates the entity held by a trash item.
func (c *Client) Restore(ctx context.Context, trashID string) (RestoreResult, error) {
	var resp RestoreResult
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("trash/%s/restore", url.PathEscape(trashID)), nil, &resp)
	return resp, err
}

// HardDelete permanently removes a trash item.
func (c *Client) HardDelete(ctx context.Context, trashID string) error {
	return c.do(ctx, http.MethodDelete, "trash/"+url.PathEscape(trashID), nil, nil)
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
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.BearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return decodeAPIError(resp.StatusCode, b)
	}
	if out != nil && resp.StatusCode != http.StatusNoContent {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func decodeAPIError(status int, body []byte) *APIError {
	apiErr := &APIError{StatusCode: status, Body: string(body)}
	var env struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
			Details struct {
				Issues []Issue `json:"issues"`
			} `json:"details"`
		} `json:"error"`
	}
	if json.Unmarshal(body, &env) == nil {
		apiErr.Code = env.Error.Code
		apiErr.Message = env.Error.Message
		apiErr.Issues = env.Error.Details.Issues
	}
	return apiErr
}

func (c *Client) base() string {
	base := strings.TrimRight(c.BaseURL, "/")
	if p := strings.Trim(c.BasePath, "/"); p != "" {
		base += "/" + p
	}
	return base
}
