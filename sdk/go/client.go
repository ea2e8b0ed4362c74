package vibelinesdk

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

// Client is a minimal Vibeline HTTP API client.
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

// User represents the API user model.
type User struct {
	ID               string `json:"id"`
	Email            string `json:"email"`
	FullName         string `json:"full_name"`
	Role             string `json:"role"`
	ProfileCompleted bool   `json:"profile_completed"`
	CreatedAt        string `json:"created_at"`
}

// Application represents a developer application.
type Application struct {
	ID              string `json:"id"`
	UserID          string `json:"user_id"`
	Email           string `json:"email"`
	FullName        string `json:"full_name"`
	Skills          string `json:"skills,omitempty"`
	ExperienceLevel string `json:"experience_level,omitempty"`
	Status          string `json:"status"`
	CreatedAt       string `json:"created_at"`
}

// Task represents the API task model.
type Task struct {
	ID             string   `json:"id"`
	Title          string   `json:"title"`
	Description    string   `json:"description,omitempty"`
	Status         string   `json:"status"`
	VibeCoderID    string   `json:"vibe_coder_id"`
	DeveloperID    *string  `json:"developer_id,omitempty"`
	ProjectID      string   `json:"project_id,omitempty"`
	EstimatedHours *int     `json:"estimated_hours,omitempty"`
	EstimatedCost  *float64 `json:"estimated_cost,omitempty"`
	Progress       int      `json:"progress"`
	CreatedAt      string   `json:"created_at"`
	UpdatedAt      string   `json:"updated_at"`
}

// Event represents a log entry.
type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload,omitempty"`
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

// PaginatedApplications wraps application listings with a cursor.
type PaginatedApplications struct {
	Items      []Application `json:"items"`
	NextCursor string        `json:"next_cursor"`
}

type loginResponse struct {
	Token string `json:"token"`
	User  User   `json:"user"`
}

// Signup registers a new account.
func (c *Client) Signup(ctx context.Context, email, fullName string) (User, error) {
	body := map[string]any{"email": email, "full_name": fullName}
	var resp User
	err := c.do(ctx, http.MethodPost, "auth/signup", body, &resp)
	return resp, err
}

// Login obtains a session token and stores it on the client.
func (c *Client) Login(ctx context.Context, email string) (User, error) {
	body := map[string]any{"email": email}
	var resp loginResponse
	if err := c.do(ctx, http.MethodPost, "auth/login", body, &resp); err != nil {
		return User{}, err
	}
	c.BearerToken = resp.Token
	return resp.User, nil
}

// Me returns the authenticated user.
func (c *Client) Me(ctx context.Context) (User, error) {
	var resp User
	err := c.do(ctx, http.MethodGet, "me", nil, &resp)
	return resp, err
}

// SubmitApplication files a developer application.
func (c *Client) SubmitApplication(ctx context.Context, fullName, skills, experience string) (Application, error) {
	body := map[string]any{
		"full_name":        fullName,
		"skills":           skills,
		"experience_level": experience,
	}
	var resp Application
	err := c.do(ctx, http.MethodPost, "applications", body, &resp)
	return resp, err
}

// Applications returns a page of applications (admin only).
func (c *Client) Applications(ctx context.Context, limit int, cursor string) (PaginatedApplications, error) {
	var resp PaginatedApplications
	err := c.do(ctx, http.MethodGet, withPage("applications", limit, cursor), nil, &resp)
	return resp, err
}

// DecideApplication approves or rejects an application (admin only).
func (c *Client) DecideApplication(ctx context.Context, id, decision string) (Application, error) {
	body := map[string]any{"decision": decision}
	var resp Application
	endpoint := fmt.Sprintf("applications/%s/decide", url.PathEscape(id))
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp, err
}

// CreateTask posts a new task.
func (c *Client) CreateTask(ctx context.Context, title, description string) (Task, error) {
	body := map[string]any{"title": title, "description": description}
	var resp Task
	err := c.do(ctx, http.MethodPost, "tasks", body, &resp)
	return resp, err
}

// Tasks returns a page of tasks visible to the caller.
func (c *Client) Tasks(ctx context.Context, limit int, cursor string) (PaginatedTasks, error) {
	var resp PaginatedTasks
	err := c.do(ctx, http.MethodGet, withPage("tasks", limit, cursor), nil, &resp)
	return resp, err
}

// GetTask fetches a task by id.
func (c *Client) GetTask(ctx context.Context, id string) (Task, error) {
	var resp Task
	err := c.do(ctx, http.MethodGet, "tasks/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

// AssignTask picks up an open task as the calling developer.
func (c *Client) AssignTask(ctx context.Context, id string) (Task, error) {
	var resp Task
	endpoint := fmt.Sprintf("tasks/%s/assign", url.PathEscape(id))
	err := c.do(ctx, http.MethodPost, endpoint, struct{}{}, &resp)
	return resp, err
}

// AdvanceTask moves a task to the given status.
func (c *Client) AdvanceTask(ctx context.Context, id, status string) (Task, error) {
	body := map[string]any{"status": status}
	var resp Task
	endpoint := fmt.Sprintf("tasks/%s/advance", url.PathEscape(id))
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp, err
}

// ReportProgress sets the progress percentage on an in-progress task.
func (c *Client) ReportProgress(ctx context.Context, id string, percent int) (Task, error) {
	body := map[string]any{"progress": percent}
	var resp Task
	endpoint := fmt.Sprintf("tasks/%s/progress", url.PathEscape(id))
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp, err
}

// TaskSpace enters the collaboration space for a task.
func (c *Client) TaskSpace(ctx context.Context, id string) (Task, error) {
	var resp Task
	endpoint := fmt.Sprintf("tasks/%s/space", url.PathEscape(id))
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// DraftTask generates a task description from a rough idea.
func (c *Client) DraftTask(ctx context.Context, idea string) (string, error) {
	body := map[string]any{"idea": idea}
	var resp struct {
		Description string `json:"description"`
	}
	err := c.do(ctx, http.MethodPost, "tasks/draft", body, &resp)
	return resp.Description, err
}

// Events returns recent events (admin only).
func (c *Client) Events(ctx context.Context, limit int) ([]Event, error) {
	var resp struct {
		Items []Event `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, withPage("events", limit, ""), nil, &resp)
	return resp.Items, err
}

func withPage(endpoint string, limit int, cursor string) string {
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
	return endpoint
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/api/v1/" + strings.TrimLeft(endpoint, "/")
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
