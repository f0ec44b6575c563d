package appbeesdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Client is a minimal AppBee HTTP API client. BaseURL includes the API base
// path, e.g. http://127.0.0.1:8080/api.
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

type Account struct {
	ID            string `json:"id"`
	Email         string `json:"email"`
	FullName      string `json:"full_name"`
	Role          string `json:"role"`
	ApprovalState string `json:"approval_state"`
	CompanyID     string `json:"company_id,omitempty"`
	XP            int64  `json:"xp"`
	Level         int64  `json:"level"`
	CreatedAt     string `json:"created_at"`
}

type Task struct {
	ID                string   `json:"id"`
	CompanyID         string   `json:"company_id"`
	Title             string   `json:"title"`
	Description       string   `json:"description,omitempty"`
	Price             int64    `json:"price"`
	Difficulty        string   `json:"difficulty"`
	Status            string   `json:"status"`
	StatusLabel       string   `json:"status_label"`
	AssignedEngineers []string `json:"assigned_engineers"`
	ClaimedByMe       bool     `json:"claimed_by_me"`
	SubmittedByMe     bool     `json:"submitted_by_me"`
	CreatedAt         string   `json:"created_at"`
	UpdatedAt         string   `json:"updated_at"`
	ApprovedAt        string   `json:"approved_at,omitempty"`
}

// TaskPage wraps task listings with a cursor for the next page.
type TaskPage struct {
	Items      []Task `json:"items"`
	NextCursor string `json:"next_cursor"`
}

type Submission struct {
	ID               string `json:"id"`
	TaskID           string `json:"task_id"`
	EngineerID       string `json:"engineer_id"`
	EngineerFullName string `json:"engineer_full_name,omitempty"`
	EngineerEmail    string `json:"engineer_email,omitempty"`
	Notes            string `json:"notes"`
	AttachmentURL    string `json:"attachment_url"`
	ClaimedAt        string `json:"claimed_at,omitempty"`
	SubmittedAt      string `json:"submitted_at,omitempty"`
	Approved         bool   `json:"approved"`
	XPAwarded        int64  `json:"xp_awarded"`
}

type Credit struct {
	EngineerID string `json:"engineer_id"`
	XP         int64  `json:"xp"`
	TotalXP    int64  `json:"total_xp"`
}

// Approval is the outcome of approving a task. AlreadyApproved means the call
// credited nobody.
type Approval struct {
	Task            Task     `json:"task"`
	Credits         []Credit `json:"credits"`
	AlreadyApproved bool     `json:"already_approved"`
}

type LeaderboardEntry struct {
	Rank      int    `json:"rank"`
	AccountID string `json:"account_id"`
	FullName  string `json:"full_name"`
	XP        int64  `json:"xp"`
	Level     int64  `json:"level"`
}

// RegisterInput is the body of a registration request.
type RegisterInput struct {
	FullName  string `json:"full_name,omitempty"`
	Email     string `json:"email"`
	Password  string `json:"password"`
	Role      string `json:"role"`
	CompanyID string `json:"company_id,omitempty"`
}

type CreateTaskInput struct {
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Price       int64  `json:"price"`
	Difficulty  string `json:"difficulty"`
}

type SubmitInput struct {
	EngineerID    string `json:"engineer_id,omitempty"`
	Notes         string `json:"notes,omitempty"`
	AttachmentURL string `json:"attachment_url,omitempty"`
}

// APIError wraps non-2xx responses. Code and Message are filled from the
// error envelope when the body carries one.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s message=%s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// Login exchanges credentials for a bearer token and stores it on the client.
func (c *Client) Login(ctx context.Context, email, password string) (Account, error) {
	var resp struct {
		Token   string  `json:"token"`
		Account Account `json:"account"`
	}
	body := map[string]string{"email": email, "password": password}
	if err := c.do(ctx, http.MethodPost, "auth/login", body, &resp); err != nil {
		return Account{}, err
	}
	c.BearerToken = resp.Token
	return resp.Account, nil
}

// Register creates a pending account. No credentials are needed.
func (c *Client) Register(ctx context.Context, in RegisterInput) (Account, error) {
	var resp Account
	err := c.do(ctx, http.MethodPost, "accounts/register", in, &resp)
	return resp, err
}

// ApproveAccount approves a pending account (admin).
func (c *Client) ApproveAccount(ctx context.Context, accountID string) (Account, error) {
	var resp Account
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("admin/accounts/%s/approve", url.PathEscape(accountID)), nil, &resp)
	return resp, err
}

// ListTasks lists tasks visible to the caller. Empty status and cursor are
// omitted; limit <= 0 uses the server default.
func (c *Client) ListTasks(ctx context.Context, status string, limit int, cursor string) (TaskPage, error) {
	q := url.Values{}
	if status != "" {
		q.Set("status", status)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	endpoint := "tasks"
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp TaskPage
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) CreateTask(ctx context.Context, in CreateTaskInput) (Task, error) {
	var resp Task
	err := c.do(ctx, http.MethodPost, "tasks", in, &resp)
	return resp, err
}

func (c *Client) GetTask(ctx context.Context, taskID string) (Task, error) {
	var resp Task
	err := c.do(ctx, http.MethodGet, "tasks/"+url.PathEscape(taskID), nil, &resp)
	return resp, err
}

// Claim joins the task's assigned engineers. Repeating it is harmless.
func (c *Client) Claim(ctx context.Context, taskID string) (Task, error) {
	var resp Task
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("tasks/%s/claim", url.PathEscape(taskID)), nil, &resp)
	return resp, err
}

func (c *Client) Submit(ctx context.Context, taskID string, in SubmitInput) (Submission, error) {
	var resp Submission
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("tasks/%s/submit", url.PathEscape(taskID)), in, &resp)
	return resp, err
}

func (c *Client) Approve(ctx context.Context, taskID string) (Approval, error) {
	var resp Approval
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("tasks/%s/approve", url.PathEscape(taskID)), nil, &resp)
	return resp, err
}

func (c *Client) Submissions(ctx context.Context, taskID string) ([]Submission, error) {
	var resp []Submission
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("tasks/%s/submissions", url.PathEscape(taskID)), nil, &resp)
	return resp, err
}

func (c *Client) Leaderboard(ctx context.Context, limit int) ([]LeaderboardEntry, error) {
	endpoint := "leaderboard"
	if limit > 0 {
		endpoint += "?limit=" + strconv.Itoa(limit)
	}
	var resp struct {
		Items []LeaderboardEntry `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp.Items, err
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
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
		var envelope struct {
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if json.Unmarshal(b, &envelope) == nil {
			apiErr.Code = envelope.Error.Code
			apiErr.Message = envelope.Error.Message
		}
		return apiErr
	}
	if out != nil && resp.StatusCode != http.StatusNoContent {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
