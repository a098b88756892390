package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Client is a small HTTP client for the agencyhub API.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	verbose    bool
	stderr     io.Writer
}

// NewClient creates a new API client.
func NewClient(baseURL, token string, verbose bool) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		verbose:    verbose,
		stderr:     io.Discard,
	}
}

// Do performs a request and decodes a JSON response into out when out is not nil.
func (c *Client) Do(ctx context.Context, method, path string, body, out any) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	if ctx == nil {
		ctx = context.Background()
	}
	url := c.baseURL + path
	req, err := http.NewRequestWithContext(ctx, method, url, reqBody)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	if c.verbose {
		fmt.Fprintf(c.stderr, ">>> %s %s\n", method, url)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if c.verbose {
		fmt.Fprintf(c.stderr, "<<< %d %s\n", resp.StatusCode, http.StatusText(resp.StatusCode))
	}
	if resp.StatusCode >= 400 {
		return parseAPIError(resp.StatusCode, respBody)
	}
	if out == nil || len(respBody) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("parse response: %w", err)
	}
	return nil
}

// GetJSON performs a GET request.
func (c *Client) GetJSON(ctx context.Context, path string, out any) error {
	return c.Do(ctx, http.MethodGet, path, nil, out)
}

// PostJSON performs a POST request.
func (c *Client) PostJSON(ctx context.Context, path string, body, out any) error {
	return c.Do(ctx, http.MethodPost, path, body, out)
}

// APIError is an error answered by the API.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	RequestID  string
}

func (e *APIError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = fmt.Sprintf("API error: %d %s", e.StatusCode, http.StatusText(e.StatusCode))
	}
	if e.RequestID != "" {
		return fmt.Sprintf("%s (request %s)", msg, e.RequestID)
	}
	return msg
}

func parseAPIError(statusCode int, body []byte) error {
	apiErr := &APIError{StatusCode: statusCode}

	var parsed struct {
		Code      string `json:"code"`
		Message   string `json:"message"`
		RequestID string `json:"request_id"`
	}
	if err := json.Unmarshal(body, &parsed); err == nil {
		apiErr.Code = parsed.Code
		apiErr.Message = parsed.Message
		apiErr.RequestID = parsed.RequestID
	}

	if apiErr.Message == "" {
		switch statusCode {
		case http.StatusUnauthorized:
			apiErr.Message = "unauthorized: invalid or missing token"
		case http.StatusForbidden:
			apiErr.Message = "forbidden: platform administrator token required"
		case http.StatusNotFound:
			apiErr.Message = "resource not found"
		}
	}
	return apiErr
}

// Response types matching the server's handlers.

type ReadyResponse struct {
	Status string `json:"status"`
	Checks map[string]struct {
		Status   string `json:"status"`
		Duration string `json:"duration"`
		Error    string `json:"error,omitempty"`
	} `json:"checks"`
}

type AgencyResponse struct {
	ID        string `json:"id" yaml:"id"`
	Name      string `json:"name" yaml:"name"`
	Slug      string `json:"slug" yaml:"slug"`
	Currency  string `json:"currency" yaml:"currency"`
	Locale    string `json:"locale" yaml:"locale"`
	Active    bool   `json:"active" yaml:"active"`
	CreatedAt string `json:"created_at" yaml:"created_at"`
}

type JobResponse struct {
	ID           string         `json:"id" yaml:"id"`
	AgencyID     string         `json:"agency_id" yaml:"agency_id"`
	Kind         string         `json:"kind" yaml:"kind"`
	Priority     string         `json:"priority" yaml:"priority"`
	Status       string         `json:"status" yaml:"status"`
	Confidence   float64        `json:"confidence_score" yaml:"confidence_score"`
	Input        map[string]any `json:"input,omitempty" yaml:"input,omitempty"`
	Output       map[string]any `json:"output,omitempty" yaml:"output,omitempty"`
	ErrorMessage string         `json:"error_message,omitempty" yaml:"error_message,omitempty"`
	AttemptCount int            `json:"attempt_count" yaml:"attempt_count"`
	MaxAttempts  int            `json:"max_attempts" yaml:"max_attempts"`
	CreatedAt    string         `json:"created_at" yaml:"created_at"`
	CompletedAt  *string        `json:"completed_at,omitempty" yaml:"completed_at,omitempty"`
	FailedAt     *string        `json:"failed_at,omitempty" yaml:"failed_at,omitempty"`
}

type ListResponse[T any] struct {
	Data       []T   `json:"data" yaml:"data"`
	Total      int64 `json:"total" yaml:"total"`
	Page       int   `json:"page" yaml:"page"`
	PerPage    int   `json:"per_page" yaml:"per_page"`
	TotalPages int   `json:"total_pages" yaml:"total_pages"`
}

type SubmitResponse struct {
	JobID  string `json:"job_id" yaml:"job_id"`
	Kind   string `json:"kind" yaml:"kind"`
	Status string `json:"status" yaml:"status"`
	Queue  string `json:"queue" yaml:"queue"`
}

type QueueStats struct {
	Queue     string `json:"queue" yaml:"queue"`
	Pending   int    `json:"pending" yaml:"pending"`
	Active    int    `json:"active" yaml:"active"`
	Scheduled int    `json:"scheduled" yaml:"scheduled"`
	Retry     int    `json:"retry" yaml:"retry"`
	Archived  int    `json:"archived" yaml:"archived"`
	Paused    bool   `json:"paused" yaml:"paused"`
}

type KindInfo struct {
	Kind     string `json:"kind" yaml:"kind"`
	Priority string `json:"priority" yaml:"priority"`
	Queue    string `json:"queue" yaml:"queue"`
}

type AuditEntry struct {
	ID           string `json:"id" yaml:"id"`
	Action       string `json:"action" yaml:"action"`
	Severity     string `json:"severity" yaml:"severity"`
	ActorID      string `json:"actor_id,omitempty" yaml:"actor_id,omitempty"`
	ResourceType string `json:"resource_type" yaml:"resource_type"`
	ResourceID   string `json:"resource_id,omitempty" yaml:"resource_id,omitempty"`
	Message      string `json:"message,omitempty" yaml:"message,omitempty"`
	CreatedAt    string `json:"created_at" yaml:"created_at"`
}

type RecoverResponse struct {
	Total     int `json:"total" yaml:"total"`
	Recovered int `json:"recovered" yaml:"recovered"`
	Skipped   int `json:"skipped" yaml:"skipped"`
	Errors    int `json:"errors" yaml:"errors"`
}
