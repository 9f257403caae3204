// Package riskpilot is a small client for the riskpilotd REST API.
package riskpilot

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"
)

// DefaultHTTPTimeout applies to clients created without a custom http.Client.
// Streaming calls should pass a client without a timeout.
const DefaultHTTPTimeout = 30 * time.Second

// Client wraps the HTTP interactions with riskpilotd.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
}

// ChatRequest is one chat message.
type ChatRequest struct {
	Text   string `json:"text"`
	UserID string `json:"userId,omitempty"`
}

// Graph is one chart config. Chart is left raw so callers can hand it to a
// charting library unchanged.
type Graph struct {
	Kind      string          `json:"kind"`
	Subject   string          `json:"subject"`
	Timeframe string          `json:"timeframe"`
	ChartType string          `json:"chartType,omitempty"`
	Chart     json.RawMessage `json:"chart"`
}

// ChatResponse is the assembled answer.
type ChatResponse struct {
	Intent        string          `json:"intent"`
	UserID        string          `json:"userId,omitempty"`
	Text          string          `json:"text"`
	CorrelationID string          `json:"correlationId,omitempty"`
	Analysis      json.RawMessage `json:"analysis,omitempty"`
	Summary       json.RawMessage `json:"summary,omitempty"`
	News          json.RawMessage `json:"news,omitempty"`
	Graphs        []Graph         `json:"graphs,omitempty"`
	Warnings      []string        `json:"warnings,omitempty"`
	Refined       bool            `json:"refined,omitempty"`
	LatencyMS     int64           `json:"latencyMs"`
}

// Step is one progress event of a streamed chat.
type Step struct {
	Name   string          `json:"step"`
	Detail string          `json:"detail,omitempty"`
	Data   json.RawMessage `json:"data,omitempty"`
	Error  string          `json:"error,omitempty"`
	At     time.Time       `json:"at"`
}

// Final reports whether the step ends the stream.
func (s Step) Final() bool { return s.Name == "complete" || s.Name == "error" }

// Completion is the payload of the terminal complete step.
type Completion struct {
	Response  *ChatResponse `json:"response"`
	Graphs    []Graph       `json:"graphs"`
	LatencyMS int64         `json:"latency_ms"`
}

// Completion decodes the data of a complete step.
func (s Step) Completion() (Completion, error) {
	var c Completion
	if s.Name != "complete" {
		return c, fmt.Errorf("step %q carries no completion", s.Name)
	}
	if len(s.Data) == 0 {
		return c, errors.New("complete step without data")
	}
	if err := json.Unmarshal(s.Data, &c); err != nil {
		return c, fmt.Errorf("decode completion: %w", err)
	}
	return c, nil
}

// TaskSubmission creates an asynchronous chat job. ID is optional and makes
// the submission idempotent.
type TaskSubmission struct {
	ID     string `json:"id,omitempty"`
	Text   string `json:"text"`
	UserID string `json:"userId,omitempty"`
}

// Task is the server view of a chat job.
type Task struct {
	ID         string        `json:"id"`
	UserID     string        `json:"user_id,omitempty"`
	Message    string        `json:"message"`
	Status     string        `json:"status"`
	Attempts   int           `json:"attempts"`
	MaxRetries int           `json:"max_retries"`
	LastError  string        `json:"last_error,omitempty"`
	ErrorCode  string        `json:"error_code,omitempty"`
	Result     *ChatResponse `json:"result,omitempty"`
	CreatedAt  int64         `json:"created_at"`
	UpdatedAt  int64         `json:"updated_at"`
}

// Done reports whether the task reached a final state.
func (t Task) Done() bool { return t.Status == "succeeded" || t.Status == "failed" }

// BusStats mirrors GET /api/v1/bus/stats.
type BusStats struct {
	Agents    int    `json:"agents"`
	Waiters   int    `json:"waiters"`
	Observers int    `json:"observers"`
	Sent      uint64 `json:"sent"`
	Dropped   uint64 `json:"dropped"`
	History   int    `json:"history"`
}

// APIError represents server side validation or internal errors.
type APIError struct {
	StatusCode int
	Code       string `json:"code"`
	Message    string `json:"error"`
}

func (e *APIError) Error() string {
	if e == nil {
		return ""
	}
	if e.Code != "" {
		return fmt.Sprintf("riskpilot api error (%d): %s - %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("riskpilot api error (%d): %s", e.StatusCode, e.Message)
}

// NewClient instantiates a client for rawURL. When httpClient is nil, a
// default client with DefaultHTTPTimeout is used.
func NewClient(rawURL string, httpClient *http.Client) (*Client, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultHTTPTimeout}
	}
	return &Client{baseURL: parsed, httpClient: httpClient}, nil
}

// Chat sends a message and waits for the full answer.
func (c *Client) Chat(ctx context.Context, req ChatRequest) (ChatResponse, error) {
	var resp ChatResponse
	if err := c.post(ctx, "/api/v1/chat", req, &resp); err != nil {
		return ChatResponse{}, err
	}
	return resp, nil
}

// Stream sends a message to the SSE endpoint and calls fn for every step.
// It returns the error of the terminal error step, fn's first error, or nil
// after the complete step.
func (c *Client) Stream(ctx context.Context, req ChatRequest, fn func(Step) error) error {
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	httpReq, err := c.newRequest(ctx, http.MethodPost, "/api/v1/chat/stream", bytes.NewReader(body))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return decodeAPIError(resp)
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var step Step
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &step); err != nil {
			return fmt.Errorf("decode step: %w", err)
		}
		if fn != nil {
			if err := fn(step); err != nil {
				return err
			}
		}
		switch step.Name {
		case "complete":
			return nil
		case "error":
			return errors.New(step.Error)
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read stream: %w", err)
	}
	return io.ErrUnexpectedEOF
}

// SubmitTask queues an asynchronous chat job.
func (c *Client) SubmitTask(ctx context.Context, submission TaskSubmission) (Task, error) {
	var t Task
	if err := c.post(ctx, "/api/v1/tasks", submission, &t); err != nil {
		return Task{}, err
	}
	return t, nil
}

// GetTask fetches task details by identifier.
func (c *Client) GetTask(ctx context.Context, taskID string) (Task, error) {
	var t Task
	if err := c.get(ctx, "/api/v1/tasks/"+url.PathEscape(taskID), &t); err != nil {
		return Task{}, err
	}
	return t, nil
}

// WaitTask polls GetTask every interval until the task is done or ctx ends.
// On ctx expiry it returns the last seen task together with ctx.Err().
func (c *Client) WaitTask(ctx context.Context, taskID string, interval time.Duration) (Task, error) {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		t, err := c.GetTask(ctx, taskID)
		if err != nil {
			return t, err
		}
		if t.Done() {
			return t, nil
		}
		select {
		case <-ctx.Done():
			return t, ctx.Err()
		case <-ticker.C:
		}
	}
}

// BusStats reads the message bus counters.
func (c *Client) BusStats(ctx context.Context) (BusStats, error) {
	var stats BusStats
	if err := c.get(ctx, "/api/v1/bus/stats", &stats); err != nil {
		return BusStats{}, err
	}
	return stats, nil
}

func (c *Client) post(ctx context.Context, endpoint string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	req, err := c.newRequest(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) get(ctx context.Context, endpoint string, out any) error {
	req, err := c.newRequest(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) newRequest(ctx context.Context, method, endpoint string, body io.Reader) (*http.Request, error) {
	rel := &url.URL{Path: path.Join(c.baseURL.Path, endpoint)}
	u := c.baseURL.ResolveReference(rel)
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	return req, nil
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return decodeAPIError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func decodeAPIError(resp *http.Response) error {
	apiErr := &APIError{StatusCode: resp.StatusCode}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read error response: %w", err)
	}
	if len(data) > 0 {
		_ = json.Unmarshal(data, apiErr)
	}
	if apiErr.Message == "" {
		apiErr.Message = string(bytes.TrimSpace(data))
	}
	return apiErr
}
