// Package api is the REST client for the analysis task service.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/abelbrown/chatpulse/internal/httpclient"
	"github.com/abelbrown/chatpulse/internal/task"
)

// ErrTaskNotFound is returned when the service does not know the task id.
var ErrTaskNotFound = errors.New("task not found")

// maxBody caps how much of a response is read.
const maxBody = 8 << 20

// StatusError is a non-2xx response other than 404.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("HTTP %d", e.Code)
	}
	return fmt.Sprintf("HTTP %d: %s", e.Code, e.Body)
}

// Client talks to the task service. Safe for concurrent use.
type Client struct {
	base    string
	client  *http.Client
	limiter *rate.Limiter
}

// NewClient creates a client for baseURL on the shared transport.
// ratePerSecond <= 0 disables limiting.
func NewClient(baseURL string, timeout time.Duration, ratePerSecond float64) *Client {
	return NewClientWithHTTP(baseURL, httpclient.WithTimeout(timeout), ratePerSecond)
}

// NewClientWithHTTP creates a client using the given http.Client.
func NewClientWithHTTP(baseURL string, hc *http.Client, ratePerSecond float64) *Client {
	limit := rate.Inf
	if ratePerSecond > 0 {
		limit = rate.Limit(ratePerSecond)
	}
	return &Client{
		base:    strings.TrimRight(baseURL, "/"),
		client:  hc,
		limiter: rate.NewLimiter(limit, 1),
	}
}

// BaseURL returns the service root.
func (c *Client) BaseURL() string { return c.base }

// Submit launches an analysis job.
func (c *Client) Submit(ctx context.Context, req task.SubmitRequest) (task.SubmitResponse, error) {
	var resp task.SubmitResponse
	if err := c.do(ctx, http.MethodPost, "/tasks", req, &resp); err != nil {
		return task.SubmitResponse{}, fmt.Errorf("submit: %w", err)
	}
	return resp, nil
}

// TaskStatus fetches the current snapshot of a task.
func (c *Client) TaskStatus(ctx context.Context, id task.ID) (task.Snapshot, error) {
	var snap task.Snapshot
	if err := c.do(ctx, http.MethodGet, taskPath(id, ""), nil, &snap); err != nil {
		return task.Snapshot{}, fmt.Errorf("status %s: %w", id, err)
	}
	if snap.TaskID == "" {
		snap.TaskID = id
	}
	return snap, nil
}

// Result fetches the analysis payload of a completed task.
func (c *Client) Result(ctx context.Context, id task.ID) (task.Result, error) {
	var res task.Result
	if err := c.do(ctx, http.MethodGet, taskPath(id, "/result"), nil, &res); err != nil {
		return task.Result{}, fmt.Errorf("result %s: %w", id, err)
	}
	return res, nil
}

// Cancel asks the service to cancel a task.
func (c *Client) Cancel(ctx context.Context, id task.ID) error {
	if err := c.do(ctx, http.MethodPost, taskPath(id, "/cancel"), nil, nil); err != nil {
		return fmt.Errorf("cancel %s: %w", id, err)
	}
	return nil
}

func taskPath(id task.ID, suffix string) string {
	return "/tasks/" + url.PathEscape(string(id)) + suffix
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}

	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "chatpulse/0.3")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return ErrTaskNotFound
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(truncate(string(data), 200))}
	}

	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("parse response: %w", err)
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
