// Package api is the HTTP client of the Orchestra gateway used by the CLI.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/dohr-michael/orchestra/internal/agents"
	"github.com/dohr-michael/orchestra/internal/gateway"
	"github.com/dohr-michael/orchestra/internal/orchestrator"
	"github.com/dohr-michael/orchestra/internal/tasks"
)

// Error is a non-2xx answer from the gateway.
type Error struct {
	StatusCode int
	Message    string
}

func (e *Error) Error() string {
	return fmt.Sprintf("gateway: %d %s", e.StatusCode, e.Message)
}

// Client talks to a running gateway.
type Client struct {
	base string
	http *retryablehttp.Client
}

// New creates a client for the gateway at baseURL (e.g. http://127.0.0.1:18430).
// Only failed dials are retried: once a connection is up the request may
// have been applied, so timeouts and resets are returned to the caller.
func New(baseURL string) *Client {
	hc := retryablehttp.NewClient()
	hc.RetryMax = 3
	hc.RetryWaitMin = 100 * time.Millisecond
	hc.RetryWaitMax = time.Second
	hc.HTTPClient.Timeout = 10 * time.Second
	hc.Logger = slog.Default()
	hc.CheckRetry = retryDialErrors
	hc.ErrorHandler = retryablehttp.PassthroughErrorHandler

	return &Client{base: strings.TrimRight(baseURL, "/"), http: hc}
}

func retryDialErrors(ctx context.Context, _ *http.Response, err error) (bool, error) {
	if ctx.Err() != nil {
		return false, ctx.Err()
	}
	return isDialError(err), nil
}

// isDialError reports whether err happened before a connection was made.
func isDialError(err error) bool {
	var opErr *net.OpError
	return errors.As(err, &opErr) && opErr.Op == "dial"
}

// Health returns nil when the gateway answers its health check.
func (c *Client) Health(ctx context.Context) error {
	var body map[string]string
	return c.do(ctx, http.MethodGet, "/api/health", nil, &body)
}

// State returns the orchestrator state.
func (c *Client) State(ctx context.Context) (orchestrator.State, error) {
	var st orchestrator.State
	err := c.do(ctx, http.MethodGet, "/api/state", nil, &st)
	return st, err
}

// ListTasks returns all tasks, optionally filtered by status.
func (c *Client) ListTasks(ctx context.Context, status string) ([]tasks.Task, error) {
	path := "/api/tasks"
	if status != "" {
		path += "?status=" + url.QueryEscape(status)
	}
	var list []tasks.Task
	err := c.do(ctx, http.MethodGet, path, nil, &list)
	return list, err
}

// GetTask returns one task.
func (c *Client) GetTask(ctx context.Context, id string) (tasks.Task, error) {
	var t tasks.Task
	err := c.do(ctx, http.MethodGet, "/api/tasks/"+url.PathEscape(id), nil, &t)
	return t, err
}

// Enqueue submits a new task.
func (c *Client) Enqueue(ctx context.Context, body gateway.EnqueueBody) (gateway.EnqueueResponse, error) {
	var resp gateway.EnqueueResponse
	err := c.do(ctx, http.MethodPost, "/api/tasks", body, &resp)
	return resp, err
}

// UpdateStatus requests a status change. A rejected change is reported in
// the Outcome, not as an error.
func (c *Client) UpdateStatus(ctx context.Context, id, status, result string) (orchestrator.Outcome, error) {
	return c.outcome(ctx, "/api/tasks/"+url.PathEscape(id)+"/status", gateway.StatusBody{Status: status, Result: result})
}

// Cancel cancels a task with an optional reason.
func (c *Client) Cancel(ctx context.Context, id, reason string) (orchestrator.Outcome, error) {
	return c.outcome(ctx, "/api/tasks/"+url.PathEscape(id)+"/cancel", gateway.StatusBody{Result: reason})
}

// Assign triggers an assignment pass and returns how many tasks were assigned.
func (c *Client) Assign(ctx context.Context) (int, error) {
	var body map[string]int
	if err := c.do(ctx, http.MethodPost, "/api/assign", nil, &body); err != nil {
		return 0, err
	}
	return body["assigned"], nil
}

// Next fetches the next task for an agent. ok is false when there is none.
func (c *Client) Next(ctx context.Context, agentID string) (t tasks.Task, ok bool, err error) {
	err = c.do(ctx, http.MethodPost, "/api/agents/"+url.PathEscape(agentID)+"/next", nil, &t)
	return t, err == nil && t.ID != "", err
}

// Heartbeat records that an agent is alive.
func (c *Client) Heartbeat(ctx context.Context, agentID string) error {
	return c.do(ctx, http.MethodPost, "/api/agents/"+url.PathEscape(agentID)+"/heartbeat", nil, nil)
}

// Agents lists agents with their effective status.
func (c *Client) Agents(ctx context.Context) ([]agents.Agent, error) {
	var list []agents.Agent
	err := c.do(ctx, http.MethodGet, "/api/agents", nil, &list)
	return list, err
}

func (c *Client) outcome(ctx context.Context, path string, body any) (orchestrator.Outcome, error) {
	var out orchestrator.Outcome
	err := c.do(ctx, http.MethodPost, path, body, &out)
	var apiErr *Error
	if errors.As(err, &apiErr) && (apiErr.StatusCode == http.StatusNotFound || apiErr.StatusCode == http.StatusConflict) {
		if jerr := json.Unmarshal([]byte(apiErr.Message), &out); jerr == nil {
			return out, nil
		}
	}
	return out, err
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		return &Error{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(data))}
	}
	if resp.StatusCode == http.StatusNoContent || out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
