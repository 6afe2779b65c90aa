package tes

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

const defaultPollInterval = 2 * time.Second

// Client talks to one TES service endpoint. It keeps no task state across
// calls.
type Client struct {
	base         string
	httpClient   *http.Client
	pollInterval time.Duration
}

// Option configures a Client.
type Option func(*Client)

// WithTLSConfig sets the TLS configuration used for HTTPS endpoints.
func WithTLSConfig(cfg *tls.Config) Option {
	return func(c *Client) {
		transport := c.httpClient.Transport.(*retryablehttp.RoundTripper)
		transport.Client.HTTPClient.Transport = &http.Transport{TLSClientConfig: cfg}
	}
}

// WithPollInterval sets how often WaitTask polls the service.
func WithPollInterval(d time.Duration) Option {
	return func(c *Client) {
		c.pollInterval = d
	}
}

// NewClient creates a client for the given service endpoint, e.g.
// "http://localhost:8000/ga4gh/tes". Transient transport errors are retried.
func NewClient(endpoint string, opts ...Option) (*Client, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("parsing endpoint %q: %w", endpoint, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("unsupported endpoint scheme %q", endpoint)
	}

	rc := retryablehttp.NewClient()
	rc.RetryMax = 3
	rc.Logger = nil

	c := &Client{
		base:         strings.TrimRight(u.String(), "/"),
		httpClient:   rc.StandardClient(),
		pollInterval: defaultPollInterval,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// CreateTask submits the task and returns the service-assigned task ID.
func (c *Client) CreateTask(ctx context.Context, task *Task) (string, error) {
	body, err := json.Marshal(task)
	if err != nil {
		return "", fmt.Errorf("encoding task: %w", err)
	}

	var resp struct {
		ID string `json:"id"`
	}
	if err := c.do(ctx, http.MethodPost, c.base+"/v1/tasks", body, &resp); err != nil {
		return "", err
	}
	if resp.ID == "" {
		return "", fmt.Errorf("service returned no task id")
	}
	return resp.ID, nil
}

// GetTask retrieves a task at the requested detail level.
func (c *Client) GetTask(ctx context.Context, id string, view View) (*Task, error) {
	u := fmt.Sprintf("%s/v1/tasks/%s?view=%s", c.base, url.PathEscape(id), view)
	var task Task
	if err := c.do(ctx, http.MethodGet, u, nil, &task); err != nil {
		return nil, err
	}
	return &task, nil
}

// ListTasks retrieves one page of tasks. An empty pageToken requests the
// first page.
func (c *Client) ListTasks(ctx context.Context, view View, pageToken string) (*ListTasksResponse, error) {
	u := fmt.Sprintf("%s/v1/tasks?view=%s", c.base, view)
	if pageToken != "" {
		u += "&page_token=" + url.QueryEscape(pageToken)
	}
	var resp ListTasksResponse
	if err := c.do(ctx, http.MethodGet, u, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// CancelTask asks the service to cancel a task. Cancelling a task that is
// already terminal is an error on most implementations.
func (c *Client) CancelTask(ctx context.Context, id string) error {
	u := fmt.Sprintf("%s/v1/tasks/%s:cancel", c.base, url.PathEscape(id))
	return c.do(ctx, http.MethodPost, u, []byte("{}"), nil)
}

// WaitTask blocks until the task reaches a terminal state and returns it.
// A zero timeout waits indefinitely; the context cancels the wait either
// way. This is the only blocking operation in the pipeline.
func (c *Client) WaitTask(ctx context.Context, id string, timeout time.Duration) (State, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		task, err := c.GetTask(ctx, id, ViewMinimal)
		if err != nil {
			return StateUnknown, err
		}
		if task.State.Terminal() {
			return task.State, nil
		}

		select {
		case <-ctx.Done():
			return task.State, fmt.Errorf("waiting for task %s: %w", id, ctx.Err())
		case <-ticker.C:
		}
	}
}

// do performs one request and decodes a JSON response into out when out is
// non-nil. Any non-2xx status is returned as an error carrying a snippet of
// the response body.
func (c *Client) do(ctx context.Context, method, u string, body []byte, out any) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, u, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s %s: %s: %s", method, u, resp.Status, strings.TrimSpace(string(snippet)))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response from %s: %w", u, err)
	}
	return nil
}
