// Package worker is the remote execution agent: it long-polls the control
// plane for signed jobs, verifies them against the pinned public key, and
// executes them inside the job's filesystem scope.
package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"agenthub.dev/dispatch/internal/model"
)

// ControlPlane is the worker's view of the server API. The HTTP client
// implements it; tests swap in function-field mocks.
type ControlPlane interface {
	FetchPending(ctx context.Context) (*model.Job, error)
	Acknowledge(ctx context.Context, jobID string) error
	UploadResult(ctx context.Context, jobID string, result model.JobResult) error
	Heartbeat(ctx context.Context, status string, capabilities []model.Capability) error
	ReportViolation(ctx context.Context, v model.SecurityViolation) error
}

// Client talks to the control plane over HTTP with bearer worker auth.
type Client struct {
	baseURL  string
	token    string
	workerID string
	http     *http.Client
}

func NewClient(baseURL, token, workerID string, timeout time.Duration) *Client {
	return &Client{
		baseURL:  baseURL,
		token:    token,
		workerID: workerID,
		http:     &http.Client{Timeout: timeout},
	}
}

// FetchPending long-polls for the next queued job. Returns nil when the
// server answered 204 before anything was queued.
func (c *Client) FetchPending(ctx context.Context) (*model.Job, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/api/v1/jobs/pending", nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching pending job: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		var job model.Job
		if err := json.NewDecoder(resp.Body).Decode(&job); err != nil {
			return nil, fmt.Errorf("decoding pending job: %w", err)
		}
		return &job, nil
	case http.StatusNoContent:
		return nil, nil
	default:
		return nil, c.statusError(resp)
	}
}

func (c *Client) Acknowledge(ctx context.Context, jobID string) error {
	return c.post(ctx, fmt.Sprintf("/api/v1/jobs/%s/acknowledge", jobID), nil)
}

func (c *Client) UploadResult(ctx context.Context, jobID string, result model.JobResult) error {
	return c.post(ctx, fmt.Sprintf("/api/v1/jobs/%s/result", jobID), result)
}

func (c *Client) Heartbeat(ctx context.Context, status string, capabilities []model.Capability) error {
	return c.post(ctx, "/api/v1/workers/heartbeat", map[string]any{
		"worker_id":    c.workerID,
		"status":       status,
		"capabilities": capabilities,
	})
}

func (c *Client) ReportViolation(ctx context.Context, v model.SecurityViolation) error {
	return c.post(ctx, "/api/v1/security/violations", v)
}

func (c *Client) post(ctx context.Context, path string, body any) error {
	var payload io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request body: %w", err)
		}
		payload = bytes.NewReader(data)
	}

	req, err := c.newRequest(ctx, http.MethodPost, path, payload)
	if err != nil {
		return err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("calling %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return c.statusError(resp)
	}
	io.Copy(io.Discard, resp.Body)
	return nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("building request for %s: %w", path, err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("User-Agent", "dispatch-worker/"+c.workerID)
	req.Header.Set("X-Worker-ID", c.workerID)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

func (c *Client) statusError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return fmt.Errorf("server returned %d: %s", resp.StatusCode, bytes.TrimSpace(data))
}
