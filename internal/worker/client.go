// Package worker provides the HTTP client for the external CAD conversion
// worker. The worker exposes a small task-queue API: submit, status, cancel,
// and queue stats.
package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/cadrelay/cadrelay/internal/config"
)

// TaskState is the lifecycle state reported by the worker.
type TaskState string

const (
	StatePending    TaskState = "PENDING"
	StateProcessing TaskState = "PROCESSING"
	StateSuccess    TaskState = "SUCCESS"
	StateFailure    TaskState = "FAILURE"
)

// SubmitRequest describes a conversion task handed to the worker. Paths are
// on the spool volume shared between this service and the worker.
type SubmitRequest struct {
	InputPath  string `json:"input_path"`
	OutputPath string `json:"output_path"`
	Priority   int    `json:"priority,omitempty"`
}

// submitResponse is the worker's reply to a task submission.
type submitResponse struct {
	Success bool   `json:"success"`
	TaskID  string `json:"task_id,omitempty"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

// TaskResult carries the outcome of a finished task.
type TaskResult struct {
	Success          bool   `json:"success"`
	OutputPath       string `json:"output_path,omitempty"`
	Error            string `json:"error,omitempty"`
	ProcessingTimeMs int64  `json:"processing_time_ms,omitempty"`
}

// TaskStatus is the worker's view of a task.
type TaskStatus struct {
	TaskID string      `json:"task_id"`
	State  TaskState   `json:"state"`
	Status string      `json:"status,omitempty"`
	Result *TaskResult `json:"result,omitempty"`
	Error  string      `json:"error,omitempty"`
}

// QueueStats summarizes the worker's queue depth.
type QueueStats struct {
	Active       int `json:"active"`
	Scheduled    int `json:"scheduled"`
	Reserved     int `json:"reserved"`
	TotalPending int `json:"total_pending"`
}

// healthResponse is the worker's health check reply.
type healthResponse struct {
	Status string `json:"status"`
}

// Client talks to the conversion worker over HTTP.
type Client struct {
	baseURL       string
	httpClient    *http.Client
	submitTimeout time.Duration
	statusTimeout time.Duration
	logger        *slog.Logger
}

// NewClient creates a worker client from configuration.
func NewClient(cfg config.WorkerConfig, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL:       cfg.BaseURL,
		httpClient:    &http.Client{},
		submitTimeout: cfg.SubmitTimeout,
		statusTimeout: cfg.StatusTimeout,
		logger:        logger,
	}
}

// Submit hands a conversion task to the worker and returns its task ID.
// Submission is not retried here; the caller decides what a refused task
// means for the conversion.
func (c *Client) Submit(ctx context.Context, req SubmitRequest) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.submitTimeout)
	defer cancel()

	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("encoding submit request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/convert", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("building submit request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("submitting conversion task: %w", err)
	}
	defer resp.Body.Close()

	var submitResp submitResponse
	if err := json.NewDecoder(resp.Body).Decode(&submitResp); err != nil {
		return "", fmt.Errorf("decoding submit response: %w", err)
	}

	if !submitResp.Success || submitResp.TaskID == "" {
		reason := submitResp.Error
		if reason == "" {
			reason = fmt.Sprintf("worker returned status %d", resp.StatusCode)
		}
		return "", fmt.Errorf("worker refused conversion task: %s", reason)
	}

	return submitResp.TaskID, nil
}

// TaskStatus fetches the current state of a task. An error means the state
// could not be learned at all, which is different from the worker reporting
// StateFailure.
func (c *Client) TaskStatus(ctx context.Context, taskID string) (*TaskStatus, error) {
	ctx, cancel := context.WithTimeout(ctx, c.statusTimeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/status/"+url.PathEscape(taskID), nil)
	if err != nil {
		return nil, fmt.Errorf("building status request: %w", err)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("getting task status: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("task status request returned %d", resp.StatusCode)
	}

	var status TaskStatus
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return nil, fmt.Errorf("decoding task status: %w", err)
	}
	return &status, nil
}

// Cancel asks the worker to cancel a pending or running task. Returns false
// when the worker could not be reached or refused.
func (c *Client) Cancel(ctx context.Context, taskID string) bool {
	ctx, cancel := context.WithTimeout(ctx, c.statusTimeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/cancel/"+url.PathEscape(taskID), bytes.NewReader([]byte("{}")))
	if err != nil {
		return false
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		c.logger.Warn("task cancel failed", slog.String("task_id", taskID), slog.String("error", err.Error()))
		return false
	}
	defer resp.Body.Close()

	var cancelResp struct {
		Success bool `json:"success"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&cancelResp); err != nil {
		return false
	}
	return cancelResp.Success
}

// QueueStats fetches the worker's queue depth. Failures degrade to the zero
// value so status pages never break on a flaky worker.
func (c *Client) QueueStats(ctx context.Context) QueueStats {
	ctx, cancel := context.WithTimeout(ctx, c.statusTimeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/queue/stats", nil)
	if err != nil {
		return QueueStats{}
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		c.logger.Warn("queue stats unavailable", slog.String("error", err.Error()))
		return QueueStats{}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return QueueStats{}
	}

	var stats QueueStats
	if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
		return QueueStats{}
	}
	return stats
}

// Healthy reports whether the worker's health endpoint answers "healthy".
func (c *Client) Healthy(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, c.statusTimeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return false
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return false
	}
	defer resp.Body.Close()

	var health healthResponse
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		return false
	}
	return health.Status == "healthy"
}
