// Package tasks submits delayed jobs to the external task queue. Jobs are
// delivered back to the service as authenticated HTTP POSTs after their delay.
package tasks

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/hsrmk/skystack/internal/logger"
)

// Submission statuses reported per job.
const (
	StatusSubmitted = "submitted"
	StatusDuplicate = "duplicate"
	StatusSkipped   = "skipped"
	StatusFailed    = "failed"
)

// Queue is the delayed-job submission interface the scheduler depends on.
type Queue interface {
	Enqueue(ctx context.Context, job Job) (string, error)
}

// Job is one delayed delivery: POST Payload to TargetPath after Delay.
type Job struct {
	Name       string            // deterministic name for dedup
	QueueName  string            // destination queue
	TargetPath string            // path on the service's base endpoint
	Payload    any               // JSON-encoded request body
	Delay      time.Duration     // delivery delay from now
	Headers    map[string]string // extra headers, e.g. auth
}

// Config holds task-queue client settings.
type Config struct {
	Environment   string
	BaseEndpoint  string
	QueueEndpoint string
	ServiceToken  string
	Timeout       time.Duration
}

// Client submits jobs to the queue service over HTTP.
type Client struct {
	httpClient *http.Client
	cfg        Config
	logger     logger.Logger
	local      bool
}

// NewClient creates a task-queue client. In the local environment submissions
// are skipped with a warning so handlers can be exercised without a queue.
func NewClient(cfg Config, log logger.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Client{
		httpClient: &http.Client{Timeout: cfg.Timeout},
		cfg:        cfg,
		logger:     log,
		local:      cfg.Environment == "" || strings.EqualFold(cfg.Environment, "local"),
	}
}

// queueRequest is the wire shape accepted by the queue service.
type queueRequest struct {
	Name         string            `json:"name"`
	Queue        string            `json:"queue"`
	URL          string            `json:"url"`
	Body         json.RawMessage   `json:"body"`
	DelaySeconds int               `json:"delay_seconds"`
	Headers      map[string]string `json:"headers,omitempty"`
}

// Enqueue submits one delayed job and returns its submission status.
func (c *Client) Enqueue(ctx context.Context, job Job) (string, error) {
	if c.local {
		c.logger.Warn("task queue bypassed in local environment",
			logger.String("job_name", job.Name),
			logger.String("target", job.TargetPath))
		return StatusSkipped, nil
	}

	body, err := json.Marshal(job.Payload)
	if err != nil {
		return StatusFailed, fmt.Errorf("marshal job payload: %w", err)
	}

	headers := map[string]string{"Content-Type": "application/json"}
	if c.cfg.ServiceToken != "" {
		headers["Authorization"] = "Bearer " + c.cfg.ServiceToken
	}
	for k, v := range job.Headers {
		headers[k] = v
	}

	reqBody, err := json.Marshal(queueRequest{
		Name:         job.Name,
		Queue:        job.QueueName,
		URL:          c.cfg.BaseEndpoint + job.TargetPath,
		Body:         body,
		DelaySeconds: int(job.Delay.Seconds()),
		Headers:      headers,
	})
	if err != nil {
		return StatusFailed, fmt.Errorf("marshal queue request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.QueueEndpoint, bytes.NewReader(reqBody))
	if err != nil {
		return StatusFailed, fmt.Errorf("create queue request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return StatusFailed, fmt.Errorf("submit job %s: %w", job.Name, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusConflict:
		// The queue already holds a job with this name.
		c.logger.Debug("duplicate job rejected by queue", logger.String("job_name", job.Name))
		return StatusDuplicate, nil
	case resp.StatusCode >= http.StatusOK && resp.StatusCode < http.StatusMultipleChoices:
		c.logger.Info("job submitted",
			logger.String("job_name", job.Name),
			logger.String("queue", job.QueueName),
			logger.Duration("delay", job.Delay))
		return StatusSubmitted, nil
	default:
		return StatusFailed, fmt.Errorf("submit job %s: queue returned status %d", job.Name, resp.StatusCode)
	}
}
