package dispatch

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

	"github.com/golang-jwt/jwt/v5"

	"github.com/studyloop/platform/config"
	"github.com/studyloop/platform/metrics"
)

// enqueueRequest is the task description submitted to the queue service.
type enqueueRequest struct {
	Queue string   `json:"queue"`
	Task  taskSpec `json:"task"`
}

type taskSpec struct {
	Name    string            `json:"name"`
	URL     string            `json:"url"`
	Body    json.RawMessage   `json:"body"`
	Headers map[string]string `json:"headers,omitempty"`
}

// enqueueResponse carries the queue's identifier for the accepted task.
type enqueueResponse struct {
	ID string `json:"id"`
}

// Queued submits tasks to an external durable queue for asynchronous
// delivery. The queue later POSTs the payload to the task's absolute
// callback URL, built here by joining the configured base service URL
// with the handler address.
type Queued struct {
	client  *http.Client
	queue   string
	baseURL string
	enqueue string
	secret  string
	logger  *slog.Logger
}

// NewQueued creates a queued dispatcher from dispatch configuration.
// Missing queue or callback addresses are initialization errors the
// backend selector converts into a fallback to inline dispatch.
func NewQueued(cfg config.DispatchConfig, logger *slog.Logger) (*Queued, error) {
	if cfg.QueueURL == "" {
		return nil, fmt.Errorf("%w: queue URL is required for queued dispatch", config.ErrInvalid)
	}
	if cfg.QueueID == "" {
		return nil, fmt.Errorf("%w: queue ID is required for queued dispatch", config.ErrInvalid)
	}
	if cfg.CallbackBaseURL == "" {
		return nil, fmt.Errorf("%w: callback base URL is required for queued dispatch", config.ErrInvalid)
	}

	enqueue, err := url.JoinPath(cfg.QueueURL, "tasks")
	if err != nil {
		return nil, fmt.Errorf("%w: invalid queue URL %q: %v", config.ErrInvalid, cfg.QueueURL, err)
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &Queued{
		client:  &http.Client{Timeout: 10 * time.Second},
		queue:   cfg.QueueID,
		baseURL: cfg.CallbackBaseURL,
		enqueue: enqueue,
		secret:  cfg.SigningSecret,
		logger:  logger,
	}, nil
}

// Submit serializes the payload and posts a task description to the queue
// service. The returned handle is the queue's task identifier. A network
// or queue error propagates to the caller unchanged in meaning; this
// component performs no internal retries.
func (d *Queued) Submit(ctx context.Context, name string, payload map[string]any, handler string) (Handle, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("task payload is not JSON-serializable: %w", err)
	}

	callbackURL, err := url.JoinPath(d.baseURL, handler)
	if err != nil {
		return "", fmt.Errorf("invalid handler address %q: %w", handler, err)
	}

	spec := taskSpec{
		Name: name,
		URL:  callbackURL,
		Body: body,
	}
	if d.secret != "" {
		token, err := signCallback(d.secret, name)
		if err != nil {
			return "", fmt.Errorf("failed to sign task callback: %w", err)
		}
		spec.Headers = map[string]string{"Authorization": "Bearer " + token}
	}

	reqBody, err := json.Marshal(enqueueRequest{Queue: d.queue, Task: spec})
	if err != nil {
		return "", fmt.Errorf("failed to encode task description: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.enqueue, bytes.NewReader(reqBody))
	if err != nil {
		return "", fmt.Errorf("failed to build enqueue request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		metrics.TaskSubmissions.WithLabelValues("queued", "error").Inc()
		return "", fmt.Errorf("%w: %v", ErrSubmitFailed, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		metrics.TaskSubmissions.WithLabelValues("queued", "error").Inc()
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("%w: queue returned status %d: %s", ErrSubmitFailed, resp.StatusCode, snippet)
	}

	var accepted enqueueResponse
	if err := json.NewDecoder(resp.Body).Decode(&accepted); err != nil {
		metrics.TaskSubmissions.WithLabelValues("queued", "error").Inc()
		return "", fmt.Errorf("%w: malformed queue response: %v", ErrSubmitFailed, err)
	}

	d.logger.InfoContext(ctx, "task submitted to queue",
		"task_name", name,
		"queue", d.queue,
		"handle", accepted.ID)
	metrics.TaskSubmissions.WithLabelValues("queued", "accepted").Inc()
	return Handle(accepted.ID), nil
}

// signCallback issues a short-lived HS256 token the callback router uses
// to verify that a delivery originated from this layer.
func signCallback(secret, taskName string) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   taskName,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(24 * time.Hour)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}
