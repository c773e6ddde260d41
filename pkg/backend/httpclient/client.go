// Package httpclient implements backend.Backend by calling a remote DLQ
// service over JSON/HTTP. It speaks both the dlqmanager API and the legacy
// Flask service, which share the /dlqs routes.
package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/nimburion/dlqmanager/pkg/backend"
	"github.com/nimburion/dlqmanager/pkg/observability/logger"
	"github.com/nimburion/dlqmanager/pkg/observability/tracing"
	"github.com/nimburion/dlqmanager/pkg/version"
)

const (
	tracingSystem  = "http"
	defaultTimeout = 30 * time.Second
	maxErrorBody   = 4 << 10
)

// Config configures the HTTP backend.
type Config struct {
	BaseURL string
	Timeout time.Duration
	// Headers are added to every request, e.g. an API gateway key.
	Headers map[string]string
}

// Client is an HTTP backend.
type Client struct {
	baseURL string
	headers map[string]string
	http    *http.Client
	log     logger.Logger

	mu      sync.RWMutex
	sources map[string]string
	closed  bool
}

// queueRef is one element of the {"queues": [...]} request body. The legacy
// service reads source_queue_arn unconditionally, so it is always sent.
type queueRef struct {
	QueueURL       string `json:"queue_url"`
	SourceQueueARN string `json:"source_queue_arn"`
}

type actionRequest struct {
	Queues []queueRef `json:"queues"`
}

// wireQueue accepts both the dlqmanager shape and the legacy one.
type wireQueue struct {
	backend.QueueInfo
	SourceQueueARN string `json:"source_queue_arn,omitempty"`
}

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// New creates an HTTP backend.
func New(cfg Config, log logger.Logger) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, errors.New("http backend base url is required")
	}
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		return nil, fmt.Errorf("http backend base url must be http(s): %q", cfg.BaseURL)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &Client{
		baseURL: base,
		headers: cfg.Headers,
		http:    &http.Client{Timeout: cfg.Timeout},
		log:     log,
		sources: map[string]string{},
	}, nil
}

// ListDeadLetterQueues calls GET /dlqs.
func (c *Client) ListDeadLetterQueues(ctx context.Context) ([]backend.QueueInfo, error) {
	if err := c.ensureOpen(); err != nil {
		return nil, err
	}
	ctx, span := tracing.StartBackendSpan(ctx, tracingSystem, "list", "")
	defer span.End()

	var wire []wireQueue
	if err := c.do(ctx, http.MethodGet, "/dlqs", nil, &wire); err != nil {
		tracing.RecordError(span, err)
		return nil, err
	}

	queues := make([]backend.QueueInfo, 0, len(wire))
	c.mu.Lock()
	for _, w := range wire {
		info := w.QueueInfo
		if len(info.SourceQueueARNs) == 0 && w.SourceQueueARN != "" {
			info.SourceQueueARNs = []string{w.SourceQueueARN}
		}
		if len(info.SourceQueueARNs) > 0 {
			c.sources[info.QueueURL] = info.SourceQueueARNs[0]
		}
		queues = append(queues, info)
	}
	c.mu.Unlock()

	tracing.RecordSuccess(span)
	return queues, nil
}

// RedriveQueues calls POST /dlqs/redrive.
func (c *Client) RedriveQueues(ctx context.Context, queueURLs []string) ([]backend.QueueResult, error) {
	return c.action(ctx, "redrive", queueURLs)
}

// PurgeQueues calls POST /dlqs/purge.
func (c *Client) PurgeQueues(ctx context.Context, queueURLs []string) ([]backend.QueueResult, error) {
	return c.action(ctx, "purge", queueURLs)
}

func (c *Client) action(ctx context.Context, op string, queueURLs []string) ([]backend.QueueResult, error) {
	if err := c.ensureOpen(); err != nil {
		return nil, err
	}
	ctx, span := tracing.StartBackendSpan(ctx, tracingSystem, op, "")
	defer span.End()

	body := actionRequest{Queues: make([]queueRef, 0, len(queueURLs))}
	c.mu.RLock()
	for _, u := range queueURLs {
		body.Queues = append(body.Queues, queueRef{QueueURL: u, SourceQueueARN: c.sources[u]})
	}
	c.mu.RUnlock()

	var results []backend.QueueResult
	if err := c.do(ctx, http.MethodPost, "/dlqs/"+op, body, &results); err != nil {
		tracing.RecordError(span, err)
		return nil, err
	}
	tracing.RecordSuccess(span)
	return results, nil
}

// HealthCheck calls GET /healthz. A legacy service without it answers 404,
// which still proves it is reachable.
func (c *Client) HealthCheck(ctx context.Context) error {
	if err := c.ensureOpen(); err != nil {
		return err
	}
	err := c.do(ctx, http.MethodGet, "/healthz", nil, nil)
	var statusErr *StatusError
	if errors.As(err, &statusErr) && statusErr.Code == http.StatusNotFound {
		return nil
	}
	return err
}

// Close releases idle connections.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.http.CloseIdleConnections()
	return nil
}

// StatusError reports a non-2xx response.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("remote dlq service returned %d", e.Code)
	}
	return fmt.Sprintf("remote dlq service returned %d: %s", e.Code, e.Message)
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var reader io.Reader
	if in != nil {
		encoded, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", version.Current(version.ServiceName).UserAgent())
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if id := logger.RequestIDFromContext(ctx); id != "" {
		req.Header.Set("X-Request-ID", id)
	}
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		statusErr := &StatusError{Code: resp.StatusCode}
		var eb errorBody
		if json.Unmarshal(raw, &eb) == nil {
			statusErr.Message = eb.Error
			if eb.Message != "" {
				statusErr.Message = eb.Message
			}
		}
		if statusErr.Message == "" {
			statusErr.Message = strings.TrimSpace(string(raw))
		}
		c.log.Warn("remote dlq service error", "method", method, "path", path, "status", resp.StatusCode)
		return statusErr
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

func (c *Client) ensureOpen() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return backend.ErrClosed
	}
	return nil
}
