// Package producer is the SDK side of the pipeline: a client speaking
// the ingestion wire contract and a best-effort buffer in front of it.
//
// The client retries transient failures (5xx, network errors) with
// exponential backoff; everything the server judged (4xx) surfaces
// immediately as a typed error. Throttling is its own error type so
// callers can honor Retry-After instead of hammering.
package producer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/aigrc/pipeline/pkg/events"
)

// Client defaults.
const (
	DefaultTimeout    = 30 * time.Second
	DefaultMaxRetries = 3

	// Seconds assumed when a 429 arrives without a Retry-After header.
	defaultRetryAfter = 60
)

// ErrDisposed reports a call on a disposed client or buffer.
var ErrDisposed = errors.New("producer: disposed")

// APIError is a non-2xx response the server produced deliberately.
// The embedded wire error carries the stable code.
type APIError struct {
	StatusCode int
	Err        *events.Error
}

func (e *APIError) Error() string {
	return fmt.Sprintf("producer: server returned %d: %s", e.StatusCode, e.Err)
}

func (e *APIError) Unwrap() error { return e.Err }

// RateLimitError reports a 429. RetryAfter is in seconds. The client
// never retries these itself; the caller decides when to resume.
type RateLimitError struct {
	StatusCode int
	RetryAfter int
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("producer: rate limited, retry after %ds", e.RetryAfter)
}

// PushResponse is the sync channel outcome. Created distinguishes a
// first write (201) from an idempotent replay (200); the body is the
// same either way.
type PushResponse struct {
	events.IngestResponse
	Created bool
}

// ClientConfig configures a Client. BaseURL and APIKey are required.
type ClientConfig struct {
	BaseURL    string
	APIKey     string
	Timeout    time.Duration
	MaxRetries int
	Headers    map[string]string
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Client speaks to one pipeline endpoint on behalf of one credential.
type Client struct {
	baseURL    string
	apiKey     string
	timeout    time.Duration
	maxRetries int
	headers    map[string]string
	http       *http.Client
	logger     *slog.Logger

	// ctx spans the client's lifetime; Dispose cancels it, which
	// aborts every in-flight request derived from it.
	ctx    context.Context
	cancel context.CancelFunc

	sleep func(ctx context.Context, d time.Duration) error
}

// NewClient validates the config and returns a ready client.
func NewClient(cfg ClientConfig) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("producer: config requires a base URL")
	}
	if cfg.APIKey == "" {
		return nil, errors.New("producer: config requires an API key")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	} else if cfg.MaxRetries == 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		timeout:    cfg.Timeout,
		maxRetries: cfg.MaxRetries,
		headers:    cfg.Headers,
		http:       cfg.HTTPClient,
		logger:     cfg.Logger,
		ctx:        ctx,
		cancel:     cancel,
		sleep:      sleepCtx,
	}, nil
}

// Dispose cancels all in-flight requests and invalidates the client.
// Safe to call more than once.
func (c *Client) Dispose() {
	c.cancel()
}

// Push sends one event over the sync channel.
func (c *Client) Push(ctx context.Context, e *events.Event) (*PushResponse, error) {
	payload, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("producer: encode event: %w", err)
	}
	res, err := c.do(ctx, http.MethodPost, "/v1/events", payload)
	if err != nil {
		return nil, err
	}
	switch res.status {
	case http.StatusCreated, http.StatusOK:
		var ir events.IngestResponse
		if err := json.Unmarshal(res.body, &ir); err != nil {
			return nil, fmt.Errorf("producer: decode ingest response: %w", err)
		}
		return &PushResponse{IngestResponse: ir, Created: res.status == http.StatusCreated}, nil
	default:
		return nil, errorFromResult(res)
	}
}

// PushBatch sends events over the batch channel. The returned response
// carries per-element outcomes; an error here means the batch envelope
// itself failed (size, shape, auth, transport).
func (c *Client) PushBatch(ctx context.Context, evs []*events.Event) (*events.BatchResponse, error) {
	payload, err := json.Marshal(evs)
	if err != nil {
		return nil, fmt.Errorf("producer: encode batch: %w", err)
	}
	res, err := c.do(ctx, http.MethodPost, "/v1/events/batch", payload)
	if err != nil {
		return nil, err
	}
	if res.status != http.StatusOK {
		return nil, errorFromResult(res)
	}
	var br events.BatchResponse
	if err := json.Unmarshal(res.body, &br); err != nil {
		return nil, fmt.Errorf("producer: decode batch response: %w", err)
	}
	return &br, nil
}

// Send routes events to the cheapest safe channel. Critical events go
// out first, each over the sync channel in input order; the remainder
// rides one batch (or sync when it is a single event). The merged
// response lists criticals before the rest.
func (c *Client) Send(ctx context.Context, evs []*events.Event) (*events.BatchResponse, error) {
	out := &events.BatchResponse{Results: []events.BatchResult{}}
	if len(evs) == 0 {
		return out, nil
	}
	if len(evs) == 1 {
		r, err := c.pushAsResult(ctx, evs[0])
		if err != nil {
			return nil, err
		}
		out.Append(r)
		return out, nil
	}

	var criticals, rest []*events.Event
	for _, e := range evs {
		if e.Criticality == events.CriticalityCritical {
			criticals = append(criticals, e)
		} else {
			rest = append(rest, e)
		}
	}
	for _, e := range criticals {
		r, err := c.pushAsResult(ctx, e)
		if err != nil {
			return nil, err
		}
		out.Append(r)
	}
	switch len(rest) {
	case 0:
	case 1:
		r, err := c.pushAsResult(ctx, rest[0])
		if err != nil {
			return nil, err
		}
		out.Append(r)
	default:
		br, err := c.PushBatch(ctx, rest)
		if err != nil {
			return nil, err
		}
		out.Merge(br)
	}
	return out, nil
}

// pushAsResult folds one sync outcome into a batch result. A 4xx means
// the server judged this event, so it becomes a rejected result rather
// than aborting the whole send; transport failures and throttling
// still abort.
func (c *Client) pushAsResult(ctx context.Context, e *events.Event) (events.BatchResult, error) {
	pr, err := c.Push(ctx, e)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode >= 400 && apiErr.StatusCode < 500 {
			return events.BatchResult{ID: e.ID, Status: events.StatusRejected, Error: apiErr.Err}, nil
		}
		return events.BatchResult{}, err
	}
	status := events.StatusDuplicate
	if pr.Created {
		status = events.StatusCreated
	}
	rt := pr.ReceivedAt
	return events.BatchResult{ID: pr.ID, Status: status, ReceivedAt: &rt}, nil
}

// HealthCheck probes GET /v1/health with a single attempt; a liveness
// answer delayed by retries is worse than an honest failure.
func (c *Client) HealthCheck(ctx context.Context) error {
	res, err := c.attempt(ctx, http.MethodGet, "/v1/health", nil)
	if err != nil {
		return err
	}
	if res.status < 200 || res.status >= 300 {
		return errorFromResult(res)
	}
	return nil
}

type httpResult struct {
	status int
	header http.Header
	body   []byte
}

// do runs one logical request with retries. 5xx and transport errors
// back off 2^attempt seconds between tries; any response below 500
// (including 429) returns immediately for the caller to interpret.
func (c *Client) do(ctx context.Context, method, path string, payload []byte) (*httpResult, error) {
	var last error
	for attempt := 0; ; attempt++ {
		res, err := c.attempt(ctx, method, path, payload)
		if err == nil && res.status < 500 {
			return res, nil
		}
		if err != nil {
			last = err
		} else {
			last = errorFromResult(res)
		}
		if attempt >= c.maxRetries {
			return nil, last
		}
		delay := backoff(attempt)
		c.logger.Warn("request failed, backing off",
			"path", path, "attempt", attempt+1, "delay", delay, "error", last)
		if serr := c.sleep(ctx, delay); serr != nil {
			return nil, last
		}
	}
}

// attempt performs a single HTTP exchange. The request context is
// bounded by the per-request timeout and aborted by Dispose.
func (c *Client) attempt(ctx context.Context, method, path string, payload []byte) (*httpResult, error) {
	if err := c.ctx.Err(); err != nil {
		return nil, ErrDisposed
	}
	rctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	stop := context.AfterFunc(c.ctx, cancel)
	defer stop()

	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(rctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("producer: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if c.ctx.Err() != nil {
			return nil, ErrDisposed
		}
		return nil, fmt.Errorf("producer: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("producer: read response: %w", err)
	}
	return &httpResult{status: resp.StatusCode, header: resp.Header, body: data}, nil
}

func errorFromResult(res *httpResult) error {
	if res.status == http.StatusTooManyRequests {
		return &RateLimitError{StatusCode: res.status, RetryAfter: parseRetryAfter(res.header)}
	}
	return &APIError{StatusCode: res.status, Err: decodeWireError(res.status, res.body)}
}

func decodeWireError(status int, body []byte) *events.Error {
	var eb events.ErrorBody
	if err := json.Unmarshal(body, &eb); err == nil && eb.Error != nil {
		return eb.Error
	}
	return &events.Error{
		Code:    events.CodeInternal,
		Message: fmt.Sprintf("unrecognized response with status %d", status),
	}
}

func parseRetryAfter(h http.Header) int {
	if v := h.Get("Retry-After"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return defaultRetryAfter
}

// backoff returns the delay before retry attempt (zero-based):
// 2^attempt seconds, capped to avoid shift overflow.
func backoff(attempt int) time.Duration {
	if attempt > 30 {
		attempt = 30
	}
	return time.Duration(1<<attempt) * time.Second
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
