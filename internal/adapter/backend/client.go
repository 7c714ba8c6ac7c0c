// Package backend reads poll state from the polling API that owns persistence.
package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/failsafe-go/failsafe-go/circuitbreaker"
	"github.com/pscheid92/livepoll/internal/adapter/metrics"
	"github.com/pscheid92/livepoll/internal/domain"
	"github.com/pscheid92/livepoll/internal/platform/correlation"
	"github.com/pscheid92/livepoll/internal/platform/retry"
)

const maxResponseBytes = 1 << 20

var errMalformedResponse = errors.New("malformed backend response")

// apiResponse is the envelope every backend endpoint answers with.
type apiResponse[T any] struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Data    T      `json:"data"`
}

// statusError is a non-2xx answer. 5xx and 429 are worth retrying.
type statusError struct {
	code    int
	message string
}

func (e *statusError) Error() string {
	if e.message != "" {
		return fmt.Sprintf("backend returned %d: %s", e.code, e.message)
	}
	return fmt.Sprintf("backend returned %d", e.code)
}

// Client implements domain.PollSource over the backend's REST API.
type Client struct {
	baseURL *url.URL
	http    *http.Client
	breaker circuitbreaker.CircuitBreaker[any]
	policy  retry.Policy
	metrics *metrics.BackendMetrics
}

var _ domain.PollSource = (*Client)(nil)

type Options struct {
	Timeout     time.Duration
	MaxAttempts int
	Backoff     time.Duration
	// BreakerDelay is how long the breaker stays open before probing again.
	BreakerDelay time.Duration
}

// NewClient creates a client for baseURL. backendMetrics may be nil.
func NewClient(baseURL string, opts Options, backendMetrics *metrics.BackendMetrics) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid backend URL %q", baseURL)
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = 3
	}
	if opts.Backoff <= 0 {
		opts.Backoff = 100 * time.Millisecond
	}
	if opts.BreakerDelay <= 0 {
		opts.BreakerDelay = 30 * time.Second
	}

	c := &Client{
		baseURL: u,
		http:    &http.Client{Timeout: opts.Timeout},
		metrics: backendMetrics,
	}

	c.breaker = circuitbreaker.NewBuilder[any]().
		WithFailureRateThreshold(0.6, 5, 10*time.Second).
		WithDelay(opts.BreakerDelay).
		WithSuccessThreshold(1).
		OnStateChanged(func(e circuitbreaker.StateChangedEvent) {
			slog.Warn("Circuit breaker state changed",
				"component", "backend",
				"from", e.OldState.String(),
				"to", e.NewState.String(),
			)
			if c.metrics != nil {
				c.metrics.CircuitState.Set(stateToFloat(e.NewState))
			}
		}).
		Build()

	c.policy = retry.Policy{
		MaxAttempts:    opts.MaxAttempts,
		InitialBackoff: opts.Backoff,
		MaxBackoff:     2 * time.Second,
		Retryable:      isTransient,
		OnRetry: func(attempt int, err error, backoff time.Duration) {
			slog.Debug("Retrying backend request", "attempt", attempt, "backoff", backoff, "error", err)
		},
	}
	return c, nil
}

func stateToFloat(state circuitbreaker.State) float64 {
	switch state {
	case circuitbreaker.ClosedState:
		return 0
	case circuitbreaker.HalfOpenState:
		return 1
	case circuitbreaker.OpenState:
		return 2
	default:
		return -1
	}
}

// GetPoll fetches one poll. A 404 maps to domain.ErrPollNotFound.
func (c *Client) GetPoll(ctx context.Context, pollID string) (*domain.Poll, error) {
	poll, err := call(ctx, c, "get_poll", "poll/"+url.PathEscape(pollID), func(body apiResponse[domain.Poll]) domain.Poll {
		return body.Data
	})
	if err != nil {
		return nil, err
	}
	if poll.ID == "" {
		poll.ID = pollID
	}
	return &poll, nil
}

// ListPolls fetches every poll.
func (c *Client) ListPolls(ctx context.Context) ([]domain.Poll, error) {
	return call(ctx, c, "list_polls", "poll/", func(body apiResponse[[]domain.Poll]) []domain.Poll {
		return body.Data
	})
}

// Ping checks the backend health endpoint without retries.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.resolve("health"), nil)
	if err != nil {
		return fmt.Errorf("failed to build health request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("backend health check failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBytes))

	if resp.StatusCode >= 300 {
		return &statusError{code: resp.StatusCode}
	}
	return nil
}

func (c *Client) resolve(path string) string {
	return c.baseURL.JoinPath(path).String()
}

// call runs one GET through the breaker and retry policy and unwraps the envelope.
func call[T any, R any](ctx context.Context, c *Client, operation, path string, extract func(apiResponse[T]) R) (R, error) {
	var zero R
	start := time.Now()

	if !c.breaker.TryAcquirePermit() {
		c.record(operation, "circuit_open", start)
		return zero, fmt.Errorf("backend %s: %w", operation, circuitbreaker.ErrOpen)
	}

	body, err := retry.Do(ctx, c.policy, func(ctx context.Context) (apiResponse[T], error) {
		return getJSON[T](ctx, c, path)
	})

	switch {
	case err == nil:
		c.breaker.RecordSuccess()
		c.record(operation, "success", start)
		return extract(body), nil
	case errors.Is(err, domain.ErrPollNotFound):
		// The backend answered; a missing poll says nothing about its health.
		c.breaker.RecordSuccess()
		c.record(operation, "not_found", start)
		return zero, domain.ErrPollNotFound
	default:
		c.breaker.RecordError(err)
		c.record(operation, "error", start)
		return zero, fmt.Errorf("backend %s: %w", operation, err)
	}
}

func getJSON[T any](ctx context.Context, c *Client, path string) (apiResponse[T], error) {
	var body apiResponse[T]

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.resolve(path), nil)
	if err != nil {
		return body, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if id, ok := correlation.ID(ctx); ok {
		req.Header.Set(correlation.Header, id)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return body, err
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return body, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode == http.StatusNotFound {
		return body, domain.ErrPollNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_ = json.Unmarshal(raw, &body)
		return body, &statusError{code: resp.StatusCode, message: body.Message}
	}

	if err := json.Unmarshal(raw, &body); err != nil {
		return body, fmt.Errorf("%w: %v", errMalformedResponse, err)
	}
	if body.Status == "error" {
		return body, &statusError{code: resp.StatusCode, message: body.Message}
	}
	return body, nil
}

// isTransient reports whether a failed request may succeed when repeated.
func isTransient(err error) bool {
	if errors.Is(err, domain.ErrPollNotFound) || errors.Is(err, errMalformedResponse) || errors.Is(err, context.Canceled) {
		return false
	}
	var se *statusError
	if errors.As(err, &se) {
		return se.code >= 500 || se.code == http.StatusTooManyRequests
	}
	return true
}

func (c *Client) record(operation, result string, start time.Time) {
	if c.metrics == nil {
		return
	}
	c.metrics.Requests.WithLabelValues(operation, result).Inc()
	c.metrics.Duration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}
