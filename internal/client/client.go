// Package client sends single-turn prompts to an LLM backend with a
// per-backend retry policy.
package client

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"forge/internal/logging"
	"forge/internal/ratelimit"
	"forge/internal/robustness"
	"forge/internal/security"
)

// maxErrorBody bounds how much of an error response is kept.
const maxErrorBody = 4096

// truncateBody cuts s to at most n bytes without splitting a UTF-8 sequence.
func truncateBody(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}

// Querier sends one prompt and returns the model's text. *Client is the
// production implementation.
type Querier interface {
	Query(ctx context.Context, prompt string) (string, error)
}

var _ Querier = (*Client)(nil)

// IDGenerator produces idempotency keys.
type IDGenerator func() string

// Client issues prompts to one backend. It holds no per-query state and is
// safe for concurrent use.
type Client struct {
	backend   Backend
	apiKey    string
	http      *http.Client
	ids       IDGenerator
	sleep     Sleeper
	now       func() time.Time
	limiter   *ratelimit.Limiter
	overrides PolicyOverrides
	status    StatusCallback
	breaker   *robustness.CircuitBreaker
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

// WithIDGenerator replaces the idempotency key generator.
func WithIDGenerator(g IDGenerator) Option {
	return func(c *Client) { c.ids = g }
}

// WithSleeper replaces the backoff sleep.
func WithSleeper(s Sleeper) Option {
	return func(c *Client) { c.sleep = s }
}

// WithClock replaces the time source used for jitter and Retry-After dates.
func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

// WithRateLimiter paces every attempt through l.
func WithRateLimiter(l *ratelimit.Limiter) Option {
	return func(c *Client) { c.limiter = l }
}

// WithPolicy overrides the numeric retry settings of the backend.
func WithPolicy(o PolicyOverrides) Option {
	return func(c *Client) { c.overrides = o }
}

// WithStatusCallback receives retry notifications.
func WithStatusCallback(s StatusCallback) Option {
	return func(c *Client) { c.status = s }
}

// WithCircuitBreaker fails queries fast with robustness.ErrCircuitOpen
// after repeated queries exhausted their retries.
func WithCircuitBreaker(cb *robustness.CircuitBreaker) Option {
	return func(c *Client) { c.breaker = cb }
}

// New returns a client for backend authenticated with apiKey.
func New(backend Backend, apiKey string, opts ...Option) *Client {
	c := &Client{
		backend: backend,
		apiKey:  apiKey,
		http:    http.DefaultClient,
		ids:     uuid.NewString,
		sleep:   sleepContext,
		now:     time.Now,
		status:  NopStatus{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Backend returns the backend this client talks to.
func (c *Client) Backend() Backend { return c.backend }

// Policy returns the retry policy a new query would use.
func (c *Client) Policy() RetryPolicy {
	return c.overrides.apply(c.backend.DefaultPolicy())
}

// Query sends prompt and returns the response text. Failures are retried
// according to the backend's policy; the final failure is a *QueryError
// with the API key redacted. Cancellation of ctx is returned as ctx.Err().
func (c *Client) Query(ctx context.Context, prompt string) (string, error) {
	if c.breaker == nil {
		return c.query(ctx, prompt)
	}
	var text string
	err := c.breaker.Execute(func() error {
		var err error
		text, err = c.query(ctx, prompt)
		return err
	}, retriesExhausted)
	return text, err
}

func retriesExhausted(err error) bool {
	var qe *QueryError
	return errors.As(err, &qe) && qe.Exhausted
}

func (c *Client) query(ctx context.Context, prompt string) (string, error) {
	policy := c.Policy()
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}

	body, err := c.backend.RequestBody(prompt)
	if err != nil {
		return "", fmt.Errorf("failed to encode request: %w", err)
	}

	// One key per query, reused by every retry of it.
	var idempotencyKey string
	if c.backend.SupportsIdempotency() {
		idempotencyKey = c.ids()
	}

	log := logging.With("backend", c.backend.Family(), "model", c.backend.Model())

	for attempt := 1; ; attempt++ {
		if err := c.waitLimiter(ctx, prompt); err != nil {
			return "", err
		}

		start := c.now()
		text, err := c.attempt(ctx, body, idempotencyKey)
		if err == nil {
			log.Debug("query succeeded", "attempt", attempt, "elapsed", c.now().Sub(start))
			return text, nil
		}
		if ctx.Err() != nil {
			return "", ctx.Err()
		}

		retryable := policy.Retryable != nil && policy.Retryable(err)
		if !retryable || attempt >= policy.MaxAttempts {
			log.Warn("query failed", "attempt", attempt, "retryable", retryable, "error", err)
			return "", &QueryError{
				Backend:   c.backend.Family(),
				Attempts:  attempt,
				Exhausted: retryable,
				Err:       err,
			}
		}

		delay := policy.Backoff(attempt, c.now(), retryAfterOf(err))
		log.Info("retrying query", "attempt", attempt, "max_attempts", policy.MaxAttempts, "delay", delay, "error", err)
		c.status.OnRetry(attempt, policy.MaxAttempts, delay, err.Error())

		if err := c.sleep(ctx, delay); err != nil {
			return "", err
		}
	}
}

func (c *Client) waitLimiter(ctx context.Context, prompt string) error {
	if c.limiter == nil {
		return nil
	}
	start := time.Now()
	if err := c.limiter.Wait(ctx, ratelimit.EstimateTokens(prompt)); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}
	if waited := time.Since(start); waited > 100*time.Millisecond {
		c.status.OnRateLimit(waited)
	}
	return nil
}

// attempt performs exactly one HTTP exchange.
func (c *Client) attempt(ctx context.Context, body []byte, idempotencyKey string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.backend.Endpoint(), bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	c.backend.Authorize(req.Header, c.apiKey)
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return "", classifyTransport(ctx, err, c.redact)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", classifyTransport(ctx, err, c.redact)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", &HTTPError{
			StatusCode: resp.StatusCode,
			Body:       truncateBody(c.redact(string(data)), maxErrorBody),
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After"), c.now()),
		}
	}

	text, err := c.backend.ExtractText(data)
	if ije, ok := err.(*InvalidJSONError); ok {
		ije.Body = c.redact(ije.Body)
	}
	return text, err
}

func (c *Client) redact(s string) string {
	return security.RedactKey(s, c.apiKey)
}
