package client

import (
	"context"
	"errors"
	"fmt"
	"net"
	"syscall"
	"time"
)

var (
	// ErrNoCandidates means a Gemini response had no usable candidate.
	ErrNoCandidates = errors.New("response has no candidates")
	// ErrNoMessageContent means an OpenAI response had no choice with content.
	ErrNoMessageContent = errors.New("response has no message content")
)

// HTTPError is a completed exchange with a non-2xx status.
type HTTPError struct {
	StatusCode int
	Body       string
	// RetryAfter is the server-requested delay, zero when absent.
	RetryAfter time.Duration
}

func (e *HTTPError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("HTTP error: %d", e.StatusCode)
	}
	return fmt.Sprintf("API error (status %d): %s", e.StatusCode, e.Body)
}

// TransportError is a failure to obtain a response at all.
type TransportError struct {
	// Connect is set when the connection could not be established.
	Connect bool
	// Timeout is set when a deadline expired.
	Timeout bool
	Message string
	Err     error
}

func (e *TransportError) Error() string {
	kind := "transport error"
	switch {
	case e.Connect:
		kind = "connection failed"
	case e.Timeout:
		kind = "request timed out"
	}
	return kind + ": " + e.Message
}

func (e *TransportError) Unwrap() error { return e.Err }

// InvalidJSONError is a 2xx response whose body could not be decoded.
type InvalidJSONError struct {
	Body string
	Err  error
}

func (e *InvalidJSONError) Error() string {
	return fmt.Sprintf("invalid JSON in response: %v", e.Err)
}

func (e *InvalidJSONError) Unwrap() error { return e.Err }

// QueryError is the single failure a query surfaces after retries stop.
type QueryError struct {
	Backend  Family
	Attempts int
	// Exhausted is set when the last failure was retryable but the attempt
	// budget ran out.
	Exhausted bool
	Err       error
}

func (e *QueryError) Error() string {
	if e.Exhausted {
		return fmt.Sprintf("%s query failed after %d attempts: %v", e.Backend, e.Attempts, e.Err)
	}
	return fmt.Sprintf("%s query failed on attempt %d: %v", e.Backend, e.Attempts, e.Err)
}

func (e *QueryError) Unwrap() error { return e.Err }

// retryableStatus lists the HTTP statuses worth another attempt.
func retryableStatus(code int) bool {
	switch code {
	case 408, 429, 500, 502, 503, 504:
		return true
	}
	return false
}

// Retryable returns the retry predicate for a backend. Timeouts are only
// retried when the backend can deduplicate by idempotency key, since the
// first request may have been processed.
func Retryable(idempotent bool) func(error) bool {
	return func(err error) bool {
		var httpErr *HTTPError
		if errors.As(err, &httpErr) {
			return retryableStatus(httpErr.StatusCode)
		}
		var tErr *TransportError
		if errors.As(err, &tErr) {
			if tErr.Connect {
				return true
			}
			return tErr.Timeout && idempotent
		}
		return false
	}
}

// classifyTransport turns an error from http.Client.Do into a
// *TransportError. Cancellation of ctx is returned unchanged.
func classifyTransport(ctx context.Context, err error, redact func(string) string) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}

	te := &TransportError{Message: redact(err.Error()), Err: err}

	var opErr *net.OpError
	var dnsErr *net.DNSError
	switch {
	case errors.As(err, &opErr) && opErr.Op == "dial":
		te.Connect = true
	case errors.As(err, &dnsErr):
		te.Connect = true
	case errors.Is(err, syscall.ECONNREFUSED):
		te.Connect = true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		te.Timeout = true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		te.Timeout = true
	}
	return te
}
