package client

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// RetryPolicy bounds the attempts of one query. Policies are built fresh for
// every query and never shared.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Retryable   func(error) bool
}

// PolicyOverrides replaces the numeric parts of a backend policy. Zero fields
// keep the backend default.
type PolicyOverrides struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

func (o PolicyOverrides) apply(p RetryPolicy) RetryPolicy {
	if o.MaxAttempts > 0 {
		p.MaxAttempts = o.MaxAttempts
	}
	if o.BaseDelay > 0 {
		p.BaseDelay = o.BaseDelay
	}
	if o.MaxDelay > 0 {
		p.MaxDelay = o.MaxDelay
	}
	return p
}

// Backoff returns the delay before the attempt after attempt (1-based):
// min(base*2^(attempt-1), max) plus a jitter in [0, base/2] taken from now.
// A larger server-requested retryAfter replaces the computed delay.
func (p RetryPolicy) Backoff(attempt int, now time.Time, retryAfter time.Duration) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	delay := p.MaxDelay
	// Past 2^30 the product overflows; the cap applies long before that.
	if shift := attempt - 1; shift < 30 {
		if d := p.BaseDelay << uint(shift); d > 0 && d < p.MaxDelay {
			delay = d
		}
	}

	if half := int64(p.BaseDelay / 2); half > 0 {
		delay += time.Duration(now.UnixNano() % (half + 1))
	}

	if retryAfter > delay {
		return retryAfter
	}
	return delay
}

// parseRetryAfter reads a Retry-After header given in seconds or as an HTTP
// date. Invalid or past values yield zero.
func parseRetryAfter(value string, now time.Time) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0
	}
	if secs, err := strconv.Atoi(value); err == nil {
		if secs <= 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(value); err == nil {
		if d := t.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}

func retryAfterOf(err error) time.Duration {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.RetryAfter
	}
	return 0
}

// Sleeper waits for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
