// Package ratelimit paces outgoing model requests on the client side.
package ratelimit

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

// Config holds rate limiter configuration. Zero limits disable that bucket.
type Config struct {
	Enabled           bool
	RequestsPerMinute int
	TokensPerMinute   int
	BurstSize         int
}

// DefaultConfig returns the default rate limiter configuration.
func DefaultConfig() Config {
	return Config{
		Enabled:           true,
		RequestsPerMinute: 30,
		TokensPerMinute:   1_000_000,
		BurstSize:         2,
	}
}

// Limiter combines a request bucket and an estimated-token bucket.
type Limiter struct {
	requests *rate.Limiter
	tokens   *rate.Limiter
	enabled  bool

	mu            sync.Mutex
	totalRequests int64
	totalTokens   int64
}

// NewLimiter creates a limiter from cfg.
func NewLimiter(cfg Config) *Limiter {
	l := &Limiter{enabled: cfg.Enabled}

	if cfg.RequestsPerMinute > 0 {
		burst := cfg.BurstSize
		if burst < 1 {
			burst = 1
		}
		l.requests = rate.NewLimiter(rate.Limit(float64(cfg.RequestsPerMinute)/60.0), burst)
	}
	if cfg.TokensPerMinute > 0 {
		// A tenth of the per-minute budget may be spent at once.
		burst := cfg.TokensPerMinute / 10
		if burst < 1 {
			burst = 1
		}
		l.tokens = rate.NewLimiter(rate.Limit(float64(cfg.TokensPerMinute)/60.0), burst)
	}
	return l
}

// Wait blocks until one request carrying estimatedTokens may be sent, or ctx
// is done.
func (l *Limiter) Wait(ctx context.Context, estimatedTokens int) error {
	if l == nil || !l.enabled {
		return nil
	}

	if l.requests != nil {
		if err := l.requests.Wait(ctx); err != nil {
			return err
		}
	}
	if l.tokens != nil && estimatedTokens > 0 {
		// WaitN rejects n above the burst outright; a single oversized prompt
		// drains the bucket instead.
		n := min(estimatedTokens, l.tokens.Burst())
		if err := l.tokens.WaitN(ctx, n); err != nil {
			return err
		}
	}

	l.mu.Lock()
	l.totalRequests++
	l.totalTokens += int64(estimatedTokens)
	l.mu.Unlock()
	return nil
}

// Stats holds rate limiter statistics.
type Stats struct {
	Enabled       bool
	TotalRequests int64
	TotalTokens   int64
}

// Stats returns how much traffic passed the limiter.
func (l *Limiter) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()
	return Stats{
		Enabled:       l.enabled,
		TotalRequests: l.totalRequests,
		TotalTokens:   l.totalTokens,
	}
}

// EstimateTokens estimates the number of tokens for a message at roughly
// four characters per token.
func EstimateTokens(message string) int {
	return len(message) / 4
}
