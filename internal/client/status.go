package client

import "time"

// StatusCallback is notified while a query is retrying, so a terminal can
// show why nothing is happening.
type StatusCallback interface {
	// OnRetry is called before sleeping. attempt is the attempt that failed
	// (1-based).
	OnRetry(attempt, maxAttempts int, delay time.Duration, reason string)
	// OnRateLimit is called when the client-side limiter delays a request.
	OnRateLimit(waited time.Duration)
}

// NopStatus ignores all notifications.
type NopStatus struct{}

func (NopStatus) OnRetry(int, int, time.Duration, string) {}
func (NopStatus) OnRateLimit(time.Duration)               {}
