package app

import (
	"time"

	"forge/internal/ui"
)

// statusCallback implements client.StatusCallback by printing retry and
// rate limit notices.
type statusCallback struct {
	printer *ui.Printer
}

// OnRetry is called when the client is retrying a failed request.
func (c *statusCallback) OnRetry(attempt, maxAttempts int, delay time.Duration, reason string) {
	if c.printer == nil {
		return
	}
	c.printer.Warn("Request failed (%s), retry %d/%d in %s", reason, attempt, maxAttempts, delay.Round(100*time.Millisecond))
}

// OnRateLimit is called when the client is waiting due to rate limiting.
func (c *statusCallback) OnRateLimit(waitTime time.Duration) {
	if c.printer == nil || waitTime < time.Second {
		return
	}
	c.printer.Info("Rate limit, waiting %s", waitTime.Round(time.Second))
}
