package client

import (
	"net/http"
	"time"
)

// Family names a backend API shape.
type Family string

const (
	FamilyGemini Family = "gemini"
	FamilyOpenAI Family = "openai"
)

// Backend describes one API family: where to send a prompt, how to encode
// it, and how to read the answer back.
type Backend interface {
	Family() Family
	Model() string
	// Endpoint returns the absolute URL of a generation request.
	Endpoint() string
	// Authorize sets the credential headers.
	Authorize(h http.Header, apiKey string)
	// RequestBody encodes prompt as a single-turn request.
	RequestBody(prompt string) ([]byte, error)
	// ExtractText decodes a 2xx body. Decoding failures are *InvalidJSONError.
	ExtractText(body []byte) (string, error)
	// SupportsIdempotency reports whether retries may carry an
	// Idempotency-Key header the server deduplicates on.
	SupportsIdempotency() bool
	// DefaultPolicy returns a new retry policy for one query.
	DefaultPolicy() RetryPolicy
}

// GenerationOptions are sampling settings shared by both families.
type GenerationOptions struct {
	Temperature     *float32
	MaxOutputTokens int
}

func defaultPolicy(idempotent bool, attempts int, base, max time.Duration) RetryPolicy {
	return RetryPolicy{
		MaxAttempts: attempts,
		BaseDelay:   base,
		MaxDelay:    max,
		Retryable:   Retryable(idempotent),
	}
}
