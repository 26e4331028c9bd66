package config

import "time"

// Default configuration values.
const (
	DefaultBackend     = "gemini"
	DefaultGeminiModel = "gemini-2.5-pro"
	DefaultOpenAIModel = "gpt-4o"

	DefaultMaxOutputTokens = 65536
	DefaultHTTPTimeout     = 10 * time.Minute
	DefaultConnectTimeout  = 10 * time.Second

	DefaultBreakerThreshold = 3
	DefaultBreakerReset     = 2 * time.Minute

	DefaultBuildScript  = "build.sh"
	DefaultMaxAttempts  = 4
	DefaultBuildTimeout = 15 * time.Minute

	DefaultSpecFile = "spec.md"
	DefaultDebounce = 500 * time.Millisecond

	DefaultRequestsPerMinute = 30
	DefaultTokensPerMinute   = 2_000_000
)
