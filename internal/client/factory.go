package client

import (
	"fmt"

	"forge/internal/config"
	"forge/internal/logging"
	"forge/internal/ratelimit"
	"forge/internal/robustness"
	"forge/internal/security"
)

// NewBackend returns the backend family named by cfg.API.Backend.
func NewBackend(cfg *config.Config) (Backend, error) {
	opts := GenerationOptions{
		Temperature:     cfg.API.Temperature,
		MaxOutputTokens: cfg.API.MaxOutputTokens,
	}
	switch Family(cfg.API.Backend) {
	case FamilyGemini:
		return NewGeminiBackend(cfg.API.BaseURL, cfg.ModelName(), opts), nil
	case FamilyOpenAI:
		return NewOpenAIBackend(cfg.API.BaseURL, cfg.ModelName(), opts), nil
	default:
		return nil, fmt.Errorf("unknown backend %q", cfg.API.Backend)
	}
}

// NewFromConfig builds a client from the merged configuration. It is the
// main entry point for client creation.
func NewFromConfig(cfg *config.Config, opts ...Option) (*Client, error) {
	backend, err := NewBackend(cfg)
	if err != nil {
		return nil, err
	}

	key, err := cfg.ValidateAuth()
	if err != nil {
		return nil, err
	}
	logging.Debug("loaded API key", "backend", backend.Family(), "source", key.Source, "key", security.MaskTail(key.Value))

	httpClient, err := security.CreateSecureHTTPClient(security.HTTPConfig{
		Timeout:        cfg.API.Timeout,
		ConnectTimeout: cfg.API.ConnectTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP client: %w", err)
	}

	base := []Option{
		WithHTTPClient(httpClient),
		WithPolicy(PolicyOverrides{
			MaxAttempts: cfg.API.Retry.MaxAttempts,
			BaseDelay:   cfg.API.Retry.BaseDelay,
			MaxDelay:    cfg.API.Retry.MaxDelay,
		}),
	}
	if cfg.RateLimit.Enabled {
		base = append(base, WithRateLimiter(ratelimit.NewLimiter(ratelimit.Config{
			Enabled:           true,
			RequestsPerMinute: cfg.RateLimit.RequestsPerMinute,
			TokensPerMinute:   cfg.RateLimit.TokensPerMinute,
			BurstSize:         cfg.RateLimit.BurstSize,
		})))
	}

	if cfg.API.Retry.BreakerThreshold > 0 {
		base = append(base, WithCircuitBreaker(robustness.NewCircuitBreaker(cfg.API.Retry.BreakerThreshold, cfg.API.Retry.BreakerReset)))
	}

	return New(backend, key.Value, append(base, opts...)...), nil
}
