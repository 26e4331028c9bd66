// Package config loads forge settings from layered YAML files and the
// environment.
package config

import (
	"path/filepath"
	"strings"
	"time"

	"forge/internal/security"
)

// Config represents the main application configuration.
type Config struct {
	API       APIConfig       `yaml:"api"`
	Build     BuildConfig     `yaml:"build"`
	Review    ReviewConfig    `yaml:"review"`
	Guard     GuardConfig     `yaml:"guard"`
	Logging   LoggingConfig   `yaml:"logging"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	VCS       VCSConfig       `yaml:"vcs"`

	// Root is the absolute project root; set by Load.
	Root string `yaml:"-"`
	// Sources lists the files that were merged, in order.
	Sources []string `yaml:"-"`
}

// APIConfig holds model backend settings.
type APIConfig struct {
	Backend         string        `yaml:"backend"`           // gemini or openai
	Model           string        `yaml:"model"`             // Empty selects the backend default
	BaseURL         string        `yaml:"base_url"`          // Empty selects the public endpoint
	APIKey          string        `yaml:"api_key,omitempty"` // Used when no backend-specific key is set
	GeminiKey       string        `yaml:"gemini_key,omitempty"`
	OpenAIKey       string        `yaml:"openai_key,omitempty"`
	Temperature     *float32      `yaml:"temperature,omitempty"`
	MaxOutputTokens int           `yaml:"max_output_tokens"`
	Timeout         time.Duration `yaml:"timeout"`         // Whole request, including the body
	ConnectTimeout  time.Duration `yaml:"connect_timeout"` // Connection establishment only
	Retry           RetryConfig   `yaml:"retry"`
}

// RetryConfig overrides the backend retry numbers. Zero keeps the default.
type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	BaseDelay   time.Duration `yaml:"base_delay"`
	MaxDelay    time.Duration `yaml:"max_delay"`

	// BreakerThreshold consecutive queries that exhaust their retries stop
	// further queries for BreakerReset. Zero disables the breaker.
	BreakerThreshold int           `yaml:"breaker_threshold"`
	BreakerReset     time.Duration `yaml:"breaker_reset"`
}

// BuildConfig holds build-repair loop settings.
type BuildConfig struct {
	Script            string        `yaml:"script"`              // Relative to the root
	MaxAttempts       int           `yaml:"max_attempts"`        // Model attempts per run
	Timeout           time.Duration `yaml:"timeout"`             // Per build script run
	RequestExtraFiles bool          `yaml:"request_extra_files"` // Ask the model which files it needs first
	ContextFiles      []string      `yaml:"context_files"`       // Always included in the first prompt
	InstructionsFile  string        `yaml:"instructions_file"`
	Task              string        `yaml:"task"`
}

// ReviewConfig holds spec review settings.
type ReviewConfig struct {
	SourceDir        string        `yaml:"source_dir"`
	SpecFile         string        `yaml:"spec_file"`
	DepsFile         string        `yaml:"deps_file"`
	CacheDir         string        `yaml:"cache_dir"`
	InstructionsFile string        `yaml:"instructions_file"`
	Debounce         time.Duration `yaml:"debounce"` // For review --watch
}

// GuardConfig holds path protection settings.
type GuardConfig struct {
	IgnoreFile        string   `yaml:"ignore_file"`
	ForbiddenFiles    []string `yaml:"forbidden_files"`
	ProtectedDirs     []string `yaml:"protected_dirs"`
	ReadProtectedDirs []string `yaml:"read_protected_dirs"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level   string `yaml:"level"`    // debug, info, warn, error
	RunsDir string `yaml:"runs_dir"` // Prompt/response records, relative to the root
	File    bool   `yaml:"file"`     // Also write forge.log into RunsDir
}

// RateLimitConfig holds client-side request pacing settings.
type RateLimitConfig struct {
	Enabled           bool `yaml:"enabled"`
	RequestsPerMinute int  `yaml:"requests_per_minute"`
	TokensPerMinute   int  `yaml:"tokens_per_minute"`
	BurstSize         int  `yaml:"burst_size"`
}

// VCSConfig holds version control checks.
type VCSConfig struct {
	RequireClean bool `yaml:"require_clean"` // Refuse to run on a dirty tree
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		API: APIConfig{
			Backend:         DefaultBackend,
			MaxOutputTokens: DefaultMaxOutputTokens,
			Timeout:         DefaultHTTPTimeout,
			ConnectTimeout:  DefaultConnectTimeout,
			Retry: RetryConfig{
				BreakerThreshold: DefaultBreakerThreshold,
				BreakerReset:     DefaultBreakerReset,
			},
		},
		Build: BuildConfig{
			Script:      DefaultBuildScript,
			MaxAttempts: DefaultMaxAttempts,
			Timeout:     DefaultBuildTimeout,
		},
		Review: ReviewConfig{
			SourceDir: "src",
			SpecFile:  DefaultSpecFile,
			DepsFile:  "dependencies.txt",
			CacheDir:  filepath.Join(".forge", "cache"),
			Debounce:  DefaultDebounce,
		},
		Guard: GuardConfig{
			IgnoreFile:        ".gitignore",
			ForbiddenFiles:    []string{".gitignore", "go.sum", DefaultBuildScript, "AGENTS.md"},
			ProtectedDirs:     []string{".git", "build", ".forge"},
			ReadProtectedDirs: []string{".git"},
		},
		Logging: LoggingConfig{
			Level:   "warn",
			RunsDir: filepath.Join(".forge", "runs"),
		},
		RateLimit: RateLimitConfig{
			Enabled:           true,
			RequestsPerMinute: DefaultRequestsPerMinute,
			TokensPerMinute:   DefaultTokensPerMinute,
			BurstSize:         2,
		},
	}
}

// Path resolves a root-relative setting to an absolute path.
func (c *Config) Path(rel string) string {
	if filepath.IsAbs(rel) {
		return rel
	}
	return filepath.Join(c.Root, rel)
}

// GuardSettings returns the path guard configuration for this project. The
// spec file name is protected at any depth. The configured build script,
// ignore file and instructions files are forbidden, and the review cache and
// run log directories are protected, wherever they are placed.
func (c *Config) GuardSettings() security.GuardConfig {
	forbidden := append([]string(nil), c.Guard.ForbiddenFiles...)
	for _, f := range []string{c.Build.Script, c.Guard.IgnoreFile, c.Build.InstructionsFile, c.Review.InstructionsFile} {
		if rel, ok := c.rootRelative(f); ok {
			forbidden = append(forbidden, rel)
		}
	}
	dirs := append([]string(nil), c.Guard.ProtectedDirs...)
	for _, d := range []string{c.Review.CacheDir, c.Logging.RunsDir} {
		if rel, ok := c.rootRelative(d); ok {
			dirs = append(dirs, rel)
		}
	}
	return security.GuardConfig{
		Root:              c.Root,
		IgnoreFile:        c.Guard.IgnoreFile,
		ForbiddenFiles:    forbidden,
		ProtectedNames:    []string{c.Review.SpecFile},
		ProtectedDirs:     dirs,
		ReadProtectedDirs: c.Guard.ReadProtectedDirs,
	}
}

// rootRelative returns p as a slash-separated path relative to the root.
// Empty paths and paths outside the root report false.
func (c *Config) rootRelative(p string) (string, bool) {
	if p == "" {
		return "", false
	}
	rel, err := filepath.Rel(c.Root, c.Path(p))
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", false
	}
	return filepath.ToSlash(rel), true
}

// ResolveKey finds the API key for the configured backend. Environment
// variables win over file values.
func (c *Config) ResolveKey() *security.LoadedKey {
	fileKey := c.API.APIKey
	switch c.API.Backend {
	case "gemini":
		if c.API.GeminiKey != "" {
			fileKey = c.API.GeminiKey
		}
	case "openai":
		if c.API.OpenAIKey != "" {
			fileKey = c.API.OpenAIKey
		}
	}
	return security.GetAPIKey(security.KeyEnvVars(c.API.Backend), fileKey)
}

// ModelName returns the configured model or the backend default.
func (c *Config) ModelName() string {
	if c.API.Model != "" {
		return c.API.Model
	}
	if c.API.Backend == "openai" {
		return DefaultOpenAIModel
	}
	return DefaultGeminiModel
}
