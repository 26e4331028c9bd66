package ui

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"forge/internal/client"
	"forge/internal/config"
	"forge/internal/git"
	"forge/internal/graph"
	"forge/internal/mutate"
	"forge/internal/protocol"
	"forge/internal/repair"
	"forge/internal/robustness"
	"forge/internal/security"
)

// ErrorGuidance provides actionable suggestions for common errors.
type ErrorGuidance struct {
	Title       string   // User-friendly title
	Suggestions []string // What user can try
	Command     string   // Relevant command hint (optional)
}

// typedGuidance matches forge's own error types.
var typedGuidance = []struct {
	match    func(error) bool
	guidance ErrorGuidance
}{
	{
		match: func(err error) bool { return errors.Is(err, config.ErrMissingAuth) },
		guidance: ErrorGuidance{
			Title:       "No API Key",
			Suggestions: []string{"Export FORGE_API_KEY, GEMINI_API_KEY or OPENAI_API_KEY", "Or set api.api_key in .forge/config.yaml"},
		},
	},
	{
		match: func(err error) bool { var e *config.ValidationError; return errors.As(err, &e) },
		guidance: ErrorGuidance{
			Title:       "Invalid Configuration",
			Suggestions: []string{"Fix the reported key in the named config file", "Durations use Go syntax such as 30s or 2m"},
		},
	},
	{
		match: func(err error) bool { var e *git.PatternError; return errors.As(err, &e) },
		guidance: ErrorGuidance{
			Title:       "Invalid Ignore Pattern",
			Suggestions: []string{"Fix or remove the reported line in the ignore file"},
		},
	},
	{
		match: func(err error) bool { var e *git.DirtyTreeError; return errors.As(err, &e) },
		guidance: ErrorGuidance{
			Title:       "Uncommitted Changes",
			Suggestions: []string{"Commit or stash your changes first", "Or set vcs.require_clean to false"},
			Command:     "git stash",
		},
	},
	{
		match: func(err error) bool { var e *graph.CycleError; return errors.As(err, &e) },
		guidance: ErrorGuidance{
			Title:       "Dependency Cycle",
			Suggestions: []string{"Remove one edge of the reported cycle from a dependencies file"},
			Command:     "forge graph",
		},
	},
	{
		match: func(err error) bool { return errors.Is(err, graph.ErrMissingDependencyFile) },
		guidance: ErrorGuidance{
			Title:       "Missing Dependency File",
			Suggestions: []string{"Create the dependencies file next to the spec, empty if the module has none"},
		},
	},
	{
		match: func(err error) bool { return errors.Is(err, repair.ErrAttemptsExhausted) },
		guidance: ErrorGuidance{
			Title:       "Build Still Failing",
			Suggestions: []string{"Inspect the recorded prompts and build output in the run directory", "Raise build.max_attempts or narrow the task"},
		},
	},
	{
		match: func(err error) bool { var e *security.Violation; return errors.As(err, &e) },
		guidance: ErrorGuidance{
			Title:       "Protected Path",
			Suggestions: []string{"The model tried to touch a guarded file", "Nothing was written; run again or adjust guard settings"},
		},
	},
	{
		match: func(err error) bool { var e *mutate.ApplyError; return errors.As(err, &e) },
		guidance: ErrorGuidance{
			Title:       "Could Not Apply Changes",
			Suggestions: []string{"Check file permissions under the project root"},
		},
	},
	{
		match: func(err error) bool {
			var e *protocol.SyntaxError
			return errors.As(err, &e) || errors.Is(err, protocol.ErrMissingStatus)
		},
		guidance: ErrorGuidance{
			Title:       "Malformed Model Response",
			Suggestions: []string{"Read the recorded response in the run directory", "Try again; responses vary between calls"},
		},
	},
	{
		match: func(err error) bool { return errors.Is(err, robustness.ErrCircuitOpen) },
		guidance: ErrorGuidance{
			Title:       "Backend Unavailable",
			Suggestions: []string{"Several queries in a row failed after all retries", "Queries resume after api.retry.breaker_reset"},
		},
	},
	{
		match: func(err error) bool { return httpStatus(err) == 401 || httpStatus(err) == 403 },
		guidance: ErrorGuidance{
			Title:       "Authentication Failed",
			Suggestions: []string{"Check your API key is correct", "Verify you have access to this model"},
		},
	},
	{
		match: func(err error) bool { return httpStatus(err) == 429 },
		guidance: ErrorGuidance{
			Title:       "Rate Limit Reached",
			Suggestions: []string{"Wait a moment before trying again", "Lower rate_limit.requests_per_minute"},
		},
	},
	{
		match: func(err error) bool { return httpStatus(err) == 404 },
		guidance: ErrorGuidance{
			Title:       "Model Not Found",
			Suggestions: []string{"Check the model name is correct", "Check api.base_url for OpenAI-compatible servers"},
		},
	},
}

// errorGuidancePatterns match error text that has no dedicated type.
var errorGuidancePatterns = []struct {
	Pattern  *regexp.Regexp
	guidance ErrorGuidance
}{
	{
		Pattern: regexp.MustCompile(`(?i)(deadline exceeded|timeout|context deadline)`),
		guidance: ErrorGuidance{
			Title:       "Request Timed Out",
			Suggestions: []string{"Check your network connection", "Raise api.timeout for long generations"},
		},
	},
	{
		Pattern: regexp.MustCompile(`(?i)(connection refused|no such host|network unreachable|dial tcp)`),
		guidance: ErrorGuidance{
			Title:       "Connection Failed",
			Suggestions: []string{"Check your internet connection", "Verify api.base_url in config"},
		},
	},
	{
		Pattern: regexp.MustCompile(`(?i)(content.*policy|safety|blocked)`),
		guidance: ErrorGuidance{
			Title:       "Content Policy",
			Suggestions: []string{"The request was flagged by content filters", "Rephrase the task or instructions"},
		},
	},
	{
		Pattern: regexp.MustCompile(`(?i)(no space left|disk quota exceeded|ENOSPC)`),
		guidance: ErrorGuidance{
			Title:       "Disk Space Error",
			Suggestions: []string{"Free up disk space", "Prune old runs under .forge/runs"},
		},
	},
}

func httpStatus(err error) int {
	var he *client.HTTPError
	if errors.As(err, &he) {
		return he.StatusCode
	}
	return 0
}

// GetErrorGuidance returns guidance for an error, or nil if nothing matches.
func GetErrorGuidance(err error) *ErrorGuidance {
	if err == nil {
		return nil
	}
	for _, g := range typedGuidance {
		if g.match(err) {
			out := g.guidance
			return &out
		}
	}
	msg := err.Error()
	for _, g := range errorGuidancePatterns {
		if g.Pattern.MatchString(msg) {
			out := g.guidance
			return &out
		}
	}
	return nil
}

// FormatErrorWithGuidance formats an error with helpful guidance.
func FormatErrorWithGuidance(styles *Styles, err error) string {
	var result strings.Builder

	result.WriteString(styles.Error.Render(MessageIcons["error"]+" Error: ") + truncateError(err.Error(), 300))

	guidance := GetErrorGuidance(err)
	if guidance == nil {
		return result.String()
	}

	fmt.Fprintf(&result, "\n%s%s", styles.Dim.Render("  ⎿  "), styles.Warning.Render(guidance.Title))
	for _, suggestion := range guidance.Suggestions {
		fmt.Fprintf(&result, "\n%s%s", styles.Dim.Render("     • "), styles.Dim.Render(suggestion))
	}
	if guidance.Command != "" {
		fmt.Fprintf(&result, "\n%s%s", styles.Dim.Render("     "), styles.Info.Render("Try: "+guidance.Command))
	}
	return result.String()
}

// truncateError flattens an error message to one line of at most maxLen bytes.
func truncateError(msg string, maxLen int) string {
	msg = strings.TrimSpace(strings.ReplaceAll(msg, "\n", " "))
	if len(msg) <= maxLen {
		return msg
	}
	return msg[:maxLen-3] + "..."
}
