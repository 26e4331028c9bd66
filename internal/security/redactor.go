package security

import (
	"regexp"
	"sort"
	"strings"
	"sync"
)

const redacted = "[REDACTED]"

// RedactKey replaces every occurrence of key in text with a form that keeps
// only its last four characters. Keys of four characters or fewer are fully
// hidden.
func RedactKey(text, key string) string {
	if key == "" || text == "" {
		return text
	}
	return strings.ReplaceAll(text, key, MaskTail(key))
}

// MaskTail renders key as "...wxyz", exposing at most its last four characters.
func MaskTail(key string) string {
	if len(key) <= 4 {
		return "..." + strings.Repeat("*", len(key))
	}
	return "..." + key[len(key)-4:]
}

// SecretRedactor masks credentials in prompts, responses and build output
// before they are written to the run log.
type SecretRedactor struct {
	mu       sync.RWMutex
	patterns []*regexp.Regexp
	literals []string
}

// NewSecretRedactor creates a redactor with patterns for the credentials a
// build-repair run is likely to see.
func NewSecretRedactor() *SecretRedactor {
	return &SecretRedactor{
		patterns: []*regexp.Regexp{
			// key=value style assignments; group 2 is the secret.
			regexp.MustCompile(`(?i)(api[_-]?key|access[_-]?token|auth[_-]?token|secret|password)(["']?\s*[:=]\s*["']?)([A-Za-z0-9_\-\.]{8,})`),
			regexp.MustCompile(`(?i)(Bearer\s+)([A-Za-z0-9_\-\.]{10,256})`),
			regexp.MustCompile(`(?i)(x-goog-api-key:\s*)(\S+)`),
			// Google API keys.
			regexp.MustCompile(`AIza[0-9A-Za-z\-_]{35}`),
			// OpenAI style secret keys.
			regexp.MustCompile(`sk-(?:proj-)?[A-Za-z0-9_\-]{20,}`),
			regexp.MustCompile(`gh[pous]_[A-Za-z0-9]{36}`),
			regexp.MustCompile(`AKIA[0-9A-Z]{16}`),
			regexp.MustCompile(`-----BEGIN [A-Z ]*PRIVATE KEY-----[\s\S]+?-----END [A-Z ]*PRIVATE KEY-----`),
		},
	}
}

// AddSecret registers a literal value, such as the configured API key, that
// must never appear in redacted output.
func (r *SecretRedactor) AddSecret(secret string) {
	if len(secret) < 4 {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.literals = append(r.literals, secret)
	// Longest first so a key that contains another is replaced whole.
	sort.Slice(r.literals, func(i, j int) bool { return len(r.literals[i]) > len(r.literals[j]) })
}

// AddPattern adds a custom regex pattern to the redactor.
func (r *SecretRedactor) AddPattern(pattern string) error {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.patterns = append(r.patterns, re)
	r.mu.Unlock()
	return nil
}

// Redact masks all detected secrets in text.
func (r *SecretRedactor) Redact(text string) string {
	if text == "" {
		return ""
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := text
	for _, lit := range r.literals {
		result = RedactKey(result, lit)
	}
	for _, re := range r.patterns {
		if !re.MatchString(result) {
			continue
		}
		if re.NumSubexp() == 0 {
			result = re.ReplaceAllString(result, redacted)
			continue
		}
		result = redactLastGroup(result, re)
	}
	return result
}

// redactLastGroup keeps every capture group except the last, which holds the
// secret value.
func redactLastGroup(text string, re *regexp.Regexp) string {
	n := re.NumSubexp()
	return re.ReplaceAllStringFunc(text, func(match string) string {
		subs := re.FindStringSubmatch(match)
		if len(subs) <= n || subs[n] == "" {
			return redacted
		}
		if strings.HasPrefix(subs[n], "...") {
			return match
		}
		var b strings.Builder
		for i := 1; i < n; i++ {
			b.WriteString(subs[i])
		}
		b.WriteString(redacted)
		return b.String()
	})
}
