package client

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"google.golang.org/genai"
)

// DefaultGeminiBaseURL is the public Generative Language API.
const DefaultGeminiBaseURL = "https://generativelanguage.googleapis.com"

// geminiRequest is the generateContent body. The shapes come from genai so
// they stay in step with the API.
type geminiRequest struct {
	Contents         []*genai.Content        `json:"contents"`
	GenerationConfig *genai.GenerationConfig `json:"generationConfig,omitempty"`
}

// GeminiBackend talks to the generateContent endpoint with an API key.
type GeminiBackend struct {
	baseURL string
	model   string
	opts    GenerationOptions
}

// NewGeminiBackend returns a Gemini backend. An empty baseURL selects the
// public endpoint.
func NewGeminiBackend(baseURL, model string, opts GenerationOptions) *GeminiBackend {
	if baseURL == "" {
		baseURL = DefaultGeminiBaseURL
	}
	return &GeminiBackend{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		model:   model,
		opts:    opts,
	}
}

func (b *GeminiBackend) Family() Family { return FamilyGemini }
func (b *GeminiBackend) Model() string  { return b.model }

func (b *GeminiBackend) Endpoint() string {
	return fmt.Sprintf("%s/v1beta/models/%s:generateContent", b.baseURL, url.PathEscape(b.model))
}

func (b *GeminiBackend) Authorize(h http.Header, apiKey string) {
	h.Set("x-goog-api-key", apiKey)
}

func (b *GeminiBackend) RequestBody(prompt string) ([]byte, error) {
	req := geminiRequest{
		Contents: []*genai.Content{genai.NewContentFromText(prompt, genai.RoleUser)},
	}
	if b.opts.Temperature != nil || b.opts.MaxOutputTokens > 0 {
		req.GenerationConfig = &genai.GenerationConfig{
			Temperature:     b.opts.Temperature,
			MaxOutputTokens: int32(b.opts.MaxOutputTokens),
		}
	}
	return json.Marshal(req)
}

// ExtractText concatenates the text parts of the first candidate, skipping
// thought parts.
func (b *GeminiBackend) ExtractText(body []byte) (string, error) {
	var resp genai.GenerateContentResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", &InvalidJSONError{Body: string(body), Err: err}
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0] == nil || resp.Candidates[0].Content == nil {
		if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != "" {
			return "", fmt.Errorf("%w (prompt blocked: %s)", ErrNoCandidates, resp.PromptFeedback.BlockReason)
		}
		return "", ErrNoCandidates
	}

	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if part == nil || part.Thought {
			continue
		}
		sb.WriteString(part.Text)
	}
	return sb.String(), nil
}

// SupportsIdempotency is false: generateContent has no deduplication key.
func (b *GeminiBackend) SupportsIdempotency() bool { return false }

func (b *GeminiBackend) DefaultPolicy() RetryPolicy {
	return defaultPolicy(false, 5, 2*time.Second, 60*time.Second)
}
