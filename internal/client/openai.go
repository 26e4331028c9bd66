package client

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

// DefaultOpenAIBaseURL is the public OpenAI API.
const DefaultOpenAIBaseURL = "https://api.openai.com"

// OpenAIBackend talks to an OpenAI-compatible chat completions endpoint.
type OpenAIBackend struct {
	baseURL string
	model   string
	opts    GenerationOptions
}

// NewOpenAIBackend returns an OpenAI backend. baseURL is the host root,
// without the /v1 suffix; empty selects the public endpoint.
func NewOpenAIBackend(baseURL, model string, opts GenerationOptions) *OpenAIBackend {
	if baseURL == "" {
		baseURL = DefaultOpenAIBaseURL
	}
	baseURL = strings.TrimSuffix(strings.TrimSuffix(baseURL, "/"), "/v1")
	return &OpenAIBackend{baseURL: baseURL, model: model, opts: opts}
}

func (b *OpenAIBackend) Family() Family { return FamilyOpenAI }
func (b *OpenAIBackend) Model() string  { return b.model }

func (b *OpenAIBackend) Endpoint() string {
	return b.baseURL + "/v1/chat/completions"
}

func (b *OpenAIBackend) Authorize(h http.Header, apiKey string) {
	h.Set("Authorization", "Bearer "+apiKey)
}

func (b *OpenAIBackend) RequestBody(prompt string) ([]byte, error) {
	req := openai.ChatCompletionRequest{
		Model: b.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		MaxTokens: b.opts.MaxOutputTokens,
	}
	if b.opts.Temperature != nil {
		req.Temperature = *b.opts.Temperature
	}
	return json.Marshal(req)
}

// ExtractText returns choices[0].message.content.
func (b *OpenAIBackend) ExtractText(body []byte) (string, error) {
	var resp openai.ChatCompletionResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", &InvalidJSONError{Body: string(body), Err: err}
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return "", ErrNoMessageContent
	}
	return resp.Choices[0].Message.Content, nil
}

// SupportsIdempotency is true: the same Idempotency-Key is sent on every
// attempt of a query.
func (b *OpenAIBackend) SupportsIdempotency() bool { return true }

func (b *OpenAIBackend) DefaultPolicy() RetryPolicy {
	return defaultPolicy(true, 4, time.Second, 30*time.Second)
}
