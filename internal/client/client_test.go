package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"forge/internal/robustness"
)

const testKey = "test-secret-key-0123456789"

// recordingSleeper captures backoff delays without waiting.
type recordingSleeper struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (r *recordingSleeper) sleep(ctx context.Context, d time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.delays = append(r.delays, d)
	return ctx.Err()
}

func (r *recordingSleeper) Delays() []time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]time.Duration(nil), r.delays...)
}

func epoch() time.Time { return time.Unix(0, 0) }

func geminiOK(text string) string {
	return fmt.Sprintf(`{"candidates":[{"content":{"role":"model","parts":[{"text":%q}]}}]}`, text)
}

func openaiOK(text string) string {
	return fmt.Sprintf(`{"id":"x","choices":[{"index":0,"message":{"role":"assistant","content":%q}}]}`, text)
}

func newTestClient(t *testing.T, backend Backend, sleeper *recordingSleeper, opts ...Option) *Client {
	t.Helper()
	base := []Option{WithSleeper(sleeper.sleep), WithClock(epoch)}
	return New(backend, testKey, append(base, opts...)...)
}

func TestGeminiRequestShape(t *testing.T) {
	var gotPath, gotKey string
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotKey = r.Header.Get("x-goog-api-key")
		assert.Empty(t, r.Header.Get("Idempotency-Key"))
		data, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(data, &body)
		fmt.Fprint(w, `{"candidates":[{"content":{"parts":[{"text":"thinking","thought":true},{"text":"hello "},{"text":"world"}]}}]}`)
	}))
	defer srv.Close()

	temp := float32(0.3)
	c := newTestClient(t, NewGeminiBackend(srv.URL, "gemini-test", GenerationOptions{Temperature: &temp, MaxOutputTokens: 100}), &recordingSleeper{})

	text, err := c.Query(context.Background(), "fix the build")
	require.NoError(t, err)
	assert.Equal(t, "hello world", text)
	assert.Equal(t, "/v1beta/models/gemini-test:generateContent", gotPath)
	assert.Equal(t, testKey, gotKey)

	contents, ok := body["contents"].([]any)
	require.True(t, ok)
	require.Len(t, contents, 1)
	assert.Contains(t, fmt.Sprint(contents[0]), "fix the build")
	assert.Contains(t, body, "generationConfig")
}

func TestOpenAIRequestShape(t *testing.T) {
	var gotPath, gotAuth string
	var req map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		data, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(data, &req)
		fmt.Fprint(w, openaiOK("done"))
	}))
	defer srv.Close()

	c := newTestClient(t, NewOpenAIBackend(srv.URL+"/v1/", "gpt-test", GenerationOptions{}), &recordingSleeper{})

	text, err := c.Query(context.Background(), "prompt")
	require.NoError(t, err)
	assert.Equal(t, "done", text)
	assert.Equal(t, "/v1/chat/completions", gotPath)
	assert.Equal(t, "Bearer "+testKey, gotAuth)
	assert.Equal(t, "gpt-test", req["model"])
}

func TestServerErrorRetriedUpToMaxAttempts(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	sleeper := &recordingSleeper{}
	c := newTestClient(t, NewGeminiBackend(srv.URL, "m", GenerationOptions{}), sleeper)

	_, err := c.Query(context.Background(), "p")
	require.Error(t, err)

	var qe *QueryError
	require.True(t, errors.As(err, &qe))
	assert.Equal(t, 5, qe.Attempts)
	assert.True(t, qe.Exhausted)
	assert.Equal(t, FamilyGemini, qe.Backend)

	var he *HTTPError
	require.True(t, errors.As(err, &he))
	assert.Equal(t, http.StatusServiceUnavailable, he.StatusCode)

	assert.EqualValues(t, 5, calls.Load())
	// The fixed clock makes jitter zero.
	assert.Equal(t, []time.Duration{2 * time.Second, 4 * time.Second, 8 * time.Second, 16 * time.Second}, sleeper.Delays())
}

func TestNotFoundNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "no such model", http.StatusNotFound)
	}))
	defer srv.Close()

	sleeper := &recordingSleeper{}
	c := newTestClient(t, NewOpenAIBackend(srv.URL, "m", GenerationOptions{}), sleeper)

	_, err := c.Query(context.Background(), "p")
	var qe *QueryError
	require.True(t, errors.As(err, &qe))
	assert.Equal(t, 1, qe.Attempts)
	assert.False(t, qe.Exhausted)
	assert.EqualValues(t, 1, calls.Load())
	assert.Empty(t, sleeper.Delays())
}

func TestMalformedSuccessNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		fmt.Fprint(w, `{"candidates": [`)
	}))
	defer srv.Close()

	c := newTestClient(t, NewGeminiBackend(srv.URL, "m", GenerationOptions{}), &recordingSleeper{})

	_, err := c.Query(context.Background(), "p")
	var ije *InvalidJSONError
	require.True(t, errors.As(err, &ije), "got %v", err)
	assert.EqualValues(t, 1, calls.Load())
}

func TestEmptyResponses(t *testing.T) {
	t.Run("gemini without candidates", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, `{"candidates":[],"promptFeedback":{"blockReason":"SAFETY"}}`)
		}))
		defer srv.Close()

		c := newTestClient(t, NewGeminiBackend(srv.URL, "m", GenerationOptions{}), &recordingSleeper{})
		_, err := c.Query(context.Background(), "p")
		assert.ErrorIs(t, err, ErrNoCandidates)
		assert.Contains(t, err.Error(), "SAFETY")
	})

	t.Run("openai without content", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, `{"choices":[]}`)
		}))
		defer srv.Close()

		c := newTestClient(t, NewOpenAIBackend(srv.URL, "m", GenerationOptions{}), &recordingSleeper{})
		_, err := c.Query(context.Background(), "p")
		assert.ErrorIs(t, err, ErrNoMessageContent)
	})
}

func TestRetryAfterRaisesDelay(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.Header().Set("Retry-After", "120")
			http.Error(w, "slow down", http.StatusTooManyRequests)
			return
		}
		fmt.Fprint(w, geminiOK("ok"))
	}))
	defer srv.Close()

	sleeper := &recordingSleeper{}
	c := newTestClient(t, NewGeminiBackend(srv.URL, "m", GenerationOptions{}), sleeper)

	text, err := c.Query(context.Background(), "p")
	require.NoError(t, err)
	assert.Equal(t, "ok", text)
	assert.Equal(t, []time.Duration{120 * time.Second}, sleeper.Delays())
}

func TestIdempotencyKeyStableAcrossRetries(t *testing.T) {
	var mu sync.Mutex
	var keys []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		keys = append(keys, r.Header.Get("Idempotency-Key"))
		n := len(keys)
		mu.Unlock()
		if n < 3 {
			http.Error(w, "bad gateway", http.StatusBadGateway)
			return
		}
		fmt.Fprint(w, openaiOK("ok"))
	}))
	defer srv.Close()

	var generated int
	ids := func() string {
		generated++
		return fmt.Sprintf("key-%d", generated)
	}
	c := newTestClient(t, NewOpenAIBackend(srv.URL, "m", GenerationOptions{}), &recordingSleeper{}, WithIDGenerator(ids))

	_, err := c.Query(context.Background(), "p")
	require.NoError(t, err)
	assert.Equal(t, []string{"key-1", "key-1", "key-1"}, keys)

	_, err = c.Query(context.Background(), "p")
	require.NoError(t, err)
	assert.Equal(t, "key-2", keys[len(keys)-1], "each query gets a fresh key")
}

// slowServer never answers before the client timeout on the first request.
func slowServer(t *testing.T, okBody string) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			select {
			case <-r.Context().Done():
			case <-time.After(5 * time.Second):
			}
			return
		}
		fmt.Fprint(w, okBody)
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func TestTimeoutRetriedOnlyWhenIdempotent(t *testing.T) {
	httpClient := &http.Client{Timeout: 200 * time.Millisecond}

	t.Run("openai retries", func(t *testing.T) {
		srv, calls := slowServer(t, openaiOK("ok"))
		c := newTestClient(t, NewOpenAIBackend(srv.URL, "m", GenerationOptions{}), &recordingSleeper{}, WithHTTPClient(httpClient))

		text, err := c.Query(context.Background(), "p")
		require.NoError(t, err)
		assert.Equal(t, "ok", text)
		assert.EqualValues(t, 2, calls.Load())
	})

	t.Run("gemini does not", func(t *testing.T) {
		srv, calls := slowServer(t, geminiOK("ok"))
		c := newTestClient(t, NewGeminiBackend(srv.URL, "m", GenerationOptions{}), &recordingSleeper{}, WithHTTPClient(httpClient))

		_, err := c.Query(context.Background(), "p")
		var te *TransportError
		require.True(t, errors.As(err, &te), "got %v", err)
		assert.True(t, te.Timeout)
		assert.EqualValues(t, 1, calls.Load())
	})
}

func TestConnectFailureRetried(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	sleeper := &recordingSleeper{}
	c := newTestClient(t, NewGeminiBackend(url, "m", GenerationOptions{}), sleeper, WithPolicy(PolicyOverrides{MaxAttempts: 2}))

	_, err := c.Query(context.Background(), "p")
	var qe *QueryError
	require.True(t, errors.As(err, &qe))
	assert.Equal(t, 2, qe.Attempts)
	assert.True(t, qe.Exhausted)
	var te *TransportError
	require.True(t, errors.As(err, &te))
	assert.True(t, te.Connect)
}

func TestAPIKeyRedactedFromErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "invalid key "+r.Header.Get("x-goog-api-key"), http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := newTestClient(t, NewGeminiBackend(srv.URL, "m", GenerationOptions{}), &recordingSleeper{})

	_, err := c.Query(context.Background(), "p")
	require.Error(t, err)
	assert.NotContains(t, err.Error(), testKey)
	assert.Contains(t, err.Error(), "...6789")
}

func TestLongErrorBodyRedactedBeforeTruncation(t *testing.T) {
	// The key straddles the cut and a two-byte rune sits on it once the key is masked.
	body := strings.Repeat("x", maxErrorBody-16) + testKey + strings.Repeat("é", 10)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		io.WriteString(w, body)
	}))
	defer srv.Close()

	c := newTestClient(t, NewGeminiBackend(srv.URL, "m", GenerationOptions{}), &recordingSleeper{})

	_, err := c.Query(context.Background(), "p")
	var he *HTTPError
	require.ErrorAs(t, err, &he)
	assert.NotContains(t, he.Body, testKey)
	assert.NotContains(t, he.Body, testKey[:8])
	assert.Contains(t, he.Body, "...6789")
	assert.True(t, utf8.ValidString(he.Body))
	assert.True(t, strings.HasSuffix(he.Body, "é..."))
	assert.LessOrEqual(t, len(he.Body), maxErrorBody+len("..."))
}

func TestCancelledContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "busy", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	sleeper := func(context.Context, time.Duration) error {
		cancel()
		return context.Canceled
	}
	c := New(NewGeminiBackend(srv.URL, "m", GenerationOptions{}), testKey, WithSleeper(sleeper), WithClock(epoch))

	_, err := c.Query(ctx, "p")
	assert.ErrorIs(t, err, context.Canceled)
	var qe *QueryError
	assert.False(t, errors.As(err, &qe))
}

func TestStatusCallbackOnRetry(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			http.Error(w, "busy", http.StatusInternalServerError)
			return
		}
		fmt.Fprint(w, geminiOK("ok"))
	}))
	defer srv.Close()

	status := &recordingStatus{}
	c := newTestClient(t, NewGeminiBackend(srv.URL, "m", GenerationOptions{}), &recordingSleeper{}, WithStatusCallback(status))

	_, err := c.Query(context.Background(), "p")
	require.NoError(t, err)
	require.Len(t, status.retries, 1)
	assert.Equal(t, "1/5", status.retries[0])
}

type recordingStatus struct {
	retries []string
}

func (s *recordingStatus) OnRetry(attempt, maxAttempts int, _ time.Duration, _ string) {
	s.retries = append(s.retries, fmt.Sprintf("%d/%d", attempt, maxAttempts))
}

func (s *recordingStatus) OnRateLimit(time.Duration) {}

func TestCircuitBreakerStopsQueries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := newTestClient(t, NewGeminiBackend(srv.URL, "m", GenerationOptions{}), &recordingSleeper{},
		WithPolicy(PolicyOverrides{MaxAttempts: 1}),
		WithCircuitBreaker(robustness.NewCircuitBreaker(2, time.Hour)))

	for i := 0; i < 2; i++ {
		_, err := c.Query(context.Background(), "p")
		var qe *QueryError
		require.ErrorAs(t, err, &qe)
	}
	_, err := c.Query(context.Background(), "p")
	assert.ErrorIs(t, err, robustness.ErrCircuitOpen)
	assert.EqualValues(t, 2, calls.Load())
}
