package answer

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type capturedRequest struct {
	Model    string `json:"model"`
	Messages []struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"messages"`
	Temperature float64 `json:"temperature"`
	MaxTokens   int     `json:"max_tokens"`
}

func fakeInferenceServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv
}

func completionResponse(answer string, tokens int) string {
	return `{
		"id": "chatcmpl-1",
		"object": "chat.completion",
		"model": "llama-3.3-70b-versatile",
		"choices": [{"index": 0, "message": {"role": "assistant", "content": ` + jsonString(answer) + `}, "finish_reason": "stop"}],
		"usage": {"prompt_tokens": 100, "completion_tokens": 24, "total_tokens": ` + jsonInt(tokens) + `}
	}`
}

func jsonString(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}

func jsonInt(n int) string {
	b, _ := json.Marshal(n)
	return string(b)
}

func newTestGenerator(baseURL string) *Generator {
	return New(Config{APIKey: "test-key", BaseURL: baseURL}, zerolog.Nop())
}

func TestGenerate(t *testing.T) {
	var got capturedRequest
	srv := fakeInferenceServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(completionResponse("It is an example domain.", 124)))
	})

	g := newTestGenerator(srv.URL)
	result, err := g.Generate(context.Background(), "What is this page about?", "Example content.", "Example Domain", "https://example.com")
	require.NoError(t, err)

	assert.Equal(t, "It is an example domain.", result.Answer)
	assert.Equal(t, "llama-3.3-70b-versatile", result.Model)
	assert.Equal(t, 124, result.TokensUsed)

	require.Len(t, got.Messages, 2)
	assert.Equal(t, "system", got.Messages[0].Role)
	assert.Contains(t, got.Messages[0].Content, "Example Domain")
	assert.Contains(t, got.Messages[0].Content, "https://example.com")
	assert.Equal(t, "user", got.Messages[1].Role)
	assert.Contains(t, got.Messages[1].Content, "What is this page about?")
	assert.Contains(t, got.Messages[1].Content, "Example content.")
	assert.Equal(t, DefaultModel, got.Model)
	assert.InDelta(t, 0.7, got.Temperature, 0.001)
	assert.Equal(t, 1024, got.MaxTokens)
}

func TestGenerate_TruncatesLongContent(t *testing.T) {
	var got capturedRequest
	srv := fakeInferenceServer(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(completionResponse("ok", 1)))
	})

	longContent := strings.Repeat("a", maxContentLength+500)

	g := newTestGenerator(srv.URL)
	_, err := g.Generate(context.Background(), "q", longContent, "t", "u")
	require.NoError(t, err)

	require.Len(t, got.Messages, 2)
	userPrompt := got.Messages[1].Content
	assert.Contains(t, userPrompt, truncationMarker)
	assert.NotContains(t, userPrompt, longContent, "content beyond the budget must not be sent")
	assert.Contains(t, userPrompt, longContent[:maxContentLength])
}

func TestGenerate_MissingAPIKey(t *testing.T) {
	g := New(Config{}, zerolog.Nop())

	_, err := g.Generate(context.Background(), "q", "content", "t", "u")
	require.Error(t, err)

	var genErr *Error
	require.ErrorAs(t, err, &genErr)
	assert.Equal(t, KindAuth, genErr.Kind)
}

func TestGenerate_RejectedCredential(t *testing.T) {
	srv := fakeInferenceServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error": {"message": "Invalid API Key", "type": "invalid_request_error"}}`))
	})

	g := newTestGenerator(srv.URL)
	_, err := g.Generate(context.Background(), "q", "content", "t", "u")
	require.Error(t, err)

	var genErr *Error
	require.ErrorAs(t, err, &genErr)
	assert.Equal(t, KindAuth, genErr.Kind)
}

func TestGenerate_UpstreamFailure(t *testing.T) {
	srv := fakeInferenceServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error": {"message": "service unavailable", "type": "server_error"}}`))
	})

	g := newTestGenerator(srv.URL)
	_, err := g.Generate(context.Background(), "q", "content", "t", "u")
	require.Error(t, err)

	var genErr *Error
	require.ErrorAs(t, err, &genErr)
	assert.Equal(t, KindUpstream, genErr.Kind)
}

func TestGenerate_NoChoices(t *testing.T) {
	srv := fakeInferenceServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id": "chatcmpl-1", "object": "chat.completion", "model": "m", "choices": [], "usage": {"total_tokens": 0}}`))
	})

	g := newTestGenerator(srv.URL)
	_, err := g.Generate(context.Background(), "q", "content", "t", "u")
	require.Error(t, err)

	var genErr *Error
	require.ErrorAs(t, err, &genErr)
	assert.Equal(t, KindUpstream, genErr.Kind)
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short"))

	exact := strings.Repeat("x", maxContentLength)
	assert.Equal(t, exact, truncate(exact))

	over := exact + "y"
	got := truncate(over)
	assert.Equal(t, maxContentLength+len(truncationMarker), len(got))
	assert.True(t, strings.HasSuffix(got, truncationMarker))
}
