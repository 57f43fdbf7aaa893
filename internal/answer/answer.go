// Package answer turns a question and extracted page content into a
// natural-language answer via an OpenAI-compatible inference service.
package answer

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	openai "github.com/sashabaranov/go-openai"
)

const (
	DefaultBaseURL = "https://api.groq.com/openai/v1"
	DefaultModel   = "llama-3.3-70b-versatile"

	// Character budget for page content in the prompt, roughly 3750
	// tokens at 4 chars per token.
	maxContentLength = 15000

	truncationMarker = "...[content truncated]"
)

type Kind int

const (
	// KindAuth means the credential is missing or rejected. This is a
	// configuration defect, not a transient failure.
	KindAuth Kind = iota
	KindUpstream
)

type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	if e.Kind == KindAuth {
		return fmt.Sprintf("generation auth failure: %v", e.Err)
	}
	return fmt.Sprintf("generation failed: %v", e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

type Result struct {
	Answer     string
	Model      string
	TokensUsed int
}

type Config struct {
	APIKey  string
	BaseURL string
	Model   string
}

type Generator struct {
	client *openai.Client
	apiKey string
	model  string
	log    zerolog.Logger
}

func New(cfg Config, log zerolog.Logger) *Generator {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	clientCfg.BaseURL = cfg.BaseURL

	return &Generator{
		client: openai.NewClientWithConfig(clientCfg),
		apiKey: cfg.APIKey,
		model:  cfg.Model,
		log:    log.With().Str("component", "generator").Logger(),
	}
}

const systemPromptFormat = `You are a helpful AI assistant that answers questions based on website content.
You will be provided with content scraped from a website and a question about it.
Your job is to:
1. Carefully analyze the provided content
2. Answer the question accurately based ONLY on the information available in the content
3. If the content doesn't contain enough information to answer the question, say so clearly
4. Be concise but informative
5. Use a friendly, conversational tone

Website: %s
URL: %s`

const userPromptFormat = `Based on the following website content, please answer this question:

Question: %s

Website Content:
%s

Please provide a clear, accurate answer based on the content above.`

// Generate sends one non-streaming completion request. Retries are the
// caller's responsibility.
func (g *Generator) Generate(ctx context.Context, question, content, title, url string) (*Result, error) {
	if g.apiKey == "" {
		return nil, &Error{Kind: KindAuth, Err: errors.New("inference API key is missing or empty")}
	}

	truncated := truncate(content)

	resp, err := g.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: g.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: fmt.Sprintf(systemPromptFormat, title, url)},
			{Role: openai.ChatMessageRoleUser, Content: fmt.Sprintf(userPromptFormat, question, truncated)},
		},
		Temperature: 0.7,
		MaxTokens:   1024,
		TopP:        1,
	})
	if err != nil {
		return nil, classify(err)
	}

	if len(resp.Choices) == 0 {
		return nil, &Error{Kind: KindUpstream, Err: errors.New("inference service returned no choices")}
	}

	result := &Result{
		Answer:     resp.Choices[0].Message.Content,
		Model:      resp.Model,
		TokensUsed: resp.Usage.TotalTokens,
	}

	g.log.Debug().
		Str("model", result.Model).
		Int("tokens_used", result.TokensUsed).
		Msg("answer generated")

	return result, nil
}

func truncate(content string) string {
	if len(content) <= maxContentLength {
		return content
	}
	return content[:maxContentLength] + truncationMarker
}

func classify(err error) *Error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		if apiErr.HTTPStatusCode == 401 || apiErr.HTTPStatusCode == 403 {
			return &Error{Kind: KindAuth, Err: err}
		}
	}
	return &Error{Kind: KindUpstream, Err: err}
}
