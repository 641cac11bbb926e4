// Package llm generates chat completions through an OpenAI-compatible
// endpoint, by default Groq.
package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	openai "github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"

	"github.com/yuvabe/care-companion/internal/history"
)

var (
	// ErrAuth indicates the API rejected our credentials. Not retryable;
	// the operator has to fix the key.
	ErrAuth = errors.New("generation auth failed")

	// ErrRateLimited indicates the provider throttled the request.
	ErrRateLimited = errors.New("generation rate limited")

	// ErrGenerateFailed covers transport and server-side failures.
	ErrGenerateFailed = errors.New("generation failed")

	// ErrMalformedResponse indicates the provider answered 200 with no
	// usable completion.
	ErrMalformedResponse = errors.New("malformed generation response")

	// ErrNoMessages indicates an empty prompt.
	ErrNoMessages = errors.New("no messages to generate from")
)

// Generator produces an assistant reply for an ordered message list.
// Implementations do not retry internally; the caller owns retry policy.
type Generator interface {
	Generate(ctx context.Context, messages []history.Message) (string, error)
}

// Client calls a chat-completions endpoint.
type Client struct {
	api         *openai.Client
	model       string
	maxTokens   int
	temperature float32
	limiter     *rate.Limiter
}

// Config holds generation endpoint parameters.
type Config struct {
	BaseURL     string
	APIKey      string
	Model       string
	MaxTokens   int
	Temperature float32

	// RequestsPerMinute caps outbound calls client-side; zero disables
	// the limiter.
	RequestsPerMinute int
}

// NewClient creates a generation client.
func NewClient(cfg Config) *Client {
	apiCfg := openai.DefaultConfig(cfg.APIKey)
	apiCfg.BaseURL = cfg.BaseURL

	var limiter *rate.Limiter
	if cfg.RequestsPerMinute > 0 {
		limiter = rate.NewLimiter(rate.Limit(float64(cfg.RequestsPerMinute)/60), cfg.RequestsPerMinute)
	}

	return &Client{
		api:         openai.NewClientWithConfig(apiCfg),
		model:       cfg.Model,
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
		limiter:     limiter,
	}
}

// Generate returns the assistant reply for messages. Errors are classified
// into the package sentinels so callers can decide what is worth retrying.
func (c *Client) Generate(ctx context.Context, messages []history.Message) (string, error) {
	if len(messages) == 0 {
		return "", ErrNoMessages
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return "", fmt.Errorf("%w: %v", ErrGenerateFailed, err)
		}
	}

	req := openai.ChatCompletionRequest{
		Model:       c.model,
		MaxTokens:   c.maxTokens,
		Temperature: c.temperature,
		Messages:    make([]openai.ChatCompletionMessage, 0, len(messages)),
	}
	for _, m := range messages {
		req.Messages = append(req.Messages, openai.ChatCompletionMessage{
			Role:    string(m.Role),
			Content: m.Content,
		})
	}

	resp, err := c.api.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", classify(err)
	}

	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return "", ErrMalformedResponse
	}
	return resp.Choices[0].Message.Content, nil
}

// classify maps provider errors onto the package sentinels.
func classify(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.HTTPStatusCode {
		case http.StatusUnauthorized, http.StatusForbidden:
			return fmt.Errorf("%w: %v", ErrAuth, err)
		case http.StatusTooManyRequests:
			return fmt.Errorf("%w: %v", ErrRateLimited, err)
		}
	}
	return fmt.Errorf("%w: %v", ErrGenerateFailed, err)
}
