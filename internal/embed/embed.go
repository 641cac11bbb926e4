// Package embed converts text into dense vectors through an OpenAI-compatible
// embeddings endpoint.
package embed

import (
	"context"
	"errors"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

var (
	// ErrEmptyInput indicates the input text is empty or whitespace.
	ErrEmptyInput = errors.New("empty embedding input")

	// ErrEmbedFailed indicates the embedding call failed after the
	// provider's own handling; callers may retry at their discretion.
	ErrEmbedFailed = errors.New("embedding failed")

	// ErrDimensionMismatch indicates the provider returned a vector of an
	// unexpected dimension, which would corrupt the index if stored.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
)

// Provider produces an embedding vector for one text.
type Provider interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Client calls an OpenAI-compatible /v1/embeddings endpoint, such as a
// text-embeddings-inference server running all-MiniLM-L6-v2.
type Client struct {
	api       *openai.Client
	model     string
	dimension int
}

// Config holds the embedding endpoint parameters.
type Config struct {
	BaseURL   string
	APIKey    string
	Model     string
	Dimension int
}

// NewClient creates an embedding client. Dimension is enforced on every
// response; a mismatch means the endpoint is serving the wrong model.
func NewClient(cfg Config) *Client {
	apiCfg := openai.DefaultConfig(cfg.APIKey)
	apiCfg.BaseURL = cfg.BaseURL
	return &Client{
		api:       openai.NewClientWithConfig(apiCfg),
		model:     cfg.Model,
		dimension: cfg.Dimension,
	}
}

// Embed returns the embedding vector for text.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyInput
	}

	resp, err := c.api.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Model: openai.EmbeddingModel(c.model),
		Input: []string{text},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEmbedFailed, err)
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("%w: response contains no embeddings", ErrEmbedFailed)
	}

	vector := resp.Data[0].Embedding
	if c.dimension > 0 && len(vector) != c.dimension {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(vector), c.dimension)
	}
	return vector, nil
}
