package rerank

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// TEIScorer calls a text-embeddings-inference /rerank endpoint serving a
// cross-encoder model.
type TEIScorer struct {
	url    string
	client *http.Client
}

// NewTEIScorer creates a scorer for the given /rerank endpoint URL.
func NewTEIScorer(url string, timeout time.Duration) *TEIScorer {
	return &TEIScorer{
		url:    url,
		client: &http.Client{Timeout: timeout},
	}
}

type teiRequest struct {
	Query string   `json:"query"`
	Texts []string `json:"texts"`
}

type teiResult struct {
	Index int     `json:"index"`
	Score float64 `json:"score"`
}

// Score returns one relevance score per document, positionally aligned.
func (s *TEIScorer) Score(ctx context.Context, query string, documents []string) ([]float64, error) {
	body, err := json.Marshal(teiRequest{Query: query, Texts: documents})
	if err != nil {
		return nil, fmt.Errorf("encoding rerank request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("building rerank request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calling rerank service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("rerank service returned %d: %s", resp.StatusCode, msg)
	}

	// The service returns results sorted by score, each tagged with the
	// original document index.
	var results []teiResult
	if err := json.NewDecoder(resp.Body).Decode(&results); err != nil {
		return nil, fmt.Errorf("decoding rerank response: %w", err)
	}

	scores := make([]float64, len(documents))
	for _, r := range results {
		if r.Index < 0 || r.Index >= len(documents) {
			return nil, fmt.Errorf("rerank result index %d out of range", r.Index)
		}
		scores[r.Index] = r.Score
	}
	return scores, nil
}
