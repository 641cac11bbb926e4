// Package knowledge manages the health-care knowledge base: embedding
// records, storing them in the vector index, and searching them.
package knowledge

import (
	"context"
	"errors"
	"fmt"

	"github.com/yuvabe/care-companion/internal/embed"
	"github.com/yuvabe/care-companion/internal/log"
	"github.com/yuvabe/care-companion/internal/vecindex"
)

// idPrefixRunes is how much of the input text goes into the derived ID.
const idPrefixRunes = 50

var (
	// ErrNoRecords indicates an upsert request with nothing to store.
	ErrNoRecords = errors.New("no records")

	// ErrEmptyInput indicates a record with no input text to embed.
	ErrEmptyInput = errors.New("empty record input")
)

// Record is one raw knowledge item before embedding.
type Record struct {
	Input       string `json:"input"`
	Output      string `json:"output"`
	Instruction string `json:"instruction"`
}

// Indexer is the slice of the vector index this service uses.
type Indexer interface {
	Upsert(ctx context.Context, namespace string, entries []vecindex.Entry) error
	Query(ctx context.Context, namespace string, vector []float32, topK int) ([]vecindex.Match, error)
	Delete(ctx context.Context, namespace string, ids []string) (int64, error)
	Count(ctx context.Context, namespace string) (int64, error)
}

// Service embeds and manages knowledge records in one namespace.
type Service struct {
	index     Indexer
	embedder  embed.Provider
	logger    log.Logger
	namespace string
}

// NewService wires the service.
func NewService(index Indexer, embedder embed.Provider, logger log.Logger, namespace string) *Service {
	return &Service{index: index, embedder: embedder, logger: logger, namespace: namespace}
}

// deriveID builds a stable entry ID from the record text and its position in
// the upload. Re-uploading the same file therefore overwrites rather than
// duplicates.
func deriveID(input string, position int) string {
	runes := []rune(input)
	if len(runes) > idPrefixRunes {
		runes = runes[:idPrefixRunes]
	}
	return fmt.Sprintf("%s:%d", string(runes), position)
}

// Upsert embeds each record and stores it. Embedding failures abort before
// anything is written; storage failures surface the index's batch error so
// the caller knows what is already persisted.
func (s *Service) Upsert(ctx context.Context, records []Record) (int, error) {
	if len(records) == 0 {
		return 0, ErrNoRecords
	}

	entries := make([]vecindex.Entry, 0, len(records))
	for i, r := range records {
		if r.Input == "" {
			return 0, fmt.Errorf("%w: record %d", ErrEmptyInput, i)
		}
		vector, err := s.embedder.Embed(ctx, r.Input)
		if err != nil {
			return 0, fmt.Errorf("embedding record %d: %w", i, err)
		}
		entries = append(entries, vecindex.Entry{
			ID:          deriveID(r.Input, i),
			Question:    r.Input,
			Answer:      r.Output,
			Instruction: r.Instruction,
			Embedding:   vector,
		})
	}

	if err := s.index.Upsert(ctx, s.namespace, entries); err != nil {
		return 0, err
	}

	s.logger.Info("knowledge records upserted",
		"namespace", s.namespace, "count", len(entries))
	return len(entries), nil
}

// Search embeds the query and returns the topK nearest records with their
// similarity scores.
func (s *Service) Search(ctx context.Context, query string, topK int) ([]vecindex.Match, error) {
	vector, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}
	return s.index.Query(ctx, s.namespace, vector, topK)
}

// Delete removes records by ID and reports how many existed.
func (s *Service) Delete(ctx context.Context, ids []string) (int64, error) {
	return s.index.Delete(ctx, s.namespace, ids)
}

// Count reports the size of the namespace.
func (s *Service) Count(ctx context.Context) (int64, error) {
	return s.index.Count(ctx, s.namespace)
}
