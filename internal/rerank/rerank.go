// Package rerank narrows retrieved matches to relevant context, optionally
// reordering them with a cross-encoder service.
package rerank

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/yuvabe/care-companion/internal/vecindex"
)

// NoRelevantData is the sentinel context used when nothing passes the
// relevance threshold. The generator prompt treats it as "answer from
// general knowledge, do not cite the knowledge base".
const NoRelevantData = "No relevant data found."

// ErrScoreFailed indicates the rerank service call failed. Callers fall
// back to retrieval order.
var ErrScoreFailed = errors.New("rerank scoring failed")

// Filter keeps the matches whose retrieval similarity meets the threshold.
// The comparison is inclusive: a match scoring exactly the threshold stays.
// Relative order is preserved.
func Filter(matches []vecindex.Match, threshold float64) []vecindex.Match {
	kept := make([]vecindex.Match, 0, len(matches))
	for _, m := range matches {
		if m.Score >= threshold {
			kept = append(kept, m)
		}
	}
	return kept
}

// Scored pairs a match with its cross-encoder score. The retrieval Score
// inside Match is untouched; the two scales are not comparable.
type Scored struct {
	vecindex.Match
	RerankScore float64
}

// Scorer assigns a relevance score to each document for a query. The result
// slice is positional: scores[i] belongs to documents[i].
type Scorer interface {
	Score(ctx context.Context, query string, documents []string) ([]float64, error)
}

// Rerank reorders matches by cross-encoder score, best first. It never adds
// or drops matches; ties keep their original relative order.
func Rerank(ctx context.Context, scorer Scorer, query string, matches []vecindex.Match) ([]Scored, error) {
	if len(matches) == 0 {
		return nil, nil
	}

	documents := make([]string, len(matches))
	for i, m := range matches {
		documents[i] = m.Question + "\n" + m.Answer
	}

	scores, err := scorer.Score(ctx, query, documents)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrScoreFailed, err)
	}
	if len(scores) != len(matches) {
		return nil, fmt.Errorf("%w: got %d scores for %d documents",
			ErrScoreFailed, len(scores), len(matches))
	}

	scored := make([]Scored, len(matches))
	for i, m := range matches {
		scored[i] = Scored{Match: m, RerankScore: scores[i]}
	}
	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].RerankScore > scored[j].RerankScore
	})
	return scored, nil
}
