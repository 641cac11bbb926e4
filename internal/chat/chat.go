// Package chat orchestrates the answer pipeline: retrieve, filter, rerank,
// assemble the prompt, generate, and persist the exchange.
package chat

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/yuvabe/care-companion/internal/embed"
	"github.com/yuvabe/care-companion/internal/history"
	"github.com/yuvabe/care-companion/internal/llm"
	"github.com/yuvabe/care-companion/internal/log"
	"github.com/yuvabe/care-companion/internal/prompt"
	"github.com/yuvabe/care-companion/internal/rerank"
	"github.com/yuvabe/care-companion/internal/vecindex"
)

// minQueryRunes guards against questions too short to retrieve anything
// meaningful for.
const minQueryRunes = 5

// shortQueryReply answers under-length questions without running the
// pipeline.
const shortQueryReply = "Your question seems too short. Please provide more details so I can assist you better."

// fallbackReply is returned when generation keeps failing. It must never
// leak provider errors to the user.
const fallbackReply = "I'm sorry, I'm unable to answer right now. Please try again in a few moments."

// ErrNoUserTurn indicates the conversation does not end with a user message.
var ErrNoUserTurn = errors.New("conversation must end with a user message")

// Searcher retrieves scored knowledge matches for a query.
type Searcher interface {
	Search(ctx context.Context, query string, topK int) ([]vecindex.Match, error)
}

// Transcript persists conversation turns.
type Transcript interface {
	Append(ctx context.Context, conversationID string, messages []history.Message) error
}

// Config tunes the pipeline.
type Config struct {
	TopK           int
	ScoreThreshold float64
	HistoryBudget  int
	RerankEnabled  bool

	// StepTimeout bounds each I/O step (retrieval, generation including
	// retries, persistence) so a hung provider cannot stall the turn
	// indefinitely. Zero disables the deadline.
	StepTimeout time.Duration
}

// Pipeline answers health questions with retrieved context.
type Pipeline struct {
	searcher   Searcher
	scorer     rerank.Scorer // nil disables reranking regardless of config
	generator  llm.Generator
	transcript Transcript
	logger     log.Logger
	cfg        Config
}

// New wires a pipeline. scorer may be nil when no rerank service is
// deployed.
func New(searcher Searcher, scorer rerank.Scorer, generator llm.Generator,
	transcript Transcript, logger log.Logger, cfg Config) *Pipeline {
	return &Pipeline{
		searcher:   searcher,
		scorer:     scorer,
		generator:  generator,
		transcript: transcript,
		logger:     logger,
		cfg:        cfg,
	}
}

// Reply is the pipeline outcome for one user turn.
type Reply struct {
	ConversationID string
	Content        string
}

// Respond answers the last user message in the conversation. messages must
// end with a user turn; the preceding turns are used as conversation
// history for the prompt.
//
// Failure handling:
//   - embedding failures fall back to a fixed reply; the user's turn is
//     still persisted
//   - index failures degrade to answering without context
//   - generation is retried for transient errors, then falls back to a
//     fixed reply; the user's turn is still persisted
//   - persistence failures are logged but never block the reply
func (p *Pipeline) Respond(ctx context.Context, conversationID string, messages []history.Message) (Reply, error) {
	if len(messages) == 0 || messages[len(messages)-1].Role != history.RoleUser {
		return Reply{}, ErrNoUserTurn
	}
	if conversationID == "" {
		conversationID = uuid.NewString()
	}

	query := messages[len(messages)-1].Content
	prior := messages[:len(messages)-1]
	logger := p.logger.With("conversation_id", conversationID)

	if utf8.RuneCountInString(strings.TrimSpace(query)) < minQueryRunes {
		p.persist(ctx, logger, conversationID, query, shortQueryReply)
		return Reply{ConversationID: conversationID, Content: shortQueryReply}, nil
	}

	contextText, err := p.retrieveContext(ctx, logger, query)
	if err != nil {
		// Without a query embedding there is nothing to look up and no
		// partial result to degrade to. Fall back immediately.
		logger.Error("embedding failed", "error", err)
		p.persist(ctx, logger, conversationID, query, "")
		return Reply{ConversationID: conversationID, Content: fallbackReply}, nil
	}

	generated := prompt.Build(contextText, prior, p.cfg.HistoryBudget, query)
	genCtx, cancelGen := p.stepContext(ctx)
	reply, err := p.generate(genCtx, logger, generated)
	cancelGen()
	if err != nil {
		logger.Error("generation failed, returning fallback", "error", err)
		// Keep the user's turn so the conversation survives the outage.
		p.persist(ctx, logger, conversationID, query, "")
		return Reply{ConversationID: conversationID, Content: fallbackReply}, nil
	}

	p.persist(ctx, logger, conversationID, query, reply)
	return Reply{ConversationID: conversationID, Content: reply}, nil
}

// stepContext bounds one I/O step of the pipeline. A zero StepTimeout
// leaves the caller's context untouched.
func (p *Pipeline) stepContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if p.cfg.StepTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, p.cfg.StepTimeout)
}

// retrieveContext runs retrieval, filtering, and optional reranking. Index
// failures degrade to empty context so the user still gets an answer;
// embedding failures are returned to the caller, which fails the turn.
func (p *Pipeline) retrieveContext(ctx context.Context, logger log.Logger, query string) (string, error) {
	searchCtx, cancel := p.stepContext(ctx)
	defer cancel()
	matches, err := p.searcher.Search(searchCtx, query, p.cfg.TopK)
	switch {
	case errors.Is(err, embed.ErrEmbedFailed), errors.Is(err, embed.ErrEmptyInput),
		errors.Is(err, embed.ErrDimensionMismatch):
		return "", err
	case err != nil:
		logger.Warn("retrieval failed, answering without context", "error", err)
		return "", nil
	}

	relevant := rerank.Filter(matches, p.cfg.ScoreThreshold)
	if len(relevant) == 0 {
		logger.Debug("no matches above threshold",
			"retrieved", len(matches), "threshold", p.cfg.ScoreThreshold)
		return "", nil
	}

	if p.cfg.RerankEnabled && p.scorer != nil && len(relevant) > 1 {
		scored, err := rerank.Rerank(searchCtx, p.scorer, query, relevant)
		if err != nil {
			logger.Warn("rerank failed, keeping retrieval order", "error", err)
		} else {
			relevant = relevant[:0]
			for _, s := range scored {
				relevant = append(relevant, s.Match)
			}
		}
	}

	answers := make([]string, len(relevant))
	for i, m := range relevant {
		answers[i] = m.Answer
	}
	return strings.Join(answers, "\n"), nil
}

// persist appends the exchange to the transcript. An empty reply stores the
// user turn alone.
func (p *Pipeline) persist(ctx context.Context, logger log.Logger, conversationID, query, reply string) {
	turns := []history.Message{{Role: history.RoleUser, Content: query}}
	if reply != "" {
		turns = append(turns, history.Message{Role: history.RoleAssistant, Content: reply})
	}
	appendCtx, cancel := p.stepContext(ctx)
	defer cancel()
	if err := p.transcript.Append(appendCtx, conversationID, turns); err != nil {
		logger.Error("persisting transcript failed", "error", err)
	}
}
