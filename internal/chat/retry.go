package chat

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"

	"github.com/yuvabe/care-companion/internal/history"
	"github.com/yuvabe/care-companion/internal/llm"
	"github.com/yuvabe/care-companion/internal/log"
)

const (
	// generateAttempts bounds generation tries: one call plus two retries.
	generateAttempts = 3

	// generateBackoff is the initial retry delay; retry-go doubles it per
	// attempt.
	generateBackoff = 500 * time.Millisecond
)

// generate calls the generator with bounded, transient-only retries.
func (p *Pipeline) generate(ctx context.Context, logger log.Logger, messages []history.Message) (string, error) {
	return retry.DoWithData(
		func() (string, error) {
			return p.generator.Generate(ctx, messages)
		},
		retry.Context(ctx),
		retry.Attempts(generateAttempts),
		retry.Delay(generateBackoff),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(retryable),
		retry.OnRetry(func(attempt uint, err error) {
			logger.Warn("retrying generation", "attempt", attempt+1, "error", err)
		}),
	)
}

// retryable reports whether a generation error is worth another attempt.
// Auth failures and malformed responses are deterministic and are not
// retried.
func retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, llm.ErrAuth) || errors.Is(err, llm.ErrMalformedResponse) || errors.Is(err, llm.ErrNoMessages) {
		return false
	}
	if errors.Is(err, llm.ErrRateLimited) {
		return true
	}
	if errors.Is(err, llm.ErrGenerateFailed) {
		return true
	}
	return containsAny(err.Error(),
		"timeout", "connection reset", "temporary", "unavailable",
		"500", "502", "503", "504")
}

// containsAny reports whether s contains any substring, case-insensitively.
func containsAny(s string, substrs ...string) bool {
	lower := strings.ToLower(s)
	for _, sub := range substrs {
		if strings.Contains(lower, sub) {
			return true
		}
	}
	return false
}
