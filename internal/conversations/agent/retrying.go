package agent

import (
	"context"
	"errors"
	"time"

	"chatfunnel_backend/platform/logger"

	"github.com/sethvargo/go-retry"
)

// DefaultAttempts is the total number of tries before falling back.
const DefaultAttempts = 3

// Retrying retries transient failures with exponential backoff and substitutes
// the fallback reply once attempts are exhausted or the error is permanent.
type Retrying struct {
	next      Generator
	attempts  uint64
	baseDelay time.Duration
	log       *logger.Logger
}

// NewRetrying wraps next. baseDelay is the first backoff step.
func NewRetrying(next Generator, baseDelay time.Duration, log *logger.Logger) *Retrying {
	if baseDelay <= 0 {
		baseDelay = 2 * time.Second
	}
	return &Retrying{next: next, attempts: DefaultAttempts, baseDelay: baseDelay, log: log}
}

// Generate never surfaces generation errors; only a cancelled context does.
func (r *Retrying) Generate(ctx context.Context, req Request) (Reply, error) {
	backoff := retry.WithMaxRetries(r.attempts-1, retry.NewExponential(r.baseDelay))

	attempt := 0
	reply, err := retry.DoValue(ctx, backoff, func(ctx context.Context) (Reply, error) {
		attempt++
		reply, err := r.next.Generate(ctx, req)
		if err == nil {
			return reply, nil
		}
		r.log.WithContext(ctx).Warn("reply generation attempt failed", "attempt", attempt, "error", err)
		if errors.Is(err, ErrTransient) {
			return Reply{}, retry.RetryableError(err)
		}
		return Reply{}, err
	})
	if err == nil {
		return reply, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return Reply{}, ctxErr
	}

	r.log.WithContext(ctx).Error("reply generation exhausted, using fallback", "attempts", attempt, "error", err)
	return FallbackReply(err), nil
}
