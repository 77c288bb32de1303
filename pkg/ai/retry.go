package ai

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

const maxRetryBackoff = 30 * time.Second

// RetryingCompleter retries transient provider failures with exponential backoff.
type RetryingCompleter struct {
	next       Completer
	maxRetries int
	baseDelay  time.Duration
	sleep      func(context.Context, time.Duration) error
}

// NewRetryingCompleter wraps next. maxRetries <= 0 returns next unchanged.
func NewRetryingCompleter(next Completer, maxRetries int, baseDelay time.Duration) Completer {
	if maxRetries <= 0 {
		return next
	}
	if baseDelay <= 0 {
		baseDelay = 500 * time.Millisecond
	}
	return &RetryingCompleter{
		next:       next,
		maxRetries: maxRetries,
		baseDelay:  baseDelay,
		sleep:      sleepContext,
	}
}

func (r *RetryingCompleter) Complete(ctx context.Context, messages []Message) (Completion, error) {
	var lastErr error
	for attempt := 0; attempt <= r.maxRetries; attempt++ {
		if attempt > 0 {
			delay := backoff(r.baseDelay, attempt)
			slog.Warn("retrying completion", "attempt", attempt, "delay", delay.String(), "err", lastErr)
			if err := r.sleep(ctx, delay); err != nil {
				return Completion{}, lastErr
			}
		}
		out, err := r.next.Complete(ctx, messages)
		if err == nil {
			return out, nil
		}
		lastErr = err
		var perr *ProviderError
		if !errors.As(err, &perr) || !perr.Retryable() {
			return Completion{}, err
		}
	}
	return Completion{}, lastErr
}

func backoff(base time.Duration, attempt int) time.Duration {
	d := base << (attempt - 1)
	if d <= 0 || d > maxRetryBackoff {
		return maxRetryBackoff
	}
	return d
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
