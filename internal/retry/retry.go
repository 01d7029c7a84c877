// Package retry runs an operation up to a fixed number of attempts with
// linearly growing delays between them.
//
// The schedule is linear, not exponential: the wait before attempt n is
// n times the base delay, so with the default one second base the waits
// are 2s before the second attempt and 3s before the third. Operations
// guarded here are short interactive RPC calls; sustained outages are the
// circuit breaker's job, so backoff never needs to grow beyond a few
// seconds.
package retry

import (
	"context"
	"log/slog"
	"time"
)

// Defaults applied by Do for zero-value Policy fields.
const (
	DefaultAttempts  = 3
	DefaultBaseDelay = time.Second
)

// Policy describes how an operation is retried. The zero value makes
// three attempts with a one second base delay and retries every error.
type Policy struct {
	// Attempts is the total number of tries, including the first (default 3).
	Attempts int

	// BaseDelay is the backoff unit (default 1s). The wait before
	// attempt n is n times this value.
	BaseDelay time.Duration

	// Classify reports whether an error is worth another attempt.
	// Errors it rejects propagate immediately. Nil retries everything.
	Classify func(error) bool

	// Logger for per-attempt diagnostics. Uses slog.Default() if nil.
	Logger *slog.Logger
}

// Do runs op until it succeeds, a terminal error occurs, attempts are
// exhausted, or ctx is cancelled during a backoff wait. On exhaustion the
// last error op produced is returned.
func (p Policy) Do(ctx context.Context, op func(context.Context) error) error {
	attempts := p.Attempts
	if attempts <= 0 {
		attempts = DefaultAttempts
	}
	base := p.BaseDelay
	if base <= 0 {
		base = DefaultBaseDelay
	}
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			if !sleepCtx(ctx, time.Duration(attempt)*base) {
				return ctx.Err()
			}
		}

		err = op(ctx)
		if err == nil {
			if attempt > 1 {
				logger.Info("operation succeeded after retry", "attempts", attempt)
			}
			return nil
		}

		if p.Classify != nil && !p.Classify(err) {
			logger.Debug("terminal error, not retrying",
				"attempt", attempt,
				"error", err,
			)
			return err
		}

		if attempt < attempts {
			logger.Debug("attempt failed, retrying",
				"attempt", attempt,
				"max_attempts", attempts,
				"next_delay", (time.Duration(attempt+1) * base).String(),
				"error", err,
			)
		}
	}

	logger.Debug("attempts exhausted", "attempts", attempts, "error", err)
	return err
}

// sleepCtx sleeps for d or until ctx is cancelled. Returns false if cancelled.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
