package storage

import (
	"context"
	"math/rand/v2"
	"time"
)

// Write paths that contend on the same rows retry on serialization
// failures and deadlocks:
//
//   - UpsertVerses: concurrent admin imports touching the same
//     (book, chapter, verse) keys.
//   - UpdateProblemAdvice: a regeneration racing a second regeneration.
//   - UpdatePlanItem: read/unread toggles from several clients.
//
// Inserts of new problems, plans and feedback do not retry; their
// conflicts are unique violations that map to ErrConflict instead.
const (
	writeRetries      = 3
	defaultRetryDelay = 25 * time.Millisecond
)

// isRetriable returns true for Postgres error codes that indicate a transient conflict.
func isRetriable(err error) bool {
	switch pgCode(err) {
	case "40001": // serialization_failure
		return true
	case "40P01": // deadlock_detected
		return true
	default:
		return false
	}
}

// retryWrite runs one of the write paths above with the default policy and
// logs each retry under op so contention shows up in the server log.
func (db *DB) retryWrite(ctx context.Context, op string, fn func() error) error {
	return retry(ctx, writeRetries, defaultRetryDelay, fn, func(attempt int, err error, wait time.Duration) {
		if db.logger == nil {
			return
		}
		db.logger.Warn("storage: retrying write",
			"op", op,
			"attempt", attempt,
			"wait", wait,
			"pg_code", pgCode(err),
		)
	})
}

// WithRetry executes fn, retrying up to maxRetries times on serialization or deadlock errors.
// Retries use jittered exponential backoff starting at baseDelay.
func WithRetry(ctx context.Context, maxRetries int, baseDelay time.Duration, fn func() error) error {
	return retry(ctx, maxRetries, baseDelay, fn, nil)
}

func retry(ctx context.Context, maxRetries int, baseDelay time.Duration, fn func() error, onRetry func(attempt int, err error, wait time.Duration)) error {
	var err error
	for attempt := range maxRetries + 1 {
		err = fn()
		if err == nil || !isRetriable(err) {
			return err
		}
		if attempt == maxRetries {
			break
		}
		wait := baseDelay + time.Duration(rand.Int64N(int64(baseDelay))) //nolint:gosec // jitter doesn't need crypto-strength randomness
		if onRetry != nil {
			onRetry(attempt+1, err, wait)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
		baseDelay *= 2
	}
	return err
}
