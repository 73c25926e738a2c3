package corosql

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// attemptBackoff builds the jittered exponential backoff the Runner may
// wait between transaction attempts. It is bounded by maxAttempts via
// backoff.WithMaxRetries so it can never run past the attempt count the
// caller asked for (spec.md §4.F's retry policy note).
func attemptBackoff(ctx context.Context, maxAttempts int) backoff.BackOffContext {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 10 * time.Millisecond
	b.MaxInterval = 500 * time.Millisecond
	if maxAttempts > 0 {
		return backoff.WithContext(backoff.WithMaxRetries(b, uint64(maxAttempts-1)), ctx)
	}
	return backoff.WithContext(b, ctx)
}

// waitBackoff sleeps for one backoff tick, or returns false once the
// backoff is exhausted or ctx is done.
func waitBackoff(ctx context.Context, b backoff.BackOffContext) bool {
	d := b.NextBackOff()
	if d == backoff.Stop {
		return false
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
