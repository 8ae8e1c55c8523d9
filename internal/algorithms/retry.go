package algorithms

import (
	"context"
	"time"
)

// Retry calls fn up to maxAttempts times, sleeping between attempts as the
// strategy dictates. It stops early when fn succeeds, when retryable reports the
// error as permanent, or when ctx is done. The last error from fn is returned.
//
// onRetry, if non-nil, is called before each sleep with the upcoming attempt
// number (1-indexed) and the error that caused it.
func Retry(
	ctx context.Context,
	maxAttempts int,
	strategy BackoffStrategy,
	retryable func(error) bool,
	onRetry func(attempt int, delay time.Duration, err error),
	fn func(ctx context.Context) error,
) error {
	maxAttempts = max(maxAttempts, 1)
	strategy.Reset()

	var err error
	for attempt := range maxAttempts {
		if err = fn(ctx); err == nil {
			return nil
		}
		if retryable != nil && !retryable(err) {
			return err
		}
		if attempt == maxAttempts-1 {
			break
		}

		delay := strategy.NextDelay(attempt, err)
		if onRetry != nil {
			onRetry(attempt+1, delay, err)
		}

		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
	}
	return err
}
