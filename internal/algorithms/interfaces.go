package algorithms

import "time"

// BackoffStrategy computes the wait before a retry.
type BackoffStrategy interface {
	// NextDelay returns the delay before retry number attemptNumber (0-indexed).
	// lastError is the failure that triggered the retry.
	NextDelay(attemptNumber int, lastError error) time.Duration

	// Reset clears any per-sequence state.
	Reset()
}
