package algorithms

import "time"

// BackoffType selects a retry backoff algorithm.
type BackoffType int

const (
	// BackoffExponential doubles the delay on every attempt (default).
	BackoffExponential BackoffType = iota
	// BackoffJittered randomizes each exponential delay by ±jitterFactor so
	// workers that start together do not reconnect in lockstep.
	BackoffJittered
)

// NewBackoffStrategy builds the strategy for backoffType.
func NewBackoffStrategy(
	backoffType BackoffType,
	initialDelay, maxDelay time.Duration,
	jitterFactor float64,
) BackoffStrategy {
	switch backoffType {
	case BackoffJittered:
		return newJitteredBackoff(initialDelay, maxDelay, jitterFactor)
	default:
		return newExponentialBackoff(initialDelay, maxDelay)
	}
}
