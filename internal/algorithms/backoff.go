package algorithms

import (
	"math/rand"
	"sync"
	"time"
)

const (
	maxShift = 62 // 1<<63 overflows int64
)

// jitteredBackoff is exponential backoff scaled by a random factor in
// [1-jitterFactor, 1+jitterFactor], capped at maxDelay.
type jitteredBackoff struct {
	initialDelay, maxDelay time.Duration
	jitterFactor           float64
	rng                    *rand.Rand
	mu                     sync.Mutex // rand.Rand is not safe for concurrent use
}

func newJitteredBackoff(initialDelay, maxDelay time.Duration, jitterFactor float64) *jitteredBackoff {
	return &jitteredBackoff{
		initialDelay: initialDelay,
		maxDelay:     maxDelay,
		jitterFactor: clamp(jitterFactor, 0, 1),
		rng:          rand.New(rand.NewSource(time.Now().UnixNano())), // #nosec G404 -- jitter only
	}
}

func (jb *jitteredBackoff) NextDelay(attemptNumber int, _ error) time.Duration {
	if attemptNumber < 0 {
		return 0
	}

	base := calcExponentialDelay(attemptNumber, jb.initialDelay, jb.maxDelay)

	jb.mu.Lock()
	multiplier := 1.0 + (jb.rng.Float64()*2-1)*jb.jitterFactor
	jb.mu.Unlock()

	return clamp(time.Duration(float64(base)*multiplier), 0, jb.maxDelay)
}

func (jb *jitteredBackoff) Reset() {}

// exponentialBackoff waits initialDelay * 2^attempt, capped at maxDelay.
type exponentialBackoff struct {
	initialDelay time.Duration
	maxDelay     time.Duration
}

func newExponentialBackoff(initialDelay, maxDelay time.Duration) *exponentialBackoff {
	return &exponentialBackoff{
		initialDelay: initialDelay,
		maxDelay:     maxDelay,
	}
}

func (eb *exponentialBackoff) NextDelay(attemptNumber int, _ error) time.Duration {
	return calcExponentialDelay(attemptNumber, eb.initialDelay, eb.maxDelay)
}

func (eb *exponentialBackoff) Reset() {}

func calcExponentialDelay(attemptNumber int, initialDelay, maxDelay time.Duration) time.Duration {
	if attemptNumber < 0 {
		return 0
	}
	if attemptNumber >= maxShift {
		return maxDelay
	}

	delay := time.Duration(int64(1)<<uint(attemptNumber)) * initialDelay
	if delay > maxDelay || delay < 0 {
		return maxDelay
	}
	return delay
}

func clamp[T ~int64 | ~float64](v, lo, hi T) T {
	return min(max(v, lo), hi)
}
