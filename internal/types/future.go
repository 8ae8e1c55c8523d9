package types

import (
	"context"
	"sync"
	"time"
)

// Result pairs a value with the key of the task that produced it.
type Result[R any, K any] struct {
	Value R
	Key   K
	Error error
}

// Future is the pending outcome of a dispatched task. It completes exactly once;
// every later Complete call is ignored and every reader observes the same result.
//
// Type parameters:
//   - R: The result value type
//   - K: The task key type (correlation id)
type Future[R any, K any] struct {
	once   sync.Once
	done   chan struct{}
	result Result[R, K]
}

// NewFuture creates an incomplete future.
func NewFuture[R any, K any]() *Future[R, K] {
	return &Future[R, K]{done: make(chan struct{})}
}

// Complete resolves the future. It reports whether this call was the one that
// resolved it.
func (f *Future[R, K]) Complete(value R, key K, err error) bool {
	completed := false
	f.once.Do(func() {
		f.result = Result[R, K]{Value: value, Key: key, Error: err}
		close(f.done)
		completed = true
	})
	return completed
}

// Get blocks until the future completes.
func (f *Future[R, K]) Get() (R, K, error) {
	<-f.done
	return f.result.Value, f.result.Key, f.result.Error
}

// GetWithContext blocks until the future completes or ctx is done. A cancelled
// wait does not affect the future; it can still be read later.
func (f *Future[R, K]) GetWithContext(ctx context.Context) (R, K, error) {
	select {
	case <-f.done:
		return f.result.Value, f.result.Key, f.result.Error
	case <-ctx.Done():
		var zeroR R
		var zeroK K
		return zeroR, zeroK, ctx.Err()
	}
}

// GetWithTimeout is GetWithContext with a deadline of now+timeout.
func (f *Future[R, K]) GetWithTimeout(timeout time.Duration) (R, K, error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return f.GetWithContext(ctx)
}

// TryGet returns the result without blocking. ready is false if the future is
// still pending.
func (f *Future[R, K]) TryGet() (value R, key K, err error, ready bool) {
	select {
	case <-f.done:
		return f.result.Value, f.result.Key, f.result.Error, true
	default:
		return value, key, nil, false
	}
}

// Done returns a channel closed once the future completes.
func (f *Future[R, K]) Done() <-chan struct{} {
	return f.done
}

// IsReady reports whether the future has completed.
func (f *Future[R, K]) IsReady() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}
