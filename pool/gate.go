package pool

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"golang.org/x/sync/semaphore"
)

// DispatchFunc dispatches one task and returns its future.
type DispatchFunc func(ctx context.Context) (*Future, error)

// Gate bounds the number of outstanding futures. A slot is taken before a
// dispatch and given back once the future completes, whatever its outcome.
type Gate struct {
	sem   *semaphore.Weighted
	limit int
	wg    sync.WaitGroup

	mu       sync.Mutex
	inFlight int
	peak     int
}

// NewGate returns a gate admitting at most limit outstanding tasks. A limit
// below 1 is treated as 1.
func NewGate(limit int) *Gate {
	limit = max(limit, 1)
	return &Gate{
		sem:   semaphore.NewWeighted(int64(limit)),
		limit: limit,
	}
}

// Dispatch waits for a free slot, then calls dispatch. If dispatch fails the
// slot is released and the error returned; otherwise onDone (if non-nil) is
// called with the future's outcome and the slot released after it.
func (g *Gate) Dispatch(ctx context.Context, dispatch DispatchFunc, onDone func(TaskResult, error)) error {
	if err := g.sem.Acquire(ctx, 1); err != nil {
		return errors.WithStack(err)
	}

	future, err := dispatch(ctx)
	if err != nil {
		g.sem.Release(1)
		return err
	}

	g.track(1)
	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		result, _, err := future.Get()
		if onDone != nil {
			onDone(result, err)
		}
		g.track(-1)
		g.sem.Release(1)
	}()
	return nil
}

// Wait blocks until every admitted future has completed and its onDone returned.
func (g *Gate) Wait() {
	g.wg.Wait()
}

// InFlight is the number of outstanding futures.
func (g *Gate) InFlight() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.inFlight
}

// Peak is the highest InFlight ever observed.
func (g *Gate) Peak() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.peak
}

// Limit is the number of outstanding tasks the gate admits.
func (g *Gate) Limit() int {
	return g.limit
}

func (g *Gate) track(delta int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.inFlight += delta
	g.peak = max(g.peak, g.inFlight)
}
