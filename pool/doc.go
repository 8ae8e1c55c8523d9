// Package pool dispatches batches of records to a fixed set of worker
// processes and correlates their asynchronous replies back to the caller.
//
// The primary type is Pool. It spawns its workers through a
// transport.Spawner, selects among the live ones round-robin, and hands the
// caller a Future for every dispatched batch. Each Future completes exactly
// once: with the worker's counts, with the worker's reported error, or with an
// error synthesized by the pool when the task times out or its worker exits.
//
// # Basic Usage
//
//	p, err := pool.Initialize(ctx, spawner,
//	    pool.WithWorkerCount(4),
//	    pool.WithTaskTimeout(5*time.Minute),
//	)
//	if err != nil {
//	    return err
//	}
//	defer p.Shutdown(10 * time.Second)
//
//	future, err := p.Dispatch(ctx, records)
//	if err != nil {
//	    return err // nothing was dispatched
//	}
//	result, _, err := future.Get()
//
// # Backpressure
//
// Dispatch never waits for outstanding work to finish. It waits only while the
// chosen worker's inbound queue is full, and no longer than ctx or the task
// timeout allow; a worker whose queue stays full until a task times out is
// killed. Callers that produce batches faster than workers consume them put a
// Gate in front of the pool:
//
//	gate := pool.NewGate(2 * workers)
//	for batch := range batches {
//	    err := gate.Dispatch(ctx, func(ctx context.Context) (*pool.Future, error) {
//	        return p.Dispatch(ctx, batch)
//	    }, onDone)
//	    ...
//	}
//	gate.Wait()
//
// # Failure Semantics
//
// A task whose worker dies is failed with ErrWorkerTerminated and is never
// re-dispatched. A timed-out task is failed with ErrTaskTimeout; the worker
// is left running and any late reply is discarded. Workers are not respawned.
//
// # Configuration Options
//
//   - WithWorkerCount(n): number of workers (default: usable CPUs, at most 8)
//   - WithTaskTimeout(d): per-task deadline (default: 5 minutes)
//   - WithStartupTimeout(d): how long Start waits for workers to connect (default: 30s)
//   - WithRateLimit(perSecond, burst): token bucket in front of Dispatch
//   - WithMetrics(m), WithLogger(l): observability
package pool
