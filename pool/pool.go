package pool

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/utkarsh5026/bulkload/internal/metrics"
	"github.com/utkarsh5026/bulkload/internal/protocol"
	"github.com/utkarsh5026/bulkload/internal/transport"
	"github.com/utkarsh5026/bulkload/internal/types"
)

// Pool owns a fixed set of workers and the table of tasks dispatched to them.
type Pool struct {
	spawner transport.Spawner
	cfg     poolConfig
	logger  *log.Entry

	started       atomic.Bool
	shutdown      atomic.Bool
	taskIDCounter atomic.Int64

	// mu guards the table, the workers' state and the rotation.
	mu      sync.Mutex
	table   *correlationTable
	workers []*worker
	live    []*worker
	next    int
}

// New creates an unstarted pool. Call Start to spawn its workers.
func New(spawner transport.Spawner, opts ...PoolOption) *Pool {
	cfg := createConfig(opts...)
	return &Pool{
		spawner: spawner,
		cfg:     cfg,
		logger:  cfg.logger,
		table:   newCorrelationTable(),
	}
}

// Initialize creates a pool and starts it. On failure every worker that was
// spawned has already been shut down.
func Initialize(ctx context.Context, spawner transport.Spawner, opts ...PoolOption) (*Pool, error) {
	p := New(spawner, opts...)
	if err := p.Start(ctx); err != nil {
		if shutdownErr := p.Shutdown(p.cfg.startupTimeout); shutdownErr != nil {
			p.logger.WithError(shutdownErr).Warn("shutting down after failed start")
		}
		return nil, err
	}
	return p, nil
}

// Start spawns the workers and waits until each has connected or exited. A
// worker still starting after the startup timeout is killed. Start fails with
// ErrNoLiveWorkers if no worker connected.
func (p *Pool) Start(ctx context.Context) error {
	if !p.started.CompareAndSwap(false, true) {
		return ErrPoolStarted
	}

	for i := range p.cfg.workerCount {
		p.spawnWorker(ctx, i)
	}

	deadline := time.NewTimer(p.cfg.startupTimeout)
	defer deadline.Stop()

	p.mu.Lock()
	workers := append([]*worker(nil), p.workers...)
	p.mu.Unlock()

wait:
	for _, w := range workers {
		select {
		case <-w.settled:
		case <-deadline.C:
			break wait
		case <-ctx.Done():
			return errors.WithStack(ctx.Err())
		}
	}

	for _, w := range workers {
		p.mu.Lock()
		stuck := w.state == Starting && w.conn != nil
		if stuck {
			w.killRequested = true
		}
		p.mu.Unlock()
		if stuck {
			p.logger.WithField("worker", w.index).Warnf("worker not ready after %s; killing it", p.cfg.startupTimeout)
			_ = w.conn.Kill()
		}
	}

	stats := p.Stats()
	connected := 0
	for _, s := range stats.States {
		if s == Connected {
			connected++
		}
	}
	if connected == 0 {
		return ErrNoLiveWorkers
	}

	p.logger.Infof("pool started with %d of %d workers connected", connected, p.cfg.workerCount)
	return nil
}

func (p *Pool) spawnWorker(ctx context.Context, index int) {
	w := newWorker(index)
	p.mu.Lock()
	p.workers = append(p.workers, w)
	p.mu.Unlock()

	conn, err := p.spawner.Spawn(ctx, index, p.events(w))
	if err != nil {
		p.logger.WithError(err).WithField("worker", index).Error("failed to spawn worker")
		p.mu.Lock()
		w.state = Terminated
		p.mu.Unlock()
		w.markExited()
		return
	}

	p.mu.Lock()
	w.conn = conn
	w.pid = conn.PID()
	// The worker may already have exited, in which case it never joins the rotation.
	if w.state != Terminated {
		p.live = append(p.live, w)
	}
	live := len(p.live)
	pid := w.pid
	p.mu.Unlock()
	p.cfg.metrics.SetLiveWorkers(live)

	p.logger.WithFields(log.Fields{"worker": index, "pid": pid}).Debug("worker spawned")
}

func (p *Pool) events(w *worker) transport.Events {
	return transport.Events{
		OnReady:   func() { p.onReady(w) },
		OnMessage: func(resp protocol.Response) { p.onMessage(w, resp) },
		OnError:   func(err error) { p.onError(w, err) },
		OnExit:    func(status transport.ExitStatus) { p.onExit(w, status) },
	}
}

// Dispatch sends batch to the next live worker and returns a Future for its
// outcome. An error return means nothing was dispatched.
func (p *Pool) Dispatch(ctx context.Context, batch []protocol.Record) (*Future, error) {
	if !p.started.Load() {
		return nil, ErrPoolNotStarted
	}
	if p.shutdown.Load() {
		return nil, ErrPoolClosed
	}

	if p.cfg.rateLimiter != nil {
		if err := p.cfg.rateLimiter.Wait(ctx); err != nil {
			return nil, errors.WithStack(err)
		}
	} else if err := ctx.Err(); err != nil {
		return nil, errors.WithStack(err)
	}

	id := strconv.FormatInt(p.taskIDCounter.Add(1), 10)
	req, err := protocol.NewRequest(id, batch)
	if err != nil {
		return nil, errors.Wrap(err, "encoding batch")
	}

	p.mu.Lock()
	w := p.selectWorker()
	if w == nil {
		p.mu.Unlock()
		return nil, ErrNoLiveWorkers
	}
	if !w.dispatchable() {
		p.mu.Unlock()
		return nil, &TaskError{
			ID:      id,
			Kind:    protocol.KindTransport,
			Message: fmt.Sprintf("worker %d is %s", w.index, w.state),
			Worker:  w.index,
			err:     ErrWorkerNotConnected,
		}
	}

	entry := &pendingEntry{
		id:           id,
		owner:        w,
		size:         len(batch),
		future:       types.NewFuture[TaskResult, string](),
		dispatchedAt: time.Now(),
	}
	entry.timer = time.AfterFunc(p.cfg.taskTimeout, func() { p.onTimeout(id) })
	p.table.insert(entry)
	pending := p.table.len()
	p.mu.Unlock()

	p.cfg.metrics.RecordDispatch()
	p.cfg.metrics.SetPending(pending)

	if err := p.send(ctx, w, entry, req); err != nil {
		p.mu.Lock()
		taken := p.table.take(id)
		p.mu.Unlock()
		switch {
		case taken != nil:
			p.resolve(taken, TaskResult{}, &TaskError{
				ID:      id,
				Kind:    protocol.KindTransport,
				Message: err.Error(),
				Worker:  w.index,
				err:     err,
			})
		case ctx.Err() == nil && errors.Is(err, context.Canceled):
			// The task timed out before the worker accepted it.
			p.abandonWorker(w)
		}
	}

	return entry.future, nil
}

// send hands req to w, giving up when ctx is done or the entry is resolved
// first, typically by its timeout.
func (p *Pool) send(ctx context.Context, w *worker, entry *pendingEntry, req protocol.Request) error {
	sendCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-entry.future.Done():
			cancel()
		case <-sendCtx.Done():
		}
	}()
	return w.conn.Send(sendCtx, req)
}

// abandonWorker kills a worker that stopped taking requests. Its exit event
// fails whatever it still owns.
func (p *Pool) abandonWorker(w *worker) {
	p.mu.Lock()
	if w.state == Terminated {
		p.mu.Unlock()
		return
	}
	w.state = Disconnected
	p.mu.Unlock()

	p.logger.WithField("worker", w.index).Warn("worker is not reading requests; killing it")
	if err := w.conn.Kill(); err != nil {
		p.logger.WithError(err).WithField("worker", w.index).Warn("failed to kill worker")
	}
}

// selectWorker advances the rotation. Caller holds p.mu.
func (p *Pool) selectWorker() *worker {
	if len(p.live) == 0 {
		return nil
	}
	if p.next >= len(p.live) {
		p.next = 0
	}
	w := p.live[p.next]
	p.next++
	return w
}

// removeLive drops w from the rotation without skipping the worker the
// pointer was about to return. Caller holds p.mu.
func (p *Pool) removeLive(w *worker) {
	for i, candidate := range p.live {
		if candidate != w {
			continue
		}
		p.live = append(p.live[:i], p.live[i+1:]...)
		if i < p.next {
			p.next--
		}
		return
	}
}

func (p *Pool) onReady(w *worker) {
	p.mu.Lock()
	if w.state == Starting {
		w.state = Connected
	}
	p.mu.Unlock()
	w.settle()
	p.logger.WithField("worker", w.index).Debug("worker connected")
}

func (p *Pool) onError(w *worker, err error) {
	p.mu.Lock()
	if w.state != Terminated {
		w.state = Disconnected
	}
	p.mu.Unlock()
	p.logger.WithError(err).WithField("worker", w.index).Error("worker channel error")
}

func (p *Pool) onMessage(w *worker, resp protocol.Response) {
	if resp.Ready {
		return
	}

	p.mu.Lock()
	entry, foreign := p.table.takeFrom(resp.ID, w)
	pending := p.table.len()
	p.mu.Unlock()

	if entry == nil {
		p.cfg.metrics.RecordDiscardedResponse()
		logger := p.logger.WithFields(log.Fields{"worker": w.index, "task": resp.ID})
		if foreign {
			logger.Warn("discarding response for a task assigned to another worker")
		} else {
			logger.Debug("discarding response for unknown or already resolved task")
		}
		return
	}
	p.cfg.metrics.SetPending(pending)

	if resp.IsError() {
		kind := resp.Kind
		if kind == "" {
			kind = protocol.KindExecution
		}
		p.resolve(entry, TaskResult{}, &TaskError{ID: entry.id, Kind: kind, Message: resp.Error, Worker: w.index})
		return
	}

	processed, skipped := resp.Counts()
	if resp.ProcessedCount == nil || resp.SkippedCount == nil ||
		processed < 0 || skipped < 0 || processed+skipped != entry.size {
		p.resolve(entry, TaskResult{}, &TaskError{
			ID:      entry.id,
			Kind:    protocol.KindProtocol,
			Message: fmt.Sprintf("worker reported %d processed + %d skipped for a batch of %d", processed, skipped, entry.size),
			Worker:  w.index,
		})
		return
	}

	p.resolve(entry, TaskResult{ID: entry.id, Worker: w.index, Processed: processed, Skipped: skipped}, nil)
}

func (p *Pool) onTimeout(id string) {
	p.mu.Lock()
	entry := p.table.take(id)
	pending := p.table.len()
	p.mu.Unlock()

	if entry == nil {
		return
	}
	p.cfg.metrics.SetPending(pending)
	p.logger.WithFields(log.Fields{"worker": entry.owner.index, "task": id}).
		Warnf("task timed out after %s", p.cfg.taskTimeout)

	p.resolve(entry, TaskResult{}, &TaskError{
		ID:      id,
		Kind:    protocol.KindTimeout,
		Message: fmt.Sprintf("no response within %s", p.cfg.taskTimeout),
		Worker:  entry.owner.index,
	})
}

func (p *Pool) onExit(w *worker, status transport.ExitStatus) {
	p.mu.Lock()
	w.state = Terminated
	p.removeLive(w)
	owned := p.table.takeOwnedBy(w)
	live := len(p.live)
	pending := p.table.len()
	expected := w.killRequested
	pid := w.pid
	p.mu.Unlock()

	w.markExited()
	p.cfg.metrics.SetLiveWorkers(live)
	p.cfg.metrics.SetPending(pending)
	p.cfg.metrics.RecordWorkerExit(expected)

	logger := p.logger.WithFields(log.Fields{"worker": w.index, "pid": pid, "status": status.String()})
	if expected {
		logger.Debug("worker exited")
	} else {
		logger.Warnf("worker exited unexpectedly with %d tasks in flight", len(owned))
	}

	for _, entry := range owned {
		p.resolve(entry, TaskResult{}, &TaskError{
			ID:      entry.id,
			Kind:    protocol.KindWorkerTerminated,
			Message: fmt.Sprintf("worker %d exited with %s", w.index, status),
			Worker:  w.index,
		})
	}
}

// resolve completes an entry that the caller has already taken out of the table.
func (p *Pool) resolve(entry *pendingEntry, result TaskResult, err error) {
	entry.timer.Stop()
	if !entry.future.Complete(result, entry.id, err) {
		return
	}

	outcome := metrics.OutcomeSuccess
	var taskErr *TaskError
	if errors.As(err, &taskErr) {
		outcome = string(taskErr.Kind)
	} else if err != nil {
		outcome = string(protocol.KindExecution)
	}
	p.cfg.metrics.RecordOutcome(outcome, time.Since(entry.dispatchedAt))
	if err == nil {
		p.cfg.metrics.RecordRows(result.Processed, result.Skipped)
	}
}

// Shutdown kills every worker that is still running and waits for them to
// exit. Tasks still pending are failed by the exit path, not by Shutdown.
// A timeout of 0 waits forever.
func (p *Pool) Shutdown(timeout time.Duration) error {
	if !p.started.Load() {
		return ErrPoolNotStarted
	}
	if !p.shutdown.CompareAndSwap(false, true) {
		return ErrPoolClosed
	}

	p.mu.Lock()
	var toKill []*worker
	exited := make([]<-chan struct{}, 0, len(p.workers))
	for _, w := range p.workers {
		exited = append(exited, w.exited)
		if w.state != Terminated && w.conn != nil {
			w.killRequested = true
			toKill = append(toKill, w)
		}
	}
	p.mu.Unlock()

	for _, w := range toKill {
		if err := w.conn.Kill(); err != nil {
			p.logger.WithError(err).WithField("worker", w.index).Warn("failed to kill worker")
		}
	}

	return waitUntil(allClosed(exited), timeout)
}

// Stats reports the current worker states and the number of pending tasks.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()

	states := make(map[int]WorkerState, len(p.workers))
	for _, w := range p.workers {
		states[w.index] = w.state
	}
	return Stats{
		Live:    len(p.live),
		Pending: p.table.len(),
		States:  states,
	}
}

// WorkerCount returns the configured number of workers.
func (p *Pool) WorkerCount() int {
	return p.cfg.workerCount
}
