package transport

import (
	"context"
	"encoding/json"
	"os"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"

	"github.com/utkarsh5026/bulkload/internal/protocol"
)

// ExecutorFactory builds the executor for worker id. It plays the part of the
// worker's startup: a failure ends the worker before it ever connects.
type ExecutorFactory func(ctx context.Context, id int) (Executor, error)

// InProcess runs each worker as a goroutine in the coordinator.
type InProcess struct {
	factory   ExecutorFactory
	queueSize int
}

// NewInProcess returns a spawner whose workers are built by factory.
func NewInProcess(factory ExecutorFactory) *InProcess {
	return &InProcess{factory: factory, queueSize: 1024}
}

func (s *InProcess) Spawn(_ context.Context, id int, ev Events) (Conn, error) {
	if s.factory == nil {
		return nil, errors.New("in-process spawner has no executor factory")
	}
	ctx, cancel := context.WithCancel(context.Background())
	c := &inProcessConn{
		requests: make(chan protocol.Request, s.queueSize),
		cancel:   cancel,
		done:     make(chan struct{}),
		ev:       ev,
	}
	go c.run(ctx, id, s.factory)
	return c, nil
}

type inProcessConn struct {
	requests  chan protocol.Request
	cancel    context.CancelFunc
	done      chan struct{}
	ev        Events
	connected atomic.Bool

	mu     sync.Mutex
	closed bool
}

func (c *inProcessConn) run(ctx context.Context, id int, factory ExecutorFactory) {
	status := ExitStatus{}
	defer func() {
		c.connected.Store(false)
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()
		close(c.done)
		c.ev.exit(status)
	}()

	exec, err := factory(ctx, id)
	if err != nil {
		status = ExitStatus{Code: 1, Err: err}
		return
	}

	c.connected.Store(true)
	c.ev.ready()

	switch err := exec.Serve(ctx, c.requests, c.reply); {
	case err == nil:
	case errors.Is(err, context.Canceled) && ctx.Err() != nil:
		status = ExitStatus{Code: -1, Signal: "killed"}
	default:
		status = ExitStatus{Code: 1, Err: err}
	}
}

func (c *inProcessConn) reply(resp protocol.Response) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	c.ev.message(resp)
	return nil
}

func (c *inProcessConn) Send(ctx context.Context, req protocol.Request) error {
	if !c.connected.Load() {
		return ErrNotConnected
	}
	// The worker gets its own copy of the payload, as it would across a pipe.
	req.Items = append(json.RawMessage(nil), req.Items...)
	select {
	case c.requests <- req:
		return nil
	case <-ctx.Done():
		return errors.WithStack(ctx.Err())
	case <-c.done:
		return ErrNotConnected
	}
}

func (c *inProcessConn) Connected() bool {
	return c.connected.Load()
}

func (c *inProcessConn) Kill() error {
	c.connected.Store(false)
	c.cancel()
	return nil
}

// PID is the coordinator's own pid; in-process workers share it.
func (c *inProcessConn) PID() int {
	return os.Getpid()
}
