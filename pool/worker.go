package pool

import (
	"sync"

	"github.com/utkarsh5026/bulkload/internal/transport"
)

// worker is the pool's record of one spawned worker. Everything except the
// channels is guarded by the pool mutex.
type worker struct {
	index         int
	conn          transport.Conn
	state         WorkerState
	pid           int
	killRequested bool

	settleOnce sync.Once
	settled    chan struct{} // closed once the worker is Connected or Terminated
	exitOnce   sync.Once
	exited     chan struct{}
}

func newWorker(index int) *worker {
	return &worker{
		index:   index,
		state:   Starting,
		settled: make(chan struct{}),
		exited:  make(chan struct{}),
	}
}

func (w *worker) settle() {
	w.settleOnce.Do(func() { close(w.settled) })
}

func (w *worker) markExited() {
	w.settle()
	w.exitOnce.Do(func() { close(w.exited) })
}

// dispatchable reports whether a task may be sent to w right now.
func (w *worker) dispatchable() bool {
	return w.state == Connected && w.conn != nil && w.conn.Connected()
}
