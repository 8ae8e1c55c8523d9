// Package transport starts workers and carries protocol messages to and from
// them. Two transports exist: child OS processes speaking JSON lines over
// stdio, and goroutines inside the coordinator.
package transport

import (
	"context"
	"fmt"

	"github.com/pkg/errors"

	"github.com/utkarsh5026/bulkload/internal/protocol"
)

// WorkerIDEnv names the environment variable a child worker reads its index from.
const WorkerIDEnv = "BULKLOAD_WORKER_ID"

var (
	ErrNotConnected = errors.New("worker is not connected")
	ErrClosed       = errors.New("worker connection closed")
)

// ExitStatus describes how a worker ended.
type ExitStatus struct {
	Code   int
	Signal string
	Err    error
}

func (s ExitStatus) String() string {
	switch {
	case s.Signal != "":
		return "signal " + s.Signal
	case s.Err != nil:
		return fmt.Sprintf("code %d (%v)", s.Code, s.Err)
	default:
		return fmt.Sprintf("code %d", s.Code)
	}
}

// Events are the callbacks a transport invokes for one worker. They may run
// on any goroutine. OnExit runs exactly once, after the last OnMessage.
type Events struct {
	OnReady   func()
	OnMessage func(protocol.Response)
	OnError   func(error)
	OnExit    func(ExitStatus)
}

func (ev Events) ready() {
	if ev.OnReady != nil {
		ev.OnReady()
	}
}

func (ev Events) message(r protocol.Response) {
	if ev.OnMessage != nil {
		ev.OnMessage(r)
	}
}

func (ev Events) error(err error) {
	if ev.OnError != nil {
		ev.OnError(err)
	}
}

func (ev Events) exit(s ExitStatus) {
	if ev.OnExit != nil {
		ev.OnExit(s)
	}
}

// Conn is the coordinator's handle on a running worker.
type Conn interface {
	// Send hands a request to the worker. It waits only while the worker's
	// inbound queue is full and gives up when ctx is done, in which case the
	// request was not queued. It fails if the worker is not connected.
	Send(ctx context.Context, req protocol.Request) error
	Connected() bool
	// Kill terminates the worker; OnExit follows.
	Kill() error
	PID() int
}

// Spawner starts workers.
type Spawner interface {
	Spawn(ctx context.Context, id int, ev Events) (Conn, error)
}

// Executor is the worker-side request handler a transport drives.
type Executor interface {
	Serve(ctx context.Context, requests <-chan protocol.Request, reply func(protocol.Response) error) error
}
