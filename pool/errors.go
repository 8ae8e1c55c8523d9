package pool

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/utkarsh5026/bulkload/internal/protocol"
)

var (
	ErrPoolNotStarted     = errors.New("pool not started")
	ErrPoolStarted        = errors.New("pool already started")
	ErrPoolClosed         = errors.New("pool shut down")
	ErrNoLiveWorkers      = errors.New("no live workers")
	ErrWorkerNotConnected = errors.New("worker not connected")
	ErrTaskTimeout        = errors.New("task timed out")
	ErrWorkerTerminated   = errors.New("worker terminated")
	ErrResourceExhausted  = errors.New("sink resources exhausted")
	ErrShutdownTimeout    = errors.New("error in shutting down: timeout reached")
)

// TaskError is the failure of one dispatched task, either reported by its
// worker or synthesized by the pool.
type TaskError struct {
	ID      string
	Kind    protocol.ErrorKind
	Message string
	Worker  int
	err     error
}

func (e *TaskError) Error() string {
	return fmt.Sprintf("task %s on worker %d failed (%s): %s", e.ID, e.Worker, e.Kind, e.Message)
}

func (e *TaskError) Unwrap() error {
	return e.err
}

// Is matches the pool's sentinel errors by kind.
func (e *TaskError) Is(target error) bool {
	switch target {
	case ErrTaskTimeout:
		return e.Kind == protocol.KindTimeout
	case ErrWorkerTerminated:
		return e.Kind == protocol.KindWorkerTerminated
	case ErrResourceExhausted:
		return e.Kind == protocol.KindResourceExhausted
	}
	return false
}
