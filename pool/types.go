package pool

import (
	"github.com/utkarsh5026/bulkload/internal/types"
)

// TaskResult is the outcome of a successful task. Processed+Skipped equals the
// size of the dispatched batch.
type TaskResult struct {
	ID        string
	Worker    int
	Processed int
	Skipped   int
}

// Future resolves to the TaskResult of one dispatched batch, keyed by task id.
type Future = types.Future[TaskResult, string]

// WorkerState is the lifecycle of a worker as seen by the pool.
type WorkerState int

const (
	Starting WorkerState = iota
	Connected
	Disconnected
	Terminated
)

func (s WorkerState) String() string {
	switch s {
	case Starting:
		return "starting"
	case Connected:
		return "connected"
	case Disconnected:
		return "disconnected"
	case Terminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// Stats is a point-in-time view of the pool.
type Stats struct {
	// Live is the number of workers eligible for selection.
	Live int
	// Pending is the number of dispatched, unresolved tasks.
	Pending int
	States  map[int]WorkerState
}
