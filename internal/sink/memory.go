package sink

import (
	"context"
	"sync"

	"github.com/utkarsh5026/bulkload/internal/protocol"
)

// Memory is an in-process Sink. It backs dry runs and tests.
type Memory struct {
	mu      sync.Mutex
	rows    []protocol.Record
	created bool
	closed  bool

	// OnInsert, if set, runs before every InsertMany; a non-nil return fails the
	// insert without storing anything.
	OnInsert func(records []protocol.Record) error
}

// NewMemory returns an empty in-memory sink.
func NewMemory() *Memory {
	return &Memory{}
}

func (m *Memory) InsertMany(ctx context.Context, records []protocol.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if m.OnInsert != nil {
		if err := m.OnInsert(records); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows = append(m.rows, records...)
	return nil
}

func (m *Memory) Count(context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.rows)), nil
}

func (m *Memory) Truncate(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows = nil
	return nil
}

func (m *Memory) CreateTable(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.created = true
	return nil
}

func (m *Memory) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
}

// Rows returns a copy of everything stored so far.
func (m *Memory) Rows() []protocol.Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]protocol.Record(nil), m.rows...)
}

// Closed reports whether Close has been called.
func (m *Memory) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}
