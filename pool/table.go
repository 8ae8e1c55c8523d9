package pool

import (
	"time"
)

// pendingEntry is a dispatched task awaiting its single terminal event.
type pendingEntry struct {
	id           string
	owner        *worker
	size         int
	future       *Future
	timer        *time.Timer
	dispatchedAt time.Time
}

// correlationTable maps task ids to pending entries. Removing an entry is the
// only way to resolve it, so whoever takes it resolves it. Not safe for
// concurrent use; the pool guards it with its mutex.
type correlationTable struct {
	entries map[string]*pendingEntry
}

func newCorrelationTable() *correlationTable {
	return &correlationTable{entries: make(map[string]*pendingEntry)}
}

func (t *correlationTable) insert(e *pendingEntry) {
	t.entries[e.id] = e
}

// take removes and returns the entry for id, or nil if there is none.
func (t *correlationTable) take(id string) *pendingEntry {
	e, ok := t.entries[id]
	if !ok {
		return nil
	}
	delete(t.entries, id)
	return e
}

// takeFrom is take for a reply sent by w. An entry owned by another worker is
// left in place and reported as foreign.
func (t *correlationTable) takeFrom(id string, w *worker) (e *pendingEntry, foreign bool) {
	e, ok := t.entries[id]
	if !ok {
		return nil, false
	}
	if e.owner != w {
		return nil, true
	}
	delete(t.entries, id)
	return e, false
}

// takeOwnedBy removes and returns every entry assigned to w.
func (t *correlationTable) takeOwnedBy(w *worker) []*pendingEntry {
	var owned []*pendingEntry
	for id, e := range t.entries {
		if e.owner == w {
			owned = append(owned, e)
			delete(t.entries, id)
		}
	}
	return owned
}

func (t *correlationTable) len() int {
	return len(t.entries)
}
