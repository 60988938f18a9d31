// Package historic provides the timestamp-indexed ring of past databases that
// lets a consumer correlate delayed measurements against the producer's state
// as of the measurement time.
package historic

import (
	"errors"
	"fmt"
	"sort"
	"sync/atomic"
	"time"

	"github.com/striderobotics/cyclekit/internal/types"
)

// ErrOutOfOrder is returned when a push violates non-decreasing timestamp
// order. That indicates a bug in the producing cycler, not a recoverable
// condition.
var ErrOutOfOrder = errors.New("historic: push timestamp precedes newest entry")

// Entry is one retained (timestamp, database) pair.
type Entry struct {
	Timestamp time.Time
	Database  *types.Database
}

// Buffer retains the last capacity databases of one cycler, indexed by
// timestamp. Pushes come from the single owning cycler; lookups may come from
// any goroutine. Every push publishes a fresh immutable entry slice through an
// atomic pointer, so readers never lock and never observe a partial update.
type Buffer struct {
	capacity int
	entries  atomic.Pointer[[]Entry]
}

// New creates a buffer retaining at most capacity entries.
func New(capacity int) (*Buffer, error) {
	if capacity < 1 {
		return nil, fmt.Errorf("historic: capacity must be positive, got %d", capacity)
	}
	b := &Buffer{capacity: capacity}
	empty := make([]Entry, 0, capacity)
	b.entries.Store(&empty)
	return b, nil
}

// Push appends a database, evicting the oldest entry once the buffer is at
// capacity. Timestamps must be non-decreasing.
func (b *Buffer) Push(timestamp time.Time, db *types.Database) error {
	current := *b.entries.Load()
	if n := len(current); n > 0 && timestamp.Before(current[n-1].Timestamp) {
		return fmt.Errorf("%w: %v < %v", ErrOutOfOrder, timestamp, current[n-1].Timestamp)
	}

	next := make([]Entry, 0, b.capacity)
	if len(current) == b.capacity {
		next = append(next, current[1:]...)
	} else {
		next = append(next, current...)
	}
	next = append(next, Entry{Timestamp: timestamp, Database: db})
	b.entries.Store(&next)
	return nil
}

// Get returns the database whose timestamp is the closest one at or before
// the query timestamp. ok is false when the query precedes every retained
// entry or the buffer is empty.
func (b *Buffer) Get(timestamp time.Time) (*types.Database, bool) {
	entries := *b.entries.Load()
	// First index whose timestamp is strictly after the query; the floor
	// entry sits immediately before it.
	idx := sort.Search(len(entries), func(i int) bool {
		return entries[i].Timestamp.After(timestamp)
	})
	if idx == 0 {
		return nil, false
	}
	return entries[idx-1].Database, true
}

// Len reports the number of retained entries.
func (b *Buffer) Len() int {
	return len(*b.entries.Load())
}

// Capacity reports the fixed retention limit.
func (b *Buffer) Capacity() int {
	return b.capacity
}
