// Package channel provides the single-writer, multi-reader slot through which
// cyclers observe each other's most recently published database.
package channel

import (
	"sync/atomic"
	"time"
)

// PublishInfo records when a snapshot was published.
type PublishInfo struct {
	Tick      uint64
	Timestamp time.Time
	At        time.Time
}

type entry[T any] struct {
	value T
	info  PublishInfo
}

// Slot holds the latest published snapshot of one cycler. Publish replaces the
// snapshot with a single pointer swap, so readers are wait-free and always
// observe a whole snapshot: either the previous one or the new one, never a
// mixture. Exactly one goroutine may publish.
type Slot[T any] struct {
	current atomic.Pointer[entry[T]]
}

// NewSlot creates an empty slot. Read reports ok=false until the first
// publish.
func NewSlot[T any]() *Slot[T] {
	return &Slot[T]{}
}

// Publish stores a new snapshot, replacing the previous one. The snapshot must
// not be mutated after publication.
func (s *Slot[T]) Publish(value T, tick uint64, timestamp time.Time) {
	s.current.Store(&entry[T]{
		value: value,
		info: PublishInfo{
			Tick:      tick,
			Timestamp: timestamp,
			At:        time.Now(),
		},
	})
}

// Read returns the most recently published snapshot. It never blocks the
// writer or other readers.
func (s *Slot[T]) Read() (T, PublishInfo, bool) {
	e := s.current.Load()
	if e == nil {
		var zero T
		return zero, PublishInfo{}, false
	}
	return e.value, e.info, true
}

// LastPublish reports when the slot was last written, for staleness checks.
func (s *Slot[T]) LastPublish() (PublishInfo, bool) {
	e := s.current.Load()
	if e == nil {
		return PublishInfo{}, false
	}
	return e.info, true
}
