package types

import "time"

// Database is the output state record produced by one cycler in one tick.
// It is mutated only by the owning cycler while the tick is running; once
// published it is immutable and may be read from any number of goroutines.
type Database struct {
	Cycler    string
	Tick      uint64
	Timestamp time.Time

	fields map[string]any
}

// NewDatabase creates an empty database for one tick of a cycler.
func NewDatabase(cycler string, tick uint64, timestamp time.Time) *Database {
	return &Database{
		Cycler:    cycler,
		Tick:      tick,
		Timestamp: timestamp,
		fields:    make(map[string]any),
	}
}

// Get returns the value stored under a field path.
func (d *Database) Get(path string) (any, bool) {
	v, ok := d.fields[path]
	return v, ok
}

// Set stores a value under a field path. Only the owning cycler may call Set,
// and only before the database is published.
func (d *Database) Set(path string, value any) {
	d.fields[path] = value
}

// Fields exposes the underlying field map for serialization. Callers must
// treat it as read-only.
func (d *Database) Fields() map[string]any {
	return d.fields
}
