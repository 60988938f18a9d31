package params

import (
	"fmt"
	"reflect"
	"sync"
	"sync/atomic"
)

// UnknownPathError reports a read or write against a path that does not exist
// in the tree.
type UnknownPathError struct {
	Path string
}

func (e *UnknownPathError) Error() string {
	return fmt.Sprintf("params: unknown path %q", e.Path)
}

// TypeMismatchError reports a write whose value type differs from the leaf's
// current type. The store is left unchanged.
type TypeMismatchError struct {
	Path string
	Have string
	Want string
}

func (e *TypeMismatchError) Error() string {
	return fmt.Sprintf("params: path %q holds %s, cannot write %s", e.Path, e.Want, e.Have)
}

// View is an immutable whole-tree snapshot at one generation. A cycler
// captures a view once per tick, so every module within that tick observes
// one consistent generation.
type View struct {
	generation uint64
	values     map[string]any
}

// Get returns the value at a dotted leaf path.
func (v *View) Get(path string) (any, bool) {
	value, ok := v.values[path]
	return value, ok
}

// Generation identifies this snapshot.
func (v *View) Generation() uint64 {
	return v.generation
}

// Len reports the number of leaves.
func (v *View) Len() int {
	return len(v.values)
}

// Paths returns all leaf paths, unordered.
func (v *View) Paths() []string {
	paths := make([]string, 0, len(v.values))
	for path := range v.values {
		paths = append(paths, path)
	}
	return paths
}

// Store is the path-addressable configuration tree shared by all cyclers.
// Writes commit a fresh immutable view with a bumped generation; readers pick
// the view up at their next tick boundary, never mid-tick.
type Store struct {
	mu      sync.Mutex // serializes writers
	current atomic.Pointer[View]
}

// NewStore creates a store from an initial tree of dotted leaf paths. The
// set of paths is fixed for the life of the store; writes may only change
// leaf values.
func NewStore(initial map[string]any) *Store {
	values := make(map[string]any, len(initial))
	for path, value := range initial {
		values[path] = value
	}
	s := &Store{}
	s.current.Store(&View{generation: 1, values: values})
	return s
}

// View returns the current committed snapshot.
func (s *Store) View() *View {
	return s.current.Load()
}

// Read returns the current value and generation of a leaf.
func (s *Store) Read(path string) (any, uint64, error) {
	view := s.current.Load()
	value, ok := view.values[path]
	if !ok {
		return nil, 0, &UnknownPathError{Path: path}
	}
	return value, view.generation, nil
}

// Write updates a leaf value. The update becomes visible to a cycler at its
// next tick boundary. Unknown paths and type mismatches leave the store
// unchanged.
func (s *Store) Write(path string, value any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	old := s.current.Load()
	existing, ok := old.values[path]
	if !ok {
		return &UnknownPathError{Path: path}
	}
	if existing != nil && value != nil && reflect.TypeOf(existing) != reflect.TypeOf(value) {
		return &TypeMismatchError{
			Path: path,
			Have: reflect.TypeOf(value).String(),
			Want: reflect.TypeOf(existing).String(),
		}
	}

	values := make(map[string]any, len(old.values))
	for p, v := range old.values {
		values[p] = v
	}
	values[path] = value
	s.current.Store(&View{generation: old.generation + 1, values: values})
	return nil
}

// Has reports whether a leaf path exists.
func (s *Store) Has(path string) bool {
	_, ok := s.current.Load().values[path]
	return ok
}
