package binding

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// Store owns the configured bindings.
//
// Writers serialize on a mutex and publish a freshly built slice; readers
// load the published slice without locking. A published slice is never
// written again, so a Snapshot can be iterated while the control side keeps
// editing the store.
type Store struct {
	mu      sync.Mutex // serializes writers
	current atomic.Pointer[Set]
}

// NewStore returns a store holding the given bindings. Every binding must
// pass Validate.
func NewStore(initial ...Binding) (*Store, error) {
	s := &Store{}
	if err := s.ReplaceAll(Set(initial)); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) load() Set {
	if p := s.current.Load(); p != nil {
		return *p
	}
	return nil
}

func (s *Store) publish(next Set) {
	s.current.Store(&next)
}

// Snapshot returns the current binding sequence. The returned slice is
// shared and must not be modified; use List for a private copy.
func (s *Store) Snapshot() Set {
	return s.load()
}

// List returns a copy of the current binding sequence.
func (s *Store) List() Set {
	return s.load().Clone()
}

// Len returns the number of bindings.
func (s *Store) Len() int {
	return len(s.load())
}

// Add appends b. An invalid binding is rejected and the store is unchanged.
func (s *Store) Add(b Binding) error {
	if err := b.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cur := s.load()
	next := make(Set, len(cur), len(cur)+1)
	copy(next, cur)
	next = append(next, b)
	s.publish(next)
	return nil
}

// Replace swaps the binding at index i for b as one atomic edit.
func (s *Store) Replace(i int, b Binding) error {
	if err := b.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cur := s.load()
	if i < 0 || i >= len(cur) {
		return fmt.Errorf("%w: %d (have %d)", ErrIndexOutOfRange, i, len(cur))
	}
	next := cur.Clone()
	next[i] = b
	s.publish(next)
	return nil
}

// Remove deletes the binding at index i, preserving the order of the rest.
func (s *Store) Remove(i int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur := s.load()
	if i < 0 || i >= len(cur) {
		return fmt.Errorf("%w: %d (have %d)", ErrIndexOutOfRange, i, len(cur))
	}
	next := make(Set, 0, len(cur)-1)
	next = append(next, cur[:i]...)
	next = append(next, cur[i+1:]...)
	s.publish(next)
	return nil
}

// ReplaceAll swaps the whole binding set, e.g. after a load. Either every
// binding is valid and the set is installed, or nothing changes.
func (s *Store) ReplaceAll(set Set) error {
	for i, b := range set {
		if err := b.Validate(); err != nil {
			return fmt.Errorf("binding %d: %w", i, err)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.publish(set.Clone())
	return nil
}
