package concurrent

import "sync"

// Slice is an append-mostly slice guarded by a RWMutex.
type Slice[V any] struct {
	mu     sync.RWMutex
	values []V
}

func NewSlice[V any]() *Slice[V] {
	return &Slice[V]{}
}

func (s *Slice[V]) Append(value V) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.values = append(s.values, value)
}

func (s *Slice[V]) Length() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.values)
}

// All returns a copy of the current values.
func (s *Slice[V]) All() []V {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return append([]V(nil), s.values...)
}

// RemoveFunc drops every value matching predicate and reports how many were removed.
func (s *Slice[V]) RemoveFunc(predicate func(V) bool) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.values[:0]
	removed := 0
	for _, v := range s.values {
		if predicate(v) {
			removed++
			continue
		}
		kept = append(kept, v)
	}
	clear(s.values[len(kept):])
	s.values = kept
	return removed
}
