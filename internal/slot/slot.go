// Package slot implements single-writer registration slots: at most one value
// is installed at a time and only the guard returned by the installing call
// can clear it.
package slot

import "sync"

// Slot holds at most one value.
type Slot[T any] struct {
	mu    sync.Mutex
	gen   uint64
	value T
	set   bool
}

// Guard clears its slot on Release if the slot still holds the value it installed.
type Guard[T any] struct {
	slot *Slot[T]
	gen  uint64
	once sync.Once
}

// Install stores v, replacing any previous value. The replaced value is
// returned so the caller can tear it down.
func (s *Slot[T]) Install(v T) (g *Guard[T], prev T, replaced bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, replaced = s.value, s.set
	s.gen++
	s.value, s.set = v, true
	return &Guard[T]{slot: s, gen: s.gen}, prev, replaced
}

// TryInstall stores v only if the slot is empty.
func (s *Slot[T]) TryInstall(v T) (*Guard[T], bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.set {
		return nil, false
	}
	s.gen++
	s.value, s.set = v, true
	return &Guard[T]{slot: s, gen: s.gen}, true
}

// Load returns the installed value.
func (s *Slot[T]) Load() (T, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.value, s.set
}

// Occupied reports whether a value is installed.
func (s *Slot[T]) Occupied() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.set
}

// Release clears the slot if this guard still owns it and reports whether
// it did. Safe to call more than once.
func (g *Guard[T]) Release() bool {
	if g == nil {
		return false
	}
	cleared := false
	g.once.Do(func() {
		s := g.slot
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.set && s.gen == g.gen {
			var zero T
			s.value, s.set = zero, false
			cleared = true
		}
	})
	return cleared
}

// Current reports whether the guard still owns its slot.
func (g *Guard[T]) Current() bool {
	if g == nil {
		return false
	}
	s := g.slot
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.set && s.gen == g.gen
}
