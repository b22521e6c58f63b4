package element

import "sync/atomic"

// Handle is a reference-counted native reference. It starts with one
// reference owned by its creator; every Acquire must be paired with exactly
// one Release, and the release hook runs once when the count reaches zero.
type Handle[T any] struct {
	value   T
	refs    atomic.Int32
	release func(T)
}

// NewHandle wraps v with a reference count of one.
func NewHandle[T any](v T, release func(T)) *Handle[T] {
	h := &Handle[T]{value: v, release: release}
	h.refs.Store(1)
	return h
}

// Value returns the wrapped reference.
func (h *Handle[T]) Value() T { return h.value }

// Acquire adds a reference. It fails once the handle has been fully released.
func (h *Handle[T]) Acquire() bool {
	for {
		n := h.refs.Load()
		if n <= 0 {
			return false
		}
		if h.refs.CompareAndSwap(n, n+1) {
			return true
		}
	}
}

// Release drops a reference and reports whether it was the last one.
// Releasing an already released handle is a no-op.
func (h *Handle[T]) Release() bool {
	for {
		n := h.refs.Load()
		if n <= 0 {
			return false
		}
		if h.refs.CompareAndSwap(n, n-1) {
			if n == 1 {
				if h.release != nil {
					h.release(h.value)
				}
				return true
			}
			return false
		}
	}
}

// Refs returns the current reference count.
func (h *Handle[T]) Refs() int { return int(h.refs.Load()) }

// Alive reports whether at least one reference is outstanding.
func (h *Handle[T]) Alive() bool { return h.refs.Load() > 0 }
