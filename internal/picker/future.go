package picker

import (
	"context"
	"sync"

	"github.com/jimfengnpu/everywhere/internal/element"
)

// Selection is the outcome of a confirmed pick. Element is nil for free
// region selections.
type Selection struct {
	Mode    element.Granularity
	Element element.Element
	Rect    element.Rect
}

// Future resolves once with the session result.
type Future struct {
	once sync.Once
	done chan struct{}
	sel  *Selection
	err  error
}

func newFuture() *Future {
	return &Future{done: make(chan struct{})}
}

// resolve stores the result. Only the first call has an effect.
func (f *Future) resolve(sel *Selection, err error) bool {
	resolved := false
	f.once.Do(func() {
		f.sel, f.err = sel, err
		close(f.done)
		resolved = true
	})
	return resolved
}

// Done is closed once the result is available.
func (f *Future) Done() <-chan struct{} { return f.done }

// Result returns the selection, or ErrCanceled. It must only be called
// after Done is closed.
func (f *Future) Result() (*Selection, error) {
	<-f.done
	return f.sel, f.err
}

// Wait blocks until the session ends or ctx is done. Giving up on the wait
// does not cancel the session.
func (f *Future) Wait(ctx context.Context) (*Selection, error) {
	select {
	case <-f.done:
		return f.sel, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
