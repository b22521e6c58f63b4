// Package connection owns the X11 display connection thread. Every request
// that mutates connection state (grabs, window creation, property changes)
// runs on this thread, and it is the only place native events are pumped.
package connection

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/BurntSushi/xgb"
	"github.com/jimfengnpu/everywhere/internal/logger"
	"golang.org/x/sys/unix"
)

var (
	// ErrConnectionLost is returned once the display connection has gone away.
	ErrConnectionLost = errors.New("display connection lost")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("connection thread closed")
)

// Source is the native event stream. *xgb.Conn satisfies it.
type Source interface {
	// WaitForEvent blocks for the next event or error. (nil, nil) means the
	// connection is closed.
	WaitForEvent() (xgb.Event, xgb.Error)
}

// Dispatcher receives native events on the connection thread.
type Dispatcher func(xgb.Event)

// ErrorHandler receives asynchronous protocol errors on the connection thread.
type ErrorHandler func(xgb.Error)

// Option configures a Thread.
type Option func(*Thread)

// WithErrorHandler replaces the default handler, which logs a warning.
func WithErrorHandler(h ErrorHandler) Option {
	return func(t *Thread) { t.onError = h }
}

// WithEventBuffer sets how many native events may be read ahead of dispatch.
func WithEventBuffer(n int) Option {
	return func(t *Thread) {
		if n > 0 {
			t.bufSize = n
		}
	}
}

type nativeItem struct {
	ev  xgb.Event
	err xgb.Error
}

// Thread drives one display connection from a single pinned OS thread.
type Thread struct {
	src     Source
	onError ErrorHandler
	bufSize int

	dispatchMu sync.RWMutex
	dispatch   []Dispatcher

	mu    sync.Mutex
	queue []func()
	err   error

	// wake is the cross-thread doorbell: one pending token means "the queue
	// may be non-empty". Enqueue never blocks on it.
	wake   chan struct{}
	events chan nativeItem
	stop   chan struct{}
	done   chan struct{}

	tid       atomic.Int64
	startOnce sync.Once
	closeOnce sync.Once
}

// New creates a connection thread over src. Call Start to run it.
func New(src Source, opts ...Option) *Thread {
	t := &Thread{
		src:     src,
		bufSize: 256,
		wake:    make(chan struct{}, 1),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	t.onError = func(e xgb.Error) {
		logger.WithComponent("connection").Warn().
			Str("error", e.Error()).
			Uint32("bad_id", e.BadId()).
			Uint16("sequence", e.SequenceId()).
			Msg("X11 protocol error")
	}
	for _, opt := range opts {
		opt(t)
	}
	t.events = make(chan nativeItem, t.bufSize)
	return t
}

// AddDispatcher registers a receiver for native events. Dispatchers run in
// registration order on the connection thread and must not block.
func (t *Thread) AddDispatcher(d Dispatcher) {
	t.dispatchMu.Lock()
	defer t.dispatchMu.Unlock()
	t.dispatch = append(t.dispatch, d)
}

// Start launches the connection thread and the event reader. It returns
// once the thread is running. Calling Start more than once is a no-op.
func (t *Thread) Start() {
	t.startOnce.Do(func() {
		ready := make(chan struct{})
		go t.run(ready)
		go t.pump()
		<-ready
	})
}

// Enqueue schedules op to run on the connection thread. It never blocks and
// fails fast once the connection is gone. Ops from one caller run in order.
func (t *Thread) Enqueue(op func()) error {
	t.mu.Lock()
	if t.err != nil {
		err := t.err
		t.mu.Unlock()
		return err
	}
	t.queue = append(t.queue, op)
	t.mu.Unlock()

	select {
	case t.wake <- struct{}{}:
	default:
	}
	return nil
}

// Invoke runs op on the connection thread and waits for its result. Called
// from the connection thread itself, op runs inline.
func (t *Thread) Invoke(ctx context.Context, op func() error) error {
	if t.OnThread() {
		return op()
	}
	result := make(chan error, 1)
	if err := t.Enqueue(func() { result <- op() }); err != nil {
		return err
	}
	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-t.done:
		select {
		case err := <-result:
			return err
		default:
			return t.Err()
		}
	}
}

// OnThread reports whether the caller is running on the connection thread.
func (t *Thread) OnThread() bool {
	tid := t.tid.Load()
	return tid != 0 && int64(unix.Gettid()) == tid
}

// Done is closed when the thread exits.
func (t *Thread) Done() <-chan struct{} { return t.done }

// Err returns why the thread stopped, or nil while it runs.
func (t *Thread) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

// Close stops the thread and waits for it to exit. Queued ops that have not
// started are dropped. The caller still owns the native connection.
func (t *Thread) Close() {
	t.closeOnce.Do(func() {
		t.fail(ErrClosed)
		close(t.stop)
	})
	t.Start() // an unstarted thread still has to close done
	<-t.done
}

func (t *Thread) run(ready chan<- struct{}) {
	// The goroutine keeps its OS thread for its whole life; OnThread relies
	// on the thread id being stable.
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	t.tid.Store(int64(unix.Gettid()))
	close(ready)
	defer close(t.done)

	log := logger.WithComponent("connection")
	log.Debug().Int64("tid", t.tid.Load()).Msg("Connection thread started")

	for {
		t.drain()

		select {
		case <-t.stop:
			t.discard()
			return
		case <-t.wake:
		case item, ok := <-t.events:
			if !ok {
				log.Error().Msg("Display connection closed, stopping connection thread")
				t.fail(ErrConnectionLost)
				t.discard()
				return
			}
			t.drain()
			t.handle(item)
			if !t.pumpPending() {
				log.Error().Msg("Display connection closed, stopping connection thread")
				t.fail(ErrConnectionLost)
				t.discard()
				return
			}
		}
	}
}

// pumpPending dispatches every event already read. It returns false if the
// event stream ended.
func (t *Thread) pumpPending() bool {
	for {
		select {
		case item, ok := <-t.events:
			if !ok {
				return false
			}
			t.handle(item)
		default:
			return true
		}
	}
}

func (t *Thread) pump() {
	for {
		ev, err := t.src.WaitForEvent()
		if ev == nil && err == nil {
			close(t.events)
			return
		}
		select {
		case t.events <- nativeItem{ev: ev, err: err}:
		case <-t.stop:
			return
		}
	}
}

func (t *Thread) handle(item nativeItem) {
	if item.err != nil {
		if t.onError != nil {
			t.onError(item.err)
		}
		return
	}
	t.dispatchMu.RLock()
	ds := t.dispatch
	t.dispatchMu.RUnlock()
	for _, d := range ds {
		t.safely("dispatch", func() { d(item.ev) })
	}
}

func (t *Thread) drain() {
	for {
		t.mu.Lock()
		ops := t.queue
		t.queue = nil
		t.mu.Unlock()
		if len(ops) == 0 {
			return
		}
		for _, op := range ops {
			t.safely("op", op)
		}
	}
}

// discard drops ops queued after the thread decided to stop.
func (t *Thread) discard() {
	t.mu.Lock()
	dropped := len(t.queue)
	t.queue = nil
	t.mu.Unlock()
	if dropped > 0 {
		logger.WithComponent("connection").Debug().Int("dropped", dropped).Msg("Dropped pending operations")
	}
}

func (t *Thread) fail(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.err == nil {
		t.err = err
	}
}

func (t *Thread) safely(what string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			logger.WithComponent("connection").Error().
				Str("stage", what).
				Str("panic", fmt.Sprint(r)).
				Msg("Recovered panic on connection thread")
		}
	}()
	fn()
}
