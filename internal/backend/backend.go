// Package backend is the entry point for callers: it resolves elements,
// runs the picker, registers shortcuts and captures screen contents.
package backend

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"time"

	"github.com/jimfengnpu/everywhere/internal/accessibility"
	"github.com/jimfengnpu/everywhere/internal/capture"
	"github.com/jimfengnpu/everywhere/internal/display"
	"github.com/jimfengnpu/everywhere/internal/element"
	"github.com/jimfengnpu/everywhere/internal/hotkey"
	"github.com/jimfengnpu/everywhere/internal/logger"
	"github.com/jimfengnpu/everywhere/internal/picker"
	"github.com/jimfengnpu/everywhere/internal/slot"
	"github.com/jimfengnpu/everywhere/internal/window"
)

var (
	// ErrHotkeyInUse is returned when a shortcut cannot be grabbed.
	ErrHotkeyInUse = errors.New("hotkey already in use")
	// ErrPickerBusy is returned while another pick is active.
	ErrPickerBusy = errors.New("picker already active")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("backend closed")
)

// Resolver answers point queries.
type Resolver interface {
	Resolve(p element.Point, g element.Granularity) element.Element
	ResolveAtPointer(g element.Granularity) (element.Element, error)
}

// Hotkeys registers shortcuts and input hooks.
type Hotkeys interface {
	picker.Hooks
	GrabKey(sc hotkey.Shortcut, handler hotkey.Handler) int
	Ungrab(id int) bool
	StartCapture() (*hotkey.CaptureScope, error)
}

// Capturer reads pixels.
type Capturer interface {
	Capture(ctx context.Context, target element.Element, rect element.Rect) (*capture.PixelBuffer, error)
}

// Screens lists the physical screens.
type Screens interface {
	All() []*display.Screen
}

// AccessibleFocus reports the focused accessible object.
type AccessibleFocus interface {
	CurrentlyFocused() *accessibility.Node
}

// WindowFocus reports the focused window.
type WindowFocus interface {
	FocusedWindow() *window.Window
}

// Parts are the collaborators a backend drives. Focus is optional.
type Parts struct {
	Resolver Resolver
	Hotkeys  Hotkeys
	Skip     picker.SkipList
	Overlays picker.OverlayFactory
	Pointer  picker.Pointer
	Capturer Capturer
	Screens  Screens
	Windows  WindowFocus
	Focus    AccessibleFocus

	// Closers run in reverse order on Close.
	Closers []func()
}

// Options tune the picker.
type Options struct {
	PickModes       []element.Granularity
	ScreenshotModes []element.Granularity
	PickMode        element.Granularity
	ScreenshotMode  element.Granularity
	Notifier        picker.Notifier
	// SettleDelay is how long a screenshot waits after the overlays close
	// so the compositor can repaint the area underneath.
	SettleDelay time.Duration
}

// DefaultOptions returns the built-in picker modes.
func DefaultOptions() Options {
	return Options{
		PickModes:       picker.PickModes,
		ScreenshotModes: picker.ScreenshotModes,
		PickMode:        element.GranularityWindow,
		ScreenshotMode:  element.GranularityFree,
		SettleDelay:     100 * time.Millisecond,
	}
}

// Backend is the element introspection facade.
type Backend struct {
	parts Parts
	opts  Options

	active slot.Slot[*picker.Session]

	mu     sync.Mutex
	closed bool
}

// New creates a backend over parts.
func New(parts Parts, opts Options) *Backend {
	return &Backend{parts: parts, opts: opts}
}

func (b *Backend) isClosed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

// ResolveAt returns the element at p, or nil.
func (b *Backend) ResolveAt(p element.Point, g element.Granularity) (element.Element, error) {
	if b.isClosed() {
		return nil, ErrClosed
	}
	return b.parts.Resolver.Resolve(p, g), nil
}

// ResolveAtPointer returns the element under the pointer, or nil.
func (b *Backend) ResolveAtPointer(g element.Granularity) (element.Element, error) {
	if b.isClosed() {
		return nil, ErrClosed
	}
	return b.parts.Resolver.ResolveAtPointer(g)
}

// StartPick starts an interactive pick in mode g. The future resolves with
// picker.ErrCanceled if the user cancels or ctx ends.
func (b *Backend) StartPick(ctx context.Context, g element.Granularity) (*picker.Future, error) {
	return b.startSession(ctx, b.opts.PickModes, g)
}

// StartScreenshot starts a pick and captures the selection once it is
// confirmed. A nil g starts in the configured screenshot mode.
func (b *Backend) StartScreenshot(ctx context.Context, g *element.Granularity) (*ScreenshotFuture, error) {
	mode := b.opts.ScreenshotMode
	if g != nil {
		mode = *g
	}
	pick, err := b.startSession(ctx, b.opts.ScreenshotModes, mode)
	if err != nil {
		return nil, err
	}

	sf := newScreenshotFuture()
	go func() {
		sel, err := pick.Result()
		if err != nil {
			sf.resolve(nil, err)
			return
		}
		if b.opts.SettleDelay > 0 {
			select {
			case <-time.After(b.opts.SettleDelay):
			case <-ctx.Done():
				sf.resolve(nil, fmt.Errorf("%w: %w", picker.ErrCanceled, ctx.Err()))
				return
			}
		}
		buf, err := b.Capture(ctx, sel.Element, sel.Rect)
		if err != nil {
			sf.resolve(nil, err)
			return
		}
		sf.resolve(&Screenshot{Selection: sel, Image: buf}, nil)
	}()
	return sf, nil
}

func (b *Backend) startSession(ctx context.Context, modes []element.Granularity, g element.Granularity) (*picker.Future, error) {
	log := logger.WithComponent("backend")
	if b.isClosed() {
		return nil, ErrClosed
	}

	screens := b.parts.Screens.All()
	rects := make([]element.Rect, len(screens))
	for i, s := range screens {
		rects[i] = s.BoundingRectangle()
	}

	var guard *slot.Guard[*picker.Session]
	s, err := picker.New(picker.Config{
		Modes:    modes,
		Initial:  g,
		Screens:  rects,
		Notifier: b.opts.Notifier,
		OnFinish: func() { guard.Release() },
	}, picker.Deps{
		Resolver: b.parts.Resolver,
		Hooks:    b.parts.Hotkeys,
		Skip:     b.parts.Skip,
		Overlays: b.parts.Overlays,
		Pointer:  b.parts.Pointer,
	})
	if err != nil {
		return nil, err
	}

	guard, ok := b.active.TryInstall(s)
	if !ok {
		return nil, ErrPickerBusy
	}
	fut, err := s.Start(ctx)
	if err != nil {
		guard.Release()
		return nil, fmt.Errorf("start picker: %w", err)
	}
	log.Debug().Stringer("mode", s.Mode()).Int("screens", len(rects)).Msg("Picker started")
	return fut, nil
}

// Disposable undoes a registration.
type Disposable interface {
	Dispose()
}

type hotkeyRegistration struct {
	once    sync.Once
	hotkeys Hotkeys
	id      int
}

func (r *hotkeyRegistration) Dispose() {
	r.once.Do(func() { r.hotkeys.Ungrab(r.id) })
}

// RegisterHotkey grabs sc globally and runs handler on every press.
func (b *Backend) RegisterHotkey(sc hotkey.Shortcut, handler hotkey.Handler) (Disposable, error) {
	if b.isClosed() {
		return nil, ErrClosed
	}
	id := b.parts.Hotkeys.GrabKey(sc, handler)
	if id == 0 {
		return nil, fmt.Errorf("%w: %s", ErrHotkeyInUse, sc)
	}
	return &hotkeyRegistration{hotkeys: b.parts.Hotkeys, id: id}, nil
}

// StartHotkeyCapture records the next shortcut the user presses.
func (b *Backend) StartHotkeyCapture() (*hotkey.CaptureScope, error) {
	if b.isClosed() {
		return nil, ErrClosed
	}
	return b.parts.Hotkeys.StartCapture()
}

// Capture reads rect from target; see capture.Capturer.
func (b *Backend) Capture(ctx context.Context, target element.Element, rect element.Rect) (*capture.PixelBuffer, error) {
	if b.isClosed() {
		return nil, ErrClosed
	}
	return b.parts.Capturer.Capture(ctx, target, rect)
}

// CurrentlyFocused returns the focused accessible object, falling back to
// the focused window. It returns nil when neither is known.
func (b *Backend) CurrentlyFocused() element.Element {
	if b.isClosed() {
		return nil
	}
	if f := b.parts.Focus; !isNil(f) {
		if n := f.CurrentlyFocused(); n != nil {
			return n
		}
	}
	if w := b.parts.Windows; !isNil(w) {
		if fw := w.FocusedWindow(); fw != nil {
			return fw
		}
	}
	return nil
}

// ActivePicker returns the running pick session, if any.
func (b *Backend) ActivePicker() (*picker.Session, bool) {
	return b.active.Load()
}

// Close cancels an active pick and shuts everything down. Safe to call more
// than once.
func (b *Backend) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	b.mu.Unlock()

	if s, ok := b.active.Load(); ok && s != nil {
		s.Cancel()
	}
	for i := len(b.parts.Closers) - 1; i >= 0; i-- {
		b.parts.Closers[i]()
	}
	logger.WithComponent("backend").Info().Msg("Backend closed")
}

func isNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	return rv.Kind() == reflect.Pointer && rv.IsNil()
}

// Screenshot is a captured selection.
type Screenshot struct {
	Selection *picker.Selection
	Image     *capture.PixelBuffer
}

// ScreenshotFuture resolves once with the captured selection.
type ScreenshotFuture struct {
	once sync.Once
	done chan struct{}
	shot *Screenshot
	err  error
}

func newScreenshotFuture() *ScreenshotFuture {
	return &ScreenshotFuture{done: make(chan struct{})}
}

func (f *ScreenshotFuture) resolve(shot *Screenshot, err error) {
	f.once.Do(func() {
		f.shot, f.err = shot, err
		close(f.done)
	})
}

// Done is closed once the result is available.
func (f *ScreenshotFuture) Done() <-chan struct{} { return f.done }

// Result blocks until the screenshot is taken or the pick ends.
func (f *ScreenshotFuture) Result() (*Screenshot, error) {
	<-f.done
	return f.shot, f.err
}

// Wait is Result bounded by ctx.
func (f *ScreenshotFuture) Wait(ctx context.Context) (*Screenshot, error) {
	select {
	case <-f.done:
		return f.shot, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
