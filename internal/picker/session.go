// Package picker implements the interactive element and region picker.
package picker

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/BurntSushi/xgb/xproto"
	"github.com/jimfengnpu/everywhere/internal/element"
	"github.com/jimfengnpu/everywhere/internal/hotkey"
	"github.com/jimfengnpu/everywhere/internal/logger"
)

var (
	// ErrCanceled is the result of a session ended by the user or its context.
	ErrCanceled = errors.New("selection canceled")
	// ErrNotIdle is returned when Start is called twice.
	ErrNotIdle = errors.New("session already started")
)

// State is the session lifecycle state.
type State int

const (
	StateIdle State = iota
	StateActive
	StateConfirmed
	StateCanceled
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateActive:
		return "active"
	case StateConfirmed:
		return "confirmed"
	case StateCanceled:
		return "canceled"
	}
	return "unknown"
}

// Resolver finds the element at a point.
type Resolver interface {
	Resolve(p element.Point, g element.Granularity) element.Element
}

// Hooks installs the global input hooks.
type Hooks interface {
	GrabMouseHook(h hotkey.MouseHook) (*hotkey.HookGuard, error)
	GrabKeyHook(h hotkey.KeyHook) (*hotkey.HookGuard, error)
}

// SkipList makes windows transparent to hit testing.
type SkipList interface {
	SetSkip(handles ...xproto.Window)
	ClearSkip(handles ...xproto.Window)
}

// Pointer reports the pointer position.
type Pointer interface {
	Pointer() (element.Point, error)
}

// Deps are the collaborators a session drives.
type Deps struct {
	Resolver Resolver
	Hooks    Hooks
	Skip     SkipList
	Overlays OverlayFactory
	// Pointer is optional and seeds the first highlight.
	Pointer Pointer
}

// Config describes one session.
type Config struct {
	Modes   []element.Granularity
	Initial element.Granularity
	Screens []element.Rect
	// Notifier is optional. It is called with the session locked and must
	// not call back into the session.
	Notifier Notifier
	// OnFinish is optional and runs once on the terminal transition, before
	// the future resolves.
	OnFinish func()
}

// Session is one interactive pick. Input arrives from the hook lane, so
// events are handled in order; Cancel may be called from anywhere.
type Session struct {
	cfg  Config
	deps Deps

	mu        sync.Mutex
	state     State
	mode      int
	pointer   element.Point
	selected  element.Element
	dragging  bool
	dragStart element.Point
	drag      element.Rect

	overlays []Overlay
	tooltip  Tooltip
	handles  []xproto.Window
	mouse    *hotkey.HookGuard
	keys     *hotkey.HookGuard
	future   *Future
}

// New creates an idle session.
func New(cfg Config, deps Deps) (*Session, error) {
	if len(cfg.Modes) == 0 {
		return nil, errors.New("picker needs at least one mode")
	}
	if len(cfg.Screens) == 0 {
		return nil, errors.New("picker needs at least one screen")
	}
	mode := ModeIndex(cfg.Modes, cfg.Initial)
	if mode < 0 {
		mode = 0
	}
	return &Session{cfg: cfg, deps: deps, mode: mode, future: newFuture()}, nil
}

// State returns the lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Mode returns the current mode.
func (s *Session) Mode() element.Granularity {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Modes[s.mode]
}

// Future returns the session result.
func (s *Session) Future() *Future { return s.future }

// Start opens the overlays, installs the hooks and activates the session.
// Cancelling ctx cancels the session.
func (s *Session) Start(ctx context.Context) (*Future, error) {
	log := logger.WithComponent("picker")

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateIdle {
		return nil, ErrNotIdle
	}

	if err := s.openWindows(); err != nil {
		s.teardown()
		return nil, err
	}
	s.deps.Skip.SetSkip(s.handles...)

	var err error
	if s.mouse, err = s.deps.Hooks.GrabMouseHook(s.onMouse); err != nil {
		s.teardown()
		return nil, fmt.Errorf("install mouse hook: %w", err)
	}
	if s.keys, err = s.deps.Hooks.GrabKeyHook(s.onKey); err != nil {
		s.teardown()
		return nil, fmt.Errorf("install key hook: %w", err)
	}

	s.state = StateActive
	log.Info().Str("mode", s.cfg.Modes[s.mode].String()).Int("screens", len(s.overlays)).Msg("Picker started")

	if s.deps.Pointer != nil {
		if p, err := s.deps.Pointer.Pointer(); err == nil {
			s.pointer = p
		}
	}
	s.refresh()

	go func() {
		select {
		case <-ctx.Done():
			s.Cancel()
		case <-s.future.Done():
		}
	}()
	return s.future, nil
}

func (s *Session) openWindows() error {
	for _, screen := range s.cfg.Screens {
		o, err := s.deps.Overlays.NewOverlay(screen)
		if err != nil {
			return fmt.Errorf("create overlay for %s: %w", screen, err)
		}
		s.overlays = append(s.overlays, o)
		s.handles = append(s.handles, o.Handle())
	}
	t, err := s.deps.Overlays.NewTooltip()
	if err != nil {
		return fmt.Errorf("create tooltip: %w", err)
	}
	s.tooltip = t
	s.handles = append(s.handles, t.Handle())
	return nil
}

func (s *Session) closeWindows() {
	log := logger.WithComponent("picker")
	for _, o := range s.overlays {
		if err := o.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to close overlay")
		}
	}
	if s.tooltip != nil {
		if err := s.tooltip.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to close tooltip")
		}
	}
	s.overlays, s.tooltip = nil, nil
}

// teardown undoes Start. Hooks go first so no event races the closing
// windows.
func (s *Session) teardown() {
	s.keys.Release()
	s.mouse.Release()
	s.keys, s.mouse = nil, nil
	s.closeWindows()
	if len(s.handles) > 0 {
		s.deps.Skip.ClearSkip(s.handles...)
		s.handles = nil
	}
}

// Cancel ends an active session with ErrCanceled. An idle session can no
// longer be started afterwards.
func (s *Session) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state {
	case StateIdle:
		s.state = StateCanceled
		s.future.resolve(nil, ErrCanceled)
	case StateActive:
		s.finish(nil, ErrCanceled)
	}
}

// finish performs the terminal transition. Called with mu held.
func (s *Session) finish(sel *Selection, err error) {
	if sel != nil {
		s.state = StateConfirmed
	} else {
		s.state = StateCanceled
	}
	s.teardown()
	if s.cfg.OnFinish != nil {
		s.cfg.OnFinish()
	}
	s.future.resolve(sel, err)

	ev := logger.WithComponent("picker").Info().Str("state", s.state.String())
	if sel != nil {
		ev = ev.Str("mode", sel.Mode.String()).Stringer("rect", sel.Rect)
	}
	ev.Msg("Picker finished")
}

func (s *Session) onMouse(ev hotkey.MouseEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateActive {
		return
	}

	switch ev.Kind {
	case hotkey.MouseMove:
		s.pointer = ev.Position
		if s.dragging {
			s.drag = element.RectFromPoints(s.dragStart, ev.Position)
		}
		s.refresh()

	case hotkey.MouseWheel:
		// wheel down moves forward through the list
		s.setMode(CycleMode(s.cfg.Modes, s.mode, -ev.Delta))

	case hotkey.MouseDown:
		s.pointer = ev.Position
		switch ev.Button {
		case hotkey.ButtonRight:
			s.finish(nil, ErrCanceled)
		case hotkey.ButtonLeft:
			if s.cfg.Modes[s.mode] == element.GranularityFree {
				s.dragging = true
				s.dragStart = ev.Position
				s.drag = element.Rect{}
				s.refresh()
			}
		}

	case hotkey.MouseUp:
		if ev.Button != hotkey.ButtonLeft {
			return
		}
		s.pointer = ev.Position
		s.confirm()
	}
}

// confirm handles a left button release.
func (s *Session) confirm() {
	mode := s.cfg.Modes[s.mode]
	if mode == element.GranularityFree {
		if !s.dragging {
			return
		}
		s.dragging = false
		s.drag = element.RectFromPoints(s.dragStart, s.pointer)
		if s.drag.Empty() {
			s.drag = element.Rect{}
			s.refresh()
			return
		}
		s.finish(&Selection{Mode: mode, Rect: s.drag}, nil)
		return
	}

	s.resolve()
	if s.selected == nil {
		return
	}
	s.finish(&Selection{Mode: mode, Element: s.selected, Rect: s.selected.BoundingRectangle()}, nil)
}

func (s *Session) onKey(ev hotkey.KeyEvent) {
	if !ev.Pressed {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateActive {
		return
	}

	switch ev.Key {
	case "Escape":
		s.finish(nil, ErrCanceled)
	case "Tab":
		step := 1
		if ev.Modifiers&hotkey.ModShift != 0 {
			step = -1
		}
		s.setMode(CycleMode(s.cfg.Modes, s.mode, step))
	default:
		if n, err := strconv.Atoi(ev.Key); err == nil && n >= 1 && n <= len(s.cfg.Modes) {
			s.setMode(n - 1)
		}
	}
}

func (s *Session) setMode(i int) {
	if i == s.mode {
		return
	}
	s.mode = i
	s.dragging = false
	s.drag = element.Rect{}
	mode := s.cfg.Modes[i]
	logger.WithComponent("picker").Debug().Str("mode", mode.String()).Msg("Picker mode changed")
	if s.cfg.Notifier != nil {
		s.cfg.Notifier.ModeChanged(mode)
	}
	s.refresh()
}

// resolve updates the selected element for the current mode.
func (s *Session) resolve() {
	s.selected = nil
	if mode := s.cfg.Modes[s.mode]; mode != element.GranularityFree {
		s.selected = s.deps.Resolver.Resolve(s.pointer, mode)
	}
}

// refresh re-resolves the target and redraws every window.
func (s *Session) refresh() {
	log := logger.WithComponent("picker")
	mode := s.cfg.Modes[s.mode]

	var highlight element.Rect
	if mode == element.GranularityFree {
		s.selected = nil
		highlight = s.drag
	} else {
		s.resolve()
		if s.selected != nil {
			highlight = s.selected.BoundingRectangle()
		}
	}

	for _, o := range s.overlays {
		if err := o.Highlight(highlight, mode); err != nil {
			log.Warn().Err(err).Msg("Failed to update overlay")
		}
	}

	if s.tooltip == nil {
		return
	}
	text := s.describe(mode, highlight)
	w, h := s.tooltip.Measure(text)
	at := PlaceTooltip(s.pointer, w, h, s.screenAt(s.pointer))
	if err := s.tooltip.Show(text, at); err != nil {
		log.Warn().Err(err).Msg("Failed to move tooltip")
	}
}

func (s *Session) describe(mode element.Granularity, r element.Rect) string {
	label := fmt.Sprintf("[%d/%d] %s", s.mode+1, len(s.cfg.Modes), modeLabel(mode))
	if mode == element.GranularityFree {
		if r.Empty() {
			return label + ": drag to select"
		}
		return fmt.Sprintf("%s: %dx%d", label, r.Width, r.Height)
	}
	if s.selected == nil {
		return label
	}
	desc := s.selected.Type().String()
	if name := s.selected.Name(); name != "" {
		desc += " " + strconv.Quote(name)
	}
	return fmt.Sprintf("%s: %s %dx%d", label, desc, r.Width, r.Height)
}

func (s *Session) screenAt(p element.Point) element.Rect {
	for _, r := range s.cfg.Screens {
		if r.Contains(p) {
			return r
		}
	}
	return s.cfg.Screens[0]
}
