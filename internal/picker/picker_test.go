package picker

import (
	"context"
	"errors"
	"iter"
	"sync"
	"testing"
	"time"

	"github.com/BurntSushi/xgb/xproto"
	"github.com/jimfengnpu/everywhere/internal/element"
	"github.com/jimfengnpu/everywhere/internal/hotkey"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type box struct {
	name string
	rect element.Rect
}

func (b *box) ID() string                          { return "box:" + b.name }
func (b *box) Kind() element.Kind                  { return element.KindWindow }
func (b *box) NativeHandle() uint64                { return 0 }
func (b *box) ProcessID() int                      { return 0 }
func (b *box) BoundingRectangle() element.Rect     { return b.rect }
func (b *box) Type() element.Type                  { return element.TypeTopLevel }
func (b *box) States() element.State               { return element.StateNone }
func (b *box) Name() string                        { return b.name }
func (b *box) Parent() element.Element             { return nil }
func (b *box) Children() iter.Seq[element.Element] { return func(func(element.Element) bool) {} }

// scene resolves every granularity to the same window except Screen.
type scene struct {
	screen *box
	window *box
}

func (s *scene) Resolve(p element.Point, g element.Granularity) element.Element {
	switch g {
	case element.GranularityScreen:
		return s.screen
	case element.GranularityWindow, element.GranularityElement:
		if s.window.rect.Contains(p) {
			return s.window
		}
	}
	return nil
}

type fakeHooks struct {
	mouse    hotkey.MouseHook
	key      hotkey.KeyHook
	released int
	failKey  bool
}

func (h *fakeHooks) GrabMouseHook(fn hotkey.MouseHook) (*hotkey.HookGuard, error) {
	h.mouse = fn
	return hotkey.NewHookGuard(func() bool {
		h.mouse = nil
		h.released++
		return true
	}), nil
}

func (h *fakeHooks) GrabKeyHook(fn hotkey.KeyHook) (*hotkey.HookGuard, error) {
	if h.failKey {
		return nil, errors.New("keyboard busy")
	}
	h.key = fn
	return hotkey.NewHookGuard(func() bool {
		h.key = nil
		h.released++
		return true
	}), nil
}

type fakeSkip struct {
	mu   sync.Mutex
	skip map[xproto.Window]bool
}

func (s *fakeSkip) SetSkip(hs ...xproto.Window) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, h := range hs {
		s.skip[h] = true
	}
}

func (s *fakeSkip) ClearSkip(hs ...xproto.Window) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, h := range hs {
		delete(s.skip, h)
	}
}

func (s *fakeSkip) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.skip)
}

type fakeOverlay struct {
	handle    xproto.Window
	highlight element.Rect
	mode      element.Granularity
	closed    bool
}

func (o *fakeOverlay) Handle() xproto.Window { return o.handle }

func (o *fakeOverlay) Highlight(r element.Rect, mode element.Granularity) error {
	o.highlight, o.mode = r, mode
	return nil
}

func (o *fakeOverlay) Close() error {
	o.closed = true
	return nil
}

type fakeTooltip struct {
	text   string
	at     element.Point
	closed bool
}

func (t *fakeTooltip) Handle() xproto.Window          { return 900 }
func (t *fakeTooltip) Measure(text string) (int, int) { return 120, 20 }

func (t *fakeTooltip) Show(text string, at element.Point) error {
	t.text, t.at = text, at
	return nil
}

func (t *fakeTooltip) Close() error {
	t.closed = true
	return nil
}

type fakeFactory struct {
	overlays   []*fakeOverlay
	tooltip    *fakeTooltip
	tooltipErr error
}

func (f *fakeFactory) NewOverlay(screen element.Rect) (Overlay, error) {
	o := &fakeOverlay{handle: xproto.Window(100 + len(f.overlays))}
	f.overlays = append(f.overlays, o)
	return o, nil
}

func (f *fakeFactory) NewTooltip() (Tooltip, error) {
	if f.tooltipErr != nil {
		return nil, f.tooltipErr
	}
	f.tooltip = &fakeTooltip{}
	return f.tooltip, nil
}

type fixture struct {
	scene    *scene
	hooks    *fakeHooks
	skip     *fakeSkip
	factory  *fakeFactory
	finished int
	modes    []element.Granularity
	session  *Session
}

func newFixture(t *testing.T, modes []element.Granularity, initial element.Granularity) *fixture {
	t.Helper()
	f := &fixture{
		scene: &scene{
			screen: &box{name: "screen", rect: element.Rect{Width: 1920, Height: 1080}},
			window: &box{name: "editor", rect: element.Rect{X: 100, Y: 100, Width: 640, Height: 480}},
		},
		hooks:   &fakeHooks{},
		skip:    &fakeSkip{skip: make(map[xproto.Window]bool)},
		factory: &fakeFactory{},
	}
	s, err := New(Config{
		Modes:    modes,
		Initial:  initial,
		Screens:  []element.Rect{{Width: 1920, Height: 1080}, {X: 1920, Width: 1280, Height: 1024}},
		Notifier: NotifierFunc(func(m element.Granularity) { f.modes = append(f.modes, m) }),
		OnFinish: func() { f.finished++ },
	}, Deps{
		Resolver: f.scene,
		Hooks:    f.hooks,
		Skip:     f.skip,
		Overlays: f.factory,
	})
	require.NoError(t, err)
	f.session = s
	return f
}

func (f *fixture) move(x, y int) {
	f.hooks.mouse(hotkey.MouseEvent{Kind: hotkey.MouseMove, Position: element.Point{X: x, Y: y}})
}

func (f *fixture) button(kind hotkey.MouseKind, button, x, y int) {
	f.hooks.mouse(hotkey.MouseEvent{Kind: kind, Button: button, Position: element.Point{X: x, Y: y}})
}

func (f *fixture) key(name string) {
	f.hooks.key(hotkey.KeyEvent{Key: name, Pressed: true})
}

// assertTornDown checks everything Start set up was undone exactly once.
func (f *fixture) assertTornDown(t *testing.T) {
	t.Helper()
	assert.Equal(t, 2, f.hooks.released)
	assert.Equal(t, 0, f.skip.len())
	for _, o := range f.factory.overlays {
		assert.True(t, o.closed)
	}
	assert.True(t, f.factory.tooltip.closed)
	assert.Equal(t, 1, f.finished)
}

func TestPlaceTooltip(t *testing.T) {
	screen := element.Rect{Width: 1000, Height: 800}
	tests := []struct {
		name string
		p    element.Point
		want element.Point
	}{
		{"above right", element.Point{X: 500, Y: 400}, element.Point{X: 516, Y: 364}},
		{"flips left near right edge", element.Point{X: 950, Y: 400}, element.Point{X: 814, Y: 364}},
		{"flips below near top", element.Point{X: 500, Y: 10}, element.Point{X: 516, Y: 26}},
		{"corner", element.Point{X: 990, Y: 5}, element.Point{X: 854, Y: 21}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, PlaceTooltip(tt.p, 120, 20, screen))
		})
	}

	// larger than the screen still lands inside it
	got := PlaceTooltip(element.Point{X: 50, Y: 50}, 2000, 20, screen)
	assert.Equal(t, 0, got.X)
}

func TestCycleModeWraps(t *testing.T) {
	i := 0
	for range 3 {
		i = CycleMode(PickModes, i, 1)
	}
	assert.Equal(t, element.GranularityScreen, PickModes[i])

	i = 0
	for range 4 {
		i = CycleMode(ScreenshotModes, i, 1)
	}
	assert.Equal(t, element.GranularityScreen, ScreenshotModes[i])

	assert.Equal(t, 3, CycleMode(ScreenshotModes, 0, -1))
	assert.Equal(t, 0, CycleMode(nil, 5, 1))
}

func TestParseModes(t *testing.T) {
	modes, err := ParseModes([]string{"window", "free"})
	require.NoError(t, err)
	assert.Equal(t, []element.Granularity{element.GranularityWindow, element.GranularityFree}, modes)

	_, err = ParseModes([]string{"window", "window"})
	assert.Error(t, err)
	_, err = ParseModes([]string{"pixel"})
	assert.Error(t, err)
}

func TestSessionConfirmsElement(t *testing.T) {
	f := newFixture(t, PickModes, element.GranularityWindow)
	fut, err := f.session.Start(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateActive, f.session.State())

	require.Len(t, f.factory.overlays, 2)
	assert.Equal(t, 3, f.skip.len(), "overlays and tooltip are transparent to hit testing")

	f.move(200, 200)
	for _, o := range f.factory.overlays {
		assert.Equal(t, f.scene.window.rect, o.highlight)
		assert.Equal(t, element.GranularityWindow, o.mode)
	}
	assert.Contains(t, f.factory.tooltip.text, "Window")
	assert.Contains(t, f.factory.tooltip.text, `"editor"`)
	assert.Equal(t, element.Point{X: 216, Y: 164}, f.factory.tooltip.at)

	// nothing under the pointer: release is ignored
	f.move(1000, 900)
	assert.Equal(t, element.Rect{}, f.factory.overlays[0].highlight)
	f.button(hotkey.MouseUp, hotkey.ButtonLeft, 1000, 900)
	assert.Equal(t, StateActive, f.session.State())

	f.button(hotkey.MouseUp, hotkey.ButtonLeft, 300, 300)
	sel, err := fut.Wait(context.Background())
	require.NoError(t, err)
	require.NotNil(t, sel)
	assert.Same(t, f.scene.window, sel.Element)
	assert.Equal(t, f.scene.window.rect, sel.Rect)
	assert.Equal(t, element.GranularityWindow, sel.Mode)
	assert.Equal(t, StateConfirmed, f.session.State())
	f.assertTornDown(t)
}

func TestSessionCancel(t *testing.T) {
	for _, tc := range []struct {
		name string
		act  func(f *fixture)
	}{
		{"escape", func(f *fixture) { f.key("Escape") }},
		{"right button", func(f *fixture) { f.button(hotkey.MouseDown, hotkey.ButtonRight, 10, 10) }},
		{"explicit", func(f *fixture) { f.session.Cancel() }},
	} {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t, PickModes, element.GranularityElement)
			fut, err := f.session.Start(context.Background())
			require.NoError(t, err)

			tc.act(f)
			sel, err := fut.Result()
			assert.ErrorIs(t, err, ErrCanceled)
			assert.Nil(t, sel)
			assert.Equal(t, StateCanceled, f.session.State())
			f.assertTornDown(t)

			// later input and cancels change nothing
			f.session.Cancel()
			assert.Equal(t, 1, f.finished)
		})
	}
}

func TestSessionContextCancel(t *testing.T) {
	f := newFixture(t, PickModes, element.GranularityScreen)
	ctx, cancel := context.WithCancel(context.Background())
	fut, err := f.session.Start(ctx)
	require.NoError(t, err)

	cancel()
	select {
	case <-fut.Done():
	case <-time.After(time.Second):
		t.Fatal("session not canceled by context")
	}
	_, err = fut.Result()
	assert.ErrorIs(t, err, ErrCanceled)
}

func TestSessionFreeRegion(t *testing.T) {
	f := newFixture(t, ScreenshotModes, element.GranularityFree)
	fut, err := f.session.Start(context.Background())
	require.NoError(t, err)

	// a click without movement selects nothing
	f.button(hotkey.MouseDown, hotkey.ButtonLeft, 50, 50)
	f.button(hotkey.MouseUp, hotkey.ButtonLeft, 50, 50)
	assert.Equal(t, StateActive, f.session.State())

	f.button(hotkey.MouseDown, hotkey.ButtonLeft, 300, 200)
	f.move(100, 150)
	assert.Equal(t, element.Rect{X: 100, Y: 150, Width: 200, Height: 50}, f.factory.overlays[0].highlight)
	assert.Contains(t, f.factory.tooltip.text, "200x50")

	f.button(hotkey.MouseUp, hotkey.ButtonLeft, 100, 140)
	sel, err := fut.Result()
	require.NoError(t, err)
	assert.Nil(t, sel.Element)
	assert.Equal(t, element.Rect{X: 100, Y: 140, Width: 200, Height: 60}, sel.Rect)
	assert.Equal(t, element.GranularityFree, sel.Mode)
}

func TestSessionModeSwitching(t *testing.T) {
	f := newFixture(t, ScreenshotModes, element.GranularityScreen)
	_, err := f.session.Start(context.Background())
	require.NoError(t, err)
	defer f.session.Cancel()

	f.hooks.mouse(hotkey.MouseEvent{Kind: hotkey.MouseWheel, Delta: -1})
	assert.Equal(t, element.GranularityWindow, f.session.Mode())
	f.hooks.mouse(hotkey.MouseEvent{Kind: hotkey.MouseWheel, Delta: 1})
	f.hooks.mouse(hotkey.MouseEvent{Kind: hotkey.MouseWheel, Delta: 1})
	assert.Equal(t, element.GranularityFree, f.session.Mode(), "wheel up wraps backwards")

	f.key("3")
	assert.Equal(t, element.GranularityElement, f.session.Mode())
	f.key("9")
	assert.Equal(t, element.GranularityElement, f.session.Mode(), "out of range digits are ignored")
	f.hooks.key(hotkey.KeyEvent{Key: "Tab", Pressed: true, Modifiers: hotkey.ModShift})
	assert.Equal(t, element.GranularityWindow, f.session.Mode())

	assert.Equal(t, []element.Granularity{
		element.GranularityWindow,
		element.GranularityScreen,
		element.GranularityFree,
		element.GranularityElement,
		element.GranularityWindow,
	}, f.modes)
}

func TestSessionStartFailureCleansUp(t *testing.T) {
	f := newFixture(t, PickModes, element.GranularityWindow)
	f.factory.tooltipErr = errors.New("no visual")
	_, err := f.session.Start(context.Background())
	require.Error(t, err)
	assert.Equal(t, StateIdle, f.session.State())
	for _, o := range f.factory.overlays {
		assert.True(t, o.closed)
	}

	f = newFixture(t, PickModes, element.GranularityWindow)
	f.hooks.failKey = true
	_, err = f.session.Start(context.Background())
	require.Error(t, err)
	assert.Equal(t, 1, f.hooks.released, "mouse hook released after keyboard hook failed")
	assert.Equal(t, 0, f.skip.len())
	assert.Equal(t, 0, f.finished)
}

func TestSessionStartTwice(t *testing.T) {
	f := newFixture(t, PickModes, element.GranularityWindow)
	_, err := f.session.Start(context.Background())
	require.NoError(t, err)
	defer f.session.Cancel()
	_, err = f.session.Start(context.Background())
	assert.ErrorIs(t, err, ErrNotIdle)
}
