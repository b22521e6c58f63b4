package hotkey

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/BurntSushi/xgb/xproto"
	"github.com/jimfengnpu/everywhere/internal/logger"
	"github.com/jimfengnpu/everywhere/internal/worker"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type inline struct{}

func (inline) Invoke(_ context.Context, op func() error) error { return op() }

type fakeGrabber struct {
	mu        sync.Mutex
	keys      map[variant]bool
	failAfter int // fail the nth GrabKey call (1-based), 0 = never
	calls     int
	keyboard  int
	pointer   int
}

func newFakeGrabber() *fakeGrabber { return &fakeGrabber{keys: map[variant]bool{}} }

func (g *fakeGrabber) GrabKey(code xproto.Keycode, mods uint16) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	if g.failAfter > 0 && g.calls == g.failAfter {
		return errors.New("BadAccess")
	}
	v := variant{code, mods}
	if g.keys[v] {
		return errors.New("BadAccess")
	}
	g.keys[v] = true
	return nil
}

func (g *fakeGrabber) UngrabKey(code xproto.Keycode, mods uint16) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.keys, variant{code, mods})
	return nil
}

func (g *fakeGrabber) adjust(n *int, delta int) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	*n += delta
	return nil
}

func (g *fakeGrabber) GrabKeyboard() error   { return g.adjust(&g.keyboard, 1) }
func (g *fakeGrabber) UngrabKeyboard() error { return g.adjust(&g.keyboard, -1) }
func (g *fakeGrabber) GrabPointer() error    { return g.adjust(&g.pointer, 1) }
func (g *fakeGrabber) UngrabPointer() error  { return g.adjust(&g.pointer, -1) }

func (g *fakeGrabber) outstanding() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.keys)
}

func (g *fakeGrabber) keyboardGrabs() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.keyboard
}

const (
	codeA       xproto.Keycode = 38
	codeEscape  xproto.Keycode = 9
	codeControl xproto.Keycode = 37
	codeShift   xproto.Keycode = 50
)

type fakeKeys struct{}

func (fakeKeys) Keycodes(key string) []xproto.Keycode {
	switch key {
	case "A":
		return []xproto.Keycode{codeA}
	case "Escape":
		return []xproto.Keycode{codeEscape}
	}
	return nil
}

func (fakeKeys) KeyName(code xproto.Keycode) string {
	switch code {
	case codeA:
		return "a"
	case codeEscape:
		return "Escape"
	case codeControl:
		return "Control_L"
	case codeShift:
		return "Shift_L"
	}
	return ""
}

func (fakeKeys) NumLockMask() uint16 { return xproto.ModMask2 }

func newTestRegistry(t *testing.T) (*Registry, *fakeGrabber) {
	t.Helper()
	g := newFakeGrabber()
	handlers := worker.New("handlers", 2, 16)
	hooks := worker.NewOrdered("hooks", 64)
	t.Cleanup(func() {
		hooks.Close()
		handlers.Close()
	})
	return NewRegistry(inline{}, g, fakeKeys{}, handlers, hooks), g
}

func TestParseShortcut(t *testing.T) {
	tests := []struct {
		in      string
		want    Shortcut
		wantErr bool
	}{
		{in: "Ctrl+Shift+A", want: Shortcut{Key: "A", Modifiers: ModCtrl | ModShift}},
		{in: "ctrl + alt + q", want: Shortcut{Key: "Q", Modifiers: ModCtrl | ModAlt}},
		{in: "Super+F12", want: Shortcut{Key: "F12", Modifiers: ModSuper}},
		{in: "Win+esc", want: Shortcut{Key: "Escape", Modifiers: ModSuper}},
		{in: "Ctrl++", want: Shortcut{Key: "plus", Modifiers: ModCtrl}},
		{in: "PgUp", want: Shortcut{Key: "Prior"}},
		{in: "Ctrl+Shift", wantErr: true},
		{in: "Ctrl+A+B", wantErr: true},
		{in: "Ctrl++A", wantErr: true},
		{in: "", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseShortcut(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestShortcutStringIsCanonical(t *testing.T) {
	sc, err := ParseShortcut("shift+control+alt+super+x")
	require.NoError(t, err)
	assert.Equal(t, "Ctrl+Shift+Alt+Super+X", sc.String())

	again, err := ParseShortcut(sc.String())
	require.NoError(t, err)
	assert.Equal(t, sc, again)
}

func TestModifierMasks(t *testing.T) {
	m := ModCtrl | ModAlt
	assert.Equal(t, uint16(xproto.ModMaskControl|xproto.ModMask1), m.X())
	assert.Equal(t, m, ModifiersFromState(xproto.ModMaskControl|xproto.ModMask1|xproto.ModMaskLock|xproto.ModMask2))

	mod, ok := ModifierForKey("ISO_Level3_Shift")
	assert.True(t, ok)
	assert.Equal(t, ModAltGr, mod)
	_, ok = ModifierForKey("a")
	assert.False(t, ok)
}

func TestLockVariants(t *testing.T) {
	assert.Equal(t,
		[]uint16{0, xproto.ModMaskLock, xproto.ModMask2, xproto.ModMaskLock | xproto.ModMask2},
		LockVariants(0))
	assert.Equal(t,
		[]uint16{0, xproto.ModMaskLock, xproto.ModMask3, xproto.ModMaskLock | xproto.ModMask3},
		LockVariants(xproto.ModMask3))
}

func TestGrabUngrabThenRegrab(t *testing.T) {
	r, g := newTestRegistry(t)
	sc := Shortcut{Key: "A", Modifiers: ModCtrl}

	id := r.GrabKey(sc, func() {})
	require.Positive(t, id)
	assert.Equal(t, 4, g.outstanding())

	assert.True(t, r.Ungrab(id))
	assert.Equal(t, 0, g.outstanding())
	assert.False(t, r.Ungrab(id))

	id2 := r.GrabKey(sc, func() {})
	require.Positive(t, id2)
	assert.Greater(t, id2, id)
	assert.Equal(t, 4, g.outstanding())
}

func TestGrabFailureRollsBack(t *testing.T) {
	r, g := newTestRegistry(t)
	g.failAfter = 3

	id := r.GrabKey(Shortcut{Key: "A", Modifiers: ModCtrl}, func() {})
	assert.Zero(t, id)
	assert.Equal(t, 0, g.outstanding())
	assert.Empty(t, r.Registered())
}

func TestGrabUnknownKeyAndDuplicate(t *testing.T) {
	r, _ := newTestRegistry(t)

	assert.Zero(t, r.GrabKey(Shortcut{Key: "F13"}, func() {}))

	sc := Shortcut{Key: "Escape", Modifiers: ModShift}
	require.Positive(t, r.GrabKey(sc, func() {}))
	assert.Zero(t, r.GrabKey(sc, func() {}))
}

func TestDispatchIgnoresLockModifiers(t *testing.T) {
	r, _ := newTestRegistry(t)

	fired := make(chan struct{}, 4)
	require.Positive(t, r.GrabKey(Shortcut{Key: "A", Modifiers: ModCtrl}, func() { fired <- struct{}{} }))

	r.Dispatch(xproto.KeyPressEvent{Detail: codeA, State: xproto.ModMaskControl | xproto.ModMaskLock | xproto.ModMask2})
	select {
	case <-fired:
	case <-time.After(2 * time.Second):
		t.Fatal("handler not called")
	}

	// release, extra modifier and a different key never fire
	r.Dispatch(xproto.KeyReleaseEvent{Detail: codeA, State: xproto.ModMaskControl})
	r.Dispatch(xproto.KeyPressEvent{Detail: codeA, State: xproto.ModMaskControl | xproto.ModMaskShift})
	r.Dispatch(xproto.KeyPressEvent{Detail: codeEscape, State: xproto.ModMaskControl})
	select {
	case <-fired:
		t.Fatal("unexpected handler call")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHookReplacement(t *testing.T) {
	r, g := newTestRegistry(t)

	first, err := r.GrabKeyHook(func(KeyEvent) {})
	require.NoError(t, err)
	got := make(chan KeyEvent, 1)
	second, err := r.GrabKeyHook(func(ev KeyEvent) { got <- ev })
	require.NoError(t, err)
	assert.Equal(t, 1, g.keyboardGrabs())

	assert.False(t, first.Release(), "replaced hook must not clear its successor")
	assert.Equal(t, 1, g.keyboardGrabs())

	r.Dispatch(xproto.KeyPressEvent{Detail: codeEscape})
	select {
	case ev := <-got:
		assert.Equal(t, "Escape", ev.Key)
		assert.True(t, ev.Pressed)
	case <-time.After(2 * time.Second):
		t.Fatal("hook not called")
	}

	assert.True(t, second.Release())
	assert.False(t, second.Release())
	assert.Equal(t, 0, g.keyboardGrabs())
}

func TestMouseHookKeepsOrder(t *testing.T) {
	r, _ := newTestRegistry(t)

	var mu sync.Mutex
	var seen []MouseEvent
	done := make(chan struct{})
	guard, err := r.GrabMouseHook(func(ev MouseEvent) {
		mu.Lock()
		seen = append(seen, ev)
		n := len(seen)
		mu.Unlock()
		if n == 5 {
			close(done)
		}
	})
	require.NoError(t, err)
	defer guard.Release()

	r.Dispatch(xproto.MotionNotifyEvent{RootX: 1, RootY: 1})
	r.Dispatch(xproto.ButtonPressEvent{Detail: ButtonWheelDown, RootX: 1, RootY: 1})
	r.Dispatch(xproto.ButtonReleaseEvent{Detail: ButtonWheelDown, RootX: 1, RootY: 1})
	r.Dispatch(xproto.ButtonPressEvent{Detail: ButtonLeft, RootX: 2, RootY: 2})
	r.Dispatch(xproto.MotionNotifyEvent{RootX: 3, RootY: 4})
	r.Dispatch(xproto.ButtonReleaseEvent{Detail: ButtonLeft, RootX: 3, RootY: 4})

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("mouse hook did not see every event")
	}
	mu.Lock()
	defer mu.Unlock()
	kinds := make([]MouseKind, len(seen))
	for i, ev := range seen {
		kinds[i] = ev.Kind
	}
	assert.Equal(t, []MouseKind{MouseMove, MouseWheel, MouseDown, MouseMove, MouseUp}, kinds)
	assert.Equal(t, -1, seen[1].Delta)
	assert.Equal(t, 3, seen[4].Position.X)
	assert.Equal(t, 4, seen[4].Position.Y)
}

func TestButtonReleaseSurvivesMotionBacklog(t *testing.T) {
	handlers := worker.New("handlers", 1, 4)
	hooks := worker.NewOrdered("hooks", 2)
	t.Cleanup(func() {
		hooks.Close()
		handlers.Close()
	})
	r := NewRegistry(inline{}, newFakeGrabber(), fakeKeys{}, handlers, hooks)

	entered := make(chan struct{})
	unblock := make(chan struct{})
	var mu sync.Mutex
	var seen []MouseEvent
	up := make(chan struct{})
	guard, err := r.GrabMouseHook(func(ev MouseEvent) {
		mu.Lock()
		seen = append(seen, ev)
		first := len(seen) == 1
		mu.Unlock()
		if first {
			close(entered)
			<-unblock
		}
		if ev.Kind == MouseUp {
			close(up)
		}
	})
	require.NoError(t, err)
	defer guard.Release()

	r.Dispatch(xproto.MotionNotifyEvent{RootX: 0, RootY: 0})
	<-entered
	for i := 1; i <= 100; i++ {
		r.Dispatch(xproto.MotionNotifyEvent{RootX: int16(i), RootY: int16(i)})
	}
	r.Dispatch(xproto.ButtonPressEvent{Detail: ButtonLeft, RootX: 100, RootY: 100})
	for i := 101; i <= 110; i++ {
		r.Dispatch(xproto.MotionNotifyEvent{RootX: int16(i), RootY: 100})
	}
	r.Dispatch(xproto.ButtonReleaseEvent{Detail: ButtonLeft, RootX: 110, RootY: 100})
	close(unblock)

	select {
	case <-up:
	case <-time.After(2 * time.Second):
		t.Fatal("button release was not delivered")
	}
	mu.Lock()
	defer mu.Unlock()
	kinds := make([]MouseKind, len(seen))
	for i, ev := range seen {
		kinds[i] = ev.Kind
	}
	assert.Equal(t, []MouseKind{MouseMove, MouseMove, MouseDown, MouseMove, MouseUp}, kinds)
	assert.Equal(t, 100, seen[1].Position.X)
	assert.Equal(t, 110, seen[3].Position.X)
}

func TestKeyHookSurvivesFullLane(t *testing.T) {
	handlers := worker.New("handlers", 1, 4)
	hooks := worker.NewOrdered("hooks", 1)
	t.Cleanup(func() {
		hooks.Close()
		handlers.Close()
	})
	r := NewRegistry(inline{}, newFakeGrabber(), fakeKeys{}, handlers, hooks)

	unblock := make(chan struct{})
	var n atomic.Int32
	done := make(chan struct{})
	guard, err := r.GrabKeyHook(func(ev KeyEvent) {
		if n.Add(1) == 1 {
			<-unblock
		}
		if ev.Key == "Escape" {
			close(done)
		}
	})
	require.NoError(t, err)
	defer guard.Release()

	for range 20 {
		r.Dispatch(xproto.KeyPressEvent{Detail: codeA})
		r.Dispatch(xproto.KeyReleaseEvent{Detail: codeA})
	}
	r.Dispatch(xproto.KeyPressEvent{Detail: codeEscape})
	close(unblock)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("escape was not delivered")
	}
	assert.Equal(t, int32(41), n.Load())
}

func TestCaptureFinalizesOnRelease(t *testing.T) {
	r, g := newTestRegistry(t)

	cs, err := r.StartCapture()
	require.NoError(t, err)
	assert.Equal(t, 1, g.keyboardGrabs())

	r.Dispatch(xproto.KeyPressEvent{Detail: codeControl})
	r.Dispatch(xproto.KeyPressEvent{Detail: codeA, State: xproto.ModMaskControl})
	r.Dispatch(xproto.KeyPressEvent{Detail: codeA, State: xproto.ModMaskControl}) // autorepeat
	r.Dispatch(xproto.KeyReleaseEvent{Detail: codeA, State: xproto.ModMaskControl})
	r.Dispatch(xproto.KeyReleaseEvent{Detail: codeControl, State: xproto.ModMaskControl})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	sc, err := cs.Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Ctrl+A", sc.String())

	var updates []string
	for u := range cs.Updates() {
		updates = append(updates, u.String())
	}
	assert.Equal(t, []string{"Ctrl", "Ctrl+A"}, updates)
	assert.Equal(t, 0, g.keyboardGrabs())
}

func TestCaptureIgnoresModifierOnly(t *testing.T) {
	r, g := newTestRegistry(t)

	cs, err := r.StartCapture()
	require.NoError(t, err)

	r.Dispatch(xproto.KeyPressEvent{Detail: codeShift})
	r.Dispatch(xproto.KeyReleaseEvent{Detail: codeShift, State: xproto.ModMaskShift})

	select {
	case <-cs.Done():
		t.Fatal("modifier-only combination must not finish the capture")
	case <-time.After(50 * time.Millisecond):
	}

	cs.Close()
	_, err = cs.Result()
	assert.ErrorIs(t, err, ErrCaptureAborted)
	assert.Equal(t, 0, g.keyboardGrabs())
}

func TestCaptureLogsDroppedUpdates(t *testing.T) {
	var buf bytes.Buffer
	logger.InitWriter(zerolog.SyncWriter(&buf), "debug", false)
	t.Cleanup(func() { logger.Init("info", false) })

	r, _ := newTestRegistry(t)
	cs, err := r.StartCapture()
	require.NoError(t, err)

	r.Dispatch(xproto.KeyPressEvent{Detail: codeControl})
	for range 40 {
		r.Dispatch(xproto.KeyPressEvent{Detail: codeA, State: xproto.ModMaskControl})
		r.Dispatch(xproto.KeyReleaseEvent{Detail: codeA, State: xproto.ModMaskControl})
	}
	r.Dispatch(xproto.KeyReleaseEvent{Detail: codeControl, State: xproto.ModMaskControl})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	sc, err := cs.Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Ctrl+A", sc.String())
	assert.Contains(t, buf.String(), "Capture update dropped")
}
