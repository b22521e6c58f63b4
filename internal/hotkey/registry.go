// Package hotkey implements global keyboard shortcuts and the single-slot
// keyboard and mouse hooks used by the interactive picker.
package hotkey

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/BurntSushi/xgb"
	"github.com/BurntSushi/xgb/xproto"
	"github.com/jimfengnpu/everywhere/internal/logger"
	"github.com/jimfengnpu/everywhere/internal/slot"
	"github.com/jimfengnpu/everywhere/internal/worker"
)

// Grabber issues the native grab requests. Every method is called on the
// connection thread.
type Grabber interface {
	GrabKey(code xproto.Keycode, mods uint16) error
	UngrabKey(code xproto.Keycode, mods uint16) error
	GrabKeyboard() error
	UngrabKeyboard() error
	GrabPointer() error
	UngrabPointer() error
}

// KeyMapper translates between key names and keycodes.
type KeyMapper interface {
	Keycodes(key string) []xproto.Keycode
	KeyName(code xproto.Keycode) string
	NumLockMask() uint16
}

// Invoker runs an operation on the connection thread and waits for it.
// *connection.Thread satisfies it.
type Invoker interface {
	Invoke(ctx context.Context, op func() error) error
}

// Handler runs when a registered shortcut is pressed.
type Handler func()

// modMask covers the modifier bits of an event state; button bits are
// dropped before matching.
const modMask = 0xff

type variant struct {
	code xproto.Keycode
	mods uint16
}

type registration struct {
	id       int
	shortcut Shortcut
	codes    []xproto.Keycode
	mods     uint16
	handler  Handler
	grabbed  []variant
}

// Registry owns the global shortcut grabs and the hook slots.
type Registry struct {
	exec     Invoker
	grabber  Grabber
	keys     KeyMapper
	handlers *worker.Pool
	hooks    *worker.Pool

	// grabMu serializes grab and ungrab round trips; mu only guards regs
	// and is never held across a call into the connection thread.
	grabMu sync.Mutex
	mu     sync.Mutex
	nextID int
	regs   []*registration

	keyHook   slot.Slot[KeyHook]
	mouseHook slot.Slot[MouseHook]

	// moveMu guards move, the queued motion event later motions are
	// folded into.
	moveMu sync.Mutex
	move   *pendingMove
}

type pendingMove struct {
	ev MouseEvent
}

// NewRegistry creates a registry. Handlers are run on the handlers pool and
// hooks on the hooks pool, which should be ordered so pointer streams keep
// their order.
func NewRegistry(exec Invoker, g Grabber, keys KeyMapper, handlers, hooks *worker.Pool) *Registry {
	return &Registry{
		exec:     exec,
		grabber:  g,
		keys:     keys,
		handlers: handlers,
		hooks:    hooks,
	}
}

// LockVariants returns the lock modifier combinations every grab is
// repeated for: none, CapsLock, NumLock and both.
func LockVariants(numLock uint16) []uint16 {
	if numLock == 0 {
		numLock = xproto.ModMask2
	}
	return []uint16{0, xproto.ModMaskLock, numLock, xproto.ModMaskLock | numLock}
}

func (r *Registry) lockMask() uint16 {
	n := r.keys.NumLockMask()
	if n == 0 {
		n = xproto.ModMask2
	}
	return xproto.ModMaskLock | n
}

// GrabKey registers a global shortcut and returns its id, or 0 when the
// key has no keycode, the shortcut is already registered here, or any
// native grab fails. A failed registration leaves no grabs behind.
func (r *Registry) GrabKey(sc Shortcut, handler Handler) int {
	log := logger.WithComponent("hotkey")

	codes := r.keys.Keycodes(sc.Key)
	if len(codes) == 0 {
		log.Warn().Str("shortcut", sc.String()).Msg("No keycode for shortcut key")
		return 0
	}
	mods := sc.Modifiers.X()

	r.grabMu.Lock()
	defer r.grabMu.Unlock()

	r.mu.Lock()
	for _, reg := range r.regs {
		if reg.mods == mods && overlaps(reg.codes, codes) {
			r.mu.Unlock()
			log.Warn().Str("shortcut", sc.String()).Int("id", reg.id).Msg("Shortcut already registered")
			return 0
		}
	}
	r.mu.Unlock()

	var grabbed []variant
	err := r.exec.Invoke(context.Background(), func() error {
		for _, code := range codes {
			for _, lock := range LockVariants(r.keys.NumLockMask()) {
				v := variant{code: code, mods: mods | lock}
				if err := r.grabber.GrabKey(v.code, v.mods); err != nil {
					r.ungrabAll(grabbed)
					grabbed = nil
					return fmt.Errorf("grab keycode %d mods %#x: %w", v.code, v.mods, err)
				}
				grabbed = append(grabbed, v)
			}
		}
		return nil
	})
	if err != nil {
		log.Warn().Err(err).Str("shortcut", sc.String()).Msg("Failed to grab shortcut")
		return 0
	}

	r.mu.Lock()
	r.nextID++
	reg := &registration{
		id:       r.nextID,
		shortcut: sc,
		codes:    codes,
		mods:     mods,
		handler:  handler,
		grabbed:  grabbed,
	}
	r.regs = append(r.regs, reg)
	r.mu.Unlock()
	log.Info().Str("shortcut", sc.String()).Int("id", reg.id).Int("variants", len(grabbed)).Msg("Registered shortcut")
	return reg.id
}

// Ungrab removes a registration and releases exactly the grabs it made.
func (r *Registry) Ungrab(id int) bool {
	r.grabMu.Lock()
	defer r.grabMu.Unlock()

	r.mu.Lock()
	idx := slices.IndexFunc(r.regs, func(reg *registration) bool { return reg.id == id })
	if idx < 0 {
		r.mu.Unlock()
		return false
	}
	reg := r.regs[idx]
	r.regs = slices.Delete(r.regs, idx, idx+1)
	r.mu.Unlock()

	err := r.exec.Invoke(context.Background(), func() error {
		r.ungrabAll(reg.grabbed)
		return nil
	})
	if err != nil {
		logger.WithComponent("hotkey").Warn().Err(err).Int("id", id).Msg("Could not release shortcut grabs")
	}
	return true
}

func (r *Registry) ungrabAll(vs []variant) {
	for _, v := range vs {
		if err := r.grabber.UngrabKey(v.code, v.mods); err != nil {
			logger.WithComponent("hotkey").Warn().Err(err).
				Uint8("keycode", uint8(v.code)).
				Uint16("mods", v.mods).
				Msg("Ungrab failed")
		}
	}
}

// Registered returns the shortcuts currently registered, by id.
func (r *Registry) Registered() map[int]Shortcut {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[int]Shortcut, len(r.regs))
	for _, reg := range r.regs {
		out[reg.id] = reg.shortcut
	}
	return out
}

// HookGuard uninstalls a hook. Release only has an effect while the hook it
// installed is still the active one.
type HookGuard struct {
	release func() bool
}

// NewHookGuard wraps a release function. release reports whether the hook
// was still installed.
func NewHookGuard(release func() bool) *HookGuard {
	return &HookGuard{release: release}
}

// Release uninstalls the hook and reports whether it was still installed.
func (g *HookGuard) Release() bool {
	if g == nil || g.release == nil {
		return false
	}
	return g.release()
}

// GrabKeyHook installs h as the keyboard hook, replacing any previous hook,
// and grabs the keyboard while a hook is installed.
func (r *Registry) GrabKeyHook(h KeyHook) (*HookGuard, error) {
	g, _, replaced := r.keyHook.Install(h)
	if !replaced {
		if err := r.exec.Invoke(context.Background(), r.grabber.GrabKeyboard); err != nil {
			g.Release()
			return nil, fmt.Errorf("grab keyboard: %w", err)
		}
	}
	return NewHookGuard(func() bool {
		if !g.Release() {
			return false
		}
		if err := r.exec.Invoke(context.Background(), r.grabber.UngrabKeyboard); err != nil {
			logger.WithComponent("hotkey").Warn().Err(err).Msg("Ungrab keyboard failed")
		}
		return true
	}), nil
}

// GrabMouseHook installs h as the mouse hook, replacing any previous hook,
// and grabs the pointer while a hook is installed.
func (r *Registry) GrabMouseHook(h MouseHook) (*HookGuard, error) {
	g, _, replaced := r.mouseHook.Install(h)
	if !replaced {
		if err := r.exec.Invoke(context.Background(), r.grabber.GrabPointer); err != nil {
			g.Release()
			return nil, fmt.Errorf("grab pointer: %w", err)
		}
	}
	return NewHookGuard(func() bool {
		if !g.Release() {
			return false
		}
		if err := r.exec.Invoke(context.Background(), r.grabber.UngrabPointer); err != nil {
			logger.WithComponent("hotkey").Warn().Err(err).Msg("Ungrab pointer failed")
		}
		return true
	}), nil
}

// Dispatch routes a native event. It runs on the connection thread and
// never calls hooks or handlers inline.
func (r *Registry) Dispatch(ev xgb.Event) {
	switch e := ev.(type) {
	case xproto.KeyPressEvent:
		r.dispatchKey(e.Detail, e.State, true)
	case xproto.KeyReleaseEvent:
		r.dispatchKey(e.Detail, e.State, false)
	default:
		me, ok := mouseEventFrom(ev)
		if !ok {
			return
		}
		if hook, ok := r.mouseHook.Load(); ok && hook != nil {
			r.dispatchMouse(hook, me)
		}
	}
}

// dispatchMouse queues me on the hook lane. Consecutive moves collapse into
// the one still queued; any other event ends the run so order is kept.
// Nothing is dropped.
func (r *Registry) dispatchMouse(hook MouseHook, me MouseEvent) {
	r.moveMu.Lock()
	if me.Kind != MouseMove {
		r.move = nil
		r.moveMu.Unlock()
		r.hooks.Keep(func() { hook(me) })
		return
	}
	if r.move != nil {
		r.move.ev = me
		r.moveMu.Unlock()
		return
	}
	pm := &pendingMove{ev: me}
	r.move = pm
	r.moveMu.Unlock()

	r.hooks.Keep(func() {
		r.moveMu.Lock()
		ev := pm.ev
		if r.move == pm {
			r.move = nil
		}
		r.moveMu.Unlock()
		hook(ev)
	})
}

func (r *Registry) dispatchKey(code xproto.Keycode, state uint16, pressed bool) {
	if hook, ok := r.keyHook.Load(); ok && hook != nil {
		ke := KeyEvent{
			Code:      code,
			State:     state,
			Key:       r.keys.KeyName(code),
			Modifiers: ModifiersFromState(state),
			Pressed:   pressed,
		}
		r.moveMu.Lock()
		r.move = nil
		r.moveMu.Unlock()
		r.hooks.Keep(func() { hook(ke) })
	}
	if !pressed {
		return
	}

	mods := state & modMask &^ r.lockMask()
	r.mu.Lock()
	var matched []Handler
	for _, reg := range r.regs {
		if reg.mods == mods && slices.Contains(reg.codes, code) {
			matched = append(matched, reg.handler)
		}
	}
	r.mu.Unlock()

	for _, h := range matched {
		if h != nil {
			r.handlers.Submit(func() { h() })
		}
	}
}

// Close releases every registration and installed hook.
func (r *Registry) Close() {
	r.mu.Lock()
	ids := make([]int, 0, len(r.regs))
	for _, reg := range r.regs {
		ids = append(ids, reg.id)
	}
	r.mu.Unlock()
	for _, id := range ids {
		r.Ungrab(id)
	}
}

func overlaps(a, b []xproto.Keycode) bool {
	for _, c := range a {
		if slices.Contains(b, c) {
			return true
		}
	}
	return false
}
