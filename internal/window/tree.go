package window

import (
	"slices"
	"sync"

	"github.com/BurntSushi/xgb"
	"github.com/BurntSushi/xgb/xproto"
	"github.com/jimfengnpu/everywhere/internal/element"
	"github.com/jimfengnpu/everywhere/internal/logger"
)

// Tree answers queries against the window hierarchy and hands out one
// wrapper per native window.
type Tree struct {
	src   Source
	cache *element.Cache[xproto.Window, *Window]

	mu      sync.RWMutex
	skip    map[xproto.Window]struct{}
	screens []element.Rect
}

// NewTree creates a tree over src.
func NewTree(src Source) *Tree {
	return &Tree{
		src:   src,
		cache: element.NewCache[xproto.Window, *Window](nil),
		skip:  make(map[xproto.Window]struct{}),
	}
}

// Window returns the wrapper for h. Repeated calls return the same pointer
// until the window is destroyed.
func (t *Tree) Window(h xproto.Window) *Window {
	w, _ := t.cache.GetOrCreate(h, func(h xproto.Window) (*Window, error) {
		return &Window{tree: t, handle: h}, nil
	})
	return w
}

// FromHandle returns the window for a native handle, or nil if the server
// does not know it.
func (t *Tree) FromHandle(h xproto.Window) *Window {
	if h == 0 {
		return nil
	}
	if _, err := t.src.Attributes(h); err != nil {
		logger.WithComponent("window-tree").Debug().Err(err).Uint32("window", uint32(h)).Msg("Unknown window handle")
		return nil
	}
	return t.Window(h)
}

// Root returns the root window.
func (t *Tree) Root() *Window { return t.Window(t.src.Root()) }

// SetScreens records the screen rectangles used for the Offscreen state.
func (t *Tree) SetScreens(screens []element.Rect) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.screens = slices.Clone(screens)
}

func (t *Tree) onScreen(r element.Rect) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if len(t.screens) == 0 {
		return !r.Empty()
	}
	for _, s := range t.screens {
		if s.Intersects(r) {
			return true
		}
	}
	return false
}

// SetSkip makes windows transparent to WindowAtPoint.
func (t *Tree) SetSkip(handles ...xproto.Window) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, h := range handles {
		t.skip[h] = struct{}{}
	}
}

// ClearSkip undoes SetSkip. With no arguments the whole skip set is cleared.
func (t *Tree) ClearSkip(handles ...xproto.Window) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(handles) == 0 {
		clear(t.skip)
		return
	}
	for _, h := range handles {
		delete(t.skip, h)
	}
}

func (t *Tree) skipped(h xproto.Window) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.skip[h]
	return ok
}

type hitKind int

const (
	hitNone hitKind = iota
	// hitSkip: the point fell on a transparent window; keep looking below it.
	hitSkip
	hitFound
)

// WindowAtPoint returns the deepest visible window containing p, searching
// children top first. Unmapped, override-redirect and skipped windows are
// transparent. Nil is returned when only the root contains p.
func (t *Tree) WindowAtPoint(p element.Point) *Window {
	root := t.src.Root()
	children, err := t.src.Children(root)
	if err != nil {
		logger.WithComponent("window-tree").Warn().Err(err).Msg("Failed to query root children")
		return nil
	}
	for i := len(children) - 1; i >= 0; i-- {
		if h, kind := t.hit(children[i], element.Point{}, p); kind == hitFound {
			return t.Window(h)
		}
	}
	return nil
}

// hit tests w, whose parent's inner origin is at origin in root coordinates.
func (t *Tree) hit(w xproto.Window, origin, p element.Point) (xproto.Window, hitKind) {
	log := logger.WithComponent("window-tree")

	attrs, err := t.src.Attributes(w)
	if err != nil {
		log.Debug().Err(err).Uint32("window", uint32(w)).Msg("Skipping window without attributes")
		return 0, hitNone
	}
	if !attrs.Mapped {
		return 0, hitNone
	}
	geom, err := t.src.Geometry(w)
	if err != nil {
		log.Debug().Err(err).Uint32("window", uint32(w)).Msg("Skipping window without geometry")
		return 0, hitNone
	}
	abs := geom.Offset(origin.X, origin.Y)
	if !abs.Contains(p) {
		return 0, hitNone
	}
	if attrs.OverrideRedirect || t.skipped(w) {
		return 0, hitSkip
	}

	children, err := t.src.Children(w)
	if err != nil {
		log.Debug().Err(err).Uint32("window", uint32(w)).Msg("Failed to query children")
		return w, hitFound
	}
	inner := element.Point{X: abs.X, Y: abs.Y}
	for i := len(children) - 1; i >= 0; i-- {
		if h, kind := t.hit(children[i], inner, p); kind == hitFound {
			return h, hitFound
		}
	}
	return w, hitFound
}

// TopLevels returns mapped, non-override-redirect top-level windows, top
// first. The window manager's stacking list is preferred; the root's
// children are used when it is unavailable.
func (t *Tree) TopLevels() []*Window {
	log := logger.WithComponent("window-tree")

	handles, err := t.src.ClientList()
	if err != nil || len(handles) == 0 {
		if err != nil {
			log.Debug().Err(err).Msg("Client list unavailable, falling back to root children")
		}
		handles, err = t.src.Children(t.src.Root())
		if err != nil {
			log.Warn().Err(err).Msg("Failed to query root children")
			return nil
		}
	}

	out := make([]*Window, 0, len(handles))
	for i := len(handles) - 1; i >= 0; i-- {
		attrs, err := t.src.Attributes(handles[i])
		if err != nil || !attrs.Mapped || attrs.OverrideRedirect {
			continue
		}
		out = append(out, t.Window(handles[i]))
	}
	return out
}

// FocusedWindow returns the active window, falling back to the input focus.
func (t *Tree) FocusedWindow() *Window {
	if h, err := t.src.ActiveWindow(); err == nil && h != 0 {
		return t.Window(h)
	}
	h, err := t.src.InputFocus()
	// None and PointerRoot
	if err != nil || h <= 1 || h == t.src.Root() {
		return nil
	}
	return t.Window(h)
}

// WindowsForPID returns the top-level windows owned by pid, top first.
func (t *Tree) WindowsForPID(pid int) []*Window {
	if pid <= 0 {
		return nil
	}
	var out []*Window
	for _, w := range t.TopLevels() {
		if w.ProcessID() == pid {
			out = append(out, w)
		}
	}
	return out
}

// HandleEvent evicts wrappers of destroyed windows. It is installed as a
// connection thread dispatcher.
func (t *Tree) HandleEvent(ev xgb.Event) {
	if e, ok := ev.(xproto.DestroyNotifyEvent); ok {
		t.cache.Evict(e.Window)
		t.ClearSkip(e.Window)
	}
}

// Cached returns how many wrappers are alive.
func (t *Tree) Cached() int { return t.cache.Len() }

func (t *Tree) name(h xproto.Window) string {
	name, err := t.src.Name(h)
	if err != nil {
		return ""
	}
	return name
}

// clientPID searches descendants of w up to depth levels for a pid.
func (t *Tree) clientPID(w xproto.Window, depth int) int {
	if depth == 0 {
		return 0
	}
	children, err := t.src.Children(w)
	if err != nil {
		return 0
	}
	for i := len(children) - 1; i >= 0; i-- {
		if pid, err := t.src.Pid(children[i]); err == nil && pid > 0 {
			return pid
		}
	}
	for i := len(children) - 1; i >= 0; i-- {
		if pid := t.clientPID(children[i], depth-1); pid > 0 {
			return pid
		}
	}
	return 0
}
