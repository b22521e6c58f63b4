package window

import (
	"fmt"
	"iter"

	"github.com/BurntSushi/xgb/xproto"
	"github.com/jimfengnpu/everywhere/internal/element"
	"github.com/jimfengnpu/everywhere/internal/logger"
)

// Window is a native window element. Relationships are looked up from the
// server on every call; the wrapper only holds the handle.
type Window struct {
	tree   *Tree
	handle xproto.Window
}

var _ element.Element = (*Window)(nil)

// Handle returns the native window id.
func (w *Window) Handle() xproto.Window { return w.handle }

// ID implements element.Element.
func (w *Window) ID() string { return fmt.Sprintf("window:0x%x", uint32(w.handle)) }

// Kind implements element.Element.
func (w *Window) Kind() element.Kind { return element.KindWindow }

// NativeHandle implements element.Element.
func (w *Window) NativeHandle() uint64 { return uint64(w.handle) }

// ProcessID climbs parents until a window advertises a pid. Frames created
// by a reparenting window manager carry no pid, so their clients are checked
// as well.
func (w *Window) ProcessID() int {
	src := w.tree.src
	for cur := w.handle; cur != 0; {
		if pid, err := src.Pid(cur); err == nil && pid > 0 {
			return pid
		}
		if cur == src.Root() {
			break
		}
		parent, err := src.Parent(cur)
		if err != nil {
			break
		}
		cur = parent
	}
	if w.handle == src.Root() {
		return 0
	}
	return w.tree.clientPID(w.handle, 2)
}

// BoundingRectangle returns the window's rectangle in root coordinates.
func (w *Window) BoundingRectangle() element.Rect {
	src := w.tree.src
	geom, err := src.Geometry(w.handle)
	if err != nil {
		logger.WithComponent("window-tree").Warn().Err(err).Str("window", w.ID()).Msg("Failed to read geometry")
		return element.Rect{}
	}
	if w.handle == src.Root() {
		return element.Rect{Width: geom.Width, Height: geom.Height}
	}
	origin, err := src.TranslateToRoot(w.handle)
	if err != nil {
		logger.WithComponent("window-tree").Warn().Err(err).Str("window", w.ID()).
			Msg("Failed to translate window to root, using local geometry")
		return geom
	}
	return element.Rect{X: origin.X, Y: origin.Y, Width: geom.Width, Height: geom.Height}
}

// Type reports TopLevel for children of the root and for clients inside a
// window manager frame.
func (w *Window) Type() element.Type {
	src := w.tree.src
	root := src.Root()
	if w.handle == root {
		return element.TypeScreen
	}
	parent, err := src.Parent(w.handle)
	if err != nil {
		return element.TypeUnknown
	}
	if parent == root {
		return element.TypeTopLevel
	}
	if grand, err := src.Parent(parent); err == nil && grand == root {
		return element.TypeTopLevel
	}
	return element.TypePanel
}

// States implements element.Element.
func (w *Window) States() element.State {
	var s element.State
	attrs, err := w.tree.src.Attributes(w.handle)
	if err != nil || !attrs.Mapped || !w.tree.onScreen(w.BoundingRectangle()) {
		s |= element.StateOffscreen
	}
	if f := w.tree.FocusedWindow(); f != nil && f.handle == w.handle {
		s |= element.StateFocused
	}
	return s
}

// Name returns the window title. Untitled frames report their client's title.
func (w *Window) Name() string {
	if name := w.tree.name(w.handle); name != "" {
		return name
	}
	children, err := w.tree.src.Children(w.handle)
	if err != nil {
		return ""
	}
	for i := len(children) - 1; i >= 0; i-- {
		if name := w.tree.name(children[i]); name != "" {
			return name
		}
	}
	return ""
}

// Class returns the WM_CLASS class part.
func (w *Window) Class() string {
	class, err := w.tree.src.Class(w.handle)
	if err != nil {
		return ""
	}
	return class
}

// Parent implements element.Element.
func (w *Window) Parent() element.Element {
	if w.handle == w.tree.src.Root() {
		return nil
	}
	parent, err := w.tree.src.Parent(w.handle)
	if err != nil || parent == 0 {
		return nil
	}
	return w.tree.Window(parent)
}

// Children yields child windows bottom first.
func (w *Window) Children() iter.Seq[element.Element] {
	return func(yield func(element.Element) bool) {
		children, err := w.tree.src.Children(w.handle)
		if err != nil {
			logger.WithComponent("window-tree").Warn().Err(err).Str("window", w.ID()).Msg("Failed to query children")
			return
		}
		for _, c := range children {
			if !yield(w.tree.Window(c)) {
				return
			}
		}
	}
}

func (w *Window) String() string { return w.ID() }
