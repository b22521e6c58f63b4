// Package window models the native X11 window tree as elements and answers
// point queries against it.
package window

import (
	"github.com/BurntSushi/xgb/xproto"
	"github.com/jimfengnpu/everywhere/internal/element"
)

// Attributes are the window attributes hit testing depends on.
type Attributes struct {
	Mapped           bool
	OverrideRedirect bool
}

// Source issues read-only window queries. Implementations must be safe for
// concurrent use.
type Source interface {
	Root() xproto.Window
	// Children returns the children of w in stacking order, bottom first.
	Children(w xproto.Window) ([]xproto.Window, error)
	// Parent returns the parent of w, or 0 for the root.
	Parent(w xproto.Window) (xproto.Window, error)
	Attributes(w xproto.Window) (Attributes, error)
	// Geometry returns the inner rectangle of w relative to its parent's
	// inner origin (border width already applied).
	Geometry(w xproto.Window) (element.Rect, error)
	// TranslateToRoot returns the root coordinates of w's inner origin.
	TranslateToRoot(w xproto.Window) (element.Point, error)
	// ClientList returns managed client windows in stacking order, bottom
	// first, as published by the window manager.
	ClientList() ([]xproto.Window, error)
	Pid(w xproto.Window) (int, error)
	Name(w xproto.Window) (string, error)
	Class(w xproto.Window) (string, error)
	ActiveWindow() (xproto.Window, error)
	InputFocus() (xproto.Window, error)
}
