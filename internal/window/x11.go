package window

import (
	"fmt"

	"github.com/BurntSushi/xgb/xproto"
	"github.com/BurntSushi/xgbutil"
	"github.com/BurntSushi/xgbutil/ewmh"
	"github.com/BurntSushi/xgbutil/icccm"
	"github.com/jimfengnpu/everywhere/internal/element"
)

// X11Source reads the window tree from an X server.
type X11Source struct {
	xu   *xgbutil.XUtil
	root xproto.Window
}

var _ Source = (*X11Source)(nil)

// NewX11Source creates a source over an existing connection.
func NewX11Source(xu *xgbutil.XUtil) *X11Source {
	return &X11Source{xu: xu, root: xu.RootWin()}
}

// Root implements Source.
func (s *X11Source) Root() xproto.Window { return s.root }

// Children implements Source.
func (s *X11Source) Children(w xproto.Window) ([]xproto.Window, error) {
	tree, err := xproto.QueryTree(s.xu.Conn(), w).Reply()
	if err != nil {
		return nil, fmt.Errorf("query tree 0x%x: %w", uint32(w), err)
	}
	return tree.Children, nil
}

// Parent implements Source.
func (s *X11Source) Parent(w xproto.Window) (xproto.Window, error) {
	if w == s.root {
		return 0, nil
	}
	tree, err := xproto.QueryTree(s.xu.Conn(), w).Reply()
	if err != nil {
		return 0, fmt.Errorf("query tree 0x%x: %w", uint32(w), err)
	}
	return tree.Parent, nil
}

// Attributes implements Source.
func (s *X11Source) Attributes(w xproto.Window) (Attributes, error) {
	attrs, err := xproto.GetWindowAttributes(s.xu.Conn(), w).Reply()
	if err != nil {
		return Attributes{}, fmt.Errorf("get attributes 0x%x: %w", uint32(w), err)
	}
	return Attributes{
		Mapped:           attrs.MapState == xproto.MapStateViewable,
		OverrideRedirect: attrs.OverrideRedirect,
	}, nil
}

// Geometry implements Source.
func (s *X11Source) Geometry(w xproto.Window) (element.Rect, error) {
	geom, err := xproto.GetGeometry(s.xu.Conn(), xproto.Drawable(w)).Reply()
	if err != nil {
		return element.Rect{}, fmt.Errorf("get geometry 0x%x: %w", uint32(w), err)
	}
	bw := int(geom.BorderWidth)
	return element.Rect{
		X:      int(geom.X) + bw,
		Y:      int(geom.Y) + bw,
		Width:  int(geom.Width),
		Height: int(geom.Height),
	}, nil
}

// TranslateToRoot implements Source.
func (s *X11Source) TranslateToRoot(w xproto.Window) (element.Point, error) {
	reply, err := xproto.TranslateCoordinates(s.xu.Conn(), w, s.root, 0, 0).Reply()
	if err != nil {
		return element.Point{}, fmt.Errorf("translate 0x%x: %w", uint32(w), err)
	}
	return element.Point{X: int(reply.DstX), Y: int(reply.DstY)}, nil
}

// ClientList implements Source using _NET_CLIENT_LIST_STACKING.
func (s *X11Source) ClientList() ([]xproto.Window, error) {
	return ewmh.ClientListStackingGet(s.xu)
}

// Pid implements Source using _NET_WM_PID.
func (s *X11Source) Pid(w xproto.Window) (int, error) {
	pid, err := ewmh.WmPidGet(s.xu, w)
	if err != nil {
		return 0, err
	}
	return int(pid), nil
}

// Name implements Source, preferring _NET_WM_NAME over WM_NAME.
func (s *X11Source) Name(w xproto.Window) (string, error) {
	if name, err := ewmh.WmNameGet(s.xu, w); err == nil && name != "" {
		return name, nil
	}
	return icccm.WmNameGet(s.xu, w)
}

// Class implements Source. The class part of WM_CLASS is returned, or the
// instance when the class is empty.
func (s *X11Source) Class(w xproto.Window) (string, error) {
	class, err := icccm.WmClassGet(s.xu, w)
	if err != nil {
		return "", err
	}
	if class.Class != "" {
		return class.Class, nil
	}
	return class.Instance, nil
}

// ActiveWindow implements Source using _NET_ACTIVE_WINDOW.
func (s *X11Source) ActiveWindow() (xproto.Window, error) {
	return ewmh.ActiveWindowGet(s.xu)
}

// InputFocus implements Source.
func (s *X11Source) InputFocus() (xproto.Window, error) {
	reply, err := xproto.GetInputFocus(s.xu.Conn()).Reply()
	if err != nil {
		return 0, err
	}
	return reply.Focus, nil
}

// Pointer returns the pointer position in root coordinates.
func (s *X11Source) Pointer() (element.Point, error) {
	reply, err := xproto.QueryPointer(s.xu.Conn(), s.root).Reply()
	if err != nil {
		return element.Point{}, fmt.Errorf("query pointer: %w", err)
	}
	return element.Point{X: int(reply.RootX), Y: int(reply.RootY)}, nil
}
