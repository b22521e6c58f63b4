package accessibility

import (
	"context"
	"errors"

	"github.com/godbus/dbus/v5"
	"github.com/jimfengnpu/everywhere/internal/element"
)

// ErrUnavailable is returned when the accessibility bus cannot be reached.
var ErrUnavailable = errors.New("accessibility bus unavailable")

// Ref addresses one accessible object: the unique bus name of its
// application and its object path. The field order matches the D-Bus (so)
// struct so a Ref can be decoded directly.
type Ref struct {
	Bus  string
	Path dbus.ObjectPath
}

// IsNull reports the null reference AT-SPI uses for "no object".
func (r Ref) IsNull() bool {
	return r.Bus == "" || r.Path == "" || r.Path == nullPath
}

// Layer is the AT-SPI component layer.
type Layer uint32

const (
	LayerInvalid Layer = iota
	LayerBackground
	LayerCanvas
	LayerWidget
	LayerMDI
	LayerPopup
	LayerOverlay
	LayerWindow
)

// Client is the AT-SPI surface the service needs.
type Client interface {
	// Desktop returns the registry root whose children are applications.
	Desktop() Ref
	Children(ctx context.Context, r Ref) ([]Ref, error)
	Parent(ctx context.Context, r Ref) (Ref, error)
	Role(ctx context.Context, r Ref) (Role, error)
	States(ctx context.Context, r Ref) (StateSet, error)
	Name(ctx context.Context, r Ref) (string, error)
	Interfaces(ctx context.Context, r Ref) ([]string, error)
	// Extents returns the component rectangle in screen coordinates.
	Extents(ctx context.Context, r Ref) (element.Rect, error)
	Layer(ctx context.Context, r Ref) (Layer, error)
	MDIZOrder(ctx context.Context, r Ref) (int, error)
	// ProcessID returns the pid owning a bus name.
	ProcessID(ctx context.Context, bus string) (int, error)
	// FocusEvents streams objects that gained focus until ctx is done.
	FocusEvents(ctx context.Context) (<-chan Ref, error)
	Close() error
}
