package picker

import (
	"github.com/BurntSushi/xgb/xproto"
	"github.com/jimfengnpu/everywhere/internal/element"
)

// Overlay is a borderless always-on-top window covering one screen that
// dims everything except the highlighted rectangle.
type Overlay interface {
	Handle() xproto.Window
	// Highlight redraws the mask. r is in screen coordinates; an empty r
	// dims the whole overlay.
	Highlight(r element.Rect, mode element.Granularity) error
	Close() error
}

// Tooltip is a small label window following the pointer.
type Tooltip interface {
	Handle() xproto.Window
	// Measure returns the size the tooltip needs for text.
	Measure(text string) (width, height int)
	Show(text string, at element.Point) error
	Close() error
}

// OverlayFactory creates the windows a session draws with.
type OverlayFactory interface {
	NewOverlay(screen element.Rect) (Overlay, error)
	NewTooltip() (Tooltip, error)
}

// Notifier is told about mode changes.
type Notifier interface {
	ModeChanged(mode element.Granularity)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(element.Granularity)

// ModeChanged implements Notifier.
func (f NotifierFunc) ModeChanged(mode element.Granularity) { f(mode) }

// tooltipGap is the distance between the pointer and the tooltip.
const tooltipGap = 16

// PlaceTooltip positions a w×h tooltip near pointer p inside bounds. It
// prefers above-right of the pointer, flips left or below when that side is
// clipped, and finally clamps into bounds.
func PlaceTooltip(p element.Point, w, h int, bounds element.Rect) element.Point {
	x := p.X + tooltipGap
	y := p.Y - tooltipGap - h
	if x+w > bounds.Right() {
		x = p.X - tooltipGap - w
	}
	if y < bounds.Y {
		y = p.Y + tooltipGap
	}
	x = max(bounds.X, min(x, bounds.Right()-w))
	y = max(bounds.Y, min(y, bounds.Bottom()-h))
	return element.Point{X: x, Y: y}
}
