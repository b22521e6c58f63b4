package capture

import (
	"context"
	"fmt"

	"github.com/BurntSushi/xgb/xproto"
	"github.com/jimfengnpu/everywhere/internal/element"
	"github.com/jimfengnpu/everywhere/internal/logger"
)

// Capturer routes capture requests to the drawable that best serves the
// target: a composite pixmap or the window itself for windows, the root
// for everything else.
type Capturer struct {
	src ImageSource
}

// NewCapturer creates a capturer over src.
func NewCapturer(src ImageSource) *Capturer {
	return &Capturer{src: src}
}

// Capture reads rect, in screen coordinates, from target. A nil target
// reads the root window. rect must have a positive extent whatever the
// target; pass target.BoundingRectangle() to read a whole element. Every
// error wraps ErrCapture; ctx is checked between native calls.
func (c *Capturer) Capture(ctx context.Context, target element.Element, rect element.Rect) (*PixelBuffer, error) {
	log := logger.WithComponent("capture")

	if rect.Empty() {
		return nil, fmt.Errorf("%w: %s", ErrEmptyRegion, rect)
	}
	if err := c.check(ctx); err != nil {
		return nil, err
	}

	if target != nil && target.Kind() == element.KindWindow {
		win := xproto.Window(target.NativeHandle())
		log.Debug().Uint32("window_id", uint32(win)).Stringer("rect", rect).Msg("Capturing window")
		return c.captureWindow(ctx, win, target.BoundingRectangle(), rect)
	}

	log.Debug().Stringer("rect", rect).Msg("Capturing root region")
	return c.captureRoot(ctx, rect)
}

func (c *Capturer) check(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrCapture, err)
	}
	return nil
}

func (c *Capturer) captureRoot(ctx context.Context, rect element.Rect) (*PixelBuffer, error) {
	bounds, err := c.src.RootBounds()
	if err != nil {
		return nil, fmt.Errorf("%w: root geometry: %w", ErrImageRead, err)
	}
	region := rect.Intersect(bounds)
	if region.Empty() {
		return nil, fmt.Errorf("%w: %s is outside the screen", ErrEmptyRegion, rect)
	}
	if err := c.check(ctx); err != nil {
		return nil, err
	}
	return c.read(xproto.Drawable(c.src.Root()), region)
}

// captureWindow reads rect from window w whose screen bounds are bounds.
func (c *Capturer) captureWindow(ctx context.Context, w xproto.Window, bounds, rect element.Rect) (*PixelBuffer, error) {
	log := logger.WithComponent("capture")

	if w == 0 {
		return nil, fmt.Errorf("%w: no window handle", ErrInvalidTarget)
	}
	viewable, err := c.src.Viewable(w)
	if err != nil {
		return nil, fmt.Errorf("%w: window 0x%x: %w", ErrInvalidTarget, uint32(w), err)
	}
	if !viewable {
		return nil, fmt.Errorf("%w: window 0x%x is not viewable", ErrInvalidTarget, uint32(w))
	}

	local := rect.Intersect(bounds).Offset(-bounds.X, -bounds.Y)
	if local.Empty() {
		return nil, fmt.Errorf("%w: %s is outside window 0x%x", ErrEmptyRegion, rect, uint32(w))
	}
	if err := c.check(ctx); err != nil {
		return nil, err
	}

	drawable := xproto.Drawable(w)
	pixmap, release, ok, err := c.src.WindowPixmap(w)
	switch {
	case err != nil:
		log.Warn().Err(err).Uint32("window_id", uint32(w)).
			Msg("Failed to name window pixmap via Composite, falling back to direct capture")
	case ok:
		defer release()
		drawable = pixmap
	}
	if err := c.check(ctx); err != nil {
		return nil, err
	}
	return c.read(drawable, local)
}

func (c *Capturer) read(d xproto.Drawable, r element.Rect) (*PixelBuffer, error) {
	data, format, err := c.src.GetImage(d, r)
	if err != nil {
		return nil, fmt.Errorf("%w: get image %s: %w", ErrImageRead, r, err)
	}
	return Convert(data, r.Width, r.Height, format)
}
