package capture

import (
	"context"
	"fmt"
	"time"

	"github.com/BurntSushi/xgb"
	"github.com/BurntSushi/xgb/composite"
	"github.com/BurntSushi/xgb/xproto"
	"github.com/jimfengnpu/everywhere/internal/element"
	"github.com/jimfengnpu/everywhere/internal/logger"
)

// Invoker runs an operation on the connection thread and waits for it.
type Invoker interface {
	Invoke(ctx context.Context, op func() error) error
}

// redirector issues the composite requests that change server state.
type redirector interface {
	Redirect(w xproto.Window) error
	NamePixmap(w xproto.Window) (xproto.Pixmap, error)
	FreePixmap(p xproto.Pixmap)
	Unredirect(w xproto.Window)
}

// releaseTimeout bounds how long a pixmap release waits for the connection
// thread.
const releaseTimeout = 2 * time.Second

// X11Source reads images over an X connection. Requests that change server
// state run on the connection thread through exec.
type X11Source struct {
	conn             *xgb.Conn
	exec             Invoker
	redirect         redirector
	setup            *xproto.SetupInfo
	screen           *xproto.ScreenInfo
	compositeEnabled bool
}

var _ ImageSource = (*X11Source)(nil)

// NewX11Source creates a source over conn and probes the composite
// extension.
func NewX11Source(conn *xgb.Conn, exec Invoker) *X11Source {
	log := logger.WithComponent("capture")

	setup := xproto.Setup(conn)
	s := &X11Source{
		conn:     conn,
		exec:     exec,
		redirect: xRedirector{conn},
		setup:    setup,
		screen:   setup.DefaultScreen(conn),
	}

	if err := composite.Init(conn); err != nil {
		log.Warn().
			Err(err).
			Msg("Composite extension not available - captures of obscured windows will show what covers them")
	} else {
		s.compositeEnabled = true
		log.Info().Msg("Composite extension initialized")
	}
	return s
}

// Root implements ImageSource.
func (s *X11Source) Root() xproto.Window { return s.screen.Root }

// RootBounds implements ImageSource.
func (s *X11Source) RootBounds() (element.Rect, error) {
	return element.Rect{Width: int(s.screen.WidthInPixels), Height: int(s.screen.HeightInPixels)}, nil
}

// Viewable implements ImageSource.
func (s *X11Source) Viewable(w xproto.Window) (bool, error) {
	attrs, err := xproto.GetWindowAttributes(s.conn, w).Reply()
	if err != nil {
		return false, fmt.Errorf("failed to get window attributes: %w", err)
	}
	logger.WithComponent("capture").Debug().
		Uint32("window_id", uint32(w)).
		Uint16("class", attrs.Class).
		Uint8("map_state", attrs.MapState).
		Msg("Window attributes")
	return attrs.Class == xproto.WindowClassInputOutput && attrs.MapState == xproto.MapStateViewable, nil
}

// WindowPixmap implements ImageSource with the composite extension. The
// redirect and the release both run on the connection thread.
func (s *X11Source) WindowPixmap(w xproto.Window) (xproto.Drawable, func(), bool, error) {
	if !s.compositeEnabled {
		return 0, nil, false, nil
	}

	var pixmap xproto.Pixmap
	err := s.exec.Invoke(context.Background(), func() error {
		if err := s.redirect.Redirect(w); err != nil {
			return fmt.Errorf("redirect window: %w", err)
		}
		p, err := s.redirect.NamePixmap(w)
		if err != nil {
			s.redirect.Unredirect(w)
			return err
		}
		pixmap = p
		return nil
	})
	if err != nil {
		return 0, nil, false, err
	}
	logger.WithComponent("capture").Debug().
		Uint32("window_id", uint32(w)).
		Msg("Using Composite pixmap for window capture")

	release := func() {
		ctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
		defer cancel()
		err := s.exec.Invoke(ctx, func() error {
			s.redirect.FreePixmap(pixmap)
			s.redirect.Unredirect(w)
			return nil
		})
		if err != nil {
			logger.WithComponent("capture").Warn().Err(err).
				Uint32("window_id", uint32(w)).
				Msg("Failed to release window pixmap")
		}
	}
	return xproto.Drawable(pixmap), release, true, nil
}

type xRedirector struct {
	conn *xgb.Conn
}

func (x xRedirector) Redirect(w xproto.Window) error {
	return composite.RedirectWindowChecked(x.conn, w, composite.RedirectAutomatic).Check()
}

func (x xRedirector) NamePixmap(w xproto.Window) (xproto.Pixmap, error) {
	pixmap, err := xproto.NewPixmapId(x.conn)
	if err != nil {
		return 0, fmt.Errorf("allocate pixmap id: %w", err)
	}
	if err := composite.NameWindowPixmapChecked(x.conn, w, pixmap).Check(); err != nil {
		return 0, fmt.Errorf("name window pixmap: %w", err)
	}
	return pixmap, nil
}

func (x xRedirector) FreePixmap(p xproto.Pixmap) { xproto.FreePixmap(x.conn, p) }

func (x xRedirector) Unredirect(w xproto.Window) {
	composite.UnredirectWindow(x.conn, w, composite.RedirectAutomatic)
}

// GetImage implements ImageSource.
func (s *X11Source) GetImage(d xproto.Drawable, r element.Rect) ([]byte, PixelFormat, error) {
	reply, err := xproto.GetImage(
		s.conn,
		xproto.ImageFormatZPixmap,
		d,
		int16(r.X), int16(r.Y),
		uint16(r.Width), uint16(r.Height),
		0xffffffff, // plane mask
	).Reply()
	if err != nil {
		return nil, PixelFormat{}, fmt.Errorf("failed to get image: %w", err)
	}
	format, err := s.format(reply.Depth, reply.Visual)
	if err != nil {
		return nil, PixelFormat{}, err
	}
	logger.WithComponent("capture").Debug().
		Int("bytes", len(reply.Data)).
		Int("depth", format.Depth).
		Int("bpp", format.BitsPerPixel).
		Msg("Capture data received")
	return reply.Data, format, nil
}

// format combines the pixmap format for depth with the visual's masks.
// Pixmaps have no visual, so the first TrueColor visual of that depth is
// used.
func (s *X11Source) format(depth byte, visual xproto.Visualid) (PixelFormat, error) {
	f := PixelFormat{Depth: int(depth), MSBFirst: s.setup.ImageByteOrder == xproto.ImageOrderMSBFirst}
	for _, pf := range s.setup.PixmapFormats {
		if pf.Depth == depth {
			f.BitsPerPixel = int(pf.BitsPerPixel)
			f.ScanlinePad = int(pf.ScanlinePad)
			break
		}
	}
	if f.BitsPerPixel == 0 {
		return f, fmt.Errorf("%w: no pixmap format for depth %d", ErrImageRead, depth)
	}

	for _, d := range s.screen.AllowedDepths {
		if d.Depth != depth {
			continue
		}
		for _, v := range d.Visuals {
			if v.VisualId == visual || (visual == 0 && v.Class == xproto.VisualClassTrueColor) {
				f.RedMask, f.GreenMask, f.BlueMask = v.RedMask, v.GreenMask, v.BlueMask
				return f, nil
			}
		}
	}
	if depth >= 24 {
		f.RedMask, f.GreenMask, f.BlueMask = 0xff0000, 0xff00, 0xff
	}
	return f, nil
}
