// Package overlay draws the picker's highlight masks and tooltip as
// override-redirect X11 windows that never take input.
package overlay

import (
	"context"
	"fmt"
	"image"
	"sync"
	"time"

	"github.com/BurntSushi/xgb"
	"github.com/BurntSushi/xgb/shape"
	"github.com/BurntSushi/xgb/xproto"
	"github.com/jimfengnpu/everywhere/internal/element"
	"github.com/jimfengnpu/everywhere/internal/logger"
	"github.com/jimfengnpu/everywhere/internal/picker"
)

// Executor runs native calls on the connection thread.
type Executor interface {
	Invoke(ctx context.Context, op func() error) error
}

// opTimeout bounds how long a drawing call waits for the connection thread.
const opTimeout = 2 * time.Second

// Manager creates overlay and tooltip windows and repaints them on Expose.
type Manager struct {
	conn   *xgb.Conn
	exec   Executor
	screen *xproto.ScreenInfo
	style  Style

	argbVisual xproto.Visualid // zero without a 32-bit TrueColor visual
	shaped     bool

	mu       sync.Mutex
	surfaces map[xproto.Window]*surface
}

var _ picker.OverlayFactory = (*Manager)(nil)

// NewManager creates a window manager for overlays on conn.
func NewManager(conn *xgb.Conn, exec Executor, style Style) *Manager {
	log := logger.WithComponent("overlay")
	setup := xproto.Setup(conn)
	m := &Manager{
		conn:     conn,
		exec:     exec,
		screen:   setup.DefaultScreen(conn),
		style:    style,
		surfaces: make(map[xproto.Window]*surface),
	}

	if err := shape.Init(conn); err != nil {
		log.Warn().Err(err).Msg("Shape extension not available - overlays may intercept input")
	} else {
		m.shaped = true
	}

	for _, d := range m.screen.AllowedDepths {
		if d.Depth != 32 {
			continue
		}
		for _, v := range d.Visuals {
			if v.Class == xproto.VisualClassTrueColor {
				m.argbVisual = v.VisualId
				break
			}
		}
	}
	if m.argbVisual == 0 {
		log.Info().Msg("No 32-bit visual - overlays draw outlines only")
	}
	return m
}

// Translucent reports whether overlays can dim the screen.
func (m *Manager) Translucent() bool { return m.argbVisual != 0 }

// NewOverlay implements picker.OverlayFactory.
func (m *Manager) NewOverlay(screen element.Rect) (picker.Overlay, error) {
	s, err := m.createSurface(screen, m.Translucent(), true)
	if err != nil {
		return nil, err
	}
	o := &overlayWindow{surface: s}
	if err := o.Highlight(element.Rect{}, element.GranularityWindow); err != nil {
		o.Close()
		return nil, err
	}
	return o, nil
}

// NewTooltip implements picker.OverlayFactory.
func (m *Manager) NewTooltip() (picker.Tooltip, error) {
	s, err := m.createSurface(element.Rect{Width: 1, Height: 1}, false, false)
	if err != nil {
		return nil, err
	}
	return &tooltipWindow{surface: s, label: NewLabel(m.style.Color)}, nil
}

// HandleEvent repaints exposed overlay windows. Register it as a
// connection dispatcher.
func (m *Manager) HandleEvent(ev xgb.Event) {
	e, ok := ev.(xproto.ExposeEvent)
	if !ok || e.Count != 0 {
		return
	}
	m.mu.Lock()
	s := m.surfaces[e.Window]
	m.mu.Unlock()
	if s != nil {
		s.repaint()
	}
}

func (m *Manager) invoke(op func() error) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()
	return m.exec.Invoke(ctx, op)
}

// surface is one override-redirect window with its last painted image.
type surface struct {
	mgr    *Manager
	win    xproto.Window
	gc     xproto.Gcontext
	cmap   xproto.Colormap
	depth  byte
	bounds element.Rect
	argb   bool
	mapped bool
	lastMu sync.Mutex
	last   *image.RGBA
}

func (m *Manager) createSurface(bounds element.Rect, argb, mapNow bool) (*surface, error) {
	s := &surface{mgr: m, bounds: bounds, argb: argb, depth: m.screen.RootDepth}
	err := m.invoke(func() error {
		win, err := xproto.NewWindowId(m.conn)
		if err != nil {
			return fmt.Errorf("failed to create window ID: %w", err)
		}
		s.win = win

		visual := m.screen.RootVisual
		if argb {
			cmap, err := xproto.NewColormapId(m.conn)
			if err != nil {
				return fmt.Errorf("failed to create colormap ID: %w", err)
			}
			if err := xproto.CreateColormapChecked(m.conn, xproto.ColormapAllocNone, cmap, m.screen.Root, m.argbVisual).Check(); err != nil {
				return fmt.Errorf("failed to create colormap: %w", err)
			}
			s.cmap, s.depth, visual = cmap, 32, m.argbVisual
		}

		mask := uint32(xproto.CwBackPixel | xproto.CwBorderPixel | xproto.CwOverrideRedirect | xproto.CwEventMask)
		values := []uint32{
			0x000000, // transparent under a 32-bit visual
			0,
			1, // override-redirect
			xproto.EventMaskExposure,
		}
		if argb {
			mask |= xproto.CwColormap
			values = append(values, uint32(s.cmap))
		}
		err = xproto.CreateWindowChecked(
			m.conn,
			s.depth,
			s.win,
			m.screen.Root,
			int16(bounds.X), int16(bounds.Y),
			uint16(max(bounds.Width, 1)), uint16(max(bounds.Height, 1)),
			0, // border width
			xproto.WindowClassInputOutput,
			visual,
			mask,
			values,
		).Check()
		if err != nil {
			s.win = 0
			return fmt.Errorf("failed to create window: %w", err)
		}

		s.setClass("everywhere-overlay", "Everywhere")
		if m.shaped {
			// An empty input region lets pointer events through.
			err := shape.RectanglesChecked(m.conn, shape.SoSet, shape.SkInput, xproto.ClipOrderingUnsorted,
				s.win, 0, 0, nil).Check()
			if err != nil {
				logger.WithComponent("overlay").Warn().Err(err).Msg("Failed to clear overlay input region")
			}
		}

		gc, err := xproto.NewGcontextId(m.conn)
		if err != nil {
			return fmt.Errorf("failed to create graphics context: %w", err)
		}
		if err := xproto.CreateGCChecked(m.conn, gc, xproto.Drawable(s.win), 0, nil).Check(); err != nil {
			return fmt.Errorf("failed to create GC: %w", err)
		}
		s.gc = gc

		if mapNow {
			if err := xproto.MapWindowChecked(m.conn, s.win).Check(); err != nil {
				return fmt.Errorf("failed to map window: %w", err)
			}
			s.mapped = true
		}
		return nil
	})
	if err != nil {
		s.destroy()
		return nil, err
	}

	m.mu.Lock()
	m.surfaces[s.win] = s
	m.mu.Unlock()

	logger.WithComponent("overlay").Debug().
		Uint32("window_id", uint32(s.win)).
		Stringer("bounds", bounds).
		Bool("argb", argb).
		Msg("Overlay window created")
	return s, nil
}

func (s *surface) setClass(instance, class string) {
	classStr := instance + "\x00" + class + "\x00"
	xproto.ChangeProperty(s.mgr.conn, xproto.PropModeReplace, s.win, xproto.AtomWmClass,
		xproto.AtomString, 8, uint32(len(classStr)), []byte(classStr))
}

// paint uploads img and remembers it for Expose.
func (s *surface) paint(img *image.RGBA) error {
	s.lastMu.Lock()
	s.last = img
	s.lastMu.Unlock()
	return s.mgr.invoke(func() error { return s.put(img) })
}

func (s *surface) repaint() {
	s.lastMu.Lock()
	img := s.last
	s.lastMu.Unlock()
	if img == nil {
		return
	}
	if err := s.put(img); err != nil {
		logger.WithComponent("overlay").Debug().Err(err).Msg("Repaint failed")
	}
}

// put sends img in bands that fit the server's request size limit.
func (s *surface) put(img *image.RGBA) error {
	conn := s.mgr.conn
	setup := xproto.Setup(conn)
	var format xproto.Format
	for _, f := range setup.PixmapFormats {
		if f.Depth == s.depth {
			format = f
			break
		}
	}
	if format.BitsPerPixel == 0 {
		return fmt.Errorf("no format found for depth %d", s.depth)
	}

	data, stride, err := EncodeZPixmap(img, s.depth, int(format.BitsPerPixel), int(format.ScanlinePad),
		setup.ImageByteOrder == xproto.ImageOrderMSBFirst)
	if err != nil {
		return err
	}

	height := img.Bounds().Dy()
	rows := BandRows(stride, height, int(setup.MaximumRequestLength))
	for y := 0; y < height; y += rows {
		n := min(rows, height-y)
		xproto.PutImage(
			conn,
			xproto.ImageFormatZPixmap,
			xproto.Drawable(s.win),
			s.gc,
			uint16(img.Bounds().Dx()), uint16(n),
			0, int16(y), // dst x, y
			0, // left pad
			s.depth,
			data[y*stride:(y+n)*stride],
		)
	}
	return nil
}

func (s *surface) destroy() {
	conn := s.mgr.conn
	err := s.mgr.invoke(func() error {
		if s.gc != 0 {
			xproto.FreeGC(conn, s.gc)
		}
		if s.win != 0 {
			xproto.DestroyWindow(conn, s.win)
		}
		if s.cmap != 0 {
			xproto.FreeColormap(conn, s.cmap)
		}
		return nil
	})
	if err != nil {
		logger.WithComponent("overlay").Warn().Err(err).Uint32("window_id", uint32(s.win)).
			Msg("Failed to destroy overlay window")
	}
	s.mgr.mu.Lock()
	delete(s.mgr.surfaces, s.win)
	s.mgr.mu.Unlock()
}

type overlayWindow struct {
	*surface
	closeOnce sync.Once
}

func (o *overlayWindow) Handle() xproto.Window { return o.win }

// Highlight redraws the mask around r. Without a 32-bit visual the window is
// shaped to just the frame of r.
func (o *overlayWindow) Highlight(r element.Rect, mode element.Granularity) error {
	hole := r.Intersect(o.bounds).Offset(-o.bounds.X, -o.bounds.Y)
	size := image.Pt(o.bounds.Width, o.bounds.Height)
	if o.argb {
		return o.paint(RenderMask(size, hole.Image(), mode, o.mgr.style))
	}
	if !o.mgr.shaped {
		return nil
	}

	frame := FrameRects(hole.Image(), o.mgr.style.Border)
	rects := make([]xproto.Rectangle, 0, len(frame))
	for _, f := range frame {
		rects = append(rects, xproto.Rectangle{
			X: int16(f.Min.X), Y: int16(f.Min.Y),
			Width: uint16(f.Dx()), Height: uint16(f.Dy()),
		})
	}
	img := image.NewRGBA(image.Rectangle{Max: size})
	DrawRectangle(img, 0, 0, size.X, size.Y, o.mgr.style.Color, 1)
	o.lastMu.Lock()
	o.last = img
	o.lastMu.Unlock()
	return o.mgr.invoke(func() error {
		err := shape.RectanglesChecked(o.mgr.conn, shape.SoSet, shape.SkBounding, xproto.ClipOrderingUnsorted,
			o.win, 0, 0, rects).Check()
		if err != nil {
			return fmt.Errorf("failed to shape overlay: %w", err)
		}
		return o.put(img)
	})
}

func (o *overlayWindow) Close() error {
	o.closeOnce.Do(o.destroy)
	return nil
}

type tooltipWindow struct {
	*surface
	label     *Label
	closeOnce sync.Once
}

func (t *tooltipWindow) Handle() xproto.Window { return t.win }

func (t *tooltipWindow) Measure(text string) (int, int) {
	size := t.label.Size(text)
	return size.X, size.Y
}

// Show moves the tooltip to at, resizes it for text and raises it.
func (t *tooltipWindow) Show(text string, at element.Point) error {
	img := t.label.Render(text)
	size := img.Bounds().Size()
	conn := t.mgr.conn

	t.lastMu.Lock()
	t.last = img
	t.lastMu.Unlock()
	return t.mgr.invoke(func() error {
		err := xproto.ConfigureWindowChecked(conn, t.win,
			xproto.ConfigWindowX|xproto.ConfigWindowY|xproto.ConfigWindowWidth|xproto.ConfigWindowHeight|xproto.ConfigWindowStackMode,
			[]uint32{uint32(int32(at.X)), uint32(int32(at.Y)), uint32(size.X), uint32(size.Y), xproto.StackModeAbove},
		).Check()
		if err != nil {
			return fmt.Errorf("failed to move tooltip: %w", err)
		}
		t.bounds = element.Rect{X: at.X, Y: at.Y, Width: size.X, Height: size.Y}
		if !t.mapped {
			if err := xproto.MapWindowChecked(conn, t.win).Check(); err != nil {
				return fmt.Errorf("failed to map tooltip: %w", err)
			}
			t.mapped = true
		}
		return t.put(img)
	})
}

func (t *tooltipWindow) Close() error {
	t.closeOnce.Do(t.destroy)
	return nil
}

// EncodeZPixmap converts img to ZPixmap data for a drawable of the given
// depth and pixmap format. It returns the data and its row stride.
func EncodeZPixmap(img *image.RGBA, depth byte, bitsPerPixel, scanlinePad int, msbFirst bool) ([]byte, int, error) {
	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()

	bytesPerPixel := bitsPerPixel / 8
	if bytesPerPixel != 3 && bytesPerPixel != 4 {
		return nil, 0, fmt.Errorf("unsupported bytes per pixel: %d", bytesPerPixel)
	}
	if scanlinePad <= 0 {
		scanlinePad = 32
	}
	padBytes := scanlinePad / 8
	unpadded := width * bytesPerPixel
	stride := ((unpadded + padBytes - 1) / padBytes) * padBytes

	data := make([]byte, stride*height)
	for y := 0; y < height; y++ {
		src := img.Pix[img.PixOffset(bounds.Min.X, bounds.Min.Y+y):]
		dst := data[y*stride:]
		for x := 0; x < width; x++ {
			r, g, b, a := src[x*4], src[x*4+1], src[x*4+2], src[x*4+3]
			if depth != 32 {
				a = 0
			}
			px := dst[x*bytesPerPixel:]
			switch {
			case bytesPerPixel == 3 && msbFirst:
				px[0], px[1], px[2] = r, g, b
			case bytesPerPixel == 3:
				px[0], px[1], px[2] = b, g, r
			case msbFirst:
				px[0], px[1], px[2], px[3] = a, r, g, b
			default:
				px[0], px[1], px[2], px[3] = b, g, r, a
			}
		}
	}
	return data, stride, nil
}

// BandRows returns how many rows of stride bytes fit one PutImage request.
// maxRequest is in 4-byte units as reported by the server setup.
func BandRows(stride, height, maxRequest int) int {
	const putImageHeader = 24
	limit := maxRequest*4 - putImageHeader
	if stride <= 0 || limit <= 0 {
		return max(height, 1)
	}
	return max(1, min(height, limit/stride))
}
