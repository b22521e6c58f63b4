// Package display enumerates the physical screens of the X display.
package display

import (
	"fmt"
	"iter"
	"sync"

	"github.com/BurntSushi/xgb"
	"github.com/BurntSushi/xgb/xinerama"
	"github.com/BurntSushi/xgb/xproto"
	"github.com/jimfengnpu/everywhere/internal/element"
	"github.com/jimfengnpu/everywhere/internal/logger"
	"github.com/jimfengnpu/everywhere/internal/window"
)

// Source lists screen rectangles in root coordinates.
type Source interface {
	Screens() ([]element.Rect, error)
}

// Screen is one physical screen.
type Screen struct {
	index  int
	bounds element.Rect
	tree   *window.Tree
}

var _ element.Element = (*Screen)(nil)

func (s *Screen) Index() int                      { return s.index }
func (s *Screen) ID() string                      { return fmt.Sprintf("screen:%d", s.index) }
func (s *Screen) Kind() element.Kind              { return element.KindScreen }
func (s *Screen) NativeHandle() uint64            { return uint64(s.index) }
func (s *Screen) ProcessID() int                  { return 0 }
func (s *Screen) BoundingRectangle() element.Rect { return s.bounds }
func (s *Screen) Type() element.Type              { return element.TypeScreen }
func (s *Screen) States() element.State           { return element.StateNone }
func (s *Screen) Name() string                    { return fmt.Sprintf("Screen %d", s.index+1) }
func (s *Screen) Parent() element.Element         { return nil }

// Children yields the top-level windows that overlap the screen, top first.
func (s *Screen) Children() iter.Seq[element.Element] {
	return func(yield func(element.Element) bool) {
		if s.tree == nil {
			return
		}
		for _, w := range s.tree.TopLevels() {
			if !w.BoundingRectangle().Intersects(s.bounds) {
				continue
			}
			if !yield(w) {
				return
			}
		}
	}
}

// Manager keeps the current screen layout.
type Manager struct {
	src  Source
	tree *window.Tree

	mu      sync.RWMutex
	screens []*Screen
}

// NewManager reads the screen layout once. Screen rectangles are pushed to
// tree for its Offscreen state.
func NewManager(src Source, tree *window.Tree) *Manager {
	m := &Manager{src: src, tree: tree}
	m.Refresh()
	return m
}

// Refresh re-reads the layout. Screens whose rectangle did not change keep
// their wrapper.
func (m *Manager) Refresh() {
	rects, err := m.src.Screens()
	if err != nil {
		logger.WithComponent("display").Warn().Err(err).Msg("Failed to enumerate screens")
		return
	}

	m.mu.Lock()
	next := make([]*Screen, len(rects))
	for i, r := range rects {
		if i < len(m.screens) && m.screens[i].bounds == r {
			next[i] = m.screens[i]
			continue
		}
		next[i] = &Screen{index: i, bounds: r, tree: m.tree}
	}
	m.screens = next
	m.mu.Unlock()

	if m.tree != nil {
		m.tree.SetScreens(rects)
	}
	logger.WithComponent("display").Debug().Int("screens", len(rects)).Msg("Screen layout updated")
}

// All returns the screens in index order.
func (m *Manager) All() []*Screen {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Screen, len(m.screens))
	copy(out, m.screens)
	return out
}

// At returns the screen containing p, or nil.
func (m *Manager) At(p element.Point) *Screen {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, s := range m.screens {
		if s.bounds.Contains(p) {
			return s
		}
	}
	return nil
}

// Bounds returns the union of all screens.
func (m *Manager) Bounds() element.Rect {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var u element.Rect
	for i, s := range m.screens {
		if i == 0 {
			u = s.bounds
			continue
		}
		u = u.Union(s.bounds)
	}
	return u
}

// HandleEvent refreshes the layout when the root window is reconfigured. It
// is installed as a connection thread dispatcher.
func (m *Manager) HandleEvent(root xproto.Window) func(xgb.Event) {
	return func(ev xgb.Event) {
		if e, ok := ev.(xproto.ConfigureNotifyEvent); ok && e.Window == root {
			go m.Refresh()
		}
	}
}

// X11Source reads screens with Xinerama, falling back to the root window
// size when the extension is missing or inactive.
type X11Source struct {
	conn     *xgb.Conn
	xinerama bool
}

// NewX11Source initializes the Xinerama extension if available.
func NewX11Source(conn *xgb.Conn) *X11Source {
	s := &X11Source{conn: conn}
	if err := xinerama.Init(conn); err != nil {
		logger.WithComponent("display").Info().Err(err).Msg("Xinerama unavailable, using the root window as the only screen")
		return s
	}
	if reply, err := xinerama.IsActive(conn).Reply(); err == nil && reply.State != 0 {
		s.xinerama = true
	}
	return s
}

// Screens implements Source.
func (s *X11Source) Screens() ([]element.Rect, error) {
	if s.xinerama {
		reply, err := xinerama.QueryScreens(s.conn).Reply()
		if err == nil && len(reply.ScreenInfo) > 0 {
			rects := make([]element.Rect, len(reply.ScreenInfo))
			for i, info := range reply.ScreenInfo {
				rects[i] = element.Rect{
					X:      int(info.XOrg),
					Y:      int(info.YOrg),
					Width:  int(info.Width),
					Height: int(info.Height),
				}
			}
			return rects, nil
		}
		if err != nil {
			logger.WithComponent("display").Warn().Err(err).Msg("Xinerama query failed, using root window size")
		}
	}
	screen := xproto.Setup(s.conn).DefaultScreen(s.conn)
	if screen == nil {
		return nil, fmt.Errorf("no default screen")
	}
	return []element.Rect{{Width: int(screen.WidthInPixels), Height: int(screen.HeightInPixels)}}, nil
}
