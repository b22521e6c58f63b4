// Package accessibility correlates AT-SPI2 accessible objects with native
// windows and tracks the focused object.
package accessibility

import (
	"context"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jimfengnpu/everywhere/internal/element"
	"github.com/jimfengnpu/everywhere/internal/logger"
)

const (
	defaultCallTimeout = 2 * time.Second
	defaultMaxCached   = 4096
	// maxDepth bounds hit-test recursion against cyclic trees.
	maxDepth = 64
)

// Option configures a Service.
type Option func(*Service)

// WithCallTimeout bounds every bus round trip made on behalf of an element.
func WithCallTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithMaxCached sets how many node wrappers are kept before the cache is
// flushed.
func WithMaxCached(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxCached = n
		}
	}
}

// Service wraps a Client with a node cache, hit testing and a focus listener.
type Service struct {
	client    Client
	cache     *element.Cache[Ref, *Node]
	timeout   time.Duration
	maxCached int

	ctx    context.Context
	cancel context.CancelFunc

	focused atomic.Pointer[Node]
	live    atomic.Int64

	startOnce sync.Once
	closeOnce sync.Once
	done      chan struct{}
}

// NewService creates a service over client. The service owns the client and
// closes it on Close.
func NewService(client Client, opts ...Option) *Service {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Service{
		client:    client,
		timeout:   defaultCallTimeout,
		maxCached: defaultMaxCached,
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.cache = element.NewCache(func(_ Ref, n *Node) {
		n.handle.Release()
	})
	return s
}

func (s *Service) callContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(s.ctx, s.timeout)
}

// Start launches the focus listener. Without focus events the service still
// answers hit tests; the error is returned so the caller can log it.
func (s *Service) Start() error {
	var err error
	s.startOnce.Do(func() {
		var events <-chan Ref
		events, err = s.client.FocusEvents(s.ctx)
		if err != nil {
			close(s.done)
			return
		}
		go s.listen(events)
	})
	return err
}

func (s *Service) listen(events <-chan Ref) {
	defer close(s.done)
	log := logger.WithComponent("accessibility")
	log.Debug().Msg("Focus listener started")
	for ref := range events {
		if ref.IsNull() {
			continue
		}
		s.setFocused(s.Node(ref))
	}
	log.Debug().Msg("Focus listener stopped")
}

// setFocused moves the focus reference to n.
func (s *Service) setFocused(n *Node) {
	if n != nil && !n.handle.Acquire() {
		return
	}
	if old := s.focused.Swap(n); old != nil {
		old.handle.Release()
	}
}

// CurrentlyFocused returns the most recently focused node, or nil.
func (s *Service) CurrentlyFocused() *Node { return s.focused.Load() }

// Node returns the wrapper for r. Repeated calls return the same pointer
// until the node is evicted. Returns nil once the service is closed.
func (s *Service) Node(r Ref) *Node {
	n, err := s.cache.GetOrCreate(r, func(r Ref) (*Node, error) {
		s.live.Add(1)
		return &Node{svc: s, handle: element.NewHandle(r, s.released)}, nil
	})
	if err != nil {
		return nil
	}
	if s.cache.Len() > s.maxCached {
		s.flush(n)
	}
	return n
}

func (s *Service) released(r Ref) {
	s.live.Add(-1)
	logger.WithComponent("accessibility").Trace().
		Str("bus", r.Bus).Str("path", string(r.Path)).Msg("Released accessible")
}

// flush evicts every wrapper except keep and the focused node.
func (s *Service) flush(keep *Node) {
	focused := s.focused.Load()
	n := s.cache.Purge(func(_ Ref, v *Node) bool { return v == keep || v == focused })
	logger.WithComponent("accessibility").Debug().Int("evicted", n).Msg("Node cache flushed")
}

// Live returns how many node references have not been released.
func (s *Service) Live() int { return int(s.live.Load()) }

// Cached returns how many node wrappers are cached.
func (s *Service) Cached() int { return s.cache.Len() }

// Prune evicts wrappers of objects that are gone or defunct.
func (s *Service) Prune() int {
	return s.cache.Purge(func(r Ref, _ *Node) bool {
		ctx, cancel := s.callContext()
		defer cancel()
		st, err := s.client.States(ctx, r)
		return err == nil && !st.Has(StateDefunct)
	})
}

// Applications returns the desktop's application roots owned by pid.
func (s *Service) Applications(pid int) []*Node {
	if pid <= 0 {
		return nil
	}
	log := logger.WithComponent("accessibility")

	ctx, cancel := s.callContext()
	defer cancel()
	apps, err := s.client.Children(ctx, s.client.Desktop())
	if err != nil {
		log.Warn().Err(err).Msg("Failed to list applications")
		return nil
	}
	var out []*Node
	for _, app := range apps {
		if app.IsNull() {
			continue
		}
		owner, err := s.client.ProcessID(ctx, app.Bus)
		if err != nil {
			log.Debug().Err(err).Str("bus", app.Bus).Msg("Skipping application without pid")
			continue
		}
		if owner != pid {
			continue
		}
		if n := s.Node(app); n != nil {
			out = append(out, n)
		}
	}
	return out
}

// FindApplicationRoot returns the first application root owned by pid.
func (s *Service) FindApplicationRoot(pid int) *Node {
	apps := s.Applications(pid)
	if len(apps) == 0 {
		return nil
	}
	return apps[0]
}

// ElementFromWindow returns the deepest visible accessible object under p
// inside the application that owns w, or nil.
func (s *Service) ElementFromWindow(p element.Point, w element.Element) *Node {
	if w == nil {
		return nil
	}
	bounds := w.BoundingRectangle()
	for _, app := range s.Applications(w.ProcessID()) {
		frames := s.candidates(app.Ref())
		if !intersectsAny(frames, bounds) {
			continue
		}
		if hit := s.hitFrames(frames, p); hit != nil {
			return hit
		}
	}
	return nil
}

// candidate is a visible child with its extents and stacking key.
type candidate struct {
	ref  Ref
	rect element.Rect
	key  int
}

func intersectsAny(cs []candidate, r element.Rect) bool {
	for _, c := range cs {
		if c.rect.Intersects(r) {
			return true
		}
	}
	return false
}

func (s *Service) hitFrames(frames []candidate, p element.Point) *Node {
	for _, c := range frames {
		if !c.rect.Contains(p) {
			continue
		}
		if hit := s.hit(c, p, 1); hit != nil {
			return hit
		}
	}
	return nil
}

// hit descends into the topmost visible child containing p and falls back
// to c itself.
func (s *Service) hit(c candidate, p element.Point, depth int) *Node {
	if depth < maxDepth {
		for _, child := range s.candidates(c.ref) {
			if !child.rect.Contains(p) {
				continue
			}
			if hit := s.hit(child, p, depth+1); hit != nil {
				return hit
			}
		}
	}
	if c.rect.Contains(p) {
		return s.Node(c.ref)
	}
	return nil
}

// candidates returns the visible children of r sorted topmost first.
func (s *Service) candidates(r Ref) []candidate {
	ctx, cancel := s.callContext()
	defer cancel()
	children, err := s.client.Children(ctx, r)
	if err != nil {
		logger.WithComponent("accessibility").Debug().Err(err).
			Str("bus", r.Bus).Str("path", string(r.Path)).Msg("Failed to query children")
		return nil
	}
	out := make([]candidate, 0, len(children))
	for i, child := range children {
		if child.IsNull() {
			continue
		}
		rect, ok := s.visible(ctx, child)
		if !ok {
			continue
		}
		out = append(out, candidate{ref: child, rect: rect, key: s.zKey(ctx, child, i)})
	}
	slices.SortStableFunc(out, func(a, b candidate) int { return b.key - a.key })
	return out
}

// visible applies the visibility filter and returns the object's extents.
func (s *Service) visible(ctx context.Context, r Ref) (element.Rect, bool) {
	st, err := s.client.States(ctx, r)
	if err != nil || !visibleStates(st) {
		return element.Rect{}, false
	}
	ifaces, err := s.client.Interfaces(ctx, r)
	if err != nil || !slices.Contains(ifaces, componentInterface) {
		return element.Rect{}, false
	}
	rect, err := s.client.Extents(ctx, r)
	if err != nil || rect.Empty() {
		return element.Rect{}, false
	}
	return rect, true
}

// zKey orders siblings: layer first, then MDI z-order, then child index.
func (s *Service) zKey(ctx context.Context, r Ref, index int) int {
	layer, err := s.client.Layer(ctx, r)
	if err != nil {
		layer = LayerInvalid
	}
	mdiZ, err := s.client.MDIZOrder(ctx, r)
	if err != nil || mdiZ < 0 {
		mdiZ = 0
	}
	return int(layer)*256 + mdiZ*16 + index
}

// Done is closed when the focus listener exits.
func (s *Service) Done() <-chan struct{} { return s.done }

// Close stops the listener, releases every reference and closes the client.
func (s *Service) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.cancel()
		s.startOnce.Do(func() { close(s.done) })
		<-s.done
		s.setFocused(nil)
		s.cache.Close()
		err = s.client.Close()
	})
	return err
}
