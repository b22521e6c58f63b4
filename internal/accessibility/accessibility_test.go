package accessibility

import (
	"context"
	"errors"
	"iter"
	"sync"
	"testing"
	"time"

	"github.com/godbus/dbus/v5"
	"github.com/jimfengnpu/everywhere/internal/element"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errGone = errors.New("object gone")

type fakeNode struct {
	parent   Ref
	children []Ref
	role     Role
	states   StateSet
	name     string
	noComp   bool
	rect     element.Rect
	layer    Layer
	mdiZ     int
}

type fakeClient struct {
	mu     sync.Mutex
	nodes  map[Ref]*fakeNode
	pids   map[string]int
	focus  chan Ref
	closed bool
}

var desktop = Ref{Bus: "org.a11y.atspi.Registry", Path: desktopPath}

func newFakeClient() *fakeClient {
	return &fakeClient{
		nodes: map[Ref]*fakeNode{desktop: {role: RoleDesktopFrame}},
		pids:  make(map[string]int),
		focus: make(chan Ref, 8),
	}
}

func ref(bus, path string) Ref { return Ref{Bus: bus, Path: dbus.ObjectPath(path)} }

var shown = NewStateSet(StateEnabled, StateSensitive, StateShowing, StateVisible)

// add attaches child under parent.
func (c *fakeClient) add(parent, child Ref, n *fakeNode) *fakeNode {
	n.parent = parent
	c.nodes[child] = n
	c.nodes[parent].children = append(c.nodes[parent].children, child)
	return n
}

func (c *fakeClient) node(r Ref) (*fakeNode, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	n, ok := c.nodes[r]
	if !ok {
		return nil, errGone
	}
	return n, nil
}

func (c *fakeClient) Desktop() Ref { return desktop }

func (c *fakeClient) Children(_ context.Context, r Ref) ([]Ref, error) {
	n, err := c.node(r)
	if err != nil {
		return nil, err
	}
	return n.children, nil
}

func (c *fakeClient) Parent(_ context.Context, r Ref) (Ref, error) {
	n, err := c.node(r)
	if err != nil {
		return Ref{}, err
	}
	return n.parent, nil
}

func (c *fakeClient) Role(_ context.Context, r Ref) (Role, error) {
	n, err := c.node(r)
	if err != nil {
		return RoleInvalid, err
	}
	return n.role, nil
}

func (c *fakeClient) States(_ context.Context, r Ref) (StateSet, error) {
	n, err := c.node(r)
	if err != nil {
		return 0, err
	}
	return n.states, nil
}

func (c *fakeClient) Name(_ context.Context, r Ref) (string, error) {
	n, err := c.node(r)
	if err != nil {
		return "", err
	}
	return n.name, nil
}

func (c *fakeClient) Interfaces(_ context.Context, r Ref) ([]string, error) {
	n, err := c.node(r)
	if err != nil {
		return nil, err
	}
	if n.noComp {
		return []string{accessibleInterface}, nil
	}
	return []string{accessibleInterface, componentInterface}, nil
}

func (c *fakeClient) Extents(_ context.Context, r Ref) (element.Rect, error) {
	n, err := c.node(r)
	if err != nil {
		return element.Rect{}, err
	}
	return n.rect, nil
}

func (c *fakeClient) Layer(_ context.Context, r Ref) (Layer, error) {
	n, err := c.node(r)
	if err != nil {
		return LayerInvalid, err
	}
	return n.layer, nil
}

func (c *fakeClient) MDIZOrder(_ context.Context, r Ref) (int, error) {
	n, err := c.node(r)
	if err != nil {
		return 0, err
	}
	return n.mdiZ, nil
}

func (c *fakeClient) ProcessID(_ context.Context, bus string) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	pid, ok := c.pids[bus]
	if !ok {
		return 0, errGone
	}
	return pid, nil
}

func (c *fakeClient) FocusEvents(ctx context.Context) (<-chan Ref, error) {
	out := make(chan Ref)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case r := <-c.focus:
				select {
				case out <- r:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

func (c *fakeClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

// fakeWindow stands in for a native window.
type fakeWindow struct {
	pid  int
	rect element.Rect
}

func (w fakeWindow) ID() string                          { return "window:test" }
func (w fakeWindow) Kind() element.Kind                  { return element.KindWindow }
func (w fakeWindow) NativeHandle() uint64                { return 1 }
func (w fakeWindow) ProcessID() int                      { return w.pid }
func (w fakeWindow) BoundingRectangle() element.Rect     { return w.rect }
func (w fakeWindow) Type() element.Type                  { return element.TypeTopLevel }
func (w fakeWindow) States() element.State               { return element.StateNone }
func (w fakeWindow) Name() string                        { return "" }
func (w fakeWindow) Parent() element.Element             { return nil }
func (w fakeWindow) Children() iter.Seq[element.Element] { return func(func(element.Element) bool) {} }

// editorApp builds an application with one frame holding a toolbar button
// and a text area.
func editorApp(c *fakeClient) (app, frame, button, text Ref) {
	app = ref(":1.5", "/org/a11y/atspi/accessible/root")
	frame = ref(":1.5", "/frame")
	button = ref(":1.5", "/button")
	text = ref(":1.5", "/text")
	c.pids[":1.5"] = 100
	c.add(desktop, app, &fakeNode{role: RoleApplication, noComp: true, name: "editor"})
	c.add(app, frame, &fakeNode{role: RoleFrame, states: shown, rect: element.Rect{X: 100, Y: 100, Width: 400, Height: 300}, layer: LayerWindow})
	c.add(frame, button, &fakeNode{role: RolePushButton, states: shown, name: "Save", rect: element.Rect{X: 110, Y: 110, Width: 50, Height: 20}, layer: LayerWidget})
	c.add(frame, text, &fakeNode{role: RoleText, states: shown | NewStateSet(StateEditable), rect: element.Rect{X: 100, Y: 140, Width: 400, Height: 260}, layer: LayerWidget})
	return
}

func TestRoleTableIsTotal(t *testing.T) {
	for r := Role(0); r < roleCount; r++ {
		assert.NotContains(t, r.String(), "role(", "role %d has no name", r)
		assert.True(t, TypeForRole(r).Valid(), "role %d maps to an invalid type", r)
	}
	assert.Equal(t, Role(131), roleCount)
	assert.Equal(t, element.TypeUnknown, TypeForRole(500))
	assert.Equal(t, "role(500)", Role(500).String())

	assert.Equal(t, element.TypeButton, TypeForRole(RolePushButton))
	assert.Equal(t, element.TypeTopLevel, TypeForRole(RoleFrame))
	assert.Equal(t, element.TypeTextEdit, TypeForRole(RoleEntry))
}

func TestMapStates(t *testing.T) {
	tests := []struct {
		name   string
		states StateSet
		role   Role
		want   element.State
	}{
		{"plain button", shown, RolePushButton, element.StateNone},
		{"focused selected", shown | NewStateSet(StateFocused, StateSelected), RoleListItem, element.StateFocused | element.StateSelected},
		{"insensitive", NewStateSet(StateEnabled, StateShowing), RolePushButton, element.StateDisabled},
		{"text without editable", shown, RoleText, element.StateReadOnly},
		{"editable text", shown | NewStateSet(StateEditable), RoleText, element.StateNone},
		{"explicit read only", shown | NewStateSet(StateReadOnly), RoleCheckBox, element.StateReadOnly},
		{"not showing", NewStateSet(StateEnabled, StateSensitive), RoleLabel, element.StateOffscreen},
		{"password", shown | NewStateSet(StateEditable), RolePasswordText, element.StatePassword},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, MapStates(tt.states, tt.role))
		})
	}
}

func TestStateSetFromWords(t *testing.T) {
	s := StateSetFromWords([]uint32{1 << 12, 1 << (43 - 32)})
	assert.True(t, s.Has(StateFocused))
	assert.True(t, s.Has(StateReadOnly))
	assert.False(t, s.Has(StateVisible))

	assert.True(t, visibleStates(0))
	assert.False(t, visibleStates(shown|NewStateSet(StateIconified)))
	assert.False(t, visibleStates(shown|NewStateSet(StateDefunct)))
	assert.False(t, visibleStates(NewStateSet(StateShowing)))
}

func TestElementFromWindow(t *testing.T) {
	c := newFakeClient()
	_, frame, button, text := editorApp(c)
	s := NewService(c)
	defer s.Close()

	win := fakeWindow{pid: 100, rect: element.Rect{X: 100, Y: 100, Width: 400, Height: 300}}

	got := s.ElementFromWindow(element.Point{X: 120, Y: 115}, win)
	require.NotNil(t, got)
	assert.Equal(t, button, got.Ref())
	assert.Equal(t, "Save", got.Name())
	assert.Equal(t, element.TypeButton, got.Type())
	assert.Equal(t, 100, got.ProcessID())

	got = s.ElementFromWindow(element.Point{X: 300, Y: 300}, win)
	require.NotNil(t, got)
	assert.Equal(t, text, got.Ref())

	// inside the frame but on no child
	got = s.ElementFromWindow(element.Point{X: 300, Y: 120}, win)
	require.NotNil(t, got)
	assert.Equal(t, frame, got.Ref())

	assert.Nil(t, s.ElementFromWindow(element.Point{X: 10, Y: 10}, win))
	assert.Nil(t, s.ElementFromWindow(element.Point{X: 120, Y: 115}, fakeWindow{pid: 999, rect: win.rect}))
}

func TestElementFromWindowHonorsZOrder(t *testing.T) {
	c := newFakeClient()
	_, frame, _, _ := editorApp(c)
	popup := ref(":1.5", "/popup")
	c.add(frame, popup, &fakeNode{role: RoleMenu, states: shown, rect: element.Rect{X: 100, Y: 100, Width: 100, Height: 100}, layer: LayerPopup})
	s := NewService(c)
	defer s.Close()

	win := fakeWindow{pid: 100, rect: element.Rect{X: 100, Y: 100, Width: 400, Height: 300}}
	got := s.ElementFromWindow(element.Point{X: 120, Y: 115}, win)
	require.NotNil(t, got)
	assert.Equal(t, popup, got.Ref(), "popup layer stacks above widgets")
}

func TestElementFromWindowSkipsHiddenAndForeignFrames(t *testing.T) {
	c := newFakeClient()
	_, frame, button, _ := editorApp(c)
	c.nodes[button].states = shown | NewStateSet(StateIconified)

	// a second window of the same process elsewhere on screen
	other := ref(":1.6", "/root")
	otherFrame := ref(":1.6", "/frame")
	c.pids[":1.6"] = 100
	c.add(desktop, other, &fakeNode{role: RoleApplication, noComp: true})
	c.add(other, otherFrame, &fakeNode{role: RoleFrame, states: shown, rect: element.Rect{X: 1000, Y: 0, Width: 200, Height: 200}})

	s := NewService(c)
	defer s.Close()

	win := fakeWindow{pid: 100, rect: element.Rect{X: 100, Y: 100, Width: 400, Height: 300}}
	got := s.ElementFromWindow(element.Point{X: 120, Y: 115}, win)
	require.NotNil(t, got)
	assert.Equal(t, frame, got.Ref(), "iconified button is transparent")

	// components without area are not hit
	c.nodes[frame].rect = element.Rect{X: 100, Y: 100}
	assert.Nil(t, s.ElementFromWindow(element.Point{X: 120, Y: 115}, win))
}

func TestNodeRelationsAndCache(t *testing.T) {
	c := newFakeClient()
	app, frame, button, text := editorApp(c)
	s := NewService(c)

	n := s.Node(button)
	assert.Same(t, n, s.Node(button))
	assert.Equal(t, "a11y::1.5/button", n.ID())
	assert.Equal(t, element.KindAccessible, n.Kind())

	parent := n.Parent()
	require.NotNil(t, parent)
	assert.Equal(t, s.Node(frame).ID(), parent.ID())
	assert.Nil(t, s.Node(app).Parent(), "application roots have no parent")

	kids := element.ChildList(s.Node(frame))
	require.Len(t, kids, 2)
	assert.Equal(t, "a11y::1.5/text", kids[1].ID())
	next := element.NextSibling(n)
	require.NotNil(t, next)
	assert.Equal(t, s.Node(text).ID(), next.ID())

	assert.Equal(t, s.FindApplicationRoot(100).Ref(), app)
	assert.Nil(t, s.FindApplicationRoot(7))

	live := s.Live()
	assert.Equal(t, s.Cached(), live)
	require.NoError(t, s.Close())
	assert.Equal(t, 0, s.Live())
	assert.False(t, n.Handle().Alive())
	assert.True(t, c.closed)

	assert.Nil(t, s.Node(text), "closed services hand out no nodes")
	assert.Nil(t, s.Node(button))
	assert.Equal(t, 0, s.Live())
	assert.Equal(t, 0, s.Cached())
}

func TestPruneDropsDefunctNodes(t *testing.T) {
	c := newFakeClient()
	_, _, button, text := editorApp(c)
	s := NewService(c)
	defer s.Close()

	s.Node(button)
	s.Node(text)
	c.nodes[button].states |= NewStateSet(StateDefunct)
	c.mu.Lock()
	delete(c.nodes, text)
	c.mu.Unlock()

	assert.Equal(t, 2, s.Prune())
	assert.Equal(t, 0, s.Live())
}

func TestFocusTracking(t *testing.T) {
	c := newFakeClient()
	_, _, button, text := editorApp(c)
	s := NewService(c)
	require.NoError(t, s.Start())

	assert.Nil(t, s.CurrentlyFocused())

	c.focus <- button
	require.Eventually(t, func() bool {
		f := s.CurrentlyFocused()
		return f != nil && f.Ref() == button
	}, time.Second, 5*time.Millisecond)
	b := s.CurrentlyFocused()
	assert.Equal(t, 2, b.Handle().Refs(), "cache and focus each hold a reference")

	c.focus <- text
	require.Eventually(t, func() bool {
		f := s.CurrentlyFocused()
		return f != nil && f.Ref() == text
	}, time.Second, 5*time.Millisecond)
	assert.Eventually(t, func() bool { return b.Handle().Refs() == 1 }, time.Second, 5*time.Millisecond)

	tx := s.CurrentlyFocused()
	require.NoError(t, s.Close())
	assert.Nil(t, s.CurrentlyFocused())
	assert.False(t, tx.Handle().Alive())
	assert.Equal(t, 0, s.Live())

	select {
	case <-s.Done():
	default:
		t.Fatal("listener still running after Close")
	}
}

func TestRefIsNull(t *testing.T) {
	assert.True(t, Ref{}.IsNull())
	assert.True(t, ref(":1.5", nullPath).IsNull())
	assert.False(t, ref(":1.5", "/frame").IsNull())
}

func TestFocusedRef(t *testing.T) {
	sig := &dbus.Signal{
		Sender: ":1.9",
		Path:   "/obj",
		Name:   objectEvents + ".StateChanged",
		Body:   []any{"focused", int32(1), int32(0), dbus.MakeVariant(0)},
	}
	r, ok := focusedRef(sig)
	require.True(t, ok)
	assert.Equal(t, ref(":1.9", "/obj"), r)

	sig.Body[1] = int32(0)
	_, ok = focusedRef(sig)
	assert.False(t, ok)

	sig.Body[0] = "selected"
	sig.Body[1] = int32(1)
	_, ok = focusedRef(sig)
	assert.False(t, ok)
}
