package window

import (
	"errors"
	"testing"

	"github.com/BurntSushi/xgb/xproto"
	"github.com/jimfengnpu/everywhere/internal/element"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errBadWindow = errors.New("BadWindow")

type fakeWin struct {
	parent   xproto.Window
	children []xproto.Window
	attrs    Attributes
	geom     element.Rect
	pid      int
	name     string
	class    string
}

type fakeSource struct {
	root         xproto.Window
	wins         map[xproto.Window]*fakeWin
	clients      []xproto.Window
	active       xproto.Window
	focus        xproto.Window
	translateErr bool
}

func newFakeSource(width, height int) *fakeSource {
	return &fakeSource{
		root: 1,
		wins: map[xproto.Window]*fakeWin{
			1: {attrs: Attributes{Mapped: true}, geom: element.Rect{Width: width, Height: height}},
		},
	}
}

// add creates a mapped window under parent; later siblings stack higher.
func (f *fakeSource) add(parent, h xproto.Window, r element.Rect) *fakeWin {
	w := &fakeWin{parent: parent, attrs: Attributes{Mapped: true}, geom: r}
	f.wins[h] = w
	f.wins[parent].children = append(f.wins[parent].children, h)
	return w
}

func (f *fakeSource) get(w xproto.Window) (*fakeWin, error) {
	fw, ok := f.wins[w]
	if !ok {
		return nil, errBadWindow
	}
	return fw, nil
}

func (f *fakeSource) Root() xproto.Window { return f.root }

func (f *fakeSource) Children(w xproto.Window) ([]xproto.Window, error) {
	fw, err := f.get(w)
	if err != nil {
		return nil, err
	}
	return fw.children, nil
}

func (f *fakeSource) Parent(w xproto.Window) (xproto.Window, error) {
	fw, err := f.get(w)
	if err != nil {
		return 0, err
	}
	return fw.parent, nil
}

func (f *fakeSource) Attributes(w xproto.Window) (Attributes, error) {
	fw, err := f.get(w)
	if err != nil {
		return Attributes{}, err
	}
	return fw.attrs, nil
}

func (f *fakeSource) Geometry(w xproto.Window) (element.Rect, error) {
	fw, err := f.get(w)
	if err != nil {
		return element.Rect{}, err
	}
	return fw.geom, nil
}

func (f *fakeSource) TranslateToRoot(w xproto.Window) (element.Point, error) {
	if f.translateErr {
		return element.Point{}, errBadWindow
	}
	var p element.Point
	for cur := w; cur != f.root; {
		fw, err := f.get(cur)
		if err != nil {
			return element.Point{}, err
		}
		p.X += fw.geom.X
		p.Y += fw.geom.Y
		cur = fw.parent
	}
	return p, nil
}

func (f *fakeSource) ClientList() ([]xproto.Window, error) { return f.clients, nil }

func (f *fakeSource) Pid(w xproto.Window) (int, error) {
	fw, err := f.get(w)
	if err != nil {
		return 0, err
	}
	if fw.pid == 0 {
		return 0, errors.New("no _NET_WM_PID")
	}
	return fw.pid, nil
}

func (f *fakeSource) Name(w xproto.Window) (string, error) {
	fw, err := f.get(w)
	if err != nil {
		return "", err
	}
	return fw.name, nil
}

func (f *fakeSource) Class(w xproto.Window) (string, error) {
	fw, err := f.get(w)
	if err != nil {
		return "", err
	}
	return fw.class, nil
}

func (f *fakeSource) ActiveWindow() (xproto.Window, error) { return f.active, nil }
func (f *fakeSource) InputFocus() (xproto.Window, error)   { return f.focus, nil }

func TestWindowAtPointSingleTopLevel(t *testing.T) {
	src := newFakeSource(1920, 1080)
	src.add(1, 10, element.Rect{X: 100, Y: 100, Width: 400, Height: 300})
	tree := NewTree(src)

	w := tree.WindowAtPoint(element.Point{X: 150, Y: 150})
	require.NotNil(t, w)
	assert.Equal(t, xproto.Window(10), w.Handle())

	assert.Nil(t, tree.WindowAtPoint(element.Point{X: 10, Y: 10}), "only the root contains the point")
	assert.Nil(t, tree.WindowAtPoint(element.Point{X: 500, Y: 150}), "right edge is exclusive")
}

func TestWindowAtPointTopmostDeepest(t *testing.T) {
	src := newFakeSource(1920, 1080)
	src.add(1, 10, element.Rect{X: 0, Y: 0, Width: 800, Height: 600})
	src.add(1, 11, element.Rect{X: 400, Y: 300, Width: 800, Height: 600})
	src.add(11, 20, element.Rect{X: 10, Y: 10, Width: 100, Height: 100})
	tree := NewTree(src)

	tests := []struct {
		name string
		p    element.Point
		want xproto.Window
	}{
		{"nested child in root coordinates", element.Point{X: 450, Y: 350}, 20},
		{"top window outside its child", element.Point{X: 700, Y: 500}, 11},
		{"bottom window not covered", element.Point{X: 100, Y: 100}, 10},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := tree.WindowAtPoint(tt.p)
			require.NotNil(t, w)
			assert.Equal(t, tt.want, w.Handle())
		})
	}
}

func TestWindowAtPointTransparentWindows(t *testing.T) {
	src := newFakeSource(1920, 1080)
	src.add(1, 10, element.Rect{X: 0, Y: 0, Width: 800, Height: 600})
	src.add(1, 12, element.Rect{X: 0, Y: 0, Width: 1920, Height: 1080}).attrs.OverrideRedirect = true
	src.add(1, 13, element.Rect{X: 0, Y: 0, Width: 1920, Height: 1080}).attrs.Mapped = false
	src.add(1, 14, element.Rect{X: 0, Y: 0, Width: 1920, Height: 1080})
	tree := NewTree(src)

	p := element.Point{X: 50, Y: 50}
	require.Equal(t, xproto.Window(14), tree.WindowAtPoint(p).Handle())

	tree.SetSkip(14)
	assert.Equal(t, xproto.Window(10), tree.WindowAtPoint(p).Handle())

	tree.ClearSkip()
	assert.Equal(t, xproto.Window(14), tree.WindowAtPoint(p).Handle())
}

func TestProcessIDClimbsParents(t *testing.T) {
	src := newFakeSource(1920, 1080)
	src.add(1, 10, element.Rect{X: 0, Y: 0, Width: 800, Height: 600})
	src.add(10, 20, element.Rect{X: 0, Y: 20, Width: 800, Height: 580}).pid = 42
	src.add(20, 30, element.Rect{X: 5, Y: 5, Width: 50, Height: 20})
	tree := NewTree(src)

	assert.Equal(t, 42, tree.Window(20).ProcessID())
	assert.Equal(t, 42, tree.Window(30).ProcessID())
	assert.Equal(t, 42, tree.Window(10).ProcessID(), "frames report their client's pid")
	assert.Equal(t, 0, tree.Root().ProcessID())

	require.Len(t, tree.WindowsForPID(42), 1)
	assert.Empty(t, tree.WindowsForPID(7))
}

func TestWindowTypeAndRelations(t *testing.T) {
	src := newFakeSource(1920, 1080)
	src.add(1, 10, element.Rect{Width: 800, Height: 600})
	src.add(10, 20, element.Rect{Width: 800, Height: 600}).name = "Editor"
	src.add(20, 30, element.Rect{Width: 50, Height: 20})
	tree := NewTree(src)

	assert.Equal(t, element.TypeScreen, tree.Root().Type())
	assert.Equal(t, element.TypeTopLevel, tree.Window(10).Type())
	assert.Equal(t, element.TypeTopLevel, tree.Window(20).Type())
	assert.Equal(t, element.TypePanel, tree.Window(30).Type())

	assert.Equal(t, "Editor", tree.Window(10).Name(), "untitled frame uses its client's title")
	assert.Same(t, tree.Window(20), tree.Window(30).Parent())
	assert.Nil(t, tree.Root().Parent())

	var kids []uint64
	for c := range tree.Window(10).Children() {
		kids = append(kids, c.NativeHandle())
	}
	assert.Equal(t, []uint64{20}, kids)
	assert.Equal(t, "window:0x14", tree.Window(20).ID())
}

func TestBoundingRectangle(t *testing.T) {
	src := newFakeSource(1920, 1080)
	src.add(1, 10, element.Rect{X: 100, Y: 50, Width: 800, Height: 600})
	src.add(10, 20, element.Rect{X: 10, Y: 30, Width: 200, Height: 100})
	tree := NewTree(src)

	assert.Equal(t, element.Rect{X: 110, Y: 80, Width: 200, Height: 100}, tree.Window(20).BoundingRectangle())
	assert.Equal(t, element.Rect{Width: 1920, Height: 1080}, tree.Root().BoundingRectangle())

	src.translateErr = true
	assert.Equal(t, element.Rect{X: 10, Y: 30, Width: 200, Height: 100}, tree.Window(20).BoundingRectangle(),
		"falls back to local geometry")
}

func TestStates(t *testing.T) {
	src := newFakeSource(1920, 1080)
	src.add(1, 10, element.Rect{X: 100, Y: 100, Width: 400, Height: 300})
	src.add(1, 11, element.Rect{X: 3000, Y: 100, Width: 400, Height: 300})
	src.add(1, 12, element.Rect{X: 0, Y: 0, Width: 10, Height: 10}).attrs.Mapped = false
	src.active = 10
	tree := NewTree(src)
	tree.SetScreens([]element.Rect{{Width: 1920, Height: 1080}})

	assert.Equal(t, element.StateFocused, tree.Window(10).States())
	assert.True(t, tree.Window(11).States().Has(element.StateOffscreen))
	assert.True(t, tree.Window(12).States().Has(element.StateOffscreen))
}

func TestCacheIdentityAndDestroy(t *testing.T) {
	src := newFakeSource(1920, 1080)
	src.add(1, 10, element.Rect{Width: 10, Height: 10})
	tree := NewTree(src)

	a := tree.Window(10)
	assert.Same(t, a, tree.Window(10))
	assert.Same(t, a, tree.WindowAtPoint(element.Point{X: 1, Y: 1}))

	tree.SetSkip(10)
	tree.HandleEvent(xproto.DestroyNotifyEvent{Window: 10})
	assert.NotSame(t, a, tree.Window(10))
	assert.Nil(t, tree.FromHandle(99))
	assert.NotNil(t, tree.WindowAtPoint(element.Point{X: 1, Y: 1}), "destroyed handles leave the skip set")
}

func TestTopLevelsAndFocus(t *testing.T) {
	src := newFakeSource(1920, 1080)
	src.add(1, 10, element.Rect{Width: 10, Height: 10})
	src.add(1, 11, element.Rect{Width: 10, Height: 10}).attrs.OverrideRedirect = true
	src.add(1, 12, element.Rect{Width: 10, Height: 10})
	src.add(1, 13, element.Rect{Width: 10, Height: 10}).attrs.Mapped = false
	tree := NewTree(src)

	var handles []xproto.Window
	for _, w := range tree.TopLevels() {
		handles = append(handles, w.Handle())
	}
	assert.Equal(t, []xproto.Window{12, 10}, handles)

	src.clients = []xproto.Window{12, 10}
	handles = handles[:0]
	for _, w := range tree.TopLevels() {
		handles = append(handles, w.Handle())
	}
	assert.Equal(t, []xproto.Window{10, 12}, handles, "window manager stacking order wins")

	assert.Nil(t, tree.FocusedWindow())
	src.focus = 12
	require.NotNil(t, tree.FocusedWindow())
	assert.Equal(t, xproto.Window(12), tree.FocusedWindow().Handle())
	src.active = 10
	assert.Equal(t, xproto.Window(10), tree.FocusedWindow().Handle())
}
