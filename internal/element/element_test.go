package element

import (
	"errors"
	"iter"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeNode is an in-memory element whose relationships are looked up in a
// shared table on each access, the same way native wrappers do it.
type fakeNode struct {
	tree   *fakeTree
	handle uint64
}

type fakeTree struct {
	parent   map[uint64]uint64
	children map[uint64][]uint64
	nodes    map[uint64]*fakeNode
}

func newFakeTree(edges map[uint64][]uint64) *fakeTree {
	t := &fakeTree{
		parent:   map[uint64]uint64{},
		children: edges,
		nodes:    map[uint64]*fakeNode{},
	}
	for p, cs := range edges {
		for _, c := range cs {
			t.parent[c] = p
		}
	}
	return t
}

func (t *fakeTree) node(h uint64) *fakeNode {
	if n, ok := t.nodes[h]; ok {
		return n
	}
	n := &fakeNode{tree: t, handle: h}
	t.nodes[h] = n
	return n
}

func (n *fakeNode) ID() string              { return "fake" }
func (n *fakeNode) Kind() Kind              { return KindWindow }
func (n *fakeNode) NativeHandle() uint64    { return n.handle }
func (n *fakeNode) ProcessID() int          { return 0 }
func (n *fakeNode) BoundingRectangle() Rect { return Rect{} }
func (n *fakeNode) Type() Type              { return TypePanel }
func (n *fakeNode) States() State           { return StateNone }
func (n *fakeNode) Name() string            { return "" }

func (n *fakeNode) Parent() Element {
	p, ok := n.tree.parent[n.handle]
	if !ok {
		return nil
	}
	return n.tree.node(p)
}

func (n *fakeNode) Children() iter.Seq[Element] {
	return func(yield func(Element) bool) {
		for _, c := range n.tree.children[n.handle] {
			if !yield(n.tree.node(c)) {
				return
			}
		}
	}
}

func TestSiblings(t *testing.T) {
	tree := newFakeTree(map[uint64][]uint64{1: {10, 11, 12}})

	first, middle, last := tree.node(10), tree.node(11), tree.node(12)

	assert.Nil(t, PreviousSibling(first))
	assert.Equal(t, uint64(11), NextSibling(first).NativeHandle())
	assert.Equal(t, uint64(10), PreviousSibling(middle).NativeHandle())
	assert.Equal(t, uint64(12), NextSibling(middle).NativeHandle())
	assert.Equal(t, uint64(11), PreviousSibling(last).NativeHandle())
	assert.Nil(t, NextSibling(last))

	root := tree.node(1)
	assert.Nil(t, PreviousSibling(root))
	assert.Nil(t, NextSibling(root))
}

func TestAncestors(t *testing.T) {
	tree := newFakeTree(map[uint64][]uint64{1: {2}, 2: {3}})
	var chain []uint64
	for a := range Ancestors(tree.node(3)) {
		chain = append(chain, a.NativeHandle())
	}
	assert.Equal(t, []uint64{2, 1}, chain)
}

func TestCacheIdentity(t *testing.T) {
	c := NewCache[uint32, *fakeNode](nil)
	tree := newFakeTree(nil)

	create := func(h uint32) (*fakeNode, error) {
		return &fakeNode{tree: tree, handle: uint64(h)}, nil
	}

	a, err := c.GetOrCreate(7, create)
	require.NoError(t, err)
	b, err := c.GetOrCreate(7, create)
	require.NoError(t, err)
	assert.Same(t, a, b)

	other, err := c.GetOrCreate(8, create)
	require.NoError(t, err)
	assert.NotSame(t, a, other)
	assert.Equal(t, 2, c.Len())
}

func TestCacheConcurrentGetOrCreate(t *testing.T) {
	c := NewCache[uint32, *int](nil)
	calls := 0

	var wg sync.WaitGroup
	results := make([]*int, 32)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, _ := c.GetOrCreate(1, func(uint32) (*int, error) {
				calls++
				n := i
				return &n, nil
			})
			results[i] = v
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, calls)
	for _, r := range results {
		assert.Same(t, results[0], r)
	}
}

func TestCacheCreateErrorNotStored(t *testing.T) {
	c := NewCache[uint32, *int](nil)
	_, err := c.GetOrCreate(1, func(uint32) (*int, error) { return nil, errors.New("boom") })
	require.Error(t, err)
	assert.Equal(t, 0, c.Len())
}

func TestCacheEvictRunsHookOnce(t *testing.T) {
	evicted := map[uint32]int{}
	c := NewCache(func(k uint32, _ *int) { evicted[k]++ })

	for _, k := range []uint32{1, 2, 3} {
		_, _ = c.GetOrCreate(k, func(uint32) (*int, error) { return new(int), nil })
	}

	assert.True(t, c.Evict(1))
	assert.False(t, c.Evict(1))
	assert.Equal(t, 1, c.Purge(func(k uint32, _ *int) bool { return k != 2 }))
	c.Close()

	assert.Equal(t, map[uint32]int{1: 1, 2: 1, 3: 1}, evicted)

	created := false
	_, err := c.GetOrCreate(9, func(uint32) (*int, error) { created = true; return new(int), nil })
	assert.ErrorIs(t, err, ErrCacheClosed)
	assert.False(t, created, "closed caches build nothing")
	assert.Equal(t, 0, c.Len())
}

func TestHandleAcquireRelease(t *testing.T) {
	released := 0
	h := NewHandle("node", func(string) { released++ })

	require.True(t, h.Acquire())
	assert.Equal(t, 2, h.Refs())

	assert.False(t, h.Release())
	assert.True(t, h.Release())
	assert.Equal(t, 1, released)

	assert.False(t, h.Acquire(), "released handles cannot be revived")
	assert.False(t, h.Release())
	assert.Equal(t, 1, released)
	assert.False(t, h.Alive())
}

func TestRect(t *testing.T) {
	r := Rect{X: 10, Y: 20, Width: 100, Height: 50}

	assert.True(t, r.Contains(Point{10, 20}))
	assert.True(t, r.Contains(Point{109, 69}))
	assert.False(t, r.Contains(Point{110, 20}))
	assert.False(t, r.Contains(Point{10, 70}))

	assert.Equal(t, Rect{X: 50, Y: 20, Width: 60, Height: 50}, r.Intersect(Rect{X: 50, Y: 0, Width: 200, Height: 200}))
	assert.True(t, r.Intersect(Rect{X: 200, Y: 200, Width: 5, Height: 5}).Empty())
	assert.Equal(t, Rect{X: 0, Y: 0, Width: 110, Height: 70}, r.Union(Rect{Width: 1, Height: 1}))
	assert.Equal(t, 0, Rect{Width: -3, Height: 4}.Area())

	assert.Equal(t, Rect{X: 1, Y: 2, Width: 9, Height: 8}, RectFromPoints(Point{10, 10}, Point{1, 2}))
}

func TestParseGranularity(t *testing.T) {
	for _, g := range []Granularity{GranularityScreen, GranularityWindow, GranularityElement, GranularityFree} {
		parsed, err := ParseGranularity(g.String())
		require.NoError(t, err)
		assert.Equal(t, g, parsed)
	}
	_, err := ParseGranularity("pixel")
	assert.Error(t, err)
}

func TestStateNames(t *testing.T) {
	s := StateFocused | StatePassword
	assert.Equal(t, []string{"Focused", "Password"}, s.Names())
	assert.Equal(t, "Focused|Password", s.String())
	assert.True(t, s.Has(StateFocused))
	assert.False(t, s.Has(StateFocused|StateSelected))
	assert.Equal(t, "None", StateNone.String())
}
