package element

import "iter"

// Element is a visual element: a screen, a native window or an accessible node.
//
// Relationships are never stored. Parent and Children are recomputed from
// native queries on every call, so holding an Element never pins a subtree.
type Element interface {
	// ID is stable for the lifetime of the native handle.
	ID() string
	Kind() Kind
	// NativeHandle is the opaque native identity used for sibling lookups.
	NativeHandle() uint64
	ProcessID() int
	BoundingRectangle() Rect
	Type() Type
	States() State
	Name() string

	// Parent returns nil for roots.
	Parent() Element
	Children() iter.Seq[Element]
}

// PreviousSibling returns the sibling before e in its parent's child order.
func PreviousSibling(e Element) Element {
	prev, _ := siblings(e)
	return prev
}

// NextSibling returns the sibling after e in its parent's child order.
func NextSibling(e Element) Element {
	_, next := siblings(e)
	return next
}

func siblings(e Element) (prev, next Element) {
	if e == nil {
		return nil, nil
	}
	parent := e.Parent()
	if parent == nil {
		return nil, nil
	}
	handle := e.NativeHandle()
	found := false
	for child := range parent.Children() {
		if found {
			return prev, child
		}
		if child.NativeHandle() == handle {
			found = true
			continue
		}
		prev = child
	}
	if !found {
		return nil, nil
	}
	return prev, nil
}

// Ancestors yields e's parent chain, nearest first.
func Ancestors(e Element) iter.Seq[Element] {
	return func(yield func(Element) bool) {
		if e == nil {
			return
		}
		for p := e.Parent(); p != nil; p = p.Parent() {
			if !yield(p) {
				return
			}
		}
	}
}

// ChildList collects Children into a slice.
func ChildList(e Element) []Element {
	var out []Element
	for c := range e.Children() {
		out = append(out, c)
	}
	return out
}

// Info is a serializable snapshot of an element.
type Info struct {
	ID       string   `json:"id"`
	Kind     string   `json:"kind"`
	Handle   uint64   `json:"handle"`
	PID      int      `json:"pid"`
	Type     Type     `json:"type"`
	States   []string `json:"states,omitempty"`
	Name     string   `json:"name,omitempty"`
	Bounds   Rect     `json:"bounds"`
	ParentID string   `json:"parent_id,omitempty"`
	ChildIDs []string `json:"children,omitempty"`
}

// Describe snapshots e. Children are only listed when withChildren is set
// because enumerating them costs a round trip per child.
func Describe(e Element, withChildren bool) Info {
	info := Info{
		ID:     e.ID(),
		Kind:   e.Kind().String(),
		Handle: e.NativeHandle(),
		PID:    e.ProcessID(),
		Type:   e.Type(),
		States: e.States().Names(),
		Name:   e.Name(),
		Bounds: e.BoundingRectangle(),
	}
	if p := e.Parent(); p != nil {
		info.ParentID = p.ID()
	}
	if withChildren {
		for c := range e.Children() {
			info.ChildIDs = append(info.ChildIDs, c.ID())
		}
	}
	return info
}
