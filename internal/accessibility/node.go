package accessibility

import (
	"hash/fnv"
	"iter"

	"github.com/jimfengnpu/everywhere/internal/element"
	"github.com/jimfengnpu/everywhere/internal/logger"
)

// Node is an accessible object element. Every query goes to the
// application over the bus; the wrapper only holds the reference.
type Node struct {
	svc    *Service
	handle *element.Handle[Ref]
}

var _ element.Element = (*Node)(nil)

// Ref returns the object reference.
func (n *Node) Ref() Ref { return n.handle.Value() }

// Handle exposes the reference count.
func (n *Node) Handle() *element.Handle[Ref] { return n.handle }

// ID implements element.Element.
func (n *Node) ID() string {
	r := n.Ref()
	return "a11y:" + r.Bus + string(r.Path)
}

// Kind implements element.Element.
func (n *Node) Kind() element.Kind { return element.KindAccessible }

// NativeHandle hashes the reference since AT-SPI objects have no numeric id.
func (n *Node) NativeHandle() uint64 {
	h := fnv.New64a()
	h.Write([]byte(n.ID()))
	return h.Sum64()
}

// ProcessID implements element.Element.
func (n *Node) ProcessID() int {
	ctx, cancel := n.svc.callContext()
	defer cancel()
	pid, err := n.svc.client.ProcessID(ctx, n.Ref().Bus)
	if err != nil {
		n.warn(err, "Failed to resolve owner pid")
		return 0
	}
	return pid
}

// BoundingRectangle returns the component extents in screen coordinates, or
// the zero Rect for objects without a Component interface.
func (n *Node) BoundingRectangle() element.Rect {
	ctx, cancel := n.svc.callContext()
	defer cancel()
	r, err := n.svc.client.Extents(ctx, n.Ref())
	if err != nil {
		n.warn(err, "Failed to read extents")
		return element.Rect{}
	}
	return r
}

// Role returns the AT-SPI role, RoleInvalid on failure.
func (n *Node) Role() Role {
	ctx, cancel := n.svc.callContext()
	defer cancel()
	role, err := n.svc.client.Role(ctx, n.Ref())
	if err != nil {
		n.warn(err, "Failed to read role")
		return RoleInvalid
	}
	return role
}

// Type implements element.Element.
func (n *Node) Type() element.Type { return TypeForRole(n.Role()) }

// States implements element.Element.
func (n *Node) States() element.State {
	ctx, cancel := n.svc.callContext()
	defer cancel()
	s, err := n.svc.client.States(ctx, n.Ref())
	if err != nil {
		n.warn(err, "Failed to read states")
		return element.StateNone
	}
	return MapStates(s, n.Role())
}

// Name implements element.Element.
func (n *Node) Name() string {
	ctx, cancel := n.svc.callContext()
	defer cancel()
	name, err := n.svc.client.Name(ctx, n.Ref())
	if err != nil {
		n.warn(err, "Failed to read name")
		return ""
	}
	return name
}

// Parent returns nil for application roots.
func (n *Node) Parent() element.Element {
	ctx, cancel := n.svc.callContext()
	defer cancel()
	parent, err := n.svc.client.Parent(ctx, n.Ref())
	if err != nil {
		n.warn(err, "Failed to read parent")
		return nil
	}
	if parent.IsNull() || parent == n.svc.client.Desktop() {
		return nil
	}
	if p := n.svc.Node(parent); p != nil {
		return p
	}
	return nil
}

// Children implements element.Element.
func (n *Node) Children() iter.Seq[element.Element] {
	return func(yield func(element.Element) bool) {
		ctx, cancel := n.svc.callContext()
		refs, err := n.svc.client.Children(ctx, n.Ref())
		cancel()
		if err != nil {
			n.warn(err, "Failed to query children")
			return
		}
		for _, r := range refs {
			if r.IsNull() {
				continue
			}
			child := n.svc.Node(r)
			if child == nil || !yield(child) {
				return
			}
		}
	}
}

func (n *Node) String() string { return n.ID() }

func (n *Node) warn(err error, msg string) {
	logger.WithComponent("accessibility").Warn().Err(err).Str("node", n.ID()).Msg(msg)
}
