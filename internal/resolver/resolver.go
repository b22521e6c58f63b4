// Package resolver maps screen points to elements at a requested
// granularity.
package resolver

import (
	"fmt"

	"github.com/jimfengnpu/everywhere/internal/accessibility"
	"github.com/jimfengnpu/everywhere/internal/display"
	"github.com/jimfengnpu/everywhere/internal/element"
	"github.com/jimfengnpu/everywhere/internal/logger"
	"github.com/jimfengnpu/everywhere/internal/window"
)

// Screens finds the screen under a point.
type Screens interface {
	At(p element.Point) *display.Screen
}

// Windows finds the topmost window under a point.
type Windows interface {
	WindowAtPoint(p element.Point) *window.Window
}

// Refiner narrows a window hit to an accessible object.
type Refiner interface {
	ElementFromWindow(p element.Point, w element.Element) *accessibility.Node
}

// Pointer reports the current pointer position.
type Pointer interface {
	Pointer() (element.Point, error)
}

// Resolver answers point queries.
type Resolver struct {
	screens Screens
	windows Windows
	refiner Refiner
	pointer Pointer
}

// New creates a resolver. refiner may be nil when accessibility is
// unavailable; element queries then resolve to windows.
func New(screens Screens, windows Windows, refiner Refiner, pointer Pointer) *Resolver {
	return &Resolver{screens: screens, windows: windows, refiner: refiner, pointer: pointer}
}

// Resolve returns the element at p, or nil when nothing is there. Free
// granularity selects regions, not elements, and always yields nil.
func (r *Resolver) Resolve(p element.Point, g element.Granularity) element.Element {
	switch g {
	case element.GranularityScreen:
		if s := r.screens.At(p); s != nil {
			return s
		}
		return nil
	case element.GranularityWindow:
		if w := r.windows.WindowAtPoint(p); w != nil {
			return w
		}
		return nil
	case element.GranularityElement:
		return r.resolveElement(p)
	default:
		return nil
	}
}

func (r *Resolver) resolveElement(p element.Point) element.Element {
	w := r.windows.WindowAtPoint(p)
	if w == nil {
		return nil
	}
	if r.refiner == nil {
		return w
	}
	if n := r.refiner.ElementFromWindow(p, w); n != nil {
		return n
	}
	logger.WithComponent("resolver").Debug().Str("window", w.ID()).
		Int("x", p.X).Int("y", p.Y).Msg("No accessible element, falling back to window")
	return w
}

// ResolveAtPointer resolves at the current pointer position.
func (r *Resolver) ResolveAtPointer(g element.Granularity) (element.Element, error) {
	p, err := r.pointer.Pointer()
	if err != nil {
		return nil, fmt.Errorf("resolve at pointer: %w", err)
	}
	return r.Resolve(p, g), nil
}
