// Package element defines the visual element model shared by the window
// tree, the accessibility tree and the screen layout.
package element

import (
	"fmt"
	"image"
	"strings"
)

// Point is an absolute screen coordinate.
type Point struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// Rect is an integer pixel rectangle in absolute screen coordinates.
type Rect struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// RectFromPoints returns the normalized rectangle spanned by two corners.
func RectFromPoints(a, b Point) Rect {
	x0, x1 := min(a.X, b.X), max(a.X, b.X)
	y0, y1 := min(a.Y, b.Y), max(a.Y, b.Y)
	return Rect{X: x0, Y: y0, Width: x1 - x0, Height: y1 - y0}
}

// Right is the exclusive right edge.
func (r Rect) Right() int { return r.X + r.Width }

// Bottom is the exclusive bottom edge.
func (r Rect) Bottom() int { return r.Y + r.Height }

// Empty reports whether the rectangle has no positive area.
func (r Rect) Empty() bool { return r.Width <= 0 || r.Height <= 0 }

// Area returns Width*Height, or 0 for empty rectangles.
func (r Rect) Area() int {
	if r.Empty() {
		return 0
	}
	return r.Width * r.Height
}

// Contains reports whether p lies inside r (right and bottom edges exclusive).
func (r Rect) Contains(p Point) bool {
	return p.X >= r.X && p.X < r.Right() && p.Y >= r.Y && p.Y < r.Bottom()
}

// Intersect returns the overlap of r and o, or the zero Rect.
func (r Rect) Intersect(o Rect) Rect {
	x0, y0 := max(r.X, o.X), max(r.Y, o.Y)
	x1, y1 := min(r.Right(), o.Right()), min(r.Bottom(), o.Bottom())
	if x1 <= x0 || y1 <= y0 {
		return Rect{}
	}
	return Rect{X: x0, Y: y0, Width: x1 - x0, Height: y1 - y0}
}

// Intersects reports whether r and o overlap with positive area.
func (r Rect) Intersects(o Rect) bool { return !r.Intersect(o).Empty() }

// Union returns the smallest rectangle containing both r and o.
func (r Rect) Union(o Rect) Rect {
	if r.Empty() {
		return o
	}
	if o.Empty() {
		return r
	}
	x0, y0 := min(r.X, o.X), min(r.Y, o.Y)
	x1, y1 := max(r.Right(), o.Right()), max(r.Bottom(), o.Bottom())
	return Rect{X: x0, Y: y0, Width: x1 - x0, Height: y1 - y0}
}

// Offset returns r translated by (dx, dy).
func (r Rect) Offset(dx, dy int) Rect {
	return Rect{X: r.X + dx, Y: r.Y + dy, Width: r.Width, Height: r.Height}
}

// Image converts r to an image.Rectangle.
func (r Rect) Image() image.Rectangle {
	return image.Rect(r.X, r.Y, r.Right(), r.Bottom())
}

func (r Rect) String() string {
	return fmt.Sprintf("%dx%d+%d+%d", r.Width, r.Height, r.X, r.Y)
}

// Kind is the element variant.
type Kind int

const (
	KindWindow Kind = iota
	KindScreen
	KindAccessible
)

func (k Kind) String() string {
	switch k {
	case KindWindow:
		return "window"
	case KindScreen:
		return "screen"
	case KindAccessible:
		return "accessible"
	default:
		return "unknown"
	}
}

// Type classifies what an element represents.
type Type int

const (
	TypeUnknown Type = iota
	TypeScreen
	TypeTopLevel
	TypePanel
	TypeLabel
	TypeTextEdit
	TypeDocument
	TypeButton
	TypeHyperlink
	TypeImage
	TypeCheckBox
	TypeRadioButton
	TypeComboBox
	TypeListView
	TypeListViewItem
	TypeTreeView
	TypeTreeViewItem
	TypeDataGrid
	TypeDataGridItem
	TypeTabControl
	TypeTabItem
	TypeTable
	TypeTableRow
	TypeMenu
	TypeMenuItem
	TypeSlider
	TypeScrollBar
	TypeProgressBar
	TypeSpinner

	typeCount
)

var typeNames = [...]string{
	TypeUnknown:      "Unknown",
	TypeScreen:       "Screen",
	TypeTopLevel:     "TopLevel",
	TypePanel:        "Panel",
	TypeLabel:        "Label",
	TypeTextEdit:     "TextEdit",
	TypeDocument:     "Document",
	TypeButton:       "Button",
	TypeHyperlink:    "Hyperlink",
	TypeImage:        "Image",
	TypeCheckBox:     "CheckBox",
	TypeRadioButton:  "RadioButton",
	TypeComboBox:     "ComboBox",
	TypeListView:     "ListView",
	TypeListViewItem: "ListViewItem",
	TypeTreeView:     "TreeView",
	TypeTreeViewItem: "TreeViewItem",
	TypeDataGrid:     "DataGrid",
	TypeDataGridItem: "DataGridItem",
	TypeTabControl:   "TabControl",
	TypeTabItem:      "TabItem",
	TypeTable:        "Table",
	TypeTableRow:     "TableRow",
	TypeMenu:         "Menu",
	TypeMenuItem:     "MenuItem",
	TypeSlider:       "Slider",
	TypeScrollBar:    "ScrollBar",
	TypeProgressBar:  "ProgressBar",
	TypeSpinner:      "Spinner",
}

// Valid reports whether t is one of the declared types.
func (t Type) Valid() bool { return t >= 0 && t < typeCount }

func (t Type) String() string {
	if !t.Valid() {
		return typeNames[TypeUnknown]
	}
	return typeNames[t]
}

// MarshalText encodes the type by name.
func (t Type) MarshalText() ([]byte, error) { return []byte(t.String()), nil }

// UnmarshalText decodes a type name. Unknown names decode to TypeUnknown.
func (t *Type) UnmarshalText(b []byte) error {
	for k, name := range typeNames {
		if name == string(b) {
			*t = Type(k)
			return nil
		}
	}
	*t = TypeUnknown
	return nil
}

// State is a set of element state flags.
type State uint32

const (
	StateOffscreen State = 1 << iota
	StateDisabled
	StateFocused
	StateSelected
	StateReadOnly
	StatePassword

	StateNone State = 0
)

var stateNames = []struct {
	flag State
	name string
}{
	{StateOffscreen, "Offscreen"},
	{StateDisabled, "Disabled"},
	{StateFocused, "Focused"},
	{StateSelected, "Selected"},
	{StateReadOnly, "ReadOnly"},
	{StatePassword, "Password"},
}

// Has reports whether every flag in f is set.
func (s State) Has(f State) bool { return s&f == f }

// Names lists the set flags in declaration order.
func (s State) Names() []string {
	names := make([]string, 0, len(stateNames))
	for _, sn := range stateNames {
		if s&sn.flag != 0 {
			names = append(names, sn.name)
		}
	}
	return names
}

func (s State) String() string {
	if s == StateNone {
		return "None"
	}
	return strings.Join(s.Names(), "|")
}

// Granularity is the level at which a point is resolved.
type Granularity int

const (
	GranularityScreen Granularity = iota
	GranularityWindow
	GranularityElement
	GranularityFree
)

func (g Granularity) String() string {
	switch g {
	case GranularityScreen:
		return "screen"
	case GranularityWindow:
		return "window"
	case GranularityElement:
		return "element"
	case GranularityFree:
		return "free"
	default:
		return fmt.Sprintf("granularity(%d)", int(g))
	}
}

// ParseGranularity accepts the names produced by Granularity.String.
func ParseGranularity(s string) (Granularity, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "screen":
		return GranularityScreen, nil
	case "window":
		return GranularityWindow, nil
	case "element", "control":
		return GranularityElement, nil
	case "free", "region":
		return GranularityFree, nil
	default:
		return GranularityElement, fmt.Errorf("unknown granularity: %q (expected screen, window, element, or free)", s)
	}
}
