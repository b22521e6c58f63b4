package hotkey

import (
	"github.com/BurntSushi/xgb/xproto"
	"github.com/jimfengnpu/everywhere/internal/element"
)

// KeyEvent is a key press or release seen by a keyboard hook.
type KeyEvent struct {
	Code      xproto.Keycode
	State     uint16
	Key       string
	Modifiers Modifier
	Pressed   bool
}

// MouseKind distinguishes pointer events.
type MouseKind int

const (
	MouseMove MouseKind = iota
	MouseDown
	MouseUp
	MouseWheel
)

func (k MouseKind) String() string {
	switch k {
	case MouseMove:
		return "move"
	case MouseDown:
		return "down"
	case MouseUp:
		return "up"
	case MouseWheel:
		return "wheel"
	}
	return "unknown"
}

// Pointer buttons.
const (
	ButtonLeft      = 1
	ButtonMiddle    = 2
	ButtonRight     = 3
	ButtonWheelUp   = 4
	ButtonWheelDown = 5
)

// MouseEvent is a pointer event seen by a mouse hook. Position is in root
// (screen) coordinates. Delta is +1 for wheel up and -1 for wheel down.
type MouseEvent struct {
	Kind      MouseKind
	Button    int
	Position  element.Point
	Modifiers Modifier
	Delta     int
}

// KeyHook observes every key event while installed.
type KeyHook func(KeyEvent)

// MouseHook observes every pointer event while installed.
type MouseHook func(MouseEvent)

func mouseEventFrom(ev any) (MouseEvent, bool) {
	switch e := ev.(type) {
	case xproto.MotionNotifyEvent:
		return MouseEvent{
			Kind:      MouseMove,
			Position:  element.Point{X: int(e.RootX), Y: int(e.RootY)},
			Modifiers: ModifiersFromState(e.State),
		}, true
	case xproto.ButtonPressEvent:
		me := MouseEvent{
			Kind:      MouseDown,
			Button:    int(e.Detail),
			Position:  element.Point{X: int(e.RootX), Y: int(e.RootY)},
			Modifiers: ModifiersFromState(e.State),
		}
		switch e.Detail {
		case ButtonWheelUp:
			me.Kind, me.Delta = MouseWheel, 1
		case ButtonWheelDown:
			me.Kind, me.Delta = MouseWheel, -1
		}
		return me, true
	case xproto.ButtonReleaseEvent:
		if e.Detail == ButtonWheelUp || e.Detail == ButtonWheelDown {
			return MouseEvent{}, false
		}
		return MouseEvent{
			Kind:      MouseUp,
			Button:    int(e.Detail),
			Position:  element.Point{X: int(e.RootX), Y: int(e.RootY)},
			Modifiers: ModifiersFromState(e.State),
		}, true
	}
	return MouseEvent{}, false
}
