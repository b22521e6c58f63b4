package hotkey

import (
	"errors"
	"fmt"
	"strings"

	"github.com/BurntSushi/xgb/xproto"
)

// ErrUnknownKey is returned when a shortcut names no key or a key the
// keyboard mapping does not know.
var ErrUnknownKey = errors.New("unknown key")

// Modifier is a set of logical shortcut modifiers.
type Modifier uint8

const (
	ModCtrl Modifier = 1 << iota
	ModShift
	ModAlt
	ModSuper
	ModAltGr

	ModNone Modifier = 0
)

var modifierOrder = []struct {
	mod  Modifier
	name string
	mask uint16
}{
	{ModCtrl, "Ctrl", xproto.ModMaskControl},
	{ModShift, "Shift", xproto.ModMaskShift},
	{ModAlt, "Alt", xproto.ModMask1},
	{ModSuper, "Super", xproto.ModMask4},
	{ModAltGr, "AltGr", xproto.ModMask5},
}

var modifierAliases = map[string]Modifier{
	"ctrl":    ModCtrl,
	"control": ModCtrl,
	"ctl":     ModCtrl,
	"shift":   ModShift,
	"alt":     ModAlt,
	"meta":    ModAlt,
	"option":  ModAlt,
	"super":   ModSuper,
	"win":     ModSuper,
	"windows": ModSuper,
	"cmd":     ModSuper,
	"mod4":    ModSuper,
	"altgr":   ModAltGr,
}

// X returns the X11 modifier mask for m.
func (m Modifier) X() uint16 {
	var mask uint16
	for _, o := range modifierOrder {
		if m&o.mod != 0 {
			mask |= o.mask
		}
	}
	return mask
}

// ModifiersFromState maps an X11 event state to logical modifiers. Lock and
// button bits are ignored.
func ModifiersFromState(state uint16) Modifier {
	var m Modifier
	for _, o := range modifierOrder {
		if state&o.mask != 0 {
			m |= o.mod
		}
	}
	return m
}

func (m Modifier) String() string {
	var parts []string
	for _, o := range modifierOrder {
		if m&o.mod != 0 {
			parts = append(parts, o.name)
		}
	}
	return strings.Join(parts, "+")
}

// ModifierForKey classifies a keysym name as a modifier key.
func ModifierForKey(name string) (Modifier, bool) {
	switch name {
	case "Control_L", "Control_R":
		return ModCtrl, true
	case "Shift_L", "Shift_R":
		return ModShift, true
	case "Alt_L", "Alt_R", "Meta_L", "Meta_R":
		return ModAlt, true
	case "Super_L", "Super_R", "Hyper_L", "Hyper_R":
		return ModSuper, true
	case "ISO_Level3_Shift", "Mode_switch":
		return ModAltGr, true
	}
	return ModNone, false
}

// Shortcut is a key plus modifiers, spelled like "Ctrl+Shift+A".
type Shortcut struct {
	Key       string
	Modifiers Modifier
}

var keyAliases = map[string]string{
	"esc":       "Escape",
	"escape":    "Escape",
	"enter":     "Return",
	"return":    "Return",
	"space":     "space",
	"spacebar":  "space",
	"tab":       "Tab",
	"backspace": "BackSpace",
	"del":       "Delete",
	"delete":    "Delete",
	"ins":       "Insert",
	"insert":    "Insert",
	"home":      "Home",
	"end":       "End",
	"pgup":      "Prior",
	"pageup":    "Prior",
	"prior":     "Prior",
	"pgdn":      "Next",
	"pagedown":  "Next",
	"next":      "Next",
	"up":        "Up",
	"down":      "Down",
	"left":      "Left",
	"right":     "Right",
	"print":     "Print",
	"prtsc":     "Print",
	"pause":     "Pause",
	"menu":      "Menu",
}

// NormalizeKey returns the canonical spelling of a key name: letters are
// upper case, function keys are F1..F35 and common aliases map to X keysym
// names. Anything else is returned as is.
func NormalizeKey(key string) string {
	key = strings.TrimSpace(key)
	if key == "" {
		return ""
	}
	if len(key) == 1 {
		return strings.ToUpper(key)
	}
	lower := strings.ToLower(key)
	if alias, ok := keyAliases[lower]; ok {
		return alias
	}
	if lower[0] == 'f' {
		var n int
		if _, err := fmt.Sscanf(lower, "f%d", &n); err == nil && n >= 1 && n <= 35 && fmt.Sprintf("f%d", n) == lower {
			return fmt.Sprintf("F%d", n)
		}
	}
	return key
}

// ParseShortcut parses "Ctrl+Shift+A" style strings. Exactly one non-modifier
// key is required.
func ParseShortcut(s string) (Shortcut, error) {
	var sc Shortcut
	parts := strings.Split(s, "+")
	// "Ctrl++" binds the plus key
	if strings.HasSuffix(s, "++") {
		parts = append(parts[:len(parts)-2], "plus")
	}
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			return Shortcut{}, fmt.Errorf("parse shortcut %q: empty component", s)
		}
		if m, ok := modifierAliases[strings.ToLower(part)]; ok {
			sc.Modifiers |= m
			continue
		}
		if sc.Key != "" {
			return Shortcut{}, fmt.Errorf("parse shortcut %q: more than one key (%s, %s)", s, sc.Key, part)
		}
		sc.Key = NormalizeKey(part)
	}
	if sc.Key == "" {
		return Shortcut{}, fmt.Errorf("parse shortcut %q: %w", s, ErrUnknownKey)
	}
	return sc, nil
}

// String returns the canonical spelling; ParseShortcut(sc.String()) == sc.
func (sc Shortcut) String() string {
	mods := sc.Modifiers.String()
	switch {
	case mods == "":
		return sc.Key
	case sc.Key == "":
		return mods
	default:
		return mods + "+" + sc.Key
	}
}

// Complete reports whether the shortcut names a non-modifier key.
func (sc Shortcut) Complete() bool { return sc.Key != "" }

// MarshalText implements encoding.TextMarshaler.
func (sc Shortcut) MarshalText() ([]byte, error) { return []byte(sc.String()), nil }
