package hotkey

import (
	"fmt"
	"slices"
	"strings"

	"github.com/BurntSushi/xgb/xproto"
	"github.com/BurntSushi/xgbutil"
	"github.com/BurntSushi/xgbutil/keybind"
	"github.com/jimfengnpu/everywhere/internal/logger"
)

// X11 grabs keys and the pointer on the root window and maps key names
// through the server's keyboard mapping.
type X11 struct {
	xu      *xgbutil.XUtil
	root    xproto.Window
	numLock uint16
}

// NewX11 loads the keyboard mapping and discovers the NumLock modifier.
func NewX11(xu *xgbutil.XUtil) *X11 {
	keybind.Initialize(xu)
	x := &X11{xu: xu, root: xu.RootWin()}
	x.numLock = x.discoverNumLock()
	logger.WithComponent("hotkey").Debug().
		Str("numlock", keybind.ModifierString(x.numLock)).
		Msg("Keyboard mapping loaded")
	return x
}

func (x *X11) discoverNumLock() uint16 {
	reply, err := xproto.GetModifierMapping(x.xu.Conn()).Reply()
	if err != nil {
		logger.WithComponent("hotkey").Warn().Err(err).Msg("Failed to read modifier mapping, assuming NumLock is Mod2")
		return xproto.ModMask2
	}
	numCodes := keybind.StrToKeycodes(x.xu, "Num_Lock")
	per := int(reply.KeycodesPerModifier)
	for mod := range 8 {
		for i := range per {
			idx := mod*per + i
			if idx < len(reply.Keycodes) && slices.Contains(numCodes, reply.Keycodes[idx]) {
				return 1 << mod
			}
		}
	}
	return xproto.ModMask2
}

// NumLockMask implements KeyMapper.
func (x *X11) NumLockMask() uint16 { return x.numLock }

// Keycodes implements KeyMapper.
func (x *X11) Keycodes(key string) []xproto.Keycode {
	if len(key) == 1 {
		if codes := keybind.StrToKeycodes(x.xu, strings.ToLower(key)); len(codes) > 0 {
			return codes
		}
	}
	return keybind.StrToKeycodes(x.xu, key)
}

// KeyName implements KeyMapper. The unshifted keysym is used so digits and
// letters keep their base name.
func (x *X11) KeyName(code xproto.Keycode) string {
	return keybind.LookupString(x.xu, 0, code)
}

// GrabKey implements Grabber.
func (x *X11) GrabKey(code xproto.Keycode, mods uint16) error {
	return xproto.GrabKeyChecked(x.xu.Conn(), true, x.root, mods, code,
		xproto.GrabModeAsync, xproto.GrabModeAsync).Check()
}

// UngrabKey implements Grabber.
func (x *X11) UngrabKey(code xproto.Keycode, mods uint16) error {
	return xproto.UngrabKeyChecked(x.xu.Conn(), code, x.root, mods).Check()
}

// GrabKeyboard implements Grabber.
func (x *X11) GrabKeyboard() error {
	reply, err := xproto.GrabKeyboard(x.xu.Conn(), true, x.root, xproto.TimeCurrentTime,
		xproto.GrabModeAsync, xproto.GrabModeAsync).Reply()
	if err != nil {
		return err
	}
	if reply.Status != xproto.GrabStatusSuccess {
		return fmt.Errorf("keyboard grab status %d", reply.Status)
	}
	return nil
}

// UngrabKeyboard implements Grabber.
func (x *X11) UngrabKeyboard() error {
	return xproto.UngrabKeyboardChecked(x.xu.Conn(), xproto.TimeCurrentTime).Check()
}

// GrabPointer implements Grabber.
func (x *X11) GrabPointer() error {
	mask := uint16(xproto.EventMaskButtonPress | xproto.EventMaskButtonRelease | xproto.EventMaskPointerMotion)
	reply, err := xproto.GrabPointer(x.xu.Conn(), true, x.root, mask,
		xproto.GrabModeAsync, xproto.GrabModeAsync, xproto.WindowNone, xproto.CursorNone,
		xproto.TimeCurrentTime).Reply()
	if err != nil {
		return err
	}
	if reply.Status != xproto.GrabStatusSuccess {
		return fmt.Errorf("pointer grab status %d", reply.Status)
	}
	return nil
}

// UngrabPointer implements Grabber.
func (x *X11) UngrabPointer() error {
	return xproto.UngrabPointerChecked(x.xu.Conn(), xproto.TimeCurrentTime).Check()
}
