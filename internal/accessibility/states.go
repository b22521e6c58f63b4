package accessibility

import "github.com/jimfengnpu/everywhere/internal/element"

// StateBit is an index into an AT-SPI state set.
type StateBit uint

// AT-SPI state indices used here.
const (
	StateActive    StateBit = 1
	StateDefunct   StateBit = 6
	StateEditable  StateBit = 7
	StateEnabled   StateBit = 8
	StateFocused   StateBit = 12
	StateIconified StateBit = 15
	StateSelected  StateBit = 23
	StateSensitive StateBit = 24
	StateShowing   StateBit = 25
	StateVisible   StateBit = 30
	StateReadOnly  StateBit = 43
)

// StateSet is the 64-bit AT-SPI state set.
type StateSet uint64

// StateSetFromWords builds a set from the two 32-bit words GetState returns.
func StateSetFromWords(words []uint32) StateSet {
	var s StateSet
	if len(words) > 0 {
		s |= StateSet(words[0])
	}
	if len(words) > 1 {
		s |= StateSet(words[1]) << 32
	}
	return s
}

// NewStateSet returns a set with the given bits.
func NewStateSet(bits ...StateBit) StateSet {
	var s StateSet
	for _, b := range bits {
		s |= 1 << b
	}
	return s
}

// Has reports whether bit b is set.
func (s StateSet) Has(b StateBit) bool { return s&(1<<b) != 0 }

// MapStates converts an AT-SPI state set to element states.
func MapStates(s StateSet, role Role) element.State {
	var out element.State
	if s.Has(StateFocused) {
		out |= element.StateFocused
	}
	if s.Has(StateSelected) {
		out |= element.StateSelected
	}
	if !s.Has(StateEnabled) || !s.Has(StateSensitive) {
		out |= element.StateDisabled
	}
	if s.Has(StateReadOnly) || (isTextRole(role) && !s.Has(StateEditable)) {
		out |= element.StateReadOnly
	}
	if !s.Has(StateShowing) {
		out |= element.StateOffscreen
	}
	if role == RolePasswordText {
		out |= element.StatePassword
	}
	return out
}

// visibleStates applies the visibility rules to a state set. An empty set
// means the node reported nothing and is treated as visible.
func visibleStates(s StateSet) bool {
	if s == 0 {
		return true
	}
	if s.Has(StateDefunct) || s.Has(StateIconified) {
		return false
	}
	return s.Has(StateShowing) && s.Has(StateVisible)
}
