package picker

import (
	"fmt"

	"github.com/jimfengnpu/everywhere/internal/element"
)

// Mode lists.
var (
	PickModes       = []element.Granularity{element.GranularityScreen, element.GranularityWindow, element.GranularityElement}
	ScreenshotModes = []element.Granularity{element.GranularityScreen, element.GranularityWindow, element.GranularityElement, element.GranularityFree}
)

// CycleMode moves step positions through modes from index cur, wrapping in
// both directions.
func CycleMode(modes []element.Granularity, cur, step int) int {
	n := len(modes)
	if n == 0 {
		return 0
	}
	return ((cur+step)%n + n) % n
}

// ModeIndex returns the position of g in modes, or -1.
func ModeIndex(modes []element.Granularity, g element.Granularity) int {
	for i, m := range modes {
		if m == g {
			return i
		}
	}
	return -1
}

// ParseModes parses mode names, rejecting duplicates.
func ParseModes(names []string) ([]element.Granularity, error) {
	out := make([]element.Granularity, 0, len(names))
	for _, name := range names {
		g, err := element.ParseGranularity(name)
		if err != nil {
			return nil, err
		}
		if ModeIndex(out, g) >= 0 {
			return nil, fmt.Errorf("duplicate mode %q", name)
		}
		out = append(out, g)
	}
	return out, nil
}

func modeLabel(g element.Granularity) string {
	switch g {
	case element.GranularityScreen:
		return "Screen"
	case element.GranularityWindow:
		return "Window"
	case element.GranularityElement:
		return "Element"
	case element.GranularityFree:
		return "Region"
	}
	return g.String()
}
