package config

import (
	"maps"
	"slices"
	"strconv"
	"strings"
)

type field struct {
	get func(*Config) string
	set func(*Config, string) error
}

func stringField(p func(*Config) *string) field {
	return field{
		get: func(c *Config) string { return *p(c) },
		set: func(c *Config, v string) error {
			*p(c) = strings.TrimSpace(v)
			return nil
		},
	}
}

func intField(p func(*Config) *int) field {
	return field{
		get: func(c *Config) string { return strconv.Itoa(*p(c)) },
		set: func(c *Config, v string) error {
			n, err := strconv.Atoi(strings.TrimSpace(v))
			if err != nil {
				return err
			}
			*p(c) = n
			return nil
		},
	}
}

func boolField(p func(*Config) *bool) field {
	return field{
		get: func(c *Config) string { return strconv.FormatBool(*p(c)) },
		set: func(c *Config, v string) error {
			b, err := strconv.ParseBool(strings.TrimSpace(v))
			if err != nil {
				return err
			}
			*p(c) = b
			return nil
		},
	}
}

var fields = map[string]field{
	"log_level":   stringField(func(c *Config) *string { return &c.LogLevel }),
	"log_pretty":  boolField(func(c *Config) *bool { return &c.LogPretty }),
	"server_port": intField(func(c *Config) *int { return &c.ServerPort }),
	"picker.modes": {
		get: func(c *Config) string { return strings.Join(c.Picker.Modes, ",") },
		set: func(c *Config, v string) error {
			var modes []string
			for _, m := range strings.Split(v, ",") {
				if m = strings.TrimSpace(m); m != "" {
					modes = append(modes, m)
				}
			}
			c.Picker.Modes = modes
			return nil
		},
	},
	"picker.default_mode":    stringField(func(c *Config) *string { return &c.Picker.DefaultMode }),
	"picker.screenshot_mode": stringField(func(c *Config) *string { return &c.Picker.ScreenshotMode }),
	"picker.highlight_color": stringField(func(c *Config) *string { return &c.Picker.HighlightColor }),
	"picker.mask_opacity": {
		get: func(c *Config) string { return strconv.FormatFloat(c.Picker.MaskOpacity, 'g', -1, 64) },
		set: func(c *Config, v string) error {
			f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
			if err != nil {
				return err
			}
			c.Picker.MaskOpacity = f
			return nil
		},
	},
	"hotkeys.pick":                  stringField(func(c *Config) *string { return &c.Hotkeys.Pick }),
	"hotkeys.screenshot":            stringField(func(c *Config) *string { return &c.Hotkeys.Screenshot }),
	"workers.size":                  intField(func(c *Config) *int { return &c.Workers.Size }),
	"workers.queue":                 intField(func(c *Config) *int { return &c.Workers.Queue }),
	"accessibility.enabled":         boolField(func(c *Config) *bool { return &c.Accessibility.Enabled }),
	"accessibility.call_timeout_ms": intField(func(c *Config) *int { return &c.Accessibility.CallTimeoutMS }),
	"screenshot.dir":                stringField(func(c *Config) *string { return &c.Screenshot.Dir }),
}

// Keys lists the dotted keys accepted by Lookup and Set.
func Keys() []string {
	return slices.Sorted(maps.Keys(fields))
}
