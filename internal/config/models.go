package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/jimfengnpu/everywhere/internal/element"
	"github.com/jimfengnpu/everywhere/internal/hotkey"
	"github.com/jimfengnpu/everywhere/internal/logger"
	"github.com/jimfengnpu/everywhere/internal/overlay"
	"github.com/jimfengnpu/everywhere/internal/picker"
	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	LogLevel      string              `json:"log_level" yaml:"log_level"`
	LogPretty     bool                `json:"log_pretty" yaml:"log_pretty"`
	ServerPort    int                 `json:"server_port" yaml:"server_port"`
	Picker        PickerConfig        `json:"picker" yaml:"picker"`
	Hotkeys       HotkeyConfig        `json:"hotkeys" yaml:"hotkeys"`
	Workers       WorkerConfig        `json:"workers" yaml:"workers"`
	Accessibility AccessibilityConfig `json:"accessibility" yaml:"accessibility"`
	Screenshot    ScreenshotConfig    `json:"screenshot" yaml:"screenshot"`
}

// PickerConfig controls the interactive picker
type PickerConfig struct {
	Modes          []string `json:"modes" yaml:"modes"`
	DefaultMode    string   `json:"default_mode" yaml:"default_mode"`
	ScreenshotMode string   `json:"screenshot_mode" yaml:"screenshot_mode"`
	HighlightColor string   `json:"highlight_color" yaml:"highlight_color"`
	MaskOpacity    float64  `json:"mask_opacity" yaml:"mask_opacity"`
}

// HotkeyConfig holds the global shortcuts registered by `serve`. Empty
// disables a shortcut.
type HotkeyConfig struct {
	Pick       string `json:"pick" yaml:"pick"`
	Screenshot string `json:"screenshot" yaml:"screenshot"`
}

// WorkerConfig sizes the handler pool
type WorkerConfig struct {
	Size  int `json:"size" yaml:"size"`
	Queue int `json:"queue" yaml:"queue"`
}

// AccessibilityConfig toggles the AT-SPI bus connection
type AccessibilityConfig struct {
	Enabled bool `json:"enabled" yaml:"enabled"`
	// CallTimeoutMS bounds each bus call. Zero uses the built-in default.
	CallTimeoutMS int `json:"call_timeout_ms" yaml:"call_timeout_ms"`
}

// ScreenshotConfig controls where screenshots are written
type ScreenshotConfig struct {
	Dir string `json:"dir" yaml:"dir"`
}

// Manager handles configuration management
type Manager struct {
	config     *Config
	configPath string
	mu         sync.RWMutex
}

// DefaultPath returns $HOME/.config/everywhere/config.yaml.
func DefaultPath() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(homeDir, ".config", "everywhere", "config.yaml"), nil
}

// NewManager creates a new configuration manager. An empty configFile uses
// DefaultPath. A missing file is created with the defaults.
func NewManager(configFile string) (*Manager, error) {
	actualConfigPath := configFile
	if actualConfigPath == "" {
		p, err := DefaultPath()
		if err != nil {
			return nil, err
		}
		actualConfigPath = p
	}

	if err := os.MkdirAll(filepath.Dir(actualConfigPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create config directory: %w", err)
	}

	m := &Manager{
		configPath: actualConfigPath,
	}

	if err := m.load(); err != nil {
		if os.IsNotExist(err) {
			logger.WithComponent("config").Info().
				Str("path", m.configPath).
				Msg("Config file not found, creating new config")
			m.config = Defaults()
			if err := m.Save(); err != nil {
				return nil, fmt.Errorf("failed to create default config: %w", err)
			}
		} else {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	logger.WithComponent("config").Debug().
		Str("path", m.configPath).
		Strs("modes", m.config.Picker.Modes).
		Msg("Config loaded")

	return m, nil
}

// Defaults returns the built-in configuration.
func Defaults() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		LogLevel:   "info",
		LogPretty:  true,
		ServerPort: 8765,
		Picker: PickerConfig{
			Modes:          []string{"screen", "window", "element", "free"},
			DefaultMode:    "window",
			ScreenshotMode: "free",
			HighlightColor: "#3399ff",
			MaskOpacity:    0.35,
		},
		Hotkeys: HotkeyConfig{
			Pick:       "Ctrl+Alt+E",
			Screenshot: "Ctrl+Alt+S",
		},
		Workers: WorkerConfig{
			Size:  4,
			Queue: 64,
		},
		Accessibility: AccessibilityConfig{
			Enabled: true,
		},
		Screenshot: ScreenshotConfig{
			Dir: filepath.Join(home, "Pictures"),
		},
	}
}

func (m *Manager) load() error {
	data, err := os.ReadFile(m.configPath)
	if err != nil {
		return err
	}

	// Start from the defaults so keys missing from older files keep a value.
	cfg := Defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config: %w", err)
	}
	if cfg.Picker.Modes == nil {
		cfg.Picker.Modes = Defaults().Picker.Modes
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config %s: %w", m.configPath, err)
	}

	m.mu.Lock()
	m.config = cfg
	m.mu.Unlock()
	return nil
}

// Validate checks every value that is parsed later.
func (c *Config) Validate() error {
	if !logger.LogLevel(c.LogLevel).Valid() {
		return fmt.Errorf("log_level: unknown level %q", c.LogLevel)
	}
	if c.ServerPort < 0 || c.ServerPort > 65535 {
		return fmt.Errorf("server_port out of range: %d", c.ServerPort)
	}
	if _, _, err := c.PickerModes(); err != nil {
		return err
	}
	if _, err := element.ParseGranularity(c.Picker.DefaultMode); err != nil {
		return fmt.Errorf("picker.default_mode: %w", err)
	}
	if _, err := element.ParseGranularity(c.Picker.ScreenshotMode); err != nil {
		return fmt.Errorf("picker.screenshot_mode: %w", err)
	}
	if _, err := overlay.ParseColor(c.Picker.HighlightColor); err != nil {
		return fmt.Errorf("picker.highlight_color: %w", err)
	}
	if c.Picker.MaskOpacity < 0 || c.Picker.MaskOpacity > 1 {
		return fmt.Errorf("picker.mask_opacity must be within [0, 1]: %v", c.Picker.MaskOpacity)
	}
	for key, sc := range map[string]string{"hotkeys.pick": c.Hotkeys.Pick, "hotkeys.screenshot": c.Hotkeys.Screenshot} {
		if sc == "" {
			continue
		}
		if _, err := hotkey.ParseShortcut(sc); err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
	}
	if c.Workers.Size < 1 || c.Workers.Queue < 1 {
		return fmt.Errorf("workers.size and workers.queue must be positive")
	}
	return nil
}

// Style returns the overlay style for the picker settings.
func (c *Config) Style() (overlay.Style, error) {
	col, err := overlay.ParseColor(c.Picker.HighlightColor)
	if err != nil {
		return overlay.Style{}, err
	}
	st := overlay.DefaultStyle()
	st.Color = col
	st.MaskOpacity = c.Picker.MaskOpacity
	return st, nil
}

// PickerModes splits the configured modes into the pick list, which never
// contains free, and the screenshot list.
func (c *Config) PickerModes() (pick, shot []element.Granularity, err error) {
	modes, err := picker.ParseModes(c.Picker.Modes)
	if err != nil {
		return nil, nil, fmt.Errorf("picker.modes: %w", err)
	}
	for _, g := range modes {
		if g != element.GranularityFree {
			pick = append(pick, g)
		}
	}
	if len(pick) == 0 {
		return nil, nil, fmt.Errorf("picker.modes: no mode besides free")
	}
	return pick, modes, nil
}

// Get returns a copy of the current configuration
func (m *Manager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()

	cfg := *m.config
	cfg.Picker.Modes = append([]string(nil), m.config.Picker.Modes...)
	return &cfg
}

// Save writes the configuration to disk
func (m *Manager) Save() error {
	m.mu.RLock()
	cfg := m.config
	m.mu.RUnlock()

	if cfg == nil {
		cfg = Defaults()
	}

	logger.WithComponent("config").Debug().
		Str("path", m.configPath).
		Msg("Saving config")

	configDir := filepath.Dir(m.configPath)
	if err := os.MkdirAll(configDir, 0755); err != nil {
		logger.WithComponent("config").Error().
			Err(err).
			Str("config_dir", configDir).
			Msg("Failed to create config directory")
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		logger.WithComponent("config").Error().
			Err(err).
			Msg("Failed to marshal config")
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(m.configPath, data, 0644); err != nil {
		logger.WithComponent("config").Error().
			Err(err).
			Str("path", m.configPath).
			Msg("Failed to write config")
		return err
	}

	logger.WithComponent("config").Info().
		Str("path", m.configPath).
		Msg("Config saved successfully")
	return nil
}

// Update validates and replaces the configuration, then saves it
func (m *Manager) Update(cfg *Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	m.config = cfg
	m.mu.Unlock()
	return m.Save()
}

// SetPort sets the server port
func (m *Manager) SetPort(port int) error {
	return m.Set("server_port", fmt.Sprint(port))
}

// GetPort gets the server port
func (m *Manager) GetPort() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.config.ServerPort
}

// SetLogLevel sets the log level
func (m *Manager) SetLogLevel(level string) error {
	return m.Set("log_level", level)
}

// GetLogLevel gets the log level
func (m *Manager) GetLogLevel() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.config.LogLevel
}

// GetConfigPath returns the path to the config file
func (m *Manager) GetConfigPath() string {
	return m.configPath
}

// GetConfigDir returns the config directory path
func (m *Manager) GetConfigDir() string {
	return filepath.Dir(m.configPath)
}

// Lookup returns the value of a dotted key such as "picker.modes".
func (m *Manager) Lookup(key string) (string, error) {
	f, ok := fields[strings.ToLower(key)]
	if !ok {
		return "", fmt.Errorf("unknown config key: %s", key)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return f.get(m.config), nil
}

// Set parses value into the dotted key, validates the result and saves.
func (m *Manager) Set(key, value string) error {
	f, ok := fields[strings.ToLower(key)]
	if !ok {
		return fmt.Errorf("unknown config key: %s", key)
	}
	cfg := m.Get()
	if err := f.set(cfg, value); err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	if err := m.Update(cfg); err != nil {
		return err
	}
	logger.WithComponent("config").Info().
		Str("key", key).
		Str("value", value).
		Msg("Config value updated")
	return nil
}
