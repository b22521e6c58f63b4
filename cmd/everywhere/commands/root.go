package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/jimfengnpu/everywhere/internal/backend"
	"github.com/jimfengnpu/everywhere/internal/config"
	"github.com/jimfengnpu/everywhere/internal/element"
	"github.com/jimfengnpu/everywhere/internal/logger"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile string
	rootCmd = &cobra.Command{
		Use:   "everywhere",
		Short: "everywhere - inspect and capture X11 desktop elements",
		Long: `everywhere resolves screen points to screens, windows and accessible
controls, runs an interactive picker over them and captures their pixels.

Features:
  • Hit testing at screen, window and control granularity
  • Interactive picker with translucent overlays and mode cycling
  • Window and region screenshots, including obscured windows
  • Global shortcut registration and capture
  • Local REST and WebSocket API
  • Persistent YAML configuration`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initLogging()
		},
	}
)

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.config/everywhere/config.yaml)")
	rootCmd.PersistentFlags().Int("port", 0, "API server port (default is 8765)")
	rootCmd.PersistentFlags().String("log-level", "", "log level (trace, debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-pretty", true, "human readable log output")
	rootCmd.PersistentFlags().String("display", "", "X display to connect to (default is $DISPLAY)")
	rootCmd.PersistentFlags().Bool("no-accessibility", false, "resolve windows only, without the accessibility bus")

	// Bind flags to viper
	viper.BindPFlag("server_port", rootCmd.PersistentFlags().Lookup("port"))
	viper.BindPFlag("log_level", rootCmd.PersistentFlags().Lookup("log-level"))
	viper.BindPFlag("log_pretty", rootCmd.PersistentFlags().Lookup("log-pretty"))
	viper.BindPFlag("display", rootCmd.PersistentFlags().Lookup("display"))
	viper.BindPFlag("no_accessibility", rootCmd.PersistentFlags().Lookup("no-accessibility"))

	viper.SetEnvPrefix("everywhere")
	viper.AutomaticEnv()
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// GetConfigFile returns the config file path
func GetConfigFile() string {
	return cfgFile
}

// loadConfig reads the config file and applies flag overrides in memory.
func loadConfig() (*config.Manager, *config.Config, error) {
	configMgr, err := config.NewManager(GetConfigFile())
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	cfg := configMgr.Get()
	applyOverrides(cfg, viper.GetViper())
	return configMgr, cfg, nil
}

func applyOverrides(cfg *config.Config, v *viper.Viper) {
	if port := v.GetInt("server_port"); port > 0 {
		cfg.ServerPort = port
	}
	if level := v.GetString("log_level"); level != "" {
		cfg.LogLevel = level
	}
	if v.IsSet("log_pretty") {
		cfg.LogPretty = v.GetBool("log_pretty")
	}
	if v.GetBool("no_accessibility") {
		cfg.Accessibility.Enabled = false
	}
}

func initLogging() error {
	_, cfg, err := loadConfig()
	if err != nil {
		// Still honor the flags so the failure is logged at the right level.
		logger.Init(viper.GetString("log_level"), viper.GetBool("log_pretty"))
		return err
	}
	logger.Init(cfg.LogLevel, cfg.LogPretty)
	return nil
}

// backendConfig converts the file settings into backend settings.
func backendConfig(cfg *config.Config) (backend.X11Config, error) {
	style, err := cfg.Style()
	if err != nil {
		return backend.X11Config{}, err
	}
	pick, shot, err := cfg.PickerModes()
	if err != nil {
		return backend.X11Config{}, err
	}
	pickMode, err := element.ParseGranularity(cfg.Picker.DefaultMode)
	if err != nil {
		return backend.X11Config{}, err
	}
	shotMode, err := element.ParseGranularity(cfg.Picker.ScreenshotMode)
	if err != nil {
		return backend.X11Config{}, err
	}

	opts := backend.DefaultOptions()
	opts.PickModes = pick
	opts.ScreenshotModes = shot
	opts.PickMode = pickMode
	opts.ScreenshotMode = shotMode

	return backend.X11Config{
		Display:            viper.GetString("display"),
		Workers:            cfg.Workers.Size,
		QueueSize:          cfg.Workers.Queue,
		Accessibility:      cfg.Accessibility.Enabled,
		AccessibilityCalls: time.Duration(cfg.Accessibility.CallTimeoutMS) * time.Millisecond,
		Style:              style,
		Options:            opts,
	}, nil
}

// openBackend loads the config and connects to the X server.
func openBackend() (*backend.Backend, *config.Config, error) {
	_, cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	bcfg, err := backendConfig(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid config: %w", err)
	}
	b, err := backend.NewX11(bcfg)
	if err != nil {
		return nil, nil, err
	}
	return b, cfg, nil
}

func writeJSON(w io.Writer, v any) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}
