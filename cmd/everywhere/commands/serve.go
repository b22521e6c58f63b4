package commands

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jimfengnpu/everywhere/internal/api"
	"github.com/jimfengnpu/everywhere/internal/backend"
	"github.com/jimfengnpu/everywhere/internal/config"
	"github.com/jimfengnpu/everywhere/internal/element"
	"github.com/jimfengnpu/everywhere/internal/hotkey"
	"github.com/jimfengnpu/everywhere/internal/logger"
	"github.com/jimfengnpu/everywhere/internal/picker"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the API server and global shortcuts",
	Long: `Connect to the X server, register the configured global shortcuts and
serve the local API until interrupted.

The pick shortcut starts the picker and logs the selection. The screenshot
shortcut starts the picker in screenshot mode and saves the result to
screenshot.dir.`,
	Example: `  # Start on the configured port
  everywhere serve

  # Start on a custom port with debug logging
  everywhere serve --port 9090 --log-level debug`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	log := logger.WithComponent("serve")

	b, cfg, err := openBackend()
	if err != nil {
		return err
	}
	defer b.Close()

	ctx, stop := interruptContext(cmd.Context())
	defer stop()

	disposers, err := registerShortcuts(ctx, b, cfg)
	if err != nil {
		return err
	}
	defer func() {
		for _, d := range disposers {
			d.Dispose()
		}
	}()

	server := api.NewServer(api.FromBackend(b))
	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start(cfg.ServerPort)
	}()

	log.Info().
		Int("port", cfg.ServerPort).
		Str("pick", cfg.Hotkeys.Pick).
		Str("screenshot", cfg.Hotkeys.Screenshot).
		Msg("everywhere is running, press Ctrl+C to stop")

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	log.Info().Msg("Shutting down gracefully...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// registerShortcuts grabs the configured pick and screenshot shortcuts. A
// shortcut that is already taken is logged and skipped.
func registerShortcuts(ctx context.Context, b *backend.Backend, cfg *config.Config) ([]backend.Disposable, error) {
	log := logger.WithComponent("serve")

	mode, err := element.ParseGranularity(cfg.Picker.DefaultMode)
	if err != nil {
		return nil, err
	}
	bindings := []struct {
		name    string
		spec    string
		handler hotkey.Handler
	}{
		{"pick", cfg.Hotkeys.Pick, func() { pickFromShortcut(ctx, b, mode) }},
		{"screenshot", cfg.Hotkeys.Screenshot, func() { screenshotFromShortcut(ctx, b, cfg.Screenshot.Dir) }},
	}

	var out []backend.Disposable
	for _, bind := range bindings {
		if bind.spec == "" {
			continue
		}
		sc, err := hotkey.ParseShortcut(bind.spec)
		if err != nil {
			return out, fmt.Errorf("hotkeys.%s: %w", bind.name, err)
		}
		d, err := b.RegisterHotkey(sc, bind.handler)
		if errors.Is(err, backend.ErrHotkeyInUse) {
			log.Warn().Str("shortcut", sc.String()).Str("action", bind.name).Msg("Shortcut already in use, skipping")
			continue
		}
		if err != nil {
			return out, err
		}
		log.Info().Str("shortcut", sc.String()).Str("action", bind.name).Msg("Shortcut registered")
		out = append(out, d)
	}
	return out, nil
}

func pickFromShortcut(ctx context.Context, b *backend.Backend, mode element.Granularity) {
	log := logger.WithComponent("serve")

	fut, err := b.StartPick(ctx, mode)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to start picker")
		return
	}
	go func() {
		sel, err := fut.Result()
		if err != nil {
			if !errors.Is(err, picker.ErrCanceled) {
				log.Warn().Err(err).Msg("Pick failed")
			}
			return
		}
		resp := api.NewSelectionResponse(sel)
		ev := log.Info().Str("mode", resp.Mode).Stringer("rect", sel.Rect)
		if resp.Element != nil {
			ev = ev.Str("element", resp.Element.ID).Str("name", resp.Element.Name)
		}
		ev.Msg("Element picked")
	}()
}

func screenshotFromShortcut(ctx context.Context, b *backend.Backend, dir string) {
	log := logger.WithComponent("serve")

	fut, err := b.StartScreenshot(ctx, nil)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to start screenshot")
		return
	}
	go func() {
		shot, err := fut.Result()
		if err != nil {
			if !errors.Is(err, picker.ErrCanceled) {
				log.Warn().Err(err).Msg("Screenshot failed")
			}
			return
		}
		if _, err := savePNG(shot.Image, "", dir); err != nil {
			log.Warn().Err(err).Msg("Failed to save screenshot")
		}
	}()
}
