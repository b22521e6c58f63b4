package commands

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jimfengnpu/everywhere/internal/capture"
	"github.com/jimfengnpu/everywhere/internal/element"
	"github.com/jimfengnpu/everywhere/internal/logger"
	"github.com/jimfengnpu/everywhere/internal/picker"
	"github.com/spf13/cobra"
)

var screenshotCmd = &cobra.Command{
	Use:   "screenshot",
	Short: "Pick a region or element and save it as PNG",
	Long: `Start the picker in screenshot mode and save the confirmed selection as a
PNG file. In free mode, drag to select a region.`,
	Example: `  # Drag a region, saved to screenshot.dir
  everywhere screenshot

  # Pick a window and save it to a given file
  everywhere screenshot --mode window -o window.png`,
	RunE: runScreenshot,
}

var (
	screenshotMode   string
	screenshotOutput string
)

func init() {
	rootCmd.AddCommand(screenshotCmd)

	screenshotCmd.Flags().StringVarP(&screenshotMode, "mode", "m", "", "initial mode (default is picker.screenshot_mode)")
	screenshotCmd.Flags().StringVarP(&screenshotOutput, "output", "o", "", "output file (default is a timestamped file in screenshot.dir)")
}

func runScreenshot(cmd *cobra.Command, args []string) error {
	b, cfg, err := openBackend()
	if err != nil {
		return err
	}
	defer b.Close()

	var mode *element.Granularity
	if screenshotMode != "" {
		g, err := element.ParseGranularity(screenshotMode)
		if err != nil {
			return err
		}
		mode = &g
	}

	ctx, stop := interruptContext(cmd.Context())
	defer stop()

	fut, err := b.StartScreenshot(ctx, mode)
	if err != nil {
		return err
	}
	shot, err := fut.Result()
	if errors.Is(err, picker.ErrCanceled) {
		fmt.Fprintln(os.Stderr, "Screenshot canceled")
		return nil
	}
	if err != nil {
		return err
	}

	path, err := savePNG(shot.Image, screenshotOutput, cfg.Screenshot.Dir)
	if err != nil {
		return err
	}
	fmt.Println(path)
	return nil
}

// screenshotName returns a timestamped file name in dir.
func screenshotName(dir string, now time.Time) string {
	return filepath.Join(dir, "everywhere-"+now.Format("20060102-150405.000")+".png")
}

// savePNG writes buf to path, or to a timestamped file in dir when path is
// empty, and returns the path written.
func savePNG(buf *capture.PixelBuffer, path, dir string) (string, error) {
	if path == "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return "", fmt.Errorf("failed to create screenshot directory: %w", err)
		}
		path = screenshotName(dir, time.Now())
	}

	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("failed to create %s: %w", path, err)
	}
	if err := buf.EncodePNG(f); err != nil {
		f.Close()
		return "", err
	}
	if err := f.Close(); err != nil {
		return "", err
	}

	logger.WithComponent("capture").Info().
		Str("path", path).
		Int("width", buf.Width).
		Int("height", buf.Height).
		Msg("Screenshot saved")
	return path, nil
}
