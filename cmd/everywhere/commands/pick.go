package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/jimfengnpu/everywhere/internal/api"
	"github.com/jimfengnpu/everywhere/internal/element"
	"github.com/jimfengnpu/everywhere/internal/picker"
	"github.com/spf13/cobra"
)

var pickCmd = &cobra.Command{
	Use:   "pick",
	Short: "Pick an element interactively",
	Long: `Dim the screens and highlight the element under the pointer until it is
clicked. The selection is printed as JSON.

While picking:
  • Left click or Enter confirms
  • Right click or Escape cancels
  • Mouse wheel, Tab/Shift+Tab or the number keys switch mode`,
	Example: `  # Pick a window
  everywhere pick

  # Pick an accessible control
  everywhere pick --mode element`,
	RunE: runPick,
}

var pickMode string

func init() {
	rootCmd.AddCommand(pickCmd)

	pickCmd.Flags().StringVarP(&pickMode, "mode", "m", "", "initial mode (default is picker.default_mode)")
}

// interruptContext is canceled on SIGINT or SIGTERM.
func interruptContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

func runPick(cmd *cobra.Command, args []string) error {
	b, cfg, err := openBackend()
	if err != nil {
		return err
	}
	defer b.Close()

	mode := cfg.Picker.DefaultMode
	if pickMode != "" {
		mode = pickMode
	}
	g, err := element.ParseGranularity(mode)
	if err != nil {
		return err
	}

	ctx, stop := interruptContext(cmd.Context())
	defer stop()

	fut, err := b.StartPick(ctx, g)
	if err != nil {
		return err
	}
	sel, err := fut.Result()
	if errors.Is(err, picker.ErrCanceled) {
		fmt.Fprintln(os.Stderr, "Selection canceled")
		return nil
	}
	if err != nil {
		return err
	}
	return writeJSON(os.Stdout, api.NewSelectionResponse(sel))
}
