package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var hotkeyCmd = &cobra.Command{
	Use:   "hotkey",
	Short: "Work with global shortcuts",
}

var hotkeyCaptureCmd = &cobra.Command{
	Use:   "capture",
	Short: "Record the next shortcut pressed",
	Long: `Grab the keyboard and record the next key combination. The combination
is shown as it is typed and printed once every key is released. Press
Ctrl+C to abort.`,
	Example: `  # Record a shortcut and store it as the pick hotkey
  everywhere config set hotkeys.pick "$(everywhere hotkey capture)"`,
	RunE: runHotkeyCapture,
}

func init() {
	rootCmd.AddCommand(hotkeyCmd)
	hotkeyCmd.AddCommand(hotkeyCaptureCmd)
}

func runHotkeyCapture(cmd *cobra.Command, args []string) error {
	b, _, err := openBackend()
	if err != nil {
		return err
	}
	defer b.Close()

	cs, err := b.StartHotkeyCapture()
	if err != nil {
		return err
	}
	defer cs.Close()

	ctx, stop := interruptContext(cmd.Context())
	defer stop()

	fmt.Fprintln(os.Stderr, "Press a key combination...")
	go func() {
		for sc := range cs.Updates() {
			fmt.Fprintf(os.Stderr, "\r\033[K%s", sc)
		}
	}()

	sc, err := cs.Wait(ctx)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return err
	}
	fmt.Println(sc)
	return nil
}
