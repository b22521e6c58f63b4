package commands

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/jimfengnpu/everywhere/internal/element"
	"github.com/spf13/cobra"
)

var resolveCmd = &cobra.Command{
	Use:   "resolve [X Y]",
	Short: "Resolve the element at a screen point",
	Long: `Resolve the element at a screen point, or under the pointer when no
point is given.

Granularity selects what is returned: the screen, the top-level window or
the accessible control at the point.`,
	Example: `  # Element under the pointer
  everywhere resolve

  # Top-level window at (640, 400) as JSON
  everywhere resolve 640 400 --granularity window --format json`,
	Args: cobra.MatchAll(cobra.RangeArgs(0, 2), func(cmd *cobra.Command, args []string) error {
		if len(args) == 1 {
			return errors.New("expected both X and Y")
		}
		return nil
	}),
	RunE: runResolve,
}

var (
	resolveGranularity string
	resolveFormat      string
)

func init() {
	rootCmd.AddCommand(resolveCmd)

	resolveCmd.Flags().StringVarP(&resolveGranularity, "granularity", "g", "element", "screen, window or element")
	resolveCmd.Flags().StringVarP(&resolveFormat, "format", "f", "table", "output format (table or json)")
}

func parsePoint(args []string) (element.Point, error) {
	x, err := strconv.Atoi(args[0])
	if err != nil {
		return element.Point{}, fmt.Errorf("invalid X: %s", args[0])
	}
	y, err := strconv.Atoi(args[1])
	if err != nil {
		return element.Point{}, fmt.Errorf("invalid Y: %s", args[1])
	}
	return element.Point{X: x, Y: y}, nil
}

func runResolve(cmd *cobra.Command, args []string) error {
	g, err := element.ParseGranularity(resolveGranularity)
	if err != nil {
		return err
	}

	b, _, err := openBackend()
	if err != nil {
		return err
	}
	defer b.Close()

	var e element.Element
	if len(args) == 2 {
		p, err := parsePoint(args)
		if err != nil {
			return err
		}
		e, err = b.ResolveAt(p, g)
		if err != nil {
			return err
		}
	} else if e, err = b.ResolveAtPointer(g); err != nil {
		return err
	}

	if e == nil {
		return errors.New("no element found")
	}
	return printElements(os.Stdout, resolveFormat, []element.Info{element.Describe(e, false)})
}

func printElements(out io.Writer, format string, infos []element.Info) error {
	switch format {
	case "json":
		if len(infos) == 1 {
			return writeJSON(out, infos[0])
		}
		return writeJSON(out, infos)
	case "table":
		w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		defer w.Flush()

		fmt.Fprintln(w, "ID\tTYPE\tNAME\tPID\tBOUNDS\tSTATES")
		fmt.Fprintln(w, "--\t----\t----\t---\t------\t------")
		for _, info := range infos {
			b := info.Bounds
			fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%dx%d+%d+%d\t%s\n",
				info.ID, info.Type, info.Name, info.PID,
				b.Width, b.Height, b.X, b.Y,
				strings.Join(info.States, ","))
		}
		return nil
	default:
		return fmt.Errorf("unsupported format: %s (use 'table' or 'json')", format)
	}
}
