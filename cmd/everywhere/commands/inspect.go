package commands

import (
	"errors"
	"fmt"
	"os"

	"github.com/jimfengnpu/everywhere/internal/element"
	"github.com/spf13/cobra"
)

var inspectCmd = &cobra.Command{
	Use:   "inspect [X Y]",
	Short: "Show an element with its ancestors and children",
	Long: `Show the element at a point, under the pointer or with keyboard focus,
followed by its ancestor chain up to the root and its direct children.`,
	Example: `  # Inspect the control under the pointer
  everywhere inspect

  # Inspect whatever has keyboard focus
  everywhere inspect --focused`,
	Args: resolveCmd.Args,
	RunE: runInspect,
}

var (
	inspectFocused     bool
	inspectGranularity string
	inspectFormat      string
)

func init() {
	rootCmd.AddCommand(inspectCmd)

	inspectCmd.Flags().BoolVar(&inspectFocused, "focused", false, "inspect the focused element")
	inspectCmd.Flags().StringVarP(&inspectGranularity, "granularity", "g", "element", "screen, window or element")
	inspectCmd.Flags().StringVarP(&inspectFormat, "format", "f", "table", "output format (table or json)")
}

// Inspection is the output of `inspect`.
type Inspection struct {
	Element   element.Info   `json:"element"`
	Ancestors []element.Info `json:"ancestors"`
	Children  []element.Info `json:"children"`
}

func inspect(e element.Element) Inspection {
	out := Inspection{Element: element.Describe(e, false)}
	for a := range element.Ancestors(e) {
		out.Ancestors = append(out.Ancestors, element.Describe(a, false))
	}
	for _, c := range element.ChildList(e) {
		out.Children = append(out.Children, element.Describe(c, false))
	}
	return out
}

func runInspect(cmd *cobra.Command, args []string) error {
	g, err := element.ParseGranularity(inspectGranularity)
	if err != nil {
		return err
	}

	b, _, err := openBackend()
	if err != nil {
		return err
	}
	defer b.Close()

	var e element.Element
	switch {
	case inspectFocused:
		e = b.CurrentlyFocused()
	case len(args) == 2:
		p, err := parsePoint(args)
		if err != nil {
			return err
		}
		if e, err = b.ResolveAt(p, g); err != nil {
			return err
		}
	default:
		if e, err = b.ResolveAtPointer(g); err != nil {
			return err
		}
	}
	if e == nil {
		return errors.New("no element found")
	}

	result := inspect(e)
	if inspectFormat == "json" {
		return writeJSON(os.Stdout, result)
	}

	fmt.Println("Element:")
	if err := printElements(os.Stdout, inspectFormat, []element.Info{result.Element}); err != nil {
		return err
	}
	if len(result.Ancestors) > 0 {
		fmt.Println("\nAncestors:")
		printElements(os.Stdout, inspectFormat, result.Ancestors)
	}
	if len(result.Children) > 0 {
		fmt.Println("\nChildren:")
		printElements(os.Stdout, inspectFormat, result.Children)
	}
	return nil
}
