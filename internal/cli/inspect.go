package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/packdelivery/internal/manifest"
)

// NewInspectCommand creates the inspect command.
func NewInspectCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "inspect <delivery-manifest>",
		Short: "Show the units of a delivery manifest",
		Long: `Decode a delivery manifest the way the runtime does and list its units,
delivery types and member bundles. A manifest the runtime would reject
fails with exit code 2.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInspect(rootOpts, args[0], cmd)
		},
	}

	return cmd
}

func runInspect(opts *RootOptions, path string, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd)

	m, err := manifest.ReadFile(path)
	if err != nil {
		return formatter.Fail("failed to decode delivery manifest", err)
	}

	if formatter.Format == "json" {
		return formatter.Success(m)
	}

	w := formatter.Writer
	fmt.Fprintf(w, "%s (version %d)\n", path, m.Version)
	fmt.Fprintf(w, "  base content root: %s\n", m.BaseContentRoot)
	fmt.Fprintf(w, "  unit assets root:  %s\n", m.UnitAssetsRoot)
	for _, u := range m.Units {
		fmt.Fprintf(w, "  %-24s %-12s %d bundle(s)\n", u.Name, u.DeliveryType, len(u.Bundles))
		if formatter.Verbose && len(u.Bundles) > 0 {
			fmt.Fprintf(w, "    %s\n", strings.Join(u.Bundles, ", "))
		}
	}
	return nil
}
