package cli

import (
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/roach88/packdelivery/internal/catalog"
	"github.com/roach88/packdelivery/internal/delivery"
	"github.com/roach88/packdelivery/internal/manifest"
	"github.com/roach88/packdelivery/internal/planner"
	"github.com/roach88/packdelivery/internal/settings"
)

// PlanOptions holds flags for the plan command.
type PlanOptions struct {
	*RootOptions
	Settings string
	Catalog  string
	Out      string
}

// PlanUnit summarizes one planned unit.
type PlanUnit struct {
	Name         string                `json:"name"`
	DeliveryType delivery.DeliveryType `json:"delivery_type"`
	Bundles      int                   `json:"bundles"`
}

// PlanResult is the plan command's output.
type PlanResult struct {
	Units             []PlanUnit           `json:"units"`
	Diagnostics       []planner.Diagnostic `json:"diagnostics,omitempty"`
	OverLimit         bool                 `json:"over_limit"`
	DeliveryManifest  string               `json:"delivery_manifest"`
	PackagingManifest string               `json:"packaging_manifest"`
}

// NewPlanCommand creates the plan command.
func NewPlanCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &PlanOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Assign content bundles to delivery units",
		Long: `Assign every packable content group in the catalog to a delivery unit
and write the delivery manifest and the packaging manifest.

Configuration errors (invalid unit names, exhausted names) stop planning
with exit code 2. Exceeding the platform unit limit is reported but the
manifests are still written.

Example:
  packdelivery plan --settings packs.cue --catalog catalog.yaml --out build/plan`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPlan(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Settings, "settings", "", "path to CUE pack settings (defaults apply when omitted)")
	cmd.Flags().StringVar(&opts.Catalog, "catalog", "", "path to the content catalog (required)")
	cmd.Flags().StringVarP(&opts.Out, "out", "o", ".", "directory for the manifests")
	_ = cmd.MarkFlagRequired("catalog")

	return cmd
}

func runPlan(opts *PlanOptions, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)

	s := settings.Default()
	if opts.Settings != "" {
		loaded, err := settings.Load(opts.Settings)
		if err != nil {
			return formatter.Fail("failed to load settings", err)
		}
		s = loaded
	}
	formatter.VerboseLog("Build root %s, base content root %s, %d custom unit(s)", s.BuildRoot, s.BaseContentRoot, len(s.CustomUnits))

	c, err := catalog.Load(opts.Catalog)
	if err != nil {
		return formatter.Fail("failed to load catalog", err)
	}
	formatter.VerboseLog("Loaded %d group(s) from %s", len(c.Groups), opts.Catalog)

	p, err := planner.NewFromSettings(s)
	if err != nil {
		return formatter.Fail("invalid custom units", err)
	}

	res, err := p.Plan(c)
	if err != nil {
		return formatter.Fail("planning failed", err)
	}

	result := PlanResult{
		Diagnostics:       res.Diagnostics,
		OverLimit:         res.OverLimit,
		DeliveryManifest:  filepath.Join(opts.Out, manifest.DeliveryFileName),
		PackagingManifest: filepath.Join(opts.Out, manifest.PackagingFileName),
	}
	for _, u := range res.Plan.Units() {
		result.Units = append(result.Units, PlanUnit{Name: u.Name, DeliveryType: u.DeliveryType, Bundles: len(u.Bundles)})
	}

	if err := manifest.FromPlan(res.Plan, s).WriteFile(result.DeliveryManifest); err != nil {
		_ = formatter.Error(ErrCodeWriteFailed, err.Error(), nil)
		return WrapExitError(ExitCommandError, "failed to write delivery manifest", err)
	}
	if err := manifest.PackagingFromPlan(res.Plan, s).WriteFile(result.PackagingManifest); err != nil {
		_ = formatter.Error(ErrCodeWriteFailed, err.Error(), nil)
		return WrapExitError(ExitCommandError, "failed to write packaging manifest", err)
	}

	slog.Info("plan written",
		"units", len(result.Units),
		"warnings", len(res.Warnings()),
		"out", opts.Out,
	)

	if formatter.Format == "json" {
		return formatter.Success(result)
	}
	return outputPlanText(formatter, result)
}

func outputPlanText(formatter *OutputFormatter, result PlanResult) error {
	w := formatter.Writer
	for _, d := range result.Diagnostics {
		if d.Severity == planner.SeverityInfo && !formatter.Verbose {
			continue
		}
		if d.Group != "" {
			fmt.Fprintf(w, "%s [%s] %s: %s\n", d.Severity, d.Code, d.Group, d.Message)
		} else {
			fmt.Fprintf(w, "%s [%s] %s\n", d.Severity, d.Code, d.Message)
		}
	}

	fmt.Fprintf(w, "✓ Planned %d delivery unit(s)\n", len(result.Units))
	for _, u := range result.Units {
		fmt.Fprintf(w, "  %-24s %-12s %d bundle(s)\n", u.Name, u.DeliveryType, u.Bundles)
	}
	fmt.Fprintf(w, "  wrote %s\n", result.DeliveryManifest)
	fmt.Fprintf(w, "  wrote %s\n", result.PackagingManifest)
	return nil
}
