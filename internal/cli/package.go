package cli

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/roach88/packdelivery/internal/archive"
	"github.com/roach88/packdelivery/internal/manifest"
	"github.com/roach88/packdelivery/internal/packager"
)

// PackageOptions holds flags for the package command.
type PackageOptions struct {
	*RootOptions
	Plan     string
	Project  string
	Out      string
	Archives bool
	Codec    string
}

// NewPackageCommand creates the package command.
func NewPackageCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &PackageOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "package",
		Short: "Lay out planned content as delivery units",
		Long: `Copy built bundles into one directory per delivery unit, route
install-time files into the install-time unit and everything else into
base content, and write the unit declarations for the host build system.

With --archives, every downloadable unit is also published as a
compressed archive under <out>/remote with a checksum index. --codec
picks zstd (the default) or lz4.

Example:
  packdelivery package --plan build/plan --project . --out build/packs --archives --codec lz4`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPackage(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Plan, "plan", ".", "directory holding the manifests written by plan")
	cmd.Flags().StringVar(&opts.Project, "project", ".", "directory build paths are relative to")
	cmd.Flags().StringVarP(&opts.Out, "out", "o", "", "output directory (required)")
	cmd.Flags().BoolVar(&opts.Archives, "archives", false, "publish downloadable units as archives")
	cmd.Flags().StringVar(&opts.Codec, "codec", string(archive.DefaultCodec), "archive compression: zstd or lz4")
	_ = cmd.MarkFlagRequired("out")

	return cmd
}

func runPackage(opts *PackageOptions, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)

	codec, err := archive.ParseCodec(opts.Codec)
	if err != nil {
		return formatter.Fail("invalid --codec", err)
	}

	pk, err := manifest.ReadPackagingFile(filepath.Join(opts.Plan, manifest.PackagingFileName))
	if err != nil {
		return formatter.Fail("failed to load packaging manifest", err)
	}
	formatter.VerboseLog("Packaging %d unit(s), %d placement(s)", len(pk.Units), len(pk.Placements))

	report, err := packager.Package(cmd.Context(), pk, packager.Options{
		ProjectDir:           opts.Project,
		OutDir:               opts.Out,
		DeliveryManifestPath: filepath.Join(opts.Plan, manifest.DeliveryFileName),
		Archives:             opts.Archives,
		Codec:                codec,
	})
	if err != nil {
		return formatter.Fail("packaging failed", err)
	}

	if formatter.Format == "json" {
		return formatter.Success(report)
	}

	w := formatter.Writer
	fmt.Fprintf(w, "✓ Packaged %d delivery unit(s) into %s\n", len(report.Units), opts.Out)
	for _, u := range report.Units {
		line := fmt.Sprintf("  %-24s %-12s %d file(s), %d byte(s)", u.Name, u.DeliveryType, u.Files, u.Bytes)
		if u.Archive != "" {
			line += "  " + u.Archive
		}
		fmt.Fprintln(w, line)
	}
	fmt.Fprintf(w, "  base content: %d file(s)\n", report.BaseFiles)
	return nil
}
