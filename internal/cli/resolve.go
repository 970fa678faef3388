package cli

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/packdelivery/internal/manifest"
	"github.com/roach88/packdelivery/internal/orchestrator"
	"github.com/roach88/packdelivery/internal/platform/dirplatform"
	"github.com/roach88/packdelivery/internal/resolver"
	"github.com/roach88/packdelivery/internal/session"
	"github.com/roach88/packdelivery/internal/settings"
)

// Network modes for the resolve command.
const (
	NetworkAllow = "allow" // unmetered, no permission step
	NetworkGrant = "grant" // metered, the user allows mobile data
	NetworkDeny  = "deny"  // metered, the user refuses mobile data
)

// ResolveOptions holds flags for the resolve command.
type ResolveOptions struct {
	*RootOptions
	Manifest string
	Remote   string
	Device   string
	Database string
	Network  string
	Timeout  time.Duration

	// IDs overrides request ID generation (for testing).
	IDs orchestrator.IDGenerator
}

// ResolvedLocation is the outcome for one requested location.
type ResolvedLocation struct {
	Location string `json:"location"`
	Unit     string `json:"unit,omitempty"`
	Path     string `json:"path"`
	Error    string `json:"error,omitempty"`
	Code     string `json:"code,omitempty"`
}

// ResolveResult is the resolve command's output.
type ResolveResult struct {
	Redirecting bool               `json:"redirecting"`
	Locations   []ResolvedLocation `json:"locations"`
}

// NewResolveCommand creates the resolve command.
func NewResolveCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ResolveOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "resolve <bundle-location>...",
		Short: "Resolve content locations, downloading units as needed",
		Long: `Open a delivery session over a packaged remote directory, resolve each
bundle location, and print its physical path. Units are downloaded from
--remote into --device the first time one of their bundles is requested.

A location that belongs to no unit resolves to itself. A delivery failure
is reported per location and the command exits 1.

Example:
  packdelivery resolve StreamingAssets/level1.bundle \
    --manifest build/packs/base/StreamingAssets/delivery_manifest.json \
    --remote build/packs/remote --device /tmp/device --db /tmp/delivery.db`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runResolve(opts, args, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Manifest, "manifest", "", "path to the delivery manifest (required)")
	cmd.Flags().StringVar(&opts.Remote, "remote", "", "directory of published unit archives (required)")
	cmd.Flags().StringVar(&opts.Device, "device", "", "directory units are installed into (required)")
	cmd.Flags().StringVar(&opts.Database, "db", "", "path to the delivery journal")
	cmd.Flags().StringVar(&opts.Network, "network", NetworkAllow, "network mode (allow|grant|deny)")
	cmd.Flags().DurationVar(&opts.Timeout, "timeout", 30*time.Second, "how long to wait for each location")
	_ = cmd.MarkFlagRequired("manifest")
	_ = cmd.MarkFlagRequired("remote")
	_ = cmd.MarkFlagRequired("device")

	return cmd
}

func runResolve(opts *ResolveOptions, locations []string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)

	if opts.Network != NetworkAllow && opts.Network != NetworkGrant && opts.Network != NetworkDeny {
		_ = formatter.Error(ErrCodeGeneric, fmt.Sprintf("invalid network mode %q", opts.Network), nil)
		return NewExitError(ExitCommandError, fmt.Sprintf("invalid network mode %q: must be allow, grant or deny", opts.Network))
	}

	// The platform needs the unit layout before the session decodes the
	// manifest; a manifest that fails here disables the session anyway.
	assetsRoot := settings.Default().UnitAssetsRoot
	if m, err := manifest.ReadFile(opts.Manifest); err == nil {
		assetsRoot = m.UnitAssetsRoot
	}

	grant := opts.Network == NetworkGrant
	dp, err := dirplatform.New(dirplatform.Config{
		Remote:            opts.Remote,
		Device:            opts.Device,
		AssetsRoot:        assetsRoot,
		RequirePermission: opts.Network != NetworkAllow,
		Permit: func(context.Context) (bool, error) {
			slog.Info("mobile data permission requested", "granted", grant)
			return grant, nil
		},
	})
	if err != nil {
		return formatter.Fail("failed to open remote", err)
	}

	ctx := cmd.Context()
	s, err := session.Open(ctx, session.Config{
		ManifestPath: opts.Manifest,
		JournalPath:  opts.Database,
		Platform:     dp,
		LogWarnings:  true,
		IDs:          opts.IDs,
	})
	if err != nil {
		return formatter.Fail("failed to open delivery session", err)
	}
	s.Start(ctx, orchestrator.DefaultPollInterval)

	result := ResolveResult{Redirecting: s.Redirecting()}
	failed := 0
	for _, raw := range locations {
		loc := resolver.Bundle(raw)
		out := ResolvedLocation{Location: raw}
		if idx := s.Index(); idx != nil {
			out.Unit, _ = idx.UnitFor(loc.BundleID())
		}

		wctx, cancel := context.WithTimeout(ctx, opts.Timeout)
		out.Path, err = s.Provider().Locate(wctx, loc)
		cancel()
		if err != nil {
			failed++
			out.Error = err.Error()
			out.Code = errorCode(err)
			formatter.VerboseLog("%s: %v", raw, err)
		}
		result.Locations = append(result.Locations, out)
	}

	if err := s.Close(); err != nil {
		slog.Error("error closing delivery session", "error", err)
	}
	dp.Wait()

	if formatter.Format == "json" {
		if err := formatter.Success(result); err != nil {
			return err
		}
	} else {
		outputResolveText(formatter, result)
	}

	if failed > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d of %d location(s) failed to resolve", failed, len(locations)))
	}
	return nil
}

func outputResolveText(formatter *OutputFormatter, result ResolveResult) {
	w := formatter.Writer
	if !result.Redirecting {
		fmt.Fprintln(w, "delivery redirection disabled; locations resolve to base content")
	}
	for _, l := range result.Locations {
		if l.Error != "" {
			fmt.Fprintf(w, "✗ %s: [%s] %s\n", l.Location, l.Code, l.Error)
			continue
		}
		fmt.Fprintf(w, "%s -> %s\n", l.Location, l.Path)
	}
}
