// Package packager lays out planned content as installable delivery units.
//
// Given the packaging manifest and the physical build output, Package
// writes one directory per delivery unit under <out>/units, the content
// that stays in the application under <out>/base, per-unit declarations
// for the host build system and, optionally, one compressed archive per
// downloadable unit under <out>/remote with a checksum index.
package packager

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/roach88/packdelivery/internal/archive"
	"github.com/roach88/packdelivery/internal/delivery"
	"github.com/roach88/packdelivery/internal/manifest"
)

const (
	// UnitsDir holds one directory per delivery unit.
	UnitsDir = "units"
	// BaseDir holds content shipped inside the application.
	BaseDir = "base"
	// RemoteDir holds downloadable unit archives.
	RemoteDir = "remote"

	// DeclarationFileName is the per-unit declaration.
	DeclarationFileName = "unit.yaml"
	// IncludesFileName lists every unit for the host build system.
	IncludesFileName = "units.yaml"
)

// InstallTimeFileMasks match build files that always ship in the
// install-time aggregate, whether or not a group claims them.
var InstallTimeFileMasks = []string{
	"*unitybuiltinshaders*.bundle",
	"*unitybuiltinassets*.bundle",
	"*monoscripts*.bundle",
	"settings.json",
	"catalog.json",
	"catalog.bundle",
	"catalog.bin",
}

// Options configures a packaging run.
type Options struct {
	// ProjectDir is the directory manifest build paths are relative to.
	ProjectDir string

	// OutDir receives the packaged layout.
	OutDir string

	// DeliveryManifestPath is the delivery manifest to ship in base content.
	DeliveryManifestPath string

	// Archives also writes <out>/remote archives and checksums.
	Archives bool

	// Codec compresses the archives. Zero means archive.DefaultCodec.
	Codec archive.Codec

	Logger *slog.Logger
}

// Declaration registers one unit with the host build system.
type Declaration struct {
	Name         string `yaml:"name"`
	DeliveryType string `yaml:"delivery_type"`
	Files        int    `yaml:"files"`
}

// Includes is the list of units the host build system must include.
type Includes struct {
	Units []string `yaml:"units"`
}

// UnitReport summarizes one packaged unit.
type UnitReport struct {
	Name         string                `json:"name"`
	DeliveryType delivery.DeliveryType `json:"delivery_type"`
	Files        int                   `json:"files"`
	Bytes        int64                 `json:"bytes"`
	Archive      string                `json:"archive,omitempty"`
}

// Report summarizes a packaging run.
type Report struct {
	Units            []UnitReport `json:"units"`
	BaseFiles        int          `json:"base_files"`
	InstallTimeFiles int          `json:"install_time_files"`
}

// Unit returns the report for name.
func (r *Report) Unit(name string) (UnitReport, bool) {
	for _, u := range r.Units {
		if u.Name == name {
			return u, true
		}
	}
	return UnitReport{}, false
}

type packer struct {
	pk     *manifest.Packaging
	opts   Options
	logger *slog.Logger
	units  map[string]*UnitReport
}

// Package runs the packaging step.
func Package(ctx context.Context, pk *manifest.Packaging, opts Options) (*Report, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	buildDir := filepath.Join(opts.ProjectDir, filepath.FromSlash(pk.BuildRoot))
	if info, err := os.Stat(buildDir); err != nil || !info.IsDir() {
		return nil, fmt.Errorf("build output %s not found; bundles must be built before packaging", buildDir)
	}

	m, err := manifest.ReadFile(opts.DeliveryManifestPath)
	if err != nil {
		return nil, fmt.Errorf("%w; content must be planned before packaging", err)
	}

	p := &packer{pk: pk, opts: opts, logger: logger, units: make(map[string]*UnitReport)}
	report := &Report{}
	for _, u := range pk.Units {
		p.units[u.Name] = &UnitReport{Name: u.Name, DeliveryType: u.DeliveryType}
	}
	if _, ok := p.units[delivery.InstallTimeAggregate]; !ok {
		p.units[delivery.InstallTimeAggregate] = &UnitReport{Name: delivery.InstallTimeAggregate, DeliveryType: delivery.InstallTime}
	}

	claimed, err := p.placeBundles(ctx)
	if err != nil {
		return nil, err
	}
	if err := p.routeUnclaimed(ctx, buildDir, claimed, report); err != nil {
		return nil, err
	}

	aggregate := p.unitAssetsDir(delivery.InstallTimeAggregate)
	if err := os.MkdirAll(aggregate, 0o755); err != nil {
		return nil, err
	}

	baseManifest := filepath.Join(opts.OutDir, BaseDir, filepath.FromSlash(pk.BaseContentRoot), manifest.DeliveryFileName)
	if err := m.WriteFile(baseManifest); err != nil {
		return nil, fmt.Errorf("write base delivery manifest: %w", err)
	}

	if err := p.declare(); err != nil {
		return nil, err
	}

	if opts.Archives {
		if err := p.writeArchives(ctx); err != nil {
			return nil, err
		}
	}

	names := make([]string, 0, len(p.units))
	for n := range p.units {
		names = append(names, n)
	}
	sort.Strings(names)
	for _, n := range names {
		report.Units = append(report.Units, *p.units[n])
	}

	logger.Info("content packaged",
		"units", len(report.Units),
		"base_files", report.BaseFiles,
		"install_time_files", report.InstallTimeFiles,
		"out", opts.OutDir,
	)
	return report, nil
}

// placeBundles copies every placement into its unit and returns the set of
// build paths it consumed.
func (p *packer) placeBundles(ctx context.Context) (map[string]bool, error) {
	claimed := make(map[string]bool, len(p.pk.Placements))
	for _, pl := range p.pk.Placements {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		u, ok := p.units[pl.Unit]
		if !ok {
			return nil, fmt.Errorf("placement of %s names undeclared unit %q", pl.BuildPath, pl.Unit)
		}

		src := filepath.Join(p.opts.ProjectDir, filepath.FromSlash(pl.BuildPath))
		dst := filepath.Join(p.opts.OutDir, UnitsDir, filepath.FromSlash(pl.UnitPath))
		n, err := copyFile(src, dst)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("bundle %s is in the plan but missing from the build output", pl.BuildPath)
			}
			return nil, fmt.Errorf("copy %s: %w", pl.BuildPath, err)
		}
		u.Files++
		u.Bytes += n
		claimed[filepath.Clean(src)] = true
	}
	return claimed, nil
}

// routeUnclaimed sends install-time files to the aggregate and everything
// else no unit claimed to base content.
func (p *packer) routeUnclaimed(ctx context.Context, buildDir string, claimed map[string]bool, report *Report) error {
	aggregate := p.units[delivery.InstallTimeAggregate]
	baseRoot := filepath.Join(p.opts.OutDir, BaseDir, filepath.FromSlash(p.pk.BaseContentRoot))

	return filepath.WalkDir(buildDir, func(src string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() || claimed[filepath.Clean(src)] {
			return nil
		}

		rel, err := filepath.Rel(buildDir, src)
		if err != nil {
			return err
		}

		if installTimeFile(d.Name()) {
			n, err := copyFile(src, filepath.Join(p.unitAssetsDir(delivery.InstallTimeAggregate), rel))
			if err != nil {
				return err
			}
			aggregate.Files++
			aggregate.Bytes += n
			report.InstallTimeFiles++
			return nil
		}

		if _, err := copyFile(src, filepath.Join(baseRoot, rel)); err != nil {
			return err
		}
		report.BaseFiles++
		return nil
	})
}

func (p *packer) declare() error {
	inc := Includes{}
	for name, u := range p.units {
		inc.Units = append(inc.Units, name)
		decl := Declaration{Name: name, DeliveryType: declarationType(u.DeliveryType), Files: u.Files}
		if err := writeYAML(filepath.Join(p.opts.OutDir, UnitsDir, name, DeclarationFileName), decl); err != nil {
			return fmt.Errorf("declare unit %s: %w", name, err)
		}
	}
	sort.Strings(inc.Units)
	return writeYAML(filepath.Join(p.opts.OutDir, IncludesFileName), inc)
}

// writeArchives publishes every downloadable unit. The install-time
// aggregate and unpacked units ship with the application and get none.
func (p *packer) writeArchives(ctx context.Context) error {
	remote := filepath.Join(p.opts.OutDir, RemoteDir)
	sums := &archive.Checksums{Units: map[string]archive.Entry{}}
	codec := p.opts.Codec
	if codec == "" {
		codec = archive.DefaultCodec
	}

	for name, u := range p.units {
		if err := ctx.Err(); err != nil {
			return err
		}
		if u.DeliveryType == delivery.InstallTime || !u.DeliveryType.Packed() {
			continue
		}

		file := codec.FileName(name)
		dst := filepath.Join(remote, file)
		if _, err := archive.WriteFile(dst, filepath.Join(p.opts.OutDir, UnitsDir, name), codec); err != nil {
			return fmt.Errorf("archive unit %s: %w", name, err)
		}
		digest, size, err := archive.DigestFile(dst)
		if err != nil {
			return err
		}
		sums.Units[name] = archive.Entry{
			Archive:      file,
			Codec:        codec,
			DeliveryType: u.DeliveryType.String(),
			Size:         size,
			BLAKE3:       digest,
		}
		u.Archive = path.Join(RemoteDir, file)
		p.logger.Debug("unit archived", "unit", name, "archive", dst, "bytes", size)
	}
	return sums.Save(remote)
}

func (p *packer) unitAssetsDir(unit string) string {
	return filepath.Join(p.opts.OutDir, UnitsDir, unit, filepath.FromSlash(p.pk.UnitAssetsRoot))
}

func installTimeFile(name string) bool {
	name = strings.ToLower(name)
	for _, mask := range InstallTimeFileMasks {
		if ok, _ := filepath.Match(mask, name); ok {
			return true
		}
	}
	return false
}

// declarationType is the host build system's spelling of a delivery type.
func declarationType(dt delivery.DeliveryType) string {
	switch dt {
	case delivery.InstallTime:
		return "install-time"
	case delivery.FastFollow:
		return "fast-follow"
	case delivery.OnDemand:
		return "on-demand"
	default:
		return "none"
	}
}

func copyFile(src, dst string) (int64, error) {
	in, err := os.Open(src)
	if err != nil {
		return 0, err
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return 0, err
	}
	out, err := os.Create(dst)
	if err != nil {
		return 0, err
	}
	n, err := io.Copy(out, in)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	return n, err
}

func writeYAML(p string, v any) error {
	data, err := yaml.Marshal(v)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return err
	}
	return os.WriteFile(p, data, 0o644)
}
