package manifest

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"

	"github.com/roach88/packdelivery/internal/delivery"
	"github.com/roach88/packdelivery/internal/planner"
	"github.com/roach88/packdelivery/internal/settings"
)

// UnitDecl declares one unit for the host build system.
type UnitDecl struct {
	Name         string                `json:"name"`
	DeliveryType delivery.DeliveryType `json:"delivery_type"`
}

// Placement maps one bundle build path to its destination inside a unit.
type Placement struct {
	BundleID  string `json:"bundle_id"`
	Unit      string `json:"unit"`
	BuildPath string `json:"build_path"`
	UnitPath  string `json:"unit_path"`
}

// Packaging is the manifest consumed by the packaging step.
type Packaging struct {
	Version         int         `json:"version"`
	BuildRoot       string      `json:"build_root"`
	BaseContentRoot string      `json:"base_content_root"`
	UnitAssetsRoot  string      `json:"unit_assets_root"`
	Units           []UnitDecl  `json:"units"`
	Placements      []Placement `json:"placements"`
}

// PackagingFromPlan builds the packaging manifest for a plan.
func PackagingFromPlan(p *planner.Plan, s *settings.Settings) *Packaging {
	pk := &Packaging{
		Version:         FormatVersion,
		BuildRoot:       s.BuildRoot,
		BaseContentRoot: s.BaseContentRoot,
		UnitAssetsRoot:  s.UnitAssetsRoot,
		Units:           []UnitDecl{},
		Placements:      []Placement{},
	}
	for _, u := range p.Units() {
		pk.Units = append(pk.Units, UnitDecl{Name: u.Name, DeliveryType: u.DeliveryType})
	}
	for _, pl := range p.Placements() {
		pk.Placements = append(pk.Placements, Placement{
			BundleID:  pl.BundleID,
			Unit:      pl.Unit,
			BuildPath: pl.BuildPath,
			UnitPath:  pl.UnitPath,
		})
	}
	return pk
}

// PlacementFor returns the placement of a build path.
func (p *Packaging) PlacementFor(buildPath string) (Placement, bool) {
	for _, pl := range p.Placements {
		if pl.BuildPath == buildPath {
			return pl, true
		}
	}
	return Placement{}, false
}

// Encode writes p as indented JSON.
func (p *Packaging) Encode(w io.Writer) error {
	return encode(w, p)
}

// WriteFile writes p to path.
func (p *Packaging) WriteFile(path string) error {
	return writeFile(path, p)
}

// ReadPackagingFile loads a packaging manifest.
func ReadPackagingFile(path string) (*Packaging, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, delivery.NewManifestError(delivery.ErrCodeManifestMissing,
				fmt.Sprintf("packaging manifest %s not found; content must be planned before packaging", path), err)
		}
		return nil, fmt.Errorf("read packaging manifest: %w", err)
	}
	var p Packaging
	if err := unmarshalStrict(data, &p); err != nil {
		return nil, malformed(fmt.Sprintf("decode packaging manifest %s", path), err)
	}
	if p.Version != FormatVersion {
		return nil, malformed(fmt.Sprintf("unsupported packaging manifest version %d", p.Version), nil)
	}
	return &p, nil
}
