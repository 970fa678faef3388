// Package manifest encodes the build-time plan for the two consumers that
// outlive the planner: the delivery manifest read by the runtime once per
// session, and the packaging manifest read by the packaging step.
//
// Both files are JSON. Encoding is deterministic so that re-planning an
// unaltered catalog produces byte-identical manifests.
package manifest

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/roach88/packdelivery/internal/delivery"
	"github.com/roach88/packdelivery/internal/planner"
	"github.com/roach88/packdelivery/internal/settings"
)

// File names inside a plan output directory.
const (
	DeliveryFileName  = "delivery_manifest.json"
	PackagingFileName = "packaging_manifest.json"
)

// FormatVersion is written into every manifest.
const FormatVersion = 1

// Unit is one delivery unit as recorded in the delivery manifest.
type Unit struct {
	Name         string                `json:"name"`
	DeliveryType delivery.DeliveryType `json:"delivery_type"`
	Bundles      []string              `json:"bundles"`
}

// Delivery is the runtime manifest: every delivery unit with its delivery
// type and ordered member bundle identifiers.
type Delivery struct {
	Version int `json:"version"`

	// BaseContentRoot is the default location prefix of bundles in the
	// installed application. Runtime lookups are relative to it.
	BaseContentRoot string `json:"base_content_root"`

	// UnitAssetsRoot is the directory inside each unit that holds bundles.
	UnitAssetsRoot string `json:"unit_assets_root"`

	Units []Unit `json:"units"`
}

// FromPlan builds the delivery manifest for a plan.
func FromPlan(p *planner.Plan, s *settings.Settings) *Delivery {
	d := &Delivery{
		Version:         FormatVersion,
		BaseContentRoot: s.BaseContentRoot,
		UnitAssetsRoot:  s.UnitAssetsRoot,
	}
	for _, u := range p.Units() {
		d.Units = append(d.Units, Unit{Name: u.Name, DeliveryType: u.DeliveryType, Bundles: u.Bundles})
	}
	return d
}

// Unit returns the named unit.
func (d *Delivery) Unit(name string) (Unit, bool) {
	for _, u := range d.Units {
		if u.Name == name {
			return u, true
		}
	}
	return Unit{}, false
}

// BundleUnits returns the bundle identifier to unit name mapping.
func (d *Delivery) BundleUnits() map[string]string {
	out := make(map[string]string)
	for _, u := range d.Units {
		for _, b := range u.Bundles {
			out[b] = u.Name
		}
	}
	return out
}

// Members returns each unit's member list keyed by unit name.
func (d *Delivery) Members() map[string][]string {
	out := make(map[string][]string, len(d.Units))
	for _, u := range d.Units {
		out[u.Name] = append([]string{}, u.Bundles...)
	}
	return out
}

// Encode writes d as indented JSON.
func (d *Delivery) Encode(w io.Writer) error {
	return encode(w, d)
}

// WriteFile writes d to path.
func (d *Delivery) WriteFile(path string) error {
	return writeFile(path, d)
}

// ReadFile loads a delivery manifest. A missing file is a ManifestError with
// code MANIFEST_MISSING.
func ReadFile(path string) (*Delivery, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, delivery.NewManifestError(delivery.ErrCodeManifestMissing,
				fmt.Sprintf("delivery manifest %s not found", path), err)
		}
		return nil, delivery.NewManifestError(delivery.ErrCodeManifestMissing,
			fmt.Sprintf("open delivery manifest %s", path), err)
	}
	defer f.Close()
	return Decode(f)
}

func encode(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}

func writeFile(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create manifest dir: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create manifest: %w", err)
	}
	if err := encode(f, v); err != nil {
		f.Close()
		return fmt.Errorf("write manifest %s: %w", path, err)
	}
	return f.Close()
}
