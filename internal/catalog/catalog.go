// Package catalog models the content catalog emitted by the external build
// pipeline: content groups, their bundled-content metadata and their
// pack-eligibility metadata.
//
// The catalog is YAML:
//
//	groups:
//	  - name: Level 1
//	    bundled:
//	      build_path: Library/Build/Android
//	      entries:
//	        - address: Assets/Levels/Level1.prefab
//	          bundle_file: Library/Build/Android/level1_assets_all.bundle
//	    delivery:
//	      type: OnDemand
package catalog

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/roach88/packdelivery/internal/delivery"
)

// Catalog is the ordered set of content groups of one build.
// Group order is declaration order and drives planning order.
type Catalog struct {
	Groups []*Group `yaml:"groups"`
}

// Group is one content group.
//
// A group without Bundled has nothing to place. A group without Delivery
// is not eligible for packing and stays in base content.
type Group struct {
	Name     string          `yaml:"name"`
	Bundled  *BundledContent `yaml:"bundled,omitempty"`
	Delivery *DeliverySchema `yaml:"delivery,omitempty"`
}

// BundledContent is the bundled-content metadata of a group.
type BundledContent struct {
	// ExcludeFromBuild removes the group from the build entirely.
	ExcludeFromBuild bool `yaml:"exclude_from_build,omitempty"`

	// BuildPath is the directory the group's bundles are written to.
	BuildPath string `yaml:"build_path"`

	Entries []Entry `yaml:"entries"`
}

// Entry is one addressable entry and the bundle file that carries it.
type Entry struct {
	Address string `yaml:"address"`

	// BundleFile is the build path of the bundle containing this entry.
	// Several entries may share one bundle file.
	BundleFile string `yaml:"bundle_file"`

	Folder    bool `yaml:"folder,omitempty"`
	SubAssets int  `yaml:"sub_assets,omitempty"`
}

// EmptyFolder reports whether the entry is a folder with no content.
func (e Entry) EmptyFolder() bool {
	return e.Folder && e.SubAssets == 0
}

// DeliverySchema is the pack-eligibility metadata of a group.
type DeliverySchema struct {
	// Type is the group's own delivery type. Defaults to FastFollow.
	Type delivery.DeliveryType `yaml:"type"`

	// IncludeInCustomUnit opts the group into CustomUnit instead of a unit
	// of its own.
	IncludeInCustomUnit bool   `yaml:"include_in_custom_unit,omitempty"`
	CustomUnit          string `yaml:"custom_unit,omitempty"`
}

// UnmarshalYAML applies the default delivery type before decoding.
func (d *DeliverySchema) UnmarshalYAML(value *yaml.Node) error {
	type plain DeliverySchema
	raw := plain{Type: delivery.DefaultDeliveryType}
	if err := value.Decode(&raw); err != nil {
		return err
	}
	*d = DeliverySchema(raw)
	return nil
}

// ReferencesUnit reports whether the group has opted into the named custom unit.
func (g *Group) ReferencesUnit(name string) bool {
	return g.Delivery != nil && g.Delivery.IncludeInCustomUnit && g.Delivery.CustomUnit == name
}

// Load reads and parses a catalog file.
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("catalog file not found: %s", path)
		}
		return nil, fmt.Errorf("cannot read catalog file %q: %w", path, err)
	}

	c, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return c, nil
}

// Parse decodes catalog YAML. Unknown fields are rejected.
func Parse(data []byte) (*Catalog, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var c Catalog
	if err := dec.Decode(&c); err != nil {
		return nil, fmt.Errorf("invalid catalog YAML: %w", err)
	}

	for i, g := range c.Groups {
		if g == nil {
			return nil, fmt.Errorf("groups[%d]: empty group", i)
		}
		if g.Name == "" {
			return nil, fmt.Errorf("groups[%d]: name is required", i)
		}
	}

	return &c, nil
}

// Save writes the catalog back as YAML.
func (c *Catalog) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal catalog: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write catalog %q: %w", path, err)
	}
	return nil
}
