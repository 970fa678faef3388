package archive

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"
)

// ChecksumFileName is the checksum index stored next to the archives.
const ChecksumFileName = "checksums.yaml"

// Entry describes one published archive.
type Entry struct {
	Archive      string `yaml:"archive"`
	Codec        Codec  `yaml:"codec,omitempty"`
	DeliveryType string `yaml:"delivery_type"`
	Size         int64  `yaml:"size"`
	BLAKE3       string `yaml:"blake3"`
}

// Checksums is the checksum index, keyed by unit name.
type Checksums struct {
	Units map[string]Entry `yaml:"units"`
}

// Names returns the unit names in the index, sorted.
func (c *Checksums) Names() []string {
	names := make([]string, 0, len(c.Units))
	for n := range c.Units {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// LoadChecksums reads the index from dir. A missing index is empty.
func LoadChecksums(dir string) (*Checksums, error) {
	data, err := os.ReadFile(filepath.Join(dir, ChecksumFileName))
	if errors.Is(err, fs.ErrNotExist) {
		return &Checksums{Units: map[string]Entry{}}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read checksums: %w", err)
	}

	var c Checksums
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&c); err != nil {
		return nil, fmt.Errorf("parse checksums: %w", err)
	}
	if c.Units == nil {
		c.Units = map[string]Entry{}
	}
	return &c, nil
}

// Save writes the index into dir.
func (c *Checksums) Save(dir string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("encode checksums: %w", err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}
	return os.WriteFile(filepath.Join(dir, ChecksumFileName), data, 0o644)
}
