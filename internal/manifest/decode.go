package manifest

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"

	"github.com/roach88/packdelivery/internal/delivery"
)

// entryWire is the on-disk shape of one unit entry. Bundles is kept raw so
// that legacy encodings can be recognised.
type entryWire struct {
	Name         string          `json:"name"`
	DeliveryType string          `json:"delivery_type"`
	Bundles      json.RawMessage `json:"bundles"`
}

// bulkWire is the naive whole-document shape. Decoding a legacy manifest
// through it yields empty member lists.
type bulkWire struct {
	Units []struct {
		Name    string `json:"name"`
		Bundles any    `json:"bundles"`
	} `json:"units"`
}

// Decode reads a delivery manifest.
//
// Unit entries are decoded one by one. Older writers stored each member
// list as a JSON string holding the array; decoding the document in one
// pass silently produces units with no members for those files, so the
// result of the per-entry decode is authoritative.
//
// Any structural problem fails the whole decode with MANIFEST_MALFORMED.
// A partially populated manifest is never returned.
func Decode(r io.Reader) (*Delivery, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, malformed("read manifest", err)
	}

	var header struct {
		Version         int               `json:"version"`
		BaseContentRoot string            `json:"base_content_root"`
		UnitAssetsRoot  string            `json:"unit_assets_root"`
		Units           []json.RawMessage `json:"units"`
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&header); err != nil {
		return nil, malformed("decode manifest", err)
	}
	if dec.More() {
		return nil, malformed("trailing data after manifest", nil)
	}
	if header.Version != FormatVersion {
		return nil, malformed(fmt.Sprintf("unsupported manifest version %d", header.Version), nil)
	}
	if header.Units == nil {
		return nil, malformed("manifest has no units", nil)
	}

	perEntry := make([]Unit, 0, len(header.Units))
	seen := make(map[string]bool, len(header.Units))
	for i, raw := range header.Units {
		u, err := decodeEntry(raw)
		if err != nil {
			return nil, malformed(fmt.Sprintf("units[%d]", i), err)
		}
		if seen[u.Name] {
			return nil, malformed(fmt.Sprintf("units[%d]: duplicate unit %q", i, u.Name), nil)
		}
		seen[u.Name] = true
		perEntry = append(perEntry, u)
	}

	var bulk bulkWire
	if err := json.Unmarshal(data, &bulk); err != nil {
		return nil, malformed("decode manifest", err)
	}

	return &Delivery{
		Version:         header.Version,
		BaseContentRoot: header.BaseContentRoot,
		UnitAssetsRoot:  header.UnitAssetsRoot,
		Units:           reconcile(bulkUnits(bulk), perEntry),
	}, nil
}

func decodeEntry(raw json.RawMessage) (Unit, error) {
	var w entryWire
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&w); err != nil {
		return Unit{}, err
	}
	if !delivery.ValidUnitName(w.Name) {
		return Unit{}, fmt.Errorf("invalid unit name %q", w.Name)
	}
	dt, err := delivery.ParseDeliveryType(w.DeliveryType)
	if err != nil {
		return Unit{}, err
	}
	if w.Name == delivery.InstallTimeAggregate && dt != delivery.InstallTime {
		return Unit{}, fmt.Errorf("unit %q must be InstallTime, got %s", w.Name, dt)
	}
	members, err := decodeMembers(w.Bundles)
	if err != nil {
		return Unit{}, fmt.Errorf("unit %q bundles: %w", w.Name, err)
	}
	return Unit{Name: w.Name, DeliveryType: dt, Bundles: members}, nil
}

// decodeMembers accepts an array of identifiers or a string holding one.
func decodeMembers(raw json.RawMessage) ([]string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return []string{}, nil
	}
	if raw[0] == '"' {
		var inner string
		if err := json.Unmarshal(raw, &inner); err != nil {
			return nil, err
		}
		raw = []byte(inner)
	}
	members := []string{}
	if err := json.Unmarshal(raw, &members); err != nil {
		return nil, err
	}
	return members, nil
}

func bulkUnits(b bulkWire) []Unit {
	out := make([]Unit, 0, len(b.Units))
	for _, u := range b.Units {
		unit := Unit{Name: u.Name, Bundles: []string{}}
		if list, ok := u.Bundles.([]any); ok {
			for _, m := range list {
				if s, ok := m.(string); ok {
					unit.Bundles = append(unit.Bundles, s)
				}
			}
		}
		out = append(out, unit)
	}
	return out
}

// reconcile returns perEntry, logging units whose member lists disagree
// with the bulk decode.
func reconcile(bulk, perEntry []Unit) []Unit {
	counts := make(map[string]int, len(bulk))
	for _, u := range bulk {
		counts[u.Name] = len(u.Bundles)
	}
	for _, u := range perEntry {
		if n, ok := counts[u.Name]; ok && n != len(u.Bundles) {
			slog.Debug("bulk manifest decode disagrees with entry decode",
				"unit", u.Name,
				"bulk_members", n,
				"entry_members", len(u.Bundles),
			)
		}
	}
	return perEntry
}

func malformed(msg string, cause error) error {
	return delivery.NewManifestError(delivery.ErrCodeManifestMalformed, msg, cause)
}

func unmarshalStrict(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
