package manifest

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/packdelivery/internal/catalog"
	"github.com/roach88/packdelivery/internal/delivery"
	"github.com/roach88/packdelivery/internal/planner"
	"github.com/roach88/packdelivery/internal/registry"
	"github.com/roach88/packdelivery/internal/settings"
)

const sampleCatalog = `
groups:
  - name: Level 1
    bundled:
      build_path: Library/Build/Android
      entries:
        - address: Assets/Levels/Level1.prefab
          bundle_file: Library/Build/Android/level1.bundle
        - address: Assets/Levels/Shared.mat
          bundle_file: Library/Build/Android/shared/level1_shared.bundle
    delivery:
      type: OnDemand
  - name: Boot
    bundled:
      build_path: Library/Build/Android
      entries:
        - address: Assets/Boot.prefab
          bundle_file: Library/Build/Android/boot.bundle
    delivery:
      type: InstallTime
  - name: Music
    bundled:
      build_path: Library/Build/Android
      entries:
        - address: Assets/Music/Theme.ogg
          bundle_file: Library/Build/Android/music.bundle
    delivery:
      type: FastFollow
`

func samplePlan(t *testing.T) (*planner.Plan, *settings.Settings) {
	t.Helper()
	c, err := catalog.Parse([]byte(sampleCatalog))
	require.NoError(t, err)
	r, err := registry.New()
	require.NoError(t, err)

	s := settings.Default()
	res, err := planner.New(s, r).Plan(c)
	require.NoError(t, err)
	return res.Plan, s
}

func newGoldie(t *testing.T) *goldie.Goldie {
	return goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
}

func TestDelivery_Golden(t *testing.T) {
	p, s := samplePlan(t)

	var buf bytes.Buffer
	require.NoError(t, FromPlan(p, s).Encode(&buf))
	newGoldie(t).Assert(t, "delivery_manifest", buf.Bytes())
}

func TestPackaging_Golden(t *testing.T) {
	p, s := samplePlan(t)

	var buf bytes.Buffer
	require.NoError(t, PackagingFromPlan(p, s).Encode(&buf))
	newGoldie(t).Assert(t, "packaging_manifest", buf.Bytes())
}

func TestDelivery_RoundTrip(t *testing.T) {
	p, s := samplePlan(t)
	original := FromPlan(p, s)

	var buf bytes.Buffer
	require.NoError(t, original.Encode(&buf))

	decoded, err := Decode(&buf)
	require.NoError(t, err)
	assert.Equal(t, original.Members(), decoded.Members())
	assert.Equal(t, original, decoded)
}

func TestDelivery_RoundTripFile(t *testing.T) {
	p, s := samplePlan(t)
	path := filepath.Join(t.TempDir(), "out", DeliveryFileName)

	require.NoError(t, FromPlan(p, s).WriteFile(path))
	d, err := ReadFile(path)
	require.NoError(t, err)

	assert.Equal(t, map[string]string{
		"boot":          delivery.InstallTimeAggregate,
		"level1":        "Level1",
		"level1_shared": "Level1",
		"music":         "Music",
	}, d.BundleUnits())
}

// Member lists stored as JSON strings decode to empty lists in a single
// pass over the document.
const legacyManifest = `{
  "version": 1,
  "base_content_root": "StreamingAssets",
  "unit_assets_root": "assets/content",
  "units": [
    {"name": "InstallTimeContent", "delivery_type": "InstallTime", "bundles": "[]"},
    {"name": "Level1", "delivery_type": "OnDemand", "bundles": "[\"a\",\"b\",\"c\"]"}
  ]
}`

func TestDecode_TrustsEntryDecode(t *testing.T) {
	var bulk bulkWire
	require.NoError(t, json.Unmarshal([]byte(legacyManifest), &bulk))
	units := bulkUnits(bulk)
	require.Len(t, units, 2)
	assert.Empty(t, units[1].Bundles)

	d, err := Decode(strings.NewReader(legacyManifest))
	require.NoError(t, err)
	u, ok := d.Unit("Level1")
	require.True(t, ok)
	assert.Equal(t, []string{"a", "b", "c"}, u.Bundles)
}

func TestReconcile_PrefersEntries(t *testing.T) {
	bulk := []Unit{{Name: "Level1", Bundles: []string{}}}
	perEntry := []Unit{{Name: "Level1", DeliveryType: delivery.OnDemand, Bundles: []string{"a", "b", "c"}}}

	got := reconcile(bulk, perEntry)
	require.Len(t, got, 1)
	assert.Len(t, got[0].Bundles, 3)
}

func TestDecode_Malformed(t *testing.T) {
	tests := []struct {
		name string
		in   string
	}{
		{"not json", `{"version": 1, "units": [`},
		{"wrong version", `{"version": 2, "units": []}`},
		{"no units", `{"version": 1}`},
		{"units not array", `{"version": 1, "units": "x"}`},
		{"bad unit name", `{"version": 1, "units": [{"name": "bad name", "delivery_type": "OnDemand", "bundles": []}]}`},
		{"bad delivery type", `{"version": 1, "units": [{"name": "A", "delivery_type": "Later", "bundles": []}]}`},
		{"bad members", `{"version": 1, "units": [{"name": "A", "delivery_type": "OnDemand", "bundles": {"x": 1}}]}`},
		{"unknown field", `{"version": 1, "units": [{"name": "A", "delivery_type": "OnDemand", "bundles": [], "extra": 1}]}`},
		{"duplicate unit", `{"version": 1, "units": [{"name": "A", "delivery_type": "OnDemand"}, {"name": "A", "delivery_type": "OnDemand"}]}`},
		{"aggregate not install time", `{"version": 1, "units": [{"name": "InstallTimeContent", "delivery_type": "OnDemand"}]}`},
		{"trailing data", `{"version": 1, "units": []} {}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := Decode(strings.NewReader(tt.in))
			require.Error(t, err)
			assert.Nil(t, d)
			assert.True(t, delivery.IsManifestError(err))
			assert.Equal(t, delivery.ErrCodeManifestMalformed, delivery.CodeOf(err))
		})
	}
}

func TestReadFile_Missing(t *testing.T) {
	_, err := ReadFile(filepath.Join(t.TempDir(), DeliveryFileName))
	require.Error(t, err)
	assert.Equal(t, delivery.ErrCodeManifestMissing, delivery.CodeOf(err))
}

func TestPackaging_RoundTripFile(t *testing.T) {
	p, s := samplePlan(t)
	path := filepath.Join(t.TempDir(), PackagingFileName)
	require.NoError(t, PackagingFromPlan(p, s).WriteFile(path))

	pk, err := ReadPackagingFile(path)
	require.NoError(t, err)
	assert.Equal(t, "Library/Build/Android", pk.BuildRoot)
	pl, ok := pk.PlacementFor("Library/Build/Android/shared/level1_shared.bundle")
	require.True(t, ok)
	assert.Equal(t, "Level1/assets/content/shared/level1_shared.bundle", pl.UnitPath)
}

func TestReadPackagingFile_Errors(t *testing.T) {
	dir := t.TempDir()

	_, err := ReadPackagingFile(filepath.Join(dir, PackagingFileName))
	assert.Equal(t, delivery.ErrCodeManifestMissing, delivery.CodeOf(err))
	assert.Contains(t, err.Error(), "must be planned before packaging")

	path := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"version": 1, "nope": true}`), 0o644))
	_, err = ReadPackagingFile(path)
	assert.Equal(t, delivery.ErrCodeManifestMalformed, delivery.CodeOf(err))
}
