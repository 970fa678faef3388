package planner

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/packdelivery/internal/catalog"
	"github.com/roach88/packdelivery/internal/delivery"
	"github.com/roach88/packdelivery/internal/registry"
	"github.com/roach88/packdelivery/internal/settings"
)

const buildRoot = "Library/Build/Android"

func group(name string, dt delivery.DeliveryType, bundles ...string) *catalog.Group {
	entries := make([]catalog.Entry, 0, len(bundles))
	for _, b := range bundles {
		entries = append(entries, catalog.Entry{Address: "Assets/" + b, BundleFile: buildRoot + "/" + b})
	}
	return &catalog.Group{
		Name:     name,
		Bundled:  &catalog.BundledContent{BuildPath: buildRoot, Entries: entries},
		Delivery: &catalog.DeliverySchema{Type: dt},
	}
}

func newPlanner(t *testing.T, units ...registry.Unit) *Planner {
	t.Helper()
	r, err := registry.New(units...)
	require.NoError(t, err)
	return New(settings.Default(), r)
}

func diagCodes(res *Result) []string {
	codes := make([]string, 0, len(res.Diagnostics))
	for _, d := range res.Diagnostics {
		codes = append(codes, d.Code)
	}
	return codes
}

func TestPlan_OwnUnit(t *testing.T) {
	p := newPlanner(t)
	res, err := p.Plan(&catalog.Catalog{Groups: []*catalog.Group{
		group("G1", delivery.FastFollow, "g1_assets.bundle"),
	}})
	require.NoError(t, err)

	u, ok := res.Plan.Unit("G1")
	require.True(t, ok)
	assert.Equal(t, delivery.FastFollow, u.DeliveryType)
	assert.Equal(t, []string{"g1_assets"}, u.Bundles)

	placements := res.Plan.Placements()
	require.Len(t, placements, 1)
	assert.Equal(t, "G1/assets/content/g1_assets.bundle", placements[0].UnitPath)
	assert.False(t, res.OverLimit)
}

func TestPlan_AggregateAlwaysPresent(t *testing.T) {
	p := newPlanner(t)
	res, err := p.Plan(&catalog.Catalog{})
	require.NoError(t, err)

	units := res.Plan.Units()
	require.Len(t, units, 1)
	assert.Equal(t, delivery.InstallTimeAggregate, units[0].Name)
	assert.Equal(t, delivery.InstallTime, units[0].DeliveryType)
	assert.Empty(t, units[0].Bundles)
}

func TestPlan_SanitizedCollisionsGetSuffix(t *testing.T) {
	p := newPlanner(t)
	res, err := p.Plan(&catalog.Catalog{Groups: []*catalog.Group{
		group("G-1", delivery.OnDemand, "a.bundle"),
		group("G 1", delivery.OnDemand, "b.bundle"),
		group("G.1", delivery.OnDemand, "c.bundle"),
	}})
	require.NoError(t, err)

	assignments := res.Plan.Assignments()
	assert.Equal(t, "G1", assignments["a"])
	assert.Equal(t, "G11", assignments["b"])
	assert.Equal(t, "G12", assignments["c"])
}

func TestPlan_InstallTimeGoesToAggregate(t *testing.T) {
	p := newPlanner(t, registry.Unit{Name: "Common", DeliveryType: delivery.OnDemand})

	g := group("Boot", delivery.InstallTime, "boot.bundle")
	res, err := p.Plan(&catalog.Catalog{Groups: []*catalog.Group{g}})
	require.NoError(t, err)

	unit, ok := res.Plan.UnitFor("boot")
	require.True(t, ok)
	assert.Equal(t, delivery.InstallTimeAggregate, unit)
	assert.Equal(t, 1, res.Plan.UnitCount())
}

func TestPlan_InstallTimeCustomUnitGoesToAggregate(t *testing.T) {
	p := newPlanner(t,
		registry.Unit{Name: "Boot", DeliveryType: delivery.InstallTime},
		registry.Unit{Name: "Common", DeliveryType: delivery.OnDemand},
	)

	a := group("Shaders", delivery.OnDemand, "shaders.bundle")
	a.Delivery.IncludeInCustomUnit = true
	a.Delivery.CustomUnit = "Boot"
	b := group("Splash", delivery.InstallTime, "splash.bundle")

	res, err := p.Plan(&catalog.Catalog{Groups: []*catalog.Group{a, b}})
	require.NoError(t, err)

	for _, id := range []string{"shaders", "splash"} {
		unit, ok := res.Plan.UnitFor(id)
		require.True(t, ok, id)
		assert.Equal(t, delivery.InstallTimeAggregate, unit, id)
	}
	_, ok := res.Plan.Unit("Boot")
	assert.False(t, ok, "an install-time custom unit is never its own unit")

	agg, ok := res.Plan.Unit(delivery.InstallTimeAggregate)
	require.True(t, ok)
	assert.Equal(t, delivery.InstallTime, agg.DeliveryType)
	assert.Equal(t, []string{"shaders", "splash"}, agg.Bundles)
	assert.Equal(t, 1, res.Plan.UnitCount())
}

func TestPlan_SharedBuildPathPlacedOnce(t *testing.T) {
	p := newPlanner(t, registry.Unit{Name: "Common", DeliveryType: delivery.OnDemand})

	a := group("A", delivery.OnDemand, "shared.bundle", "a.bundle")
	a.Delivery.IncludeInCustomUnit = true
	a.Delivery.CustomUnit = "Common"
	b := group("B", delivery.OnDemand, "shared.bundle")
	b.Delivery.IncludeInCustomUnit = true
	b.Delivery.CustomUnit = "Common"

	res, err := p.Plan(&catalog.Catalog{Groups: []*catalog.Group{a, b, a}})
	require.NoError(t, err)

	placements := res.Plan.Placements()
	require.Len(t, placements, 2)
	assert.Equal(t, buildRoot+"/shared.bundle", placements[0].BuildPath)
	assert.Equal(t, buildRoot+"/a.bundle", placements[1].BuildPath)

	u, _ := res.Plan.Unit("Common")
	assert.Equal(t, []string{"shared", "a"}, u.Bundles)
}

func TestPlan_CustomUnitWins(t *testing.T) {
	p := newPlanner(t, registry.Unit{Name: "Common", DeliveryType: delivery.OnDemand})

	a := group("A", delivery.FastFollow, "a.bundle")
	a.Delivery.IncludeInCustomUnit = true
	a.Delivery.CustomUnit = "Common"
	b := group("B", delivery.None, "b.bundle")
	b.Delivery.IncludeInCustomUnit = true
	b.Delivery.CustomUnit = "Common"

	res, err := p.Plan(&catalog.Catalog{Groups: []*catalog.Group{a, b}})
	require.NoError(t, err)

	u, ok := res.Plan.Unit("Common")
	require.True(t, ok)
	assert.Equal(t, delivery.OnDemand, u.DeliveryType)
	assert.Equal(t, []string{"a", "b"}, u.Bundles)
	assert.Equal(t, 2, res.Plan.UnitCount())
}

func TestPlan_MissingCustomUnitFallsBack(t *testing.T) {
	p := newPlanner(t, registry.Unit{Name: "Common", DeliveryType: delivery.OnDemand})

	g := group("Music", delivery.FastFollow, "music.bundle")
	g.Delivery.IncludeInCustomUnit = true
	g.Delivery.CustomUnit = "Gone"

	res, err := p.Plan(&catalog.Catalog{Groups: []*catalog.Group{g}})
	require.NoError(t, err)

	unit, ok := res.Plan.UnitFor("music")
	require.True(t, ok)
	assert.Equal(t, "Music", unit)
	assert.Contains(t, diagCodes(res), DiagMissingCustomUnit)
	require.Len(t, res.Warnings(), 1)
}

func TestPlan_NoneStaysInBaseContent(t *testing.T) {
	p := newPlanner(t)
	res, err := p.Plan(&catalog.Catalog{Groups: []*catalog.Group{
		group("Loose", delivery.None, "loose.bundle"),
	}})
	require.NoError(t, err)

	_, ok := res.Plan.UnitFor("loose")
	assert.False(t, ok)
	assert.Equal(t, 1, res.Plan.UnitCount())
	assert.Contains(t, diagCodes(res), DiagStaysInBaseContent)
}

func TestPlan_SkipRules(t *testing.T) {
	excluded := group("Excluded", delivery.OnDemand, "x.bundle")
	excluded.Bundled.ExcludeFromBuild = true

	noBundled := &catalog.Group{Name: "Meta", Delivery: &catalog.DeliverySchema{Type: delivery.OnDemand}}

	noDeliveryInside := group("Inside", delivery.OnDemand, "in.bundle")
	noDeliveryInside.Delivery = nil

	noDeliveryOutside := group("Outside", delivery.OnDemand, "out.bundle")
	noDeliveryOutside.Delivery = nil
	noDeliveryOutside.Bundled.BuildPath = "ServerData/Android"

	bare := &catalog.Group{Name: "Bare"}

	p := newPlanner(t)
	res, err := p.Plan(&catalog.Catalog{Groups: []*catalog.Group{
		excluded, noBundled, noDeliveryInside, noDeliveryOutside, bare,
	}})
	require.NoError(t, err)

	assert.Equal(t, 1, res.Plan.UnitCount())
	assert.Empty(t, res.Plan.Assignments())
	assert.Equal(t, []string{
		DiagExcludedFromBuild,
		DiagNoBundledContent,
		DiagStaysInBaseContent,
		DiagNotPackable,
	}, diagCodes(res))
}

func TestPlan_EmptyFolderAndSharedBundleFile(t *testing.T) {
	g := group("Level", delivery.OnDemand, "level.bundle")
	g.Bundled.Entries = append(g.Bundled.Entries,
		catalog.Entry{Address: "Assets/Level/Other", BundleFile: buildRoot + "/level.bundle"},
		catalog.Entry{Address: "Assets/Level/Empty", BundleFile: buildRoot + "/level.bundle", Folder: true},
	)

	p := newPlanner(t)
	res, err := p.Plan(&catalog.Catalog{Groups: []*catalog.Group{g}})
	require.NoError(t, err)

	u, ok := res.Plan.Unit("Level")
	require.True(t, ok)
	assert.Equal(t, []string{"level"}, u.Bundles)
	assert.Len(t, res.Plan.Placements(), 1)
	assert.Equal(t, []string{DiagEmptyFolder}, diagCodes(res))
}

func TestPlan_NestedBundleKeepsRelativePath(t *testing.T) {
	g := group("Level", delivery.OnDemand)
	g.Bundled.Entries = []catalog.Entry{
		{Address: "Assets/Level", BundleFile: `Library\Build\Android\levels\level.bundle`},
	}

	p := newPlanner(t)
	res, err := p.Plan(&catalog.Catalog{Groups: []*catalog.Group{g}})
	require.NoError(t, err)

	placements := res.Plan.Placements()
	require.Len(t, placements, 1)
	assert.Equal(t, "level", placements[0].BundleID)
	assert.Equal(t, "Library/Build/Android/levels/level.bundle", placements[0].BuildPath)
	assert.Equal(t, "Level/assets/content/levels/level.bundle", placements[0].UnitPath)
}

func TestPlan_BundleConflictIsFatal(t *testing.T) {
	a := group("A", delivery.OnDemand, "shared.bundle")
	b := group("B", delivery.OnDemand)
	b.Bundled.Entries = []catalog.Entry{{Address: "Assets/B", BundleFile: buildRoot + "/other/shared.bundle"}}

	p := newPlanner(t)
	_, err := p.Plan(&catalog.Catalog{Groups: []*catalog.Group{a, b}})
	require.Error(t, err)
	assert.Equal(t, delivery.ErrCodeBundleConflict, delivery.CodeOf(err))
}

func TestPlan_Idempotent(t *testing.T) {
	c := &catalog.Catalog{Groups: []*catalog.Group{
		group("G-1", delivery.OnDemand, "a.bundle"),
		group("G 1", delivery.FastFollow, "b.bundle"),
		group("Boot", delivery.InstallTime, "boot.bundle"),
	}}

	p := newPlanner(t)
	first, err := p.Plan(c)
	require.NoError(t, err)
	second, err := p.Plan(c)
	require.NoError(t, err)

	assert.Equal(t, first.Plan.Assignments(), second.Plan.Assignments())
	assert.Equal(t, first.Plan.Units(), second.Plan.Units())
}

func TestPlan_SameGroupNameReusesUnit(t *testing.T) {
	p := newPlanner(t)
	res, err := p.Plan(&catalog.Catalog{Groups: []*catalog.Group{
		group("Level", delivery.OnDemand, "a.bundle"),
		group("Level", delivery.OnDemand, "b.bundle"),
	}})
	require.NoError(t, err)

	assert.Equal(t, 2, res.Plan.UnitCount())
	u, ok := res.Plan.Unit("Level")
	require.True(t, ok)
	assert.Equal(t, []string{"a", "b"}, u.Bundles)
}

func TestPlan_OverLimitIsAdvisory(t *testing.T) {
	groups := make([]*catalog.Group, 0, delivery.MaxUnits+1)
	for i := 0; i <= delivery.MaxUnits; i++ {
		groups = append(groups, group(fmt.Sprintf("Level%d", i), delivery.OnDemand, fmt.Sprintf("level%d.bundle", i)))
	}

	p := newPlanner(t)
	res, err := p.Plan(&catalog.Catalog{Groups: groups})
	require.NoError(t, err)

	assert.True(t, res.OverLimit)
	assert.Equal(t, delivery.MaxUnits+2, res.Plan.UnitCount())
	assert.Contains(t, diagCodes(res), DiagUnitCountOverLimit)
}

func TestPlan_NameExhaustionIsFatal(t *testing.T) {
	// Distinct display names that all sanitize to "Level".
	groups := make([]*catalog.Group, 0, delivery.MaxUnits+1)
	for i := 0; i <= delivery.MaxUnits; i++ {
		groups = append(groups, group("Level"+dashes(i), delivery.OnDemand))
	}

	p := newPlanner(t)
	_, err := p.Plan(&catalog.Catalog{Groups: groups})
	require.Error(t, err)
	assert.Equal(t, delivery.ErrCodeUnitLimitExceeded, delivery.CodeOf(err))
}

func dashes(n int) string {
	b := make([]byte, n)
	for i := range b {
		b[i] = '-'
	}
	return string(b)
}

func TestNewFromSettings(t *testing.T) {
	s := settings.Default()
	s.CustomUnits = []settings.CustomUnit{{Name: "Common", DeliveryType: delivery.OnDemand}}

	p, err := NewFromSettings(s)
	require.NoError(t, err)
	_, ok := p.Registry().Lookup("Common")
	assert.True(t, ok)

	s.CustomUnits = append(s.CustomUnits, settings.CustomUnit{Name: "Common"})
	_, err = NewFromSettings(s)
	assert.Equal(t, delivery.ErrCodeDuplicateUnit, delivery.CodeOf(err))
}

func TestSanitizeName(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Level 1", "Level1"},
		{"G_1", "G_1"},
		{"G-1", "G1"},
		{"1st Pass", "Group1stPass"},
		{"_hidden", "Group_hidden"},
		{"!!!", "Group"},
		{"", "Group"},
		{"Caf\u00e9", "Caf"},
		{"Cafe\u0301", "Caf"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, SanitizeName(tt.in))
		})
	}
}
