package registry

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/packdelivery/internal/catalog"
	"github.com/roach88/packdelivery/internal/delivery"
)

func newCatalog() *catalog.Catalog {
	return &catalog.Catalog{Groups: []*catalog.Group{
		{Name: "A", Delivery: &catalog.DeliverySchema{Type: delivery.FastFollow, IncludeInCustomUnit: true, CustomUnit: "Common"}},
		{Name: "B", Delivery: &catalog.DeliverySchema{Type: delivery.FastFollow, IncludeInCustomUnit: true, CustomUnit: "Common"}},
		{Name: "C", Delivery: &catalog.DeliverySchema{Type: delivery.OnDemand, IncludeInCustomUnit: true, CustomUnit: "Music"}},
		{Name: "D"},
	}}
}

func TestNew_Validation(t *testing.T) {
	_, err := New(Unit{Name: "bad-name", DeliveryType: delivery.OnDemand})
	require.Error(t, err)
	assert.Equal(t, delivery.ErrCodeInvalidUnitName, delivery.CodeOf(err))

	_, err = New(Unit{Name: "Common"}, Unit{Name: "Common"})
	assert.Equal(t, delivery.ErrCodeDuplicateUnit, delivery.CodeOf(err))

	_, err = New(Unit{Name: delivery.InstallTimeAggregate})
	assert.Equal(t, delivery.ErrCodeReservedUnit, delivery.CodeOf(err))

	r, err := New(Unit{Name: "Common", DeliveryType: delivery.OnDemand})
	require.NoError(t, err)
	u, ok := r.Lookup("Common")
	require.True(t, ok)
	assert.Equal(t, delivery.OnDemand, u.DeliveryType)
}

func TestValidate(t *testing.T) {
	assert.NoError(t, Validate("Level_1"))

	err := Validate("Level 1")
	require.Error(t, err)
	assert.True(t, delivery.IsConfigurationError(err))
}

func TestAdd_Uniquifies(t *testing.T) {
	r, err := New(Unit{Name: "Common", DeliveryType: delivery.FastFollow})
	require.NoError(t, err)

	name, err := r.Add("Common", delivery.OnDemand)
	require.NoError(t, err)
	assert.Equal(t, "Common1", name)

	name, err = r.Add("Common", delivery.OnDemand)
	require.NoError(t, err)
	assert.Equal(t, "Common2", name)

	name, err = r.Add(delivery.InstallTimeAggregate, delivery.OnDemand)
	require.NoError(t, err)
	assert.Equal(t, delivery.InstallTimeAggregate+"1", name, "reserved name is never handed out")

	_, err = r.Add("9lives", delivery.OnDemand)
	assert.Equal(t, delivery.ErrCodeInvalidUnitName, delivery.CodeOf(err))

	assert.Len(t, r.Units(), 4)
}

func TestAddDefault(t *testing.T) {
	r, err := New()
	require.NoError(t, err)

	first, err := r.AddDefault()
	require.NoError(t, err)
	second, err := r.AddDefault()
	require.NoError(t, err)

	assert.Equal(t, delivery.DefaultCustomUnitName, first)
	assert.Equal(t, delivery.DefaultCustomUnitName+"1", second)

	u, _ := r.Lookup(first)
	assert.Equal(t, delivery.FastFollow, u.DeliveryType)
}

func TestRename_PropagatesToGroups(t *testing.T) {
	c := newCatalog()
	r, err := New(Unit{Name: "Common", DeliveryType: delivery.FastFollow}, Unit{Name: "Music", DeliveryType: delivery.OnDemand})
	require.NoError(t, err)
	r.Attach(c)

	name, err := r.Rename("Common", "Shared")
	require.NoError(t, err)
	assert.Equal(t, "Shared", name)

	assert.True(t, c.Groups[0].ReferencesUnit("Shared"))
	assert.True(t, c.Groups[1].ReferencesUnit("Shared"))
	assert.True(t, c.Groups[2].ReferencesUnit("Music"), "other references untouched")

	_, ok := r.Lookup("Common")
	assert.False(t, ok)
	for _, g := range c.Groups {
		assert.False(t, g.ReferencesUnit("Common"), "no dangling reference in %s", g.Name)
	}
}

func TestRename_CollisionAndErrors(t *testing.T) {
	r, err := New(Unit{Name: "Common"}, Unit{Name: "Music"})
	require.NoError(t, err)

	name, err := r.Rename("Common", "Music")
	require.NoError(t, err)
	assert.Equal(t, "Music1", name)

	name, err = r.Rename("Music1", "Music1")
	require.NoError(t, err)
	assert.Equal(t, "Music1", name)

	_, err = r.Rename("Nope", "Other")
	assert.Equal(t, delivery.ErrCodeUnknownUnit, delivery.CodeOf(err))

	_, err = r.Rename("Music", "has space")
	assert.Equal(t, delivery.ErrCodeInvalidUnitName, delivery.CodeOf(err))
}

func TestRemove_ResetsGroups(t *testing.T) {
	c := newCatalog()
	r, err := New(Unit{Name: "Common", DeliveryType: delivery.OnDemand}, Unit{Name: "Music", DeliveryType: delivery.OnDemand})
	require.NoError(t, err)
	r.Attach(c)

	require.NoError(t, r.Remove("Common"))

	for _, g := range c.Groups[:2] {
		assert.False(t, g.Delivery.IncludeInCustomUnit)
		assert.Empty(t, g.Delivery.CustomUnit)
		assert.Equal(t, delivery.OnDemand, g.Delivery.Type, "group inherits removed unit's delivery type")
	}
	assert.True(t, c.Groups[2].ReferencesUnit("Music"))

	assert.Equal(t, delivery.ErrCodeUnknownUnit, delivery.CodeOf(r.Remove("Common")))
	assert.Len(t, r.Units(), 1)
}

func TestSetDeliveryType(t *testing.T) {
	r, err := New(Unit{Name: "Common", DeliveryType: delivery.FastFollow})
	require.NoError(t, err)

	require.NoError(t, r.SetDeliveryType("Common", delivery.None))
	u, _ := r.Lookup("Common")
	assert.Equal(t, delivery.None, u.DeliveryType)

	assert.Error(t, r.SetDeliveryType("Other", delivery.None))
}

func TestGenerateUnique_SmallestUnusedSuffix(t *testing.T) {
	r, err := New(Unit{Name: "Level"})
	require.NoError(t, err)

	for i, want := range []string{"Level1", "Level2", "Level3"} {
		got, err := r.GenerateUnique("Level")
		require.NoError(t, err, "call %d", i)
		assert.Equal(t, want, got)
	}

	got, err := r.GenerateUnique("Fresh")
	require.NoError(t, err)
	assert.Equal(t, "Fresh", got)

	got, err = r.GenerateUnique(delivery.InstallTimeAggregate)
	require.NoError(t, err)
	assert.Equal(t, delivery.InstallTimeAggregate+"1", got)
}

func TestGenerateUnique_PairwiseDistinctUntilLimit(t *testing.T) {
	r, err := New()
	require.NoError(t, err)

	seen := make(map[string]bool)
	var genErr error
	for i := 0; i < 2*delivery.MaxUnits; i++ {
		name, err := r.GenerateUnique("G")
		if err != nil {
			genErr = err
			break
		}
		require.False(t, seen[name], "duplicate name %s", name)
		seen[name] = true
	}

	require.Error(t, genErr)
	assert.Equal(t, delivery.ErrCodeUnitLimitExceeded, delivery.CodeOf(genErr))
	assert.Equal(t, delivery.MaxUnits, len(seen))
	assert.True(t, seen["G"])
	assert.True(t, seen[fmt.Sprintf("G%d", delivery.MaxUnits-1)])
}

func TestResetSession(t *testing.T) {
	r, err := New(Unit{Name: "Common"})
	require.NoError(t, err)
	assert.Equal(t, 2, r.Taken())

	_, err = r.GenerateUnique("Level")
	require.NoError(t, err)
	assert.Equal(t, 3, r.Taken())

	r.ResetSession()
	assert.Equal(t, 2, r.Taken())

	got, err := r.GenerateUnique("Level")
	require.NoError(t, err)
	assert.Equal(t, "Level", got, "names from a previous session are released")
}
