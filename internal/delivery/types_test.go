package delivery

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidUnitName(t *testing.T) {
	tests := []struct {
		name  string
		valid bool
	}{
		{"Level1", true},
		{"a", true},
		{"Big_Pack_2", true},
		{"", false},
		{"1Level", false},
		{"_Level", false},
		{"Level-1", false},
		{"Level 1", false},
		{"Lévél", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.valid, ValidUnitName(tt.name))
		})
	}
}

func TestDeliveryType_String(t *testing.T) {
	assert.Equal(t, "None", None.String())
	assert.Equal(t, "InstallTime", InstallTime.String())
	assert.Equal(t, "FastFollow", FastFollow.String())
	assert.Equal(t, "OnDemand", OnDemand.String())
	assert.Equal(t, "DeliveryType(9)", DeliveryType(9).String())
}

func TestDeliveryType_Packed(t *testing.T) {
	assert.False(t, None.Packed())
	assert.True(t, InstallTime.Packed())
	assert.True(t, FastFollow.Packed())
	assert.True(t, OnDemand.Packed())
	assert.False(t, DeliveryType(-1).Packed())
}

func TestParseDeliveryType(t *testing.T) {
	for _, dt := range []DeliveryType{None, InstallTime, FastFollow, OnDemand} {
		got, err := ParseDeliveryType(dt.String())
		require.NoError(t, err)
		assert.Equal(t, dt, got)
	}

	_, err := ParseDeliveryType("Sometime")
	assert.Error(t, err)
}

func TestDeliveryType_JSONUsesNames(t *testing.T) {
	type wrapper struct {
		Type DeliveryType `json:"type"`
	}

	data, err := json.Marshal(wrapper{Type: OnDemand})
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"OnDemand"}`, string(data))

	var w wrapper
	require.NoError(t, json.Unmarshal([]byte(`{"type":"FastFollow"}`), &w))
	assert.Equal(t, FastFollow, w.Type)

	err = json.Unmarshal([]byte(`{"type":"Later"}`), &w)
	assert.Error(t, err)
}

func TestErrorHelpers(t *testing.T) {
	cfg := NewConfigurationError(ErrCodeInvalidUnitName, "bad-name", "invalid")
	wrapped := fmt.Errorf("planning: %w", cfg)

	assert.True(t, IsConfigurationError(wrapped))
	assert.False(t, IsDeliveryError(wrapped))
	assert.Equal(t, ErrCodeInvalidUnitName, CodeOf(wrapped))
	assert.Contains(t, cfg.Error(), "unit=bad-name")

	del := NewDeliveryError(ErrCodeUnitUnavailable, "Level1", "unavailable")
	assert.True(t, IsDeliveryError(del))
	assert.False(t, IsManifestError(del))

	cause := fmt.Errorf("unexpected EOF")
	man := NewManifestError(ErrCodeManifestMalformed, "broken", cause)
	assert.True(t, IsManifestError(man))
	assert.ErrorIs(t, man, cause)

	con := NewConsistencyError("Level1", "/data/Level1")
	assert.True(t, IsConsistencyError(con))
	assert.Equal(t, ErrCodeLocalPathMissing, CodeOf(con))

	assert.Equal(t, Code(""), CodeOf(cause))
}

func TestBundleID(t *testing.T) {
	assert.Equal(t, "level1_assets_all", BundleID("Library/Build/Android/level1_assets_all.bundle"))
	assert.Equal(t, "level1", BundleID(`C:\build\Android\level1.bundle`))
	assert.Equal(t, "catalog", BundleID("catalog.json"))
	assert.Equal(t, "noext", BundleID("dir/noext"))
	assert.Equal(t, "", BundleID(""))
}
