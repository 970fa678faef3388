// Package settings loads pack settings authored in CUE.
//
// A settings file is unified with the embedded #Settings schema, so missing
// fields take their defaults and malformed names or delivery types are
// rejected before any planning happens:
//
//	build_root: "Library/Build/Android"
//	custom_units: [
//		{name: "Common", delivery_type: "OnDemand"},
//	]
package settings

import (
	_ "embed"
	"fmt"
	"os"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"

	"github.com/roach88/packdelivery/internal/delivery"
)

//go:embed schema.cue
var schemaCUE string

// Settings is the decoded pack configuration.
type Settings struct {
	// BuildRoot is where the build pipeline writes content bundles.
	BuildRoot string

	// BaseContentRoot is the root of always-available content shipped in
	// the main application artifact.
	BaseContentRoot string

	// UnitAssetsRoot is the directory inside each packaged unit that holds
	// its bundles.
	UnitAssetsRoot string

	// LogWarnings controls runtime warnings when redirection is disabled.
	LogWarnings bool

	// CustomUnits are the user-declared delivery units, in declaration order.
	CustomUnits []CustomUnit
}

// CustomUnit is a user-declared delivery unit.
type CustomUnit struct {
	Name         string
	DeliveryType delivery.DeliveryType
}

// rawSettings mirrors #Settings for cue.Value.Decode.
type rawSettings struct {
	BuildRoot       string `json:"build_root"`
	BaseContentRoot string `json:"base_content_root"`
	UnitAssetsRoot  string `json:"unit_assets_root"`
	LogWarnings     bool   `json:"log_warnings"`
	CustomUnits     []struct {
		Name         string `json:"name"`
		DeliveryType string `json:"delivery_type"`
	} `json:"custom_units"`
}

// Default returns the settings produced by an empty settings file.
func Default() *Settings {
	s, err := Parse(nil, "default.cue")
	if err != nil {
		panic("settings: embedded schema defaults do not decode: " + err.Error())
	}
	return s
}

// Load reads and validates a CUE settings file.
func Load(path string) (*Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("settings file not found: %s", path)
		}
		return nil, fmt.Errorf("cannot read settings file %q: %w", path, err)
	}
	return Parse(data, path)
}

// Parse unifies data with the settings schema and decodes the result.
// filename is used for error positions only.
func Parse(data []byte, filename string) (*Settings, error) {
	ctx := cuecontext.New()

	schema := ctx.CompileString(schemaCUE, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return nil, fmt.Errorf("compile settings schema: %w", err)
	}

	user := ctx.CompileBytes(data, cue.Filename(filename))
	if err := user.Err(); err != nil {
		return nil, fmt.Errorf("invalid settings: %s", formatCUEError(err))
	}

	value := schema.LookupPath(cue.ParsePath("#Settings")).Unify(user)
	if err := value.Validate(cue.Concrete(true)); err != nil {
		return nil, fmt.Errorf("invalid settings: %s", formatCUEError(err))
	}

	var raw rawSettings
	if err := value.Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode settings: %w", err)
	}

	s := &Settings{
		BuildRoot:       raw.BuildRoot,
		BaseContentRoot: raw.BaseContentRoot,
		UnitAssetsRoot:  raw.UnitAssetsRoot,
		LogWarnings:     raw.LogWarnings,
	}
	for _, u := range raw.CustomUnits {
		dt, err := delivery.ParseDeliveryType(u.DeliveryType)
		if err != nil {
			return nil, fmt.Errorf("custom unit %q: %w", u.Name, err)
		}
		s.CustomUnits = append(s.CustomUnits, CustomUnit{Name: u.Name, DeliveryType: dt})
	}

	return s, nil
}

// formatCUEError flattens a CUE error list into a single line per error.
func formatCUEError(err error) string {
	errs := cueerrors.Errors(err)
	if len(errs) == 0 {
		return err.Error()
	}
	msg := ""
	for i, e := range errs {
		if i > 0 {
			msg += "; "
		}
		msg += e.Error()
	}
	return msg
}
