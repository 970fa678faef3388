// Package planner assigns content bundles to delivery units at build time.
//
// For every eligible content group the planner decides final unit
// membership with this precedence:
//
//  1. A group opted into an existing custom unit takes that unit's name and
//     delivery type.
//  2. A group whose resolved delivery type is InstallTime always goes to the
//     install-time aggregate, whatever custom unit it chose.
//  3. Otherwise the group becomes its own unit, named from its sanitized
//     display name and uniquified through the registry.
//  4. A group whose resolved delivery type is None stays in base content.
//
// Groups excluded from the build, groups with nothing bundled and groups
// without pack-eligibility metadata are skipped with a diagnostic. Skips are
// never errors.
package planner

import (
	"fmt"
	"log/slog"
	"path"
	"strings"

	"github.com/roach88/packdelivery/internal/catalog"
	"github.com/roach88/packdelivery/internal/delivery"
	"github.com/roach88/packdelivery/internal/registry"
	"github.com/roach88/packdelivery/internal/settings"
)

// Severity grades a planning diagnostic.
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
)

// Diagnostic codes.
const (
	DiagExcludedFromBuild  = "EXCLUDED_FROM_BUILD"
	DiagNoBundledContent   = "NO_BUNDLED_CONTENT"
	DiagNotPackable        = "NOT_PACKABLE"
	DiagStaysInBaseContent = "STAYS_IN_BASE_CONTENT"
	DiagMissingCustomUnit  = "MISSING_CUSTOM_UNIT"
	DiagEmptyFolder        = "EMPTY_FOLDER"
	DiagOutsideBuildRoot   = "OUTSIDE_BUILD_ROOT"
	DiagUnitCountOverLimit = "UNIT_COUNT_OVER_LIMIT"
)

// Diagnostic is a non-fatal planning observation for the operator.
type Diagnostic struct {
	Severity Severity `json:"severity"`
	Code     string   `json:"code"`
	Group    string   `json:"group,omitempty"`
	Message  string   `json:"message"`
}

// Result is the output of one planning run.
type Result struct {
	Plan        *Plan
	Diagnostics []Diagnostic

	// OverLimit is set when the plan holds more than MaxUnits units. The
	// plan is still complete; the platform may reject the artifact.
	OverLimit bool
}

// Warnings returns the warning-level diagnostics.
func (r *Result) Warnings() []Diagnostic {
	var out []Diagnostic
	for _, d := range r.Diagnostics {
		if d.Severity == SeverityWarning {
			out = append(out, d)
		}
	}
	return out
}

// Planner runs pack assignment planning against one registry.
type Planner struct {
	settings *settings.Settings
	registry *registry.Registry
}

// New creates a planner. A nil settings value uses settings.Default().
func New(s *settings.Settings, r *registry.Registry) *Planner {
	if s == nil {
		s = settings.Default()
	}
	return &Planner{settings: s, registry: r}
}

// NewFromSettings builds the registry from the settings' custom units.
func NewFromSettings(s *settings.Settings) (*Planner, error) {
	units := make([]registry.Unit, 0, len(s.CustomUnits))
	for _, cu := range s.CustomUnits {
		units = append(units, registry.Unit{Name: cu.Name, DeliveryType: cu.DeliveryType})
	}
	r, err := registry.New(units...)
	if err != nil {
		return nil, fmt.Errorf("custom units: %w", err)
	}
	return New(s, r), nil
}

// Registry returns the planner's registry.
func (p *Planner) Registry() *registry.Registry {
	return p.registry
}

// run holds the mutable state of a single Plan call.
type run struct {
	p           *Planner
	plan        *Plan
	diagnostics []Diagnostic

	// generated caches the unit name created for a group name, so the same
	// group never yields two units within one run.
	generated map[string]string

	// placed holds the build paths already recorded as placements.
	placed map[string]struct{}
}

// Plan computes the assignment plan for c. Running Plan again on an
// unaltered catalog yields the same mapping.
//
// A fatal error (name exhaustion, conflicting bundle identifiers) aborts
// planning and no plan is returned.
func (p *Planner) Plan(c *catalog.Catalog) (*Result, error) {
	p.registry.ResetSession()

	r := &run{
		p:         p,
		plan:      newPlan(),
		generated: make(map[string]string),
		placed:    make(map[string]struct{}),
	}

	for _, g := range c.Groups {
		if !r.eligible(g) {
			continue
		}
		if err := r.assignGroup(g); err != nil {
			return nil, fmt.Errorf("group %q: %w", g.Name, err)
		}
	}

	res := &Result{Plan: r.plan, Diagnostics: r.diagnostics}
	if n := r.plan.UnitCount(); n > delivery.MaxUnits {
		res.OverLimit = true
		r.diag(&res.Diagnostics, SeverityWarning, DiagUnitCountOverLimit, "",
			fmt.Sprintf("plan has %d delivery units; the platform accepts at most %d and may reject the artifact", n, delivery.MaxUnits))
		slog.Warn("delivery unit count over platform limit",
			"units", n,
			"limit", delivery.MaxUnits,
			"event", "unit_count_advisory",
		)
	}

	slog.Info("pack assignment planned",
		"units", r.plan.UnitCount(),
		"bundles", len(r.plan.byBundle),
		"diagnostics", len(res.Diagnostics),
	)
	return res, nil
}

// eligible applies the skip rules.
func (r *run) eligible(g *catalog.Group) bool {
	switch {
	case g.Bundled != nil && g.Bundled.ExcludeFromBuild:
		r.add(SeverityInfo, DiagExcludedFromBuild, g.Name, "group is not included in the build; skipping")
		return false

	case g.Bundled == nil && g.Delivery == nil:
		return false

	case g.Bundled == nil:
		r.add(SeverityWarning, DiagNoBundledContent, g.Name,
			"group has delivery metadata but no bundled content to assign to a delivery unit")
		return false

	case g.Delivery == nil:
		if r.inBaseContent(g.Bundled.BuildPath) {
			r.add(SeverityInfo, DiagStaysInBaseContent, g.Name,
				fmt.Sprintf("group has no delivery metadata; its build path %q is included in base content unless the build path changes", g.Bundled.BuildPath))
		} else {
			r.add(SeverityInfo, DiagNotPackable, g.Name,
				fmt.Sprintf("group has no delivery metadata and its build path %q is outside base content; add delivery metadata to pack it", g.Bundled.BuildPath))
		}
		return false
	}
	return true
}

// assignGroup resolves the group's unit and records its bundles.
func (r *run) assignGroup(g *catalog.Group) error {
	schema := g.Delivery
	dt := delivery.None
	unitName := ""
	custom := false

	if schema.IncludeInCustomUnit && len(r.p.registry.Units()) > 0 {
		if u, ok := r.p.registry.Lookup(schema.CustomUnit); ok {
			dt = u.DeliveryType
			unitName = u.Name
			custom = true
		} else if schema.CustomUnit != "" {
			r.add(SeverityWarning, DiagMissingCustomUnit, g.Name,
				fmt.Sprintf("custom unit %q does not exist; a separate unit is created for this group", schema.CustomUnit))
		}
	}

	if !custom {
		dt = schema.Type
	}

	if dt == delivery.InstallTime {
		unitName = delivery.InstallTimeAggregate
	}

	if !dt.Packed() {
		if r.inBaseContent(g.Bundled.BuildPath) {
			r.add(SeverityWarning, DiagStaysInBaseContent, g.Name,
				"delivery type is None; the group is included in base content")
		}
		return nil
	}

	if unitName == "" {
		name, err := r.generatedName(g.Name)
		if err != nil {
			return err
		}
		unitName = name
	}

	slog.Debug("group assigned",
		"group", g.Name,
		"unit", unitName,
		"delivery_type", dt.String(),
		"custom", custom,
	)

	unit := r.plan.addUnit(unitName, dt)
	return r.recordBundles(g, unit)
}

func (r *run) generatedName(groupName string) (string, error) {
	if name, ok := r.generated[groupName]; ok {
		return name, nil
	}
	name, err := r.p.registry.GenerateUnique(SanitizeName(groupName))
	if err != nil {
		return "", err
	}
	r.generated[groupName] = name
	return name, nil
}

// recordBundles adds the group's bundles to unit. Bundles already placed
// are skipped, so several entries sharing one bundle file and repeated
// groups are harmless.
func (r *run) recordBundles(g *catalog.Group, unit *UnitEntry) error {
	cfg := r.p.settings
	for _, entry := range g.Bundled.Entries {
		if entry.EmptyFolder() {
			r.add(SeverityWarning, DiagEmptyFolder, g.Name, fmt.Sprintf("empty folder %q", entry.Address))
			continue
		}
		if entry.BundleFile == "" {
			continue
		}

		buildPath := toSlash(entry.BundleFile)
		if _, ok := r.placed[buildPath]; ok {
			continue
		}

		bundleID := delivery.BundleID(buildPath)
		if owner, ok := r.plan.byBundle[bundleID]; ok && owner != unit.Name {
			return delivery.NewConfigurationError(delivery.ErrCodeBundleConflict, unit.Name,
				fmt.Sprintf("bundle %q is already assigned to unit %q", bundleID, owner))
		}

		rel, ok := relativeTo(cfg.BuildRoot, buildPath)
		if !ok {
			r.add(SeverityWarning, DiagOutsideBuildRoot, g.Name,
				fmt.Sprintf("bundle %q is outside build root %q; placing it at the unit assets root", buildPath, cfg.BuildRoot))
		}

		if _, ok := r.plan.byBundle[bundleID]; !ok {
			unit.Bundles = append(unit.Bundles, bundleID)
			r.plan.byBundle[bundleID] = unit.Name
		}
		r.placed[buildPath] = struct{}{}
		r.plan.placements = append(r.plan.placements, Placement{
			BundleFile: entry.BundleFile,
			BundleID:   bundleID,
			Unit:       unit.Name,
			BuildPath:  buildPath,
			UnitPath:   path.Join(unit.Name, toSlash(cfg.UnitAssetsRoot), rel),
		})
	}
	return nil
}

func (r *run) inBaseContent(buildPath string) bool {
	p := toSlash(buildPath)
	return hasPathPrefix(p, toSlash(r.p.settings.BuildRoot)) ||
		hasPathPrefix(p, toSlash(r.p.settings.BaseContentRoot))
}

func (r *run) add(sev Severity, code, group, msg string) {
	r.diag(&r.diagnostics, sev, code, group, msg)
}

func (r *run) diag(dst *[]Diagnostic, sev Severity, code, group, msg string) {
	*dst = append(*dst, Diagnostic{Severity: sev, Code: code, Group: group, Message: msg})
	if sev == SeverityWarning {
		slog.Warn(msg, "group", group, "code", code)
	} else {
		slog.Info(msg, "group", group, "code", code)
	}
}

func toSlash(p string) string {
	return strings.ReplaceAll(p, `\`, "/")
}

func hasPathPrefix(p, root string) bool {
	if root == "" {
		return false
	}
	p = path.Clean(p)
	root = path.Clean(root)
	return p == root || strings.HasPrefix(p, root+"/")
}

// relativeTo returns p relative to root. If p is not under root, the file
// name is returned and ok is false.
func relativeTo(root, p string) (string, bool) {
	p = path.Clean(p)
	root = path.Clean(toSlash(root))
	if strings.HasPrefix(p, root+"/") {
		return strings.TrimPrefix(p, root+"/"), true
	}
	return path.Base(p), false
}
