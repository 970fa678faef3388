package planner

import (
	"github.com/roach88/packdelivery/internal/delivery"
)

// UnitEntry is one delivery unit of a plan: its name, delivery type and
// member bundle identifiers in the order they were assigned.
type UnitEntry struct {
	Name         string
	DeliveryType delivery.DeliveryType
	Bundles      []string
}

// Placement records where a bundle lives in the build output and where it
// goes inside its packaged unit.
type Placement struct {
	// BundleFile is the bundle file identifier as declared in the catalog.
	BundleFile string
	BundleID   string
	Unit       string

	// BuildPath is the slash-separated build output path.
	BuildPath string

	// UnitPath is unit-name/unit-assets-root/relative-path.
	UnitPath string
}

// Plan maps every packed bundle to its delivery unit. A Plan is immutable:
// accessors return copies.
type Plan struct {
	order      []string
	units      map[string]*UnitEntry
	placements []Placement
	byBundle   map[string]string
}

func newPlan() *Plan {
	p := &Plan{
		units:    make(map[string]*UnitEntry),
		byBundle: make(map[string]string),
	}
	// The aggregate is always present: it also carries content that belongs
	// to no group.
	p.addUnit(delivery.InstallTimeAggregate, delivery.InstallTime)
	return p
}

func (p *Plan) addUnit(name string, dt delivery.DeliveryType) *UnitEntry {
	if u, ok := p.units[name]; ok {
		return u
	}
	u := &UnitEntry{Name: name, DeliveryType: dt, Bundles: []string{}}
	p.units[name] = u
	p.order = append(p.order, name)
	return u
}

// Units returns the plan's units in creation order, install-time aggregate
// first.
func (p *Plan) Units() []UnitEntry {
	out := make([]UnitEntry, 0, len(p.order))
	for _, name := range p.order {
		out = append(out, p.units[name].clone())
	}
	return out
}

// Unit returns the named unit.
func (p *Plan) Unit(name string) (UnitEntry, bool) {
	u, ok := p.units[name]
	if !ok {
		return UnitEntry{}, false
	}
	return u.clone(), true
}

// UnitFor returns the unit a bundle identifier was assigned to.
func (p *Plan) UnitFor(bundleID string) (string, bool) {
	u, ok := p.byBundle[bundleID]
	return u, ok
}

// Assignments returns the bundle identifier to unit name mapping.
func (p *Plan) Assignments() map[string]string {
	out := make(map[string]string, len(p.byBundle))
	for k, v := range p.byBundle {
		out[k] = v
	}
	return out
}

// Placements returns bundle placements in assignment order.
func (p *Plan) Placements() []Placement {
	out := make([]Placement, len(p.placements))
	copy(out, p.placements)
	return out
}

// UnitCount returns the number of units, including the aggregate.
func (p *Plan) UnitCount() int {
	return len(p.order)
}

func (u *UnitEntry) clone() UnitEntry {
	c := *u
	c.Bundles = make([]string, len(u.Bundles))
	copy(c.Bundles, u.Bundles)
	return c
}
