// Package registry implements the delivery unit registry.
//
// The registry owns the user-declared custom units and guarantees that every
// unit name, declared or generated from a content group during planning, is
// valid and unique. Renames and removals propagate to every content group
// that references the unit, so no group is left pointing at a name that no
// longer exists.
//
// A Registry is an explicitly constructed value. Create one per settings
// file and per planning run; registries share no state.
package registry

import (
	"fmt"
	"log/slog"
	"strconv"

	"github.com/roach88/packdelivery/internal/catalog"
	"github.com/roach88/packdelivery/internal/delivery"
)

// Unit is a user-declared delivery unit.
type Unit struct {
	Name         string
	DeliveryType delivery.DeliveryType
}

// Registry holds the custom units and the names taken in the current
// planning session.
//
// Not safe for concurrent use.
type Registry struct {
	units  []Unit
	groups []*catalog.Group

	// taken is the session name set: custom units, the install-time
	// aggregate, and every name handed out by GenerateUnique since the last
	// ResetSession.
	taken map[string]struct{}
}

// New creates a registry from declared units, in declaration order.
// Names are validated; duplicates and the reserved install-time name are
// rejected.
func New(units ...Unit) (*Registry, error) {
	r := &Registry{}
	for _, u := range units {
		if err := Validate(u.Name); err != nil {
			return nil, err
		}
		if u.Name == delivery.InstallTimeAggregate {
			return nil, delivery.NewConfigurationError(delivery.ErrCodeReservedUnit, u.Name,
				"name is reserved for the install-time aggregate")
		}
		if _, ok := r.index(u.Name); ok {
			return nil, delivery.NewConfigurationError(delivery.ErrCodeDuplicateUnit, u.Name,
				"custom unit declared more than once")
		}
		if !u.DeliveryType.Valid() {
			return nil, delivery.NewConfigurationError(delivery.ErrCodeInvalidUnitName, u.Name,
				fmt.Sprintf("invalid delivery type %d", int(u.DeliveryType)))
		}
		r.units = append(r.units, u)
	}
	r.ResetSession()
	return r, nil
}

// Validate returns a ConfigurationError if name is not a legal unit name.
// Invalid names are never coerced.
func Validate(name string) error {
	if !delivery.ValidUnitName(name) {
		return delivery.NewConfigurationError(delivery.ErrCodeInvalidUnitName, name,
			"all characters must be alphanumeric or an underscore and the first character must be a letter")
	}
	return nil
}

// Attach registers the groups that rename and remove propagate to.
// Attaching again replaces the previous set.
func (r *Registry) Attach(c *catalog.Catalog) {
	if c == nil {
		r.groups = nil
		return
	}
	r.groups = c.Groups
}

// Units returns a copy of the custom units in declaration order.
func (r *Registry) Units() []Unit {
	out := make([]Unit, len(r.units))
	copy(out, r.units)
	return out
}

// Lookup returns the custom unit with the given name.
func (r *Registry) Lookup(name string) (Unit, bool) {
	i, ok := r.index(name)
	if !ok {
		return Unit{}, false
	}
	return r.units[i], true
}

// Add declares a new custom unit. If name collides with an existing unit or
// the reserved aggregate, a numeric suffix is appended. Returns the name
// actually used.
func (r *Registry) Add(name string, dt delivery.DeliveryType) (string, error) {
	if err := Validate(name); err != nil {
		return "", err
	}
	unique, err := uniqueName(name, r.customNameExists)
	if err != nil {
		return "", err
	}
	r.units = append(r.units, Unit{Name: unique, DeliveryType: dt})
	r.taken[unique] = struct{}{}
	return unique, nil
}

// AddDefault declares a custom unit with the default name and delivery type.
func (r *Registry) AddDefault() (string, error) {
	return r.Add(delivery.DefaultCustomUnitName, delivery.DefaultDeliveryType)
}

// Rename changes a custom unit's name and updates every group that opted
// into it. The new name is uniquified against the other units.
func (r *Registry) Rename(oldName, newName string) (string, error) {
	i, ok := r.index(oldName)
	if !ok {
		return "", unknownUnit(oldName)
	}
	if err := Validate(newName); err != nil {
		return "", err
	}
	if newName == oldName {
		return oldName, nil
	}

	unique, err := uniqueName(newName, func(n string) bool {
		return n != oldName && r.customNameExists(n)
	})
	if err != nil {
		return "", err
	}

	updated := 0
	for _, g := range r.groups {
		if g.ReferencesUnit(oldName) {
			g.Delivery.CustomUnit = unique
			updated++
		}
	}

	r.units[i].Name = unique
	delete(r.taken, oldName)
	r.taken[unique] = struct{}{}

	slog.Debug("custom unit renamed",
		"from", oldName,
		"to", unique,
		"groups_updated", updated,
	)
	return unique, nil
}

// SetDeliveryType changes a custom unit's delivery type.
func (r *Registry) SetDeliveryType(name string, dt delivery.DeliveryType) error {
	i, ok := r.index(name)
	if !ok {
		return unknownUnit(name)
	}
	r.units[i].DeliveryType = dt
	return nil
}

// Remove deletes a custom unit. Groups that opted into it fall back to a
// unit of their own carrying the removed unit's delivery type.
func (r *Registry) Remove(name string) error {
	i, ok := r.index(name)
	if !ok {
		return unknownUnit(name)
	}
	removed := r.units[i]

	for _, g := range r.groups {
		if g.ReferencesUnit(name) {
			g.Delivery.Type = removed.DeliveryType
			g.Delivery.IncludeInCustomUnit = false
			g.Delivery.CustomUnit = ""
		}
	}

	r.units = append(r.units[:i], r.units[i+1:]...)
	delete(r.taken, name)
	return nil
}

// ResetSession starts a new naming session seeded with the custom units and
// the install-time aggregate.
func (r *Registry) ResetSession() {
	r.taken = make(map[string]struct{}, len(r.units)+1)
	r.taken[delivery.InstallTimeAggregate] = struct{}{}
	for _, u := range r.units {
		r.taken[u.Name] = struct{}{}
	}
}

// GenerateUnique returns base, or base followed by the smallest positive
// integer suffix that makes it unique within the session, and records it.
// Fails with UNIT_LIMIT_EXCEEDED when no candidate within MaxUnits is free.
func (r *Registry) GenerateUnique(base string) (string, error) {
	name, err := uniqueName(base, func(n string) bool {
		_, ok := r.taken[n]
		return ok
	})
	if err != nil {
		return "", err
	}
	r.taken[name] = struct{}{}
	return name, nil
}

// Taken reports how many names the current session holds, including the
// install-time aggregate.
func (r *Registry) Taken() int {
	return len(r.taken)
}

func (r *Registry) customNameExists(name string) bool {
	if name == delivery.InstallTimeAggregate {
		return true
	}
	_, ok := r.index(name)
	return ok
}

func (r *Registry) index(name string) (int, bool) {
	for i, u := range r.units {
		if u.Name == name {
			return i, true
		}
	}
	return -1, false
}

// uniqueName tries base, base1, base2, ... up to MaxUnits candidates.
func uniqueName(base string, exists func(string) bool) (string, error) {
	name := base
	for counter := 1; exists(name); counter++ {
		if counter >= delivery.MaxUnits {
			return "", delivery.NewConfigurationError(delivery.ErrCodeUnitLimitExceeded, base,
				fmt.Sprintf("too many delivery units: the platform accepts at most %d", delivery.MaxUnits))
		}
		name = base + strconv.Itoa(counter)
	}
	return name, nil
}

func unknownUnit(name string) error {
	return delivery.NewConfigurationError(delivery.ErrCodeUnknownUnit, name, "custom unit not found")
}
