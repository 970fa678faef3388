// Package index holds the runtime delivery index: which unit each bundle
// belongs to, and where each downloaded unit lives on the device.
//
// The bundle to unit mapping is loaded once from the delivery manifest and
// never changes. The unit to local path mapping grows as units download and
// shrinks only when a recorded path turns out to be missing. Reads never
// block; writes come from a single owner, the download orchestrator.
package index

import (
	"sort"
	"sync"
	"sync/atomic"

	"github.com/roach88/packdelivery/internal/delivery"
	"github.com/roach88/packdelivery/internal/manifest"
)

// Index is the runtime delivery index.
type Index struct {
	bundles map[string]string
	types   map[string]delivery.DeliveryType

	baseContentRoot string
	unitAssetsRoot  string

	// paths is replaced wholesale on every write. Readers load the current
	// map without locking.
	paths atomic.Pointer[map[string]string]

	// mu serializes writers.
	mu sync.Mutex
}

// New builds an index from a decoded delivery manifest.
func New(m *manifest.Delivery) *Index {
	idx := &Index{
		bundles:         m.BundleUnits(),
		types:           make(map[string]delivery.DeliveryType, len(m.Units)),
		baseContentRoot: m.BaseContentRoot,
		unitAssetsRoot:  m.UnitAssetsRoot,
	}
	for _, u := range m.Units {
		idx.types[u.Name] = u.DeliveryType
	}
	empty := map[string]string{}
	idx.paths.Store(&empty)
	return idx
}

// UnitFor returns the delivery unit holding bundleID.
func (x *Index) UnitFor(bundleID string) (string, bool) {
	u, ok := x.bundles[bundleID]
	return u, ok
}

// DeliveryType returns a unit's delivery type.
func (x *Index) DeliveryType(unit string) (delivery.DeliveryType, bool) {
	dt, ok := x.types[unit]
	return dt, ok
}

// HasUnit reports whether the manifest declares unit.
func (x *Index) HasUnit(unit string) bool {
	_, ok := x.types[unit]
	return ok
}

// Units returns the declared unit names, sorted.
func (x *Index) Units() []string {
	names := make([]string, 0, len(x.types))
	for n := range x.types {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// BaseContentRoot is the default location prefix of bundles.
func (x *Index) BaseContentRoot() string { return x.baseContentRoot }

// UnitAssetsRoot is the bundle directory inside each unit.
func (x *Index) UnitAssetsRoot() string { return x.unitAssetsRoot }

// LocalPath returns the recorded local path of a downloaded unit.
func (x *Index) LocalPath(unit string) (string, bool) {
	p, ok := (*x.paths.Load())[unit]
	return p, ok
}

// LocalPaths returns a copy of all recorded local paths.
func (x *Index) LocalPaths() map[string]string {
	cur := *x.paths.Load()
	out := make(map[string]string, len(cur))
	for k, v := range cur {
		out[k] = v
	}
	return out
}

// RecordLocalPath records where unit was downloaded to. Recording the same
// path again is a no-op. Only the orchestrator calls this.
func (x *Index) RecordLocalPath(unit, path string) {
	x.mu.Lock()
	defer x.mu.Unlock()

	cur := *x.paths.Load()
	if p, ok := cur[unit]; ok && p == path {
		return
	}
	next := make(map[string]string, len(cur)+1)
	for k, v := range cur {
		next[k] = v
	}
	next[unit] = path
	x.paths.Store(&next)
}

// ForgetLocalPath drops a recorded path. Only the orchestrator calls this.
func (x *Index) ForgetLocalPath(unit string) {
	x.mu.Lock()
	defer x.mu.Unlock()

	cur := *x.paths.Load()
	if _, ok := cur[unit]; !ok {
		return
	}
	next := make(map[string]string, len(cur))
	for k, v := range cur {
		if k != unit {
			next[k] = v
		}
	}
	x.paths.Store(&next)
}
