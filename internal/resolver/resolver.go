// Package resolver maps logical content locations to physical paths.
//
// Resolution is consulted on every content load, so it only reads the
// runtime index and stats one path. It never blocks on a download.
package resolver

import (
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/roach88/packdelivery/internal/delivery"
	"github.com/roach88/packdelivery/internal/index"
)

// Kind is the resource kind of a location.
type Kind int

const (
	// KindOther covers every resource that is not a content bundle.
	KindOther Kind = iota
	// KindBundle is a content bundle file.
	KindBundle
)

// Location is a logical content location as the content pipeline sees it.
type Location struct {
	Kind Kind

	// InternalID is the default load location, usually
	// <base content root>/<relative path>.
	InternalID string
}

// Bundle returns a bundle location for id.
func Bundle(id string) Location {
	return Location{Kind: KindBundle, InternalID: id}
}

// BundleID returns the bundle identifier of a bundle location, or "" for
// other kinds.
func (l Location) BundleID() string {
	if l.Kind != KindBundle {
		return ""
	}
	return delivery.BundleID(l.InternalID)
}

// MissingReporter is told when a recorded unit path no longer exists.
type MissingReporter interface {
	ReportMissing(unit string)
}

// Resolver redirects bundle locations into downloaded delivery units.
type Resolver struct {
	idx      *index.Index
	reporter MissingReporter
	exists   func(string) bool
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithPathChecker replaces the filesystem existence check.
func WithPathChecker(exists func(string) bool) Option {
	return func(r *Resolver) { r.exists = exists }
}

// New creates a resolver over idx. reporter may be nil.
func New(idx *index.Index, reporter MissingReporter, opts ...Option) *Resolver {
	r := &Resolver{idx: idx, reporter: reporter, exists: dirExists}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Disabled returns a resolver that never redirects.
func Disabled() *Resolver {
	return &Resolver{}
}

// Enabled reports whether the resolver redirects at all.
func (r *Resolver) Enabled() bool {
	return r.idx != nil
}

// Resolve returns the physical location for loc. Base content, content in
// no unit, the install-time aggregate and units without a usable local path
// all resolve to loc.InternalID unchanged.
func (r *Resolver) Resolve(loc Location) string {
	if r.idx == nil || loc.Kind != KindBundle {
		return loc.InternalID
	}

	unit, ok := r.idx.UnitFor(loc.BundleID())
	if !ok {
		return loc.InternalID
	}
	if dt, _ := r.idx.DeliveryType(unit); dt == delivery.InstallTime {
		return loc.InternalID
	}

	dir, ok := r.idx.LocalPath(unit)
	if !ok {
		return loc.InternalID
	}
	if !r.exists(dir) {
		if r.reporter != nil {
			r.reporter.ReportMissing(unit)
		}
		return loc.InternalID
	}

	return filepath.Join(dir, filepath.FromSlash(r.relative(loc.InternalID)))
}

// relative strips the base content root from a default location. A
// location outside the root keeps only its file name.
func (r *Resolver) relative(id string) string {
	id = strings.ReplaceAll(id, `\`, "/")
	root := strings.Trim(strings.ReplaceAll(r.idx.BaseContentRoot(), `\`, "/"), "/")
	if root != "" {
		if i := strings.Index(id, root+"/"); i >= 0 && (i == 0 || id[i-1] == '/') {
			return id[i+len(root)+1:]
		}
	}
	return path.Base(id)
}

func dirExists(p string) bool {
	_, err := os.Stat(p)
	return err == nil
}
