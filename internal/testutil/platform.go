// Package testutil provides deterministic collaborators for runtime tests:
// a scripted download platform and sequential request IDs.
package testutil

import (
	"context"
	"sync"

	"github.com/roach88/packdelivery/internal/platform"
)

// FakePlatform is a scripted platform.Platform.
//
// For each unit, Script sets the statuses reported when the unit is
// requested. They are delivered synchronously from RequestDownload. A
// WaitingForNetworkPermission status parks the statuses after it until
// RequestNetworkPermission grants permission. Units without a script get
// nothing until Emit is called.
type FakePlatform struct {
	mu sync.Mutex

	scripts map[string][]platform.Status
	paths   map[string]string
	parked  map[string][]platform.Status
	sinks   map[string]platform.Sink
	calls   [][]string

	requestErr error

	grant              bool
	permissionErr      error
	permissionRequests int
	permissionGate     chan struct{}
}

// NewFakePlatform creates a platform that grants network permission.
func NewFakePlatform() *FakePlatform {
	return &FakePlatform{
		scripts: make(map[string][]platform.Status),
		paths:   make(map[string]string),
		parked:  make(map[string][]platform.Status),
		sinks:   make(map[string]platform.Sink),
		grant:   true,
	}
}

// Script sets the statuses reported for unit on every request.
func (f *FakePlatform) Script(unit string, statuses ...platform.Status) *FakePlatform {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scripts[unit] = statuses
	return f
}

// SetPath sets the path LocalPathFor reports for unit.
func (f *FakePlatform) SetPath(unit, path string) *FakePlatform {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.paths[unit] = path
	return f
}

// FailRequests makes RequestDownload return err.
func (f *FakePlatform) FailRequests(err error) *FakePlatform {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requestErr = err
	return f
}

// SetPermission sets the answer RequestNetworkPermission gives.
func (f *FakePlatform) SetPermission(granted bool, err error) *FakePlatform {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.grant = granted
	f.permissionErr = err
	return f
}

// HoldPermission makes RequestNetworkPermission block until the returned
// function is called.
func (f *FakePlatform) HoldPermission() (release func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	gate := make(chan struct{})
	f.permissionGate = gate
	var once sync.Once
	return func() { once.Do(func() { close(gate) }) }
}

// Emit reports status for unit through the sink of its latest request.
// Returns false if the unit was never requested.
func (f *FakePlatform) Emit(unit string, status platform.Status, err error) bool {
	f.mu.Lock()
	sink, ok := f.sinks[unit]
	f.mu.Unlock()
	if !ok {
		return false
	}
	sink(platform.StatusEvent{Unit: unit, Status: status, Err: err})
	return true
}

// Calls returns the unit batches of every RequestDownload call.
func (f *FakePlatform) Calls() [][]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][]string, len(f.calls))
	for i, c := range f.calls {
		out[i] = append([]string{}, c...)
	}
	return out
}

// Requested returns how many times unit was included in a download call.
func (f *FakePlatform) Requested(unit string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		for _, u := range c {
			if u == unit {
				n++
			}
		}
	}
	return n
}

// PermissionRequests returns how many times permission was requested.
func (f *FakePlatform) PermissionRequests() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.permissionRequests
}

// RequestDownload implements platform.Platform.
func (f *FakePlatform) RequestDownload(_ context.Context, units []string, sink platform.Sink) error {
	f.mu.Lock()
	f.calls = append(f.calls, append([]string{}, units...))
	if f.requestErr != nil {
		err := f.requestErr
		f.mu.Unlock()
		return err
	}

	var events []platform.StatusEvent
	for _, unit := range units {
		f.sinks[unit] = sink
		for i, s := range f.scripts[unit] {
			events = append(events, platform.StatusEvent{Unit: unit, Status: s})
			if s == platform.StatusWaitingForNetworkPermission {
				f.parked[unit] = append([]platform.Status{}, f.scripts[unit][i+1:]...)
				break
			}
		}
	}
	f.mu.Unlock()

	for _, ev := range events {
		sink(ev)
	}
	return nil
}

// LocalPathFor implements platform.Platform.
func (f *FakePlatform) LocalPathFor(unit string) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.paths[unit]
	return p, ok
}

// RequestNetworkPermission implements platform.Platform.
func (f *FakePlatform) RequestNetworkPermission(ctx context.Context) (bool, error) {
	f.mu.Lock()
	f.permissionRequests++
	gate := f.permissionGate
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return false, ctx.Err()
		}
	}

	f.mu.Lock()
	granted, err := f.grant, f.permissionErr
	var events []platform.StatusEvent
	var sinks []platform.Sink
	if granted && err == nil {
		for unit, statuses := range f.parked {
			for _, s := range statuses {
				events = append(events, platform.StatusEvent{Unit: unit, Status: s})
				sinks = append(sinks, f.sinks[unit])
			}
		}
	}
	f.parked = make(map[string][]platform.Status)
	f.mu.Unlock()

	// Resumed transfers report after the answer.
	if len(events) > 0 {
		go func() {
			for i, ev := range events {
				sinks[i](ev)
			}
		}()
	}
	return granted, err
}

var _ platform.Platform = (*FakePlatform)(nil)
