package orchestrator

import (
	"context"
	"sync"
	"time"
)

// Outcome is the terminal result of a request.
type Outcome struct {
	Bundle string

	// Unit is empty when the bundle belongs to base content.
	Unit string

	// Path is the unit's local directory. Empty for base content and the
	// install-time aggregate, which load from their default locations.
	Path string

	Err error
}

// Handle is a pending request. Every handle of one unit observes the same
// outcome.
type Handle struct {
	o      *Orchestrator
	bundle string
	unit   string
	done   chan struct{}

	mu        sync.Mutex
	outcome   Outcome
	callbacks []func(Outcome)
}

func newHandle(o *Orchestrator, bundle, unit string) *Handle {
	return &Handle{o: o, bundle: bundle, unit: unit, done: make(chan struct{})}
}

// Unit returns the unit the request resolves.
func (h *Handle) Unit() string { return h.unit }

// Done is closed when the outcome is available.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Result returns the outcome if the handle is done.
func (h *Handle) Result() (Outcome, bool) {
	select {
	case <-h.done:
		return h.outcome, true
	default:
		return Outcome{}, false
	}
}

// OnDone registers cb to run with the outcome. If the handle is already
// done, cb runs immediately; otherwise it runs on the dispatch cycle that
// resolves the handle.
func (h *Handle) OnDone(cb func(Outcome)) {
	h.mu.Lock()
	select {
	case <-h.done:
		out := h.outcome
		h.mu.Unlock()
		cb(out)
		return
	default:
	}
	h.callbacks = append(h.callbacks, cb)
	h.mu.Unlock()
}

// Wait blocks until the handle is done or ctx ends, running dispatch cycles
// itself while it waits. The returned error is the outcome's error or the
// context's. An abandoned wait leaves the download running.
func (h *Handle) Wait(ctx context.Context) (Outcome, error) {
	if out, ok := h.Result(); ok {
		return out, out.Err
	}

	poll := time.NewTicker(h.o.poll)
	defer poll.Stop()

	for {
		h.o.Tick(ctx)
		select {
		case <-h.done:
			return h.outcome, h.outcome.Err
		case <-ctx.Done():
			return Outcome{Bundle: h.bundle, Unit: h.unit}, ctx.Err()
		case <-h.o.inbox.Wait():
		case <-poll.C:
		}
	}
}

func (h *Handle) finish(out Outcome) {
	h.mu.Lock()
	select {
	case <-h.done:
		h.mu.Unlock()
		return
	default:
	}
	h.outcome = out
	close(h.done)
	cbs := h.callbacks
	h.callbacks = nil
	h.mu.Unlock()

	for _, cb := range cbs {
		cb(out)
	}
}
