package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"os"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/roach88/packdelivery/internal/delivery"
	"github.com/roach88/packdelivery/internal/index"
	"github.com/roach88/packdelivery/internal/platform"
)

// State is a delivery unit's download state.
type State int

const (
	Unrequested State = iota
	Queued
	Downloading
	Ready
	Failed
)

var stateNames = [...]string{
	Unrequested: "Unrequested",
	Queued:      "Queued",
	Downloading: "Downloading",
	Ready:       "Ready",
	Failed:      "Failed",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("State(%d)", int(s))
	}
	return stateNames[s]
}

// Transition is one journal record: a unit entering a state.
type Transition struct {
	Seq       int64
	RequestID string
	Unit      string
	State     State
	LocalPath string
	Message   string
	At        time.Time
}

// Journal persists state transitions. Journal failures are logged and never
// affect delivery.
type Journal interface {
	RecordTransition(ctx context.Context, t Transition) error
}

// DefaultPollInterval bounds how long Handle.Wait sleeps between dispatch
// cycles when nothing signals it.
const DefaultPollInterval = 10 * time.Millisecond

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithJournal records every transition to j.
func WithJournal(j Journal) Option {
	return func(o *Orchestrator) { o.journal = j }
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// WithSequencer sets the transition sequencer. Default: NewClock().
func WithSequencer(s Sequencer) Option {
	return func(o *Orchestrator) { o.seq = s }
}

// WithIDGenerator sets the batch request ID generator.
// Default: UUIDv7Generator.
func WithIDGenerator(g IDGenerator) Option {
	return func(o *Orchestrator) { o.ids = g }
}

// WithPathChecker replaces the on-disk existence check for recorded paths.
func WithPathChecker(exists func(path string) bool) Option {
	return func(o *Orchestrator) { o.exists = exists }
}

// WithPollInterval sets the Handle.Wait poll interval.
func WithPollInterval(d time.Duration) Option {
	return func(o *Orchestrator) { o.poll = d }
}

type unitState struct {
	state     State
	requestID string
	waiters   []*Handle
}

// Orchestrator is the download state machine.
//
// Request, RequestUnit, ReportMissing and the platform sink are safe from
// any goroutine. State changes happen under one mutex and all platform
// status handling happens inside Tick.
type Orchestrator struct {
	platform platform.Platform
	index    *index.Index
	journal  Journal
	logger   *slog.Logger
	seq      Sequencer
	ids      IDGenerator
	exists   func(string) bool
	poll     time.Duration

	inbox   *eventQueue
	ticking atomic.Bool

	mu                sync.Mutex
	units             map[string]*unitState
	queue             []string
	permissionPending bool
	closed            bool
	calls             int
}

// New creates an orchestrator writing to idx and downloading through p.
func New(p platform.Platform, idx *index.Index, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		platform: p,
		index:    idx,
		logger:   slog.Default(),
		seq:      NewClock(),
		ids:      UUIDv7Generator{},
		exists:   pathExists,
		poll:     DefaultPollInterval,
		inbox:    newEventQueue(),
		units:    make(map[string]*unitState),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

func pathExists(p string) bool {
	if p == "" {
		return false
	}
	_, err := os.Stat(p)
	return err == nil
}

// Request resolves the unit holding bundleID. A bundle that belongs to no
// unit, or to the install-time aggregate, completes immediately with no
// local path. Otherwise the handle completes when the unit is Ready or has
// Failed.
func (o *Orchestrator) Request(ctx context.Context, bundleID string) *Handle {
	unit, ok := o.index.UnitFor(bundleID)
	if !ok {
		h := newHandle(o, bundleID, "")
		h.finish(Outcome{Bundle: bundleID})
		return h
	}
	return o.request(ctx, bundleID, unit)
}

// RequestUnit resolves a unit by name.
func (o *Orchestrator) RequestUnit(ctx context.Context, unit string) *Handle {
	return o.request(ctx, "", unit)
}

func (o *Orchestrator) request(ctx context.Context, bundleID, unit string) *Handle {
	h := newHandle(o, bundleID, unit)

	dt, ok := o.index.DeliveryType(unit)
	if !ok {
		h.finish(Outcome{Bundle: bundleID, Unit: unit,
			Err: delivery.NewDeliveryError(delivery.ErrCodeUnitUnavailable, unit, "unit is not declared in the delivery manifest")})
		return h
	}
	if dt == delivery.InstallTime || !dt.Packed() {
		h.finish(Outcome{Bundle: bundleID, Unit: unit})
		return h
	}

	var ts []Transition

	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		h.finish(Outcome{Bundle: bundleID, Unit: unit, Err: closedError(unit)})
		return h
	}

	st := o.stateLocked(unit)
	if st.state == Ready {
		path, ok := o.index.LocalPath(unit)
		if ok && o.exists(path) {
			o.mu.Unlock()
			h.finish(Outcome{Bundle: bundleID, Unit: unit, Path: path})
			return h
		}
		ts = append(ts, o.evictLocked(unit, path))
	}

	switch st.state {
	case Unrequested, Failed:
		st.state = Queued
		st.requestID = ""
		o.queue = append(o.queue, unit)
		ts = append(ts, o.transitionLocked(unit, Queued, "", ""))
	}
	st.waiters = append(st.waiters, h)
	waiters := len(st.waiters)
	o.mu.Unlock()

	o.record(ctx, ts)
	o.logger.Debug("delivery unit requested",
		"unit", unit,
		"bundle", bundleID,
		"waiters", waiters,
	)
	return h
}

// ReportMissing tells the orchestrator that unit's recorded local path is
// gone. The unit reverts to Unrequested on the next dispatch cycle.
func (o *Orchestrator) ReportMissing(unit string) {
	o.inbox.Enqueue(event{typ: eventMissing, unit: unit})
}

// Prime marks units Ready at previously recorded paths that still exist.
// Returns the number of units primed.
func (o *Orchestrator) Prime(paths map[string]string) int {
	o.mu.Lock()
	defer o.mu.Unlock()

	n := 0
	for unit, p := range paths {
		dt, ok := o.index.DeliveryType(unit)
		if !ok || dt == delivery.InstallTime || !dt.Packed() || !o.exists(p) {
			continue
		}
		st := o.stateLocked(unit)
		if st.state != Unrequested {
			continue
		}
		o.index.RecordLocalPath(unit, p)
		st.state = Ready
		n++
	}
	return n
}

// Tick runs one dispatch cycle. It returns false without doing anything if
// another cycle is active.
func (o *Orchestrator) Tick(ctx context.Context) bool {
	if !o.ticking.CompareAndSwap(false, true) {
		return false
	}
	defer o.ticking.Store(false)

	o.drain(ctx)
	o.dispatch(ctx)
	// Platforms may report synchronously from RequestDownload.
	o.drain(ctx)
	return true
}

// Run drives dispatch cycles every interval, and whenever platform events
// arrive, until ctx is done or the orchestrator is closed.
func (o *Orchestrator) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		o.Tick(ctx)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		case _, ok := <-o.inbox.Wait():
			if !ok {
				return nil
			}
		}
	}
}

// Close fails every outstanding waiter and stops accepting requests.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	o.closed = true

	var waiters []*Handle
	var reset []Transition
	for _, unit := range slices.Sorted(maps.Keys(o.units)) {
		st := o.units[unit]
		if st.state == Queued || st.state == Downloading {
			waiters = append(waiters, st.waiters...)
			st.waiters = nil
			st.state = Unrequested
			reset = append(reset, o.transitionLocked(unit, Unrequested, "", "delivery session closed"))
		}
	}
	o.queue = nil
	o.mu.Unlock()

	o.record(context.Background(), reset)
	o.inbox.Close()
	for _, w := range waiters {
		w.finish(Outcome{Bundle: w.bundle, Unit: w.unit, Err: closedError(w.unit)})
	}
}

// State returns unit's current state.
func (o *Orchestrator) State(unit string) State {
	o.mu.Lock()
	defer o.mu.Unlock()
	if st, ok := o.units[unit]; ok {
		return st.state
	}
	return Unrequested
}

// Pending returns the number of units with a download queued or in flight.
func (o *Orchestrator) Pending() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	n := 0
	for _, st := range o.units {
		if st.state == Queued || st.state == Downloading {
			n++
		}
	}
	return n
}

// DownloadCalls returns how many RequestDownload calls have been issued.
func (o *Orchestrator) DownloadCalls() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.calls
}

func (o *Orchestrator) sink(ev platform.StatusEvent) {
	o.inbox.Enqueue(event{typ: eventStatus, status: ev})
}

func (o *Orchestrator) drain(ctx context.Context) {
	for {
		e, ok := o.inbox.TryDequeue()
		if !ok {
			return
		}
		switch e.typ {
		case eventStatus:
			o.handleStatus(ctx, e.status)
		case eventPermission:
			o.handlePermission(ctx, e.granted, e.err)
		case eventMissing:
			o.handleMissing(ctx, e.unit)
		}
	}
}

func (o *Orchestrator) dispatch(ctx context.Context) {
	o.mu.Lock()
	if o.closed || len(o.queue) == 0 {
		o.mu.Unlock()
		return
	}
	batch := o.queue
	o.queue = nil

	requestID := o.ids.Generate()
	ts := make([]Transition, 0, len(batch))
	for _, unit := range batch {
		st := o.units[unit]
		st.state = Downloading
		st.requestID = requestID
		ts = append(ts, o.transitionLocked(unit, Downloading, "", ""))
	}
	o.calls++
	o.mu.Unlock()

	o.record(ctx, ts)
	o.logger.Info("delivery units dispatched",
		"request_id", requestID,
		"units", batch,
		"event", "units_dispatched",
	)

	if err := o.platform.RequestDownload(ctx, batch, o.sink); err != nil {
		for _, unit := range batch {
			o.failUnit(ctx, unit, delivery.NewDeliveryError(delivery.ErrCodePlatformUnavailable, unit,
				fmt.Sprintf("platform download service unavailable: %v", err)))
		}
	}
}

func (o *Orchestrator) handleStatus(ctx context.Context, ev platform.StatusEvent) {
	unit := ev.Unit

	o.mu.Lock()
	st, ok := o.units[unit]
	inFlight := ok && st.state == Downloading
	o.mu.Unlock()
	if !inFlight {
		o.logger.Debug("status for unit not downloading ignored", "unit", unit, "status", ev.Status.String())
		return
	}

	switch ev.Status {
	case platform.StatusPending, platform.StatusDownloading, platform.StatusTransferring:
		o.logger.Debug("delivery unit progress",
			"unit", unit,
			"status", ev.Status.String(),
			"bytes", ev.BytesDownloaded,
			"total_bytes", ev.TotalBytes,
		)

	case platform.StatusWaitingForNetworkPermission:
		o.requestPermission(ctx)

	case platform.StatusCompleted:
		o.complete(ctx, unit)

	case platform.StatusFailed:
		msg := fmt.Sprintf("failed to retrieve the state of delivery unit %q", unit)
		if ev.Err != nil {
			msg += ": " + ev.Err.Error()
		}
		o.failUnit(ctx, unit, delivery.NewDeliveryError(delivery.ErrCodeDownloadFailed, unit, msg))

	case platform.StatusUnavailable:
		o.failUnit(ctx, unit, delivery.NewDeliveryError(delivery.ErrCodeUnitUnavailable, unit,
			fmt.Sprintf("delivery unit %q is unavailable; the application may not have been installed through the store", unit)))

	case platform.StatusCanceled:
		o.failUnit(ctx, unit, delivery.NewDeliveryError(delivery.ErrCodeDownloadCanceled, unit,
			fmt.Sprintf("download of delivery unit %q was cancelled", unit)))
	}
}

func (o *Orchestrator) requestPermission(ctx context.Context) {
	o.mu.Lock()
	if o.permissionPending {
		o.mu.Unlock()
		return
	}
	o.permissionPending = true
	o.mu.Unlock()

	o.logger.Info("requesting network permission", "event", "network_permission_requested")

	// The answer may take as long as the user does; it comes back through
	// the inbox so dispatch is never blocked on it.
	pctx := context.WithoutCancel(ctx)
	go func() {
		granted, err := o.platform.RequestNetworkPermission(pctx)
		o.inbox.Enqueue(event{typ: eventPermission, granted: granted, err: err})
	}()
}

func (o *Orchestrator) handlePermission(ctx context.Context, granted bool, err error) {
	o.mu.Lock()
	o.permissionPending = false
	o.mu.Unlock()

	if err == nil && granted {
		o.logger.Info("network permission granted", "event", "network_permission_granted")
		return
	}

	msg := "request to use mobile data was denied"
	if err != nil {
		msg = fmt.Sprintf("network permission request failed: %v", err)
	}
	o.failAll(ctx, delivery.ErrCodePermissionDenied, msg)
}

func (o *Orchestrator) complete(ctx context.Context, unit string) {
	path, ok := o.platform.LocalPathFor(unit)
	if !ok || path == "" {
		o.failUnit(ctx, unit, delivery.NewDeliveryError(delivery.ErrCodeUnitNotLocated, unit,
			fmt.Sprintf("delivery unit %q was downloaded but cannot be located on the device", unit)))
		return
	}

	o.mu.Lock()
	st := o.units[unit]
	if st.state != Downloading {
		o.mu.Unlock()
		return
	}
	o.index.RecordLocalPath(unit, path)
	st.state = Ready
	waiters := st.waiters
	st.waiters = nil
	t := o.transitionLocked(unit, Ready, path, "")
	o.mu.Unlock()

	o.record(ctx, []Transition{t})
	o.logger.Info("delivery unit ready",
		"unit", unit,
		"path", path,
		"waiters", len(waiters),
		"event", "unit_ready",
	)
	for _, w := range waiters {
		w.finish(Outcome{Bundle: w.bundle, Unit: unit, Path: path})
	}
}

func (o *Orchestrator) failUnit(ctx context.Context, unit string, derr *delivery.Error) {
	o.mu.Lock()
	st, ok := o.units[unit]
	if !ok || (st.state != Queued && st.state != Downloading) {
		o.mu.Unlock()
		return
	}
	if st.state == Queued {
		o.queue = removeUnit(o.queue, unit)
	}
	st.state = Failed
	waiters := st.waiters
	st.waiters = nil
	t := o.transitionLocked(unit, Failed, "", derr.Message)
	o.mu.Unlock()

	o.record(ctx, []Transition{t})
	o.logger.Warn("delivery unit download failed",
		"unit", unit,
		"code", string(derr.Code),
		"message", derr.Message,
		"waiters", len(waiters),
		"event", "unit_download_failed",
	)
	for _, w := range waiters {
		w.finish(Outcome{Bundle: w.bundle, Unit: unit, Err: derr})
	}
}

// failAll fails every queued and downloading unit with one diagnostic.
func (o *Orchestrator) failAll(ctx context.Context, code delivery.Code, msg string) {
	type failed struct {
		unit    string
		waiters []*Handle
	}

	var (
		fs []failed
		ts []Transition
	)
	o.mu.Lock()
	for unit, st := range o.units {
		if st.state != Queued && st.state != Downloading {
			continue
		}
		st.state = Failed
		fs = append(fs, failed{unit: unit, waiters: st.waiters})
		st.waiters = nil
		ts = append(ts, o.transitionLocked(unit, Failed, "", msg))
	}
	o.queue = nil
	o.mu.Unlock()

	o.record(ctx, ts)
	o.logger.Warn(msg,
		"code", string(code),
		"units", len(fs),
		"event", "network_permission_denied",
	)
	for _, f := range fs {
		derr := delivery.NewDeliveryError(code, f.unit, msg)
		for _, w := range f.waiters {
			w.finish(Outcome{Bundle: w.bundle, Unit: f.unit, Err: derr})
		}
	}
}

func (o *Orchestrator) handleMissing(ctx context.Context, unit string) {
	o.mu.Lock()
	st, ok := o.units[unit]
	if !ok || st.state != Ready {
		o.mu.Unlock()
		return
	}
	path, _ := o.index.LocalPath(unit)
	if o.exists(path) {
		o.mu.Unlock()
		return
	}
	t := o.evictLocked(unit, path)
	o.mu.Unlock()

	o.record(ctx, []Transition{t})
}

// evictLocked reverts a Ready unit whose path is gone to Unrequested.
func (o *Orchestrator) evictLocked(unit, path string) Transition {
	o.index.ForgetLocalPath(unit)
	o.units[unit].state = Unrequested
	cerr := delivery.NewConsistencyError(unit, path)
	o.logger.Warn("recorded local path missing; unit reverted to unrequested",
		"unit", unit,
		"path", path,
		"event", "unit_evicted",
	)
	return o.transitionLocked(unit, Unrequested, "", cerr.Error())
}

func (o *Orchestrator) stateLocked(unit string) *unitState {
	st, ok := o.units[unit]
	if !ok {
		st = &unitState{state: Unrequested}
		o.units[unit] = st
	}
	return st
}

func (o *Orchestrator) transitionLocked(unit string, s State, path, msg string) Transition {
	return Transition{
		Seq:       o.seq.Next(),
		RequestID: o.units[unit].requestID,
		Unit:      unit,
		State:     s,
		LocalPath: path,
		Message:   msg,
		At:        time.Now().UTC(),
	}
}

func (o *Orchestrator) record(ctx context.Context, ts []Transition) {
	if o.journal == nil {
		return
	}
	for _, t := range ts {
		if err := o.journal.RecordTransition(ctx, t); err != nil {
			o.logger.Warn("journal write failed", "unit", t.Unit, "seq", t.Seq, "error", err)
		}
	}
}

func removeUnit(units []string, unit string) []string {
	out := units[:0]
	for _, u := range units {
		if u != unit {
			out = append(out, u)
		}
	}
	return out
}

func closedError(unit string) *delivery.Error {
	return delivery.NewDeliveryError(delivery.ErrCodePlatformUnavailable, unit, "delivery session closed")
}
