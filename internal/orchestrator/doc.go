// Package orchestrator runs the runtime download state machine for delivery
// units.
//
// Each unit moves through:
//
//	Unrequested -> Queued -> Downloading -> Ready | Failed
//
// A lookup miss for a bundle whose unit is Unrequested (or Failed) queues
// the unit and returns a pending Handle. Further misses for the same unit
// while it is Queued or Downloading join the existing waiters, so there is
// exactly one platform download per unit at a time.
//
// A dispatch cycle (Tick) first applies status events reported by the
// platform, then issues every queued unit in one RequestDownload batch.
// Only one cycle runs at a time; a Tick attempted while another is active
// returns immediately. Run drives Tick on an interval; Handle.Wait drives
// it from the waiting goroutine, so a synchronous wait makes progress
// without a Run loop.
//
// Failures are delivered to every waiter of the unit and are never retried.
// Downloads cannot be cancelled once queued: the context given to Wait only
// bounds how long the caller waits.
//
// The orchestrator is the only writer of the runtime delivery index.
package orchestrator
