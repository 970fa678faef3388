// Package platform defines the runtime download interface the host platform
// offers for delivery units, and the status vocabulary it reports in.
package platform

import "context"

// Status is a unit's transfer status as reported by the platform.
type Status int

const (
	StatusPending Status = iota
	StatusDownloading
	StatusTransferring
	StatusWaitingForNetworkPermission
	StatusCompleted
	StatusFailed
	// StatusUnavailable means the platform does not know the unit.
	StatusUnavailable
	StatusCanceled
)

var statusNames = [...]string{
	StatusPending:                     "Pending",
	StatusDownloading:                 "Downloading",
	StatusTransferring:                "Transferring",
	StatusWaitingForNetworkPermission: "WaitingForNetworkPermission",
	StatusCompleted:                   "Completed",
	StatusFailed:                      "Failed",
	StatusUnavailable:                 "Unavailable",
	StatusCanceled:                    "Canceled",
}

func (s Status) String() string {
	if s < 0 || int(s) >= len(statusNames) {
		return "Status(?)"
	}
	return statusNames[s]
}

// Terminal reports whether no further status follows s for this request.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusUnavailable, StatusCanceled:
		return true
	}
	return false
}

// StatusEvent is one entry of a unit's status stream.
type StatusEvent struct {
	Unit   string
	Status Status

	BytesDownloaded int64
	TotalBytes      int64

	// Err carries the platform's reason for a Failed status.
	Err error
}

// Sink receives status events. Implementations of Platform may call it
// from any goroutine, including synchronously from RequestDownload.
type Sink func(StatusEvent)

// Platform is the host platform's delivery unit download service.
type Platform interface {
	// RequestDownload starts transfers for units and reports their progress
	// to sink until each reaches a terminal status. An error means the
	// platform could not accept the request at all.
	RequestDownload(ctx context.Context, units []string, sink Sink) error

	// LocalPathFor returns the directory a completed unit was placed in.
	LocalPathFor(unit string) (string, bool)

	// RequestNetworkPermission asks the user to allow downloads over the
	// current network. Transfers parked in WaitingForNetworkPermission
	// resume if it is granted.
	RequestNetworkPermission(ctx context.Context) (bool, error)
}
