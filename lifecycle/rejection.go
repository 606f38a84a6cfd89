package lifecycle

import (
	"errors"
	"fmt"

	"github.com/josuehernandeztapia/conductores-delivery/statusgraph"
)

// RejectionKind classifies why a requested operation was refused. Rejections
// are expected, recoverable conditions the caller surfaces to the user; they
// are not internal failures.
type RejectionKind string

const (
	// NoSuchTransition: the event is not legal from the current status.
	NoSuchTransition RejectionKind = "NO_SUCH_TRANSITION"
	// RoleNotPermitted: the edge exists but the actor's role may not apply
	// it. The authoritative role check lives at the API boundary; this one
	// makes sure the core still refuses on its own.
	RoleNotPermitted RejectionKind = "ROLE_NOT_PERMITTED"
	// ValidationRejection: the request itself is malformed.
	ValidationRejection RejectionKind = "VALIDATION"
	// ConcurrencyConflict: another transition won the race on this delivery.
	// Safe to retry after re-reading the current status.
	ConcurrencyConflict RejectionKind = "CONCURRENCY_CONFLICT"
)

// Rejection is the typed refusal returned by the lifecycle service. It always
// names the attempted event, the status it was attempted from, and the events
// that are currently legal, so the caller can self-correct.
type Rejection struct {
	Kind        RejectionKind
	Event       statusgraph.DeliveryEvent
	Status      statusgraph.DeliveryStatus
	LegalEvents []statusgraph.DeliveryEvent
	Message     string
}

func (r *Rejection) Error() string {
	return fmt.Sprintf("%s: %s", r.Kind, r.Message)
}

// Retryable reports whether the caller may safely retry the same request
// after re-reading current state.
func (r *Rejection) Retryable() bool {
	return r.Kind == ConcurrencyConflict
}

// AsRejection unwraps err into a *Rejection, if it is one.
func AsRejection(err error) (*Rejection, bool) {
	var rej *Rejection
	if errors.As(err, &rej) {
		return rej, true
	}
	return nil, false
}

func reject(kind RejectionKind, event statusgraph.DeliveryEvent, status statusgraph.DeliveryStatus, format string, args ...any) *Rejection {
	return &Rejection{
		Kind:        kind,
		Event:       event,
		Status:      status,
		LegalEvents: statusgraph.LegalEvents(status),
		Message:     fmt.Sprintf(format, args...),
	}
}
