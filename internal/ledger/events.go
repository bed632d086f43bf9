package ledger

import "time"

// EventKind enumerates the terminal's asynchronous order notifications.
type EventKind string

const (
	EventAcknowledged   EventKind = "ACKNOWLEDGED"
	EventPartialFill    EventKind = "PARTIAL_FILL"
	EventFill           EventKind = "FILL"
	EventCancelled      EventKind = "CANCELLED"
	EventRejected       EventKind = "REJECTED"
	EventCancelRejected EventKind = "CANCEL_REJECTED"
)

// Event is one asynchronous notification from the terminal, correlated to an
// order strictly by OrderID.
type Event struct {
	Kind    EventKind
	OrderID string
	Qty     int64   // fill events
	Price   float64 // fill events
	Reason  string  // reject events
	At      time.Time
}
