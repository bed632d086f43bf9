package ledger

import (
	"errors"
	"sort"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

var (
	ErrOrderNotFound    = errors.New("order not found")
	ErrDuplicateOrderID = errors.New("duplicate order id")
	ErrOrderTerminal    = errors.New("order already terminal")
)

// Ledger is the in-memory source of truth for orders and their fills.
//
// The automation goroutine is the only writer; API workers read snapshots
// under the read lock. Nothing is persisted: a restart empties the ledger.
type Ledger struct {
	mu     sync.RWMutex
	orders map[string]*Order
}

func New() *Ledger {
	return &Ledger{orders: make(map[string]*Order)}
}

// Register adds a new order under its assigned id. The id never changes
// afterwards. Returns ErrDuplicateOrderID if the id is already taken.
func (l *Ledger) Register(o Order) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, exists := l.orders[o.ID]; exists {
		return ErrDuplicateOrderID
	}
	now := time.Now()
	if o.CreatedAt.IsZero() {
		o.CreatedAt = now
	}
	o.UpdatedAt = now
	cp := o
	l.orders[o.ID] = &cp
	return nil
}

// MarkPendingCancel moves a live order into PENDING_CANCEL after a cancel
// call was accepted by the terminal.
func (l *Ledger) MarkPendingCancel(orderID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	o, ok := l.orders[orderID]
	if !ok {
		return ErrOrderNotFound
	}
	if o.Status.Terminal() {
		return ErrOrderTerminal
	}
	o.Status = StatusPendingCancel
	o.UpdatedAt = time.Now()
	return nil
}

// Apply applies one terminal event to the ledger and returns the updated
// order snapshot. Late or duplicate events for terminal orders, events for
// unknown orders, and transitions the state machine does not allow are
// logged and discarded; applied reports whether state changed.
func (l *Ledger) Apply(ev Event) (Order, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	o, ok := l.orders[ev.OrderID]
	if !ok {
		log.Printf("ledger: event %s for unknown order %s dropped", ev.Kind, ev.OrderID)
		return Order{}, false
	}
	if o.Status.Terminal() {
		log.Printf("ledger: event %s for terminal order %s (%s) dropped", ev.Kind, o.ID, o.Status)
		return snapshot(o), false
	}

	applied := false
	switch ev.Kind {
	case EventAcknowledged:
		if o.Status == StatusSubmitted {
			o.Status = StatusWorking
			applied = true
		}
	case EventPartialFill, EventFill:
		applied = l.applyFill(o, ev)
	case EventCancelled:
		if o.Status == StatusPendingCancel {
			o.Status = StatusCancelled
			o.Reason = ev.Reason
			applied = true
		}
	case EventCancelRejected:
		if o.Status == StatusPendingCancel {
			if o.FilledQty > 0 {
				o.Status = StatusPartiallyFilled
			} else {
				o.Status = StatusWorking
			}
			applied = true
		}
	case EventRejected:
		o.Status = StatusRejected
		o.Reason = ev.Reason
		applied = true
	default:
		log.Printf("ledger: unknown event kind %q for order %s", ev.Kind, o.ID)
	}

	if !applied {
		log.Printf("ledger: event %s not applicable to order %s in %s, dropped", ev.Kind, o.ID, o.Status)
		return snapshot(o), false
	}
	o.UpdatedAt = ev.At
	if o.UpdatedAt.IsZero() {
		o.UpdatedAt = time.Now()
	}
	return snapshot(o), true
}

// applyFill appends a fill, enforcing that cumulative quantity never exceeds
// the requested size. Caller holds the write lock.
func (l *Ledger) applyFill(o *Order, ev Event) bool {
	if ev.Qty <= 0 {
		return false
	}
	if o.FilledQty+ev.Qty > o.Qty {
		log.Printf("ledger: fill of %d would exceed size %d on order %s, dropped", ev.Qty, o.Qty, o.ID)
		return false
	}
	at := ev.At
	if at.IsZero() {
		at = time.Now()
	}
	o.Fills = append(o.Fills, Fill{Qty: ev.Qty, Price: ev.Price, At: at})
	o.FilledQty += ev.Qty

	switch {
	case o.IsFullyFilled():
		o.Status = StatusFilled
	case o.Status == StatusPendingCancel:
		// keep waiting for the cancel verdict; the fill is still recorded
	default:
		o.Status = StatusPartiallyFilled
	}
	return true
}

// Get returns a snapshot of one order.
func (l *Ledger) Get(orderID string) (Order, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	o, ok := l.orders[orderID]
	if !ok {
		return Order{}, ErrOrderNotFound
	}
	return snapshot(o), nil
}

// ListOpen returns all live orders ordered by creation time ascending.
func (l *Ledger) ListOpen() []Order {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]Order, 0, len(l.orders))
	for _, o := range l.orders {
		if o.Status.Open() {
			out = append(out, snapshot(o))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// snapshot deep-copies an order so readers never alias ledger state.
func snapshot(o *Order) Order {
	cp := *o
	cp.Fills = make([]Fill, len(o.Fills))
	copy(cp.Fills, o.Fills)
	return cp
}
