package ledger

import (
	"errors"
	"testing"
	"time"
)

func newLimitOrder(id string, qty int64) Order {
	return Order{
		ID:          id,
		Account:     "ACC1",
		Symbol:      "AAPL",
		Side:        SideBuy,
		Type:        TypeLimit,
		Qty:         qty,
		Display:     qty,
		Route:       "DEFAULT",
		Price:       255.00,
		TimeInForce: "D",
		Status:      StatusSubmitted,
		Fills:       []Fill{},
	}
}

func TestRegisterDuplicateID(t *testing.T) {
	l := New()
	if err := l.Register(newLimitOrder("X1", 10)); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := l.Register(newLimitOrder("X1", 5)); !errors.Is(err, ErrDuplicateOrderID) {
		t.Fatalf("expected ErrDuplicateOrderID, got %v", err)
	}
}

func TestGetUnknownOrder(t *testing.T) {
	l := New()
	if _, err := l.Get("nope"); !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("expected ErrOrderNotFound, got %v", err)
	}
}

func TestLifecycleLimitFill(t *testing.T) {
	l := New()
	if err := l.Register(newLimitOrder("X1", 10)); err != nil {
		t.Fatalf("register: %v", err)
	}

	steps := []struct {
		ev     Event
		status Status
		filled int64
	}{
		{Event{Kind: EventAcknowledged, OrderID: "X1"}, StatusWorking, 0},
		{Event{Kind: EventPartialFill, OrderID: "X1", Qty: 4, Price: 255.00}, StatusPartiallyFilled, 4},
		{Event{Kind: EventFill, OrderID: "X1", Qty: 6, Price: 255.00}, StatusFilled, 10},
	}
	for i, step := range steps {
		ord, applied := l.Apply(step.ev)
		if !applied {
			t.Fatalf("step %d: event %s not applied", i, step.ev.Kind)
		}
		if ord.Status != step.status {
			t.Fatalf("step %d: status = %s, want %s", i, ord.Status, step.status)
		}
		if ord.FilledQty != step.filled {
			t.Fatalf("step %d: filled = %d, want %d", i, ord.FilledQty, step.filled)
		}
	}

	ord, _ := l.Get("X1")
	if len(ord.Fills) != 2 {
		t.Fatalf("fills = %d, want 2", len(ord.Fills))
	}
}

func TestNoSkipFromSubmittedToFilledFill(t *testing.T) {
	// a fill before the ack still yields a valid path: the order must not
	// jump straight past Working semantics, but the fill itself is applied
	l := New()
	_ = l.Register(newLimitOrder("X1", 10))

	ord, applied := l.Apply(Event{Kind: EventPartialFill, OrderID: "X1", Qty: 4, Price: 255})
	if !applied || ord.Status != StatusPartiallyFilled {
		t.Fatalf("partial fill from SUBMITTED: applied=%v status=%s", applied, ord.Status)
	}
}

func TestFillNeverExceedsSize(t *testing.T) {
	l := New()
	_ = l.Register(newLimitOrder("X1", 10))
	l.Apply(Event{Kind: EventAcknowledged, OrderID: "X1"})
	l.Apply(Event{Kind: EventPartialFill, OrderID: "X1", Qty: 8, Price: 255})

	ord, applied := l.Apply(Event{Kind: EventFill, OrderID: "X1", Qty: 5, Price: 255})
	if applied {
		t.Fatalf("oversized fill must be discarded")
	}
	if ord.FilledQty != 8 {
		t.Fatalf("filled = %d, want 8", ord.FilledQty)
	}

	ord, applied = l.Apply(Event{Kind: EventFill, OrderID: "X1", Qty: 2, Price: 255})
	if !applied || ord.Status != StatusFilled || ord.FilledQty != 10 {
		t.Fatalf("exact completing fill: applied=%v status=%s filled=%d", applied, ord.Status, ord.FilledQty)
	}
}

func TestTerminalOrderFreezes(t *testing.T) {
	l := New()
	_ = l.Register(newLimitOrder("X1", 10))
	l.Apply(Event{Kind: EventAcknowledged, OrderID: "X1"})
	l.Apply(Event{Kind: EventFill, OrderID: "X1", Qty: 10, Price: 255})

	before, _ := l.Get("X1")
	for _, kind := range []EventKind{EventFill, EventAcknowledged, EventCancelled, EventRejected} {
		ord, applied := l.Apply(Event{Kind: kind, OrderID: "X1", Qty: 1, Price: 255})
		if applied {
			t.Fatalf("event %s applied to terminal order", kind)
		}
		if ord.Status != before.Status || ord.FilledQty != before.FilledQty {
			t.Fatalf("terminal order mutated by %s", kind)
		}
	}
}

func TestEventReplayIsIdempotent(t *testing.T) {
	l := New()
	_ = l.Register(newLimitOrder("X1", 10))
	l.Apply(Event{Kind: EventAcknowledged, OrderID: "X1"})

	// replaying the ack changes nothing
	ord, applied := l.Apply(Event{Kind: EventAcknowledged, OrderID: "X1"})
	if applied {
		t.Fatalf("replayed ack should be a no-op")
	}
	if ord.Status != StatusWorking {
		t.Fatalf("status = %s, want WORKING", ord.Status)
	}
}

func TestCancelFlow(t *testing.T) {
	l := New()
	_ = l.Register(newLimitOrder("X1", 10))
	l.Apply(Event{Kind: EventAcknowledged, OrderID: "X1"})

	if err := l.MarkPendingCancel("X1"); err != nil {
		t.Fatalf("mark pending cancel: %v", err)
	}
	ord, _ := l.Get("X1")
	if ord.Status != StatusPendingCancel {
		t.Fatalf("status = %s, want PENDING_CANCEL", ord.Status)
	}

	ord, applied := l.Apply(Event{Kind: EventCancelled, OrderID: "X1"})
	if !applied || ord.Status != StatusCancelled {
		t.Fatalf("cancelled: applied=%v status=%s", applied, ord.Status)
	}

	if err := l.MarkPendingCancel("X1"); !errors.Is(err, ErrOrderTerminal) {
		t.Fatalf("expected ErrOrderTerminal, got %v", err)
	}
}

func TestCancelRejectedRestoresLiveState(t *testing.T) {
	l := New()
	_ = l.Register(newLimitOrder("X1", 10))
	l.Apply(Event{Kind: EventAcknowledged, OrderID: "X1"})
	l.Apply(Event{Kind: EventPartialFill, OrderID: "X1", Qty: 3, Price: 255})
	_ = l.MarkPendingCancel("X1")

	ord, applied := l.Apply(Event{Kind: EventCancelRejected, OrderID: "X1"})
	if !applied || ord.Status != StatusPartiallyFilled {
		t.Fatalf("cancel rejected: applied=%v status=%s", applied, ord.Status)
	}
}

func TestFillWhilePendingCancel(t *testing.T) {
	l := New()
	_ = l.Register(newLimitOrder("X1", 10))
	l.Apply(Event{Kind: EventAcknowledged, OrderID: "X1"})
	_ = l.MarkPendingCancel("X1")

	ord, applied := l.Apply(Event{Kind: EventPartialFill, OrderID: "X1", Qty: 2, Price: 255})
	if !applied {
		t.Fatalf("fill while pending cancel must still be recorded")
	}
	if ord.Status != StatusPendingCancel {
		t.Fatalf("status = %s, want PENDING_CANCEL", ord.Status)
	}
	if ord.FilledQty != 2 {
		t.Fatalf("filled = %d, want 2", ord.FilledQty)
	}
}

func TestRejectedFromAnyLiveState(t *testing.T) {
	l := New()
	_ = l.Register(newLimitOrder("X1", 10))

	ord, applied := l.Apply(Event{Kind: EventRejected, OrderID: "X1", Reason: "route closed"})
	if !applied || ord.Status != StatusRejected {
		t.Fatalf("rejected: applied=%v status=%s", applied, ord.Status)
	}
	if ord.Reason != "route closed" {
		t.Fatalf("reason = %q", ord.Reason)
	}
}

func TestUnknownOrderEventDropped(t *testing.T) {
	l := New()
	if _, applied := l.Apply(Event{Kind: EventFill, OrderID: "ghost", Qty: 1}); applied {
		t.Fatalf("event for unknown order must be dropped")
	}
}

func TestListOpenOrdering(t *testing.T) {
	l := New()
	base := time.Now()

	for i, id := range []string{"C", "A", "B"} {
		o := newLimitOrder(id, 10)
		o.CreatedAt = base.Add(time.Duration(i) * time.Second)
		if err := l.Register(o); err != nil {
			t.Fatalf("register %s: %v", id, err)
		}
	}
	// fill one so it drops out of the open set
	l.Apply(Event{Kind: EventAcknowledged, OrderID: "A"})
	l.Apply(Event{Kind: EventFill, OrderID: "A", Qty: 10, Price: 255})

	open := l.ListOpen()
	if len(open) != 2 {
		t.Fatalf("open = %d, want 2", len(open))
	}
	if open[0].ID != "C" || open[1].ID != "B" {
		t.Fatalf("open order ids = %s,%s; want C,B (created_at asc)", open[0].ID, open[1].ID)
	}
}

func TestSnapshotIsolation(t *testing.T) {
	l := New()
	_ = l.Register(newLimitOrder("X1", 10))
	l.Apply(Event{Kind: EventAcknowledged, OrderID: "X1"})
	l.Apply(Event{Kind: EventPartialFill, OrderID: "X1", Qty: 4, Price: 255})

	snap, _ := l.Get("X1")
	snap.Fills[0].Qty = 999
	snap.Status = StatusRejected

	ord, _ := l.Get("X1")
	if ord.Fills[0].Qty != 4 || ord.Status != StatusPartiallyFilled {
		t.Fatalf("ledger state aliased by snapshot mutation")
	}
}
