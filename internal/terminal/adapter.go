package terminal

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"sterling-gateway/internal/events"
	"sterling-gateway/internal/ledger"
	"sterling-gateway/internal/position"
	"sterling-gateway/internal/session"
	"sterling-gateway/pkg/venue"
)

// Adapter is the sole owner of the automation interface handle. All calls
// into the terminal and all notifications from it pass through the Run
// goroutine; API workers hand mutations off through the command mailbox and
// only ever read ledger/position snapshots directly.
type Adapter struct {
	driver    Driver
	ledger    *ledger.Ledger
	positions *position.Store
	bus       *events.Bus
	sessions  *session.Store // optional idempotency store
	policy    *venue.Table   // optional venue route policy
	state     *ReadinessState

	defaultRoute string
	defaultTIF   string
	queryTimeout time.Duration

	cmds chan func()
	feed <-chan ledger.Event // nil until the driver is acquired
}

// Config carries the adapter's tunables.
type Config struct {
	DefaultRoute string
	DefaultTIF   string
	QueryTimeout time.Duration
	MailboxSize  int
}

func NewAdapter(drv Driver, led *ledger.Ledger, pos *position.Store, bus *events.Bus, cfg Config) *Adapter {
	if cfg.DefaultTIF == "" {
		cfg.DefaultTIF = "D"
	}
	if cfg.QueryTimeout <= 0 {
		cfg.QueryTimeout = 5 * time.Second
	}
	if cfg.MailboxSize <= 0 {
		cfg.MailboxSize = 64
	}
	return &Adapter{
		driver:       drv,
		ledger:       led,
		positions:    pos,
		bus:          bus,
		state:        NewReadinessState(),
		defaultRoute: cfg.DefaultRoute,
		defaultTIF:   cfg.DefaultTIF,
		queryTimeout: cfg.QueryTimeout,
		cmds:         make(chan func(), cfg.MailboxSize),
	}
}

// SetSessionStore wires the idempotency store for submit replays.
func (a *Adapter) SetSessionStore(s *session.Store) { a.sessions = s }

// SetVenuePolicy wires the per-route market-order policy table.
func (a *Adapter) SetVenuePolicy(t *venue.Table) { a.policy = t }

// Ready reports whether the automation interface has been acquired.
func (a *Adapter) Ready() bool { return a.state.Ready() }

// State exposes the readiness flag for handlers.
func (a *Adapter) State() *ReadinessState { return a.state }

// Run drives the automation goroutine: it executes handed-off commands and
// applies terminal events until ctx is cancelled. Exactly one Run per
// adapter.
func (a *Adapter) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			if a.state.Ready() {
				_ = a.driver.Close()
			}
			return
		case cmd := <-a.cmds:
			cmd()
		case ev, ok := <-a.feed:
			if !ok {
				a.feed = nil
				continue
			}
			a.handleEvent(ev)
		}
	}
}

// do runs fn on the automation goroutine and waits for it to finish, or for
// ctx. The wait covers only the hand-off and the immediate call result,
// never a terminal-state outcome.
func (a *Adapter) do(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	select {
	case a.cmds <- func() { defer close(done); fn() }:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Acquire opens the driver on the automation goroutine and flips the
// readiness flag on success.
func (a *Adapter) Acquire(ctx context.Context) error {
	var err error
	if doErr := a.do(ctx, func() {
		if a.state.Ready() {
			return
		}
		if err = a.driver.Open(ctx); err != nil {
			return
		}
		a.feed = a.driver.Events()
		a.state.markReady()
		if a.bus != nil {
			a.bus.Publish(events.EventTerminalReady, time.Now())
		}
	}); doErr != nil {
		return doErr
	}
	return err
}

// SubmitKey pairs an order request with an optional idempotency key.
type SubmitKey struct {
	Request        SubmitRequest
	IdempotencyKey string
}

// Submit validates and forwards an order to the terminal, registers it in
// the ledger under the terminal-assigned id, and returns that id. It blocks
// only until the terminal acks or rejects the call, not until the order
// reaches a terminal state.
func (a *Adapter) Submit(ctx context.Context, sk SubmitKey) (string, error) {
	req := sk.Request
	if err := validateSubmit(&req); err != nil {
		return "", err
	}
	if !a.state.Ready() {
		return "", ErrTerminalUnavailable
	}

	if sk.IdempotencyKey != "" && a.sessions != nil {
		if prev, err := a.sessions.Lookup(ctx, sk.IdempotencyKey); err != nil {
			log.Printf("adapter: idempotency lookup failed: %v", err)
		} else if prev != "" {
			log.Printf("adapter: idempotent replay of key %s -> order %s", sk.IdempotencyKey, prev)
			return prev, nil
		}
	}

	if req.Route == "" {
		req.Route = a.defaultRoute
	}
	if req.TimeInForce == "" {
		req.TimeInForce = a.defaultTIF
	}
	if req.Display == 0 {
		req.Display = req.Qty
	}

	var (
		orderID string
		opErr   error
	)
	if err := a.do(ctx, func() {
		orderID, opErr = a.submitLocked(ctx, req)
	}); err != nil {
		return "", err
	}
	if opErr != nil {
		return "", opErr
	}

	if sk.IdempotencyKey != "" && a.sessions != nil {
		if err := a.sessions.Remember(ctx, sk.IdempotencyKey, orderID); err != nil {
			log.Printf("adapter: idempotency store failed: %v", err)
		}
	}
	return orderID, nil
}

// submitLocked runs on the automation goroutine.
func (a *Adapter) submitLocked(ctx context.Context, req SubmitRequest) (string, error) {
	if !a.state.Ready() {
		return "", ErrTerminalUnavailable
	}

	if req.Type == ledger.TypeMarket {
		req.Route, req.Price = a.policy.ApplyMarket(req.Route, req.Price)
	}

	localID := uuid.NewString()
	req.ClientID = localID

	res, err := a.driver.SubmitOrder(ctx, req)
	if err != nil {
		log.Printf("adapter: submit %s %s %d %s failed: %v", req.Side, req.Symbol, req.Qty, req.Account, err)
		return "", &CallError{Op: "submit", Reason: err.Error()}
	}

	orderID := res.OrderID
	if orderID == "" {
		// asynchronous-only terminals confirm later; correlate on the local id
		orderID = localID
	}

	ord := ledger.Order{
		ID:          orderID,
		Account:     req.Account,
		Symbol:      req.Symbol,
		Side:        req.Side,
		Type:        req.Type,
		Qty:         req.Qty,
		Display:     req.Display,
		Route:       req.Route,
		Price:       req.Price,
		TimeInForce: req.TimeInForce,
		Status:      ledger.StatusSubmitted,
		Fills:       []ledger.Fill{},
	}
	if err := a.ledger.Register(ord); err != nil {
		return "", err
	}
	log.Printf("adapter: submitted %s %s x%d as %s (route=%s)", req.Side, req.Symbol, req.Qty, orderID, req.Route)
	a.publishOrder(orderID)
	return orderID, nil
}

// Cancel requests cancellation of a live order. The order stays in
// PENDING_CANCEL until the terminal confirms.
func (a *Adapter) Cancel(ctx context.Context, account, orderID string) error {
	ord, err := a.ledger.Get(orderID)
	if err != nil {
		return err
	}
	if account != "" && ord.Account != account {
		return ledger.ErrOrderNotFound
	}
	if ord.Status.Terminal() {
		return ledger.ErrOrderTerminal
	}
	if !a.state.Ready() {
		return ErrTerminalUnavailable
	}

	var opErr error
	if err := a.do(ctx, func() {
		opErr = a.cancelLocked(ctx, ord.Account, orderID)
	}); err != nil {
		return err
	}
	return opErr
}

// cancelLocked runs on the automation goroutine.
func (a *Adapter) cancelLocked(ctx context.Context, account, orderID string) error {
	// the order may have gone terminal while the command was queued
	ord, err := a.ledger.Get(orderID)
	if err != nil {
		return err
	}
	if ord.Status.Terminal() {
		return ledger.ErrOrderTerminal
	}

	if err := a.driver.CancelOrder(ctx, account, orderID); err != nil {
		log.Printf("adapter: cancel %s failed: %v", orderID, err)
		return &CallError{Op: "cancel", Reason: err.Error()}
	}
	if err := a.ledger.MarkPendingCancel(orderID); err != nil {
		return err
	}
	log.Printf("adapter: cancel requested for %s", orderID)
	a.publishOrder(orderID)
	return nil
}

// QueryPosition pulls a fresh snapshot from the terminal and updates the
// position store. It blocks until the terminal answers or the query bound
// elapses.
func (a *Adapter) QueryPosition(ctx context.Context, account, symbol string) (position.Position, error) {
	if account == "" || symbol == "" {
		return position.Position{}, &ValidationError{Field: "account/symbol", Msg: "must not be empty"}
	}
	if !a.state.Ready() {
		return position.Position{}, ErrTerminalUnavailable
	}

	var (
		pos   position.Position
		opErr error
	)
	if err := a.do(ctx, func() {
		qctx, cancel := context.WithTimeout(ctx, a.queryTimeout)
		defer cancel()

		snap, err := a.driver.QueryPosition(qctx, account, symbol)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				opErr = ErrTimeout
			} else {
				opErr = &CallError{Op: "query_position", Reason: err.Error()}
			}
			return
		}
		pos = a.positions.Set(snap.Account, snap.Symbol, snap.Qty, snap.AvgPrice)
		if a.bus != nil {
			a.bus.Publish(events.EventPositionChange, pos)
		}
	}); err != nil {
		return position.Position{}, err
	}
	return pos, opErr
}

// ListAccounts asks the terminal for the accounts registered in the session.
func (a *Adapter) ListAccounts(ctx context.Context) ([]string, error) {
	if !a.state.Ready() {
		return nil, ErrTerminalUnavailable
	}

	var (
		accounts []string
		opErr    error
	)
	if err := a.do(ctx, func() {
		qctx, cancel := context.WithTimeout(ctx, a.queryTimeout)
		defer cancel()

		accounts, opErr = a.driver.ListAccounts(qctx)
		if opErr != nil {
			if errors.Is(opErr, context.DeadlineExceeded) {
				opErr = ErrTimeout
			} else {
				opErr = &CallError{Op: "list_accounts", Reason: opErr.Error()}
			}
		}
	}); err != nil {
		return nil, err
	}
	return accounts, opErr
}

// handleEvent runs on the automation goroutine.
func (a *Adapter) handleEvent(ev ledger.Event) {
	ord, applied := a.ledger.Apply(ev)
	if !applied {
		return
	}
	if a.bus != nil {
		a.bus.Publish(events.EventOrderUpdate, ord)
	}
	if ev.Kind == ledger.EventPartialFill || ev.Kind == ledger.EventFill {
		pos := a.positions.ApplyFill(ord.Account, ord.Symbol, ord.Side, ev.Qty, ev.Price)
		if a.bus != nil {
			a.bus.Publish(events.EventPositionChange, pos)
		}
	}
}

func (a *Adapter) publishOrder(orderID string) {
	if a.bus == nil {
		return
	}
	if ord, err := a.ledger.Get(orderID); err == nil {
		a.bus.Publish(events.EventOrderUpdate, ord)
	}
}

func validateSubmit(req *SubmitRequest) error {
	req.Account = strings.TrimSpace(req.Account)
	req.Symbol = strings.ToUpper(strings.TrimSpace(req.Symbol))
	if req.Account == "" {
		return &ValidationError{Field: "account", Msg: "must not be empty"}
	}
	if req.Symbol == "" {
		return &ValidationError{Field: "symbol", Msg: "must not be empty"}
	}
	if req.Qty <= 0 {
		return &ValidationError{Field: "ord_size", Msg: "must be a positive integer"}
	}
	if req.Display < 0 || req.Display > req.Qty {
		return &ValidationError{Field: "ord_disp", Msg: "must be between 0 and ord_size"}
	}
	switch req.Side {
	case ledger.SideBuy, ledger.SideSell:
	default:
		return &ValidationError{Field: "ord_side", Msg: "must be BUY or SELL"}
	}
	switch req.Type {
	case ledger.TypeLimit:
		if req.Price <= 0 {
			return &ValidationError{Field: "ord_price", Msg: "limit orders require a positive price"}
		}
	case ledger.TypeMarket:
		// price is ignored; venue policy may inject a synthetic one
	default:
		return &ValidationError{Field: "type", Msg: "must be LIMIT or MARKET"}
	}
	return nil
}
