// Package terminal owns the trading terminal's automation interface: the
// typed call surface, the asynchronous event feed, the readiness supervisor,
// and the single-goroutine adapter that serializes all access to it.
package terminal

import (
	"context"
	"errors"
	"fmt"

	"sterling-gateway/internal/ledger"
)

var (
	// ErrTerminalUnavailable is returned while the automation interface has
	// not been acquired; callers should back off and retry later.
	ErrTerminalUnavailable = errors.New("terminal unavailable")

	// ErrTimeout is returned when a synchronous terminal query exceeded its
	// bound.
	ErrTimeout = errors.New("terminal query timed out")
)

// ValidationError reports a malformed order request. Never retried.
type ValidationError struct {
	Field string
	Msg   string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Msg)
}

// CallError reports that the terminal rejected an automation call, carrying
// the terminal's reason.
type CallError struct {
	Op     string
	Reason string
}

func (e *CallError) Error() string {
	return fmt.Sprintf("terminal %s failed: %s", e.Op, e.Reason)
}

// SubmitRequest is the normalized order intent handed to a driver.
type SubmitRequest struct {
	Account     string
	Symbol      string
	Side        ledger.Side
	Type        ledger.OrderType
	Qty         int64
	Display     int64
	Price       float64 // limit only
	Route       string
	TimeInForce string
	ClientID    string // local id, echoed by bridges that support it
}

// SubmitResult is the terminal's synchronous ack for a submit call.
type SubmitResult struct {
	OrderID string
	Status  string
}

// PositionSnapshot is the terminal's answer to a position query.
type PositionSnapshot struct {
	Account  string
	Symbol   string
	Qty      int64
	AvgPrice float64
}

// Driver is the vendor automation surface. Implementations are not safe for
// concurrent use; the Adapter serializes every call onto one goroutine.
type Driver interface {
	// Open acquires the automation interface. It may be retried until it
	// succeeds; the readiness supervisor bounds the overall wait.
	Open(ctx context.Context) error
	Close() error

	SubmitOrder(ctx context.Context, req SubmitRequest) (SubmitResult, error)
	CancelOrder(ctx context.Context, account, orderID string) error
	QueryPosition(ctx context.Context, account, symbol string) (PositionSnapshot, error)
	ListAccounts(ctx context.Context) ([]string, error)

	// Events exposes the terminal's asynchronous notification feed. Valid
	// after a successful Open; closed when the driver shuts down.
	Events() <-chan ledger.Event
}
