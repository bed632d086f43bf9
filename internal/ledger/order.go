package ledger

import "time"

// Status tracks an order through its lifecycle.
type Status string

const (
	StatusCreated         Status = "CREATED"
	StatusSubmitted       Status = "SUBMITTED"
	StatusWorking         Status = "WORKING"
	StatusPartiallyFilled Status = "PARTIALLY_FILLED"
	StatusPendingCancel   Status = "PENDING_CANCEL"
	StatusFilled          Status = "FILLED"
	StatusCancelled       Status = "CANCELLED"
	StatusRejected        Status = "REJECTED"
)

// Terminal reports whether no further transitions apply.
func (s Status) Terminal() bool {
	switch s {
	case StatusFilled, StatusCancelled, StatusRejected:
		return true
	}
	return false
}

// Open reports whether the order is still live at the terminal.
func (s Status) Open() bool {
	switch s {
	case StatusSubmitted, StatusWorking, StatusPartiallyFilled, StatusPendingCancel:
		return true
	}
	return false
}

// Side denotes order side.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// OrderType denotes the supported order types.
type OrderType string

const (
	TypeLimit  OrderType = "LIMIT"
	TypeMarket OrderType = "MARKET"
)

// Fill is one execution against an order. Appended, never edited.
type Fill struct {
	Qty   int64     `json:"qty"`
	Price float64   `json:"price"`
	At    time.Time `json:"at"`
}

// Order is the ledger's record of one order sent to the terminal.
type Order struct {
	ID          string    `json:"order_id"`
	Account     string    `json:"account"`
	Symbol      string    `json:"symbol"`
	Side        Side      `json:"side"`
	Type        OrderType `json:"type"`
	Qty         int64     `json:"qty"`
	Display     int64     `json:"display"`
	Route       string    `json:"route"`
	Price       float64   `json:"price,omitempty"` // limit orders only
	TimeInForce string    `json:"tif"`
	Status      Status    `json:"status"`
	Reason      string    `json:"reason,omitempty"` // terminal reject/cancel detail
	FilledQty   int64     `json:"filled_qty"`
	Fills       []Fill    `json:"fills"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// RemainingQty returns the unfilled quantity.
func (o *Order) RemainingQty() int64 {
	return o.Qty - o.FilledQty
}

// IsFullyFilled reports whether cumulative fills reached the requested size.
func (o *Order) IsFullyFilled() bool {
	return o.FilledQty >= o.Qty
}
