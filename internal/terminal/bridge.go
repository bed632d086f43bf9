package terminal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"

	"sterling-gateway/internal/ledger"
)

// BridgeDriver reaches the terminal through the wrapper process's local
// websocket bridge. Calls are JSON request/reply frames matched by id;
// order notifications arrive as unsolicited event frames on the same
// connection.
//
// The Adapter serializes all calls, so only the read loop runs concurrently
// with them; connection access is still guarded because the keepalive ticker
// and the redial loop share the handle. A dropped connection is redialed in
// the background with backoff; calls made in between fail as CallError and
// in-flight waiters are failed immediately rather than left hanging.
type BridgeDriver struct {
	URL       string
	AuthToken string

	connMu  sync.Mutex
	conn    *websocket.Conn
	writeMu sync.Mutex
	events  chan ledger.Event
	stop    chan struct{}

	redialWait time.Duration

	pendingMu sync.Mutex
	pending   map[string]chan bridgeReply
}

type bridgeCall struct {
	ID     string          `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
}

type bridgeReply struct {
	ID     string          `json:"id"`
	OK     bool            `json:"ok"`
	Error  string          `json:"error,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
}

type bridgeEvent struct {
	Event   string  `json:"event"`
	OrderID string  `json:"order_id"`
	Qty     int64   `json:"qty,omitempty"`
	Price   float64 `json:"price,omitempty"`
	Reason  string  `json:"reason,omitempty"`
	TS      int64   `json:"ts,omitempty"` // unix millis
}

func NewBridgeDriver(url, authToken string) *BridgeDriver {
	return &BridgeDriver{URL: url, AuthToken: authToken, redialWait: time.Second}
}

// Open dials the bridge and starts the read loop. Fails while the wrapper
// is not listening yet; the readiness supervisor retries.
func (d *BridgeDriver) Open(ctx context.Context) error {
	if d.current() != nil {
		return nil
	}

	conn, err := d.dial(ctx)
	if err != nil {
		return err
	}

	d.events = make(chan ledger.Event, 256)
	d.stop = make(chan struct{})
	d.pending = make(map[string]chan bridgeReply)
	if d.redialWait <= 0 {
		d.redialWait = time.Second
	}
	d.setConn(conn)

	go d.readLoop(conn)
	go d.keepAlive()

	log.Printf("bridge: connected to %s", d.URL)
	return nil
}

func (d *BridgeDriver) dial(ctx context.Context) (*websocket.Conn, error) {
	header := http.Header{}
	if d.AuthToken != "" {
		header.Set("Authorization", "Bearer "+d.AuthToken)
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, d.URL, header)
	if err != nil {
		return nil, fmt.Errorf("dial bridge: %w", err)
	}
	return conn, nil
}

func (d *BridgeDriver) current() *websocket.Conn {
	d.connMu.Lock()
	defer d.connMu.Unlock()
	return d.conn
}

func (d *BridgeDriver) setConn(conn *websocket.Conn) {
	d.connMu.Lock()
	d.conn = conn
	d.connMu.Unlock()
}

func (d *BridgeDriver) Close() error {
	conn := d.current()
	if conn == nil {
		return nil
	}
	close(d.stop)
	err := conn.Close()
	d.setConn(nil)
	return err
}

func (d *BridgeDriver) Events() <-chan ledger.Event {
	return d.events
}

func (d *BridgeDriver) SubmitOrder(ctx context.Context, req SubmitRequest) (SubmitResult, error) {
	params := map[string]any{
		"account":   req.Account,
		"symbol":    req.Symbol,
		"side":      req.Side,
		"type":      req.Type,
		"qty":       req.Qty,
		"display":   req.Display,
		"price":     req.Price,
		"route":     req.Route,
		"tif":       req.TimeInForce,
		"client_id": req.ClientID,
	}
	var res struct {
		OrderID string `json:"order_id"`
		Status  string `json:"status"`
	}
	if err := d.call(ctx, "submit_order", params, &res); err != nil {
		return SubmitResult{}, err
	}
	return SubmitResult{OrderID: res.OrderID, Status: res.Status}, nil
}

func (d *BridgeDriver) CancelOrder(ctx context.Context, account, orderID string) error {
	params := map[string]any{"account": account, "order_id": orderID}
	return d.call(ctx, "cancel_order", params, nil)
}

func (d *BridgeDriver) QueryPosition(ctx context.Context, account, symbol string) (PositionSnapshot, error) {
	params := map[string]any{"account": account, "symbol": symbol}
	var res struct {
		Qty      int64   `json:"qty"`
		AvgPrice float64 `json:"avg_price"`
	}
	if err := d.call(ctx, "query_position", params, &res); err != nil {
		return PositionSnapshot{}, err
	}
	return PositionSnapshot{Account: account, Symbol: symbol, Qty: res.Qty, AvgPrice: res.AvgPrice}, nil
}

func (d *BridgeDriver) ListAccounts(ctx context.Context) ([]string, error) {
	var res struct {
		Accounts []string `json:"accounts"`
	}
	if err := d.call(ctx, "list_accounts", map[string]any{}, &res); err != nil {
		return nil, err
	}
	return res.Accounts, nil
}

// call sends one request frame and waits for the matching reply or ctx.
func (d *BridgeDriver) call(ctx context.Context, method string, params map[string]any, out any) error {
	conn := d.current()
	if conn == nil {
		return ErrTerminalUnavailable
	}

	raw, err := json.Marshal(params)
	if err != nil {
		return err
	}
	id := uuid.NewString()
	frame := bridgeCall{ID: id, Method: method, Params: raw}

	replyCh := make(chan bridgeReply, 1)
	d.pendingMu.Lock()
	d.pending[id] = replyCh
	d.pendingMu.Unlock()
	defer func() {
		d.pendingMu.Lock()
		delete(d.pending, id)
		d.pendingMu.Unlock()
	}()

	d.writeMu.Lock()
	err = conn.WriteJSON(frame)
	d.writeMu.Unlock()
	if err != nil {
		return fmt.Errorf("bridge write: %w", err)
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-d.stop:
		return ErrTerminalUnavailable
	case reply := <-replyCh:
		if !reply.OK {
			return errors.New(reply.Error)
		}
		if out != nil && len(reply.Result) > 0 {
			return json.Unmarshal(reply.Result, out)
		}
		return nil
	}
}

// readLoop drains one connection. On an unexpected drop it fails in-flight
// waiters and hands off to the redial loop; the event feed stays open across
// reconnects and closes only on shutdown.
func (d *BridgeDriver) readLoop(conn *websocket.Conn) {
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-d.stop:
				close(d.events)
			default:
				log.Printf("bridge: connection lost: %v", err)
				d.failPending("bridge connection lost")
				go d.redial()
			}
			return
		}
		d.handleFrame(msg)
	}
}

// failPending unblocks every caller waiting on the dropped connection.
func (d *BridgeDriver) failPending(reason string) {
	d.pendingMu.Lock()
	defer d.pendingMu.Unlock()
	for id, ch := range d.pending {
		ch <- bridgeReply{ID: id, OK: false, Error: reason}
		delete(d.pending, id)
	}
}

// redial re-establishes the bridge connection with capped backoff. Calls in
// between fail fast; order events resume once the wrapper is back.
func (d *BridgeDriver) redial() {
	wait := d.redialWait
	for {
		select {
		case <-d.stop:
			close(d.events)
			return
		case <-time.After(wait):
		}

		conn, err := d.dial(context.Background())
		if err != nil {
			log.Printf("bridge: redial failed: %v", err)
			if wait < 30*time.Second {
				wait *= 2
			}
			continue
		}
		d.setConn(conn)
		log.Printf("bridge: reconnected to %s", d.URL)
		go d.readLoop(conn)
		return
	}
}

func (d *BridgeDriver) handleFrame(msg []byte) {
	// reply frames carry an id, event frames an event name
	var head struct {
		ID    string `json:"id"`
		Event string `json:"event"`
	}
	if err := json.Unmarshal(msg, &head); err != nil {
		log.Printf("bridge: malformed frame: %v", err)
		return
	}

	if head.ID != "" {
		var reply bridgeReply
		if err := json.Unmarshal(msg, &reply); err != nil {
			log.Printf("bridge: malformed reply: %v", err)
			return
		}
		d.pendingMu.Lock()
		ch, ok := d.pending[reply.ID]
		d.pendingMu.Unlock()
		if ok {
			ch <- reply
		}
		return
	}

	if head.Event != "" {
		var ev bridgeEvent
		if err := json.Unmarshal(msg, &ev); err != nil {
			log.Printf("bridge: malformed event: %v", err)
			return
		}
		kind, ok := eventKind(ev.Event)
		if !ok {
			log.Printf("bridge: unknown event %q for order %s", ev.Event, ev.OrderID)
			return
		}
		at := time.Now()
		if ev.TS > 0 {
			at = time.UnixMilli(ev.TS)
		}
		select {
		case d.events <- ledger.Event{
			Kind:    kind,
			OrderID: ev.OrderID,
			Qty:     ev.Qty,
			Price:   ev.Price,
			Reason:  ev.Reason,
			At:      at,
		}:
		default:
			log.Printf("bridge: event buffer full, dropping %s for %s", ev.Event, ev.OrderID)
		}
	}
}

func eventKind(name string) (ledger.EventKind, bool) {
	switch name {
	case "ack", "acknowledged":
		return ledger.EventAcknowledged, true
	case "partial_fill":
		return ledger.EventPartialFill, true
	case "fill":
		return ledger.EventFill, true
	case "cancelled", "canceled":
		return ledger.EventCancelled, true
	case "rejected":
		return ledger.EventRejected, true
	case "cancel_rejected":
		return ledger.EventCancelRejected, true
	}
	return "", false
}

// keepAlive pings the bridge so half-open connections are noticed. A failed
// ping is left to the read loop, which sees the drop and redials.
func (d *BridgeDriver) keepAlive() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-d.stop:
			return
		case <-ticker.C:
			conn := d.current()
			if conn == nil {
				continue
			}
			d.writeMu.Lock()
			err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second))
			d.writeMu.Unlock()
			if err != nil {
				log.Printf("bridge: ping failed: %v", err)
			}
		}
	}
}
