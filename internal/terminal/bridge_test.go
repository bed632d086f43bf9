package terminal

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"sterling-gateway/internal/ledger"
)

func newParseDriver() *BridgeDriver {
	return &BridgeDriver{
		events:  make(chan ledger.Event, 4),
		pending: map[string]chan bridgeReply{},
	}
}

func TestHandleFrameEvent(t *testing.T) {
	d := newParseDriver()

	d.handleFrame([]byte(`{"event":"partial_fill","order_id":"ST-9","qty":4,"price":255.0,"ts":1700000000000}`))

	select {
	case ev := <-d.events:
		if ev.Kind != ledger.EventPartialFill || ev.OrderID != "ST-9" || ev.Qty != 4 || ev.Price != 255.0 {
			t.Fatalf("event = %+v", ev)
		}
		if ev.At.UnixMilli() != 1700000000000 {
			t.Fatalf("timestamp not taken from frame: %v", ev.At)
		}
	default:
		t.Fatal("no event emitted")
	}
}

func TestHandleFrameReplyRouting(t *testing.T) {
	d := newParseDriver()
	ch := make(chan bridgeReply, 1)
	d.pending["abc"] = ch

	d.handleFrame([]byte(`{"id":"abc","ok":true,"result":{"order_id":"ST-1","status":"submitted"}}`))

	select {
	case reply := <-ch:
		if !reply.OK || reply.ID != "abc" {
			t.Fatalf("reply = %+v", reply)
		}
	case <-time.After(time.Second):
		t.Fatal("reply not routed to waiter")
	}
}

func TestHandleFrameUnknownEventDropped(t *testing.T) {
	d := newParseDriver()

	d.handleFrame([]byte(`{"event":"mystery","order_id":"ST-1"}`))
	d.handleFrame([]byte(`not json`))

	select {
	case ev := <-d.events:
		t.Fatalf("unexpected event %+v", ev)
	default:
	}
}

func TestFailPendingUnblocksWaiters(t *testing.T) {
	d := newParseDriver()
	ch := make(chan bridgeReply, 1)
	d.pending["abc"] = ch

	d.failPending("bridge connection lost")

	select {
	case reply := <-ch:
		if reply.OK || reply.Error != "bridge connection lost" {
			t.Fatalf("reply = %+v", reply)
		}
	default:
		t.Fatal("waiter not unblocked")
	}
	if len(d.pending) != 0 {
		t.Fatalf("pending not cleared: %d entries", len(d.pending))
	}
}

// wrapperServer fakes the terminal-side bridge endpoint.
type wrapperServer struct {
	srv   *httptest.Server
	mu    sync.Mutex
	conns []*websocket.Conn
}

func newWrapperServer(t *testing.T) *wrapperServer {
	t.Helper()
	ws := &wrapperServer{}
	up := websocket.Upgrader{}
	ws.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		ws.mu.Lock()
		ws.conns = append(ws.conns, conn)
		ws.mu.Unlock()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	t.Cleanup(ws.srv.Close)
	return ws
}

func (ws *wrapperServer) url() string {
	return "ws" + strings.TrimPrefix(ws.srv.URL, "http")
}

func (ws *wrapperServer) conn(t *testing.T, n int) *websocket.Conn {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		ws.mu.Lock()
		if len(ws.conns) > n {
			c := ws.conns[n]
			ws.mu.Unlock()
			return c
		}
		ws.mu.Unlock()
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("connection %d never arrived", n)
	return nil
}

func TestBridgeRedialsAfterConnectionDrop(t *testing.T) {
	srv := newWrapperServer(t)

	d := NewBridgeDriver(srv.url(), "")
	d.redialWait = 10 * time.Millisecond
	if err := d.Open(context.Background()); err != nil {
		t.Fatalf("open: %v", err)
	}
	defer d.Close()

	// wrapper restarts: drop the first connection server-side
	srv.conn(t, 0).Close()
	second := srv.conn(t, 1)

	// events flow again on the new connection
	if err := second.WriteJSON(map[string]any{"event": "ack", "order_id": "ST-1"}); err != nil {
		t.Fatalf("server write: %v", err)
	}
	select {
	case ev := <-d.Events():
		if ev.Kind != ledger.EventAcknowledged || ev.OrderID != "ST-1" {
			t.Fatalf("event = %+v", ev)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("event not delivered after reconnect")
	}
}

func TestEventKindAliases(t *testing.T) {
	cases := map[string]ledger.EventKind{
		"ack":             ledger.EventAcknowledged,
		"acknowledged":    ledger.EventAcknowledged,
		"partial_fill":    ledger.EventPartialFill,
		"fill":            ledger.EventFill,
		"cancelled":       ledger.EventCancelled,
		"canceled":        ledger.EventCancelled,
		"rejected":        ledger.EventRejected,
		"cancel_rejected": ledger.EventCancelRejected,
	}
	for name, want := range cases {
		got, ok := eventKind(name)
		if !ok || got != want {
			t.Errorf("eventKind(%q) = %v %v, want %v", name, got, ok, want)
		}
	}
	if _, ok := eventKind("whatever"); ok {
		t.Error("unknown event name accepted")
	}
}
