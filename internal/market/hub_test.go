package market_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/atmx/range-exchange/internal/market"
	"github.com/atmx/range-exchange/internal/metrics"
)

func newHubServer(t *testing.T) (*market.Hub, *httptest.Server) {
	t.Helper()
	hub := market.NewHub()
	go hub.Run()
	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	t.Cleanup(srv.Close)
	return hub, srv
}

func dialWS(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", url, err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) market.Message {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var msg market.Message
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("unmarshal %q: %v", data, err)
	}
	return msg
}

func waitForClients(t *testing.T, want float64) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if testutil.ToFloat64(metrics.WebSocketClients) == want {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("connected clients = %v, want %v",
		testutil.ToFloat64(metrics.WebSocketClients), want)
}

func TestHubBroadcastsToAllClients(t *testing.T) {
	hub, srv := newHubServer(t)
	a := dialWS(t, srv)
	b := dialWS(t, srv)
	waitForClients(t, 2)

	hub.Broadcast(market.Message{
		Type: "trade", Contract: "rain", Buyer: "y", Seller: "x", Price: 45, Units: 18,
	})

	for _, conn := range []*websocket.Conn{a, b} {
		msg := readMessage(t, conn)
		if msg.Type != "trade" || msg.Contract != "rain" || msg.Price != 45 {
			t.Errorf("message = %+v", msg)
		}
	}
}

// A client that drops its TCP connection without a close handshake must
// be pruned while broadcasts keep flowing to the survivors.
func TestHubPrunesDeadClients(t *testing.T) {
	hub, srv := newHubServer(t)
	dead := dialWS(t, srv)
	live := dialWS(t, srv)
	waitForClients(t, 2)

	dead.UnderlyingConn().Close()
	deadline := time.Now().Add(2 * time.Second)
	for testutil.ToFloat64(metrics.WebSocketClients) > 1 && time.Now().Before(deadline) {
		hub.Broadcast(market.Message{Type: "trade", Contract: "rain", Price: 45, Units: 1})
		time.Sleep(10 * time.Millisecond)
	}
	if got := testutil.ToFloat64(metrics.WebSocketClients); got != 1 {
		t.Fatalf("connected clients = %v after disconnect, want 1", got)
	}

	hub.Broadcast(market.Message{Type: "resolution", Contract: "rain", Outcome: true})
	for {
		msg := readMessage(t, live)
		if msg.Type == "resolution" {
			if !msg.Outcome {
				t.Errorf("message = %+v", msg)
			}
			break
		}
	}
}
