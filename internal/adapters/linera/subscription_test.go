package linera_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/winzalabs/chainsync/internal/adapters/linera"
)

type frame struct {
	ID      string          `json:"id,omitempty"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// wsServer habla graphql-transport-ws del lado servidor: handshake,
// registra la query de subscribe y deja empujar frames next.
type wsServer struct {
	t        *testing.T
	srv      *httptest.Server
	conns    chan *websocket.Conn
	subQuery chan string
}

func newWSServer(t *testing.T) *wsServer {
	t.Helper()
	ws := &wsServer{
		t:        t,
		conns:    make(chan *websocket.Conn, 4),
		subQuery: make(chan string, 4),
	}
	upgrader := websocket.Upgrader{Subprotocols: []string{"graphql-transport-ws"}}
	ws.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		ws.conns <- conn

		for {
			var msg frame
			if err := conn.ReadJSON(&msg); err != nil {
				return
			}
			switch msg.Type {
			case "connection_init":
				_ = conn.WriteJSON(frame{Type: "connection_ack"})
			case "subscribe":
				var payload struct {
					Query string `json:"query"`
				}
				_ = json.Unmarshal(msg.Payload, &payload)
				ws.subQuery <- payload.Query
			}
		}
	}))
	t.Cleanup(ws.srv.Close)
	return ws
}

func (w *wsServer) url() string {
	return "ws" + strings.TrimPrefix(w.srv.URL, "http")
}

func (w *wsServer) waitConn() *websocket.Conn {
	w.t.Helper()
	select {
	case c := <-w.conns:
		return c
	case <-time.After(2 * time.Second):
		w.t.Fatal("no websocket connection")
		return nil
	}
}

func (w *wsServer) waitSubscribe() string {
	w.t.Helper()
	select {
	case q := <-w.subQuery:
		return q
	case <-time.After(2 * time.Second):
		w.t.Fatal("no subscribe frame")
		return ""
	}
}

func waitSignal(t *testing.T, signals <-chan struct{}) {
	t.Helper()
	select {
	case <-signals:
	case <-time.After(2 * time.Second):
		t.Fatal("no signal delivered")
	}
}

func TestChannelSubscribesAndSignals(t *testing.T) {
	srv := newWSServer(t)
	channel := linera.NewChannel(srv.url(), "e476187f")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go channel.Run(ctx)

	conn := srv.waitConn()
	query := srv.waitSubscribe()
	assert.Contains(t, query, `notifications(chainId: "e476187f")`)

	require.NoError(t, conn.WriteJSON(frame{ID: "x", Type: "next", Payload: json.RawMessage(`{"data": {}}`)}))
	waitSignal(t, channel.Signals())
}

func TestChannelCoalescesSignals(t *testing.T) {
	srv := newWSServer(t)
	channel := linera.NewChannel(srv.url(), "e476187f")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go channel.Run(ctx)

	conn := srv.waitConn()
	srv.waitSubscribe()

	// Ráfaga de frames sin consumidor: el canal acotado colapsa, nunca
	// bloquea al lector del socket.
	for i := 0; i < 10; i++ {
		require.NoError(t, conn.WriteJSON(frame{ID: "x", Type: "next", Payload: json.RawMessage(`{"data": {}}`)}))
	}

	waitSignal(t, channel.Signals())
	assert.LessOrEqual(t, len(channel.Signals()), 1)
}

func TestChannelIgnoresNonNextFrames(t *testing.T) {
	srv := newWSServer(t)
	channel := linera.NewChannel(srv.url(), "e476187f")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go channel.Run(ctx)

	conn := srv.waitConn()
	srv.waitSubscribe()

	require.NoError(t, conn.WriteJSON(frame{Type: "pong"}))
	require.NoError(t, conn.WriteJSON(frame{ID: "x", Type: "error", Payload: json.RawMessage(`[{"message": "bad"}]`)}))

	select {
	case <-channel.Signals():
		t.Fatal("non-next frame produced a signal")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestChannelReconnects(t *testing.T) {
	srv := newWSServer(t)
	channel := linera.NewChannel(srv.url(), "e476187f")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go channel.Run(ctx)

	first := srv.waitConn()
	srv.waitSubscribe()
	first.Close() // el servidor tira la conexión

	// La reconexión llega sola (backoff arranca en ~1s) y re-suscribe.
	conn := srv.waitConn()
	srv.waitSubscribe()

	require.NoError(t, conn.WriteJSON(frame{ID: "y", Type: "next", Payload: json.RawMessage(`{"data": {}}`)}))
	waitSignal(t, channel.Signals())
}
