package linera

// subscription.go — canal de notificaciones sobre graphql-transport-ws.
//
// Mantiene viva una suscripción `notifications(chainId)` contra el socket
// del nodo, con handshake, heartbeat y reconexión exponencial. Cada frame
// `next` se colapsa a una señal vacía en un canal acotado: el payload no
// se interpreta nunca, la señal solo significa "re-consulta ahora".
// Perder señales no rompe la corrección — los consumidores tienen polls
// periódicos de fallback.

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/winzalabs/chainsync/internal/domain"
)

const (
	wsSubprotocol      = "graphql-transport-ws"
	handshakeTimeout   = 10 * time.Second
	ackWait            = 10 * time.Second
	heartbeatInterval  = 15 * time.Second
	reconnectBase      = time.Second
	reconnectCap       = 30 * time.Second
	reconnectJitterMax = 500 * time.Millisecond

	// Capacidad del canal de señales. Las señales son edge-triggered y se
	// colapsan: con el buffer lleno, una señal nueva se descarta sin
	// bloquear el lector del socket.
	signalBuffer = 1
)

// wsMessage es el frame genérico del protocolo graphql-transport-ws.
type wsMessage struct {
	ID      string          `json:"id,omitempty"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Channel implementa ports.Notifications para un chain id.
type Channel struct {
	url     string
	chainID string
	signals chan struct{}
	backoff domain.Backoff
}

// NewChannel crea el canal para el endpoint ws del nodo (p.ej.
// ws://localhost:8080/ws) y el chain id a suscribir.
func NewChannel(url, chainID string) *Channel {
	return &Channel{
		url:     url,
		chainID: chainID,
		signals: make(chan struct{}, signalBuffer),
		backoff: domain.Backoff{
			Base:   reconnectBase,
			Cap:    reconnectCap,
			Jitter: reconnectJitterMax,
		},
	}
}

// Signals devuelve el canal acotado de señales.
func (c *Channel) Signals() <-chan struct{} {
	return c.signals
}

// Run mantiene la suscripción hasta que el contexto se cancele. Un fallo
// de conexión nunca es fatal: solo retrasa la entrega de señales.
func (c *Channel) Run(ctx context.Context) {
	attempts := 0
	for {
		err := c.session(ctx, &attempts)
		if ctx.Err() != nil {
			slog.Info("notification channel stopped", "chain", c.chainID)
			return
		}

		delay := c.backoff.Delay(attempts)
		attempts++
		slog.Warn("notification socket lost, reconnecting",
			"chain", c.chainID,
			"attempt", attempts,
			"delay", delay.Round(time.Millisecond),
			"err", err,
		)
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}
}

// session corre una conexión completa: dial → init/ack → subscribe → loop
// de lectura con heartbeat. Devuelve cuando el socket muere por cualquier
// motivo. attempts se resetea a cero tras un handshake exitoso.
func (c *Channel) session(ctx context.Context, attempts *int) error {
	dialer := websocket.Dialer{
		HandshakeTimeout: handshakeTimeout,
		Subprotocols:     []string{wsSubprotocol},
	}
	conn, _, err := dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	// sctx acota la vida del read pump a esta sesión: al salir de session
	// (por el motivo que sea) el pump no queda bloqueado entregando frames.
	sctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Cerrar el socket al cancelar desbloquea el read pump.
	stop := context.AfterFunc(sctx, func() { conn.Close() })
	defer stop()

	if err := conn.WriteJSON(wsMessage{Type: "connection_init"}); err != nil {
		return fmt.Errorf("connection_init: %w", err)
	}

	frames := make(chan wsMessage)
	readErr := make(chan error, 1)
	go func() {
		defer close(frames)
		for {
			var msg wsMessage
			if err := conn.ReadJSON(&msg); err != nil {
				readErr <- err
				return
			}
			select {
			case frames <- msg:
			case <-sctx.Done():
				return
			}
		}
	}()

	if err := awaitAck(ctx, frames, readErr); err != nil {
		return err
	}
	*attempts = 0

	subID := uuid.NewString()
	payload, _ := json.Marshal(map[string]string{
		"query": fmt.Sprintf("subscription { notifications(chainId: %q) }", c.chainID),
	})
	if err := conn.WriteJSON(wsMessage{ID: subID, Type: "subscribe", Payload: payload}); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	slog.Info("notification channel subscribed", "chain", c.chainID, "sub", subID)

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-heartbeat.C:
			// Ping unilateral: no exigimos respuesta, un socket muerto se
			// detecta por el fallo de lectura o de escritura.
			if err := conn.WriteJSON(wsMessage{Type: "ping"}); err != nil {
				return fmt.Errorf("ping: %w", err)
			}
		case err := <-readErr:
			return fmt.Errorf("read: %w", err)
		case msg, ok := <-frames:
			if !ok {
				return fmt.Errorf("read: %w", <-readErr)
			}
			c.handle(msg)
		}
	}
}

// handle procesa un frame ya suscrito. Solo `next` produce señal; todo lo
// demás (pong, ka, complete) se ignora.
func (c *Channel) handle(msg wsMessage) {
	switch msg.Type {
	case "next":
		select {
		case c.signals <- struct{}{}:
		default:
			// Señal colapsada: ya hay una pendiente sin consumir.
		}
	case "error":
		slog.Warn("subscription error frame", "chain", c.chainID, "payload", string(msg.Payload))
	}
}

// awaitAck espera el connection_ack del servidor con deadline.
func awaitAck(ctx context.Context, frames <-chan wsMessage, readErr <-chan error) error {
	deadline := time.NewTimer(ackWait)
	defer deadline.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			return fmt.Errorf("handshake: no connection_ack after %s", ackWait)
		case err := <-readErr:
			return fmt.Errorf("handshake: %w", err)
		case msg, ok := <-frames:
			if !ok {
				return fmt.Errorf("handshake: socket closed")
			}
			if msg.Type == "connection_ack" {
				return nil
			}
			// connection_ack puede venir precedido de keep-alives; se ignoran.
		}
	}
}
