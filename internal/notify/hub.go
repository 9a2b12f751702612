package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	gatewaySendBuffer = 256
	writeWait         = 10 * time.Second
	pongWait          = 60 * time.Second
	pingPeriod        = pongWait * 9 / 10
)

// Hub fans notifications out to connected gateway processes over websocket.
// Every gateway receives every notification; routing to the end user is the
// gateway's job.
type Hub struct {
	upgrader websocket.Upgrader
	logger   *slog.Logger

	mu       sync.Mutex
	gateways map[*gateway]struct{}
}

type gateway struct {
	conn      *websocket.Conn
	send      chan []byte
	closeOnce sync.Once
	done      chan struct{}
}

func NewHub(logger *slog.Logger, checkOrigin func(r *http.Request) bool) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     checkOrigin,
		},
		logger:   logger.With("component", "gateway_hub"),
		gateways: make(map[*gateway]struct{}),
	}
}

// Connected returns the number of live gateways.
func (h *Hub) Connected() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.gateways)
}

func (h *Hub) Notify(ctx context.Context, userID int64, text string) error {
	payload, err := json.Marshal(Payload{UserID: userID, Text: text})
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}

	h.mu.Lock()
	targets := make([]*gateway, 0, len(h.gateways))
	for g := range h.gateways {
		targets = append(targets, g)
	}
	h.mu.Unlock()

	delivered := 0
	for _, g := range targets {
		select {
		case g.send <- payload:
			delivered++
		case <-g.done:
		default:
			// A gateway that cannot keep up is dropped.
			h.logger.Warn("gateway send buffer full, disconnecting")
			h.remove(g)
		}
	}
	if delivered == 0 {
		return ErrUndelivered
	}
	return nil
}

// ServeWS upgrades the request and serves one gateway until it disconnects
// or ctx ends.
func (h *Hub) ServeWS(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return fmt.Errorf("upgrade gateway: %w", err)
	}
	g := &gateway{
		conn: conn,
		send: make(chan []byte, gatewaySendBuffer),
		done: make(chan struct{}),
	}
	h.mu.Lock()
	h.gateways[g] = struct{}{}
	h.mu.Unlock()
	h.logger.Info("gateway connected", "remote", r.RemoteAddr)

	go h.writePump(ctx, g)
	h.readPump(ctx, g)
	h.logger.Info("gateway disconnected", "remote", r.RemoteAddr)
	return nil
}

// CloseAll disconnects every gateway.
func (h *Hub) CloseAll() {
	h.mu.Lock()
	targets := make([]*gateway, 0, len(h.gateways))
	for g := range h.gateways {
		targets = append(targets, g)
	}
	h.mu.Unlock()
	for _, g := range targets {
		h.remove(g)
	}
}

func (h *Hub) remove(g *gateway) {
	h.mu.Lock()
	delete(h.gateways, g)
	h.mu.Unlock()
	g.closeOnce.Do(func() {
		close(g.done)
		g.conn.Close()
	})
}

// readPump only drains control frames; gateways do not send data.
func (h *Hub) readPump(ctx context.Context, g *gateway) {
	defer h.remove(g)
	g.conn.SetReadLimit(512)
	g.conn.SetReadDeadline(time.Now().Add(pongWait))
	g.conn.SetPongHandler(func(string) error {
		return g.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if ctx.Err() != nil {
			return
		}
		if _, _, err := g.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.Warn("gateway read failed", "err", err)
			}
			return
		}
	}
}

func (h *Hub) writePump(ctx context.Context, g *gateway) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		h.remove(g)
	}()
	for {
		select {
		case <-ctx.Done():
			return
		case <-g.done:
			return
		case msg := <-g.send:
			g.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := g.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				h.logger.Warn("gateway write failed", "err", err)
				return
			}
		case <-ticker.C:
			g.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := g.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
