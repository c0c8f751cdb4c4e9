package api

import (
	"log/slog"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
)

// wsConn serializes writes to one websocket connection; gorilla allows
// only one concurrent writer.
type wsConn struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (c *wsConn) writeJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteJSON(v)
}

// serveWS upgrades the request and streams lifecycle events to the
// client until it disconnects. Client text messages are answered with a
// pong payload so browser-side keepalives keep the connection warm.
func (h *Handler) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", slog.Any("error", err))
		return
	}

	feed, cancel := h.bus.Subscribe()
	defer cancel()

	c := &wsConn{conn: conn}
	done := make(chan struct{})

	// Reader: detects disconnects and answers keepalives.
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
			if err := c.writeJSON(map[string]string{"type": "ping", "message": "pong"}); err != nil {
				return
			}
		}
	}()

	defer conn.Close()
	for {
		select {
		case <-done:
			return
		case ev, ok := <-feed:
			if !ok {
				// Dropped by the broadcaster for falling behind, or the
				// server is shutting down.
				return
			}
			if err := c.writeJSON(ev); err != nil {
				return
			}
		}
	}
}
