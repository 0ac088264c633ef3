package notify

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 45 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// ServeWS upgrades the request to a websocket and streams the user's
// job events over it until either side goes away.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, userID string) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("Websocket upgrade failed",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
		return
	}

	sub := h.Subscribe(userID)

	h.logger.Info("Websocket client connected",
		slog.String("user_id", userID),
	)

	go h.writePump(conn, sub)
	go h.readPump(conn, sub)
}

// writePump pushes events and keepalive pings to the connection
func (h *Hub) writePump(conn *websocket.Conn, sub *Subscriber) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case event, ok := <-sub.events:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteJSON(event); err != nil {
				h.logger.Debug("Websocket write failed, closing",
					slog.String("user_id", sub.userID),
					slog.String("error", err.Error()),
				)
				h.Unsubscribe(sub)
				return
			}

		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				h.Unsubscribe(sub)
				return
			}
		}
	}
}

// readPump drains inbound frames so pongs and close frames are seen
func (h *Hub) readPump(conn *websocket.Conn, sub *Subscriber) {
	defer func() {
		h.Unsubscribe(sub)
		conn.Close()
		h.logger.Info("Websocket client disconnected",
			slog.String("user_id", sub.userID),
		)
	}()

	conn.SetReadLimit(512)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
