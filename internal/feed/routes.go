package feed

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/strefethen/medassist-go/internal/auth"
	"github.com/strefethen/medassist-go/internal/logging"
)

const (
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingInterval = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// RegisterRoutes wires the live feed WebSocket to the router.
func RegisterRoutes(router chi.Router, hub *Hub, logger *zerolog.Logger) {
	logger = logging.OrNop(logger)

	router.Get("/v1/feed", func(w http.ResponseWriter, r *http.Request) {
		user, err := auth.RequireUser(r)
		if err != nil {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		// Subscribe first so nothing published after the handshake is missed.
		sub := hub.Subscribe(func(e Event) bool {
			return e.VisibleTo(user.ID, auth.NormalizeEmail(user.Email))
		})

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			hub.Unsubscribe(sub)
			logger.Warn().Err(err).Msg("feed upgrade failed")
			return
		}
		logger.Debug().Str("user_id", user.ID).Int("subscribers", hub.Len()).Msg("feed client connected")

		done := make(chan struct{})
		go readPump(conn, done)
		writePump(conn, sub, done)

		hub.Unsubscribe(sub)
		conn.Close()
		logger.Debug().Str("user_id", user.ID).Int64("dropped", sub.Dropped()).Msg("feed client disconnected")
	})
}

// readPump discards client frames and closes done when the peer goes away.
func readPump(conn *websocket.Conn, done chan<- struct{}) {
	defer close(done)

	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func writePump(conn *websocket.Conn, sub *Subscription, done <-chan struct{}) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case event, ok := <-sub.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
				return
			}
			if err := conn.WriteJSON(event); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
