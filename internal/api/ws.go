package api

import (
	"log/slog"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"debugarena/internal/leaderboard"
)

func leaderboardRequestFrom(c *gin.Context) leaderboard.GetLeaderboardRequest {
	return leaderboard.GetLeaderboardRequest{QuizID: c.Query("quiz_id")}
}

// wsHub tracks websocket subscribers to leaderboard updates. Each connection
// has a buffered outbox drained by a single writer goroutine, so concurrent
// broadcasts never write to the same connection at once.
type wsHub struct {
	mu    sync.Mutex
	conns map[chan Notification]struct{}
}

func newWSHub() *wsHub {
	return &wsHub{conns: make(map[chan Notification]struct{})}
}

func (h *wsHub) subscribe() (chan Notification, func()) {
	ch := make(chan Notification, 16)

	h.mu.Lock()
	h.conns[ch] = struct{}{}
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		if _, ok := h.conns[ch]; ok {
			delete(h.conns, ch)
			close(ch)
		}
		h.mu.Unlock()
	}
	return ch, cancel
}

func (h *wsHub) broadcast(n Notification) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for ch := range h.conns {
		select {
		case ch <- n:
		default:
			// Drop the oldest update for a slow consumer; the latest board
			// is the only one that matters.
			select {
			case <-ch:
			default:
			}
			ch <- n
		}
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// serveLeaderboardWS streams leaderboard updates to the client until it
// disconnects. The first frame is the current board.
func (a *API) serveLeaderboardWS(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		slog.Warn("ws: upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	updates, cancel := a.hub.subscribe()
	defer cancel()

	if l, err := a.leaderboard.GetLeaderboard(c.Request.Context(), leaderboardRequestFrom(c)); err == nil {
		if err := conn.WriteJSON(Notification{Event: "leaderboard.snapshot", Data: l}); err != nil {
			return
		}
	}

	// Reader goroutine: its only job is to observe the close.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case n, ok := <-updates:
			if !ok {
				return
			}
			if err := conn.WriteJSON(n); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}
