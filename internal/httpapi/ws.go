package httpapi

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/ocx/accessd/internal/model"
)

// wsHub fans a Transaction out to every connected live-feed client,
// additive to the JSON request/response contract: the dashboard may poll
// GET /transactions instead, this just saves it the trouble.
type wsHub struct {
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*websocket.Conn]chan model.Transaction
}

func newWSHub() *wsHub {
	return &wsHub{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		clients: make(map[*websocket.Conn]chan model.Transaction),
	}
}

func (h *wsHub) broadcast(tx model.Transaction) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ch := range h.clients {
		select {
		case ch <- tx:
		default:
			// Slow client: drop the update rather than block the broadcaster.
		}
	}
}

func (h *wsHub) add(conn *websocket.Conn) chan model.Transaction {
	ch := make(chan model.Transaction, 16)
	h.mu.Lock()
	h.clients[conn] = ch
	h.mu.Unlock()
	return ch
}

func (h *wsHub) remove(conn *websocket.Conn) {
	h.mu.Lock()
	ch, ok := h.clients[conn]
	delete(h.clients, conn)
	h.mu.Unlock()
	if ok {
		close(ch)
	}
}

func (s *Server) handleWSTransactions(w http.ResponseWriter, r *http.Request) {
	conn, err := s.hub.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	ch := s.hub.add(conn)
	defer s.hub.remove(conn)

	for tx := range ch {
		data, err := json.Marshal(tx)
		if err != nil {
			continue
		}
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			return
		}
	}
}
