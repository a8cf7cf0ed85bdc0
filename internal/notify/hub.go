package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins in development
	},
}

type client struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *client) send(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// Hub delivers settlement notifications to connected clients over
// websocket, keyed by account id. Each account only ever sees its own
// settlements.
type Hub struct {
	mu      sync.RWMutex
	clients map[int64]map[*client]bool
	log     *zap.Logger
}

// NewHub creates a new hub
func NewHub(log *zap.Logger) *Hub {
	return &Hub{
		clients: make(map[int64]map[*client]bool),
		log:     log,
	}
}

// ServeWS upgrades the request and keeps the connection registered for the
// authenticated account until it drops.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, accountID int64) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("failed to upgrade connection", zap.Error(err))
		return
	}

	c := &client{conn: conn}
	h.mu.Lock()
	if h.clients[accountID] == nil {
		h.clients[accountID] = make(map[*client]bool)
	}
	h.clients[accountID][c] = true
	h.mu.Unlock()

	// Reads are only used to detect disconnection.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}

	h.mu.Lock()
	delete(h.clients[accountID], c)
	if len(h.clients[accountID]) == 0 {
		delete(h.clients, accountID)
	}
	h.mu.Unlock()
	conn.Close()
}

// NotifySettlement sends the settlement payload to every connection the
// counterparty has open. Dead connections are dropped; delivery failure is
// logged and never propagated.
func (h *Hub) NotifySettlement(ctx context.Context, accountID int64, s Settlement) {
	data, err := json.Marshal(s)
	if err != nil {
		h.log.Error("failed to marshal settlement", zap.Error(err))
		return
	}

	h.mu.RLock()
	conns := make([]*client, 0, len(h.clients[accountID]))
	for c := range h.clients[accountID] {
		conns = append(conns, c)
	}
	h.mu.RUnlock()

	for _, c := range conns {
		if err := c.send(data); err != nil {
			h.log.Warn("failed to send settlement",
				zap.Int64("account_id", accountID), zap.Error(err))
			h.mu.Lock()
			delete(h.clients[accountID], c)
			h.mu.Unlock()
			c.conn.Close()
		}
	}
}
