package api

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/alpaca-lotto/internal/logging"
	"github.com/alpaca-lotto/internal/metrics"
	"github.com/alpaca-lotto/internal/types"
)

const (
	eventTypeLotteryUpdate = "lottery_update"
	eventTypePurchase      = "purchase"
)

// wsEvent is one pushed message. Type selects which payload field is set.
type wsEvent struct {
	Type     string                `json:"type"`
	Lottery  *types.Lottery        `json:"lottery,omitempty"`
	Purchase *types.PurchaseRecord `json:"purchase,omitempty"`
}

// UpdateHub fans lottery and purchase events out to connected WebSocket
// clients. Broadcasts are serialized under one mutex; a client whose write
// fails is closed and evicted.
type UpdateHub struct {
	upgrader websocket.Upgrader
	logger   *logging.Logger

	mu      sync.Mutex
	clients map[*websocket.Conn]struct{}
}

// NewUpdateHub creates an empty hub.
func NewUpdateHub(logger *logging.Logger) *UpdateHub {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	return &UpdateHub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		logger:  logger.WithField("component", "update_hub"),
		clients: make(map[*websocket.Conn]struct{}),
	}
}

// HandleWS upgrades the request and registers the client with the hub.
func (h *UpdateHub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.WithError(err).Warn("WebSocket upgrade failed")
		return
	}

	h.mu.Lock()
	h.clients[conn] = struct{}{}
	metrics.WSConnectedClients.Set(float64(len(h.clients)))
	h.mu.Unlock()

	h.logger.WithField("client", conn.RemoteAddr().String()).Debug("WebSocket client connected")

	// Inbound frames are ignored; the read loop exists to notice the close.
	go func() {
		defer h.removeClient(conn)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

// PublishPurchase pushes a purchase event to all connected clients.
func (h *UpdateHub) PublishPurchase(record *types.PurchaseRecord) {
	if record == nil {
		return
	}
	h.broadcast(wsEvent{Type: eventTypePurchase, Purchase: record})
}

// PublishLotteryUpdate pushes the new state of a lottery to all connected
// clients.
func (h *UpdateHub) PublishLotteryUpdate(lottery *types.Lottery) {
	if lottery == nil {
		return
	}
	h.broadcast(wsEvent{Type: eventTypeLotteryUpdate, Lottery: lottery})
}

// broadcast marshals the event once and writes it to every client.
func (h *UpdateHub) broadcast(event wsEvent) {
	payload, err := json.Marshal(event)
	if err != nil {
		h.logger.WithError(err).Error("Failed to marshal WebSocket event")
		return
	}

	metrics.WSEventsPublished.WithLabelValues(event.Type).Inc()

	h.mu.Lock()
	defer h.mu.Unlock()

	for conn := range h.clients {
		if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			h.logger.WithError(err).Debug("Evicting WebSocket client after failed write")
			conn.Close()
			delete(h.clients, conn)
		}
	}
	metrics.WSConnectedClients.Set(float64(len(h.clients)))
}

// ClientCount returns the number of connected clients.
func (h *UpdateHub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// CloseAll disconnects every client. Used during server shutdown.
func (h *UpdateHub) CloseAll() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for conn := range h.clients {
		conn.Close()
		delete(h.clients, conn)
	}
	metrics.WSConnectedClients.Set(0)
}

func (h *UpdateHub) removeClient(conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[conn]; ok {
		conn.Close()
		delete(h.clients, conn)
		metrics.WSConnectedClients.Set(float64(len(h.clients)))
	}
}
