package ws

import (
	"sync"

	"github.com/rs/zerolog/log"

	"driver-analytics/internal/domain"
	"driver-analytics/internal/metrics"
)

// Hub maintains the set of live observer connections and fans wire
// messages out to them. Delivery to one observer is isolated from the
// others: a client whose send buffer is full or whose connection died is
// pruned, and the publish continues.
type Hub struct {
	mu      sync.Mutex
	clients []*Client
}

func NewHub() *Hub {
	return &Hub{}
}

// Register adds a connection to the registry. The caller starts the
// client's pumps once it is registered.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	h.clients = append(h.clients, c)
	total := len(h.clients)
	h.mu.Unlock()

	log.Info().Int("total_clients", total).Msg("websocket client connected")
}

// Unregister removes a connection. Safe to call more than once.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	removed := h.remove(c)
	total := len(h.clients)
	h.mu.Unlock()

	if removed {
		log.Info().Int("total_clients", total).Msg("websocket client disconnected")
	}
}

// remove deletes c from the registry, preserving registration order.
// Callers must hold h.mu.
func (h *Hub) remove(c *Client) bool {
	for i, existing := range h.clients {
		if existing == c {
			h.clients = append(h.clients[:i], h.clients[i+1:]...)
			close(c.send)
			return true
		}
	}
	return false
}

// Publish delivers a message to every registered observer in registration
// order. With no observers it is a no-op.
func (h *Hub) Publish(msg domain.WireMessage) {
	h.mu.Lock()
	defer h.mu.Unlock()

	var dead []*Client
	for _, c := range h.clients {
		select {
		case c.send <- msg:
		default:
			// Buffer full: the observer stopped draining. Prune it
			// rather than stall the rest of the broadcast.
			dead = append(dead, c)
		}
	}

	for _, c := range dead {
		if h.remove(c) {
			metrics.BroadcastPrunes.Add(1)
			log.Warn().Msg("pruned unresponsive websocket client")
		}
	}
}

// ClientCount returns the number of registered observers.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}
