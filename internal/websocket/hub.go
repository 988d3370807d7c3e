package websocket

import (
	"encoding/json"
	"log"
	"sync"

	"github.com/ntptech/invoice-collector/internal/models"
)

// Hub maintains the set of connected UI clients and broadcasts progress
// events to all of them. Events carry no per-client state, so there is no
// routing, only fan-out.
type Hub struct {
	clients map[*Client]bool

	register   chan *Client
	unregister chan *Client
	broadcast  chan []byte

	mu sync.RWMutex
}

// NewHub creates a new Hub instance
func NewHub() *Hub {
	return &Hub{
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan []byte, 64),
		clients:    make(map[*Client]bool),
	}
}

// Run starts the hub's main loop
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			log.Printf("🖥️ UI client connected (%d total)", h.ClientCount())

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()
			log.Printf("🖥️ UI client disconnected (%d total)", h.ClientCount())

		case message := <-h.broadcast:
			h.mu.RLock()
			for client := range h.clients {
				select {
				case client.send <- message:
				default:
					// Slow client: drop the event, never block the fetch
				}
			}
			h.mu.RUnlock()
		}
	}
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Notify broadcasts a progress event to every connected client. Implements
// the service layer's notifier without the service importing this package.
func (h *Hub) Notify(ev models.ProgressEvent) {
	jsonMsg, err := json.Marshal(ev)
	if err != nil {
		log.Printf("Error marshaling progress event: %v", err)
		return
	}
	select {
	case h.broadcast <- jsonMsg:
	default:
		// Broadcast queue full: progress is advisory, dropping is fine
	}
}
