package chathub

import (
	"log"
	"sync"
)

// Hub tracks the live client connections of this instance. Pairing and
// messaging do not route through it — the store's event stream does that —
// it exists for registration bookkeeping and graceful shutdown.
type Hub struct {
	RegisterCh   chan Client
	UnregisterCh chan Client

	mu      sync.Mutex
	clients map[string]Client
	done    chan struct{}
	once    sync.Once
}

func NewHub() *Hub {
	return &Hub{
		RegisterCh:   make(chan Client, 16),
		UnregisterCh: make(chan Client, 16),
		clients:      make(map[string]Client),
		done:         make(chan struct{}),
	}
}

// Run dispatches registrations until the hub is closed.
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.RegisterCh:
			h.mu.Lock()
			if prev, ok := h.clients[client.AnonID()]; ok && prev != client {
				// A reconnect with the same anon id supersedes the old
				// transport.
				prev.Close()
			}
			h.clients[client.AnonID()] = client
			count := len(h.clients)
			h.mu.Unlock()
			log.Printf("client %s connected (%d online)", client.AnonID(), count)

		case client := <-h.UnregisterCh:
			h.mu.Lock()
			if current, ok := h.clients[client.AnonID()]; ok && current == client {
				delete(h.clients, client.AnonID())
			}
			count := len(h.clients)
			h.mu.Unlock()
			log.Printf("client %s disconnected (%d online)", client.AnonID(), count)

		case <-h.done:
			return
		}
	}
}

// Unregister hands the client back to the dispatch loop. It never blocks on
// a closed hub, so transport teardown can always complete during shutdown.
func (h *Hub) Unregister(client Client) {
	select {
	case h.UnregisterCh <- client:
	case <-h.done:
	}
}

// Count returns the number of registered clients.
func (h *Hub) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close stops the dispatch loop and closes every registered client.
func (h *Hub) Close() {
	h.once.Do(func() {
		close(h.done)
		h.mu.Lock()
		clients := make([]Client, 0, len(h.clients))
		for _, client := range h.clients {
			clients = append(clients, client)
		}
		h.clients = make(map[string]Client)
		h.mu.Unlock()
		for _, client := range clients {
			client.Close()
		}
	})
}
