package ws

import (
	"sync"
	"sync/atomic"
)

// Hub fans broadcast messages out to registered subscriber channels. It has
// no websocket dependency of its own; Handler bridges it to connections.
type Hub struct {
	mu         sync.RWMutex
	clients    map[string]chan Message
	register   chan registration
	unregister chan string
	broadcast  chan Message
	shutdown   chan struct{}
	stopOnce   sync.Once
	dropped    atomic.Int64
}

type registration struct {
	id string
	ch chan Message
}

// NewHub creates and starts a new Hub.
func NewHub() *Hub {
	h := &Hub{
		clients:    make(map[string]chan Message),
		register:   make(chan registration),
		unregister: make(chan string),
		broadcast:  make(chan Message, 100),
		shutdown:   make(chan struct{}),
	}
	go h.run()
	return h
}

func (h *Hub) run() {
	for {
		select {
		case reg := <-h.register:
			h.mu.Lock()
			h.clients[reg.id] = reg.ch
			h.mu.Unlock()
		case id := <-h.unregister:
			h.mu.Lock()
			if ch, ok := h.clients[id]; ok {
				close(ch)
				delete(h.clients, id)
			}
			h.mu.Unlock()
		case msg := <-h.broadcast:
			h.mu.RLock()
			for _, ch := range h.clients {
				select {
				case ch <- msg:
				default:
					// Slow subscriber; never block the hub.
					h.dropped.Add(1)
				}
			}
			h.mu.RUnlock()
		case <-h.shutdown:
			h.mu.Lock()
			for id, ch := range h.clients {
				close(ch)
				delete(h.clients, id)
			}
			h.mu.Unlock()
			return
		}
	}
}

// Register adds a subscriber. The channel should be buffered; it is closed
// on Unregister or Stop. Returns false if the hub is stopped.
func (h *Hub) Register(id string, ch chan Message) bool {
	select {
	case h.register <- registration{id: id, ch: ch}:
		return true
	case <-h.shutdown:
		return false
	}
}

// Unregister removes the client with the given id.
func (h *Hub) Unregister(id string) {
	select {
	case h.unregister <- id:
	case <-h.shutdown:
	}
}

// Broadcast queues a message for all subscribers. It never blocks; when the
// queue is full the message is dropped.
func (h *Hub) Broadcast(msg Message) {
	select {
	case h.broadcast <- msg:
	default:
		h.dropped.Add(1)
	}
}

// ClientCount returns the number of registered subscribers.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Dropped returns how many deliveries were skipped because a queue was full.
func (h *Hub) Dropped() int64 {
	return h.dropped.Load()
}

// Stop shuts down the hub and closes all client channels. Safe to call twice.
func (h *Hub) Stop() {
	h.stopOnce.Do(func() { close(h.shutdown) })
}
