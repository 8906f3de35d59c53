// Package hub fans encoded protocol messages out to websocket clients
// through a single channel-driven loop.
package hub

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/teslashibe/go-gaze/internal/log"
	"github.com/teslashibe/go-gaze/pkg/protocol"
)

// Hub maintains the set of active clients and broadcasts messages to them
type Hub struct {
	// Name for logging
	name string
	log  *slog.Logger

	// Registered clients
	clients map[*Client]bool

	// Inbound messages to broadcast
	broadcast chan []byte

	// Register requests from clients
	register chan *Client

	// Unregister requests from clients
	unregister chan *Client

	// Closed when Run returns
	done chan struct{}

	// Mutex for client count (read-only access from outside)
	mu sync.RWMutex

	// Callback for messages sent by clients
	onMessage func(c *Client, data []byte)

	// Callback for client count changes
	onCount func(n int)

	running atomic.Bool
	dropped atomic.Uint64
}

// New creates a new Hub
func New(name string) *Hub {
	return &Hub{
		name:       name,
		log:        log.Component("hub").With("hub", name),
		clients:    make(map[*Client]bool),
		broadcast:  make(chan []byte, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
	}
}

// OnMessage sets the callback for messages received from clients.
// It runs on the client's read goroutine.
func (h *Hub) OnMessage(callback func(c *Client, data []byte)) {
	h.mu.Lock()
	h.onMessage = callback
	h.mu.Unlock()
}

// OnClientCount sets a callback run on the hub goroutine whenever the
// number of clients changes.
func (h *Hub) OnClientCount(callback func(n int)) {
	h.mu.Lock()
	h.onCount = callback
	h.mu.Unlock()
}

// Run starts the hub's main loop and blocks until ctx is cancelled.
// On return every client's queue is closed, which closes its connection.
func (h *Hub) Run(ctx context.Context) {
	h.running.Store(true)
	defer func() {
		h.running.Store(false)
		h.mu.Lock()
		for client := range h.clients {
			delete(h.clients, client)
			close(client.send)
		}
		h.mu.Unlock()
		h.notifyCount(0)
		close(h.done)
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			count := len(h.clients)
			h.mu.Unlock()
			h.log.Debug("client connected", "clients", count)
			h.notifyCount(count)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			count := len(h.clients)
			h.mu.Unlock()
			h.log.Debug("client disconnected", "clients", count)
			h.notifyCount(count)

		case message := <-h.broadcast:
			h.mu.Lock()
			before := len(h.clients)
			for client := range h.clients {
				select {
				case client.send <- message:
					// Message queued successfully
				default:
					// Client's buffer is full - they're too slow
					close(client.send)
					delete(h.clients, client)
					h.dropped.Add(1)
					h.log.Warn("dropped slow client")
				}
			}
			count := len(h.clients)
			h.mu.Unlock()
			if count != before {
				h.notifyCount(count)
			}
		}
	}
}

// Broadcast queues an encoded text frame for every connected client.
func (h *Hub) Broadcast(msg []byte) {
	select {
	case h.broadcast <- msg:
	default:
		// Broadcast channel full - drop message
		h.log.Warn("broadcast channel full, dropping message")
	}
}

// BroadcastJSON encodes and broadcasts a JSON message
func (h *Hub) BroadcastJSON(v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	h.Broadcast(data)
	return nil
}

// Publish broadcasts a protocol envelope
func (h *Hub) Publish(msg *protocol.Message) error {
	data, err := msg.Bytes()
	if err != nil {
		return err
	}
	h.Broadcast(data)
	return nil
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Dropped returns how many slow clients were disconnected
func (h *Hub) Dropped() uint64 {
	return h.dropped.Load()
}

// IsRunning returns whether the hub is running
func (h *Hub) IsRunning() bool {
	return h.running.Load()
}

// Done is closed once Run has returned
func (h *Hub) Done() <-chan struct{} {
	return h.done
}

func (h *Hub) notifyCount(n int) {
	h.mu.RLock()
	cb := h.onCount
	h.mu.RUnlock()
	if cb != nil {
		cb(n)
	}
}

func (h *Hub) messageCallback() func(c *Client, data []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.onMessage
}
