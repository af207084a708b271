package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"

	"github.com/notes-bin/crystal/internal/metrics"
	"github.com/notes-bin/crystal/internal/model"

	"github.com/gorilla/websocket"
)

// Hub maintains subscribed clients per topic and fans events out to them.
type Hub struct {
	clients    map[string]map[*Client]bool // topic -> clients
	broadcast  chan model.Event
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
	mu         sync.RWMutex
	upgrader   websocket.Upgrader
}

// NewHub creates a hub accepting websocket upgrades from allowedOrigin, or
// from anywhere when it is "*" or empty.
func NewHub(allowedOrigin string) *Hub {
	return &Hub{
		clients:    make(map[string]map[*Client]bool),
		broadcast:  make(chan model.Event, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				if allowedOrigin == "" || allowedOrigin == "*" {
					return true
				}
				return r.Header.Get("Origin") == allowedOrigin
			},
		},
	}
}

// Run processes registrations and broadcasts until ctx is done.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for topic, clients := range h.clients {
				for client := range clients {
					close(client.send)
				}
				delete(h.clients, topic)
			}
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			if h.clients[client.topic] == nil {
				h.clients[client.topic] = make(map[*Client]bool)
			}
			h.clients[client.topic][client] = true
			h.mu.Unlock()

		case client := <-h.unregister:
			h.mu.Lock()
			h.remove(client)
			h.mu.Unlock()

		case ev := <-h.broadcast:
			msg := mustMarshal(ev)
			h.mu.Lock()
			for client := range h.clients[ev.Topic] {
				select {
				case client.send <- msg:
				default:
					// too slow, drop it; the client resubscribes and gets a fresh snapshot
					h.remove(client)
				}
			}
			h.mu.Unlock()
		}
	}
}

// remove must be called with mu held.
func (h *Hub) remove(client *Client) {
	clients, ok := h.clients[client.topic]
	if !ok {
		return
	}
	if _, ok := clients[client]; !ok {
		return
	}
	delete(clients, client)
	close(client.send)
	if len(clients) == 0 {
		delete(h.clients, client.topic)
	}
}

// Broadcast queues ev for delivery to the subscribers of ev.Topic.
func (h *Hub) Broadcast(ev model.Event) {
	select {
	case h.broadcast <- ev:
	case <-h.done:
	}
}

// Subscribers returns the number of clients subscribed to topic.
func (h *Hub) Subscribers(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[topic])
}

// ServeWS upgrades the request, sends snapshot and then streams topic
// events until the connection closes.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, topic string, snapshot model.Event) error {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}
	client := newClient(h, conn, topic)
	client.send <- mustMarshal(snapshot)
	select {
	case h.register <- client:
	case <-h.done:
		conn.Close()
		return nil
	}

	metrics.SubscriberConnected()
	defer metrics.SubscriberDisconnected()

	go client.writePump()
	client.readPump()
	return nil
}

func mustMarshal(v interface{}) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		slog.Error("Failed to marshal event", "error", err)
		return []byte("{}")
	}
	return b
}
