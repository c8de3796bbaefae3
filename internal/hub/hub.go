package hub

import (
	"encoding/json"
	"log"
	"sync"
)

// Event is one message on a document's live feed. Handlers publish change
// and checkout events; connected clients publish presence events.
type Event struct {
	Type       string      `json:"type"`
	DocumentID string      `json:"document_id"`
	Payload    interface{} `json:"payload,omitempty"`
}

const (
	EventPresence = "presence"
	EventChange   = "change"
	EventCheckout = "checkout"
	EventJoin     = "join"
	EventLeave    = "leave"
)

// presenceSink receives presence updates read off client connections.
type presenceSink interface {
	UpdatePresenceRaw(documentID, userID string, payload json.RawMessage)
}

// broadcastMessage fans one frame out to a document room.
type broadcastMessage struct {
	documentID string
	message    []byte
	sender     *Client
}

// Hub fans document events out to every WebSocket client watching that
// document. One room per document, rooms created and removed on demand.
type Hub struct {
	rooms      map[string]map[*Client]bool
	register   chan *Client
	unregister chan *Client
	broadcast  chan *broadcastMessage
	presence   presenceSink

	mu   sync.RWMutex
	done chan struct{}
	once sync.Once
}

// NewHub creates a hub. Presence updates read off client connections are
// forwarded to sink; a nil sink drops them.
func NewHub(sink presenceSink) *Hub {
	return &Hub{
		rooms:      make(map[string]map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan *broadcastMessage, 256),
		presence:   sink,
		done:       make(chan struct{}),
	}
}

// Start begins the hub event loop.
func (h *Hub) Start() {
	log.Println("🔄 Starting document event hub...")

	go func() {
		for {
			select {
			case <-h.done:
				log.Println("Event hub shutting down...")
				return

			case client := <-h.register:
				h.handleRegister(client)

			case client := <-h.unregister:
				h.handleUnregister(client)

			case msg := <-h.broadcast:
				h.handleBroadcast(msg)
			}
		}
	}()

	log.Println("✓ Document event hub started")
}

// Publish sends an event to every client watching a document. Safe to call
// from any goroutine; events for documents with no watchers are dropped.
func (h *Hub) Publish(documentID string, event Event) {
	event.DocumentID = documentID
	data, err := json.Marshal(event)
	if err != nil {
		log.Printf("⚠️  Failed to encode %s event for document %s: %v", event.Type, documentID, err)
		return
	}

	select {
	case h.broadcast <- &broadcastMessage{documentID: documentID, message: data}:
	case <-h.done:
	}
}

func (h *Hub) handleRegister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.rooms[client.documentID] == nil {
		h.rooms[client.documentID] = make(map[*Client]bool)
	}
	h.rooms[client.documentID][client] = true

	log.Printf("  Client %s watching document %s (total: %d watchers)",
		client.userID, client.documentID, len(h.rooms[client.documentID]))
}

func (h *Hub) handleUnregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	clients, ok := h.rooms[client.documentID]
	if !ok {
		return
	}
	if _, ok := clients[client]; !ok {
		return
	}

	delete(clients, client)
	close(client.send)
	if len(clients) == 0 {
		delete(h.rooms, client.documentID)
	}

	log.Printf("  Client %s stopped watching document %s (remaining: %d watchers)",
		client.userID, client.documentID, len(clients))
}

func (h *Hub) handleBroadcast(msg *broadcastMessage) {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.rooms[msg.documentID]))
	for client := range h.rooms[msg.documentID] {
		clients = append(clients, client)
	}
	h.mu.RUnlock()

	for _, client := range clients {
		if msg.sender != nil && client == msg.sender {
			continue
		}

		select {
		case client.send <- msg.message:
		default:
			// Buffer full, connection is slow or dead
			log.Printf("⚠️  Client %s buffer full, dropping connection", client.userID)
			h.handleSlowClient(client)
		}
	}
}

// handleSlowClient evicts a client whose send buffer filled up. Done
// inline rather than via the unregister channel so a full channel cannot
// wedge the broadcast path.
func (h *Hub) handleSlowClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if clients, ok := h.rooms[client.documentID]; ok {
		if _, ok := clients[client]; ok {
			delete(clients, client)
			close(client.send)
			if len(clients) == 0 {
				delete(h.rooms, client.documentID)
			}
		}
	}
}

// Watchers returns how many clients are connected for a document.
func (h *Hub) Watchers(documentID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[documentID])
}

// Shutdown closes every connection and stops the event loop. Idempotent.
func (h *Hub) Shutdown() {
	h.once.Do(func() {
		log.Println("🛑 Shutting down event hub...")

		close(h.done)

		h.mu.Lock()
		defer h.mu.Unlock()

		for _, clients := range h.rooms {
			for client := range clients {
				close(client.send)
				client.conn.Close()
			}
		}
		h.rooms = make(map[string]map[*Client]bool)

		log.Println("✓ Event hub shutdown complete")
	})
}
