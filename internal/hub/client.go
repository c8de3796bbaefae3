package hub

import (
	"encoding/json"
	"log"
	"net/http"
	"time"

	"doc-collab/internal/middleware"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel/attribute"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// TODO: validate origin against configured allowed hosts
		return true
	},
}

// Client is one WebSocket subscriber to a document's event feed.
type Client struct {
	hub        *Hub
	conn       *websocket.Conn
	send       chan []byte
	documentID string
	userID     string
}

// inboundFrame is what clients are allowed to send: presence updates only.
type inboundFrame struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// ServeWS upgrades an HTTP request to a WebSocket subscription on the
// document's event feed.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	documentID := mux.Vars(r)["id"]
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		userID = "anonymous"
	}

	ctx, span := middleware.StartSpan(r.Context(), "Feed.Connect",
		attribute.String("document.id", documentID),
		attribute.String("user.id", userID),
	)
	defer span.End()

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("Failed to upgrade WebSocket: %v", err)
		middleware.AddSpanError(ctx, err)
		return
	}

	client := &Client{
		hub:        h,
		conn:       conn,
		send:       make(chan []byte, 256),
		documentID: documentID,
		userID:     userID,
	}

	select {
	case h.register <- client:
	case <-h.done:
		conn.Close()
		return
	}

	// Separate read and write goroutines so a slow reader can never block
	// writes and vice versa.
	go client.writePump()
	go client.readPump()

	log.Printf("✓ WebSocket feed open for document %s (user: %s)", documentID, userID)
}

// readPump consumes inbound frames. Presence frames are forwarded to the
// tracker and rebroadcast to the room; anything else is ignored.
func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("WebSocket error: %v", err)
			}
			break
		}

		var frame inboundFrame
		if err := json.Unmarshal(message, &frame); err != nil || frame.Type != EventPresence {
			continue
		}

		if c.hub.presence != nil {
			c.hub.presence.UpdatePresenceRaw(c.documentID, c.userID, frame.Payload)
		}

		out, err := json.Marshal(Event{
			Type:       EventPresence,
			DocumentID: c.documentID,
			Payload:    map[string]interface{}{"user_id": c.userID, "state": frame.Payload},
		})
		if err != nil {
			continue
		}

		select {
		case c.hub.broadcast <- &broadcastMessage{documentID: c.documentID, message: out, sender: c}:
		case <-c.hub.done:
			return
		}
	}
}

// writePump drains the send channel onto the connection and keeps the
// connection alive with pings.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			// Batch additional queued messages into the same frame writer
			n := len(c.send)
			for i := 0; i < n; i++ {
				w.Write([]byte{'\n'})
				w.Write(<-c.send)
			}

			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
