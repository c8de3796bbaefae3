package hub

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"doc-collab/internal/collab"
	"doc-collab/internal/models"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestHub(t *testing.T) (*Hub, *collab.Tracker, string) {
	t.Helper()

	tracker := collab.NewTracker()
	h := NewHub(tracker)
	h.Start()
	t.Cleanup(h.Shutdown)

	r := mux.NewRouter()
	r.HandleFunc("/ws/documents/{id}", h.ServeWS)
	server := httptest.NewServer(r)
	t.Cleanup(server.Close)

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")
	return h, tracker, wsURL
}

func dial(t *testing.T, wsURL, docID, userID string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(wsURL+"/ws/documents/"+docID+"?user_id="+userID, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func waitForWatchers(t *testing.T, h *Hub, docID string, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if h.Watchers(docID) == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("document %s never reached %d watchers", docID, want)
}

func TestPublishReachesWatchers(t *testing.T) {
	h, _, wsURL := newTestHub(t)

	conn := dial(t, wsURL, "doc1", "alice")
	waitForWatchers(t, h, "doc1", 1)

	h.Publish("doc1", Event{Type: EventChange, Payload: map[string]int{"version": 3}})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var event Event
	require.NoError(t, json.Unmarshal(data, &event))
	assert.Equal(t, EventChange, event.Type)
	assert.Equal(t, "doc1", event.DocumentID)
}

func TestEventsAreScopedToDocument(t *testing.T) {
	h, _, wsURL := newTestHub(t)

	conn1 := dial(t, wsURL, "doc1", "alice")
	conn2 := dial(t, wsURL, "doc2", "bob")
	waitForWatchers(t, h, "doc1", 1)
	waitForWatchers(t, h, "doc2", 1)

	h.Publish("doc1", Event{Type: EventCheckout})

	conn1.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := conn1.ReadMessage()
	require.NoError(t, err)

	// Nothing should arrive for the other document.
	conn2.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
	_, _, err = conn2.ReadMessage()
	assert.Error(t, err)
}

func TestPresenceFramesUpdateTrackerAndFanOut(t *testing.T) {
	h, tracker, wsURL := newTestHub(t)
	tracker.Join("doc1", models.CollabJoinRequest{UserID: "alice"})

	sender := dial(t, wsURL, "doc1", "alice")
	watcher := dial(t, wsURL, "doc1", "bob")
	waitForWatchers(t, h, "doc1", 2)

	frame := map[string]interface{}{
		"type":    EventPresence,
		"payload": map[string]interface{}{"cursor": map[string]int{"line": 4, "column": 2}},
	}
	require.NoError(t, sender.WriteJSON(frame))

	// The other watcher sees the rebroadcast; the sender does not get an
	// echo of its own frame.
	watcher.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := watcher.ReadMessage()
	require.NoError(t, err)

	var event Event
	require.NoError(t, json.Unmarshal(data, &event))
	assert.Equal(t, EventPresence, event.Type)

	// The tracker absorbed the cursor position.
	deadline := time.Now().Add(2 * time.Second)
	for {
		users := tracker.ActiveUsers("doc1")
		if len(users) == 1 && users[0].Cursor != nil {
			assert.Equal(t, 4, users[0].Cursor.Line)
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("presence update never reached the tracker")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestDisconnectRemovesWatcher(t *testing.T) {
	h, _, wsURL := newTestHub(t)

	conn := dial(t, wsURL, "doc1", "alice")
	waitForWatchers(t, h, "doc1", 1)

	conn.Close()
	waitForWatchers(t, h, "doc1", 0)
}

func TestPublishWithoutWatchersIsSafe(t *testing.T) {
	h, _, _ := newTestHub(t)
	h.Publish("ghost", Event{Type: EventChange})
}

func TestShutdownIsIdempotent(t *testing.T) {
	tracker := collab.NewTracker()
	h := NewHub(tracker)
	h.Start()
	h.Shutdown()
	h.Shutdown()
}
