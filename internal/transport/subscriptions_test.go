package transport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"collabsync/internal/models"
	"collabsync/internal/platform"
)

// wsBackend is a minimal collaboration backend: it accepts sessions, records
// inbound frames, and lets tests push frames to the connected client.
type wsBackend struct {
	upgrader websocket.Upgrader
	frames   chan frame

	mu   sync.Mutex
	conn *websocket.Conn
}

func newWSBackend(t *testing.T) (*wsBackend, string) {
	t.Helper()
	b := &wsBackend{frames: make(chan frame, 16)}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := b.upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		b.mu.Lock()
		b.conn = conn
		b.mu.Unlock()

		for {
			var f frame
			if err := conn.ReadJSON(&f); err != nil {
				return
			}
			b.frames <- f
		}
	}))
	t.Cleanup(srv.Close)

	return b, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func (b *wsBackend) send(t *testing.T, f frame) {
	t.Helper()
	b.mu.Lock()
	defer b.mu.Unlock()
	require.NotNil(t, b.conn)
	require.NoError(t, b.conn.WriteJSON(f))
}

func (b *wsBackend) dropSession() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.conn != nil {
		_ = b.conn.Close()
	}
}

func (b *wsBackend) nextFrame(t *testing.T) frame {
	t.Helper()
	select {
	case f := <-b.frames:
		return f
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for frame")
		return frame{}
	}
}

func startClient(t *testing.T, url string, handler EventHandler, hub *platform.Hub) *WSClient {
	t.Helper()
	c := NewWSClient(url, handler, hub)
	c.Start()
	t.Cleanup(c.Stop)
	return c
}

func waitConnected(t *testing.T, c *WSClient) {
	t.Helper()
	require.Eventually(t, func() bool {
		c.mu.Lock()
		defer c.mu.Unlock()
		return c.conn != nil
	}, 2*time.Second, 5*time.Millisecond)
}

func TestWSClientSubscribeUnsubscribe(t *testing.T) {
	backend, url := newWSBackend(t)
	c := startClient(t, url, nil, nil)
	waitConnected(t, c)

	id, err := c.Create(context.Background(), "collaboration_events", map[string]any{"room": "r1"})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	f := backend.nextFrame(t)
	assert.Equal(t, "subscribe", f.Type)
	assert.Equal(t, id, f.ID)
	assert.Equal(t, "collaboration_events", f.Query)

	require.NoError(t, c.Cancel(context.Background(), id))
	f = backend.nextFrame(t)
	assert.Equal(t, "unsubscribe", f.Type)
	assert.Equal(t, id, f.ID)
}

func TestWSClientCreateWhileDisconnected(t *testing.T) {
	c := NewWSClient("ws://127.0.0.1:1/ws", nil, nil)

	_, err := c.Create(context.Background(), "q", nil)
	assert.ErrorIs(t, err, ErrNotConnected)

	// Cancelling while down only drops the local record.
	assert.NoError(t, c.Cancel(context.Background(), "whatever"))
}

func TestWSClientDispatchesEvents(t *testing.T) {
	backend, url := newWSBackend(t)

	events := make(chan models.CollaborationEvent, 1)
	c := startClient(t, url, func(ev models.CollaborationEvent) { events <- ev }, nil)
	waitConnected(t, c)

	backend.send(t, frame{Type: "event", Event: &models.CollaborationEvent{
		Kind:         models.KindContentChanged,
		ActorID:      "u2",
		ResourceID:   "r1",
		ResourceKind: models.ResourceCase,
	}})

	select {
	case ev := <-events:
		assert.Equal(t, models.KindContentChanged, ev.Kind)
		// The transport assigns missing ids and timestamps.
		assert.NotEmpty(t, ev.ID)
		assert.False(t, ev.OccurredAt.IsZero())
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestWSClientForwardsVisibilityFrames(t *testing.T) {
	backend, url := newWSBackend(t)
	hub := platform.NewHub()

	c := startClient(t, url, nil, hub)
	waitConnected(t, c)

	visible := false
	backend.send(t, frame{Type: "visibility", Visible: &visible})

	require.Eventually(t, func() bool { return !hub.LastVisible() }, 2*time.Second, 5*time.Millisecond)
}

func TestWSClientResubscribesAfterReconnect(t *testing.T) {
	backend, url := newWSBackend(t)
	c := startClient(t, url, nil, nil)
	waitConnected(t, c)

	id, err := c.Create(context.Background(), "collaboration_events", nil)
	require.NoError(t, err)
	require.Equal(t, "subscribe", backend.nextFrame(t).Type)

	backend.dropSession()

	// The replayed subscription arrives on the new session with the same id.
	f := backend.nextFrame(t)
	assert.Equal(t, "subscribe", f.Type)
	assert.Equal(t, id, f.ID)
}

func TestWSClientStopIdempotent(t *testing.T) {
	_, url := newWSBackend(t)
	c := NewWSClient(url, nil, nil)
	c.Start()
	waitConnected(t, c)

	c.Stop()
	c.Stop()
}
