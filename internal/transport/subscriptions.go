// Package transport connects the resilience layer to the collaboration
// backend: a websocket session carrying live-update subscriptions and
// inbound collaboration events, and an HTTP client for backlog fetches.
package transport

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"collabsync/internal/models"
	"collabsync/internal/platform"
)

// ErrNotConnected is returned when a subscription is requested while the
// websocket session is down. Callers surface this: silently losing a
// requested live subscription would hide data.
var ErrNotConnected = errors.New("transport: not connected")

const writeTimeout = 5 * time.Second

// SubscriptionService creates and cancels live-update subscriptions. The
// coordinator treats it as a dumb resource paused and resumed by
// cancel+recreate.
type SubscriptionService interface {
	Create(ctx context.Context, query string, vars map[string]any) (string, error)
	Cancel(ctx context.Context, id string) error
}

// EventHandler consumes inbound collaboration events.
type EventHandler func(models.CollaborationEvent)

const (
	frameSubscribe   = "subscribe"
	frameUnsubscribe = "unsubscribe"
	frameEvent       = "event"
	frameVisibility  = "visibility"
)

type frame struct {
	Type    string                     `json:"type"`
	ID      string                     `json:"id,omitempty"`
	Query   string                     `json:"query,omitempty"`
	Vars    map[string]any             `json:"vars,omitempty"`
	Visible *bool                      `json:"visible,omitempty"`
	Event   *models.CollaborationEvent `json:"event,omitempty"`
}

type subscription struct {
	query string
	vars  map[string]any
}

// WSClient maintains the websocket session with the collaboration backend.
// It reconnects with exponential backoff, replays tracked subscriptions
// after a reconnect, forwards event frames to the registered handler, and
// feeds visibility control frames into the platform hub.
type WSClient struct {
	url     string
	handler EventHandler
	hub     *platform.Hub

	mu   sync.Mutex
	conn *websocket.Conn
	subs map[string]subscription

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewWSClient configures a client for url. handler receives inbound events;
// hub, if non-nil, receives visibility signals reported by the UI.
func NewWSClient(url string, handler EventHandler, hub *platform.Hub) *WSClient {
	return &WSClient{
		url:     url,
		handler: handler,
		hub:     hub,
		subs:    make(map[string]subscription),
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
}

// Start launches the session loop.
func (c *WSClient) Start() {
	go c.run()
}

// Stop closes the session and waits for the loop to exit.
func (c *WSClient) Stop() {
	select {
	case <-c.doneCh:
		return
	default:
	}
	close(c.stopCh)
	c.mu.Lock()
	if c.conn != nil {
		_ = c.conn.Close()
	}
	c.mu.Unlock()
	<-c.doneCh
}

// Create registers a live-update subscription and sends it to the backend.
// Failures propagate to the caller unchanged.
func (c *WSClient) Create(ctx context.Context, query string, vars map[string]any) (string, error) {
	id := uuid.NewString()

	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return "", ErrNotConnected
	}

	if err := c.writeFrame(frame{Type: frameSubscribe, ID: id, Query: query, Vars: vars}); err != nil {
		return "", err
	}

	c.mu.Lock()
	c.subs[id] = subscription{query: query, vars: vars}
	c.mu.Unlock()
	return id, nil
}

// Cancel removes a subscription. Cancelling while disconnected only drops
// the local record; the backend forgets the subscription with the session.
func (c *WSClient) Cancel(ctx context.Context, id string) error {
	c.mu.Lock()
	delete(c.subs, id)
	conn := c.conn
	c.mu.Unlock()

	if conn == nil {
		return nil
	}
	return c.writeFrame(frame{Type: frameUnsubscribe, ID: id})
}

func (c *WSClient) run() {
	defer close(c.doneCh)

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = 0

	for {
		select {
		case <-c.stopCh:
			return
		default:
		}

		conn, _, err := websocket.DefaultDialer.Dial(c.url, nil)
		if err != nil {
			wait := bo.NextBackOff()
			log.Printf("transport: dial %s failed: %v (retry in %s)", c.url, err, wait)
			select {
			case <-time.After(wait):
				continue
			case <-c.stopCh:
				return
			}
		}

		bo.Reset()
		c.mu.Lock()
		c.conn = conn
		c.mu.Unlock()

		c.resubscribe()
		c.readLoop(conn)

		c.mu.Lock()
		c.conn = nil
		c.mu.Unlock()
	}
}

// resubscribe replays tracked subscriptions after a reconnect.
func (c *WSClient) resubscribe() {
	c.mu.Lock()
	subs := make(map[string]subscription, len(c.subs))
	for id, sub := range c.subs {
		subs[id] = sub
	}
	c.mu.Unlock()

	for id, sub := range subs {
		if err := c.writeFrame(frame{Type: frameSubscribe, ID: id, Query: sub.query, Vars: sub.vars}); err != nil {
			log.Printf("transport: resubscribe %s failed: %v", id, err)
			return
		}
	}
}

func (c *WSClient) readLoop(conn *websocket.Conn) {
	for {
		var f frame
		if err := conn.ReadJSON(&f); err != nil {
			select {
			case <-c.stopCh:
			default:
				log.Printf("transport: session closed: %v", err)
			}
			return
		}
		c.dispatch(f)
	}
}

func (c *WSClient) dispatch(f frame) {
	switch f.Type {
	case frameEvent:
		if f.Event == nil || c.handler == nil {
			return
		}
		ev := *f.Event
		if ev.ID == "" {
			ev.ID = uuid.NewString()
		}
		if ev.OccurredAt.IsZero() {
			ev.OccurredAt = time.Now().UTC()
		}
		c.handler(ev)
	case frameVisibility:
		if f.Visible != nil && c.hub != nil {
			c.hub.ReportVisibility(*f.Visible)
		}
	}
}

func (c *WSClient) writeFrame(f frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return ErrNotConnected
	}
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.conn.WriteJSON(f)
}
