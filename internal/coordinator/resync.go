package coordinator

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sort"
	"time"

	"collabsync/internal/models"
)

const (
	watermarkKey  = "collab:last_sync_watermark"
	spillKey      = "collab:offline_buffer"
	resyncTimeout = 15 * time.Second
)

// resync reconciles with server-side truth after a reconnect: fetch events
// since the persisted watermark, merge them ahead of locally-buffered events
// (server wins ties), apply, then advance and persist the watermark. On
// fetch failure the phase transition stands and the resync is retried on the
// next foreground or poll tick; partial resync beats blocking the UI.
func (c *Coordinator) resync() {
	c.mu.Lock()
	since := c.watermark
	c.mu.Unlock()

	var serverEvents []models.CollaborationEvent
	if c.deps.Source != nil {
		ctx, cancel := context.WithTimeout(context.Background(), resyncTimeout)
		events, err := c.deps.Source.EventsSince(ctx, since)
		cancel()
		if err != nil {
			log.Printf("coordinator: resync failed: %v (will retry)", err)
			c.mu.Lock()
			c.resyncPending = true
			c.mu.Unlock()
			return
		}
		serverEvents = events
	}

	buffered := c.buffer.Claim()
	c.applyAll(mergeEvents(serverEvents, buffered))

	now := time.Now().UTC()
	c.mu.Lock()
	if now.After(c.watermark) {
		c.watermark = now
	}
	watermark := c.watermark
	c.resyncPending = false
	c.mu.Unlock()

	c.persistWatermark(watermark)
	c.clearSpill()
}

// mergeEvents interleaves server truth with locally-buffered events by
// OccurredAt. Local copies of events the server also returned are dropped;
// on equal timestamps the server event sorts first.
func mergeEvents(server, local []models.CollaborationEvent) []models.CollaborationEvent {
	if len(server) == 0 {
		return local
	}

	seen := make(map[string]struct{}, len(server))
	for _, ev := range server {
		seen[eventIdentity(ev)] = struct{}{}
	}

	merged := make([]models.CollaborationEvent, 0, len(server)+len(local))
	merged = append(merged, server...)
	for _, ev := range local {
		if _, dup := seen[eventIdentity(ev)]; dup {
			continue
		}
		merged = append(merged, ev)
	}

	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].OccurredAt.Before(merged[j].OccurredAt)
	})
	return merged
}

// eventIdentity ignores transport-assigned ids: the same event seen live and
// in the backlog must collapse to one application.
func eventIdentity(ev models.CollaborationEvent) string {
	return fmt.Sprintf("%s|%s|%s|%s|%d",
		ev.Kind, ev.ActorID, ev.ResourceKind, ev.ResourceID, ev.OccurredAt.UnixNano())
}

// loadDurable restores the watermark and any spilled offline events.
func (c *Coordinator) loadDurable() {
	if c.deps.Cache == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), actionTimeout)
	defer cancel()

	if raw, found, err := c.deps.Cache.Get(ctx, watermarkKey); err != nil {
		log.Printf("coordinator: load watermark: %v", err)
	} else if found {
		if ts, err := time.Parse(time.RFC3339Nano, string(raw)); err != nil {
			log.Printf("coordinator: parse watermark: %v", err)
		} else {
			c.mu.Lock()
			c.watermark = ts
			c.mu.Unlock()
		}
	}

	if raw, found, err := c.deps.Cache.Get(ctx, spillKey); err != nil {
		log.Printf("coordinator: load offline buffer: %v", err)
	} else if found {
		var events []models.CollaborationEvent
		if err := json.Unmarshal(raw, &events); err != nil {
			log.Printf("coordinator: parse offline buffer: %v", err)
		} else {
			c.buffer.Restore(events)
		}
	}
}

func (c *Coordinator) persistWatermark(watermark time.Time) {
	if c.deps.Cache == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), actionTimeout)
	defer cancel()
	value := []byte(watermark.UTC().Format(time.RFC3339Nano))
	if err := c.deps.Cache.Put(ctx, watermarkKey, value); err != nil {
		log.Printf("coordinator: persist watermark: %v", err)
	}
}

// spillBuffer copies the in-memory buffer into the durable cache so offline
// events survive a restart.
func (c *Coordinator) spillBuffer() {
	if c.deps.Cache == nil {
		return
	}

	events := c.buffer.Snapshot()
	ctx, cancel := context.WithTimeout(context.Background(), actionTimeout)
	defer cancel()

	if len(events) == 0 {
		if err := c.deps.Cache.Delete(ctx, spillKey); err != nil {
			log.Printf("coordinator: clear offline buffer spill: %v", err)
		}
		return
	}

	raw, err := json.Marshal(events)
	if err != nil {
		log.Printf("coordinator: encode offline buffer: %v", err)
		return
	}
	if err := c.deps.Cache.Put(ctx, spillKey, raw); err != nil {
		log.Printf("coordinator: spill offline buffer: %v", err)
	}
}

func (c *Coordinator) clearSpill() {
	if c.deps.Cache == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), actionTimeout)
	defer cancel()
	if err := c.deps.Cache.Delete(ctx, spillKey); err != nil {
		log.Printf("coordinator: clear offline buffer spill: %v", err)
	}
}
