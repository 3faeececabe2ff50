// Package platform abstracts the signal sources the resilience layer reacts
// to: connectivity changes and foreground/background visibility changes.
// Adapters (the dial watcher, transport control frames, the status API) push
// raw signals into a Hub; consumers see only deduplicated transitions.
package platform

import (
	"sync"

	"collabsync/internal/models"
)

// NetworkInfo carries link metadata reported alongside a connectivity signal.
// A nil NetworkInfo means the reporting side has no network information API;
// consumers fall back to defaults and degrade precision, never fail.
type NetworkInfo struct {
	ConnectionClass models.ConnectionClass
	EffectiveClass  models.EffectiveClass
	DownlinkMbps    float64
	RoundTripMs     int
	SaveData        bool
}

// Unsubscribe removes a previously registered listener. Safe to call twice.
type Unsubscribe func()

// Signals is the platform signal source consumed by the monitor and the
// coordinator.
type Signals interface {
	OnConnectivityChange(fn func(online bool, info *NetworkInfo)) Unsubscribe
	OnVisibilityChange(fn func(visible bool)) Unsubscribe
	LastOnline() bool
	LastVisible() bool
}

// Hub is the in-process Signals implementation.
type Hub struct {
	mu            sync.Mutex
	online        bool
	visible       bool
	info          *NetworkInfo
	nextID        int
	connListeners map[int]func(bool, *NetworkInfo)
	visListeners  map[int]func(bool)
}

// NewHub returns a hub seeded online and foreground, the optimistic defaults
// a freshly started client assumes until a signal says otherwise.
func NewHub() *Hub {
	return &Hub{
		online:        true,
		visible:       true,
		connListeners: make(map[int]func(bool, *NetworkInfo)),
		visListeners:  make(map[int]func(bool)),
	}
}

// OnConnectivityChange registers fn for connectivity transitions.
func (h *Hub) OnConnectivityChange(fn func(online bool, info *NetworkInfo)) Unsubscribe {
	h.mu.Lock()
	id := h.nextID
	h.nextID++
	h.connListeners[id] = fn
	h.mu.Unlock()

	return func() {
		h.mu.Lock()
		delete(h.connListeners, id)
		h.mu.Unlock()
	}
}

// OnVisibilityChange registers fn for foreground/background transitions.
func (h *Hub) OnVisibilityChange(fn func(visible bool)) Unsubscribe {
	h.mu.Lock()
	id := h.nextID
	h.nextID++
	h.visListeners[id] = fn
	h.mu.Unlock()

	return func() {
		h.mu.Lock()
		delete(h.visListeners, id)
		h.mu.Unlock()
	}
}

// LastOnline returns the last reported connectivity signal.
func (h *Hub) LastOnline() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.online
}

// LastVisible returns the last reported visibility signal.
func (h *Hub) LastVisible() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.visible
}

// ReportConnectivity pushes a raw connectivity signal into the hub. Repeated
// identical signals are swallowed; listeners only see actual changes. A nil
// info means "no link metadata this time" and does not count as a change.
func (h *Hub) ReportConnectivity(online bool, info *NetworkInfo) {
	h.mu.Lock()
	if online == h.online && (info == nil || sameInfo(info, h.info)) {
		h.mu.Unlock()
		return
	}
	h.online = online
	if info != nil {
		copied := *info
		h.info = &copied
	}
	listeners := make([]func(bool, *NetworkInfo), 0, len(h.connListeners))
	for _, fn := range h.connListeners {
		listeners = append(listeners, fn)
	}
	h.mu.Unlock()

	for _, fn := range listeners {
		fn(online, info)
	}
}

// ReportVisibility pushes a raw visibility signal into the hub. Only actual
// transitions fire; a repeated identical signal is a no-op.
func (h *Hub) ReportVisibility(visible bool) {
	h.mu.Lock()
	if visible == h.visible {
		h.mu.Unlock()
		return
	}
	h.visible = visible
	listeners := make([]func(bool), 0, len(h.visListeners))
	for _, fn := range h.visListeners {
		listeners = append(listeners, fn)
	}
	h.mu.Unlock()

	for _, fn := range listeners {
		fn(visible)
	}
}

func sameInfo(a, b *NetworkInfo) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
