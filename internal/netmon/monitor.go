// Package netmon owns the canonical connectivity state. It merges platform
// signals with sampled probes, deduplicates changes against configurable
// noise thresholds, and fans qualifying states out to subscribers.
package netmon

import (
	"context"
	"log"
	"sort"
	"sync"
	"time"

	"collabsync/internal/models"
	"collabsync/internal/platform"
	"collabsync/internal/scheduler"
)

const healthTaskName = "connectivity-health"

// Listener receives published connectivity states. Registration immediately
// replays the current state so subscribers never special-case "no data yet".
type Listener func(models.ConnectivityState)

// Thresholds is the publish noise gate: smaller deltas are dropped so jittery
// probes do not cause listener storms. Online flips, class changes and
// save-data flips always publish.
type Thresholds struct {
	DownlinkMbps float64
	RoundTripMs  int
}

// DefaultThresholds returns the reference noise gate.
func DefaultThresholds() Thresholds {
	return Thresholds{DownlinkMbps: 1, RoundTripMs: 50}
}

// Options tune a Monitor. Zero values fall back to defaults.
type Options struct {
	HealthInterval time.Duration
	Thresholds     Thresholds
	MaxHistory     int
}

// Monitor classifies network presence and quality. It is constructed
// explicitly and injected where needed; single-instance behavior is an
// application-wiring choice, not a property of the type.
type Monitor struct {
	signals    platform.Signals
	sampler    Sampler
	sched      scheduler.Scheduler
	interval   time.Duration
	thresholds Thresholds
	maxHistory int

	mu           sync.RWMutex
	initialized  bool
	state        models.ConnectivityState
	history      []models.ConnectivityState
	listeners    map[int]Listener
	nextID       int
	hook         func()
	unsubSignals platform.Unsubscribe
	cancelHealth scheduler.CancelFunc
}

// New creates a monitor reading signals, probing through sampler, and running
// its health check on sched.
func New(signals platform.Signals, sampler Sampler, sched scheduler.Scheduler, opts Options) *Monitor {
	interval := opts.HealthInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	thresholds := opts.Thresholds
	if thresholds.DownlinkMbps <= 0 {
		thresholds.DownlinkMbps = DefaultThresholds().DownlinkMbps
	}
	if thresholds.RoundTripMs <= 0 {
		thresholds.RoundTripMs = DefaultThresholds().RoundTripMs
	}
	maxHistory := opts.MaxHistory
	if maxHistory <= 0 {
		maxHistory = 2048
	}

	return &Monitor{
		signals:    signals,
		sampler:    sampler,
		sched:      sched,
		interval:   interval,
		thresholds: thresholds,
		maxHistory: maxHistory,
		listeners:  make(map[int]Listener),
	}
}

// Initialize wires the platform listeners and starts the background health
// check. It is idempotent: subsequent calls while initialized are no-ops.
// offlineSyncHook, if non-nil, is invoked after an offline-to-online flip so
// the data-sync subsystem can reconcile; it may be nil.
func (m *Monitor) Initialize(offlineSyncHook func()) {
	m.mu.Lock()
	if m.initialized {
		m.mu.Unlock()
		return
	}
	m.initialized = true
	m.hook = offlineSyncHook
	m.state = defaultState(m.signals.LastOnline())
	m.history = append(m.history, m.state)
	m.mu.Unlock()

	unsub := m.signals.OnConnectivityChange(m.handleSignal)
	cancel := m.sched.ScheduleRepeating(healthTaskName, m.interval, m.healthTick)

	m.mu.Lock()
	m.unsubSignals = unsub
	m.cancelHealth = cancel
	m.mu.Unlock()
}

// Destroy removes the platform listeners and clears the subscriber set. Safe
// to call multiple times.
func (m *Monitor) Destroy() {
	m.mu.Lock()
	if !m.initialized {
		m.mu.Unlock()
		return
	}
	m.initialized = false
	unsub := m.unsubSignals
	cancel := m.cancelHealth
	m.unsubSignals = nil
	m.cancelHealth = nil
	m.listeners = make(map[int]Listener)
	m.hook = nil
	m.mu.Unlock()

	if unsub != nil {
		unsub()
	}
	if cancel != nil {
		cancel()
	}
}

// CurrentState returns the last published snapshot. Never blocks on a probe.
func (m *Monitor) CurrentState() models.ConnectivityState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// OnStateChange registers a listener and immediately invokes it once with the
// current state, then on every subsequent qualifying change.
func (m *Monitor) OnStateChange(listener Listener) platform.Unsubscribe {
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.listeners[id] = listener
	current := m.state
	m.mu.Unlock()

	safeNotify(listener, current)

	return func() {
		m.mu.Lock()
		delete(m.listeners, id)
		m.mu.Unlock()
	}
}

// CheckNetworkStatus forces a fresh probe, publishes the result if it
// qualifies as a change, and returns the resulting state regardless.
func (m *Monitor) CheckNetworkStatus(ctx context.Context) models.ConnectivityState {
	report := m.sampler.Probe(ctx)

	m.mu.RLock()
	next := m.state
	m.mu.RUnlock()

	if report.LatencyMs > 0 {
		next.RoundTripMs = int(report.LatencyMs)
		if report.DownloadMbpsEstimate > 0 {
			next.DownlinkMbps = report.DownloadMbpsEstimate
		}
		next.EffectiveClass = effectiveClassFor(next.RoundTripMs, next.DownlinkMbps)
	}
	next.ObservedAt = time.Now().UTC()

	m.publishIfChanged(next)
	return m.CurrentState()
}

// TestConnectionQuality runs one bounded probe. Probe failure degrades to the
// unstable reading rather than propagating an error.
func (m *Monitor) TestConnectionQuality(ctx context.Context) models.QualityReport {
	return m.sampler.Probe(ctx)
}

// History returns a copy of the published-state history.
func (m *Monitor) History() []models.ConnectivityState {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if len(m.history) == 0 {
		return nil
	}
	out := make([]models.ConnectivityState, len(m.history))
	copy(out, m.history)
	return out
}

// HistorySince returns published states observed at or after cutoff.
func (m *Monitor) HistorySince(cutoff time.Time) []models.ConnectivityState {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if len(m.history) == 0 {
		return nil
	}
	if cutoff.IsZero() {
		out := make([]models.ConnectivityState, len(m.history))
		copy(out, m.history)
		return out
	}

	idx := sort.Search(len(m.history), func(i int) bool {
		return !m.history[i].ObservedAt.Before(cutoff)
	})
	if idx >= len(m.history) {
		return nil
	}
	out := make([]models.ConnectivityState, len(m.history)-idx)
	copy(out, m.history[idx:])
	return out
}

func (m *Monitor) handleSignal(online bool, info *platform.NetworkInfo) {
	m.mu.RLock()
	next := m.state
	hook := m.hook
	m.mu.RUnlock()

	wasOnline := next.IsOnline
	next.IsOnline = online
	if info != nil {
		next.ConnectionClass = info.ConnectionClass
		next.EffectiveClass = info.EffectiveClass
		next.DownlinkMbps = info.DownlinkMbps
		next.RoundTripMs = info.RoundTripMs
		next.SaveData = info.SaveData
	}
	next.ObservedAt = time.Now().UTC()

	m.publishIfChanged(next)

	if online && !wasOnline && hook != nil {
		hook()
	}
}

// healthTick silently re-probes and republishes if changed. Each tick is
// independently guarded so one bad probe cannot kill the timer loop.
func (m *Monitor) healthTick() {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("netmon: health check panic: %v", r)
		}
	}()
	m.CheckNetworkStatus(context.Background())
}

// publishIfChanged applies the noise gate and, when the state qualifies,
// replaces the snapshot and notifies listeners in registration order.
func (m *Monitor) publishIfChanged(next models.ConnectivityState) bool {
	m.mu.Lock()
	if !qualifies(m.state, next, m.thresholds) {
		m.mu.Unlock()
		return false
	}
	m.state = next
	m.history = append(m.history, next)
	if len(m.history) > m.maxHistory {
		m.history = m.history[len(m.history)-m.maxHistory:]
	}

	ids := make([]int, 0, len(m.listeners))
	for id := range m.listeners {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	listeners := make([]Listener, 0, len(ids))
	for _, id := range ids {
		listeners = append(listeners, m.listeners[id])
	}
	m.mu.Unlock()

	for _, fn := range listeners {
		safeNotify(fn, next)
	}
	return true
}

// qualifies implements the change-detection rule: online flips, class changes
// and save-data flips always publish; downlink and round-trip deltas must
// exceed the thresholds.
func qualifies(prev, next models.ConnectivityState, t Thresholds) bool {
	if prev.IsOnline != next.IsOnline {
		return true
	}
	if prev.ConnectionClass != next.ConnectionClass {
		return true
	}
	if prev.EffectiveClass != next.EffectiveClass {
		return true
	}
	if prev.SaveData != next.SaveData {
		return true
	}
	delta := prev.DownlinkMbps - next.DownlinkMbps
	if delta < 0 {
		delta = -delta
	}
	if delta > t.DownlinkMbps {
		return true
	}
	rtt := prev.RoundTripMs - next.RoundTripMs
	if rtt < 0 {
		rtt = -rtt
	}
	return rtt > t.RoundTripMs
}

// safeNotify isolates listener failures so one bad subscriber cannot prevent
// the rest from being notified.
func safeNotify(fn Listener, state models.ConnectivityState) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("netmon: listener panic: %v", r)
		}
	}()
	fn(state)
}

// defaultState is the degraded-precision fallback when no network information
// API is available.
func defaultState(online bool) models.ConnectivityState {
	return models.ConnectivityState{
		IsOnline:        online,
		ConnectionClass: models.ConnectionUnknown,
		EffectiveClass:  models.Effective4G,
		DownlinkMbps:    10,
		RoundTripMs:     100,
		ObservedAt:      time.Now().UTC(),
	}
}
