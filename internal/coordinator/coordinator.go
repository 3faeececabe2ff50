// Package coordinator keeps the collaboration feature correct across
// connectivity and visibility transitions: it pauses and resumes live
// updates, schedules low-frequency background polling, replays events
// buffered while offline, and decides which events warrant a user-facing
// notification.
package coordinator

import (
	"context"
	"fmt"
	"log"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"collabsync/internal/cache"
	"collabsync/internal/models"
	"collabsync/internal/netmon"
	"collabsync/internal/notify"
	"collabsync/internal/platform"
	"collabsync/internal/scheduler"
	"collabsync/internal/transport"
)

const (
	pollTaskName  = "collaboration-poll"
	pendingTagCap = 128
	actionTimeout = 10 * time.Second
	statusKey     = "status"
	statusOnline  = "connected"
	statusOffline = "disconnected"
)

// ConnectivitySource is the slice of the monitor the coordinator consumes.
type ConnectivitySource interface {
	CurrentState() models.ConnectivityState
	OnStateChange(netmon.Listener) platform.Unsubscribe
}

// EventSource provides server-side truth for reconnect resync.
type EventSource interface {
	EventsSince(ctx context.Context, since time.Time) ([]models.CollaborationEvent, error)
}

// ActivityRecorder persists collaboration activity. Failures are logged,
// never surfaced, and never block event handling.
type ActivityRecorder interface {
	Record(ctx context.Context, ev models.CollaborationEvent) error
}

// EventListener receives collaboration events as they are handled or
// replayed.
type EventListener func(models.CollaborationEvent)

// Config tunes a Coordinator. Zero values fall back to defaults.
type Config struct {
	CurrentUserID  string
	PollInterval   time.Duration
	BufferCap      int
	PendingTagTTL  time.Duration
	DrainBatchSize int
	LiveQuery      string
	LiveVars       map[string]any
}

// Deps are the collaborators a Coordinator is wired with. States, Signals
// and Subs are required; the rest are optional and nil-safe.
type Deps struct {
	States     ConnectivitySource
	Signals    platform.Signals
	Subs       transport.SubscriptionService
	Dispatcher notify.Dispatcher
	Resolver   *notify.Resolver
	Cache      cache.Cache
	Source     EventSource
	Recorder   ActivityRecorder
	Sched      scheduler.Scheduler
}

// Coordinator owns the ACTIVE / BACKGROUND_SYNCING / SUSPENDED state machine.
type Coordinator struct {
	cfg  Config
	deps Deps

	// transMu serializes whole transitions, entry/exit actions included.
	transMu sync.Mutex

	mu            sync.Mutex
	started       bool
	phase         models.Phase
	online        bool
	visible       bool
	watermark     time.Time
	subID         string
	resyncPending bool
	cancelPoll    scheduler.CancelFunc
	listeners     map[int]EventListener
	nextID        int
	unsubState    platform.Unsubscribe
	unsubVis      platform.Unsubscribe

	buffer  *eventBuffer
	pending *expirable.LRU[string, time.Time]
}

// New creates a coordinator. Call Start to seed the initial phase and begin
// reacting to signals.
func New(cfg Config, deps Deps) *Coordinator {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Minute
	}
	if cfg.BufferCap <= 0 {
		cfg.BufferCap = 512
	}
	if cfg.PendingTagTTL <= 0 {
		cfg.PendingTagTTL = 30 * time.Second
	}
	if cfg.DrainBatchSize <= 0 {
		cfg.DrainBatchSize = 25
	}
	if deps.Sched == nil {
		deps.Sched = scheduler.NewTicker()
	}

	return &Coordinator{
		cfg:       cfg,
		deps:      deps,
		listeners: make(map[int]EventListener),
		buffer:    newEventBuffer(cfg.BufferCap),
		pending:   expirable.NewLRU[string, time.Time](pendingTagCap, nil, cfg.PendingTagTTL),
	}
}

// Start loads durable state, derives the initial phase from the visibility
// seed and the monitor's current online flag, and subscribes to both signal
// sources. Idempotent.
func (c *Coordinator) Start() {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return
	}
	c.started = true
	c.mu.Unlock()

	c.loadDurable()

	c.mu.Lock()
	c.visible = c.deps.Signals.LastVisible()
	c.online = c.deps.States.CurrentState().IsOnline
	online, visible := c.online, c.visible
	c.mu.Unlock()

	c.transitionTo(phaseFor(online, visible))

	unsubState := c.deps.States.OnStateChange(c.handleState)
	unsubVis := c.deps.Signals.OnVisibilityChange(c.handleVisibility)

	c.mu.Lock()
	c.unsubState = unsubState
	c.unsubVis = unsubVis
	c.mu.Unlock()
}

// Stop detaches from the signal sources, cancels timers and the live
// subscription, and spills the buffer so it survives a restart.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	if !c.started {
		c.mu.Unlock()
		return
	}
	c.started = false
	unsubState := c.unsubState
	unsubVis := c.unsubVis
	cancelPoll := c.cancelPoll
	c.unsubState = nil
	c.unsubVis = nil
	c.cancelPoll = nil
	c.mu.Unlock()

	if unsubState != nil {
		unsubState()
	}
	if unsubVis != nil {
		unsubVis()
	}
	if cancelPoll != nil {
		cancelPoll()
	}
	c.pauseSubscription()
	c.spillBuffer()
}

// State returns a read-only snapshot for UI collaborators.
func (c *Coordinator) State() models.CoordinatorState {
	c.mu.Lock()
	defer c.mu.Unlock()

	return models.CoordinatorState{
		Phase:                   c.phase,
		LastSyncWatermark:       c.watermark,
		PendingNotificationTags: c.pending.Keys(),
		BufferedEvents:          c.buffer.Len(),
	}
}

// OnEvent registers a listener for handled and replayed events.
func (c *Coordinator) OnEvent(fn EventListener) platform.Unsubscribe {
	c.mu.Lock()
	id := c.nextID
	c.nextID++
	c.listeners[id] = fn
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		delete(c.listeners, id)
		c.mu.Unlock()
	}
}

// EnhanceLiveQuery delegates subscription creation to the live-update
// service. Failures propagate unchanged: silently losing a requested
// subscription would hide data from the user.
func (c *Coordinator) EnhanceLiveQuery(ctx context.Context, query string, vars map[string]any) (string, error) {
	return c.deps.Subs.Create(ctx, query, vars)
}

// RequestResync flags that server-side truth should be re-fetched at the
// next opportunity (foreground transition or poll tick).
func (c *Coordinator) RequestResync() {
	c.mu.Lock()
	c.resyncPending = true
	c.mu.Unlock()
}

// HandleCollaborationEvent processes one inbound collaboration event.
func (c *Coordinator) HandleCollaborationEvent(ev models.CollaborationEvent) {
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = time.Now().UTC()
	}

	// Listeners always see the event immediately, even while it is being
	// buffered for eventual application.
	c.notifyListeners(ev)

	c.mu.Lock()
	phase := c.phase
	c.mu.Unlock()

	if phase != models.PhaseActive {
		c.maybeNotify(ev)
		c.buffer.Append(ev)
		if phase == models.PhaseSuspended {
			c.spillBuffer()
		}
		return
	}

	go c.record(ev)
}

func (c *Coordinator) handleState(st models.ConnectivityState) {
	c.mu.Lock()
	c.online = st.IsOnline
	online, visible := c.online, c.visible
	c.mu.Unlock()

	c.transitionTo(phaseFor(online, visible))
}

func (c *Coordinator) handleVisibility(visible bool) {
	c.mu.Lock()
	c.visible = visible
	online := c.online
	c.mu.Unlock()

	c.transitionTo(phaseFor(online, visible))
}

// phaseFor derives the target phase: connectivity loss dominates visibility.
func phaseFor(online, visible bool) models.Phase {
	if !online {
		return models.PhaseSuspended
	}
	if visible {
		return models.PhaseActive
	}
	return models.PhaseBackgroundSyncing
}

// transitionTo moves the machine to target, running exit and entry actions.
// Self-transitions are no-ops.
func (c *Coordinator) transitionTo(target models.Phase) {
	c.transMu.Lock()
	defer c.transMu.Unlock()

	c.mu.Lock()
	prev := c.phase
	if prev == target {
		c.mu.Unlock()
		return
	}
	c.phase = target
	cancelPoll := c.cancelPoll
	c.cancelPoll = nil
	resyncPending := c.resyncPending
	c.mu.Unlock()

	// Exit: the background poll timer is cancelled synchronously so no
	// orphaned timers outlive the phase.
	if cancelPoll != nil {
		cancelPoll()
	}

	leavingSuspended := prev == models.PhaseSuspended
	if leavingSuspended {
		c.emitStatus(statusOnline)
		c.resync()
	}

	switch target {
	case models.PhaseActive:
		if !leavingSuspended && resyncPending {
			c.resync()
		}
		c.resumeSubscription()
		// Foreground transition resets notification collapse state: the
		// user is looking at the data now.
		c.pending.Purge()
		c.drain()
	case models.PhaseBackgroundSyncing:
		if leavingSuspended {
			c.drain()
		}
		c.startPoll()
	case models.PhaseSuspended:
		c.pauseSubscription()
		c.emitStatus(statusOffline)
		c.spillBuffer()
	}
}

// startPoll starts the low-frequency background poll. A second entry while
// the timer is already running is a no-op.
func (c *Coordinator) startPoll() {
	c.mu.Lock()
	if c.cancelPoll != nil {
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	cancel := c.deps.Sched.ScheduleRepeating(pollTaskName, c.cfg.PollInterval, c.pollTick)

	c.mu.Lock()
	if c.cancelPoll != nil || c.phase != models.PhaseBackgroundSyncing {
		c.mu.Unlock()
		cancel()
		return
	}
	c.cancelPoll = cancel
	c.mu.Unlock()
}

// pollTick runs while background syncing: it retries a pending resync, or
// posts the lightweight check signal for the data-sync subsystem.
func (c *Coordinator) pollTick() {
	c.mu.Lock()
	phase := c.phase
	pending := c.resyncPending
	watermark := c.watermark
	c.mu.Unlock()

	if phase != models.PhaseBackgroundSyncing {
		return
	}
	if pending {
		c.resync()
		return
	}

	c.notifyListeners(models.CollaborationEvent{
		Kind:       models.KindCheckUpdates,
		OccurredAt: time.Now().UTC(),
		Payload:    map[string]any{"since": watermark.Format(time.RFC3339Nano)},
	})
}

// drain claims the buffered events and applies them in OccurredAt order.
// Events arriving mid-drain go to the next buffer generation.
func (c *Coordinator) drain() {
	events := c.buffer.Claim()
	c.applyAll(events)
	c.clearSpill()
}

// applyAll replays events in order, yielding between bounded batches so a
// large drain cannot starve other goroutines.
func (c *Coordinator) applyAll(events []models.CollaborationEvent) {
	for i, ev := range events {
		c.notifyListeners(ev)
		c.record(ev)
		if (i+1)%c.cfg.DrainBatchSize == 0 {
			runtime.Gosched()
		}
	}
}

func (c *Coordinator) resumeSubscription() {
	c.mu.Lock()
	if c.subID != "" || c.cfg.LiveQuery == "" {
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), actionTimeout)
	defer cancel()

	id, err := c.deps.Subs.Create(ctx, c.cfg.LiveQuery, c.cfg.LiveVars)
	if err != nil {
		log.Printf("coordinator: resume live subscription: %v", err)
		return
	}

	c.mu.Lock()
	c.subID = id
	c.mu.Unlock()
}

func (c *Coordinator) pauseSubscription() {
	c.mu.Lock()
	id := c.subID
	c.subID = ""
	c.mu.Unlock()

	if id == "" {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), actionTimeout)
	defer cancel()
	if err := c.deps.Subs.Cancel(ctx, id); err != nil {
		log.Printf("coordinator: cancel live subscription: %v", err)
	}
}

// maybeNotify dispatches a browser-style notification for an eligible event,
// collapsing repeats that share a tag while the tag is still pending.
func (c *Coordinator) maybeNotify(ev models.CollaborationEvent) {
	if c.deps.Dispatcher == nil {
		return
	}
	if !notificationEligible(ev, c.cfg.CurrentUserID) {
		return
	}

	tag := notificationTag(ev)
	c.mu.Lock()
	if _, inFlight := c.pending.Get(tag); inFlight {
		c.mu.Unlock()
		return
	}
	c.pending.Add(tag, time.Now().UTC())
	c.mu.Unlock()

	n := c.buildNotification(ev, tag)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), actionTimeout)
		defer cancel()
		if err := c.deps.Dispatcher.Post(ctx, n); err != nil {
			log.Printf("coordinator: notification dispatch: %v", err)
			// Failed dispatch frees the tag so a later event can retry.
			c.pending.Remove(tag)
		}
	}()
}

// notificationEligible: never notify the user about their own action, and
// only content-bearing kinds are pushed. Join/leave/status events are
// informational only.
func notificationEligible(ev models.CollaborationEvent, currentUserID string) bool {
	if ev.ActorID == currentUserID {
		return false
	}
	return ev.Kind == models.KindContentChanged || ev.Kind == models.KindCommentAdded
}

func notificationTag(ev models.CollaborationEvent) string {
	return fmt.Sprintf("collaboration-%s-%s", ev.ResourceKind, ev.ResourceID)
}

func (c *Coordinator) buildNotification(ev models.CollaborationEvent, tag string) models.Notification {
	actor := ev.ActorName
	if actor == "" {
		actor = "Someone"
	}

	var body string
	switch ev.Kind {
	case models.KindCommentAdded:
		body = fmt.Sprintf("%s commented on a %s", actor, ev.ResourceKind)
	default:
		body = fmt.Sprintf("%s updated a %s", actor, ev.ResourceKind)
	}

	data := map[string]any{
		"resource_id":   ev.ResourceID,
		"resource_kind": string(ev.ResourceKind),
		"actor_id":      ev.ActorID,
		"kind":          string(ev.Kind),
	}
	if c.deps.Resolver != nil {
		data["path"] = c.deps.Resolver.Path(ev.ResourceKind, ev.ResourceID)
	}

	return models.Notification{
		Title: "Collaboration update",
		Body:  body,
		Tag:   tag,
		Data:  data,
	}
}

// emitStatus fans a synthetic status_changed event to listeners. Synthetic
// events are not buffered or recorded: they describe this client's own
// connection, not shared activity.
func (c *Coordinator) emitStatus(status string) {
	c.notifyListeners(models.CollaborationEvent{
		Kind:       models.KindStatusChanged,
		ActorID:    c.cfg.CurrentUserID,
		OccurredAt: time.Now().UTC(),
		Payload:    map[string]any{statusKey: status},
	})
}

func (c *Coordinator) notifyListeners(ev models.CollaborationEvent) {
	c.mu.Lock()
	ids := make([]int, 0, len(c.listeners))
	for id := range c.listeners {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	listeners := make([]EventListener, 0, len(ids))
	for _, id := range ids {
		listeners = append(listeners, c.listeners[id])
	}
	c.mu.Unlock()

	for _, fn := range listeners {
		safeNotify(fn, ev)
	}
}

func safeNotify(fn EventListener, ev models.CollaborationEvent) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("coordinator: listener panic: %v", r)
		}
	}()
	fn(ev)
}

func (c *Coordinator) record(ev models.CollaborationEvent) {
	if c.deps.Recorder == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), actionTimeout)
	defer cancel()
	if err := c.deps.Recorder.Record(ctx, ev); err != nil {
		log.Printf("coordinator: record activity: %v", err)
	}
}
