package models

import "time"

// Phase is the coordinator state governing how live updates are handled.
type Phase string

const (
	// PhaseActive applies live updates immediately: online and foreground.
	PhaseActive Phase = "ACTIVE"
	// PhaseBackgroundSyncing polls at low frequency: online but backgrounded.
	PhaseBackgroundSyncing Phase = "BACKGROUND_SYNCING"
	// PhaseSuspended buffers incoming events: offline, regardless of visibility.
	PhaseSuspended Phase = "SUSPENDED"
)

// CoordinatorState is a read-only snapshot of the coordinator for UI
// collaborators and the status API.
type CoordinatorState struct {
	Phase                   Phase     `json:"phase"`
	LastSyncWatermark       time.Time `json:"last_sync_watermark"`
	PendingNotificationTags []string  `json:"pending_notification_tags,omitempty"`
	BufferedEvents          int       `json:"buffered_events"`
}
