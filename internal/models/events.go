package models

import "time"

// EventKind classifies a unit of collaborative activity. Unknown kinds are
// accepted from the transport and treated as informational.
type EventKind string

const (
	KindContentChanged    EventKind = "content_changed"
	KindParticipantJoined EventKind = "participant_joined"
	KindParticipantLeft   EventKind = "participant_left"
	KindCommentAdded      EventKind = "comment_added"
	KindStatusChanged     EventKind = "status_changed"

	// KindCheckUpdates is the low-frequency poll signal emitted while
	// background syncing so the data-sync subsystem can run a cheap
	// "any updates since watermark?" check.
	KindCheckUpdates EventKind = "check_collaboration_updates"
)

// ResourceKind names the kind of resource a collaboration event refers to.
type ResourceKind string

const (
	ResourceCase     ResourceKind = "case"
	ResourceClaim    ResourceKind = "claim"
	ResourceDocument ResourceKind = "document"
	ResourceMessage  ResourceKind = "message"
)

// CollaborationEvent represents one unit of collaborative activity, either
// delivered by the transport layer or synthesized locally for connection
// transitions.
type CollaborationEvent struct {
	ID           string         `json:"id,omitempty"`
	Kind         EventKind      `json:"kind"`
	ActorID      string         `json:"actor_id"`
	ActorName    string         `json:"actor_name,omitempty"`
	ResourceID   string         `json:"resource_id"`
	ResourceKind ResourceKind   `json:"resource_kind"`
	Payload      map[string]any `json:"payload,omitempty"`
	OccurredAt   time.Time      `json:"occurred_at"`
}

// Notification is the payload handed to the notification dispatch sink.
type Notification struct {
	Title string         `json:"title"`
	Body  string         `json:"body"`
	Tag   string         `json:"tag"`
	Data  map[string]any `json:"data,omitempty"`
}
