package models

import "time"

// TimelinePoint represents a single compact bucket in the connectivity timeline.
type TimelinePoint struct {
	State   string           `json:"state"`
	Label   string           `json:"label"`
	Start   time.Time        `json:"start"`
	End     time.Time        `json:"end"`
	Details []TimelineDetail `json:"details,omitempty"`
}

// TimelineDetail carries extra information for problematic buckets.
type TimelineDetail struct {
	Timestamp time.Time `json:"timestamp"`
	Band      string    `json:"band,omitempty"`
	Offline   bool      `json:"offline,omitempty"`
}
