// Package history compacts connectivity-state series into fixed-size bucket
// timelines for the status API.
package history

import (
	"sort"
	"time"

	"collabsync/internal/models"
	"collabsync/internal/netmon"
)

const (
	// DefaultTimelinePoints controls how many buckets a timeline gets.
	DefaultTimelinePoints = 80
	maxDetailsPerPoint    = 4

	// StateUnknown marks buckets with no samples and nothing to carry forward.
	StateUnknown = "unknown"
	// StateOffline marks buckets containing at least one offline sample.
	StateOffline = "offline"
)

// BuildTimeline converts a connectivity history into a compact timeline of
// points buckets between start and end. A bucket's state is its worst
// observed condition: offline beats any band, and a lower band beats a
// higher one. Empty buckets inherit the preceding state.
func BuildTimeline(states []models.ConnectivityState, start, end time.Time, points int) []models.TimelinePoint {
	if points <= 0 {
		points = DefaultTimelinePoints
	}
	if !end.After(start) {
		end = start.Add(time.Minute)
	}

	samples := make([]models.ConnectivityState, len(states))
	copy(samples, states)
	sort.Slice(samples, func(i, j int) bool {
		return samples[i].ObservedAt.Before(samples[j].ObservedAt)
	})

	step := end.Sub(start) / time.Duration(points)
	if step <= 0 {
		step = time.Second
	}

	output := make([]models.TimelinePoint, 0, points)
	carry := StateUnknown
	idx := 0

	for i := 0; i < points; i++ {
		bucketStart := start.Add(time.Duration(i) * step)
		bucketEnd := bucketStart.Add(step)
		if i == points-1 {
			bucketEnd = end
		}

		point := models.TimelinePoint{Start: bucketStart, End: bucketEnd}
		state := ""
		for idx < len(samples) && samples[idx].ObservedAt.Before(bucketEnd) {
			s := samples[idx]
			idx++
			if s.ObservedAt.Before(bucketStart) {
				continue
			}
			state = worseState(state, sampleState(s))
			if isProblem(sampleState(s)) && len(point.Details) < maxDetailsPerPoint {
				point.Details = append(point.Details, models.TimelineDetail{
					Timestamp: s.ObservedAt,
					Band:      netmon.Band(netmon.Score(s)),
					Offline:   !s.IsOnline,
				})
			}
		}

		if state == "" {
			state = carry
		} else {
			carry = state
		}
		point.State = state
		point.Label = state
		output = append(output, point)
	}

	return output
}

func sampleState(s models.ConnectivityState) string {
	if !s.IsOnline {
		return StateOffline
	}
	return netmon.Band(netmon.Score(s))
}

// stateRank orders conditions from best to worst.
func stateRank(state string) int {
	switch state {
	case netmon.BandGood:
		return 0
	case netmon.BandFair:
		return 1
	case netmon.BandPoor:
		return 2
	case netmon.BandCritical:
		return 3
	case StateOffline:
		return 4
	default:
		return -1
	}
}

func worseState(a, b string) string {
	if stateRank(b) > stateRank(a) {
		return b
	}
	if a == "" {
		return b
	}
	return a
}

func isProblem(state string) bool {
	return state == StateOffline || state == netmon.BandCritical || state == netmon.BandPoor
}
