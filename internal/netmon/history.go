package netmon

import (
	"math"
	"time"

	"collabsync/internal/models"
)

// Stats summarises a window of published connectivity states for the status
// API.
type Stats struct {
	Samples       int            `json:"samples"`
	OnlinePercent float64        `json:"online_percent"`
	Bands         map[string]int `json:"bands"`
	LastBand      string         `json:"last_band,omitempty"`
	LastObserved  time.Time      `json:"last_observed,omitempty"`
}

// ComputeStats aggregates online ratio and band distribution over states.
func ComputeStats(states []models.ConnectivityState) Stats {
	stats := Stats{Bands: make(map[string]int)}
	if len(states) == 0 {
		return stats
	}

	online := 0
	for _, s := range states {
		if s.IsOnline {
			online++
		}
		stats.Bands[Band(Score(s))]++
	}

	last := states[len(states)-1]
	stats.Samples = len(states)
	stats.OnlinePercent = round2(float64(online) / float64(len(states)) * 100)
	stats.LastBand = Band(Score(last))
	stats.LastObserved = last.ObservedAt

	return stats
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
