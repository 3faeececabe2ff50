package netmon

import (
	"math"

	"collabsync/internal/models"
)

// Score bands keyed off by UI badges and slow-network banners.
const (
	BandGood     = "good"
	BandFair     = "fair"
	BandPoor     = "poor"
	BandCritical = "critical"
)

var baseScores = map[models.EffectiveClass]float64{
	models.EffectiveSlow2G: 20,
	models.Effective2G:     40,
	models.Effective3G:     70,
	models.Effective4G:     100,
}

// Score computes the 0-100 composite quality score for a connectivity state.
// Ordering is class base, then round-trip penalty, then downlink penalty;
// the multiplier tables are contract, not tuning.
func Score(s models.ConnectivityState) int {
	if !s.IsOnline {
		return 0
	}

	score, ok := baseScores[s.EffectiveClass]
	if !ok {
		score = baseScores[models.Effective4G]
	}

	switch {
	case s.RoundTripMs > 1000:
		score *= 0.5
	case s.RoundTripMs > 500:
		score *= 0.7
	case s.RoundTripMs > 200:
		score *= 0.9
	}

	switch {
	case s.DownlinkMbps < 0.5:
		score *= 0.5
	case s.DownlinkMbps < 1.5:
		score *= 0.7
	case s.DownlinkMbps < 5:
		score *= 0.9
	}

	rounded := int(math.Round(score))
	if rounded < 0 {
		return 0
	}
	if rounded > 100 {
		return 100
	}
	return rounded
}

// Band maps a score onto its UI band.
func Band(score int) string {
	switch {
	case score >= 80:
		return BandGood
	case score >= 60:
		return BandFair
	case score >= 30:
		return BandPoor
	default:
		return BandCritical
	}
}

// effectiveClassFor buckets measured latency and throughput into an effective
// class so probe-only states remain scoreable.
func effectiveClassFor(rttMs int, downlinkMbps float64) models.EffectiveClass {
	switch {
	case rttMs >= 1400 || downlinkMbps < 0.15:
		return models.EffectiveSlow2G
	case rttMs >= 700 || downlinkMbps < 0.75:
		return models.Effective2G
	case rttMs >= 270 || downlinkMbps < 5:
		return models.Effective3G
	default:
		return models.Effective4G
	}
}
