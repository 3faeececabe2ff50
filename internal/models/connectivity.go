package models

import "time"

// ConnectionClass identifies the radio technology reported by the platform.
type ConnectionClass string

const (
	ConnectionWifi    ConnectionClass = "wifi"
	Connection4G      ConnectionClass = "4g"
	Connection3G      ConnectionClass = "3g"
	Connection2G      ConnectionClass = "2g"
	ConnectionUnknown ConnectionClass = "unknown"
)

// EffectiveClass buckets measured link quality, independent of radio class.
type EffectiveClass string

const (
	EffectiveSlow2G EffectiveClass = "slow-2g"
	Effective2G     EffectiveClass = "2g"
	Effective3G     EffectiveClass = "3g"
	Effective4G     EffectiveClass = "4g"
)

// ConnectivityState is the canonical connectivity snapshot owned by the
// monitor. It is replaced as a whole on change; readers always see a full
// snapshot, never a partial update.
type ConnectivityState struct {
	IsOnline        bool            `json:"is_online"`
	ConnectionClass ConnectionClass `json:"connection_class"`
	EffectiveClass  EffectiveClass  `json:"effective_class"`
	DownlinkMbps    float64         `json:"downlink_mbps"`
	RoundTripMs     int             `json:"round_trip_ms"`
	SaveData        bool            `json:"save_data"`
	ObservedAt      time.Time       `json:"observed_at"`
}

// QualityReport captures the outcome of a single bounded quality probe.
// A failed or overlong probe reports IsStable=false instead of an error.
type QualityReport struct {
	LatencyMs            int64   `json:"latency_ms"`
	DownloadMbpsEstimate float64 `json:"download_mbps_estimate"`
	IsStable             bool    `json:"is_stable"`
}
