package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config represents configuration data for the resilience layer.
type Config struct {
	ListenAddr    string `yaml:"listen_addr"`
	CurrentUserID string `yaml:"current_user_id"`
	DataDirectory string `yaml:"data_directory"`
	CacheBackend  string `yaml:"cache_backend"` // memory, file or redis
	RedisURL      string `yaml:"redis_url"`

	Probe         Probe         `yaml:"probe"`
	DialProbe     DialProbe     `yaml:"dial_probe"`
	Monitor       Monitor       `yaml:"monitor"`
	Coordinator   Coordinator   `yaml:"coordinator"`
	Transport     Transport     `yaml:"transport"`
	Notifications Notifications `yaml:"notifications"`
}

// Probe configures the HTTP quality sampler.
type Probe struct {
	URL               string `yaml:"url"`
	TimeoutSeconds    int    `yaml:"timeout_seconds"`
	StabilityCutoffMs int    `yaml:"stability_cutoff_ms"`
}

// DialProbe configures the TCP dial watcher deriving online/offline.
type DialProbe struct {
	Enabled         bool   `yaml:"enabled"`
	Target          string `yaml:"target"`
	IntervalSeconds int    `yaml:"interval_seconds"`
	TimeoutSeconds  int    `yaml:"timeout_seconds"`
}

// Monitor configures the connectivity monitor.
type Monitor struct {
	HealthIntervalSeconds int     `yaml:"health_interval_seconds"`
	MaxHistory            int     `yaml:"max_history"`
	DownlinkDeltaMbps     float64 `yaml:"downlink_delta_mbps"`
	RoundTripDeltaMs      int     `yaml:"round_trip_delta_ms"`
}

// Coordinator configures the collaboration coordinator.
type Coordinator struct {
	PollIntervalSeconds  int    `yaml:"poll_interval_seconds"`
	BufferCap            int    `yaml:"buffer_cap"`
	PendingTagTTLSeconds int    `yaml:"pending_tag_ttl_seconds"`
	DrainBatchSize       int    `yaml:"drain_batch_size"`
	LiveQuery            string `yaml:"live_query"`
}

// Transport configures the collaboration backend endpoints.
type Transport struct {
	WebsocketURL   string `yaml:"websocket_url"`
	BacklogBaseURL string `yaml:"backlog_base_url"`
	APIKey         string `yaml:"api_key"`
}

// Notifications configures the dispatch sink and resource path templates.
type Notifications struct {
	WebhookURL    string            `yaml:"webhook_url"`
	ResourcePaths map[string]string `yaml:"resource_paths"`
}

// DefaultConfig returns sensible defaults in case no configuration file is
// provided.
func DefaultConfig() Config {
	return Config{
		ListenAddr:    ":8090",
		CurrentUserID: "local",
		DataDirectory: filepath.Join(".dist", "data"),
		CacheBackend:  "file",
		Probe: Probe{
			URL:               "https://www.gstatic.com/generate_204",
			TimeoutSeconds:    4,
			StabilityCutoffMs: 1000,
		},
		DialProbe: DialProbe{
			Enabled:         true,
			Target:          "1.1.1.1",
			IntervalSeconds: 15,
			TimeoutSeconds:  4,
		},
		Monitor: Monitor{
			HealthIntervalSeconds: 30,
			MaxHistory:            2048,
			DownlinkDeltaMbps:     1,
			RoundTripDeltaMs:      50,
		},
		Coordinator: Coordinator{
			PollIntervalSeconds:  60,
			BufferCap:            512,
			PendingTagTTLSeconds: 30,
			DrainBatchSize:       25,
			LiveQuery:            "collaboration_events",
		},
		Notifications: Notifications{
			ResourcePaths: map[string]string{
				"case":     "/cases/{id}",
				"claim":    "/claims/{id}",
				"document": "/documents/{id}",
				"message":  "/messages/{id}",
			},
		},
	}
}

// Load reads configuration from a yaml file. Missing files fall back to
// defaults.
func Load(path string) (Config, error) {
	if path == "" {
		return DefaultConfig(), nil
	}

	content, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return DefaultConfig(), nil
	}
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(content, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}

	if cfg.ListenAddr == "" {
		cfg.ListenAddr = DefaultConfig().ListenAddr
	}
	if cfg.DataDirectory == "" {
		cfg.DataDirectory = DefaultConfig().DataDirectory
	}
	if cfg.CurrentUserID == "" {
		cfg.CurrentUserID = DefaultConfig().CurrentUserID
	}
	switch cfg.CacheBackend {
	case "":
		cfg.CacheBackend = "file"
	case "memory", "file", "redis":
	default:
		return Config{}, fmt.Errorf("unknown cache_backend %q", cfg.CacheBackend)
	}
	if cfg.CacheBackend == "redis" && cfg.RedisURL == "" {
		return Config{}, errors.New("cache_backend redis requires redis_url")
	}
	if cfg.Probe.URL == "" {
		return Config{}, errors.New("probe url is required")
	}
	if cfg.Probe.TimeoutSeconds <= 0 {
		cfg.Probe.TimeoutSeconds = DefaultConfig().Probe.TimeoutSeconds
	}
	if cfg.Probe.StabilityCutoffMs <= 0 {
		cfg.Probe.StabilityCutoffMs = DefaultConfig().Probe.StabilityCutoffMs
	}
	if cfg.Monitor.HealthIntervalSeconds <= 0 {
		cfg.Monitor.HealthIntervalSeconds = DefaultConfig().Monitor.HealthIntervalSeconds
	}
	if cfg.Coordinator.PollIntervalSeconds <= 0 {
		cfg.Coordinator.PollIntervalSeconds = DefaultConfig().Coordinator.PollIntervalSeconds
	}
	return cfg, nil
}
