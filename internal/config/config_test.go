package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)

	assert.Equal(t, ":8090", cfg.ListenAddr)
	assert.Equal(t, "file", cfg.CacheBackend)
	assert.Equal(t, "https://www.gstatic.com/generate_204", cfg.Probe.URL)
	assert.Equal(t, 60, cfg.Coordinator.PollIntervalSeconds)
	assert.Equal(t, "/cases/{id}", cfg.Notifications.ResourcePaths["case"])
}

func TestLoadOverridesAndZeroFills(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
listen_addr: ":9999"
current_user_id: "user-7"
cache_backend: memory
probe:
  url: "https://probe.example/ping"
coordinator:
  poll_interval_seconds: 0
  buffer_cap: 64
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9999", cfg.ListenAddr)
	assert.Equal(t, "user-7", cfg.CurrentUserID)
	assert.Equal(t, "memory", cfg.CacheBackend)
	assert.Equal(t, "https://probe.example/ping", cfg.Probe.URL)
	assert.Equal(t, 64, cfg.Coordinator.BufferCap)
	// Zero poll interval falls back to the default.
	assert.Equal(t, 60, cfg.Coordinator.PollIntervalSeconds)
	// Untouched sections keep their defaults.
	assert.Equal(t, 4, cfg.Probe.TimeoutSeconds)
}

func TestLoadRejectsUnknownBackend(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("cache_backend: dynamo\n"), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadRedisRequiresURL(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("cache_backend: redis\n"), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadRejectsEmptyProbeURL(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("probe:\n  url: \"\"\n"), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadRejectsInvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("listen_addr: [\n"), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}
