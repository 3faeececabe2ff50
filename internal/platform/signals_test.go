package platform

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"collabsync/internal/models"
)

func TestHubSeedsOnlineVisible(t *testing.T) {
	h := NewHub()
	assert.True(t, h.LastOnline())
	assert.True(t, h.LastVisible())
}

func TestHubSwallowsRepeatedConnectivity(t *testing.T) {
	h := NewHub()

	var calls int
	unsub := h.OnConnectivityChange(func(bool, *NetworkInfo) { calls++ })
	defer unsub()

	h.ReportConnectivity(true, nil) // identical to seed
	assert.Zero(t, calls)

	h.ReportConnectivity(false, nil)
	assert.Equal(t, 1, calls)
	assert.False(t, h.LastOnline())

	h.ReportConnectivity(false, nil)
	assert.Equal(t, 1, calls)
}

func TestHubFiresOnMetadataChange(t *testing.T) {
	h := NewHub()

	var calls int
	var last *NetworkInfo
	unsub := h.OnConnectivityChange(func(_ bool, info *NetworkInfo) {
		calls++
		last = info
	})
	defer unsub()

	info := &NetworkInfo{EffectiveClass: models.Effective3G, DownlinkMbps: 2, RoundTripMs: 300}
	h.ReportConnectivity(true, info)
	require.Equal(t, 1, calls)
	require.NotNil(t, last)
	assert.Equal(t, models.Effective3G, last.EffectiveClass)

	// Same metadata again: swallowed.
	same := *info
	h.ReportConnectivity(true, &same)
	assert.Equal(t, 1, calls)

	// Changed downlink: fires.
	changed := *info
	changed.DownlinkMbps = 8
	h.ReportConnectivity(true, &changed)
	assert.Equal(t, 2, calls)
}

func TestHubVisibilityTransitionsOnly(t *testing.T) {
	h := NewHub()

	var got []bool
	unsub := h.OnVisibilityChange(func(visible bool) { got = append(got, visible) })
	defer unsub()

	h.ReportVisibility(true) // identical to seed
	h.ReportVisibility(false)
	h.ReportVisibility(false)
	h.ReportVisibility(true)

	assert.Equal(t, []bool{false, true}, got)
	assert.True(t, h.LastVisible())
}

func TestHubUnsubscribe(t *testing.T) {
	h := NewHub()

	var calls int
	unsub := h.OnVisibilityChange(func(bool) { calls++ })

	h.ReportVisibility(false)
	require.Equal(t, 1, calls)

	unsub()
	unsub() // safe to call twice

	h.ReportVisibility(true)
	assert.Equal(t, 1, calls)
}
