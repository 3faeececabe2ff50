package coordinator

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"collabsync/internal/models"
)

func bufEvent(id string, at time.Time) models.CollaborationEvent {
	return models.CollaborationEvent{ID: id, Kind: models.KindContentChanged, OccurredAt: at}
}

func TestBufferOrdersByOccurredAt(t *testing.T) {
	b := newEventBuffer(10)
	base := time.Now().UTC()

	b.Append(bufEvent("c", base.Add(3*time.Second)))
	b.Append(bufEvent("a", base.Add(1*time.Second)))
	b.Append(bufEvent("b", base.Add(2*time.Second)))

	events := b.Claim()
	require.Len(t, events, 3)
	assert.Equal(t, "a", events[0].ID)
	assert.Equal(t, "b", events[1].ID)
	assert.Equal(t, "c", events[2].ID)
}

func TestBufferClaimClears(t *testing.T) {
	b := newEventBuffer(10)
	b.Append(bufEvent("a", time.Now().UTC()))

	require.Len(t, b.Claim(), 1)
	assert.Zero(t, b.Len())
	assert.Empty(t, b.Claim())
}

func TestBufferCapEvictsOldest(t *testing.T) {
	b := newEventBuffer(3)
	base := time.Now().UTC()

	for i := 0; i < 5; i++ {
		b.Append(bufEvent(string(rune('a'+i)), base.Add(time.Duration(i)*time.Second)))
	}

	assert.Equal(t, int64(2), b.Dropped())
	events := b.Claim()
	require.Len(t, events, 3)
	assert.Equal(t, "c", events[0].ID)
	assert.Equal(t, "e", events[2].ID)
}

func TestBufferSnapshotDoesNotClear(t *testing.T) {
	b := newEventBuffer(10)
	b.Append(bufEvent("a", time.Now().UTC()))

	assert.Len(t, b.Snapshot(), 1)
	assert.Equal(t, 1, b.Len())
}

func TestBufferRestore(t *testing.T) {
	b := newEventBuffer(10)
	base := time.Now().UTC()

	b.Restore([]models.CollaborationEvent{
		bufEvent("b", base.Add(2 * time.Second)),
		bufEvent("a", base.Add(1 * time.Second)),
	})

	events := b.Claim()
	require.Len(t, events, 2)
	assert.Equal(t, "a", events[0].ID)
}

func TestMergeEventsServerWinsTies(t *testing.T) {
	base := time.Now().UTC()

	serverCopy := models.CollaborationEvent{
		ID: "srv", Kind: models.KindContentChanged, ActorID: "u2",
		ResourceKind: models.ResourceCase, ResourceID: "r1", OccurredAt: base,
	}
	localCopy := serverCopy
	localCopy.ID = "local"
	other := models.CollaborationEvent{
		ID: "other", Kind: models.KindCommentAdded, ActorID: "u3",
		ResourceKind: models.ResourceCase, ResourceID: "r2", OccurredAt: base.Add(-time.Second),
	}

	merged := mergeEvents(
		[]models.CollaborationEvent{serverCopy},
		[]models.CollaborationEvent{localCopy, other},
	)

	require.Len(t, merged, 2)
	assert.Equal(t, "other", merged[0].ID)
	assert.Equal(t, "srv", merged[1].ID) // duplicate collapsed to the server copy
}

func TestMergeEventsNoServer(t *testing.T) {
	local := []models.CollaborationEvent{bufEvent("a", time.Now().UTC())}
	assert.Equal(t, local, mergeEvents(nil, local))
}
