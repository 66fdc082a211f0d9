package delta

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"calingest/internal/model"
)

func entry(id string, day, hour int, hash string) model.SnapshotEntry {
	s := time.Date(2024, 3, day, hour, 0, 0, 0, time.UTC)
	return model.SnapshotEntry{ExternalEventID: id, StartUTC: s, EndUTC: s.Add(time.Hour), ContentHash: hash}
}

func TestDiffIdentical(t *testing.T) {
	snap := []model.SnapshotEntry{entry("a", 1, 9, "h1"), entry("b", 2, 10, "h2"), entry("b", 9, 10, "h2")}
	for i := 0; i < 2; i++ {
		res := Diff(snap, snap)
		assert.True(t, res.Empty())
		assert.NotNil(t, res.Added)
		assert.NotNil(t, res.Removed)
		assert.NotNil(t, res.Changed)
	}
}

func TestDiffRemovedAndAdded(t *testing.T) {
	prev := []model.SnapshotEntry{entry("a", 1, 9, "h1"), entry("b", 2, 10, "h2")}

	res := Diff(prev, prev[:1])
	assert.Equal(t, []model.SnapshotEntry{prev[1]}, res.Removed)
	assert.Empty(t, res.Added)
	assert.Empty(t, res.Changed)

	res = Diff(prev[:1], prev)
	assert.Equal(t, []model.SnapshotEntry{prev[1]}, res.Added)
	assert.Empty(t, res.Removed)
}

func TestDiffTimeVersusContent(t *testing.T) {
	prev := []model.SnapshotEntry{entry("a", 1, 9, "h1")}

	moved := Diff(prev, []model.SnapshotEntry{entry("a", 1, 11, "h1")})
	require.Len(t, moved.Changed, 1)
	assert.True(t, moved.Changed[0].TimeChanged)
	assert.False(t, moved.Changed[0].ContentChanged)
	assert.Empty(t, moved.Added)
	assert.Empty(t, moved.Removed)

	edited := Diff(prev, []model.SnapshotEntry{entry("a", 1, 9, "h9")})
	require.Len(t, edited.Changed, 1)
	assert.False(t, edited.Changed[0].TimeChanged)
	assert.True(t, edited.Changed[0].ContentChanged)

	longer := entry("a", 1, 9, "h1")
	longer.EndUTC = longer.EndUTC.Add(30 * time.Minute)
	res := Diff(prev, []model.SnapshotEntry{longer})
	require.Len(t, res.Changed, 1)
	assert.True(t, res.Changed[0].TimeChanged)
}

func TestDiffSeries(t *testing.T) {
	prev := []model.SnapshotEntry{entry("s", 4, 9, "h"), entry("s", 11, 9, "h"), entry("s", 18, 9, "h")}
	next := []model.SnapshotEntry{entry("s", 4, 9, "h"), entry("s", 12, 9, "h"), entry("s", 18, 9, "h2"), entry("s", 25, 9, "h")}

	res := Diff(prev, next)
	require.Len(t, res.Changed, 2)

	assert.Equal(t, 11, res.Changed[0].Before.StartUTC.Day())
	assert.Equal(t, 12, res.Changed[0].After.StartUTC.Day())
	assert.True(t, res.Changed[0].TimeChanged)
	assert.False(t, res.Changed[0].ContentChanged)

	assert.Equal(t, 18, res.Changed[1].Before.StartUTC.Day())
	assert.True(t, res.Changed[1].ContentChanged)
	assert.False(t, res.Changed[1].TimeChanged)

	require.Len(t, res.Added, 1)
	assert.Equal(t, 25, res.Added[0].StartUTC.Day())
	assert.Empty(t, res.Removed)
}
