package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	appLog "calingest/internal/log"
	"calingest/internal/model"
)

func openTestStore(t *testing.T) *EventStore {
	t.Helper()
	s, err := OpenEventStore(filepath.Join(t.TempDir(), "events.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func event(id string, day, hour int) model.CalendarEvent {
	start := time.Date(2024, 3, day, hour, 0, 0, 0, time.UTC)
	return model.CalendarEvent{
		ExternalEventID: id,
		StartUTC:        start,
		EndUTC:          start.Add(time.Hour),
		Title:           "t-" + id,
		WithDisplay:     []string{"Ann"},
		ContentHash:     "h-" + id,
	}
}

func TestEventStoreUpsertAndRange(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	require.NoError(t, s.Upsert(ctx, "u1", "remote", []model.CalendarEvent{event("a", 1, 9), event("b", 2, 9), event("c", 9, 9)}))
	require.NoError(t, s.Upsert(ctx, "u2", "remote", []model.CalendarEvent{event("a", 1, 9)}))

	got, err := s.Range(ctx, "u1", "remote", time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), time.Date(2024, 3, 8, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].ExternalEventID)
	assert.Equal(t, []string{"Ann"}, got[0].WithDisplay)
	assert.True(t, got[0].StartUTC.Equal(time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)))
	assert.NotZero(t, got[0].RowID)

	// same key updates in place
	changed := event("a", 1, 9)
	changed.Title = "renamed"
	changed.EndUTC = changed.StartUTC.Add(2 * time.Hour)
	require.NoError(t, s.Upsert(ctx, "u1", "remote", []model.CalendarEvent{changed}))

	got, err = s.Range(ctx, "u1", "remote", time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "renamed", got[0].Title)
	assert.Equal(t, 2*time.Hour, got[0].EndUTC.Sub(got[0].StartUTC))
}

func TestEventStoreCorruptParticipants(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	core, logs := observer.New(zapcore.WarnLevel)
	appLog.SetLogger(zap.New(core))

	require.NoError(t, s.Upsert(ctx, "u", "local", []model.CalendarEvent{event("a", 1, 9)}))
	_, err := s.db.ExecContext(ctx, `UPDATE calendar_events SET with_display = '{not json'`)
	require.NoError(t, err)

	got, err := s.Range(ctx, "u", "local", time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Nil(t, got[0].WithDisplay)
	assert.Equal(t, "t-a", got[0].Title)
	assert.Equal(t, 1, logs.FilterMessage("corrupt with_display column").Len())
}

func TestEventStoreDeletes(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	require.NoError(t, s.Upsert(ctx, "u", "local", []model.CalendarEvent{event("a", 1, 9), event("b", 5, 9), event("c", 20, 9)}))

	all, err := s.Range(ctx, "u", "local", time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Len(t, all, 3)

	n, err := s.DeleteByIDs(ctx, []int64{all[1].RowID})
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	n, err = s.DeleteEndingBefore(ctx, time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	n, err = s.DeleteStartingAfter(ctx, time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	n, err = s.DeleteByIDs(ctx, nil)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestSnapshotStore(t *testing.T) {
	dir := t.TempDir()
	s := NewSnapshotStore(dir)
	day := func(d int) time.Time { return time.Date(2024, 3, d, 0, 0, 0, 0, time.UTC) }
	entry := event("a", 1, 9).Snapshot()

	_, _, ok, err := s.Latest("alice", day(10))
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Save("alice", day(3), []model.SnapshotEntry{entry}))
	require.NoError(t, s.Save("alice", day(5), nil))
	require.NoError(t, s.Save("bob", day(1), []model.SnapshotEntry{entry}))

	got, date, ok, err := s.Latest("alice", day(5))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, day(3), date)
	require.Len(t, got, 1)
	assert.Equal(t, "a", got[0].ExternalEventID)

	got, date, ok, err = s.Latest("alice", day(6))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, day(5), date)
	assert.Empty(t, got)

	n, err := s.DeleteBefore(day(4))
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	_, _, ok, err = s.Latest("bob", day(10))
	require.NoError(t, err)
	assert.False(t, ok)

	// unrelated files are ignored
	require.NoError(t, os.WriteFile(filepath.Join(s.userDir("alice"), "notes.txt"), []byte("x"), 0o600))
	_, _, ok, err = s.Latest("alice", day(10))
	require.NoError(t, err)
	assert.True(t, ok)
}
