package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestOverlaps(t *testing.T) {
	day := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	ws, we := day, day.Add(24*time.Hour)
	at := func(h int) time.Time { return day.Add(time.Duration(h) * time.Hour) }

	cases := []struct {
		name       string
		start, end time.Time
		want       bool
	}{
		{"inside", at(9), at(10), true},
		{"straddles start", at(-2), at(1), true},
		{"ends at window start", at(-2), at(0), false},
		{"starts at window end", at(24), at(25), false},
		{"zero length inside", at(5), at(5), true},
		{"zero length before", at(-1), at(-1), false},
		{"covers window", at(-5), at(30), true},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, Overlaps(tc.start, tc.end, ws, we), tc.name)
	}
}

func TestKeyAndSnapshot(t *testing.T) {
	start := time.Date(2024, 3, 1, 9, 0, 0, 0, time.FixedZone("X", 3600))
	ev := CalendarEvent{ExternalEventID: "abc", StartUTC: start, EndUTC: start.Add(time.Hour), ContentHash: "h"}

	assert.Equal(t, "abc@"+"1709280000", ev.Key())
	snap := ev.Snapshot()
	assert.Equal(t, "abc", snap.ExternalEventID)
	assert.Equal(t, "h", snap.ContentHash)
	assert.True(t, snap.EndUTC.Equal(start.Add(time.Hour)))
}
