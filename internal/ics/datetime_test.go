package ics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustLoad(t *testing.T, name string) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation(name)
	require.NoError(t, err)
	return loc
}

func TestResolveDateTime(t *testing.T) {
	ny := mustLoad(t, "America/New_York")

	cases := []struct {
		name   string
		value  string
		params map[string]string
		def    *time.Location
		want   time.Time
		allDay bool
		tzid   string
	}{
		{"utc", "20240105T090000Z", nil, ny, time.Date(2024, 1, 5, 9, 0, 0, 0, time.UTC), false, "UTC"},
		{"berlin winter", "20240105T090000", map[string]string{"TZID": "Europe/Berlin"}, nil, time.Date(2024, 1, 5, 8, 0, 0, 0, time.UTC), false, "Europe/Berlin"},
		{"berlin summer", "20240705T090000", map[string]string{"TZID": "Europe/Berlin"}, nil, time.Date(2024, 7, 5, 7, 0, 0, 0, time.UTC), false, "Europe/Berlin"},
		{"floating uses default", "20240105T090000", nil, ny, time.Date(2024, 1, 5, 14, 0, 0, 0, time.UTC), false, "America/New_York"},
		{"legacy windows name", "20240105T090000", map[string]string{"TZID": "W. Europe Standard Time"}, nil, time.Date(2024, 1, 5, 8, 0, 0, 0, time.UTC), false, "Europe/Berlin"},
		{"quoted tzid", "20240105T090000", map[string]string{"TZID": `"America/New_York"`}, nil, time.Date(2024, 1, 5, 14, 0, 0, 0, time.UTC), false, "America/New_York"},
		{"vendor prefix", "20240105T090000", map[string]string{"TZID": "/mozilla.org/20050126_1/America/New_York"}, nil, time.Date(2024, 1, 5, 14, 0, 0, 0, time.UTC), false, "America/New_York"},
		{"unknown zone falls back", "20240105T090000", map[string]string{"TZID": "Mars/Olympus"}, time.UTC, time.Date(2024, 1, 5, 9, 0, 0, 0, time.UTC), false, "Mars/Olympus"},
		{"date", "20240229", nil, ny, time.Date(2024, 2, 29, 5, 0, 0, 0, time.UTC), true, "America/New_York"},
		{"value=date", "20240301", map[string]string{"VALUE": "DATE"}, time.UTC, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), true, "UTC"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := ResolveDateTime(tc.value, tc.params, tc.def)
			require.True(t, got.Valid())
			assert.True(t, tc.want.Equal(*got.Instant), "got %s", got.Instant)
			assert.Equal(t, tc.allDay, got.AllDay)
			assert.Equal(t, tc.tzid, got.TZID)
			require.NotNil(t, got.Local)
		})
	}
}

func TestResolveDateTimeInvalid(t *testing.T) {
	for _, v := range []string{"", "2024-01-05", "20240230", "20240105T256000", "20240105T0900", "abcdefgh", "20241305T090000Z"} {
		got := ResolveDateTime(v, nil, time.UTC)
		assert.False(t, got.Valid(), v)
		assert.Nil(t, got.Instant, v)
	}
}

func TestResolveDateTimeUTCIdempotent(t *testing.T) {
	values := []string{"20240105T090000Z", "19991231T235959Z", "20240310T070000Z", "20241103T053000Z"}
	for _, v := range values {
		first := ResolveDateTime(v, nil, time.UTC)
		require.True(t, first.Valid())
		again := ResolveDateTime(first.Instant.Format("20060102T150405Z"), nil, mustLoad(t, "Asia/Tokyo"))
		require.True(t, again.Valid())
		assert.True(t, first.Instant.Equal(*again.Instant), v)
	}
}

func TestMapLegacyZone(t *testing.T) {
	assert.Equal(t, "America/New_York", MapLegacyZone("Eastern Standard Time"))
	assert.Equal(t, "America/New_York", MapLegacyZone("eastern standard time"))
	assert.Equal(t, "Europe/Paris", MapLegacyZone("Romance Standard Time"))
	assert.Equal(t, "Europe/Oslo", MapLegacyZone("Europe/Oslo"))
	assert.Equal(t, "Nowhere Time", MapLegacyZone("Nowhere Time"))
}

func TestParseDuration(t *testing.T) {
	cases := []struct {
		in   string
		want time.Duration
		ok   bool
	}{
		{"P1D", 24 * time.Hour, true},
		{"PT1H30M", 90 * time.Minute, true},
		{"-PT15M", -15 * time.Minute, true},
		{"P2W", 14 * 24 * time.Hour, true},
		{"P1DT2H", 26 * time.Hour, true},
		{"PT45S", 45 * time.Second, true},
		{"", 0, false},
		{"PT", 0, false},
		{"P1H", 0, false},
		{"1H", 0, false},
		{"PT1.5H", 0, false},
		{"PT1", 0, false},
	}
	for _, tc := range cases {
		got, ok := ParseDuration(tc.in)
		assert.Equal(t, tc.ok, ok, tc.in)
		if tc.ok {
			assert.Equal(t, tc.want, got, tc.in)
		}
	}
}
