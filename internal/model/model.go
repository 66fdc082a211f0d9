package model

import (
	"strconv"
	"time"
)

// CalendarEvent is one materialized occurrence of a feed event, normalized
// to UTC and scrubbed. At most one record exists per (ExternalEventID,
// StartUTC); that pair is the upsert and snapshot key.
type CalendarEvent struct {
	// ExternalEventID is the feed UID (suffixed with the recurrence instant
	// for single-occurrence overrides) or a derived id for UID-less entries.
	ExternalEventID string `json:"external_event_id"`

	StartUTC time.Time `json:"start_utc"`
	EndUTC   time.Time `json:"end_utc"`
	IsAllDay bool      `json:"is_all_day"`

	Title            string   `json:"title"`
	OrganizerDisplay string   `json:"organizer_display,omitempty"`
	WithDisplay      []string `json:"with_display,omitempty"`
	SanitizedBody    string   `json:"sanitized_body,omitempty"`
	BodyPreview      string   `json:"body_preview,omitempty"`

	// ContentHash covers title, participants and body but not timestamps.
	ContentHash string `json:"content_hash"`
}

// Key returns the (ExternalEventID, StartUTC) identity as a string.
func (e CalendarEvent) Key() string {
	return OccurrenceKey(e.ExternalEventID, e.StartUTC)
}

// Snapshot projects the event onto its diffable fields.
func (e CalendarEvent) Snapshot() SnapshotEntry {
	return SnapshotEntry{
		ExternalEventID: e.ExternalEventID,
		StartUTC:        e.StartUTC,
		EndUTC:          e.EndUTC,
		ContentHash:     e.ContentHash,
	}
}

// SnapshotEntry is the compact prior-state record used only for diffing.
type SnapshotEntry struct {
	ExternalEventID string    `json:"id"`
	StartUTC        time.Time `json:"start"`
	EndUTC          time.Time `json:"end"`
	ContentHash     string    `json:"hash"`
}

// OccurrenceKey builds the canonical per-occurrence key.
func OccurrenceKey(id string, start time.Time) string {
	return id + "@" + strconv.FormatInt(start.UTC().Unix(), 10)
}

// Overlaps reports whether [start, end) intersects [winStart, winEnd).
// Zero-length events count when their start lies inside the window.
func Overlaps(start, end, winStart, winEnd time.Time) bool {
	if !start.Before(winEnd) {
		return false
	}
	if end.After(winStart) {
		return true
	}
	return !end.After(start) && !start.Before(winStart)
}
