// Package ingest drives a calendar feed from its source into the row store
// and derives availability and change deltas from what is stored.
package ingest

import (
	"context"
	"time"

	"calingest/internal/config"
	"calingest/internal/metrics"
	"calingest/internal/model"
	"calingest/internal/store"
)

type eventStore interface {
	Upsert(ctx context.Context, user, source string, events []model.CalendarEvent) error
	Range(ctx context.Context, user, source string, from, to time.Time) ([]store.StoredEvent, error)
	DeleteByIDs(ctx context.Context, ids []int64) (int64, error)
	DeleteEndingBefore(ctx context.Context, cutoff time.Time) (int64, error)
	DeleteStartingAfter(ctx context.Context, horizon time.Time) (int64, error)
}

type snapshotStore interface {
	Save(user string, day time.Time, entries []model.SnapshotEntry) error
	Latest(user string, day time.Time) ([]model.SnapshotEntry, time.Time, bool, error)
	DeleteBefore(cutoff time.Time) (int, error)
}

type feedFetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// Service is safe for concurrent use by different users; the config is
// copied on construction and never changes.
type Service struct {
	cfg       config.Config
	loc       *time.Location
	events    eventStore
	snapshots snapshotStore
	fetcher   feedFetcher
	metrics   *metrics.Recorder
	now       func() time.Time
}

func NewService(cfg config.Config, events eventStore, snapshots snapshotStore, fetcher feedFetcher, rec *metrics.Recorder) *Service {
	return &Service{
		cfg:       cfg,
		loc:       cfg.Location(),
		events:    events,
		snapshots: snapshots,
		fetcher:   fetcher,
		metrics:   rec,
		now:       time.Now,
	}
}

// Window parses caller dates in the configured zone.
func (s *Service) Window(start, end string) (Window, error) {
	return ParseWindow(start, end, s.loc, s.now())
}

// source is the store partition for the configured mode.
func (s *Service) source() string {
	return s.cfg.Source.Mode
}

// today is the current local date at UTC midnight.
func (s *Service) today() time.Time {
	n := s.now().In(s.loc)
	return time.Date(n.Year(), n.Month(), n.Day(), 0, 0, 0, 0, time.UTC)
}
