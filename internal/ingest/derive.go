package ingest

import (
	"context"
	"fmt"

	"calingest/internal/availability"
	"calingest/internal/delta"
	appLog "calingest/internal/log"
	"calingest/internal/model"
)

// Events returns the stored occurrences of user overlapping w.
func (s *Service) Events(ctx context.Context, user string, w Window) ([]model.CalendarEvent, error) {
	rows, err := s.events.Range(ctx, user, s.source(), w.Start, w.End)
	if err != nil {
		return nil, fmt.Errorf("events.Range: %w", err)
	}
	out := make([]model.CalendarEvent, len(rows))
	for i, r := range rows {
		out[i] = r.CalendarEvent
	}
	return out, nil
}

// Availability computes busy/free stats of user over the work hours of
// every day in w.
func (s *Service) Availability(ctx context.Context, user string, w Window) (availability.Stats, error) {
	evs, err := s.Events(ctx, user, w)
	if err != nil {
		return availability.Stats{}, err
	}
	workStart, workEnd := s.cfg.WorkDay()
	windows := availability.WorkWindows(w.StartDate, w.EndDate, s.loc, workStart, workEnd, s.cfg.WorkHours.IncludeWeekends)
	return availability.Calculate(evs, windows, availability.Options{IncludeAllDay: s.cfg.WorkHours.IncludeAllDay}), nil
}

// Delta diffs the stored events of user in w against the newest snapshot
// from an earlier day, then saves today's snapshot. Without an earlier
// snapshot every event is reported as added.
func (s *Service) Delta(ctx context.Context, user string, w Window) (delta.Result, error) {
	evs, err := s.Events(ctx, user, w)
	if err != nil {
		return delta.Result{}, err
	}
	next := make([]model.SnapshotEntry, len(evs))
	for i, ev := range evs {
		next[i] = ev.Snapshot()
	}

	today := s.today()
	prev, prevDay, ok, err := s.snapshots.Latest(user, today)
	if err != nil {
		return delta.Result{}, fmt.Errorf("snapshots.Latest: %w", err)
	}
	var inWindow []model.SnapshotEntry
	if ok {
		for _, p := range prev {
			if model.Overlaps(p.StartUTC, p.EndUTC, w.Start, w.End) {
				inWindow = append(inWindow, p)
			}
		}
	}

	res := delta.Diff(inWindow, next)

	if err := s.snapshots.Save(user, today, next); err != nil {
		return delta.Result{}, fmt.Errorf("snapshots.Save: %w", err)
	}
	appLog.Debug("delta computed", "user", user, "window", w.String(), "base", prevDay.Format(dateLayout),
		"added", len(res.Added), "removed", len(res.Removed), "changed", len(res.Changed))
	return res, nil
}

// SweepResult counts what a retention sweep removed.
type SweepResult struct {
	PastRows   int64 `json:"past_rows"`
	FutureRows int64 `json:"future_rows"`
	Snapshots  int   `json:"snapshots"`
}

// Sweep removes rows of every user that ended more than retention.past_days
// ago or start beyond retention.future_days, and snapshot blobs older than
// the past-day threshold.
func (s *Service) Sweep(ctx context.Context) (SweepResult, error) {
	var res SweepResult
	now := s.now()
	cutoff := now.AddDate(0, 0, -s.cfg.Retention.PastDays)
	horizon := now.AddDate(0, 0, s.cfg.Retention.FutureDays)

	var err error
	if res.PastRows, err = s.events.DeleteEndingBefore(ctx, cutoff); err != nil {
		return res, fmt.Errorf("events.DeleteEndingBefore: %w", err)
	}
	if res.FutureRows, err = s.events.DeleteStartingAfter(ctx, horizon); err != nil {
		return res, fmt.Errorf("events.DeleteStartingAfter: %w", err)
	}
	if res.Snapshots, err = s.snapshots.DeleteBefore(s.today().AddDate(0, 0, -s.cfg.Retention.PastDays)); err != nil {
		return res, fmt.Errorf("snapshots.DeleteBefore: %w", err)
	}

	s.metrics.ObserveSweep(res.PastRows, res.FutureRows, res.Snapshots)
	appLog.Info("sweep done", "past_rows", res.PastRows, "future_rows", res.FutureRows, "snapshots", res.Snapshots)
	return res, nil
}
