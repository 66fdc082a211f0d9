// Package availability derives busy/free statistics from materialized events
// clipped to per-day work windows.
package availability

import (
	"sort"
	"time"

	"calingest/internal/model"
)

// Window is one day's work hours as UTC instants, end exclusive.
type Window struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Block is a merged busy interval.
type Block struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// DayStats is the breakdown for a single work window.
type DayStats struct {
	Window                   Window  `json:"window"`
	BusyMinutes              int     `json:"busy_minutes"`
	Blocks                   int     `json:"blocks"`
	LargestFocusBlockMinutes int     `json:"largest_focus_block_minutes"`
	Busy                     []Block `json:"busy,omitempty"`
}

// Stats totals busy time over all windows. The focus block is the largest
// free span of any single day.
type Stats struct {
	BusyMinutes              int        `json:"busy_minutes"`
	Blocks                   int        `json:"blocks"`
	LargestFocusBlockMinutes int        `json:"largest_focus_block_minutes"`
	Days                     []DayStats `json:"days"`
}

// Options tunes Calculate.
type Options struct {
	// IncludeAllDay counts all-day events as busy time.
	IncludeAllDay bool
}

// Calculate clips events to each window, merges overlapping or adjacent
// intervals and reports busy minutes, block count and the largest gap.
func Calculate(events []model.CalendarEvent, windows []Window, opts Options) Stats {
	st := Stats{Days: make([]DayStats, 0, len(windows))}
	for _, w := range windows {
		ds := day(events, w, opts)
		st.BusyMinutes += ds.BusyMinutes
		st.Blocks += ds.Blocks
		if ds.LargestFocusBlockMinutes > st.LargestFocusBlockMinutes {
			st.LargestFocusBlockMinutes = ds.LargestFocusBlockMinutes
		}
		st.Days = append(st.Days, ds)
	}
	return st
}

func day(events []model.CalendarEvent, w Window, opts Options) DayStats {
	ds := DayStats{Window: w}
	if !w.End.After(w.Start) {
		return ds
	}

	var clipped []Block
	for _, ev := range events {
		if ev.IsAllDay && !opts.IncludeAllDay {
			continue
		}
		s, e := ev.StartUTC, ev.EndUTC
		if s.Before(w.Start) {
			s = w.Start
		}
		if e.After(w.End) {
			e = w.End
		}
		if !e.After(s) {
			continue
		}
		clipped = append(clipped, Block{Start: s, End: e})
	}

	merged := merge(clipped)
	var busy time.Duration
	gap := time.Duration(0)
	cursor := w.Start
	for _, b := range merged {
		busy += b.End.Sub(b.Start)
		if g := b.Start.Sub(cursor); g > gap {
			gap = g
		}
		cursor = b.End
	}
	if g := w.End.Sub(cursor); g > gap {
		gap = g
	}

	ds.Busy = merged
	ds.Blocks = len(merged)
	ds.BusyMinutes = int(busy / time.Minute)
	ds.LargestFocusBlockMinutes = int(gap / time.Minute)
	return ds
}

func merge(in []Block) []Block {
	if len(in) == 0 {
		return nil
	}
	sort.Slice(in, func(i, j int) bool { return in[i].Start.Before(in[j].Start) })
	out := []Block{in[0]}
	for _, b := range in[1:] {
		last := &out[len(out)-1]
		if !b.Start.After(last.End) {
			if b.End.After(last.End) {
				last.End = b.End
			}
			continue
		}
		out = append(out, b)
	}
	return out
}

// WorkWindows builds one window per local calendar day from firstDay to
// lastDay inclusive, with work hours given as offsets from local midnight.
// Weekends are skipped unless includeWeekends.
func WorkWindows(firstDay, lastDay time.Time, loc *time.Location, workStart, workEnd time.Duration, includeWeekends bool) []Window {
	if loc == nil {
		loc = time.UTC
	}
	if workEnd <= workStart {
		return nil
	}
	var out []Window
	first := time.Date(firstDay.Year(), firstDay.Month(), firstDay.Day(), 0, 0, 0, 0, time.UTC)
	last := time.Date(lastDay.Year(), lastDay.Month(), lastDay.Day(), 0, 0, 0, 0, time.UTC)
	for d := first; !d.After(last); d = d.AddDate(0, 0, 1) {
		if !includeWeekends && (d.Weekday() == time.Saturday || d.Weekday() == time.Sunday) {
			continue
		}
		out = append(out, Window{
			Start: wallClock(d, workStart, loc),
			End:   wallClock(d, workEnd, loc),
		})
	}
	return out
}

func wallClock(d time.Time, offset time.Duration, loc *time.Location) time.Time {
	h := int(offset / time.Hour)
	m := int((offset % time.Hour) / time.Minute)
	return time.Date(d.Year(), d.Month(), d.Day(), h, m, 0, 0, loc).UTC()
}
