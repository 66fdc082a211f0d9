package ics

import (
	"sort"
	"strings"
	"time"

	"calingest/internal/model"
)

// MaxOccurrences bounds expansion of a single series so malformed or
// unbounded rules always terminate.
const MaxOccurrences = 2000

// Definition is one VEVENT resolved for expansion: its base fields, its
// recurrence data and, for overrides, the instance it replaces.
type Definition struct {
	UID string
	// RecurrenceID is set on single-occurrence overrides.
	RecurrenceID *time.Time
	Cancelled    bool

	Start    ParsedDateTime
	Duration time.Duration
	// AllDayDays is the span of an all-day event in days (at least 1).
	AllDayDays int

	Rule    *Rule
	ExDates []ParsedDateTime
	RDates  []ParsedDateTime

	Title       string
	Description string
	Organizer   string
	Attendees   []string
}

// Location is the zone recurrence arithmetic runs in.
func (d *Definition) Location() *time.Location {
	if d.Start.Location != nil {
		return d.Start.Location
	}
	return time.UTC
}

// EndFor returns the end of the occurrence starting at start.
func (d *Definition) EndFor(start time.Time) time.Time {
	if d.Start.AllDay {
		local := start.In(d.Location())
		end := time.Date(local.Year(), local.Month(), local.Day()+d.AllDayDays, 0, 0, 0, 0, d.Location())
		return end.UTC()
	}
	return start.Add(d.Duration).UTC()
}

// ExpandResult lists occurrence starts (UTC, ascending, unique) of one
// definition that overlap the requested window.
type ExpandResult struct {
	Starts    []time.Time
	Truncated bool
}

// Expand enumerates the occurrences of def overlapping [winStart, winEnd).
// suppressed holds instants (unix seconds) replaced by overrides; they are
// left out of the result.
//
// Candidate local days are walked one at a time from the window start
// (padded back by the event duration) or, when COUNT is set, from the series
// start, up to the earlier of UNTIL and the window end. Each matching day
// gets the DTSTART wall clock and is converted to UTC in the event zone.
func Expand(def *Definition, winStart, winEnd time.Time, suppressed map[int64]bool) ExpandResult {
	var res ExpandResult
	if def == nil || !def.Start.Valid() {
		return res
	}
	loc := def.Location()
	first := *def.Start.Instant

	var gen []time.Time
	if def.Rule == nil {
		gen = append(gen, first)
	} else {
		gen, res.Truncated = walk(def, winStart, winEnd)
	}
	for _, rd := range def.RDates {
		if t, ok := rdateInstant(def, rd, loc); ok {
			gen = append(gen, t)
		}
	}

	exInstant := make(map[int64]bool, len(def.ExDates))
	exDay := make(map[time.Time]bool)
	for _, ex := range def.ExDates {
		if !ex.Valid() {
			continue
		}
		if ex.AllDay && !def.Start.AllDay {
			exDay[ex.Local.Date()] = true
			continue
		}
		exInstant[ex.Instant.Unix()] = true
	}

	seen := make(map[int64]bool, len(gen))
	for _, t := range gen {
		key := t.Unix()
		if seen[key] || suppressed[key] || exInstant[key] {
			continue
		}
		if len(exDay) > 0 && exDay[civilOf(t.In(loc))] {
			continue
		}
		seen[key] = true
		if !model.Overlaps(t, def.EndFor(t), winStart, winEnd) {
			continue
		}
		res.Starts = append(res.Starts, t)
	}
	sort.Slice(res.Starts, func(i, j int) bool { return res.Starts[i].Before(res.Starts[j]) })
	return res
}

func walk(def *Definition, winStart, winEnd time.Time) ([]time.Time, bool) {
	r := def.Rule
	loc := def.Location()
	first := *def.Start.Instant
	base := *def.Start.Local
	startDate := base.Date()

	from := startDate
	if r.Count == 0 {
		span := def.Duration
		if def.Start.AllDay {
			span = time.Duration(def.AllDayDays) * 24 * time.Hour
		}
		padded := civilOf(winStart.Add(-span).In(loc)).AddDate(0, 0, -1)
		if padded.After(from) {
			from = padded
		}
	}
	to := civilOf(winEnd.In(loc))
	if r.Until != nil {
		if u := civilOf(r.Until.In(loc)); u.Before(to) {
			to = u
		}
	}

	var (
		out     []time.Time
		matched int
	)
	for d := from; !d.After(to); d = d.AddDate(0, 0, 1) {
		if !r.matches(d, startDate) {
			continue
		}
		t := time.Date(d.Year(), d.Month(), d.Day(), base.Hour, base.Minute, base.Second, 0, loc).UTC()
		if t.Before(first) {
			continue
		}
		if r.Until != nil && t.After(*r.Until) {
			break
		}
		out = append(out, t)
		matched++
		if r.Count > 0 && matched >= r.Count {
			break
		}
		if matched >= MaxOccurrences {
			return out, true
		}
	}
	return out, false
}

// rdateInstant resolves an RDATE against the series. A date-valued RDATE
// on a timed series takes the series' wall clock.
func rdateInstant(def *Definition, rd ParsedDateTime, loc *time.Location) (time.Time, bool) {
	if !rd.Valid() {
		return time.Time{}, false
	}
	if rd.AllDay && !def.Start.AllDay {
		base := def.Start.Local
		return time.Date(rd.Local.Year, rd.Local.Month, rd.Local.Day, base.Hour, base.Minute, base.Second, 0, loc).UTC(), true
	}
	return *rd.Instant, true
}

// BuildDefinition resolves a block into a Definition. ok is false when the
// block has no usable DTSTART.
func BuildDefinition(b Block, defaultZone *time.Location) (*Definition, bool) {
	dtstart, found := b.Get("DTSTART")
	if !found {
		return nil, false
	}
	start := ResolveDateTime(dtstart.Value, dtstart.Params, defaultZone)
	if !start.Valid() {
		return nil, false
	}
	loc := start.Location

	def := &Definition{
		UID:         strings.TrimSpace(b.Value("UID")),
		Start:       start,
		Cancelled:   strings.EqualFold(strings.TrimSpace(b.Value("STATUS")), "CANCELLED"),
		Title:       b.Value("SUMMARY"),
		Description: b.Value("DESCRIPTION"),
	}

	def.Duration, def.AllDayDays = resolveSpan(b, start, loc)

	if rr, ok := b.Get("RRULE"); ok {
		def.Rule = ParseRule(rr.Value, loc)
	}
	def.ExDates = resolveList(b.All("EXDATE"), loc)
	def.RDates = resolveList(b.All("RDATE"), loc)

	if rid, ok := b.Get("RECURRENCE-ID"); ok {
		if pd := ResolveDateTime(rid.Value, rid.Params, loc); pd.Valid() {
			def.RecurrenceID = pd.Instant
		}
	}

	if org, ok := b.Get("ORGANIZER"); ok {
		def.Organizer = org.Param("CN")
	}
	for _, att := range b.All("ATTENDEE") {
		if cn := att.Param("CN"); cn != "" {
			def.Attendees = append(def.Attendees, cn)
		}
	}
	return def, true
}

// resolveSpan works out the event length from DTEND, then DURATION, then
// the RFC 5545 defaults (one day for all-day, zero for timed).
func resolveSpan(b Block, start ParsedDateTime, loc *time.Location) (time.Duration, int) {
	if dtend, ok := b.Get("DTEND"); ok {
		end := ResolveDateTime(dtend.Value, dtend.Params, loc)
		if end.Valid() {
			if start.AllDay {
				days := 1
				if end.Local != nil {
					if n := daysBetween(start.Local.Date(), end.Local.Date()); n > 0 {
						days = n
					}
				}
				return time.Duration(days) * 24 * time.Hour, days
			}
			if d := end.Instant.Sub(*start.Instant); d > 0 {
				return d, 0
			}
			return 0, 0
		}
	}
	if dur, ok := b.Get("DURATION"); ok {
		if d, valid := ParseDuration(dur.Value); valid && d > 0 {
			if start.AllDay {
				days := int(d / (24 * time.Hour))
				if days < 1 {
					days = 1
				}
				return time.Duration(days) * 24 * time.Hour, days
			}
			return d, 0
		}
	}
	if start.AllDay {
		return 24 * time.Hour, 1
	}
	return 0, 0
}

func resolveList(props []RawProperty, loc *time.Location) []ParsedDateTime {
	var out []ParsedDateTime
	for _, p := range props {
		for _, part := range strings.Split(p.Value, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			// VALUE=PERIOD: keep the period start.
			if i := strings.IndexByte(part, '/'); i >= 0 {
				part = part[:i]
			}
			params := p.Params
			if strings.EqualFold(params["VALUE"], "PERIOD") {
				params = withoutValue(params)
			}
			out = append(out, ResolveDateTime(part, params, loc))
		}
	}
	return out
}

func withoutValue(params map[string]string) map[string]string {
	out := make(map[string]string, len(params))
	for k, v := range params {
		if k != "VALUE" {
			out[k] = v
		}
	}
	return out
}
