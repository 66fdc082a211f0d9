package ics

import (
	"strconv"
	"strings"
	"time"
)

// LocalParts is a wall-clock reading in the event's own zone.
type LocalParts struct {
	Year   int
	Month  time.Month
	Day    int
	Hour   int
	Minute int
	Second int
}

// In places the wall clock in loc. Nonexistent times (spring-forward gaps)
// are normalized forward by time.Date.
func (p LocalParts) In(loc *time.Location) time.Time {
	return time.Date(p.Year, p.Month, p.Day, p.Hour, p.Minute, p.Second, 0, loc)
}

// Date returns the calendar date as UTC midnight.
func (p LocalParts) Date() time.Time {
	return civil(p.Year, p.Month, p.Day)
}

// ParsedDateTime is a resolved DTSTART/DTEND/EXDATE/... value.
type ParsedDateTime struct {
	// Instant is nil when the value could not be parsed.
	Instant *time.Time
	AllDay  bool
	// TZID is the zone the value was read in after legacy mapping.
	TZID  string
	Local *LocalParts

	// Location is the zone used for recurrence arithmetic.
	Location *time.Location
}

// Valid reports whether the value resolved to an instant.
func (p ParsedDateTime) Valid() bool {
	return p.Instant != nil
}

// ResolveDateTime converts a feed date or date-time value into UTC. It never
// fails: unparseable input yields a ParsedDateTime with a nil Instant.
//
//	20240105          all-day, local midnight in the event zone
//	20240105T090000Z  UTC
//	20240105T090000   wall clock in TZID, or defaultZone without one
func ResolveDateTime(value string, params map[string]string, defaultZone *time.Location) ParsedDateTime {
	if defaultZone == nil {
		defaultZone = time.UTC
	}
	value = strings.TrimSpace(value)

	loc, tzid := defaultZone, defaultZone.String()
	if z := params["TZID"]; z != "" {
		loc, tzid = ResolveZone(z, defaultZone)
	}

	isDate := len(value) == 8 || strings.EqualFold(params["VALUE"], "DATE")
	if isDate {
		if len(value) > 8 {
			value = value[:8]
		}
		y, m, d, ok := parseDate(value)
		if !ok {
			return ParsedDateTime{TZID: tzid}
		}
		lp := &LocalParts{Year: y, Month: m, Day: d}
		t := lp.In(loc).UTC()
		return ParsedDateTime{Instant: &t, AllDay: true, TZID: tzid, Local: lp, Location: loc}
	}

	utc := strings.HasSuffix(value, "Z") || strings.HasSuffix(value, "z")
	if utc {
		value = value[:len(value)-1]
		loc, tzid = time.UTC, "UTC"
	}
	if len(value) != 15 || (value[8] != 'T' && value[8] != 't') {
		return ParsedDateTime{TZID: tzid}
	}
	y, m, d, ok := parseDate(value[:8])
	if !ok {
		return ParsedDateTime{TZID: tzid}
	}
	hh, ok1 := parseField(value[9:11], 0, 23)
	mm, ok2 := parseField(value[11:13], 0, 59)
	ss, ok3 := parseField(value[13:15], 0, 60)
	if !ok1 || !ok2 || !ok3 {
		return ParsedDateTime{TZID: tzid}
	}
	if ss == 60 {
		ss = 59
	}

	lp := &LocalParts{Year: y, Month: m, Day: d, Hour: hh, Minute: mm, Second: ss}
	t := lp.In(loc).UTC()
	return ParsedDateTime{Instant: &t, TZID: tzid, Local: lp, Location: loc}
}

func parseDate(s string) (int, time.Month, int, bool) {
	if len(s) != 8 {
		return 0, 0, 0, false
	}
	y, ok1 := parseField(s[0:4], 1, 9999)
	m, ok2 := parseField(s[4:6], 1, 12)
	d, ok3 := parseField(s[6:8], 1, 31)
	if !ok1 || !ok2 || !ok3 {
		return 0, 0, 0, false
	}
	if d > daysIn(y, time.Month(m)) {
		return 0, 0, 0, false
	}
	return y, time.Month(m), d, true
}

func parseField(s string, lo, hi int) (int, bool) {
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, false
		}
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < lo || n > hi {
		return 0, false
	}
	return n, true
}

// ParseDuration reads an RFC 5545 DURATION value such as P1D, PT1H30M,
// -PT15M or P2W.
func ParseDuration(value string) (time.Duration, bool) {
	s := strings.ToUpper(strings.TrimSpace(value))
	if s == "" {
		return 0, false
	}
	sign := time.Duration(1)
	switch s[0] {
	case '-':
		sign = -1
		s = s[1:]
	case '+':
		s = s[1:]
	}
	if !strings.HasPrefix(s, "P") || len(s) < 2 {
		return 0, false
	}
	s = s[1:]

	var total time.Duration
	inTime := false
	num := ""
	seen := false
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
			num += string(r)
			continue
		case r == 'T':
			if inTime || num != "" {
				return 0, false
			}
			inTime = true
			continue
		}
		if num == "" {
			return 0, false
		}
		n, err := strconv.Atoi(num)
		if err != nil {
			return 0, false
		}
		num = ""
		unit := time.Duration(n)
		switch {
		case r == 'W' && !inTime:
			total += unit * 7 * 24 * time.Hour
		case r == 'D' && !inTime:
			total += unit * 24 * time.Hour
		case r == 'H' && inTime:
			total += unit * time.Hour
		case r == 'M' && inTime:
			total += unit * time.Minute
		case r == 'S' && inTime:
			total += unit * time.Second
		default:
			return 0, false
		}
		seen = true
	}
	if num != "" || !seen {
		return 0, false
	}
	return sign * total, true
}
