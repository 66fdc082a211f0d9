package ics

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/teambition/rrule-go"
)

// Rule is a parsed RRULE. Weekday and frequency values reuse rrule-go's
// types; expansion is done by Expand.
type Rule struct {
	Freq     rrule.Frequency
	Interval int
	// Until is inclusive. A date-only UNTIL covers its whole local day.
	Until *time.Time
	// Count is 0 when unset.
	Count      int
	ByDay      []rrule.Weekday
	ByMonthDay []int
	ByMonth    []int
	WeekStart  rrule.Weekday
}

var frequencies = map[string]rrule.Frequency{
	"DAILY":   rrule.DAILY,
	"WEEKLY":  rrule.WEEKLY,
	"MONTHLY": rrule.MONTHLY,
	"YEARLY":  rrule.YEARLY,
}

var weekdays = map[string]rrule.Weekday{
	"MO": rrule.MO,
	"TU": rrule.TU,
	"WE": rrule.WE,
	"TH": rrule.TH,
	"FR": rrule.FR,
	"SA": rrule.SA,
	"SU": rrule.SU,
}

var byDayRe = regexp.MustCompile(`^([+-]?\d{1,2})?(MO|TU|WE|TH|FR|SA|SU)$`)

// ParseRule parses an RRULE value. It returns nil when the rule is void
// (missing or unsupported FREQ), in which case the event is treated as
// non-recurring. loc is the event zone, used for floating and date-only
// UNTIL values. BYSETPOS and the sub-daily BY* parts are ignored.
func ParseRule(value string, loc *time.Location) *Rule {
	r := &Rule{Interval: 1, WeekStart: rrule.MO}
	freqSet := false

	for _, part := range strings.Split(value, ";") {
		k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		k = strings.ToUpper(strings.TrimSpace(k))
		v = strings.ToUpper(strings.TrimSpace(v))

		switch k {
		case "FREQ":
			f, known := frequencies[v]
			if !known {
				return nil
			}
			r.Freq = f
			freqSet = true
		case "INTERVAL":
			if n, err := strconv.Atoi(v); err == nil && n > 0 {
				r.Interval = n
			}
		case "COUNT":
			if n, err := strconv.Atoi(v); err == nil && n > 0 {
				r.Count = n
			}
		case "UNTIL":
			r.Until = parseUntil(v, loc)
		case "BYDAY":
			for _, tok := range strings.Split(v, ",") {
				if wd, ok := parseByDay(tok); ok {
					r.ByDay = append(r.ByDay, wd)
				}
			}
		case "BYMONTHDAY":
			for _, tok := range strings.Split(v, ",") {
				n, err := strconv.Atoi(strings.TrimSpace(tok))
				if err == nil && n != 0 && n >= -31 && n <= 31 {
					r.ByMonthDay = append(r.ByMonthDay, n)
				}
			}
		case "BYMONTH":
			for _, tok := range strings.Split(v, ",") {
				n, err := strconv.Atoi(strings.TrimSpace(tok))
				if err == nil && n >= 1 && n <= 12 {
					r.ByMonth = append(r.ByMonth, n)
				}
			}
		case "WKST":
			if wd, ok := weekdays[v]; ok {
				r.WeekStart = wd
			}
		}
	}
	if !freqSet {
		return nil
	}
	return r
}

func parseByDay(tok string) (rrule.Weekday, bool) {
	m := byDayRe.FindStringSubmatch(strings.TrimSpace(tok))
	if m == nil {
		return rrule.Weekday{}, false
	}
	wd := weekdays[m[2]]
	if m[1] == "" {
		return wd, true
	}
	n, err := strconv.Atoi(m[1])
	if err != nil || n == 0 || n > 53 || n < -53 {
		return rrule.Weekday{}, false
	}
	return wd.Nth(n), true
}

func parseUntil(v string, loc *time.Location) *time.Time {
	pd := ResolveDateTime(v, nil, loc)
	if !pd.Valid() {
		return nil
	}
	if pd.AllDay {
		end := pd.Local.Date().AddDate(0, 0, 1)
		t := time.Date(end.Year(), end.Month(), end.Day(), 0, 0, 0, 0, pd.Location).Add(-time.Second).UTC()
		return &t
	}
	return pd.Instant
}

// goWeekday converts an rrule weekday (Monday == 0) to time.Weekday.
func goWeekday(w rrule.Weekday) time.Weekday {
	return time.Weekday((w.Day() + 1) % 7)
}

// matches reports whether civil date d belongs to the series that starts on
// civil date start. Both are UTC-midnight dates and d is never before start.
func (r *Rule) matches(d, start time.Time) bool {
	switch r.Freq {
	case rrule.DAILY:
		if daysBetween(start, d)%r.Interval != 0 {
			return false
		}
		if !r.monthAllowed(d) {
			return false
		}
		if len(r.ByMonthDay) > 0 && !r.monthDayMatch(d) {
			return false
		}
		return len(r.ByDay) == 0 || r.weekdayMatch(d, false)

	case rrule.WEEKLY:
		weeks := daysBetween(r.weekStartOf(start), r.weekStartOf(d)) / 7
		if weeks%r.Interval != 0 {
			return false
		}
		if !r.monthAllowed(d) {
			return false
		}
		if len(r.ByDay) == 0 {
			return d.Weekday() == start.Weekday()
		}
		return r.weekdayMatch(d, false)

	case rrule.MONTHLY:
		months := (d.Year()-start.Year())*12 + int(d.Month()) - int(start.Month())
		if months%r.Interval != 0 {
			return false
		}
		if !r.monthAllowed(d) {
			return false
		}
		return r.dayInMonthMatch(d, start)

	case rrule.YEARLY:
		if (d.Year()-start.Year())%r.Interval != 0 {
			return false
		}
		if len(r.ByMonth) > 0 {
			if !r.monthAllowed(d) {
				return false
			}
		} else if d.Month() != start.Month() {
			return false
		}
		return r.dayInMonthMatch(d, start)
	}
	return false
}

func (r *Rule) monthAllowed(d time.Time) bool {
	if len(r.ByMonth) == 0 {
		return true
	}
	for _, m := range r.ByMonth {
		if time.Month(m) == d.Month() {
			return true
		}
	}
	return false
}

func (r *Rule) monthDayMatch(d time.Time) bool {
	dim := daysIn(d.Year(), d.Month())
	for _, md := range r.ByMonthDay {
		if md > 0 && md == d.Day() {
			return true
		}
		if md < 0 && dim+md+1 == d.Day() {
			return true
		}
	}
	return false
}

// weekdayMatch tests BYDAY. With ordinals, Nth counts within the month.
func (r *Rule) weekdayMatch(d time.Time, ordinals bool) bool {
	dim := daysIn(d.Year(), d.Month())
	for i := range r.ByDay {
		wd := r.ByDay[i]
		if goWeekday(wd) != d.Weekday() {
			continue
		}
		n := wd.N()
		if !ordinals || n == 0 {
			return true
		}
		if n > 0 && (d.Day()-1)/7+1 == n {
			return true
		}
		if n < 0 && (dim-d.Day())/7+1 == -n {
			return true
		}
	}
	return false
}

func (r *Rule) dayInMonthMatch(d, start time.Time) bool {
	if len(r.ByMonthDay) == 0 && len(r.ByDay) == 0 {
		return d.Day() == start.Day()
	}
	if len(r.ByMonthDay) > 0 && !r.monthDayMatch(d) {
		return false
	}
	return len(r.ByDay) == 0 || r.weekdayMatch(d, true)
}

func (r *Rule) weekStartOf(d time.Time) time.Time {
	offset := (int(d.Weekday()) - int(goWeekday(r.WeekStart)) + 7) % 7
	return d.AddDate(0, 0, -offset)
}

func civil(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func civilOf(t time.Time) time.Time {
	return civil(t.Date())
}

func daysBetween(a, b time.Time) int {
	return int(b.Sub(a) / (24 * time.Hour))
}

func daysIn(y int, m time.Month) int {
	return civil(y, m+1, 0).Day()
}
