package ingest

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidWindow is returned for malformed, reversed or oversized
// caller windows.
var ErrInvalidWindow = errors.New("invalid window")

const (
	dateLayout        = "2006-01-02"
	defaultWindowDays = 7
	maxWindowDays     = 60
)

// Window is an inclusive range of local calendar dates and the UTC
// instants it covers, End exclusive.
type Window struct {
	// StartDate and EndDate are civil dates carried at UTC midnight.
	StartDate time.Time
	EndDate   time.Time

	Start time.Time
	End   time.Time
}

// ParseWindow validates ISO dates in loc. An empty start means today; an
// empty end means start plus seven days. The range must not run backwards
// and may span at most 60 days.
func ParseWindow(start, end string, loc *time.Location, now time.Time) (Window, error) {
	if loc == nil {
		loc = time.UTC
	}
	local := now.In(loc)
	first := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, time.UTC)

	if start != "" {
		d, err := time.Parse(dateLayout, start)
		if err != nil {
			return Window{}, fmt.Errorf("%w: start %q is not a YYYY-MM-DD date", ErrInvalidWindow, start)
		}
		first = d
	}
	last := first.AddDate(0, 0, defaultWindowDays)
	if end != "" {
		d, err := time.Parse(dateLayout, end)
		if err != nil {
			return Window{}, fmt.Errorf("%w: end %q is not a YYYY-MM-DD date", ErrInvalidWindow, end)
		}
		last = d
	}

	if last.Before(first) {
		return Window{}, fmt.Errorf("%w: end %s is before start %s", ErrInvalidWindow, last.Format(dateLayout), first.Format(dateLayout))
	}
	if days := int(last.Sub(first).Hours() / 24); days > maxWindowDays {
		return Window{}, fmt.Errorf("%w: %d days exceeds the %d day limit", ErrInvalidWindow, days, maxWindowDays)
	}

	return Window{
		StartDate: first,
		EndDate:   last,
		Start:     time.Date(first.Year(), first.Month(), first.Day(), 0, 0, 0, 0, loc).UTC(),
		End:       time.Date(last.Year(), last.Month(), last.Day()+1, 0, 0, 0, 0, loc).UTC(),
	}, nil
}

// String renders the window as its date range.
func (w Window) String() string {
	return w.StartDate.Format(dateLayout) + ".." + w.EndDate.Format(dateLayout)
}
