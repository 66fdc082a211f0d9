package ics

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/text/cases"

	appLog "calingest/internal/log"
	"calingest/internal/model"
	"calingest/internal/sanitize"
)

// eventNamespace scopes name-based ids of UID-less events.
var eventNamespace = uuid.MustParse("6f1c4b1e-5a0e-4d55-9a53-0c2f8f1d7a21")

// recurrenceIDLayout suffixes override ids.
const recurrenceIDLayout = "20060102T150405Z"

// MaterializeOptions drives Materialize.
type MaterializeOptions struct {
	// DefaultZone applies to floating times. Nil means UTC.
	DefaultZone *time.Location
	// WindowStart and WindowEnd bound recurrence expansion, end exclusive.
	WindowStart time.Time
	WindowEnd   time.Time

	MaxBodyLength int
	PreviewLength int
	// PersistBody false blanks SanitizedBody and BodyPreview. The content
	// hash still covers the body.
	PersistBody bool
}

// MaterializeResult is the outcome of Materialize.
type MaterializeResult struct {
	Events []model.CalendarEvent
	// Skipped counts blocks dropped for an unusable DTSTART.
	Skipped int
	// Truncated lists ids of series that hit MaxOccurrences.
	Truncated []string
}

// Materialize turns VEVENT blocks into canonical occurrences overlapping the
// window, sorted by start then id. Cancelled blocks are dropped; a
// cancelled override also suppresses the instance it points to.
func Materialize(blocks []Block, opts MaterializeOptions) MaterializeResult {
	var res MaterializeResult
	zone := opts.DefaultZone
	if zone == nil {
		zone = time.UTC
	}

	var masters, overrides []*Definition
	for _, b := range blocks {
		def, ok := BuildDefinition(b, zone)
		if !ok {
			res.Skipped++
			continue
		}
		if def.RecurrenceID != nil && def.UID != "" {
			overrides = append(overrides, def)
			continue
		}
		masters = append(masters, def)
	}

	suppressed := make(map[string]map[int64]bool)
	for _, ov := range overrides {
		if suppressed[ov.UID] == nil {
			suppressed[ov.UID] = make(map[int64]bool)
		}
		suppressed[ov.UID][ov.RecurrenceID.Unix()] = true
	}

	seen := make(map[string]bool)
	emit := func(ev model.CalendarEvent) {
		k := ev.Key()
		if seen[k] {
			return
		}
		seen[k] = true
		res.Events = append(res.Events, ev)
	}

	for _, def := range masters {
		if def.Cancelled {
			continue
		}
		content := buildContent(def, opts)
		id := def.UID
		if id == "" {
			id = derivedID(content.title, *def.Start.Instant, def.EndFor(*def.Start.Instant))
		}

		exp := Expand(def, opts.WindowStart, opts.WindowEnd, suppressed[def.UID])
		if exp.Truncated {
			res.Truncated = append(res.Truncated, id)
			appLog.Warn("ics expansion truncated", "id", id, "cap", MaxOccurrences)
		}
		for _, start := range exp.Starts {
			emit(content.event(id, start, def.EndFor(start), def.Start.AllDay))
		}
	}

	for _, ov := range overrides {
		if ov.Cancelled {
			continue
		}
		start := *ov.Start.Instant
		end := ov.EndFor(start)
		if !model.Overlaps(start, end, opts.WindowStart, opts.WindowEnd) {
			continue
		}
		content := buildContent(ov, opts)
		id := ov.UID + "_" + ov.RecurrenceID.UTC().Format(recurrenceIDLayout)
		emit(content.event(id, start, end, ov.Start.AllDay))
	}

	sort.SliceStable(res.Events, func(i, j int) bool {
		a, b := res.Events[i], res.Events[j]
		if !a.StartUTC.Equal(b.StartUTC) {
			return a.StartUTC.Before(b.StartUTC)
		}
		return a.ExternalEventID < b.ExternalEventID
	})
	return res
}

// content is the per-definition part of an occurrence, shared by every
// instance of a series.
type content struct {
	title     string
	organizer string
	with      []string
	body      string
	preview   string
	hash      string
}

func buildContent(def *Definition, opts MaterializeOptions) content {
	c := content{
		title:     strings.Join(strings.Fields(sanitize.NormalizeUnicode(def.Title)), " "),
		organizer: sanitize.Inline(def.Organizer),
		with:      dedupeParticipants(def.Attendees),
	}
	body := sanitize.Body(def.Description, opts.MaxBodyLength)
	c.hash = ContentHash(c.title, c.with, body)
	if opts.PersistBody {
		c.body = body
		c.preview = sanitize.Preview(body, opts.PreviewLength)
	}
	return c
}

func (c content) event(id string, start, end time.Time, allDay bool) model.CalendarEvent {
	return model.CalendarEvent{
		ExternalEventID:  id,
		StartUTC:         start.UTC(),
		EndUTC:           end.UTC(),
		IsAllDay:         allDay,
		Title:            c.title,
		OrganizerDisplay: c.organizer,
		WithDisplay:      c.with,
		SanitizedBody:    c.body,
		BodyPreview:      c.preview,
		ContentHash:      c.hash,
	}
}

// dedupeParticipants scrubs names and drops case-insensitive repeats,
// keeping first-appearance order.
func dedupeParticipants(names []string) []string {
	fold := cases.Fold()
	seen := make(map[string]bool, len(names))
	var out []string
	for _, n := range names {
		clean := sanitize.Inline(n)
		if clean == "" {
			continue
		}
		key := fold.String(clean)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, clean)
	}
	return out
}

// ContentHash digests the time-independent content of an event: lower-cased
// title, sorted lower-cased participants and the sanitized body.
func ContentHash(title string, participants []string, body string) string {
	lower := make([]string, len(participants))
	for i, p := range participants {
		lower[i] = strings.ToLower(p)
	}
	sort.Strings(lower)

	h := sha256.New()
	h.Write([]byte(strings.ToLower(title)))
	h.Write([]byte{0x1f})
	h.Write([]byte(strings.Join(lower, "\x1e")))
	h.Write([]byte{0x1f})
	h.Write([]byte(body))
	return hex.EncodeToString(h.Sum(nil))
}

// derivedID names a UID-less event after its title and base time span.
func derivedID(title string, start, end time.Time) string {
	name := strings.ToLower(title) + "|" + start.UTC().Format(time.RFC3339) + "|" + end.UTC().Format(time.RFC3339)
	return uuid.NewSHA1(eventNamespace, []byte(name)).String()
}
