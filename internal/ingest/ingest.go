package ingest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"

	"calingest/internal/config"
	"calingest/internal/ics"
	appLog "calingest/internal/log"
	"calingest/internal/metrics"
	"calingest/internal/model"
)

// Result is the payload of one ingest call.
type Result struct {
	Source        string   `json:"source"`
	IngestedCount int      `json:"ingested_count"`
	Warnings      []string `json:"warnings"`
}

// Ingest loads the feed, materializes it over w and reconciles the stored
// rows of user. Feed and storage problems end up in Warnings; the call
// itself does not fail.
func (s *Service) Ingest(ctx context.Context, user string, w Window) Result {
	began := s.now()
	res := Result{Source: s.source(), Warnings: []string{}}
	sample := metrics.IngestSample{Source: res.Source}
	defer func() {
		sample.Ingested = res.IngestedCount
		sample.Warnings = len(res.Warnings)
		sample.Elapsed = s.now().Sub(began)
		s.metrics.ObserveIngest(sample)
	}()

	warn := func(msg string) {
		appLog.Warn("ingest warning", "user", user, "source", res.Source, "warning", msg)
		res.Warnings = append(res.Warnings, msg)
	}

	body, msg := s.load(ctx)
	if msg != "" {
		warn(msg)
		return res
	}

	tok, err := ics.Tokenize(body)
	if err != nil {
		if errors.Is(err, ics.ErrEmptyFeed) {
			warn("calendar feed is empty")
		} else {
			warn(fmt.Sprintf("calendar feed could not be parsed: %v", err))
		}
		return res
	}

	mat := ics.Materialize(tok.Blocks, ics.MaterializeOptions{
		DefaultZone:   s.loc,
		WindowStart:   w.Start,
		WindowEnd:     w.End,
		MaxBodyLength: s.cfg.Body.MaxLength,
		PreviewLength: s.cfg.Body.PreviewLength,
		PersistBody:   s.cfg.Body.Persist,
	})
	sample.Skipped = tok.Skipped + mat.Skipped
	sample.Truncated = len(mat.Truncated)
	if sample.Skipped > 0 {
		appLog.Info("malformed events skipped", "user", user, "count", sample.Skipped)
	}
	for _, id := range mat.Truncated {
		warn(fmt.Sprintf("recurring event %s has more than %d occurrences; later ones were dropped", id, ics.MaxOccurrences))
	}

	rows := make([]model.CalendarEvent, 0, len(mat.Events))
	for _, ev := range mat.Events {
		if model.Overlaps(ev.StartUTC, ev.EndUTC, w.Start, w.End) {
			rows = append(rows, ev)
		}
	}

	if err := s.reconcile(ctx, user, w, rows); err != nil {
		appLog.Error("reconcile failed", err, "user", user, "window", w.String())
		warn("calendar storage is unavailable; events were not saved")
		return res
	}

	res.IngestedCount = len(rows)
	appLog.Info("ingest done", "user", user, "source", res.Source, "window", w.String(), "count", res.IngestedCount)
	return res
}

// reconcile upserts rows, then removes stored rows in the window whose key
// is gone from the feed. The two steps are not one transaction; a failure
// in between leaves stale rows until the next ingest.
func (s *Service) reconcile(ctx context.Context, user string, w Window, rows []model.CalendarEvent) error {
	if err := s.events.Upsert(ctx, user, s.source(), rows); err != nil {
		return fmt.Errorf("upsert: %w", err)
	}

	keep := make(map[string]struct{}, len(rows))
	for _, r := range rows {
		keep[r.Key()] = struct{}{}
	}

	stored, err := s.events.Range(ctx, user, s.source(), w.Start, w.End)
	if err != nil {
		return fmt.Errorf("read window: %w", err)
	}
	var stale []int64
	for _, st := range stored {
		if _, ok := keep[st.Key()]; !ok {
			stale = append(stale, st.RowID)
		}
	}

	n, err := s.events.DeleteByIDs(ctx, stale)
	if err != nil {
		return fmt.Errorf("delete stale: %w", err)
	}
	if n > 0 {
		appLog.Debug("stale rows removed", "user", user, "count", n)
	}
	return nil
}

// load returns the feed bytes, or a warning explaining why there are none.
func (s *Service) load(ctx context.Context) ([]byte, string) {
	src := s.cfg.Source
	var (
		body []byte
		err  error
	)

	switch src.Mode {
	case config.ModeDisabled:
		return nil, "calendar source is disabled"

	case config.ModeLocal:
		if src.LocalPath == "" {
			return nil, "local calendar mode is enabled but no feed file is configured"
		}
		body, err = os.ReadFile(src.LocalPath)
		if err != nil {
			appLog.Error("read local feed failed", err, "path", src.LocalPath)
			return nil, "local calendar feed could not be read"
		}

	case config.ModeRemote:
		if src.RemoteURL == "" {
			return nil, "remote calendar mode is enabled but no feed URL is configured"
		}
		body, err = s.fetcher.Fetch(ctx, src.RemoteURL)
		if err != nil {
			return nil, fetchWarning(err)
		}

	default:
		return nil, fmt.Sprintf("unknown calendar source mode %q", src.Mode)
	}

	if len(bytes.TrimSpace(body)) == 0 {
		return nil, "calendar feed is empty"
	}
	return body, ""
}

// fetchWarning maps a fetch error to caller-facing text. The feed URL may
// carry a secret token, so it never appears in the message.
func fetchWarning(err error) string {
	var se *ics.StatusError
	if errors.As(err, &se) {
		return statusWarning(se.StatusCode)
	}
	var ue *url.Error
	if errors.As(err, &ue) {
		if ue.Timeout() {
			return "calendar provider did not respond in time"
		}
		err = ue.Err
	}
	return fmt.Sprintf("calendar provider could not be reached: %v", err)
}

func statusWarning(code int) string {
	switch {
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return fmt.Sprintf("calendar provider denied access (HTTP %d); check the feed URL token", code)
	case code == http.StatusNotFound:
		return "calendar feed not found (HTTP 404); check the feed URL"
	case code == http.StatusTooManyRequests:
		return "calendar provider rate-limited the request (HTTP 429); retry later"
	case code >= 500:
		return fmt.Sprintf("calendar provider error (HTTP %d); retry later", code)
	default:
		return fmt.Sprintf("calendar fetch failed (HTTP %d)", code)
	}
}
