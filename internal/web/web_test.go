package web

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"calingest/internal/availability"
	"calingest/internal/config"
	"calingest/internal/delta"
	"calingest/internal/ingest"
	"calingest/internal/model"
)

type fakeService struct {
	eventCalls int
	lastUser   string
	failReads  bool
}

func (f *fakeService) Window(start, end string) (ingest.Window, error) {
	return ingest.ParseWindow(start, end, time.UTC, time.Date(2024, 3, 4, 12, 0, 0, 0, time.UTC))
}

func (f *fakeService) Ingest(_ context.Context, user string, _ ingest.Window) ingest.Result {
	f.lastUser = user
	return ingest.Result{Source: "remote", Warnings: []string{"calendar feed not found (HTTP 404); check the feed URL"}}
}

func (f *fakeService) Events(_ context.Context, user string, w ingest.Window) ([]model.CalendarEvent, error) {
	f.eventCalls++
	if f.failReads {
		return nil, errors.New("db down")
	}
	return []model.CalendarEvent{{ExternalEventID: "e1", StartUTC: w.Start, EndUTC: w.Start.Add(time.Hour), Title: "Sync"}}, nil
}

func (f *fakeService) Availability(context.Context, string, ingest.Window) (availability.Stats, error) {
	return availability.Stats{BusyMinutes: 90, Blocks: 1, LargestFocusBlockMinutes: 390, Days: []availability.DayStats{}}, nil
}

func (f *fakeService) Delta(context.Context, string, ingest.Window) (delta.Result, error) {
	return delta.Diff(nil, []model.SnapshotEntry{{ExternalEventID: "e1"}}), nil
}

func newTestServer(t *testing.T, auth *config.BasicAuthConfig) (*fakeService, http.Handler) {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.BasicAuth = auth
	svc := &fakeService{}
	metrics := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("calingest_up 1\n"))
	})
	return svc, NewServer(cfg, svc, metrics).Handler()
}

func do(h http.Handler, method, target string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, target, nil))
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestRoutes(t *testing.T) {
	_, h := newTestServer(t, nil)

	cases := []struct {
		name    string
		method  string
		target  string
		status  int
		hasKeys []string
	}{
		{"health", http.MethodGet, "/health", http.StatusOK, nil},
		{"metrics", http.MethodGet, "/metrics", http.StatusOK, nil},
		{"ingest", http.MethodPost, "/api/users/alice/ingest?start=2024-03-04&end=2024-03-08", http.StatusOK, []string{"source", "ingested_count", "warnings"}},
		{"events", http.MethodGet, "/api/users/alice/events", http.StatusOK, []string{"range_start", "range_end", "timezone", "events"}},
		{"availability", http.MethodGet, "/api/users/alice/availability", http.StatusOK, []string{"busy_minutes", "blocks", "largest_focus_block_minutes", "days"}},
		{"delta", http.MethodPost, "/api/users/alice/delta", http.StatusOK, []string{"added", "removed", "changed"}},
		{"delta needs POST", http.MethodGet, "/api/users/alice/delta", http.StatusMethodNotAllowed, []string{"error"}},
		{"bad window", http.MethodGet, "/api/users/alice/events?start=2024-03-08&end=2024-03-01", http.StatusBadRequest, []string{"error"}},
		{"window too long", http.MethodPost, "/api/users/alice/ingest?start=2024-01-01&end=2024-06-01", http.StatusBadRequest, []string{"error"}},
		{"ingest needs POST", http.MethodGet, "/api/users/alice/ingest", http.StatusMethodNotAllowed, []string{"error"}},
		{"unknown", http.MethodGet, "/api/nope", http.StatusNotFound, []string{"error"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := do(h, tc.method, tc.target)
			require.Equal(t, tc.status, rec.Code, rec.Body.String())
			if len(tc.hasKeys) == 0 {
				return
			}
			body := decode(t, rec)
			for _, k := range tc.hasKeys {
				assert.Contains(t, body, k)
			}
		})
	}
}

func TestIngestResponse(t *testing.T) {
	svc, h := newTestServer(t, nil)
	rec := do(h, http.MethodPost, "/api/users/bob/ingest")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "bob", svc.lastUser)

	var res ingest.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Zero(t, res.IngestedCount)
	require.Len(t, res.Warnings, 1)
	assert.Contains(t, res.Warnings[0], "404")
}

func TestEventsCache(t *testing.T) {
	svc, h := newTestServer(t, nil)

	require.Equal(t, http.StatusOK, do(h, http.MethodGet, "/api/users/alice/events").Code)
	require.Equal(t, http.StatusOK, do(h, http.MethodGet, "/api/users/alice/events").Code)
	assert.Equal(t, 1, svc.eventCalls)

	// a different window is a different entry
	require.Equal(t, http.StatusOK, do(h, http.MethodGet, "/api/users/alice/events?start=2024-03-05").Code)
	assert.Equal(t, 2, svc.eventCalls)

	// ingest invalidates the user's entries
	require.Equal(t, http.StatusOK, do(h, http.MethodPost, "/api/users/alice/ingest").Code)
	require.Equal(t, http.StatusOK, do(h, http.MethodGet, "/api/users/alice/events").Code)
	assert.Equal(t, 3, svc.eventCalls)
}

func TestEventsCachePrunesExpired(t *testing.T) {
	cfg := config.DefaultConfig()
	svc := &fakeService{}
	srv := NewServer(cfg, svc, nil)
	now := time.Date(2024, 3, 4, 12, 0, 0, 0, time.UTC)
	srv.now = func() time.Time { return now }
	h := srv.Handler()

	for _, start := range []string{"2024-03-01", "2024-03-02", "2024-03-03"} {
		require.Equal(t, http.StatusOK, do(h, http.MethodGet, "/api/users/alice/events?start="+start).Code)
	}
	assert.Len(t, srv.eventsCache, 3)

	now = now.Add(eventsCacheTTL)
	require.Equal(t, http.StatusOK, do(h, http.MethodGet, "/api/users/bob/events").Code)
	assert.Len(t, srv.eventsCache, 1)
	assert.Contains(t, srv.eventsCache, "bob\x002024-03-04..2024-03-11")
}

func TestEventsReadFailure(t *testing.T) {
	svc, h := newTestServer(t, nil)
	svc.failReads = true
	rec := do(h, http.MethodGet, "/api/users/alice/events")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "failed to read events", decode(t, rec)["error"])
}

func TestBasicAuth(t *testing.T) {
	_, h := newTestServer(t, &config.BasicAuthConfig{Username: "admin", Password: "s3cret"})

	assert.Equal(t, http.StatusOK, do(h, http.MethodGet, "/health").Code)

	rec := do(h, http.MethodGet, "/api/users/alice/events")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Header().Get("WWW-Authenticate"), "Basic")

	cases := []struct {
		user, pass string
		want       int
	}{
		{"admin", "s3cret", http.StatusOK},
		{"admin", "wrong", http.StatusUnauthorized},
		{"root", "s3cret", http.StatusUnauthorized},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodGet, "/api/users/alice/events", nil)
		req.SetBasicAuth(tc.user, tc.pass)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.Equal(t, tc.want, rec.Code, tc.user+":"+tc.pass)
	}
}

func TestBasicAuthDisabledWhenIncomplete(t *testing.T) {
	_, h := newTestServer(t, &config.BasicAuthConfig{Username: "admin"})
	assert.Equal(t, http.StatusOK, do(h, http.MethodGet, "/api/users/alice/events").Code)
}

func TestSecureCompare(t *testing.T) {
	assert.True(t, secureCompare("abc", "abc"))
	assert.False(t, secureCompare("abc", "abd"))
	assert.False(t, secureCompare("abc", "abcd"))
}
