package web

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"calingest/internal/availability"
	"calingest/internal/config"
	"calingest/internal/delta"
	"calingest/internal/ingest"
	appLog "calingest/internal/log"
	"calingest/internal/model"
)

type service interface {
	Window(start, end string) (ingest.Window, error)
	Ingest(ctx context.Context, user string, w ingest.Window) ingest.Result
	Events(ctx context.Context, user string, w ingest.Window) ([]model.CalendarEvent, error)
	Availability(ctx context.Context, user string, w ingest.Window) (availability.Stats, error)
	Delta(ctx context.Context, user string, w ingest.Window) (delta.Result, error)
}

// Server exposes the ingest service over HTTP.
type Server struct {
	cfg     *config.Config
	svc     service
	metrics http.Handler
	handler http.Handler

	// Short-lived cache of /events responses. An ingest for a user drops
	// that user's entries.
	eventsMu    sync.RWMutex
	eventsCache map[string]eventsCache
	now         func() time.Time
}

const eventsCacheTTL = 30 * time.Second

type eventsCache struct {
	resp      eventsResponse
	updatedAt time.Time
}

// NewServer constructs a new Server. metrics may be nil.
func NewServer(cfg *config.Config, svc service, metrics http.Handler) *Server {
	s := &Server{
		cfg:         cfg,
		svc:         svc,
		metrics:     metrics,
		eventsCache: make(map[string]eventsCache),
		now:         time.Now,
	}
	s.registerRoutes()
	return s
}

// Handler returns the underlying http.Handler for this server.
func (s *Server) Handler() http.Handler {
	return s.handler
}

func (s *Server) registerRoutes() {
	r := chi.NewMux()
	r.Use(requestLogger, middleware.Recoverer, middleware.StripSlashes)
	if s.basicAuthEnabled() {
		appLog.Info("HTTP basic auth enabled", "listen", "http://"+s.cfg.Listen)
		r.Use(s.basicAuthMiddleware)
	}
	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "the requested resource could not be found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "the "+r.Method+" method is not supported for this resource")
	})

	r.Get("/health", s.handleHealth)
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics)
	}

	r.Route("/api/users/{user}", func(r chi.Router) {
		r.Post("/ingest", s.handleIngest)
		r.Get("/events", s.handleEvents)
		r.Get("/availability", s.handleAvailability)
		r.Post("/delta", s.handleDelta)
	})

	s.handler = r
}

// basicAuthEnabled reports whether HTTP Basic Auth is configured.
func (s *Server) basicAuthEnabled() bool {
	if s.cfg == nil || s.cfg.BasicAuth == nil {
		return false
	}
	// empty username or password means disabled
	if s.cfg.BasicAuth.Username == "" || s.cfg.BasicAuth.Password == "" {
		return false
	}
	return true
}

// basicAuthMiddleware wraps all handlers except /health with HTTP Basic Auth.
func (s *Server) basicAuthMiddleware(next http.Handler) http.Handler {
	username := s.cfg.BasicAuth.Username
	password := s.cfg.BasicAuth.Password

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		u, p, ok := r.BasicAuth()
		if !ok || !secureCompare(u, username) || !secureCompare(p, password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="calingest", charset="UTF-8"`)
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// secureCompare compares two strings in constant time.
func secureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		started := time.Now()
		next.ServeHTTP(ww, r)
		appLog.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"addr", r.RemoteAddr,
			"elapsed", time.Since(started).String(),
		)
	})
}

// StartServer serves h on cfg.Listen until ctx is cancelled, then shuts
// down gracefully.
func StartServer(ctx context.Context, cfg *config.Config, h http.Handler) error {
	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+cfg.Listen)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		appLog.Info("shutting down HTTP server")
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// userAndWindow reads the {user} path segment and the start/end query
// dates. It writes a 400 and returns ok=false on bad input.
func (s *Server) userAndWindow(w http.ResponseWriter, r *http.Request) (string, ingest.Window, bool) {
	user := strings.TrimSpace(chi.URLParam(r, "user"))
	if user == "" {
		writeError(w, http.StatusBadRequest, "user is required")
		return "", ingest.Window{}, false
	}
	q := r.URL.Query()
	win, err := s.svc.Window(q.Get("start"), q.Get("end"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return "", ingest.Window{}, false
	}
	return user, win, true
}

// handleIngest runs one ingest for the user.
//
// POST /api/users/{user}/ingest?start=2024-03-04&end=2024-03-10
//
// Feed problems are reported in the warnings array with status 200.
func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	user, win, ok := s.userAndWindow(w, r)
	if !ok {
		return
	}
	res := s.svc.Ingest(r.Context(), user, win)
	s.dropCached(user)
	writeJSON(w, http.StatusOK, res)
}

// eventsResponse is the JSON response shape for /events.
type eventsResponse struct {
	RangeStart time.Time             `json:"range_start"`
	RangeEnd   time.Time             `json:"range_end"`
	Timezone   string                `json:"timezone"`
	Events     []model.CalendarEvent `json:"events"`
}

// handleEvents returns the stored occurrences overlapping the window.
//
// GET /api/users/{user}/events?start=2024-03-04&end=2024-03-10
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	user, win, ok := s.userAndWindow(w, r)
	if !ok {
		return
	}

	key := user + "\x00" + win.String()
	s.eventsMu.RLock()
	ec, hit := s.eventsCache[key]
	s.eventsMu.RUnlock()
	if hit && s.now().Sub(ec.updatedAt) < eventsCacheTTL {
		writeJSON(w, http.StatusOK, ec.resp)
		return
	}

	evs, err := s.svc.Events(r.Context(), user, win)
	if err != nil {
		appLog.Error("api events: read failed", err, "user", user)
		writeError(w, http.StatusInternalServerError, "failed to read events")
		return
	}
	if evs == nil {
		evs = []model.CalendarEvent{}
	}
	resp := eventsResponse{
		RangeStart: win.Start,
		RangeEnd:   win.End,
		Timezone:   s.cfg.Timezone,
		Events:     evs,
	}

	s.storeCached(key, resp)

	writeJSON(w, http.StatusOK, resp)
}

// storeCached adds an entry and prunes expired ones.
func (s *Server) storeCached(key string, resp eventsResponse) {
	now := s.now()
	s.eventsMu.Lock()
	defer s.eventsMu.Unlock()
	for k, ec := range s.eventsCache {
		if now.Sub(ec.updatedAt) >= eventsCacheTTL {
			delete(s.eventsCache, k)
		}
	}
	s.eventsCache[key] = eventsCache{resp: resp, updatedAt: now}
}

func (s *Server) dropCached(user string) {
	prefix := user + "\x00"
	s.eventsMu.Lock()
	defer s.eventsMu.Unlock()
	for k := range s.eventsCache {
		if strings.HasPrefix(k, prefix) {
			delete(s.eventsCache, k)
		}
	}
}

func (s *Server) handleAvailability(w http.ResponseWriter, r *http.Request) {
	user, win, ok := s.userAndWindow(w, r)
	if !ok {
		return
	}
	st, err := s.svc.Availability(r.Context(), user, win)
	if err != nil {
		appLog.Error("api availability failed", err, "user", user)
		writeError(w, http.StatusInternalServerError, "failed to compute availability")
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// handleDelta diffs the stored window against the last earlier snapshot.
// It saves today's snapshot, hence POST.
//
// POST /api/users/{user}/delta?start=2024-03-04&end=2024-03-10
func (s *Server) handleDelta(w http.ResponseWriter, r *http.Request) {
	user, win, ok := s.userAndWindow(w, r)
	if !ok {
		return
	}
	res, err := s.svc.Delta(r.Context(), user, win)
	if err != nil {
		appLog.Error("api delta failed", err, "user", user)
		writeError(w, http.StatusInternalServerError, "failed to compute delta")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("failed to write JSON response", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	type errResp struct {
		Error string `json:"error"`
	}
	writeJSON(w, status, errResp{Error: msg})
}
