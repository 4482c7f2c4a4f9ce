package web

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/samber/lo"

	"cityfeed/internal/config"
	"cityfeed/internal/ics"
	appLog "cityfeed/internal/log"
	"cityfeed/internal/model"
	"cityfeed/internal/pipeline"
)

const authRealm = "cityfeed"

// Refresher is what the server needs from the refresh pipeline.
type Refresher interface {
	Snapshot() *pipeline.Snapshot
	Refresh(ctx context.Context) (*pipeline.Snapshot, error)
}

// Server provides the HTTP API over the latest refresh snapshot.
type Server struct {
	runner  Refresher
	metrics http.Handler
	auth    *config.BasicAuthConfig
	router  chi.Router
}

// NewServer constructs a new Server. metricsHandler may be nil, in which
// case /metrics is not mounted. auth, when enabled, protects every route
// except /health with HTTP Basic Auth.
func NewServer(runner Refresher, metricsHandler http.Handler, auth *config.BasicAuthConfig) *Server {
	s := &Server{
		runner:  runner,
		metrics: metricsHandler,
		auth:    auth,
		router:  chi.NewRouter(),
	}
	s.registerRoutes()
	return s
}

// Handler returns the underlying http.Handler for this server.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) registerRoutes() {
	r := s.router
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)

	// /health is always served without authentication.
	r.Get("/health", s.handleHealth)

	r.Group(func(r chi.Router) {
		if s.auth.Enabled() {
			appLog.Info("HTTP basic auth enabled", "user", s.auth.Username)
			r.Use(middleware.BasicAuth(authRealm, map[string]string{
				s.auth.Username: s.auth.Password,
			}))
		}
		r.Get("/api/occurrences", s.handleOccurrences)
		r.Post("/api/refresh", s.handleRefresh)
		r.Get("/calendar.ics", s.handleCalendar)
		if s.metrics != nil {
			r.Method(http.MethodGet, "/metrics", s.metrics)
		}
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// occurrencesResponse is the JSON response shape for /api/occurrences.
type occurrencesResponse struct {
	Occurrences []occurrenceDTO `json:"occurrences"`
	RangeStart  time.Time       `json:"range_start"`
	RangeEnd    time.Time       `json:"range_end"`
	GeneratedAt time.Time       `json:"generated_at"`
	Errors      []string        `json:"errors,omitempty"`
}

// occurrenceDTO adds host-city wall-clock renderings to an occurrence.
type occurrenceDTO struct {
	model.Occurrence
	LocalStart      string `json:"local_start"`
	LocalEnd        string `json:"local_end,omitempty"`
	DurationMinutes int    `json:"duration_minutes,omitempty"`
}

// handleOccurrences returns occurrences from the latest snapshot.
//
// GET /api/occurrences?days=7&source=ID
//   - days:   limit to the first N days of the window (default: whole window)
//   - source: only occurrences of one source
func (s *Server) handleOccurrences(w http.ResponseWriter, r *http.Request) {
	snap := s.runner.Snapshot()
	if snap == nil {
		writeError(w, http.StatusServiceUnavailable, "no refresh has completed yet")
		return
	}

	selected, rangeEnd := filterOccurrences(snap, r)
	dtos := lo.Map(selected, func(occ model.Occurrence, _ int) occurrenceDTO {
		return toDTO(occ)
	})

	writeJSON(w, http.StatusOK, occurrencesResponse{
		Occurrences: dtos,
		RangeStart:  snap.Window.Start,
		RangeEnd:    rangeEnd,
		GeneratedAt: snap.GeneratedAt,
		Errors:      snap.Errors,
	})
}

// handleCalendar re-exports the snapshot as a flat ICS feed.
func (s *Server) handleCalendar(w http.ResponseWriter, r *http.Request) {
	snap := s.runner.Snapshot()
	if snap == nil {
		writeError(w, http.StatusServiceUnavailable, "no refresh has completed yet")
		return
	}
	selected, _ := filterOccurrences(snap, r)

	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(ics.Export(selected, snap.GeneratedAt)))
}

type refreshResponse struct {
	Occurrences int       `json:"occurrences"`
	GeneratedAt time.Time `json:"generated_at"`
	Errors      []string  `json:"errors,omitempty"`
}

// handleRefresh runs a refresh synchronously. Source failures do not fail
// the request; they are listed in the response.
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	snap, err := s.runner.Refresh(r.Context())
	if err != nil {
		appLog.Error("api refresh finished with errors", err)
	}
	writeJSON(w, http.StatusOK, refreshResponse{
		Occurrences: len(snap.Occurrences),
		GeneratedAt: snap.GeneratedAt,
		Errors:      snap.Errors,
	})
}

// filterOccurrences applies the days and source query parameters. days is
// clamped to the snapshot window.
func filterOccurrences(snap *pipeline.Snapshot, r *http.Request) ([]model.Occurrence, time.Time) {
	q := r.URL.Query()
	rangeEnd := snap.Window.End
	if days := parseIntDefault(q.Get("days"), 0); days > 0 {
		if end := snap.Window.Start.AddDate(0, 0, days); end.Before(rangeEnd) {
			rangeEnd = end
		}
	}
	source := q.Get("source")

	out := lo.Filter(snap.Occurrences, func(occ model.Occurrence, _ int) bool {
		return !occ.Start.After(rangeEnd) && (source == "" || occ.SourceID == source)
	})
	return out, rangeEnd
}

func toDTO(occ model.Occurrence) occurrenceDTO {
	const layout = "2006-01-02T15:04:05-07:00"
	dto := occurrenceDTO{
		Occurrence:      occ,
		LocalStart:      occ.Start.In(ics.HostZone(occ.Start)).Format(layout),
		DurationMinutes: int(occ.Duration() / time.Minute),
	}
	if occ.End != nil {
		dto.LocalEnd = occ.End.In(ics.HostZone(*occ.End)).Format(layout)
	}
	return dto
}

// requestLogger logs one line per request with status and latency.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		appLog.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

func parseIntDefault(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
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
