package web

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cityfeed/internal/config"
	"cityfeed/internal/ics"
	"cityfeed/internal/metrics"
	"cityfeed/internal/model"
	"cityfeed/internal/pipeline"
)

type fakeRunner struct {
	snap       *pipeline.Snapshot
	refreshErr error
	refreshes  int
}

func (f *fakeRunner) Snapshot() *pipeline.Snapshot { return f.snap }

func (f *fakeRunner) Refresh(context.Context) (*pipeline.Snapshot, error) {
	f.refreshes++
	return f.snap, f.refreshErr
}

var generated = time.Date(2026, time.May, 2, 0, 0, 0, 0, time.UTC)

func testSnapshot() *pipeline.Snapshot {
	end := time.Date(2026, time.May, 8, 20, 0, 0, 0, time.UTC)
	return &pipeline.Snapshot{
		Window:      ics.NewWindow(generated, 30),
		GeneratedAt: generated,
		Occurrences: []model.Occurrence{
			{SourceID: "jazz", ID: "jam_20260508", Summary: "Jam", Start: time.Date(2026, time.May, 8, 17, 0, 0, 0, time.UTC), End: &end},
			{SourceID: "museum", ID: "tour", Summary: "Tour", Start: time.Date(2026, time.May, 20, 8, 0, 0, 0, time.UTC)},
			{SourceID: "jazz", ID: "jam_20260529", Summary: "Jam", Start: time.Date(2026, time.May, 29, 17, 0, 0, 0, time.UTC)},
		},
	}
}

func serve(t *testing.T, s *Server, method, target string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(method, target, nil))
	return rec
}

func decodeOccurrences(t *testing.T, rec *httptest.ResponseRecorder) occurrencesResponse {
	t.Helper()
	require.Equal(t, http.StatusOK, rec.Code)
	var resp occurrencesResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	return resp
}

func TestHealth(t *testing.T) {
	rec := serve(t, NewServer(&fakeRunner{}, nil, nil), http.MethodGet, "/health")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())
}

func TestOccurrences_BeforeFirstRefresh(t *testing.T) {
	s := NewServer(&fakeRunner{}, nil, nil)

	assert.Equal(t, http.StatusServiceUnavailable, serve(t, s, http.MethodGet, "/api/occurrences").Code)
	assert.Equal(t, http.StatusServiceUnavailable, serve(t, s, http.MethodGet, "/calendar.ics").Code)
}

func TestOccurrences_All(t *testing.T) {
	s := NewServer(&fakeRunner{snap: testSnapshot()}, nil, nil)

	resp := decodeOccurrences(t, serve(t, s, http.MethodGet, "/api/occurrences"))
	require.Len(t, resp.Occurrences, 3)
	assert.Equal(t, generated, resp.RangeStart)
	assert.Equal(t, generated.AddDate(0, 0, 30), resp.RangeEnd)

	first := resp.Occurrences[0]
	assert.Equal(t, "jam_20260508", first.ID)
	assert.Equal(t, "jazz", first.SourceID)
	assert.Equal(t, "2026-05-08T19:00:00+02:00", first.LocalStart)
	assert.Equal(t, "2026-05-08T22:00:00+02:00", first.LocalEnd)
	assert.Equal(t, 180, first.DurationMinutes)
	assert.Empty(t, resp.Occurrences[1].LocalEnd)
}

func TestOccurrences_Filters(t *testing.T) {
	s := NewServer(&fakeRunner{snap: testSnapshot()}, nil, nil)

	resp := decodeOccurrences(t, serve(t, s, http.MethodGet, "/api/occurrences?days=7"))
	require.Len(t, resp.Occurrences, 1)
	assert.Equal(t, generated.AddDate(0, 0, 7), resp.RangeEnd)

	resp = decodeOccurrences(t, serve(t, s, http.MethodGet, "/api/occurrences?source=jazz"))
	assert.Len(t, resp.Occurrences, 2)

	resp = decodeOccurrences(t, serve(t, s, http.MethodGet, "/api/occurrences?days=90&source=museum"))
	require.Len(t, resp.Occurrences, 1)
	assert.Equal(t, generated.AddDate(0, 0, 30), resp.RangeEnd)

	resp = decodeOccurrences(t, serve(t, s, http.MethodGet, "/api/occurrences?days=soon"))
	assert.Len(t, resp.Occurrences, 3)
}

func TestCalendar(t *testing.T) {
	s := NewServer(&fakeRunner{snap: testSnapshot()}, nil, nil)

	rec := serve(t, s, http.MethodGet, "/calendar.ics?source=museum")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.HasPrefix(rec.Header().Get("Content-Type"), "text/calendar"))

	records := ics.ParseRecords(rec.Body.String())
	require.Len(t, records, 1)
	assert.Equal(t, "museum/tour", records[0].ID)
}

func TestRefresh(t *testing.T) {
	runner := &fakeRunner{snap: testSnapshot(), refreshErr: errors.New("source x: timeout")}
	runner.snap.Errors = []string{"source x: timeout"}
	s := NewServer(runner, nil, nil)

	rec := serve(t, s, http.MethodPost, "/api/refresh")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp refreshResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, 3, resp.Occurrences)
	assert.Equal(t, []string{"source x: timeout"}, resp.Errors)
	assert.Equal(t, 1, runner.refreshes)

	assert.Equal(t, http.StatusMethodNotAllowed, serve(t, s, http.MethodGet, "/api/refresh").Code)
}

func TestBasicAuth(t *testing.T) {
	auth := &config.BasicAuthConfig{Username: "editor", Password: "s3cret"}
	runner := &fakeRunner{snap: testSnapshot()}
	s := NewServer(runner, metrics.NewCollector().Handler(), auth)

	assert.Equal(t, http.StatusOK, serve(t, s, http.MethodGet, "/health").Code)

	for _, target := range []string{"/api/occurrences", "/calendar.ics", "/metrics"} {
		rec := serve(t, s, http.MethodGet, target)
		assert.Equal(t, http.StatusUnauthorized, rec.Code, target)
		assert.Contains(t, rec.Header().Get("WWW-Authenticate"), "Basic")
	}
	assert.Equal(t, http.StatusUnauthorized, serve(t, s, http.MethodPost, "/api/refresh").Code)
	assert.Equal(t, 0, runner.refreshes)

	req := httptest.NewRequest(http.MethodPost, "/api/refresh", nil)
	req.SetBasicAuth("editor", "wrong")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req = httptest.NewRequest(http.MethodPost, "/api/refresh", nil)
	req.SetBasicAuth("editor", "s3cret")
	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, runner.refreshes)
}

func TestBasicAuth_DisabledWithoutPassword(t *testing.T) {
	s := NewServer(&fakeRunner{snap: testSnapshot()}, nil, &config.BasicAuthConfig{Username: "editor"})
	assert.Equal(t, http.StatusOK, serve(t, s, http.MethodGet, "/api/occurrences").Code)
}

func TestMetricsEndpoint(t *testing.T) {
	m := metrics.NewCollector()
	m.Occurrences.WithLabelValues("jazz").Set(2)

	rec := serve(t, NewServer(&fakeRunner{}, m.Handler(), nil), http.MethodGet, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `cityfeed_occurrences{source="jazz"} 2`)

	assert.Equal(t, http.StatusNotFound, serve(t, NewServer(&fakeRunner{}, nil, nil), http.MethodGet, "/metrics").Code)
}
