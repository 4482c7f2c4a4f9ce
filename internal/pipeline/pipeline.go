// Package pipeline runs the refresh cycle: fetch every configured feed,
// expand each body into occurrences, tag them with their source and keep
// the merged result as the current snapshot.
package pipeline

import (
	"cmp"
	"context"
	"errors"
	"slices"
	"strings"
	"sync"
	"time"

	"cityfeed/internal/config"
	"cityfeed/internal/ics"
	appLog "cityfeed/internal/log"
	"cityfeed/internal/metrics"
	"cityfeed/internal/model"
)

// Fetcher is the part of ics.Fetcher the pipeline needs.
type Fetcher interface {
	FetchAll(ctx context.Context, sources []ics.Source) ([]ics.FetchResult, []error)
}

// Snapshot is the outcome of one refresh.
type Snapshot struct {
	Occurrences []model.Occurrence
	Window      ics.Window
	GeneratedAt time.Time
	// Errors lists per-source failures; the other sources are still present.
	Errors []string
}

// Runner owns the latest snapshot. Refreshes are serialized; readers
// never block on a running refresh.
type Runner struct {
	fetcher     Fetcher
	sources     []ics.Source
	horizonDays int
	metrics     *metrics.Collector
	now         func() time.Time

	refreshMu sync.Mutex

	mu       sync.RWMutex
	snapshot *Snapshot
}

// Option customizes a Runner.
type Option func(*Runner)

// WithClock replaces time.Now as the source of "now" for each refresh.
func WithClock(now func() time.Time) Option {
	return func(r *Runner) { r.now = now }
}

// New creates a Runner. m may be nil.
func New(fetcher Fetcher, sources []ics.Source, horizonDays int, m *metrics.Collector, opts ...Option) *Runner {
	r := &Runner{
		fetcher:     fetcher,
		sources:     sources,
		horizonDays: horizonDays,
		metrics:     m,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// SourcesFromConfig converts configured sources, dropping those without URL.
func SourcesFromConfig(cfgs []config.SourceConfig) []ics.Source {
	out := make([]ics.Source, 0, len(cfgs))
	for _, c := range cfgs {
		if c.URL == "" {
			continue
		}
		out = append(out, ics.Source{ID: c.ID, URL: c.URL})
	}
	return out
}

// Snapshot returns the latest snapshot, or nil before the first refresh.
func (r *Runner) Snapshot() *Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snapshot
}

// Refresh fetches and expands all sources and publishes a new snapshot.
// Per-source failures are recorded in the snapshot and joined into the
// returned error; the snapshot is published regardless.
func (r *Runner) Refresh(ctx context.Context) (*Snapshot, error) {
	r.refreshMu.Lock()
	defer r.refreshMu.Unlock()

	started := r.now()
	win := ics.NewWindow(started, r.horizonDays)

	results, fetchErrs := r.fetcher.FetchAll(ctx, r.sources)

	snap := &Snapshot{
		Window:      win,
		GeneratedAt: started.UTC(),
		Occurrences: make([]model.Occurrence, 0),
	}
	for _, err := range fetchErrs {
		snap.Errors = append(snap.Errors, err.Error())
	}

	fetched := make(map[string]bool, len(results))
	for _, res := range results {
		fetched[res.Source.ID] = true
		occ, stats := ExpandFeed(res.Source.ID, res.Body, win)
		snap.Occurrences = append(snap.Occurrences, occ...)

		appLog.Info("feed expanded",
			"id", res.Source.ID,
			"from_cache", res.FromCache,
			"blocks", stats.Blocks,
			"records", stats.Records,
			"occurrences", len(occ),
		)
		if r.metrics != nil {
			r.metrics.Fetches.WithLabelValues(res.Source.ID, cacheLabel(res.FromCache)).Inc()
			r.metrics.EventBlocks.WithLabelValues(res.Source.ID, "parsed").Add(float64(stats.Records))
			r.metrics.EventBlocks.WithLabelValues(res.Source.ID, "skipped").Add(float64(stats.Blocks - stats.Records))
			r.metrics.Occurrences.WithLabelValues(res.Source.ID).Set(float64(len(occ)))
		}
	}
	if r.metrics != nil {
		for _, src := range r.sources {
			if !fetched[src.ID] {
				r.metrics.FetchFailures.WithLabelValues(src.ID).Inc()
			}
		}
	}

	sortOccurrences(snap.Occurrences)

	r.mu.Lock()
	r.snapshot = snap
	r.mu.Unlock()

	finished := r.now()
	if r.metrics != nil {
		r.metrics.ObserveRefresh(started, finished)
	}
	appLog.Info("refresh completed",
		"sources", len(r.sources),
		"failed", len(fetchErrs),
		"occurrences", len(snap.Occurrences),
		"took", finished.Sub(started),
	)

	return snap, errors.Join(fetchErrs...)
}

// FeedStats counts what happened to a feed body during expansion.
type FeedStats struct {
	// Blocks is the number of BEGIN:VEVENT markers in the body.
	Blocks int
	// Records is the number of blocks that parsed into a record.
	Records int
}

// ExpandFeed expands one feed body inside win and tags every occurrence
// with sourceID.
func ExpandFeed(sourceID string, body []byte, win ics.Window) ([]model.Occurrence, FeedStats) {
	text := string(body)
	records := ics.ParseRecords(text)
	stats := FeedStats{
		Blocks:  strings.Count(ics.Unfold(text), "BEGIN:VEVENT"),
		Records: len(records),
	}

	occ := ics.ExpandRecords(records, win)
	for i := range occ {
		occ[i].SourceID = sourceID
	}
	return occ, stats
}

func sortOccurrences(occ []model.Occurrence) {
	slices.SortStableFunc(occ, func(a, b model.Occurrence) int {
		if c := a.Start.Compare(b.Start); c != 0 {
			return c
		}
		return cmp.Compare(a.Key(), b.Key())
	})
}

func cacheLabel(fromCache bool) string {
	if fromCache {
		return "hit"
	}
	return "miss"
}
