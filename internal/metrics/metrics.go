// Package metrics holds the Prometheus instrumentation of the refresh
// pipeline. The expansion engine itself reports nothing; counts are
// taken around its entry point.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "cityfeed"

// Collector owns a private registry so tests can create as many
// collectors as they like without duplicate-registration panics.
type Collector struct {
	registry *prometheus.Registry

	Fetches         *prometheus.CounterVec
	FetchFailures   *prometheus.CounterVec
	EventBlocks     *prometheus.CounterVec
	Occurrences     *prometheus.GaugeVec
	RefreshDuration prometheus.Histogram
	LastRefresh     prometheus.Gauge
}

// NewCollector creates and registers all metrics.
func NewCollector() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		Fetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "feed_fetches_total",
			Help:      "Feed fetches by source and whether the cached body was used.",
		}, []string{"source", "cache"}),
		FetchFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "feed_fetch_failures_total",
			Help:      "Feed fetches that produced no body.",
		}, []string{"source"}),
		EventBlocks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "feed_event_blocks_total",
			Help:      "Event blocks seen in fetched feeds, split by whether they parsed into a record.",
		}, []string{"source", "result"}),
		Occurrences: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "occurrences",
			Help:      "Occurrences inside the lookahead window after the last refresh.",
		}, []string{"source"}),
		RefreshDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "refresh_duration_seconds",
			Help:      "Duration of a full fetch and expand cycle.",
			Buckets:   prometheus.DefBuckets,
		}),
		LastRefresh: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_refresh_timestamp_seconds",
			Help:      "Unix time of the last completed refresh.",
		}),
	}

	c.registry.MustRegister(
		c.Fetches,
		c.FetchFailures,
		c.EventBlocks,
		c.Occurrences,
		c.RefreshDuration,
		c.LastRefresh,
		collectors.NewGoCollector(),
	)
	return c
}

// Registry exposes the underlying registry (tests use it to gather).
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry in the Prometheus text format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// ObserveRefresh records a finished refresh cycle.
func (c *Collector) ObserveRefresh(started, finished time.Time) {
	c.RefreshDuration.Observe(finished.Sub(started).Seconds())
	c.LastRefresh.Set(float64(finished.Unix()))
}
