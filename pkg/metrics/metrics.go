// Package metrics defines the Prometheus metric collectors used across the
// platform and exposes an HTTP handler for scraping.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus collectors for the platform.
type Metrics struct {
	HTTPRequestsTotal      *prometheus.CounterVec
	HTTPRequestDuration    *prometheus.HistogramVec
	HTTPRequestsInFlight   prometheus.Gauge
	RelateRunsTotal        *prometheus.CounterVec
	RelateRunDuration      prometheus.Histogram
	RelatePairsScored      prometheus.Counter
	PhraseExtractionsTotal prometheus.Counter
	RelatedEntriesLast     prometheus.Gauge
	RelatedServedTotal     *prometheus.CounterVec
	ServeLatency           *prometheus.HistogramVec
	EntriesIngestedTotal   *prometheus.CounterVec
	CacheHitsTotal         prometheus.Counter
	CacheMissesTotal       prometheus.Counter
	CircuitBreakerState    *prometheus.GaugeVec
}

// New creates and registers all Prometheus metrics.
func New() *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests by method, path, and status.",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request latency in seconds.",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
			},
			[]string{"method", "path"},
		),
		HTTPRequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "http_requests_in_flight",
				Help: "Number of HTTP requests currently being processed.",
			},
		),
		RelateRunsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "relate_runs_total",
				Help: "Total relation engine runs by status (completed, failed).",
			},
			[]string{"status"},
		),
		RelateRunDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "relate_run_duration_seconds",
				Help:    "Full-corpus relation run duration in seconds.",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 60, 300},
			},
		),
		RelatePairsScored: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "relate_pairs_scored_total",
				Help: "Total candidate pairs scored across all runs.",
			},
		),
		PhraseExtractionsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "phrase_extractions_total",
				Help: "Total description phrase extractions performed.",
			},
		),
		RelatedEntriesLast: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "related_entries_last_run",
				Help: "Corpus entries covered by the most recent completed run.",
			},
		),
		RelatedServedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "related_served_total",
				Help: "Related lists served by cache status (hit, miss, bypass).",
			},
			[]string{"cache_status"},
		),
		ServeLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "related_serve_latency_seconds",
				Help:    "Related list serving latency in seconds.",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
			},
			[]string{"cache_status"},
		),
		EntriesIngestedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "entries_ingested_total",
				Help: "Catalog entries ingested by status (accepted, rejected).",
			},
			[]string{"status"},
		),
		CacheHitsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "cache_hits_total",
				Help: "Total number of cache hits.",
			},
		),
		CacheMissesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "cache_misses_total",
				Help: "Total number of cache misses.",
			},
		),
		CircuitBreakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "circuit_breaker_state",
				Help: "Circuit breaker state (0=closed, 1=open, 2=half-open).",
			},
			[]string{"name"},
		),
	}

	prometheus.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPRequestsInFlight,
		m.RelateRunsTotal,
		m.RelateRunDuration,
		m.RelatePairsScored,
		m.PhraseExtractionsTotal,
		m.RelatedEntriesLast,
		m.RelatedServedTotal,
		m.ServeLatency,
		m.EntriesIngestedTotal,
		m.CacheHitsTotal,
		m.CacheMissesTotal,
		m.CircuitBreakerState,
	)

	return m
}

// Handler returns the Prometheus scrape HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
