package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	registry *prometheus.Registry

	// HTTP request rate on the preview server.
	HTTPRequestsTotal *prometheus.CounterVec

	// HTTP request latency on the preview server.
	HTTPRequestDuration *prometheus.HistogramVec

	// Upstream fetch attempts by source and status. Watch for: rising error ratio per source.
	FetchesTotal *prometheus.CounterVec

	// Upstream latency per request. Watch for: p95 approaching the fetch timeout.
	FetchDuration *prometheus.HistogramVec

	// Retries inside a single fetch. Watch for: high retries = unstable upstream.
	FetchRetriesTotal *prometheus.CounterVec

	// Consecutive failed fetches per source; resets to 0 on success.
	ConsecutiveFailures *prometheus.GaugeVec

	// Source state: 0 healthy, 1 backing off, 2 unavailable (placeholder shown).
	SourceState *prometheus.GaugeVec

	// Unix time of the last successful fetch per source. Watch for: staleness.
	LastSuccessTimestamp *prometheus.GaugeVec

	// Scheduler ticks. Watch for: flat line (run loop stalled).
	TicksTotal prometheus.Counter

	// Frame commits by target, refresh mode and result.
	CommitsTotal *prometheus.CounterVec

	// Compositor latency.
	ComposeDuration prometheus.Histogram

	// Rasterized asset cache lookups by result (hit, miss, error).
	AssetCacheTotal *prometheus.CounterVec

	// Connected preview viewers.
	PreviewClients prometheus.Gauge
)

func init() {
	registry = prometheus.NewRegistry()

	registry.MustRegister(
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)

	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "httpRequestsTotal",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "statusCode"},
	)
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "httpRequestDurationSeconds",
			Help:    "HTTP request latency in seconds (per request)",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
	FetchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "panelFetchesTotal",
			Help: "Total number of upstream fetch requests",
		},
		[]string{"source", "status"},
	)
	FetchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "panelFetchDurationSeconds",
			Help:    "Upstream request latency in seconds (per request)",
			Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"source"},
	)
	FetchRetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "panelFetchRetriesTotal",
			Help: "Total number of retry attempts for upstream fetches",
		},
		[]string{"source"},
	)
	ConsecutiveFailures = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "panelConsecutiveFailures",
			Help: "Consecutive failed fetches per source",
		},
		[]string{"source"},
	)
	SourceState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "panelSourceState",
			Help: "Source state (0=healthy, 1=backing_off, 2=unavailable)",
		},
		[]string{"source"},
	)
	LastSuccessTimestamp = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "panelLastSuccessTimestampSeconds",
			Help: "Unix time of the last successful fetch per source",
		},
		[]string{"source"},
	)
	TicksTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "panelTicksTotal",
			Help: "Total number of scheduler ticks",
		},
	)
	CommitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "panelCommitsTotal",
			Help: "Frame commits by target, refresh mode and result",
		},
		[]string{"target", "mode", "result"},
	)
	ComposeDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "panelComposeDurationSeconds",
			Help:    "Time to compose one frame in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1},
		},
	)
	AssetCacheTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "panelAssetCacheTotal",
			Help: "Rasterized asset cache lookups by result",
		},
		[]string{"result"},
	)
	PreviewClients = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "panelPreviewClients",
			Help: "Number of connected preview viewers",
		},
	)

	registry.MustRegister(
		HTTPRequestsTotal, HTTPRequestDuration,
		FetchesTotal, FetchDuration, FetchRetriesTotal,
		ConsecutiveFailures, SourceState, LastSuccessTimestamp,
		TicksTotal, CommitsTotal, ComposeDuration,
		AssetCacheTotal, PreviewClients,
	)
}

// MetricsHandler returns an http.Handler that serves application and runtime metrics.
func MetricsHandler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
