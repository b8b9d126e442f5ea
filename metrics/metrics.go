package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Resolution metrics
var (
	ResolutionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "panplay_resolutions_total",
			Help: "Total number of play url resolutions by identifier kind and outcome",
		},
		[]string{"kind", "outcome"},
	)

	ResolutionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "panplay_resolution_duration_seconds",
			Help:    "Wall time of a full resolution in seconds",
			Buckets: []float64{0.005, 0.025, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 90},
		},
		[]string{"kind"},
	)

	PlaySourceTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "panplay_play_source_total",
			Help: "Successful resolutions by the retrieval method that produced the url",
		},
		[]string{"source"},
	)

	StreamingFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "panplay_streaming_failures_total",
			Help: "Soft failures of the streaming retrieval by reason",
		},
		[]string{"reason"},
	)
)

// Upstream metrics
var (
	UpstreamRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "panplay_upstream_requests_total",
			Help: "Total number of upstream HTTP attempts by endpoint and status",
		},
		[]string{"endpoint", "status"},
	)

	UpstreamRetriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "panplay_upstream_retries_total",
			Help: "Total number of upstream retries by endpoint",
		},
		[]string{"endpoint"},
	)

	UpstreamRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "panplay_upstream_request_duration_seconds",
			Help:    "Upstream HTTP attempt duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"endpoint"},
	)
)

// Cache and token metrics
var (
	CacheLookupsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "panplay_cache_lookups_total",
			Help: "Cache lookups by result (hit, miss, expired)",
		},
		[]string{"result"},
	)

	CacheEvictionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "panplay_cache_evictions_total",
			Help: "Cache entries removed by reason (expired, deleted, cleared)",
		},
		[]string{"reason"},
	)

	TokenRefreshTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "panplay_token_refresh_total",
			Help: "Access token refresh attempts by result",
		},
		[]string{"result"},
	)
)

// HTTP front end metrics
var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "panplay_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "panplay_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	HTTPRequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "panplay_http_requests_in_flight",
			Help: "Number of HTTP requests currently being processed",
		},
	)
)
