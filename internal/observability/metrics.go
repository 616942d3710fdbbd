// Package observability provides Prometheus metrics, HTTP middleware and OpenTelemetry
// tracing for casefind.
package observability

import "github.com/prometheus/client_golang/prometheus"

// LatencyBuckets covers local inference and remote fetches, 5ms to 60s.
var LatencyBuckets = []float64{0.005, 0.025, 0.1, 0.25, 0.5, 1, 2.5, 5, 15, 60}

var (
	// IngestUnitsTotal counts ingestion work units by stage and terminal state.
	IngestUnitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "casefind_ingest_units_total",
			Help: "Ingestion units by outcome",
		},
		[]string{"stage", "state"},
	)

	// IngestStageDuration records the wall time of one ingestion stage.
	IngestStageDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "casefind_ingest_stage_duration_seconds",
			Help:    "Ingestion stage duration",
			Buckets: []float64{1, 10, 60, 300, 900, 3600},
		},
		[]string{"stage"},
	)

	// RemoteRequestsTotal counts remote catalog requests by operation and result.
	RemoteRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "casefind_remote_requests_total",
			Help: "Remote catalog requests",
		},
		[]string{"operation", "status"},
	)

	// ProviderRequestsTotal counts embedding calls by provider, input kind and result.
	ProviderRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "casefind_provider_requests_total",
			Help: "Embedding provider requests",
		},
		[]string{"provider", "input", "status"},
	)

	// ProviderLatency records embedding call latency in seconds.
	ProviderLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "casefind_provider_latency_seconds",
			Help:    "Embedding provider latency",
			Buckets: LatencyBuckets,
		},
		[]string{"provider", "input"},
	)

	// QueryCacheLookupsTotal counts query-vector cache lookups by provider and result.
	QueryCacheLookupsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "casefind_query_cache_lookups_total",
			Help: "Query vector cache lookups",
		},
		[]string{"provider", "result"},
	)

	// SearchRequestsTotal counts engine queries by method and result.
	SearchRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "casefind_search_requests_total",
			Help: "Search requests",
		},
		[]string{"method", "status"},
	)

	// SearchLatency records end-to-end engine query latency.
	SearchLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "casefind_search_latency_seconds",
			Help:    "Search latency",
			Buckets: LatencyBuckets,
		},
		[]string{"method"},
	)

	// IndexVectors reports the number of vectors in the live index per modality.
	IndexVectors = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "casefind_index_vectors",
			Help: "Vectors in the live index",
		},
		[]string{"modality"},
	)

	// IndexRebuildsTotal counts index rebuilds per modality and result.
	IndexRebuildsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "casefind_index_rebuilds_total",
			Help: "Index rebuilds",
		},
		[]string{"modality", "status"},
	)

	// HTTPRequestsTotal counts HTTP requests by method, route and status class.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "casefind_http_requests_total",
			Help: "HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	// HTTPRequestDuration records HTTP request duration by method and route.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "casefind_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: LatencyBuckets,
		},
		[]string{"method", "route"},
	)
)

func init() {
	prometheus.MustRegister(
		IngestUnitsTotal,
		IngestStageDuration,
		RemoteRequestsTotal,
		ProviderRequestsTotal,
		ProviderLatency,
		QueryCacheLookupsTotal,
		SearchRequestsTotal,
		SearchLatency,
		IndexVectors,
		IndexRebuildsTotal,
		HTTPRequestsTotal,
		HTTPRequestDuration,
	)
}

// Status returns the "ok"/"error" label used by the result-labelled counters.
func Status(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
