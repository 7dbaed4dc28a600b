// Package metrics exposes Prometheus counters and gauges for the queue,
// cache, worker pool, and HTTP surface.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry groups every metric this module exports. Callers hold one
// instance for the process lifetime and pass it down to the components
// that report against it.
type Registry struct {
	JobsEnqueuedTotal   *prometheus.CounterVec
	JobsCompletedTotal  *prometheus.CounterVec
	JobsFailedTotal     *prometheus.CounterVec
	JobDuration         *prometheus.HistogramVec
	QueueDepth          *prometheus.GaugeVec
	LeasesReclaimed     prometheus.Counter

	CacheHitsTotal   prometheus.Counter
	CacheMissesTotal prometheus.Counter
	CacheFetchErrors *prometheus.CounterVec

	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	RateLimitRejectionsTotal *prometheus.CounterVec
}

// New registers every metric against the default registry. Registering
// twice against the same registry panics, matching promauto's contract,
// so callers must construct exactly one Registry per process.
func New() *Registry {
	return &Registry{
		JobsEnqueuedTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "pricing_core_jobs_enqueued_total",
			Help: "Total number of jobs enqueued, by job name and priority.",
		}, []string{"job_name", "priority"}),
		JobsCompletedTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "pricing_core_jobs_completed_total",
			Help: "Total number of jobs that completed successfully, by job name.",
		}, []string{"job_name"}),
		JobsFailedTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "pricing_core_jobs_failed_total",
			Help: "Total number of jobs that failed terminally, by job name and error kind.",
		}, []string{"job_name", "error_kind"}),
		JobDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pricing_core_job_duration_seconds",
			Help:    "Job handler execution time, by job name.",
			Buckets: prometheus.DefBuckets,
		}, []string{"job_name"}),
		QueueDepth: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "pricing_core_queue_depth",
			Help: "Number of queued (pending or leased) jobs, by queue and state.",
		}, []string{"queue", "state"}),
		LeasesReclaimed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "pricing_core_leases_reclaimed_total",
			Help: "Total number of expired leases reclaimed by the recovery sweep.",
		}),

		CacheHitsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "pricing_core_cache_hits_total",
			Help: "Total number of cache lookups served from cache.",
		}),
		CacheMissesTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "pricing_core_cache_misses_total",
			Help: "Total number of cache lookups that fell through to the fetch function.",
		}),
		CacheFetchErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "pricing_core_cache_fetch_errors_total",
			Help: "Total number of fetch-function errors on a cache miss, by source.",
		}, []string{"source"}),

		HTTPRequestsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "pricing_core_http_requests_total",
			Help: "Total number of HTTP requests, by route and status class.",
		}, []string{"route", "status"}),
		HTTPRequestDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pricing_core_http_request_duration_seconds",
			Help:    "HTTP request handling time, by route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),

		RateLimitRejectionsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "pricing_core_rate_limit_rejections_total",
			Help: "Total number of requests rejected for exceeding a rate-limit window.",
		}, []string{"window"}),
	}
}

// Handler returns the standard Prometheus scrape handler for mounting at
// GET /metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}
