package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Ingestion job metrics
	JobsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "finops_ingestion_jobs_total",
			Help: "Total number of processed ingestion jobs by outcome",
		},
		[]string{"provider", "resource", "status"},
	)

	JobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "finops_ingestion_job_duration_seconds",
			Help:    "Duration of ingestion job processing in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"provider", "resource"},
	)

	NormalizedRecords = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "finops_ingestion_normalized_records_total",
			Help: "Total number of canonical records produced",
		},
		[]string{"provider", "resource"},
	)

	// Provider call metrics
	ProviderRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "finops_provider_requests_total",
			Help: "Total number of provider HTTP attempts by classified outcome",
		},
		[]string{"provider", "outcome"},
	)

	ProviderRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "finops_provider_retries_total",
			Help: "Total number of provider retry attempts",
		},
		[]string{"provider"},
	)

	ProviderLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "finops_provider_request_duration_seconds",
			Help:    "Duration of individual provider HTTP attempts in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"provider"},
	)

	SkippedResults = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "finops_provider_skipped_results_total",
			Help: "Total number of search results dropped because they carried no URL",
		},
		[]string{"provider"},
	)

	// Rate limiting and cache metrics
	RateLimitDenied = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "finops_ratelimit_denied_total",
			Help: "Total number of provider calls denied by the token bucket",
		},
		[]string{"provider"},
	)

	CacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "finops_cache_lookups_total",
			Help: "Total number of response cache lookups by result",
		},
		[]string{"result"},
	)

	// Intel runtime metrics
	IntelRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "finops_intel_runs_total",
			Help: "Total number of executed intel runs by mode and outcome",
		},
		[]string{"mode", "status"},
	)
)
