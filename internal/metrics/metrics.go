package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTP metrics
var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vidjoin_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "vidjoin_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)
)

// Job metrics
var (
	JobsSubmitted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "vidjoin_jobs_submitted_total",
			Help: "Total number of accepted job submissions",
		},
	)

	JobsFinished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vidjoin_jobs_finished_total",
			Help: "Total number of jobs that reached a terminal state",
		},
		[]string{"status"},
	)

	JobsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "vidjoin_jobs_active",
			Help: "Number of job pipelines currently running",
		},
	)

	JobsTracked = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "vidjoin_jobs_tracked",
			Help: "Number of job records held in the registry",
		},
	)

	PhaseDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "vidjoin_job_phase_duration_seconds",
			Help:    "Duration of each job phase in seconds",
			Buckets: []float64{0.5, 1, 5, 15, 30, 60, 120, 300, 600, 1200},
		},
		[]string{"phase"},
	)

	JobsEvicted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "vidjoin_jobs_evicted_total",
			Help: "Total number of job records removed by the reaper",
		},
	)
)

// Engine metrics
var (
	FFmpegInvocations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vidjoin_ffmpeg_invocations_total",
			Help: "Total number of ffmpeg/ffprobe invocations",
		},
		[]string{"op", "status"}, // op: probe, concat, transcode; status: ok, error, timeout
	)

	CompressionAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vidjoin_compression_attempts_total",
			Help: "Total number of compression ladder attempts",
		},
		[]string{"step", "outcome"}, // outcome: fit, oversize, error
	)

	BytesFetched = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "vidjoin_fetch_bytes_total",
			Help: "Total number of source bytes downloaded",
		},
	)
)
