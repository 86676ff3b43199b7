package observability

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 16), // 5ms to ~160s
		},
		[]string{"method", "route", "status"},
	)

	upstreamLatencySeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "upstream_latency_seconds",
			Help:    "Latency of upstream calls in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 16),
		},
		[]string{"upstream", "op"},
	)

	stageDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pipeline_stage_duration_seconds",
			Help:    "Duration of pipeline stages in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 16),
		},
		[]string{"stage", "product"},
	)

	pipelineErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_errors_total",
			Help: "Pipeline failures by error kind.",
		},
		[]string{"kind"},
	)

	rendersTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "renders_total",
			Help: "Successfully rendered products.",
		},
		[]string{"product"},
	)

	archiveBytes = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "archive_download_bytes_total",
			Help: "Bytes of scene archives downloaded from the backend.",
		},
	)

	archiveDownloads = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "archive_fetch_total",
			Help: "Archive acquisitions by outcome (download, reuse).",
		},
		[]string{"outcome"},
	)

	cleanupFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "archive_cleanup_failures_total",
			Help: "Transient archives that could not be deleted.",
		},
	)

	tokenStoreOps = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "token_store_op_duration_seconds",
			Help:    "Token store operation latency by op and result.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12),
		},
		[]string{"op", "result"},
	)

	eventsDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "render_events_dropped_total",
			Help: "Render events dropped because the publish queue was full.",
		},
	)
)

func ObserveHTTP(method, route string, status int, durationSeconds float64) {
	st := strconv.Itoa(status)
	httpRequestsTotal.WithLabelValues(method, route, st).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route, st).Observe(durationSeconds)
}

func ObserveUpstreamLatency(upstream, op string, durationSeconds float64) {
	upstreamLatencySeconds.WithLabelValues(upstream, op).Observe(durationSeconds)
}

func ObserveStage(stage, product string, durationSeconds float64) {
	stageDurationSeconds.WithLabelValues(stage, product).Observe(durationSeconds)
}

func IncPipelineError(kind string) {
	pipelineErrors.WithLabelValues(kind).Inc()
}

func IncRender(product string) {
	rendersTotal.WithLabelValues(product).Inc()
}

func AddArchiveBytes(n int64) {
	if n > 0 {
		archiveBytes.Add(float64(n))
	}
}

func IncArchiveFetch(reused bool) {
	if reused {
		archiveDownloads.WithLabelValues("reuse").Inc()
		return
	}
	archiveDownloads.WithLabelValues("download").Inc()
}

func IncCleanupFailure() {
	cleanupFailures.Inc()
}

func ObserveTokenStoreOp(op string, err error, durationSeconds float64) {
	res := "ok"
	if err != nil {
		res = "error"
	}
	tokenStoreOps.WithLabelValues(op, res).Observe(durationSeconds)
}

func IncEventDropped() {
	eventsDropped.Inc()
}
