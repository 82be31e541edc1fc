package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTP metrics
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path"},
	)

	httpRequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "http_requests_in_flight",
			Help: "Number of HTTP requests currently being processed",
		},
	)

	// Ingestion metrics
	claimsIngested = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "claims_ingested_total",
			Help: "Total number of claims persisted, by source",
		},
		[]string{"source"},
	)

	claimsDuplicate = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "claims_duplicate_total",
			Help: "Total number of duplicate claims dropped, by source",
		},
		[]string{"source"},
	)

	claimsRejected = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "claims_rejected_total",
			Help: "Total number of claims rejected before queuing (blank key)",
		},
	)

	claimsFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "claims_failed_total",
			Help: "Total number of claims that failed persistence, by source",
		},
		[]string{"source"},
	)

	queueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ingest_queue_depth",
			Help: "Number of items currently waiting in an ingest queue",
		},
		[]string{"queue"},
	)

	batchesProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingest_batches_processed_total",
			Help: "Total number of bulk batches processed",
		},
		[]string{"outcome"},
	)

	// Adjudication metrics
	claimsStatusChanged = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "claims_status_changed_total",
			Help: "Total number of claim status transitions",
		},
		[]string{"from_status", "to_status"},
	)

	pipelineRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "adjudication_pipeline_runs_total",
			Help: "Total number of adjudication pipeline runs",
		},
		[]string{"outcome"},
	)

	pipelineRunDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "adjudication_pipeline_run_duration_seconds",
			Help:    "Adjudication pipeline run duration in seconds",
			Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120},
		},
	)

	stageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "adjudication_stage_duration_seconds",
			Help:    "Per-stage evaluator duration in seconds",
			Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"stage", "outcome"},
	)

	// Context cache metrics
	contextCacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "context_cache_hits_total",
			Help: "Total number of processing-context cache hits",
		},
	)

	contextCacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "context_cache_misses_total",
			Help: "Total number of processing-context cache misses",
		},
	)

	contextCacheInvalidations = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "context_cache_invalidations_total",
			Help: "Total number of processing-context cache invalidations",
		},
	)

	auditEntriesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "audit_entries_total",
			Help: "Total number of audit entries created",
		},
	)
)

// Handler returns the Prometheus metrics HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware creates HTTP metrics middleware
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		httpRequestsInFlight.Inc()
		defer httpRequestsInFlight.Dec()

		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		duration := time.Since(start).Seconds()
		path := normalizePath(r.URL.Path)

		httpRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.statusCode)).Inc()
		httpRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// normalizePath normalizes URL paths for metrics to avoid cardinality explosion
func normalizePath(path string) string {
	if len(path) > 100 {
		return "/api/..."
	}
	return path
}

// --- Business metric helpers ---

// RecordClaimIngested records a persisted claim
func RecordClaimIngested(source string) {
	claimsIngested.WithLabelValues(source).Inc()
}

// RecordClaimDuplicate records a dropped duplicate
func RecordClaimDuplicate(source string) {
	claimsDuplicate.WithLabelValues(source).Inc()
}

// RecordClaimRejected records a claim dropped before queuing
func RecordClaimRejected() {
	claimsRejected.Inc()
}

// RecordClaimFailed records a claim whose persistence failed
func RecordClaimFailed(source string) {
	claimsFailed.WithLabelValues(source).Inc()
}

// RecordQueueDepth records the current depth of an ingest queue
func RecordQueueDepth(queue string, depth int) {
	queueDepth.WithLabelValues(queue).Set(float64(depth))
}

// RecordBatchProcessed records a bulk batch outcome
func RecordBatchProcessed(outcome string) {
	batchesProcessed.WithLabelValues(outcome).Inc()
}

// RecordClaimStatusChange records a claim status transition
func RecordClaimStatusChange(fromStatus, toStatus string) {
	claimsStatusChanged.WithLabelValues(fromStatus, toStatus).Inc()
}

// RecordPipelineRun records a pipeline run and its duration
func RecordPipelineRun(outcome string, duration time.Duration) {
	pipelineRuns.WithLabelValues(outcome).Inc()
	pipelineRunDuration.Observe(duration.Seconds())
}

// RecordStage records a single evaluator stage duration
func RecordStage(stage, outcome string, duration time.Duration) {
	stageDuration.WithLabelValues(stage, outcome).Observe(duration.Seconds())
}

// RecordContextCacheHit records a processing-context cache hit
func RecordContextCacheHit() {
	contextCacheHits.Inc()
}

// RecordContextCacheMiss records a processing-context cache miss
func RecordContextCacheMiss() {
	contextCacheMisses.Inc()
}

// RecordContextCacheInvalidation records a processing-context cache eviction
func RecordContextCacheInvalidation() {
	contextCacheInvalidations.Inc()
}

// RecordAuditEntry records an audit entry creation
func RecordAuditEntry() {
	auditEntriesTotal.Inc()
}
