package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Stream metrics
	StreamPending = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "agentic_stream_pending",
			Help: "Number of pending (unacked) entries by stream and consumer group",
		},
		[]string{"stream", "group"},
	)

	TasksClaimedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentic_tasks_claimed_total",
			Help: "Total number of tasks claimed by a worker, by flow",
		},
		[]string{"flow"},
	)

	TasksAckedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentic_tasks_acked_total",
			Help: "Total number of tasks acknowledged, by flow and outcome",
		},
		[]string{"flow", "outcome"}, // outcome: success|retry|dlq|duplicate
	)

	DLQTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentic_dlq_total",
			Help: "Total number of tasks moved to the dead-letter stream, by flow and reason",
		},
		[]string{"flow", "reason"},
	)

	DispatcherInFlight = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "agentic_dispatcher_in_flight",
			Help: "Number of agent invocations currently holding a dispatcher permit",
		},
		[]string{"agent"},
	)

	// Worker runtime metrics
	TaskProcessingDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "agentic_task_processing_duration_seconds",
			Help:    "Time spent running a claimed task through its agent, by flow",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"flow"},
	)

	ClaimLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "agentic_claim_latency_seconds",
			Help:    "Time spent blocked waiting for a claimable stream entry",
			Buckets: prometheus.DefBuckets,
		},
	)

	HeartbeatsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "agentic_worker_heartbeats_total",
			Help: "Total number of worker heartbeat renewals",
		},
	)

	// Persistence metrics
	PersistenceOpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "agentic_persistence_op_duration_seconds",
			Help:    "Latency of a persistence adapter operation, by op and table",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"op", "table"},
	)

	PersistenceOpsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentic_persistence_ops_total",
			Help: "Total number of persistence operations, by op, table and outcome",
		},
		[]string{"op", "table", "outcome"},
	)

	PersistenceDeniedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentic_persistence_denied_total",
			Help: "Total number of operations rejected by the table allowlist or the read-only facade",
		},
		[]string{"table", "reason"},
	)

	// Retrieval agent metrics
	RAGCacheHitsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "agentic_rag_cache_hits_total",
			Help: "Total number of retrieval cache hits",
		},
	)

	RAGCacheMissesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "agentic_rag_cache_misses_total",
			Help: "Total number of retrieval cache misses",
		},
	)

	RAGReformulationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentic_rag_reformulations_total",
			Help: "Total number of query reformulation attempts, by strategy",
		},
		[]string{"strategy"},
	)

	RAGFallbacksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentic_rag_fallbacks_total",
			Help: "Total number of LLM fallback invocations, by outcome (answered|suppressed|error)",
		},
		[]string{"outcome"},
	)

	// Ambient HTTP metrics for the health/metrics server
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentic_http_requests_total",
			Help: "Total number of HTTP requests served by the ambient health/metrics server",
		},
		[]string{"path", "status"},
	)
)

func init() {
	// Register stream and worker metrics
	prometheus.MustRegister(StreamPending)
	prometheus.MustRegister(TasksClaimedTotal)
	prometheus.MustRegister(TasksAckedTotal)
	prometheus.MustRegister(DLQTotal)
	prometheus.MustRegister(DispatcherInFlight)
	prometheus.MustRegister(TaskProcessingDuration)
	prometheus.MustRegister(ClaimLatency)
	prometheus.MustRegister(HeartbeatsTotal)

	// Register persistence metrics
	prometheus.MustRegister(PersistenceOpDuration)
	prometheus.MustRegister(PersistenceOpsTotal)
	prometheus.MustRegister(PersistenceDeniedTotal)

	// Register retrieval-agent metrics
	prometheus.MustRegister(RAGCacheHitsTotal)
	prometheus.MustRegister(RAGCacheMissesTotal)
	prometheus.MustRegister(RAGReformulationsTotal)
	prometheus.MustRegister(RAGFallbacksTotal)

	// Register ambient HTTP metrics
	prometheus.MustRegister(HTTPRequestsTotal)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	duration := time.Since(t.start).Seconds()
	histogram.Observe(duration)
}

// ObserveDurationVec records the duration to a histogram vec with labels
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	duration := time.Since(t.start).Seconds()
	histogram.WithLabelValues(labels...).Observe(duration)
}

// Duration returns the elapsed time since timer started
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
