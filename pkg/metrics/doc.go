/*
Package metrics provides Prometheus metrics collection and exposition for
the task fabric.

All metrics are defined as package-level variables, registered against the
global DefaultRegistry in init(), and exposed through Handler() on the
ambient health/metrics port. A Collector polls consumer-group backlog into
a gauge, since XPENDING is a pull-based count with no push equivalent.

# Metrics Catalog

Stream and worker metrics:

agentic_stream_pending{stream, group}:
  - Type: Gauge
  - Description: Pending (unacked) entries per stream and consumer group,
    sampled by the Collector

agentic_tasks_claimed_total{flow}:
  - Type: Counter
  - Description: Tasks claimed off a task stream, by flow

agentic_tasks_acked_total{flow, outcome}:
  - Type: Counter
  - Description: Tasks acknowledged, by flow and outcome
    (success|retry|dlq|duplicate)

agentic_dlq_total{flow, reason}:
  - Type: Counter
  - Description: Tasks routed to the dead-letter stream, by flow and
    error kind

agentic_dispatcher_in_flight{agent}:
  - Type: Gauge
  - Description: Agent invocations currently holding a dispatcher permit

agentic_task_processing_duration_seconds{flow}:
  - Type: Histogram
  - Description: Time spent running a claimed task through its agent

agentic_claim_latency_seconds:
  - Type: Histogram
  - Description: Time spent blocked waiting for a claimable stream entry

agentic_worker_heartbeats_total:
  - Type: Counter
  - Description: Worker heartbeat key renewals

Persistence metrics:

agentic_persistence_op_duration_seconds{op, table}:
  - Type: Histogram
  - Description: Latency of one adapter operation through the service

agentic_persistence_ops_total{op, table, outcome}:
  - Type: Counter
  - Description: Adapter operations, by op, table and outcome

agentic_persistence_denied_total{table, reason}:
  - Type: Counter
  - Description: Operations rejected by the allowlist or the read-only
    facade before any adapter call

Retrieval-agent metrics:

agentic_rag_cache_hits_total / agentic_rag_cache_misses_total:
  - Type: Counter
  - Description: Retrieval cache lookups by outcome

agentic_rag_reformulations_total{strategy}:
  - Type: Counter
  - Description: Reformulation attempts, by strategy
    (drop_email|shorten_company|drop_company)

agentic_rag_fallbacks_total{outcome}:
  - Type: Counter
  - Description: LLM fallback path invocations
    (answered|suppressed|error)

Ambient HTTP metrics:

agentic_http_requests_total{path, status}:
  - Type: Counter
  - Description: Requests served by the health/metrics endpoints

# Usage

Timing an operation:

	timer := metrics.NewTimer()
	// ... perform operation ...
	timer.ObserveDurationVec(metrics.TaskProcessingDuration, flow)

Polling stream backlog:

	collector := metrics.NewCollector(statser, []metrics.StreamTarget{
		{Stream: "rag:tasks", Group: "rag-workers"},
	}, 15*time.Second)
	collector.Start(ctx)
	defer collector.Stop()

Exposing the endpoint (normally done through pkg/health's Server, which
mounts Handler() next to /healthz and /readyz):

	http.Handle("/metrics", metrics.Handler())

# Label Discipline

Labels stay cardinality-bounded: flow names, table names, op names, and
small outcome enums. Task IDs and message IDs never become labels; they
belong in structured logs (pkg/log) where cardinality is free.
*/
package metrics
