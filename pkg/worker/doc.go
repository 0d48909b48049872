/*
Package worker implements the WorkerRuntime: the consumer loop that
claims tasks from a domain's Redis stream, dispatches them through a
bounded-concurrency Dispatcher to the agent registered for the task's
flow, and resolves the outcome into one of four terminal paths.

# State machine

A claimed message moves through:

	CLAIMED -> idempotency lock -> LOCKED -> RUNNING -> {ACKED | RETRY | DLQ}

CLAIMED: XReadGroup hands the runtime a message id plus its JSON task
payload. LOCKED: a SET NX against an idempotency key keyed by stream and
message id guards against the same delivery being processed twice; losing
the race means a duplicate and the message is acked immediately without
running anything. RUNNING: the registry resolves the task's flow to an
Agent, and the Dispatcher runs it under that agent's concurrency permit. A
panic inside the agent is recovered and turned into an unknown error
rather than crashing the claim loop.

ACKED: the agent returned without a Go error (regardless of whether its
Envelope itself carries a SUCCESS or ERROR status — both are terminal,
already-handled outcomes). The envelope is published to the results
stream before the original message is acked.

RETRY: the agent (or the Dispatcher boundary) returned a Go error
classified as retryable and the task's attempt count is still under the
configured limit. The task is republished with attempt+1 and the original
message acked; no result is published yet.

DLQ: a non-retryable error, or a retryable error that has exhausted its
attempts. An error result is published, a DLQ entry is appended if DLQ
routing is enabled, and the original message is acked.

# Heartbeats

Each running Runtime renews a heartbeat key on an interval, independent of
the claim loop, so a readiness probe can distinguish "no workers alive"
from "no work available."

# Shutdown

Stop closes a channel the claim loop observes between blocking claims,
waits for the background loops to exit, then gives in-flight dispatched
tasks a bounded grace period before returning. Anything still running past
that grace period is abandoned unacked, relying on the stream's pending
entries list to redeliver it to another consumer.
*/
package worker
