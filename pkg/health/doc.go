// Package health provides the ambient liveness/readiness surface every
// fabric process serves: a Checker interface (Check, Type) implemented by
// TCPChecker for stream-store connectivity, plus StreamChecker and
// HeartbeatChecker for the fabric's own consumer-group backlog and worker
// heartbeat signals. Server wires a set of named Checkers into /healthz
// (process liveness, unconditional) and /readyz (200 only if every
// registered Checker reports healthy), alongside the Prometheus /metrics
// handler on the same port.
package health
