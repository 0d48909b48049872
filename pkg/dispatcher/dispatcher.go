// Package dispatcher implements the per-agent concurrency guard: a map
// from agent name to a bounded permit count, so one flow hammering its
// agent can never starve another flow sharing the same WorkerRuntime
// process. Implemented as a buffered-channel semaphore per agent.
package dispatcher

import (
	"context"

	"github.com/cuemby/agentic-fabric/pkg/metrics"
)

// Dispatcher holds one semaphore per registered agent name. Agents with
// no configured permit count run unbounded (no semaphore at all).
type Dispatcher struct {
	permits map[string]chan struct{}
}

// New builds a Dispatcher from a map of agent name to permit count. A
// zero or absent count means unbounded.
func New(limits map[string]int) *Dispatcher {
	d := &Dispatcher{permits: make(map[string]chan struct{}, len(limits))}
	for agent, n := range limits {
		if n > 0 {
			d.permits[agent] = make(chan struct{}, n)
		}
	}
	return d
}

// Submit blocks until a permit for agent is available (or ctx is done),
// runs fn, and releases the permit on every exit path including a panic
// inside fn, which Submit re-panics after releasing so the caller's own
// recover (the WorkerRuntime's goroutine boundary) still sees it.
func (d *Dispatcher) Submit(ctx context.Context, agent string, fn func() error) error {
	sem, bounded := d.permits[agent]
	if bounded {
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			return ctx.Err()
		}
		metrics.DispatcherInFlight.WithLabelValues(agent).Inc()
		defer func() {
			metrics.DispatcherInFlight.WithLabelValues(agent).Dec()
			<-sem
		}()
	}
	return fn()
}
