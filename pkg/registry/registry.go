// Package registry implements the name→factory lookup the ingress uses
// to resolve a flow's agent and the WorkerRuntime uses to dispatch a
// claimed task. It doubles as the thin ingress: Ingest assigns a task_id,
// publishes the task to the flow's domain task stream, and returns the
// id. Registration happens once at startup from a static list of
// imports, after which the map is never mutated.
package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cuemby/agentic-fabric/pkg/agent"
	"github.com/cuemby/agentic-fabric/pkg/errs"
	"github.com/cuemby/agentic-fabric/pkg/stream"
	"github.com/cuemby/agentic-fabric/pkg/types"
)

// flowEntry pairs a flow's agent factory with the stream domain it is
// dispatched through (e.g. flow "retrieve_leads" might live on the "rag"
// domain's task stream, while flow "write_lead" lives on "persist").
type flowEntry struct {
	domain  string
	factory agent.Factory
}

// Registry is the immutable-after-init flow name → (domain, factory) map.
type Registry struct {
	mu     sync.RWMutex
	flows  map[string]flowEntry
	sc     *stream.Client
	maxlen int64
}

// New builds an empty Registry bound to sc for publishing ingested tasks.
// maxlen configures the task streams' approximate trim target.
func New(sc *stream.Client, maxlen int64) *Registry {
	return &Registry{flows: make(map[string]flowEntry), sc: sc, maxlen: maxlen}
}

// Register binds flow to domain and factory. Intended to be called only
// during startup wiring, before any worker or ingress traffic begins;
// Register itself is safe to call concurrently but the registry is meant
// to become read-only in practice once main finishes wiring.
func (r *Registry) Register(flow, domain string, factory agent.Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.flows[flow] = flowEntry{domain: domain, factory: factory}
}

// Lookup returns a fresh Agent instance for flow, or *errs.FlowUnknownError
// if nothing is registered.
func (r *Registry) Lookup(flow string) (agent.Agent, error) {
	r.mu.RLock()
	entry, ok := r.flows[flow]
	r.mu.RUnlock()
	if !ok {
		return nil, &errs.FlowUnknownError{Flow: flow}
	}
	return entry.factory(), nil
}

// Domain returns the stream domain flow is dispatched through.
func (r *Registry) Domain(flow string) (string, error) {
	r.mu.RLock()
	entry, ok := r.flows[flow]
	r.mu.RUnlock()
	if !ok {
		return "", &errs.FlowUnknownError{Flow: flow}
	}
	return entry.domain, nil
}

// Ingest assigns a UUID task_id, publishes {task_id, flow, payload, meta}
// to "{ns}:{domain}:tasks", and returns the id.
func (r *Registry) Ingest(ctx context.Context, flow string, payload map[string]any) (string, error) {
	domain, err := r.Domain(flow)
	if err != nil {
		return "", err
	}

	task := types.Task{
		TaskID:  uuid.NewString(),
		Flow:    flow,
		Payload: payload,
		Meta:    types.TaskMeta{EnqueuedAt: time.Now().UTC(), Attempt: 0},
	}
	body, err := json.Marshal(task)
	if err != nil {
		return "", fmt.Errorf("registry: marshal task: %w", err)
	}

	if _, err := r.sc.Publish(ctx, stream.TaskStream(domain), body, r.maxlen); err != nil {
		return "", fmt.Errorf("registry: publish task: %w", err)
	}
	return task.TaskID, nil
}

// AwaitResult polls the domain's results stream (range-scanned, no
// consumer group) for an entry matching taskID, retrying every poll
// interval until ctx is done. Optional: callers may ingest and return
// immediately instead of waiting synchronously.
func (r *Registry) AwaitResult(ctx context.Context, flow, taskID string, pollInterval time.Duration) (types.Result, error) {
	domain, err := r.Domain(flow)
	if err != nil {
		return types.Result{}, err
	}

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		data, found, err := r.sc.RangeByTaskID(ctx, stream.ResultStream(domain), 200, func(b []byte) bool {
			var res types.Result
			if json.Unmarshal(b, &res) != nil {
				return false
			}
			return res.TaskID == taskID
		})
		if err != nil {
			return types.Result{}, err
		}
		if found {
			var res types.Result
			if err := json.Unmarshal(data, &res); err != nil {
				return types.Result{}, fmt.Errorf("registry: decode result: %w", err)
			}
			return res, nil
		}

		select {
		case <-ctx.Done():
			return types.Result{}, ctx.Err()
		case <-ticker.C:
		}
	}
}
