// Package agent defines the interface every flow's handler implements,
// kept separate from pkg/registry and pkg/worker so neither needs to
// import concrete agent packages, and concrete agents never need to
// import the registry that dispatches to them.
package agent

import (
	"context"

	"github.com/cuemby/agentic-fabric/pkg/types"
)

// Agent processes one Task and returns an Envelope. Malformed requests
// come back as an error Envelope (see pkg/envelope.Error); a Go error
// return (for example an allowlist or adapter failure from
// pkg/persistence) is classified by the WorkerRuntime with
// errs.IsRetryable into a retry or a terminal DLQ outcome.
type Agent interface {
	Run(ctx context.Context, task types.Task) (types.Envelope, error)
}

// Factory constructs a fresh Agent instance. Registered once per flow
// name at startup; the registry never discovers factories dynamically.
type Factory func() Agent

// Func adapts a plain function to the Agent interface.
type Func func(ctx context.Context, task types.Task) (types.Envelope, error)

func (f Func) Run(ctx context.Context, task types.Task) (types.Envelope, error) {
	return f(ctx, task)
}
