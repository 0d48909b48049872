// Package writeagent implements the write agent: a thin dispatcher over
// PersistenceService's write/batch_write/upsert operations. Allowlist and
// permission failures are returned as Go errors, which errs.IsRetryable
// classifies as terminal, so the WorkerRuntime publishes an error result
// and routes the task to the DLQ without retrying.
package writeagent

import (
	"context"
	"encoding/json"

	"github.com/cuemby/agentic-fabric/pkg/envelope"
	"github.com/cuemby/agentic-fabric/pkg/errs"
	"github.com/cuemby/agentic-fabric/pkg/persistence"
	"github.com/cuemby/agentic-fabric/pkg/types"
)

// Op names accepted in a write task's payload.
const (
	OpWrite      = "write"
	OpBatchWrite = "batch_write"
	OpUpsert     = "upsert"
)

// Request is the decoded shape of a write task's payload.
type Request struct {
	Op         string           `json:"op"`
	Table      string           `json:"table"`
	Record     map[string]any   `json:"record"`
	Records    []map[string]any `json:"records"`
	OnConflict []string         `json:"on_conflict"`
}

// Agent is the WriteAgent: a persistence.Service writer. It never wraps a
// ReadOnlyFacade — the registry wires a writable Service into flows that
// need one, and the allowlist on that Service is the actual enforcement
// point.
type Agent struct {
	svc *persistence.Service
}

// New builds a WriteAgent over svc.
func New(svc *persistence.Service) *Agent {
	return &Agent{svc: svc}
}

// Run implements agent.Agent.
func (a *Agent) Run(ctx context.Context, task types.Task) (types.Envelope, error) {
	var req Request
	if err := decodePayload(task.Payload, &req); err != nil {
		return envelope.Error("persistence.write", task.TaskID, &errs.ValidationError{Reason: "malformed write request: " + err.Error()}), nil
	}
	if req.Table == "" {
		return envelope.Error("persistence.write", task.TaskID, &errs.ValidationError{Reason: "missing table"}), nil
	}

	source := "persistence." + req.Table

	switch req.Op {
	case OpWrite:
		row, err := a.svc.Write(ctx, req.Table, req.Record)
		if err != nil {
			return types.Envelope{}, err
		}
		return envelope.FromRecords(source, task.TaskID, []map[string]any{row}, "id", nil), nil

	case OpBatchWrite:
		rows, err := a.svc.BatchWrite(ctx, req.Table, req.Records)
		if err != nil {
			return types.Envelope{}, err
		}
		return envelope.FromRecords(source, task.TaskID, rows, "id", nil), nil

	case OpUpsert:
		row, err := a.svc.Upsert(ctx, req.Table, req.Record, req.OnConflict)
		if err != nil {
			return types.Envelope{}, err
		}
		return envelope.FromRecords(source, task.TaskID, []map[string]any{row}, "id", nil), nil

	default:
		return envelope.Error(source, task.TaskID, &errs.ValidationError{Reason: "unknown op " + req.Op}), nil
	}
}

func decodePayload(payload map[string]any, req *Request) error {
	b, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, req)
}
