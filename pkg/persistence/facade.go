package persistence

import (
	"context"

	"github.com/cuemby/agentic-fabric/pkg/errs"
	"github.com/cuemby/agentic-fabric/pkg/types"
)

// ReadOnlyFacade forwards read/query/get_columns/capabilities to an
// underlying Service and rejects every write-shaped call with
// *errs.PersistencePermissionError before it ever reaches that service.
// It is constructed over a Service whose write allowlist is empty, as
// defense in depth: even a bug that bypassed the facade's own rejection
// would still find nothing writable underneath.
type ReadOnlyFacade struct {
	svc *Service
}

// NewReadOnlyFacade wraps svc. Panics if svc's write allowlist is
// non-empty — constructing a read-only facade over a writable service is
// a configuration error the caller must fix, not a runtime condition to
// degrade gracefully from.
func NewReadOnlyFacade(svc *Service) *ReadOnlyFacade {
	if len(svc.Allowlist().WriteTables) != 0 {
		panic("persistence: ReadOnlyFacade requires a service with an empty write allowlist")
	}
	return &ReadOnlyFacade{svc: svc}
}

func (f *ReadOnlyFacade) Read(ctx context.Context, table, id, idCol string) (map[string]any, error) {
	return f.svc.Read(ctx, table, id, idCol)
}

func (f *ReadOnlyFacade) Query(ctx context.Context, table string, opts QueryOptions) ([]map[string]any, error) {
	return f.svc.Query(ctx, table, opts)
}

func (f *ReadOnlyFacade) GetColumns(ctx context.Context, table string) ([]string, error) {
	return f.svc.GetColumns(ctx, table)
}

func (f *ReadOnlyFacade) Capabilities() types.CapabilityMap { return f.svc.Capabilities() }

func (f *ReadOnlyFacade) Write(ctx context.Context, table string, record map[string]any) (map[string]any, error) {
	return nil, &errs.PersistencePermissionError{Op: "write"}
}

func (f *ReadOnlyFacade) BatchWrite(ctx context.Context, table string, records []map[string]any) ([]map[string]any, error) {
	return nil, &errs.PersistencePermissionError{Op: "batch_write"}
}

func (f *ReadOnlyFacade) Upsert(ctx context.Context, table string, row map[string]any, onConflict []string) (map[string]any, error) {
	return nil, &errs.PersistencePermissionError{Op: "upsert"}
}
