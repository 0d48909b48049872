package persistence

import (
	"context"
	"fmt"

	"github.com/cuemby/agentic-fabric/pkg/filter"
	"github.com/cuemby/agentic-fabric/pkg/types"
)

// RemoteClient is the external collaborator a Remote adapter delegates
// to: a REST/SDK table service (e.g. a PostgREST-backed client). The
// fabric only depends on this interface, never on a concrete SDK, so
// swapping backends never touches PersistenceService, ReadOnlyFacade, or
// any agent.
type RemoteClient interface {
	Insert(ctx context.Context, table string, row map[string]any) (map[string]any, error)
	InsertBatch(ctx context.Context, table string, rows []map[string]any) ([]map[string]any, error)
	Upsert(ctx context.Context, table string, row map[string]any, onConflict []string) (map[string]any, error)
	SelectByID(ctx context.Context, table, idCol, id string) (map[string]any, error)
	Select(ctx context.Context, table string, q RemoteQuery) ([]map[string]any, error)
	Columns(ctx context.Context, table string) ([]string, error)
	Capabilities() types.CapabilityMap
}

// RemoteQuery is the operator shape a RemoteClient understands, already
// translated from the filter DSL by Remote.Query using the client's
// advertised capabilities.
type RemoteQuery struct {
	Eq      map[string]any
	Ilike   map[string]string
	In      map[string][]any
	Range   []RemoteRangeClause
	Limit   int
	Offset  int
	OrderBy string
	Desc    bool
	Select  []string
}

// RemoteRangeClause is one translated Range filter.
type RemoteRangeClause struct {
	Col string
	Op  filter.RangeOp
	Val any
}

// Remote adapts a RemoteClient to the Adapter interface, translating the
// filter DSL into the client's native query shape and rejecting any
// operator the client's Capabilities() doesn't support rather than
// silently dropping it.
type Remote struct {
	client RemoteClient
}

// NewRemote wraps client as an Adapter.
func NewRemote(client RemoteClient) *Remote {
	return &Remote{client: client}
}

func (r *Remote) Capabilities() types.CapabilityMap { return r.client.Capabilities() }

func (r *Remote) Write(ctx context.Context, table string, record map[string]any) (map[string]any, error) {
	return r.client.Insert(ctx, table, record)
}

func (r *Remote) BatchWrite(ctx context.Context, table string, records []map[string]any) ([]map[string]any, error) {
	return r.client.InsertBatch(ctx, table, records)
}

func (r *Remote) Upsert(ctx context.Context, table string, row map[string]any, onConflict []string) (map[string]any, error) {
	return r.client.Upsert(ctx, table, row, onConflict)
}

func (r *Remote) Read(ctx context.Context, table, id, idCol string) (map[string]any, error) {
	if idCol == "" {
		idCol = "id"
	}
	return r.client.SelectByID(ctx, table, idCol, id)
}

func (r *Remote) Query(ctx context.Context, table string, opts QueryOptions) ([]map[string]any, error) {
	caps := r.Capabilities()
	if !opts.Filters.Supported(caps) {
		return nil, fmt.Errorf("remote adapter for %q does not support the requested filter shape", table)
	}

	q := RemoteQuery{Limit: opts.Limit, Offset: opts.Offset, OrderBy: opts.OrderBy, Desc: opts.Desc, Select: opts.Select}
	for _, f := range opts.Filters {
		switch f.Kind {
		case filter.KindEq:
			if q.Eq == nil {
				q.Eq = make(map[string]any)
			}
			q.Eq[f.Col] = f.Val
		case filter.KindIlike:
			if q.Ilike == nil {
				q.Ilike = make(map[string]string)
			}
			q.Ilike[f.Col] = fmt.Sprint(f.Val)
		case filter.KindIn:
			if q.In == nil {
				q.In = make(map[string][]any)
			}
			q.In[f.Col] = f.Vals
		case filter.KindRange:
			q.Range = append(q.Range, RemoteRangeClause{Col: f.Col, Op: f.RangeOp, Val: f.Val})
		}
	}

	return r.client.Select(ctx, table, q)
}

func (r *Remote) GetColumns(ctx context.Context, table string) ([]string, error) {
	return r.client.Columns(ctx, table)
}
