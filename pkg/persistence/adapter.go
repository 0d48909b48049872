// Package persistence mediates every database access the fabric makes
// through a read/write allowlist, exposing a read-only facade to
// retrieval workers so retrieval paths cannot mutate state. The Adapter
// interface abstracts the backend; InMemory and Remote are its two
// concrete variants, negotiated against by callers via Capabilities()
// rather than duck-typing.
package persistence

import (
	"context"

	"github.com/cuemby/agentic-fabric/pkg/filter"
	"github.com/cuemby/agentic-fabric/pkg/types"
)

// QueryOptions bundles the optional shape of a query call.
type QueryOptions struct {
	Filters filter.Set
	Limit   int // 0 means unbounded
	Offset  int
	OrderBy string
	Desc    bool
	Select  []string
}

// Adapter is the polymorphic backend contract every persistence variant
// implements. All methods take a context so Remote's HTTP calls can be
// cancelled by the worker's shutdown token.
type Adapter interface {
	Write(ctx context.Context, table string, record map[string]any) (map[string]any, error)
	BatchWrite(ctx context.Context, table string, records []map[string]any) ([]map[string]any, error)
	Upsert(ctx context.Context, table string, row map[string]any, onConflict []string) (map[string]any, error)
	Read(ctx context.Context, table, id, idCol string) (map[string]any, error)
	Query(ctx context.Context, table string, opts QueryOptions) ([]map[string]any, error)
	GetColumns(ctx context.Context, table string) ([]string, error)
	Capabilities() types.CapabilityMap
}
