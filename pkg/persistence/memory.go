package persistence

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/cuemby/agentic-fabric/pkg/filter"
	"github.com/cuemby/agentic-fabric/pkg/storage"
	"github.com/cuemby/agentic-fabric/pkg/types"
)

func marshalRow(row map[string]any) ([]byte, error) {
	return json.Marshal(row)
}

// unsetSentinel is the marker Service strips from records before they
// reach an adapter. Using a distinct type (not nil) lets a caller
// explicitly request "unset this column" on an upsert without that
// meaning "field absent" and without the sentinel ever surviving into
// stored rows.
type unsetType struct{}

// Unset is the value a caller assigns to a field to have
// PersistenceService strip it before the write reaches the adapter.
var Unset = unsetType{}

// InMemory is the deterministic, process-local adapter variant: O(n)
// scans, auto-incrementing ids, and conflict merge by key set on upsert.
// An optional storage.Store (a bucket-per-table BoltDB store) gives it
// durability across restarts.
type InMemory struct {
	mu     sync.RWMutex
	tables map[string][]map[string]any // insertion order preserved
	ids    map[string]uint64
	store  storage.Store // nil means pure in-memory, no durability
}

// NewInMemory creates an empty InMemory adapter.
func NewInMemory() *InMemory {
	return &InMemory{
		tables: make(map[string][]map[string]any),
		ids:    make(map[string]uint64),
	}
}

// NewDurableInMemory creates an InMemory adapter backed by store: every
// write goes through store.Put in addition to the in-process slice, and
// each named table is hydrated from whatever store already holds. The
// table list comes from the caller (in practice the read allowlist) since
// the Store interface deliberately has no bucket enumeration.
func NewDurableInMemory(store storage.Store, tables []string) (*InMemory, error) {
	m := &InMemory{
		tables: make(map[string][]map[string]any),
		ids:    make(map[string]uint64),
		store:  store,
	}
	for _, table := range tables {
		raws, err := store.List(table)
		if err != nil {
			return nil, fmt.Errorf("hydrate table %q: %w", table, err)
		}
		rows := make([]map[string]any, 0, len(raws))
		for _, raw := range raws {
			var row map[string]any
			if err := json.Unmarshal(raw, &row); err != nil {
				return nil, fmt.Errorf("hydrate table %q: decode row: %w", table, err)
			}
			rows = append(rows, row)
		}
		m.Seed(table, rows)
	}
	return m, nil
}

// Seed inserts rows directly, bypassing id assignment. It is used for test
// setup and by NewDurableInMemory to hydrate tables from the store.
func (m *InMemory) Seed(table string, rows []map[string]any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tables[table] = append(m.tables[table], rows...)
	var max uint64
	for _, r := range rows {
		if id, ok := r["id"]; ok {
			if n, ok := idAsUint(id); ok && n > max {
				max = n
			}
		}
	}
	if m.ids[table] < max {
		m.ids[table] = max
	}
}

func idAsUint(v any) (uint64, bool) {
	switch t := v.(type) {
	case string:
		n, err := strconv.ParseUint(t, 10, 64)
		return n, err == nil
	case int:
		return uint64(t), true
	case int64:
		return uint64(t), true
	case uint64:
		return t, true
	case float64:
		return uint64(t), true
	}
	return 0, false
}

func (m *InMemory) Capabilities() types.CapabilityMap {
	return types.CapabilityMap{
		EqualityFilters: true,
		Ordering:        true,
		Limit:           true,
		Projections:     true,
		ILike:           true,
		RangeOperators:  true,
		InOperator:      true,
		MaxBatchSize:    0, // unbounded
	}
}

func (m *InMemory) Write(ctx context.Context, table string, record map[string]any) (map[string]any, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.insertLocked(table, record)
}

func (m *InMemory) insertLocked(table string, record map[string]any) (map[string]any, error) {
	row := cloneRow(record)
	if _, ok := row["id"]; !ok {
		m.ids[table]++
		row["id"] = strconv.FormatUint(m.ids[table], 10)
	}
	m.tables[table] = append(m.tables[table], row)
	if m.store != nil {
		if err := m.persist(table, row); err != nil {
			return nil, err
		}
	}
	return cloneRow(row), nil
}

func (m *InMemory) BatchWrite(ctx context.Context, table string, records []map[string]any) ([]map[string]any, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]map[string]any, 0, len(records))
	for _, r := range records {
		row, err := m.insertLocked(table, r)
		if err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, nil
}

// Upsert merges row into an existing record that matches on every column
// named in onConflict, or inserts a new row when no match is found.
func (m *InMemory) Upsert(ctx context.Context, table string, row map[string]any, onConflict []string) (map[string]any, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(onConflict) > 0 {
		for i, existing := range m.tables[table] {
			if matchesKeys(existing, row, onConflict) {
				merged := cloneRow(existing)
				for k, v := range row {
					merged[k] = v
				}
				m.tables[table][i] = merged
				if m.store != nil {
					if err := m.persist(table, merged); err != nil {
						return nil, err
					}
				}
				return cloneRow(merged), nil
			}
		}
	}
	return m.insertLocked(table, row)
}

func matchesKeys(existing, candidate map[string]any, keys []string) bool {
	for _, k := range keys {
		if fmt.Sprint(existing[k]) != fmt.Sprint(candidate[k]) {
			return false
		}
	}
	return true
}

func (m *InMemory) Read(ctx context.Context, table, id, idCol string) (map[string]any, error) {
	if idCol == "" {
		idCol = "id"
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, row := range m.tables[table] {
		if fmt.Sprint(row[idCol]) == id {
			return cloneRow(row), nil
		}
	}
	return nil, nil
}

func (m *InMemory) Query(ctx context.Context, table string, opts QueryOptions) ([]map[string]any, error) {
	m.mu.RLock()
	rows := make([]map[string]any, len(m.tables[table]))
	copy(rows, m.tables[table])
	m.mu.RUnlock()

	matched := make([]map[string]any, 0, len(rows))
	for _, row := range rows {
		if matchesFilters(row, opts.Filters) {
			matched = append(matched, row)
		}
	}

	if opts.OrderBy != "" {
		sort.SliceStable(matched, func(i, j int) bool {
			a, b := fmt.Sprint(matched[i][opts.OrderBy]), fmt.Sprint(matched[j][opts.OrderBy])
			if opts.Desc {
				return b < a
			}
			return a < b
		})
	}

	if opts.Offset > 0 {
		if opts.Offset >= len(matched) {
			matched = nil
		} else {
			matched = matched[opts.Offset:]
		}
	}
	if opts.Limit > 0 && len(matched) > opts.Limit {
		matched = matched[:opts.Limit]
	}

	out := make([]map[string]any, len(matched))
	for i, row := range matched {
		out[i] = project(row, opts.Select)
	}
	return out, nil
}

func project(row map[string]any, cols []string) map[string]any {
	if len(cols) == 0 {
		return cloneRow(row)
	}
	out := make(map[string]any, len(cols))
	for _, c := range cols {
		if v, ok := row[c]; ok {
			out[c] = v
		}
	}
	return out
}

func matchesFilters(row map[string]any, filters filter.Set) bool {
	for _, f := range filters {
		v, present := row[f.Col]
		switch f.Kind {
		case filter.KindEq:
			if !present || fmt.Sprint(v) != fmt.Sprint(f.Val) {
				return false
			}
		case filter.KindIlike:
			if !present {
				return false
			}
			pat := strings.ToLower(strings.Trim(fmt.Sprint(f.Val), "%"))
			if !strings.Contains(strings.ToLower(fmt.Sprint(v)), pat) {
				return false
			}
		case filter.KindIn:
			if !present {
				return false
			}
			found := false
			for _, want := range f.Vals {
				if fmt.Sprint(v) == fmt.Sprint(want) {
					found = true
					break
				}
			}
			if !found {
				return false
			}
		case filter.KindRange:
			if !present {
				return false
			}
			if !rangeMatch(v, f.RangeOp, f.Val) {
				return false
			}
		}
	}
	return true
}

func rangeMatch(v any, op filter.RangeOp, bound any) bool {
	vf, vok := toFloat(v)
	bf, bok := toFloat(bound)
	if !vok || !bok {
		return false
	}
	switch op {
	case filter.RangeGT:
		return vf > bf
	case filter.RangeGTE:
		return vf >= bf
	case filter.RangeLT:
		return vf < bf
	case filter.RangeLTE:
		return vf <= bf
	}
	return false
}

func toFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case string:
		f, err := strconv.ParseFloat(t, 64)
		return f, err == nil
	}
	return 0, false
}

func (m *InMemory) GetColumns(ctx context.Context, table string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rows := m.tables[table]
	if len(rows) == 0 {
		return nil, nil
	}
	cols := make([]string, 0, len(rows[0]))
	for c := range rows[0] {
		cols = append(cols, c)
	}
	sort.Strings(cols)
	return cols, nil
}

func (m *InMemory) persist(table string, row map[string]any) error {
	id := fmt.Sprint(row["id"])
	data, err := marshalRow(row)
	if err != nil {
		return err
	}
	return m.store.Put(table, id, data)
}

func cloneRow(row map[string]any) map[string]any {
	out := make(map[string]any, len(row))
	for k, v := range row {
		out[k] = v
	}
	return out
}
