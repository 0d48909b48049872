package persistence

import (
	"context"
	"sync"
	"time"

	"github.com/cuemby/agentic-fabric/pkg/errs"
	"github.com/cuemby/agentic-fabric/pkg/metrics"
	"github.com/cuemby/agentic-fabric/pkg/types"
)

// opStats accumulates the per-(op, table) latency counters: count, min,
// max, running sum (for avg).
type opStats struct {
	count int64
	min   time.Duration
	max   time.Duration
	sum   time.Duration
}

// Service is the single choke point for all database access: every call
// is checked against an Allowlist, has Unset-marked fields stripped,
// runs under a latency-measuring wrapper, and has adapter errors
// translated into *errs.AdapterError.
type Service struct {
	adapter   Adapter
	allowlist types.Allowlist

	statsMu sync.Mutex
	stats   map[string]*opStats // key: op+"|"+table
}

// NewService constructs a Service. allowlist.Validate() must already have
// passed; NewService does not re-check the subset invariant. A Service
// built with an empty write allowlist is the kind NewReadOnlyFacade
// accepts.
func NewService(adapter Adapter, allowlist types.Allowlist) *Service {
	return &Service{adapter: adapter, allowlist: allowlist, stats: make(map[string]*opStats)}
}

// Allowlist returns the service's table allowlist, read-only.
func (s *Service) Allowlist() types.Allowlist { return s.allowlist }

func (s *Service) record(op, table string, d time.Duration) {
	s.statsMu.Lock()
	defer s.statsMu.Unlock()
	key := op + "|" + table
	st, ok := s.stats[key]
	if !ok {
		st = &opStats{min: d, max: d}
		s.stats[key] = st
	}
	st.count++
	st.sum += d
	if d < st.min {
		st.min = d
	}
	if d > st.max {
		st.max = d
	}
	metrics.PersistenceOpDuration.WithLabelValues(op, table).Observe(d.Seconds())
}

// Stats returns a snapshot of {count, min_ms, max_ms, avg_ms} per
// "op|table" key, for diagnostics and tests.
func (s *Service) Stats() map[string]map[string]float64 {
	s.statsMu.Lock()
	defer s.statsMu.Unlock()
	out := make(map[string]map[string]float64, len(s.stats))
	for k, st := range s.stats {
		avg := float64(0)
		if st.count > 0 {
			avg = float64(st.sum.Milliseconds()) / float64(st.count)
		}
		out[k] = map[string]float64{
			"count":  float64(st.count),
			"min_ms": float64(st.min.Milliseconds()),
			"max_ms": float64(st.max.Milliseconds()),
			"avg_ms": avg,
		}
	}
	return out
}

func stripUnset(row map[string]any) map[string]any {
	out := make(map[string]any, len(row))
	for k, v := range row {
		if _, isUnset := v.(unsetType); isUnset {
			continue
		}
		out[k] = v
	}
	return out
}

func (s *Service) checkRead(table string) error {
	if !s.allowlist.CanRead(table) {
		metrics.PersistenceDeniedTotal.WithLabelValues(table, "read").Inc()
		return &errs.TableNotAllowedError{Table: table, Op: "read"}
	}
	return nil
}

func (s *Service) checkWrite(table string) error {
	if !s.allowlist.CanWrite(table) {
		metrics.PersistenceDeniedTotal.WithLabelValues(table, "write").Inc()
		return &errs.TableNotAllowedError{Table: table, Op: "write"}
	}
	return nil
}

func wrapAdapterErr(op, table string, err error) error {
	if err == nil {
		return nil
	}
	if ae, ok := err.(*errs.AdapterError); ok {
		return ae
	}
	return &errs.AdapterError{Op: op, Table: table, Transient: isTransient(err), Cause: err}
}

// isTransient is a conservative default: network/context errors are
// retried, everything else (shape mismatches, constraint violations) is
// treated as permanent. Remote adapter implementations that know more
// about their backend's error taxonomy can wrap errors themselves before
// they reach the service (the wrap here is idempotent — AdapterError is
// not re-wrapped).
func isTransient(err error) bool {
	if ae, ok := err.(*errs.AdapterError); ok {
		return ae.Transient
	}
	return err == context.DeadlineExceeded || err == context.Canceled
}

func (s *Service) instrument(ctx context.Context, op, table string, fn func() error) error {
	start := time.Now()
	err := fn()
	s.record(op, table, time.Since(start))
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	metrics.PersistenceOpsTotal.WithLabelValues(op, table, outcome).Inc()
	return err
}

func (s *Service) Write(ctx context.Context, table string, record map[string]any) (map[string]any, error) {
	if err := s.checkWrite(table); err != nil {
		return nil, err
	}
	record = stripUnset(record)
	var row map[string]any
	err := s.instrument(ctx, "write", table, func() error {
		var e error
		row, e = s.adapter.Write(ctx, table, record)
		return e
	})
	if err != nil {
		return nil, wrapAdapterErr("write", table, err)
	}
	return row, nil
}

func (s *Service) BatchWrite(ctx context.Context, table string, records []map[string]any) ([]map[string]any, error) {
	if err := s.checkWrite(table); err != nil {
		return nil, err
	}
	stripped := make([]map[string]any, len(records))
	for i, r := range records {
		stripped[i] = stripUnset(r)
	}
	var rows []map[string]any
	err := s.instrument(ctx, "batch_write", table, func() error {
		var e error
		rows, e = s.adapter.BatchWrite(ctx, table, stripped)
		return e
	})
	if err != nil {
		return nil, wrapAdapterErr("batch_write", table, err)
	}
	return rows, nil
}

func (s *Service) Upsert(ctx context.Context, table string, row map[string]any, onConflict []string) (map[string]any, error) {
	if err := s.checkWrite(table); err != nil {
		return nil, err
	}
	row = stripUnset(row)
	var out map[string]any
	err := s.instrument(ctx, "upsert", table, func() error {
		var e error
		out, e = s.adapter.Upsert(ctx, table, row, onConflict)
		return e
	})
	if err != nil {
		return nil, wrapAdapterErr("upsert", table, err)
	}
	return out, nil
}

func (s *Service) Read(ctx context.Context, table, id, idCol string) (map[string]any, error) {
	if err := s.checkRead(table); err != nil {
		return nil, err
	}
	var row map[string]any
	err := s.instrument(ctx, "read", table, func() error {
		var e error
		row, e = s.adapter.Read(ctx, table, id, idCol)
		return e
	})
	if err != nil {
		return nil, wrapAdapterErr("read", table, err)
	}
	return row, nil
}

func (s *Service) Query(ctx context.Context, table string, opts QueryOptions) ([]map[string]any, error) {
	if err := s.checkRead(table); err != nil {
		return nil, err
	}
	var rows []map[string]any
	err := s.instrument(ctx, "query", table, func() error {
		var e error
		rows, e = s.adapter.Query(ctx, table, opts)
		return e
	})
	if err != nil {
		return nil, wrapAdapterErr("query", table, err)
	}
	return rows, nil
}

func (s *Service) GetColumns(ctx context.Context, table string) ([]string, error) {
	if err := s.checkRead(table); err != nil {
		return nil, err
	}
	var cols []string
	err := s.instrument(ctx, "get_columns", table, func() error {
		var e error
		cols, e = s.adapter.GetColumns(ctx, table)
		return e
	})
	if err != nil {
		return nil, wrapAdapterErr("get_columns", table, err)
	}
	return cols, nil
}

func (s *Service) Capabilities() types.CapabilityMap { return s.adapter.Capabilities() }
