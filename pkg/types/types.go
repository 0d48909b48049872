// Package types holds the wire-level value types shared across every
// component boundary: the task/result envelopes that travel over streams,
// the canonical Envelope contract agents return, and the allowlist and
// capability shapes the persistence layer negotiates against.
package types

import (
	"encoding/json"
	"time"
)

// Task is the payload of a task-stream entry, embedded under the stream
// entry's "data" field as JSON. task_id doubles as the idempotency key.
type Task struct {
	TaskID  string         `json:"task_id"`
	Flow    string         `json:"flow"`
	Payload map[string]any `json:"payload"`
	Meta    TaskMeta       `json:"meta"`
}

// TaskMeta is the stream-bookkeeping half of a Task: fields the runtime
// mutates across redeliveries (attempt count) plus the enqueue timestamp.
type TaskMeta struct {
	EnqueuedAt    time.Time `json:"enqueued_at"`
	Attempt       int       `json:"attempt"`
	AllowDelivery *bool     `json:"allow_delivery,omitempty"`
}

// Result is the payload of a results- or DLQ-stream entry.
type Result struct {
	TaskID   string    `json:"task_id"`
	Status   Status    `json:"status"`
	Envelope *Envelope `json:"envelope,omitempty"`
	Error    string    `json:"error,omitempty"`
}

// Status is the terminal disposition of a processed task.
type Status string

const (
	StatusSuccess Status = "SUCCESS"
	StatusError   Status = "ERROR"
)

// Envelope is the canonical I/O value every agent returns: metadata
// describing how records were produced, the records themselves, and a
// terminal status. Immutable once returned by an agent.
type Envelope struct {
	Metadata Metadata `json:"metadata"`
	Records  []Record `json:"records"`
	Status   Status   `json:"status"`
	Error    *string  `json:"error"`
}

// Metadata describes the provenance and shape of an Envelope's records.
type Metadata struct {
	Source                string                 `json:"source"`
	TaskID                string                 `json:"task_id"`
	RetrievedAt           time.Time              `json:"retrieved_at"`
	QueryFilters          map[string]any         `json:"query_filters,omitempty"`
	TotalCount            int                    `json:"total_count"`
	Limit                 *int                   `json:"limit,omitempty"`
	Offset                *int                   `json:"offset,omitempty"`
	Cache                 string                 `json:"cache,omitempty"`    // "hit" | "miss"
	Fallback              string                 `json:"fallback,omitempty"` // "agent" | "reformulation" | "suppressed"
	Truncated             bool                   `json:"truncated,omitempty"`
	Summary               map[string]int         `json:"summary,omitempty"`
	ReformulationAttempts []ReformulationAttempt `json:"reformulation_attempts,omitempty"`
}

// ReformulationAttempt records one relaxation strategy tried by the
// retrieval agent after an empty initial query.
type ReformulationAttempt struct {
	Reason      string         `json:"reason"`
	Filters     map[string]any `json:"filters"`
	ResultCount int            `json:"result_count"`
}

// Record is a single retrieved row plus the provenance block that lets a
// caller verify how it was derived. On the wire, Content's keys are
// inlined alongside "provenance" rather than nested under a "content"
// key, matching the source system's flat row shape.
type Record struct {
	Content    map[string]any `json:"-"`
	Provenance Provenance     `json:"provenance"`
}

// MarshalJSON inlines Content's keys next to "provenance".
func (r Record) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(r.Content)+1)
	for k, v := range r.Content {
		out[k] = v
	}
	out["provenance"] = r.Provenance
	return json.Marshal(out)
}

// UnmarshalJSON splits "provenance" back out of the flat row shape.
func (r *Record) UnmarshalJSON(data []byte) error {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if p, ok := raw["provenance"]; ok {
		pb, err := json.Marshal(p)
		if err != nil {
			return err
		}
		if err := json.Unmarshal(pb, &r.Provenance); err != nil {
			return err
		}
		delete(raw, "provenance")
	}
	r.Content = raw
	return nil
}

// Provenance identifies the origin, identity, and stable content hash of
// a Record.
type Provenance struct {
	Source      string         `json:"source"`
	RowID       string         `json:"row_id"`
	RowHash     string         `json:"row_hash"`
	RetrievedAt time.Time      `json:"retrieved_at"`
	RawRow      map[string]any `json:"raw_row,omitempty"`
}

// Allowlist is the process-wide, read-only-after-startup set of tables a
// PersistenceService may read from and write to. write_tables must be a
// subset of read_tables; enforced by Validate.
type Allowlist struct {
	ReadTables  map[string]bool
	WriteTables map[string]bool
}

// NewAllowlist builds an Allowlist from read/write table name slices.
func NewAllowlist(read, write []string) Allowlist {
	a := Allowlist{ReadTables: make(map[string]bool, len(read)), WriteTables: make(map[string]bool, len(write))}
	for _, t := range read {
		a.ReadTables[t] = true
	}
	for _, t := range write {
		a.WriteTables[t] = true
	}
	return a
}

// Validate reports whether write_tables ⊆ read_tables.
func (a Allowlist) Validate() error {
	for t := range a.WriteTables {
		if !a.ReadTables[t] {
			return &AllowlistInvariantError{Table: t}
		}
	}
	return nil
}

// CanRead reports whether table is in the read allowlist.
func (a Allowlist) CanRead(table string) bool { return a.ReadTables[table] }

// CanWrite reports whether table is in the write allowlist.
func (a Allowlist) CanWrite(table string) bool { return a.WriteTables[table] }

// AllowlistInvariantError is raised at startup when write_tables is not a
// subset of read_tables.
type AllowlistInvariantError struct {
	Table string
}

func (e *AllowlistInvariantError) Error() string {
	return "table " + e.Table + " is in write_tables but not read_tables"
}

// CapabilityMap is what a PersistenceAdapter advertises about the
// operators it can execute natively, consulted by higher layers before
// they emit a filter shape the adapter cannot satisfy.
type CapabilityMap struct {
	EqualityFilters bool
	Ordering        bool
	Limit           bool
	Projections     bool
	ILike           bool
	RangeOperators  bool
	InOperator      bool
	MaxBatchSize    int
}
