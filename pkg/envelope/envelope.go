// Package envelope builds and validates the canonical Envelope contract
// every agent returns: metadata, records, and per-record provenance
// keyed by a stable content hash.
package envelope

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"sort"
	"time"

	"github.com/cuemby/agentic-fabric/pkg/types"
)

// FromRecords assembles an Envelope from raw adapter rows. Each row gets a
// Provenance block computed here so callers never have to stamp it
// themselves; extra is merged into the resulting Metadata after the
// required fields are set, letting callers attach cache/fallback/
// reformulation annotations without repeating the boilerplate.
func FromRecords(source string, taskID string, rows []map[string]any, idCol string, extra func(*types.Metadata)) types.Envelope {
	now := time.Now().UTC()
	records := make([]types.Record, 0, len(rows))
	for _, row := range rows {
		rowID := stringifyID(row, idCol)
		records = append(records, types.Record{
			Content: row,
			Provenance: types.Provenance{
				Source:      source,
				RowID:       rowID,
				RowHash:     RowHash(row),
				RetrievedAt: now,
			},
		})
	}

	meta := types.Metadata{
		Source:      source,
		TaskID:      taskID,
		RetrievedAt: now,
		TotalCount:  len(records),
	}
	if extra != nil {
		extra(&meta)
	}

	return types.Envelope{
		Metadata: meta,
		Records:  records,
		Status:   types.StatusSuccess,
	}
}

// WithRawRow returns a copy of env where every record's provenance carries
// the original row content. Used when the caller set include_raw=true.
func WithRawRow(env types.Envelope, rows []map[string]any) types.Envelope {
	for i := range env.Records {
		if i < len(rows) {
			env.Records[i].Provenance.RawRow = rows[i]
		}
	}
	return env
}

// Error assembles a terminal error Envelope, used by agents that catch an
// in-domain error and return it rather than raising to the WorkerRuntime.
func Error(source, taskID string, err error) types.Envelope {
	msg := err.Error()
	return types.Envelope{
		Metadata: types.Metadata{Source: source, TaskID: taskID, RetrievedAt: time.Now().UTC()},
		Status:   types.StatusError,
		Error:    &msg,
	}
}

// Validate checks an Envelope's required invariants: a source, UTC
// timestamps, provenance on every record, and a total_count consistent
// with the record slice unless a Summary block explains the discrepancy.
func Validate(env types.Envelope) error {
	if env.Metadata.Source == "" {
		return errors.New("envelope: missing metadata.source")
	}
	if env.Metadata.RetrievedAt.Location() != time.UTC {
		return errors.New("envelope: metadata.retrieved_at is not UTC")
	}
	for _, r := range env.Records {
		if r.Provenance.Source == "" || r.Provenance.RowHash == "" {
			return errors.New("envelope: record missing provenance")
		}
		if r.Provenance.RetrievedAt.Location() != time.UTC {
			return errors.New("envelope: record provenance timestamp is not UTC")
		}
	}
	if env.Metadata.TotalCount != len(env.Records) && env.Metadata.Summary == nil {
		return errors.New("envelope: total_count mismatch without a summary block")
	}
	return nil
}

// RowHash computes the SHA-256 of a canonicalized record: keys sorted
// lexicographically, values rendered through a stable JSON encoding. Two
// records with identical content always hash identically.
func RowHash(row map[string]any) string {
	canon := canonicalize(row)
	sum := sha256.Sum256(canon)
	return hex.EncodeToString(sum[:])
}

// canonicalize renders row as JSON with object keys sorted, recursively,
// so map iteration order never leaks into the hash.
func canonicalize(v any) []byte {
	sorted := sortValue(v)
	b, err := json.Marshal(sorted)
	if err != nil {
		// json.Marshal only fails on unsupported types (channels, funcs);
		// adapter rows are always plain data, so this path is unreached in
		// practice. Fall back to a stable string form rather than panic.
		return []byte(err.Error())
	}
	return b
}

func sortValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		out := make([]keyVal, 0, len(t))
		for _, k := range keys {
			out = append(out, keyVal{K: k, V: sortValue(t[k])})
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = sortValue(e)
		}
		return out
	default:
		return t
	}
}

// keyVal renders as a JSON object {"K": key, "V": value}; a slice of them
// keeps the entries in the sorted key order, so the marshaled bytes do not
// depend on map iteration order.
type keyVal struct {
	K string
	V any
}

func stringifyID(row map[string]any, idCol string) string {
	if idCol == "" {
		idCol = "id"
	}
	v, ok := row[idCol]
	if !ok {
		return ""
	}
	switch t := v.(type) {
	case string:
		return t
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return ""
		}
		return string(b)
	}
}
