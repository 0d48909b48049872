/*
Package types defines the core data structures shared across the task
fabric: the Task/Result pair that flows through the worker runtime, the
Envelope/Metadata/Record/Provenance contract every agent replies with, and
the Allowlist used to bound what a worker or facade may touch in
persistence.

These types carry no behavior beyond small helpers (CanRead, CanWrite,
Validate on Allowlist) and Record's custom JSON marshaling. Validation
lives closer to where it is enforced: pkg/envelope for Envelope
invariants, pkg/persistence for Allowlist enforcement.
*/
package types
