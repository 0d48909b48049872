// Package errs defines the fabric's typed error hierarchy. Every error a
// component raises across a boundary (persistence, facade, registry) is one
// of these concrete types so callers can distinguish kinds with errors.As
// instead of string matching, and so WorkerRuntime can decide retry vs DLQ
// without inspecting messages.
package errs

import "fmt"

// TableNotAllowedError is raised when a table is not present in the
// relevant (read or write) allowlist. Terminal: never retried.
type TableNotAllowedError struct {
	Table string
	Op    string // "read" or "write"
}

func (e *TableNotAllowedError) Error() string {
	return fmt.Sprintf("table %q not allowed for %s", e.Table, e.Op)
}

// PersistencePermissionError is raised when a write-shaped call reaches a
// ReadOnlyFacade, or more generally when an actor attempts an operation its
// permission scope does not cover. Terminal: never retried.
type PersistencePermissionError struct {
	Op string
}

func (e *PersistencePermissionError) Error() string {
	return fmt.Sprintf("operation %q is not permitted through this facade", e.Op)
}

// AdapterError wraps a backend failure, preserving the original cause and
// classifying it as Transient (worth retrying) or not.
type AdapterError struct {
	Op        string
	Table     string
	Transient bool
	Cause     error
}

func (e *AdapterError) Error() string {
	kind := "permanent"
	if e.Transient {
		kind = "transient"
	}
	return fmt.Sprintf("adapter error (%s) during %s on %q: %v", kind, e.Op, e.Table, e.Cause)
}

func (e *AdapterError) Unwrap() error { return e.Cause }

// ValidationError is raised for malformed payloads or envelopes. Terminal:
// never retried.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "validation failed: " + e.Reason
}

// FlowUnknownError is raised when the registry has no agent factory
// registered for a task's flow. Terminal, and routed to the DLQ.
type FlowUnknownError struct {
	Flow string
}

func (e *FlowUnknownError) Error() string {
	return fmt.Sprintf("no agent registered for flow %q", e.Flow)
}

// RateLimited is not an error in the exception sense: the retrieval
// agent's LLM fallback budget is exhausted for the current window. Agents
// that hit it tag the envelope's metadata.fallback="suppressed" instead of
// returning this as a failure; it exists so callers that want to
// distinguish "no budget" from "no path" programmatically still can.
type RateLimited struct {
	Window string
}

func (e *RateLimited) Error() string {
	return fmt.Sprintf("fallback budget exhausted for window %s", e.Window)
}

// UnknownError wraps a panic recovered at the Dispatcher boundary, or any
// other failure an agent did not classify into one of the typed errors
// above. Worth exactly one retry, regardless of the configured retry
// limit, then routed to the DLQ.
type UnknownError struct {
	Cause error
}

func (e *UnknownError) Error() string { return "unknown error: " + e.Cause.Error() }
func (e *UnknownError) Unwrap() error { return e.Cause }

// IsRetryable reports whether err should drive a RETRY transition in the
// WorkerRuntime state machine rather than a straight-to-DLQ/error-result
// transition. Permission, allowlist, validation and flow-unknown errors are
// never retried; AdapterError is retried only when marked transient;
// anything else (including a recovered panic) is treated as an unknown
// error, worth exactly one retry before it is routed to the DLQ.
func IsRetryable(err error) bool {
	switch e := err.(type) {
	case *TableNotAllowedError, *PersistencePermissionError, *ValidationError, *FlowUnknownError:
		return false
	case *AdapterError:
		return e.Transient
	default:
		return true
	}
}
