// Package monitor implements the fabric's single redacted event emission
// point: every caller funnels through Emit, which projects an explicit
// allowlist of fields (flow, task_id, status, duration, error kind) onto
// the structured logger and the event broker, and never accepts a raw
// payload body or filter value that might carry PII. The core does not
// persist an audit log (see the persistence-layer Non-goals), so this
// stays a conservative projector rather than a general-purpose scrubber.
package monitor

import (
	"time"

	"github.com/cuemby/agentic-fabric/pkg/events"
	"github.com/cuemby/agentic-fabric/pkg/log"
)

// Event is the redacted shape every monitoring emission is narrowed to
// before it reaches a logger or subscriber. Message is for human-readable
// context only ("claimed", "retried: adapter timeout") — callers must
// never put payload content, filter values, or record fields into it.
type Event struct {
	Type      events.EventType
	Flow      string
	TaskID    string
	Status    string
	ErrorKind string
	Duration  time.Duration
	Message   string
}

// Emit logs ev at info (or error, if ErrorKind is set) through the
// allowlisted zerolog fields, then republishes the same allowlisted
// fields on the event broker for subscribers (an SSE handler, a test
// harness) — never ev's caller-side payload, only what Event exposes.
func Emit(ev Event) {
	logger := log.WithFlow(ev.Flow).With().Str("task_id", ev.TaskID).Logger()
	if ev.Status != "" {
		logger = logger.With().Str("status", ev.Status).Logger()
	}
	if ev.Duration > 0 {
		logger = logger.With().Dur("duration", ev.Duration).Logger()
	}

	if ev.ErrorKind != "" {
		logger.Error().Str("error_kind", ev.ErrorKind).Msg(ev.Message)
	} else {
		logger.Info().Msg(ev.Message)
	}

	events.Emit(events.Event{
		Type:    ev.Type,
		Flow:    ev.Flow,
		TaskID:  ev.TaskID,
		Message: ev.Message,
	})
}
