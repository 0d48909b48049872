/*
Package log provides structured logging for the task fabric using zerolog.

The package wraps zerolog behind a global Logger initialized once via
log.Init(), with child-logger helpers for the fabric's recurring log
dimensions and plain helper functions for one-off messages. All logs
include timestamps and support level filtering.

# Configuration

	log.Init(log.Config{
		Level:      log.InfoLevel,
		JSONOutput: true,      // false: human console output
		Output:     os.Stdout, // nil defaults to stdout
	})

JSON output is the production format; the console writer is for local
development and the CLI's default.

# Context Helpers

Child loggers attach the fields that recur across the fabric:

	log.WithComponent("worker").Info().Msg("claim loop started")
	log.WithFlow("retrieve_leads").Warn().Msg("reformulation exhausted")
	log.WithTaskID(taskID).Error().Err(err).Msg("publish result failed")
	log.WithStream("rag:tasks").Debug().Msg("group ensured")

Helpers compose: a component logger can chain .With().Str(...) for
additional fields in the usual zerolog style.

# Output Shape

JSON format:

	{
	  "level": "info",
	  "component": "worker",
	  "flow": "retrieve_leads",
	  "time": "2026-03-02T10:30:00Z",
	  "message": "task acked"
	}

Console format:

	10:30AM INF task acked component=worker flow=retrieve_leads

High-cardinality values (task IDs, message IDs) belong here as fields,
not in Prometheus labels; pkg/monitor enforces which fields are safe to
emit for events that leave the process.
*/
package log
