/*
Package events implements an in-process publish/subscribe broker used to
fan fabric events out to the structured logger, the Prometheus collector,
and any interested caller (a CLI watch command, a test).

# Usage

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	sub := broker.Subscribe()
	defer broker.Unsubscribe(sub)

	broker.Publish(&events.Event{
		Type:    events.EventTaskAcked,
		Message: "task acked",
		Metadata: map[string]string{"flow": "retrieval", "task_id": taskID},
	})

	for ev := range sub {
		// handle ev
	}

Publish never blocks on a slow subscriber: each subscriber has its own
bounded buffer, and a full buffer causes that subscriber (only) to miss the
event. Callers that need guaranteed delivery should persist important state
through pkg/persistence instead of relying on the event stream.
*/
package events
