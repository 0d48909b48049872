package monitor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/agentic-fabric/pkg/events"
)

func TestEmit_PublishesAllowlistedFieldsOnly(t *testing.T) {
	sub := events.Default().Subscribe()
	defer events.Default().Unsubscribe(sub)

	Emit(Event{
		Type:      events.EventTaskRetried,
		Flow:      "retrieve_leads",
		TaskID:    "task-1",
		Status:    "RETRY",
		ErrorKind: "AdapterError",
		Duration:  time.Millisecond,
		Message:   "retrying",
	})

	select {
	case ev := <-sub:
		require.NotNil(t, ev)
		assert.Equal(t, events.EventTaskRetried, ev.Type)
		assert.Equal(t, "retrieve_leads", ev.Flow)
		assert.Equal(t, "task-1", ev.TaskID)
		assert.Equal(t, "retrying", ev.Message)
		// Only the allowlisted fields travel through: no Metadata carrying
		// caller-side payload content ever gets attached.
		assert.Nil(t, ev.Metadata)
	case <-time.After(time.Second):
		t.Fatal("event was not published to subscriber")
	}
}

func TestEmit_DoesNotPanicWithoutErrorOrDuration(t *testing.T) {
	assert.NotPanics(t, func() {
		Emit(Event{Type: events.EventTaskAcked, Flow: "write_lead", TaskID: "task-2", Status: "SUCCESS", Message: "task acked"})
	})
}
