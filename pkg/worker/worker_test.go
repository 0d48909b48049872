package worker

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/agentic-fabric/pkg/agent"
	"github.com/cuemby/agentic-fabric/pkg/dispatcher"
	"github.com/cuemby/agentic-fabric/pkg/errs"
	"github.com/cuemby/agentic-fabric/pkg/registry"
	"github.com/cuemby/agentic-fabric/pkg/stream"
	"github.com/cuemby/agentic-fabric/pkg/types"
)

const testDomain = "testdom"

func newHarness(t *testing.T) (*stream.Client, *registry.Registry) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	sc := stream.New(rdb, "test")
	reg := registry.New(sc, 0)
	return sc, reg
}

// claimOne ingests payload on flow and claims the resulting message back
// off the task stream, as the real claim loop would before handing it to
// processMessage. Returns the claimed message and the assigned task_id.
func claimOne(t *testing.T, sc *stream.Client, reg *registry.Registry, flow string, payload map[string]any) (stream.Message, string) {
	t.Helper()
	ctx := context.Background()
	taskID, err := reg.Ingest(ctx, flow, payload)
	require.NoError(t, err)

	domain, err := reg.Domain(flow)
	require.NoError(t, err)

	group := stream.WorkerGroup(domain)
	require.NoError(t, sc.CreateGroup(ctx, stream.TaskStream(domain), group, "0"))

	msgs, err := sc.Claim(ctx, stream.TaskStream(domain), group, "consumer-1", 10, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	return msgs[0], taskID
}

func newRuntime(sc *stream.Client, reg *registry.Registry, maxRetries int, enableDLQ bool) *Runtime {
	disp := dispatcher.New(nil)
	return New(sc, reg, disp, Config{
		Domain:         testDomain,
		ConsumerName:   "consumer-1",
		MaxRetries:     maxRetries,
		RetryBackoff:   0,
		EnableDLQ:      enableDLQ,
		IdempotencyTTL: time.Minute,
	})
}

func TestWorker_SuccessPublishesResultAndAcks(t *testing.T) {
	sc, reg := newHarness(t)
	const flow = "ok_flow"
	reg.Register(flow, testDomain, func() agent.Agent {
		return agent.Func(func(ctx context.Context, task types.Task) (types.Envelope, error) {
			return types.Envelope{Status: types.StatusSuccess}, nil
		})
	})

	rt := newRuntime(sc, reg, 3, true)
	msg, taskID := claimOne(t, sc, reg, flow, map[string]any{"k": "v"})

	rt.processMessage(context.Background(), msg)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	res, err := reg.AwaitResult(ctx, flow, taskID, 10*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, types.StatusSuccess, res.Status)
	assert.Equal(t, taskID, res.TaskID)
}

func TestWorker_DuplicateDeliverySuppressed(t *testing.T) {
	sc, reg := newHarness(t)
	const flow = "dup_flow"
	calls := 0
	reg.Register(flow, testDomain, func() agent.Agent {
		return agent.Func(func(ctx context.Context, task types.Task) (types.Envelope, error) {
			calls++
			return types.Envelope{Status: types.StatusSuccess}, nil
		})
	})

	rt := newRuntime(sc, reg, 3, true)
	msg, _ := claimOne(t, sc, reg, flow, map[string]any{"k": "v"})

	rt.processMessage(context.Background(), msg)
	rt.processMessage(context.Background(), msg) // simulate a redelivery of the same message ID

	assert.Equal(t, 1, calls)
}

func TestWorker_TransientAdapterErrorRetries(t *testing.T) {
	sc, reg := newHarness(t)
	const flow = "retry_flow"
	reg.Register(flow, testDomain, func() agent.Agent {
		return agent.Func(func(ctx context.Context, task types.Task) (types.Envelope, error) {
			return types.Envelope{}, &errs.AdapterError{Op: "query", Table: "leads", Transient: true}
		})
	})

	rt := newRuntime(sc, reg, 3, true)
	msg, _ := claimOne(t, sc, reg, flow, map[string]any{"k": "v"})
	rt.processMessage(context.Background(), msg)

	// A retry republishes onto the same task stream with attempt incremented.
	group := stream.WorkerGroup(testDomain)
	retried, err := sc.Claim(context.Background(), stream.TaskStream(testDomain), group, "consumer-2", 10, 0)
	require.NoError(t, err)
	require.Len(t, retried, 1)

	var task types.Task
	require.NoError(t, json.Unmarshal(retried[0].Data, &task))
	assert.Equal(t, 1, task.Meta.Attempt)
}

func TestWorker_ValidationErrorGoesStraightToDLQ(t *testing.T) {
	sc, reg := newHarness(t)
	const flow = "terminal_flow"
	reg.Register(flow, testDomain, func() agent.Agent {
		return agent.Func(func(ctx context.Context, task types.Task) (types.Envelope, error) {
			return types.Envelope{}, &errs.ValidationError{Reason: "bad payload"}
		})
	})

	rt := newRuntime(sc, reg, 3, true)
	msg, _ := claimOne(t, sc, reg, flow, map[string]any{"k": "v"})
	rt.processMessage(context.Background(), msg)

	dlqGroup := stream.DLQGroup
	require.NoError(t, sc.CreateGroup(context.Background(), stream.DLQStream(testDomain), dlqGroup, "0"))
	dlqMsgs, err := sc.Claim(context.Background(), stream.DLQStream(testDomain), dlqGroup, "consumer-1", 10, 0)
	require.NoError(t, err)
	assert.Len(t, dlqMsgs, 1)

	// No retry was republished onto the task stream.
	taskGroup := stream.WorkerGroup(testDomain)
	retried, err := sc.Claim(context.Background(), stream.TaskStream(testDomain), taskGroup, "consumer-2", 10, 100*time.Millisecond)
	require.NoError(t, err)
	assert.Len(t, retried, 0)
}

func TestWorker_UnknownErrorRetriesExactlyOnce(t *testing.T) {
	sc, reg := newHarness(t)
	const flow = "panic_flow"
	reg.Register(flow, testDomain, func() agent.Agent {
		return agent.Func(func(ctx context.Context, task types.Task) (types.Envelope, error) {
			panic("boom")
		})
	})

	rt := newRuntime(sc, reg, 5, true)
	msg, _ := claimOne(t, sc, reg, flow, map[string]any{"k": "v"})
	rt.processMessage(context.Background(), msg)

	group := stream.WorkerGroup(testDomain)
	retried, err := sc.Claim(context.Background(), stream.TaskStream(testDomain), group, "consumer-2", 10, 0)
	require.NoError(t, err)
	require.Len(t, retried, 1)

	// The retried delivery (attempt=1) panics again; it must go to DLQ, not retry a second time.
	rt.processMessage(context.Background(), retried[0])

	dlqGroup := stream.DLQGroup
	require.NoError(t, sc.CreateGroup(context.Background(), stream.DLQStream(testDomain), dlqGroup, "0"))
	dlqMsgs, err := sc.Claim(context.Background(), stream.DLQStream(testDomain), dlqGroup, "consumer-1", 10, 0)
	require.NoError(t, err)
	assert.Len(t, dlqMsgs, 1)
}
