// Package worker implements the WorkerRuntime consumer loop: group
// creation, idempotency locking, bounded-concurrency dispatch through a
// Dispatcher, retry/DLQ decisions, heartbeats, and paired result
// publishing. A stopCh channel and one goroutine per background loop
// coordinate shutdown; a blocking stream claim replaces a ticker-driven
// poll and a WaitGroup tracks dispatched tasks in flight.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/cuemby/agentic-fabric/pkg/agent"
	"github.com/cuemby/agentic-fabric/pkg/dispatcher"
	"github.com/cuemby/agentic-fabric/pkg/errs"
	"github.com/cuemby/agentic-fabric/pkg/events"
	"github.com/cuemby/agentic-fabric/pkg/log"
	"github.com/cuemby/agentic-fabric/pkg/metrics"
	"github.com/cuemby/agentic-fabric/pkg/monitor"
	"github.com/cuemby/agentic-fabric/pkg/registry"
	"github.com/cuemby/agentic-fabric/pkg/stream"
	"github.com/cuemby/agentic-fabric/pkg/types"
)

// Config holds one WorkerRuntime's tuning knobs, all sourced once from
// config.Config by the caller; the runtime itself never reads the
// environment.
type Config struct {
	Domain            string
	ConsumerName      string
	ClaimCount        int64
	BlockTimeout      time.Duration
	MaxRetries        int
	RetryBackoff      time.Duration
	EnableDLQ         bool
	IdempotencyTTL    time.Duration
	HeartbeatEnabled  bool
	HeartbeatTTL      time.Duration
	HeartbeatInterval time.Duration
	StreamMaxLen      int64
	ShutdownGrace     time.Duration
}

// Runtime is one worker's consumer loop, bound to a single domain's task
// stream. Multiple Runtimes (same or different domains, same or
// different processes) share a consumer group transparently via Redis.
type Runtime struct {
	sc   *stream.Client
	reg  *registry.Registry
	disp *dispatcher.Dispatcher
	cfg  Config

	stopCh   chan struct{}
	loops    sync.WaitGroup
	inFlight sync.WaitGroup
}

// New builds a Runtime ready for Start.
func New(sc *stream.Client, reg *registry.Registry, disp *dispatcher.Dispatcher, cfg Config) *Runtime {
	if cfg.ClaimCount <= 0 {
		cfg.ClaimCount = 10
	}
	if cfg.BlockTimeout <= 0 {
		cfg.BlockTimeout = 5 * time.Second
	}
	if cfg.ShutdownGrace <= 0 {
		cfg.ShutdownGrace = 10 * time.Second
	}
	return &Runtime{sc: sc, reg: reg, disp: disp, cfg: cfg, stopCh: make(chan struct{})}
}

// Start ensures the consumer group exists, then launches the heartbeat
// and claim loops as background goroutines.
func (rt *Runtime) Start(ctx context.Context) error {
	group := stream.WorkerGroup(rt.cfg.Domain)
	if err := rt.sc.CreateGroup(ctx, stream.TaskStream(rt.cfg.Domain), group, "$"); err != nil {
		return fmt.Errorf("worker: ensure group: %w", err)
	}

	events.Emit(events.Event{Type: events.EventWorkerStarted, Flow: rt.cfg.Domain, Message: "worker started: " + rt.cfg.ConsumerName})

	if rt.cfg.HeartbeatEnabled {
		rt.loops.Add(1)
		go rt.heartbeatLoop()
	}

	rt.loops.Add(1)
	go rt.claimLoop(ctx)

	return nil
}

// Stop signals the claim loop to exit at its next block timeout, waits
// for background loops to finish, then gives in-flight dispatched tasks a
// bounded grace period before returning. Any still running when the
// grace period elapses are abandoned for redelivery, never acked.
func (rt *Runtime) Stop() {
	close(rt.stopCh)
	rt.loops.Wait()
	rt.waitInFlight(rt.cfg.ShutdownGrace)
	events.Emit(events.Event{Type: events.EventWorkerStopped, Flow: rt.cfg.Domain, Message: "worker stopped: " + rt.cfg.ConsumerName})
}

func (rt *Runtime) waitInFlight(timeout time.Duration) {
	done := make(chan struct{})
	go func() {
		rt.inFlight.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(timeout):
		log.Logger.Warn().Str("domain", rt.cfg.Domain).Msg("shutdown grace period elapsed with tasks still in flight")
	}
}

func (rt *Runtime) heartbeatLoop() {
	defer rt.loops.Done()
	key := stream.HeartbeatKey(rt.cfg.Domain, rt.cfg.ConsumerName)

	ticker := time.NewTicker(rt.cfg.HeartbeatInterval)
	defer ticker.Stop()

	beat := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := rt.sc.Heartbeat(ctx, key, rt.cfg.HeartbeatTTL); err != nil {
			log.Logger.Warn().Err(err).Str("key", key).Msg("heartbeat failed")
			return
		}
		metrics.HeartbeatsTotal.Inc()
	}

	beat()
	for {
		select {
		case <-ticker.C:
			beat()
		case <-rt.stopCh:
			return
		}
	}
}

// claimLoop is the single-threaded consumer: it blocks on Claim, and for
// every message claimed spawns a goroutine (gated by the Dispatcher) so a
// slow agent invocation never stalls the next claim.
func (rt *Runtime) claimLoop(ctx context.Context) {
	defer rt.loops.Done()
	taskStream := stream.TaskStream(rt.cfg.Domain)
	group := stream.WorkerGroup(rt.cfg.Domain)

	for {
		select {
		case <-rt.stopCh:
			return
		default:
		}

		timer := metrics.NewTimer()
		msgs, err := rt.sc.Claim(ctx, taskStream, group, rt.cfg.ConsumerName, rt.cfg.ClaimCount, rt.cfg.BlockTimeout)
		timer.ObserveDuration(metrics.ClaimLatency)
		if err != nil {
			log.Logger.Error().Err(err).Str("domain", rt.cfg.Domain).Msg("claim failed")
			select {
			case <-rt.stopCh:
				return
			case <-time.After(time.Second):
			}
			continue
		}

		for _, msg := range msgs {
			m := msg
			rt.inFlight.Add(1)
			go func() {
				defer rt.inFlight.Done()
				rt.processMessage(ctx, m)
			}()
		}
	}
}

func (rt *Runtime) processMessage(ctx context.Context, msg stream.Message) {
	taskStream := stream.TaskStream(rt.cfg.Domain)
	group := stream.WorkerGroup(rt.cfg.Domain)

	idemKey := stream.IdempotencyKey(taskStream, msg.ID)
	locked, err := rt.sc.LockAcquire(ctx, idemKey, rt.cfg.IdempotencyTTL)
	if err != nil {
		log.Logger.Error().Err(err).Str("msg_id", msg.ID).Msg("idempotency lock acquire failed; leaving pending")
		return
	}
	if !locked {
		// Already processed (or currently being processed) by another
		// delivery of the same message: ack without re-invoking the agent.
		if ackErr := rt.sc.Ack(ctx, taskStream, group, msg.ID); ackErr != nil {
			log.Logger.Warn().Err(ackErr).Str("msg_id", msg.ID).Msg("ack of duplicate delivery failed")
		}
		metrics.TasksAckedTotal.WithLabelValues(rt.cfg.Domain, "duplicate").Inc()
		events.Emit(events.Event{Type: events.EventTaskDuplicate, Flow: rt.cfg.Domain, Message: "duplicate delivery suppressed"})
		return
	}

	var task types.Task
	if err := json.Unmarshal(msg.Data, &task); err != nil {
		rt.terminal(ctx, msg, types.Task{Flow: rt.cfg.Domain}, &errs.ValidationError{Reason: "malformed task payload: " + err.Error()})
		return
	}

	metrics.TasksClaimedTotal.WithLabelValues(task.Flow).Inc()
	events.Emit(events.Event{Type: events.EventTaskClaimed, Flow: task.Flow, TaskID: task.TaskID})

	a, lookupErr := rt.reg.Lookup(task.Flow)
	if lookupErr != nil {
		rt.terminal(ctx, msg, task, lookupErr)
		return
	}

	events.Emit(events.Event{Type: events.EventTaskRunning, Flow: task.Flow, TaskID: task.TaskID})
	timer := metrics.NewTimer()
	env, runErr := rt.dispatch(ctx, a, task)
	timer.ObserveDurationVec(metrics.TaskProcessingDuration, task.Flow)

	if runErr == nil {
		rt.succeed(ctx, msg, task, env)
		return
	}
	rt.fail(ctx, msg, task, runErr)
}

// dispatch runs the agent through the Dispatcher's concurrency guard and
// converts a panic escaping the agent into an *errs.UnknownError instead
// of letting it take the goroutine down.
func (rt *Runtime) dispatch(ctx context.Context, a agent.Agent, task types.Task) (env types.Envelope, runErr error) {
	submitErr := rt.disp.Submit(ctx, task.Flow, func() (fnErr error) {
		defer func() {
			if r := recover(); r != nil {
				fnErr = &errs.UnknownError{Cause: fmt.Errorf("panic: %v", r)}
			}
		}()
		env, fnErr = a.Run(ctx, task)
		return fnErr
	})
	return env, submitErr
}

// succeed publishes env to the results stream and acks: an ACKED outcome
// whether env.Status is SUCCESS or a gracefully-caught ERROR, since no Go
// error escaped the agent.
func (rt *Runtime) succeed(ctx context.Context, msg stream.Message, task types.Task, env types.Envelope) {
	taskStream := stream.TaskStream(rt.cfg.Domain)
	group := stream.WorkerGroup(rt.cfg.Domain)

	rt.publishResult(ctx, task.TaskID, types.Result{TaskID: task.TaskID, Status: env.Status, Envelope: &env})
	if err := rt.sc.Ack(ctx, taskStream, group, msg.ID); err != nil {
		log.Logger.Warn().Err(err).Str("msg_id", msg.ID).Msg("ack failed after successful processing")
	}

	metrics.TasksAckedTotal.WithLabelValues(task.Flow, "success").Inc()
	monitor.Emit(monitor.Event{Type: events.EventTaskAcked, Flow: task.Flow, TaskID: task.TaskID, Status: string(env.Status), Message: "task acked"})
}

// fail applies the retry-vs-DLQ decision: a transient AdapterError is
// retried up to MaxRetries; any other retryable error is an unknown error
// and gets exactly one retry regardless of MaxRetries; everything else
// goes straight to terminal.
func (rt *Runtime) fail(ctx context.Context, msg stream.Message, task types.Task, err error) {
	limit := rt.cfg.MaxRetries
	if _, isAdapter := err.(*errs.AdapterError); !isAdapter {
		limit = 1
	}

	if errs.IsRetryable(err) && task.Meta.Attempt < limit {
		rt.retry(ctx, msg, task, err)
		return
	}
	rt.terminal(ctx, msg, task, err)
}

func (rt *Runtime) retry(ctx context.Context, msg stream.Message, task types.Task, cause error) {
	taskStream := stream.TaskStream(rt.cfg.Domain)
	group := stream.WorkerGroup(rt.cfg.Domain)

	if rt.cfg.RetryBackoff > 0 {
		select {
		case <-time.After(rt.cfg.RetryBackoff):
		case <-rt.stopCh:
		}
	}

	task.Meta.Attempt++
	body, err := json.Marshal(task)
	if err != nil {
		log.Logger.Error().Err(err).Msg("marshal retried task failed; routing to DLQ instead")
		rt.terminal(ctx, msg, task, cause)
		return
	}
	if _, err := rt.sc.Publish(ctx, taskStream, body, rt.cfg.StreamMaxLen); err != nil {
		log.Logger.Error().Err(err).Msg("republish for retry failed; leaving original pending")
		return
	}
	if err := rt.sc.Ack(ctx, taskStream, group, msg.ID); err != nil {
		log.Logger.Warn().Err(err).Str("msg_id", msg.ID).Msg("ack of original after retry republish failed")
	}

	metrics.TasksAckedTotal.WithLabelValues(task.Flow, "retry").Inc()
	monitor.Emit(monitor.Event{Type: events.EventTaskRetried, Flow: task.Flow, TaskID: task.TaskID, ErrorKind: errorKind(cause), Message: "retrying"})
}

// terminal publishes an error result and, if DLQ is enabled, a DLQ entry,
// then acks the original message.
func (rt *Runtime) terminal(ctx context.Context, msg stream.Message, task types.Task, cause error) {
	taskStream := stream.TaskStream(rt.cfg.Domain)
	group := stream.WorkerGroup(rt.cfg.Domain)

	rt.publishResult(ctx, task.TaskID, types.Result{TaskID: task.TaskID, Status: types.StatusError, Error: cause.Error()})

	if rt.cfg.EnableDLQ {
		dlqBody, err := json.Marshal(map[string]any{
			"task":      task,
			"reason":    cause.Error(),
			"failed_at": time.Now().UTC(),
		})
		if err == nil {
			if _, pubErr := rt.sc.Publish(ctx, stream.DLQStream(rt.cfg.Domain), dlqBody, rt.cfg.StreamMaxLen); pubErr != nil {
				log.Logger.Error().Err(pubErr).Msg("publish to DLQ failed")
			} else {
				metrics.DLQTotal.WithLabelValues(task.Flow, errorKind(cause)).Inc()
			}
		}
	}

	if err := rt.sc.Ack(ctx, taskStream, group, msg.ID); err != nil {
		log.Logger.Warn().Err(err).Str("msg_id", msg.ID).Msg("ack of terminally-failed message failed")
	}

	metrics.TasksAckedTotal.WithLabelValues(task.Flow, "dlq").Inc()
	monitor.Emit(monitor.Event{Type: events.EventTaskDLQ, Flow: task.Flow, TaskID: task.TaskID, Status: string(types.StatusError), ErrorKind: errorKind(cause), Message: "terminal failure"})
}

func (rt *Runtime) publishResult(ctx context.Context, taskID string, res types.Result) {
	body, err := json.Marshal(res)
	if err != nil {
		log.Logger.Error().Err(err).Str("task_id", taskID).Msg("marshal result failed")
		return
	}
	if _, err := rt.sc.Publish(ctx, stream.ResultStream(rt.cfg.Domain), body, rt.cfg.StreamMaxLen); err != nil {
		log.Logger.Error().Err(err).Str("task_id", taskID).Msg("publish result failed")
	}
}

func errorKind(err error) string {
	switch err.(type) {
	case *errs.TableNotAllowedError:
		return "TableNotAllowedError"
	case *errs.PersistencePermissionError:
		return "PersistencePermissionError"
	case *errs.ValidationError:
		return "ValidationError"
	case *errs.FlowUnknownError:
		return "FlowUnknownError"
	case *errs.AdapterError:
		return "AdapterError"
	case *errs.UnknownError:
		return "UnknownError"
	default:
		return "error"
	}
}
