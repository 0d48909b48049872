package health

import (
	"context"
	"fmt"
	"time"
)

// PendingStatser is the subset of stream.Client a StreamChecker needs,
// kept as a narrow interface (returning just the pending count) so this
// package never imports pkg/stream directly. Callers wrap
// stream.Client.Pending, which returns a richer PendingStats, into this
// shape.
type PendingStatser interface {
	Pending(ctx context.Context, stream, group string) (int64, error)
}

// HeartbeatAliver is the subset of stream.Client a HeartbeatChecker needs.
type HeartbeatAliver interface {
	HeartbeatAlive(ctx context.Context, key string) (bool, error)
}

// StreamChecker reports unhealthy once a consumer group's pending
// (claimed but unacked) entry count exceeds MaxPending, a sign a worker
// pool is stuck or undersized for its load.
type StreamChecker struct {
	Client     PendingStatser
	Stream     string
	Group      string
	MaxPending int64
}

// NewStreamChecker builds a StreamChecker with a default MaxPending of
// 1000; callers with a different load profile should set it explicitly.
func NewStreamChecker(client PendingStatser, stream, group string) *StreamChecker {
	return &StreamChecker{Client: client, Stream: stream, Group: group, MaxPending: 1000}
}

func (s *StreamChecker) Check(ctx context.Context) Result {
	start := time.Now()
	pending, err := s.Client.Pending(ctx, s.Stream, s.Group)
	if err != nil {
		return Result{Healthy: false, Message: fmt.Sprintf("pending lookup failed: %v", err), CheckedAt: start, Duration: time.Since(start)}
	}
	healthy := pending <= s.MaxPending
	msg := fmt.Sprintf("%d pending entries on %s/%s", pending, s.Stream, s.Group)
	if !healthy {
		msg = fmt.Sprintf("%s (exceeds %d)", msg, s.MaxPending)
	}
	return Result{Healthy: healthy, Message: msg, CheckedAt: start, Duration: time.Since(start)}
}

func (s *StreamChecker) Type() CheckType { return CheckTypeStream }

// HeartbeatChecker reports unhealthy once a worker's heartbeat key has
// expired without renewal, meaning that worker has stopped claiming work
// without an orderly Stop.
type HeartbeatChecker struct {
	Client HeartbeatAliver
	Key    string
}

// NewHeartbeatChecker builds a HeartbeatChecker for key.
func NewHeartbeatChecker(client HeartbeatAliver, key string) *HeartbeatChecker {
	return &HeartbeatChecker{Client: client, Key: key}
}

func (h *HeartbeatChecker) Check(ctx context.Context) Result {
	start := time.Now()
	alive, err := h.Client.HeartbeatAlive(ctx, h.Key)
	if err != nil {
		return Result{Healthy: false, Message: fmt.Sprintf("heartbeat lookup failed: %v", err), CheckedAt: start, Duration: time.Since(start)}
	}
	msg := fmt.Sprintf("heartbeat %s alive", h.Key)
	if !alive {
		msg = fmt.Sprintf("heartbeat %s expired", h.Key)
	}
	return Result{Healthy: alive, Message: msg, CheckedAt: start, Duration: time.Since(start)}
}

func (h *HeartbeatChecker) Type() CheckType { return CheckTypeHeartbeat }
