// Package stream wraps Redis Streams (github.com/redis/go-redis/v9) behind
// a thin client: xadd/xread-group/xack/xpending plus a SET NX-backed
// idempotency lock and heartbeat primitives, all namespaced under a
// configured prefix.
package stream

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Message is one claimed stream entry: its id plus the decoded "data"
// field payload.
type Message struct {
	ID   string
	Data []byte
}

// Client wraps a *redis.Client with namespacing and the stream
// primitives every fabric component needs.
type Client struct {
	rdb       *redis.Client
	namespace string
}

// New builds a Client from an already-constructed *redis.Client.
// Namespace is the key prefix (default "agentic").
func New(rdb *redis.Client, namespace string) *Client {
	if namespace == "" {
		namespace = "agentic"
	}
	return &Client{rdb: rdb, namespace: namespace}
}

// Key namespaces a logical stream/key name as "{ns}:{name}".
func (c *Client) Key(name string) string {
	return c.namespace + ":" + name
}

// Ping verifies connectivity, used by the readiness check.
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// Publish appends payload (already-encoded JSON) to stream under the
// "data" field, trimming to maxlen approximately when maxlen > 0.
func (c *Client) Publish(ctx context.Context, stream string, payload []byte, maxlen int64) (string, error) {
	args := &redis.XAddArgs{
		Stream: c.Key(stream),
		Values: map[string]any{"data": payload},
	}
	if maxlen > 0 {
		args.MaxLen = maxlen
		args.Approx = true
	}
	id, err := c.rdb.XAdd(ctx, args).Result()
	if err != nil {
		return "", fmt.Errorf("stream: publish to %s: %w", stream, err)
	}
	return id, nil
}

// CreateGroup creates a consumer group at cursor start ("$" for new-only,
// "0" for from-beginning), creating the stream itself if it doesn't yet
// exist. Idempotent: a BUSYGROUP error (group already exists) is
// swallowed, so workers racing to ensure the same group at startup all
// succeed.
func (c *Client) CreateGroup(ctx context.Context, stream, group, start string) error {
	if start == "" {
		start = "$"
	}
	err := c.rdb.XGroupCreateMkStream(ctx, c.Key(stream), group, start).Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("stream: create group %s on %s: %w", group, stream, err)
	}
	return nil
}

// Claim performs a blocking XReadGroup, returning up to count new
// messages for consumer in group, or nil (no error) if the block window
// elapsed with nothing claimable. block<=0 means block indefinitely,
// which callers should avoid outside of tests: the claim loop needs a
// bounded block to observe its shutdown signal.
func (c *Client) Claim(ctx context.Context, stream, group, consumer string, count int64, block time.Duration) ([]Message, error) {
	res, err := c.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    group,
		Consumer: consumer,
		Streams:  []string{c.Key(stream), ">"},
		Count:    count,
		Block:    block,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("stream: claim from %s: %w", stream, err)
	}

	var out []Message
	for _, s := range res {
		for _, msg := range s.Messages {
			data, _ := msg.Values["data"].(string)
			out = append(out, Message{ID: msg.ID, Data: []byte(data)})
		}
	}
	return out, nil
}

// Ack acknowledges msgID in group on stream.
func (c *Client) Ack(ctx context.Context, stream, group, msgID string) error {
	if err := c.rdb.XAck(ctx, c.Key(stream), group, msgID).Err(); err != nil {
		return fmt.Errorf("stream: ack %s on %s: %w", msgID, stream, err)
	}
	return nil
}

// PendingStats summarizes a consumer group's unacked backlog.
type PendingStats struct {
	Count     int64
	LowestID  string
	HighestID string
}

// Pending returns group stats for stream, used by health checks and
// the agentic_stream_pending gauge.
func (c *Client) Pending(ctx context.Context, stream, group string) (PendingStats, error) {
	res, err := c.rdb.XPending(ctx, c.Key(stream), group).Result()
	if err != nil {
		return PendingStats{}, fmt.Errorf("stream: pending on %s/%s: %w", stream, group, err)
	}
	return PendingStats{Count: res.Count, LowestID: res.Lower, HighestID: res.Higher}, nil
}

// RangeByTaskID scans the newest count entries of a results/DLQ stream
// (which carries no consumer group), newest first, looking for the entry whose decoded payload has the given
// task_id, used by the polling ingress client. match is called with
// each entry's raw "data" bytes and should report whether it's the one
// being waited for.
func (c *Client) RangeByTaskID(ctx context.Context, stream string, count int64, match func([]byte) bool) ([]byte, bool, error) {
	entries, err := c.rdb.XRevRangeN(ctx, c.Key(stream), "+", "-", count).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("stream: range %s: %w", stream, err)
	}
	for _, e := range entries {
		data, _ := e.Values["data"].(string)
		if match([]byte(data)) {
			return []byte(data), true, nil
		}
	}
	return nil, false, nil
}

// LockAcquire attempts SET NX EX ttl on key, returning true iff this call
// won the lock.
func (c *Client) LockAcquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := c.rdb.SetNX(ctx, c.Key(key), "1", ttl).Result()
	if err != nil {
		return false, fmt.Errorf("stream: lock acquire %s: %w", key, err)
	}
	return ok, nil
}

// Heartbeat refreshes key with a fresh TTL, creating it if absent.
func (c *Client) Heartbeat(ctx context.Context, key string, ttl time.Duration) error {
	if err := c.rdb.Set(ctx, c.Key(key), time.Now().UTC().Format(time.RFC3339), ttl).Err(); err != nil {
		return fmt.Errorf("stream: heartbeat %s: %w", key, err)
	}
	return nil
}

// HeartbeatAlive reports whether a heartbeat key is currently present
// (i.e. hasn't expired), used by the readiness check.
func (c *Client) HeartbeatAlive(ctx context.Context, key string) (bool, error) {
	n, err := c.rdb.Exists(ctx, c.Key(key)).Result()
	if err != nil {
		return false, fmt.Errorf("stream: heartbeat check %s: %w", key, err)
	}
	return n > 0, nil
}

// Close releases the underlying Redis connection pool.
func (c *Client) Close() error {
	return c.rdb.Close()
}
