package metrics

import (
	"context"
	"time"
)

// PendingStatser is the narrow slice of stream.Client the collector polls,
// kept local so this package never imports pkg/stream.
type PendingStatser interface {
	Pending(ctx context.Context, stream, group string) (int64, error)
}

// StreamTarget names one stream/group pair the Collector polls for its
// backlog gauge.
type StreamTarget struct {
	Stream string
	Group  string
}

// Collector periodically samples each configured stream's backlog into
// StreamPending, since XPENDING is a pull-based count with no server-side
// push equivalent.
type Collector struct {
	client   PendingStatser
	targets  []StreamTarget
	interval time.Duration
	stopCh   chan struct{}
}

// NewCollector builds a Collector over the given targets, sampling every
// interval (defaulting to 15s when interval <= 0).
func NewCollector(client PendingStatser, targets []StreamTarget, interval time.Duration) *Collector {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &Collector{client: client, targets: targets, interval: interval, stopCh: make(chan struct{})}
}

// Start begins collecting in a background goroutine.
func (c *Collector) Start(ctx context.Context) {
	ticker := time.NewTicker(c.interval)
	go func() {
		c.collect(ctx)
		for {
			select {
			case <-ticker.C:
				c.collect(ctx)
			case <-c.stopCh:
				ticker.Stop()
				return
			case <-ctx.Done():
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop stops the collector.
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect(ctx context.Context) {
	for _, t := range c.targets {
		count, err := c.client.Pending(ctx, t.Stream, t.Group)
		if err != nil {
			continue
		}
		StreamPending.WithLabelValues(t.Stream, t.Group).Set(float64(count))
	}
}
