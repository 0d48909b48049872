package metrics

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

type fakePendingStatser struct {
	calls atomic.Int64
	value int64
}

func (f *fakePendingStatser) Pending(ctx context.Context, stream, group string) (int64, error) {
	f.calls.Add(1)
	return f.value, nil
}

func TestCollector_SetsGaugePerTarget(t *testing.T) {
	fake := &fakePendingStatser{value: 7}
	c := NewCollector(fake, []StreamTarget{{Stream: "rag:tasks", Group: "rag-workers"}}, time.Hour)

	c.collect(context.Background())

	assert.Equal(t, float64(7), testutil.ToFloat64(StreamPending.WithLabelValues("rag:tasks", "rag-workers")))
}

func TestCollector_StartSamplesImmediatelyThenStops(t *testing.T) {
	fake := &fakePendingStatser{value: 3}
	c := NewCollector(fake, []StreamTarget{{Stream: "persist:tasks", Group: "persist-workers"}}, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	c.Start(ctx)

	require := assert.New(t)
	deadline := time.Now().Add(time.Second)
	for fake.calls.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	require.GreaterOrEqual(fake.calls.Load(), int64(1))

	c.Stop()
	cancel()
}

func TestNewCollector_DefaultsInterval(t *testing.T) {
	c := NewCollector(&fakePendingStatser{}, nil, 0)
	assert.Equal(t, 15*time.Second, c.interval)
}
