package dispatcher

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDispatcher_UnboundedAgentRunsImmediately(t *testing.T) {
	d := New(map[string]int{})
	called := false
	err := d.Submit(context.Background(), "rag", func() error {
		called = true
		return nil
	})
	assert.NoError(t, err)
	assert.True(t, called)
}

func TestDispatcher_BoundsConcurrencyPerAgent(t *testing.T) {
	d := New(map[string]int{"rag": 2})

	var inFlight int32
	var maxObserved int32
	var wg sync.WaitGroup

	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = d.Submit(context.Background(), "rag", func() error {
				n := atomic.AddInt32(&inFlight, 1)
				for {
					cur := atomic.LoadInt32(&maxObserved)
					if n <= cur || atomic.CompareAndSwapInt32(&maxObserved, cur, n) {
						break
					}
				}
				time.Sleep(10 * time.Millisecond)
				atomic.AddInt32(&inFlight, -1)
				return nil
			})
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, atomic.LoadInt32(&maxObserved), int32(2))
}

func TestDispatcher_SubmitReturnsErrWhenCtxDoneBeforePermit(t *testing.T) {
	d := New(map[string]int{"rag": 1})

	release := make(chan struct{})
	go func() {
		_ = d.Submit(context.Background(), "rag", func() error {
			<-release
			return nil
		})
	}()
	time.Sleep(10 * time.Millisecond) // let the first Submit grab the only permit

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := d.Submit(ctx, "rag", func() error { return nil })
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	close(release)
}

func TestDispatcher_SubmitPropagatesAgentError(t *testing.T) {
	d := New(map[string]int{})
	boom := errors.New("boom")
	err := d.Submit(context.Background(), "rag", func() error { return boom })
	assert.ErrorIs(t, err, boom)
}

func TestDispatcher_SubmitReleasesPermitOnPanic(t *testing.T) {
	d := New(map[string]int{"rag": 1})

	assert.Panics(t, func() {
		_ = d.Submit(context.Background(), "rag", func() error {
			panic("agent exploded")
		})
	})

	// The permit must have been released despite the panic.
	done := make(chan struct{})
	go func() {
		_ = d.Submit(context.Background(), "rag", func() error {
			close(done)
			return nil
		})
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("permit was not released after a panicking Submit")
	}
}
