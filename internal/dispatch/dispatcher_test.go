package dispatch

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDispatcher_RunsJobs(t *testing.T) {
	d := New(2, 8)
	defer d.Stop()

	var ran atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		ok := d.Submit(func(ctx context.Context) {
			defer wg.Done()
			ran.Add(1)
		})
		require.True(t, ok)
	}

	waitDone(t, &wg)
	assert.Equal(t, int64(8), ran.Load())
}

func TestDispatcher_RejectsWhenQueueFull(t *testing.T) {
	d := New(1, 1)
	defer d.Stop()

	block := make(chan struct{})
	started := make(chan struct{})

	// Occupy the single worker.
	require.True(t, d.Submit(func(ctx context.Context) {
		close(started)
		<-block
	}))
	<-started

	// Fill the single queue slot.
	require.True(t, d.Submit(func(ctx context.Context) {}))

	// Queue is full: submission fails instead of blocking the caller.
	assert.False(t, d.Submit(func(ctx context.Context) {}))

	close(block)
}

func TestDispatcher_StopRejectsNewWork(t *testing.T) {
	d := New(1, 4)
	d.Stop()

	assert.False(t, d.Submit(func(ctx context.Context) {}))
}

func TestDispatcher_StopCancelsJobContext(t *testing.T) {
	d := New(1, 1)

	cancelled := make(chan struct{})
	started := make(chan struct{})
	require.True(t, d.Submit(func(ctx context.Context) {
		close(started)
		<-ctx.Done()
		close(cancelled)
	}))
	<-started

	d.Stop()

	select {
	case <-cancelled:
	case <-time.After(2 * time.Second):
		t.Fatal("job context was not cancelled on Stop")
	}
}

func TestDispatcher_SurvivesPanickingJob(t *testing.T) {
	d := New(1, 4)
	defer d.Stop()

	var wg sync.WaitGroup
	wg.Add(1)
	require.True(t, d.Submit(func(ctx context.Context) {
		defer wg.Done()
		panic("job blew up")
	}))
	waitDone(t, &wg)

	// The worker must still be alive.
	wg.Add(1)
	require.True(t, d.Submit(func(ctx context.Context) {
		defer wg.Done()
	}))
	waitDone(t, &wg)
}

func waitDone(t *testing.T, wg *sync.WaitGroup) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("jobs did not complete in time")
	}
}
