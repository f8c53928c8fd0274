// Package dispatch runs lock-pipeline jobs on a bounded worker pool so the
// tick delivery path never blocks on gateway I/O.
package dispatch

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"
)

// Job is one unit of asynchronous work.
type Job func(ctx context.Context)

// Dispatcher owns a fixed set of workers draining a bounded queue.
type Dispatcher struct {
	jobs    chan Job
	wg      sync.WaitGroup
	cancel  context.CancelFunc
	stopped chan struct{}
	once    sync.Once
}

// New starts a dispatcher with the given worker count and queue capacity.
func New(workers, queueSize int) *Dispatcher {
	ctx, cancel := context.WithCancel(context.Background())

	d := &Dispatcher{
		jobs:    make(chan Job, queueSize),
		cancel:  cancel,
		stopped: make(chan struct{}),
	}

	d.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go d.worker(ctx, i)
	}
	return d
}

func (d *Dispatcher) worker(ctx context.Context, id int) {
	defer d.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case job := <-d.jobs:
			d.run(ctx, id, job)
		}
	}
}

func (d *Dispatcher) run(ctx context.Context, id int, job Job) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Int("worker", id).Interface("panic", r).
				Msg("Pipeline job panicked")
		}
	}()
	job(ctx)
}

// Submit enqueues a job without blocking. It returns false when the queue is
// full or the dispatcher is stopped; callers drop the work and record the
// loss.
func (d *Dispatcher) Submit(job Job) bool {
	select {
	case <-d.stopped:
		return false
	default:
	}

	select {
	case d.jobs <- job:
		return true
	default:
		return false
	}
}

// Depth returns the current queue depth.
func (d *Dispatcher) Depth() int {
	return len(d.jobs)
}

// Stop rejects new work, signals the workers and waits for them to finish
// their current job. Jobs still queued at shutdown are abandoned.
func (d *Dispatcher) Stop() {
	d.once.Do(func() {
		close(d.stopped)
		d.cancel()
	})
	d.wg.Wait()
}
