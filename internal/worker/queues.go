// Package worker runs jobs on per-key FIFO queues, each drained by its own
// goroutine. Jobs for one key run one at a time in arrival order; keys are
// independent.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/baharkarakas/point-ledger/internal/metrics"
)

var ErrStopped = errors.New("worker: queues stopped")

type job struct {
	ctx      context.Context
	fn       func() error
	queuedAt time.Time
	done     chan error
}

type Queues struct {
	size int

	// closing guards sends against Stop closing the channels.
	closing sync.RWMutex
	stopped bool

	mu     sync.Mutex
	queues map[int64]chan job
	wg     sync.WaitGroup
}

// NewQueues creates an empty set of queues; size is the buffer of each
// per-key queue, beyond which producers block.
func NewQueues(size int) *Queues {
	if size <= 0 {
		size = 1024
	}
	return &Queues{size: size, queues: make(map[int64]chan job)}
}

func (q *Queues) queue(key int64) chan job {
	q.mu.Lock()
	defer q.mu.Unlock()
	ch, ok := q.queues[key]
	if !ok {
		ch = make(chan job, q.size)
		q.queues[key] = ch
		q.wg.Add(1)
		go q.consume(ch)
		metrics.SerializerKeys.WithLabelValues("fifo").Set(float64(len(q.queues)))
	}
	return ch
}

func (q *Queues) consume(jobs chan job) {
	defer q.wg.Done()
	for j := range jobs {
		j.done <- run(j)
		metrics.WorkerQueueDepth.Dec()
	}
}

func run(j job) (err error) {
	// abandoned while queued: skip, it never reached the critical section
	if err := j.ctx.Err(); err != nil {
		return err
	}
	metrics.SerializerWaitSeconds.WithLabelValues("fifo").Observe(time.Since(j.queuedAt).Seconds())
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("worker: job panicked: %v", r)
		}
	}()
	return j.fn()
}

// RunExclusive enqueues work on key's queue and waits for its result. If
// ctx ends first the caller gets ctx.Err(); a job that already started
// still runs to completion.
func (q *Queues) RunExclusive(ctx context.Context, key int64, work func() error) error {
	j := job{ctx: ctx, fn: work, queuedAt: time.Now(), done: make(chan error, 1)}

	q.closing.RLock()
	if q.stopped {
		q.closing.RUnlock()
		return ErrStopped
	}
	metrics.WorkerQueueDepth.Inc()
	select {
	case q.queue(key) <- j:
	case <-ctx.Done():
		q.closing.RUnlock()
		metrics.WorkerQueueDepth.Dec()
		return ctx.Err()
	}
	q.closing.RUnlock()

	select {
	case err := <-j.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop refuses new jobs, lets queued ones finish and waits for every
// consumer to exit.
func (q *Queues) Stop() {
	q.closing.Lock()
	if q.stopped {
		q.closing.Unlock()
		return
	}
	q.stopped = true
	q.mu.Lock()
	for _, ch := range q.queues {
		close(ch)
	}
	q.mu.Unlock()
	q.closing.Unlock()
	q.wg.Wait()
}

// Len reports how many keys have a queue.
func (q *Queues) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.queues)
}
