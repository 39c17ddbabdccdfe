// Package queue holds submissions waiting for an evaluation worker.
//
// The queue is bounded: when it is full Enqueue fails immediately so the
// caller can shed load instead of piling up uploads in memory.
package queue

import (
	"context"
	"sync"

	"github.com/okian/datacup/internal/domain/model"
	"github.com/okian/datacup/pkg/metrics"
)

// Default queue configuration constants.
const defaultQueueCapacity = 1024

// Result is the single reply a worker sends for a job.
type Result struct {
	Outcome model.Outcome
	Err     error
}

// Job is an upload plus the channel its result goes to. Ctx is the
// submitter's context; workers skip jobs whose submitter already gave up.
type Job struct {
	Ctx    context.Context //nolint:containedctx // request scoped, travels with the job
	Upload model.Upload
	Reply  chan Result
}

// NewJob builds a job with a reply channel that never blocks the worker.
func NewJob(ctx context.Context, u model.Upload) Job {
	return Job{Ctx: ctx, Upload: u, Reply: make(chan Result, 1)}
}

// Queue provides non-blocking enqueue and channel-based dequeue semantics.
type Queue interface {
	// Enqueue adds a job. Returns ErrFull at capacity and ErrClosed after Close.
	Enqueue(ctx context.Context, j Job) error
	// Dequeue returns the channel workers receive jobs from. It is closed
	// once the queue is closed and drained.
	Dequeue(ctx context.Context) <-chan Job
	// Len returns the current number of queued jobs.
	Len(ctx context.Context) int
	// Cap returns the queue capacity.
	Cap() int
	Close() error
	IsClosed() bool
}

// InMemoryQueue implements Queue using a buffered channel.
type InMemoryQueue struct {
	jobs     chan Job
	capacity int

	mu     sync.RWMutex
	closed bool
}

// NewInMemoryQueue creates a new in-memory queue with configuration options.
func NewInMemoryQueue(opts ...Option) *InMemoryQueue {
	q := &InMemoryQueue{capacity: defaultQueueCapacity}
	for _, opt := range opts {
		opt(q)
	}
	q.jobs = make(chan Job, q.capacity)

	metrics.UpdateQueueCapacity(q.capacity)
	metrics.UpdateQueueSize(0)
	return q
}

// Enqueue adds a job to the queue without blocking.
func (q *InMemoryQueue) Enqueue(ctx context.Context, j Job) error { //nolint:gocritic // hugeParam: Job is passed by value for channel semantics
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		metrics.RecordErrorByComponent("queue", "closed")
		return ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	select {
	case q.jobs <- j:
		metrics.UpdateQueueSize(len(q.jobs))
		return nil
	default:
		metrics.RecordQueueRejection()
		metrics.RecordErrorByComponent("queue", "queue_full")
		return ErrFull
	}
}

// Dequeue returns the job channel.
func (q *InMemoryQueue) Dequeue(ctx context.Context) <-chan Job {
	return q.jobs
}

// Len returns the current number of queued jobs.
func (q *InMemoryQueue) Len(ctx context.Context) int {
	size := len(q.jobs)
	metrics.UpdateQueueSize(size)
	return size
}

// Cap returns the queue capacity.
func (q *InMemoryQueue) Cap() int { return q.capacity }

// Close stops accepting jobs. Jobs already queued stay receivable.
func (q *InMemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil
	}
	close(q.jobs)
	q.closed = true
	return nil
}

// IsClosed returns true if the queue has been closed.
func (q *InMemoryQueue) IsClosed() bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.closed
}
