// Package worker runs queued submissions through evaluation and recording.
package worker

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"strconv"
	"time"

	"github.com/okian/datacup/internal/adapters/mq/queue"
	"github.com/okian/datacup/internal/domain/model"
	"github.com/okian/datacup/pkg/logger"
	"github.com/okian/datacup/pkg/metrics"
)

// Default worker configuration constants.
const (
	poolShutdownTimeout = 30 * time.Second
)

// Processor evaluates an upload and records its score.
type Processor interface {
	Process(ctx context.Context, u model.Upload) (model.Outcome, error)
}

// Queue defines how workers receive jobs.
type Queue interface {
	Dequeue(ctx context.Context) <-chan queue.Job
}

// Worker processes jobs using the provided interfaces.
type Worker interface {
	// Run starts the worker loop until ctx is canceled or the queue closes.
	Run(ctx context.Context)

	// Shutdown waits for the worker loop to return.
	Shutdown(ctx context.Context) error
}

// InMemoryWorker implements Worker.
type InMemoryWorker struct {
	queue     Queue
	processor Processor
	name      string

	done chan struct{}

	logger logger.Logger
}

// NewInMemoryWorker creates a new worker with configuration options.
func NewInMemoryWorker(q Queue, p Processor, opts ...Option) *InMemoryWorker {
	w := &InMemoryWorker{
		queue:     q,
		processor: p,
		name:      "worker",
		done:      make(chan struct{}),
		logger:    logger.Default().Named("worker"),
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.name != "worker" {
		w.logger = w.logger.With(logger.String("worker", w.name))
	}
	return w
}

// Run starts the worker loop. Jobs still queued when the queue closes are
// drained before Run returns.
func (w *InMemoryWorker) Run(ctx context.Context) {
	defer close(w.done)

	jobs := w.queue.Dequeue(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case job, ok := <-jobs:
			if !ok {
				return
			}
			w.handle(ctx, job)
		}
	}
}

// Shutdown waits for Run to return.
func (w *InMemoryWorker) Shutdown(ctx context.Context) error {
	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		w.logger.Warn(ctx, "shutdown timed out")
		return fmt.Errorf("shutdown timed out: %w", ctx.Err())
	}
}

// handle runs one job and always replies.
func (w *InMemoryWorker) handle(ctx context.Context, job queue.Job) { //nolint:gocritic // hugeParam: Job is passed by value for channel semantics
	start := time.Now()
	metrics.AddWorkerBusy(1)
	defer func() {
		metrics.AddWorkerBusy(-1)
		metrics.RecordWorkerJobDuration(float64(time.Since(start).Milliseconds()))
	}()

	// The submitter may have given up while the job waited.
	if job.Ctx != nil {
		if err := job.Ctx.Err(); err != nil {
			metrics.RecordErrorByComponent("worker", "abandoned")
			job.Reply <- queue.Result{Err: err}
			return
		}
	}

	jctx, cancel := context.WithCancel(ctx)
	defer cancel()
	if job.Ctx != nil {
		stop := context.AfterFunc(job.Ctx, cancel)
		defer stop()
	}

	out, err := w.process(jctx, job.Upload)
	if err != nil && !errors.Is(err, context.Canceled) {
		w.logger.Debug(ctx, "submission not recorded",
			logger.String("submission_id", job.Upload.SubmissionID),
			logger.String("participant_id", job.Upload.ParticipantID),
			logger.Error(err))
	}
	job.Reply <- queue.Result{Outcome: out, Err: err}
}

// process calls the processor, turning a panic into an error so one bad
// job cannot take the worker down.
func (w *InMemoryWorker) process(ctx context.Context, u model.Upload) (out model.Outcome, err error) { //nolint:gocritic // hugeParam
	defer func() {
		if r := recover(); r != nil {
			metrics.RecordErrorByComponent("worker", "panic")
			w.logger.Error(ctx, "processor panicked", logger.Any("panic", r))
			err = fmt.Errorf("worker: processor panicked: %v", r)
		}
	}()
	return w.processor.Process(ctx, u)
}

// Pool manages multiple workers.
type Pool struct {
	workers []*InMemoryWorker
	queue   Queue

	logger logger.Logger
}

// NewPool creates a new worker pool. A non-positive count means NumCPU.
func NewPool(workerCount int, q Queue, p Processor) *Pool {
	if workerCount < 1 {
		workerCount = runtime.NumCPU()
	}

	pool := &Pool{
		workers: make([]*InMemoryWorker, workerCount),
		queue:   q,
		logger:  logger.Default().Named("worker-pool"),
	}
	for i := range workerCount {
		pool.workers[i] = NewInMemoryWorker(q, p, WithName("worker-"+strconv.Itoa(i)))
	}

	metrics.UpdateWorkerCount(workerCount)
	return pool
}

// Size returns the number of workers.
func (p *Pool) Size() int { return len(p.workers) }

// Start starts all workers in the pool.
func (p *Pool) Start(ctx context.Context) {
	for _, worker := range p.workers {
		go worker.Run(ctx)
	}
	p.logger.Info(ctx, "worker pool started", logger.Int("workers", len(p.workers)))
}

// Shutdown closes the queue and waits for workers to drain it.
func (p *Pool) Shutdown(ctx context.Context) error {
	if closer, ok := p.queue.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			p.logger.Error(ctx, "error closing queue", logger.Error(err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, poolShutdownTimeout)
	defer cancel()

	var timedOut int
	for i, worker := range p.workers {
		if err := worker.Shutdown(shutdownCtx); err != nil {
			timedOut++
			p.logger.Warn(ctx, "worker shutdown timed out", logger.Int("worker_id", i))
		}
	}
	metrics.UpdateWorkerCount(0)
	if timedOut > 0 {
		return fmt.Errorf("worker pool: %d workers did not stop: %w", timedOut, shutdownCtx.Err())
	}
	return nil
}
