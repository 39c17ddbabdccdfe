// Package service wires the evaluator, the reference loader, the ranking
// store and the worker pool into the operations the HTTP API and the CLI
// call.
package service

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/okian/datacup/internal/adapters/mq/queue"
	"github.com/okian/datacup/internal/adapters/mq/worker"
	"github.com/okian/datacup/internal/adapters/repository"
	"github.com/okian/datacup/internal/domain/evaluation"
	"github.com/okian/datacup/internal/domain/model"
	"github.com/okian/datacup/internal/domain/table"
	"github.com/okian/datacup/internal/domain/types"
	"github.com/okian/datacup/pkg/logger"
	"github.com/okian/datacup/pkg/metrics"
)

// Default service configuration constants.
const (
	defaultQueueSize    = 1024
	defaultStoreTimeout = 5 * time.Second
	stopTimeout         = 30 * time.Second
)

// Submission results reported to metrics.
const (
	resultAccepted  = "accepted"
	resultDuplicate = "duplicate"
	resultFrozen    = "frozen"
	resultError     = "error"
	outcomeScored   = "scored"
)

// Reference provides the current answer table.
type Reference interface {
	Load(ctx context.Context) (*table.Table, error)
}

// Service implements the API dependencies for the competition.
type Service struct {
	mu sync.RWMutex

	// Core components
	store     repository.Store
	reference Reference
	evaluator *evaluation.Evaluator
	queue     queue.Queue
	pool      *worker.Pool

	// Configuration
	workerCount  int
	queueSize    int
	storeTimeout time.Duration
	now          func() time.Time

	// State
	started bool
	stopped bool
	cancel  context.CancelFunc

	logger logger.Logger
}

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithStore sets the ranking store. The service closes it on Stop.
func WithStore(store repository.Store) Option {
	return func(s *Service) {
		if store != nil {
			s.store = store
		}
	}
}

// WithReference sets the reference table source.
func WithReference(ref Reference) Option {
	return func(s *Service) {
		if ref != nil {
			s.reference = ref
		}
	}
}

// WithEvaluator sets the evaluator.
func WithEvaluator(e *evaluation.Evaluator) Option {
	return func(s *Service) {
		if e != nil {
			s.evaluator = e
		}
	}
}

// WithWorkerCount sets the number of evaluation workers.
func WithWorkerCount(count int) Option {
	return func(s *Service) {
		if count > 0 {
			s.workerCount = count
		}
	}
}

// WithQueueSize sets the number of submissions allowed to wait for a worker.
func WithQueueSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.queueSize = size
		}
	}
}

// WithStoreTimeout bounds every store call made by the service.
func WithStoreTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.storeTimeout = d
		}
	}
}

// WithLogger sets a custom logger for the service.
func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithClock sets the time source used to stamp submissions.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// New constructs a Service. Without WithStore it keeps scores in memory.
func New(opts ...Option) *Service {
	s := &Service{
		evaluator:    evaluation.New(),
		workerCount:  runtime.NumCPU(),
		queueSize:    defaultQueueSize,
		storeTimeout: defaultStoreTimeout,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.store == nil {
		s.store = repository.NewTreapStore()
	}
	if s.logger == nil {
		s.logger = logger.Default().Named("service")
	}
	return s
}

// Start creates the queue and starts the worker pool. Workers outlive ctx
// and stop on Stop.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}
	if s.stopped {
		return ErrNotStarted
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.cancel = cancel
	s.queue = queue.NewInMemoryQueue(queue.WithCapacity(s.queueSize))
	s.pool = worker.NewPool(s.workerCount, s.queue, s)
	s.pool.Start(runCtx)

	if n, err := s.store.Count(ctx); err == nil {
		metrics.UpdateTotalParticipants(n)
	}
	if frozen, err := s.store.IsFrozen(ctx); err == nil {
		metrics.UpdateFrozen(frozen)
	}

	s.started = true
	s.logger.Info(ctx, "competition service started",
		logger.Int("workers", s.pool.Size()),
		logger.Int("queueSize", s.queueSize),
		logger.Duration("storeTimeout", s.storeTimeout),
	)
	return nil
}

// Stop drains queued submissions, stops the workers and closes the store.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return
	}
	ctx := context.Background()
	s.logger.Info(ctx, "stopping competition service...")

	if s.pool != nil {
		sctx, cancel := context.WithTimeout(ctx, stopTimeout)
		if err := s.pool.Shutdown(sctx); err != nil {
			s.logger.Warn(ctx, "worker pool did not drain", logger.Error(err))
		}
		cancel()
	}
	if s.cancel != nil {
		s.cancel()
	}
	if err := s.store.Close(); err != nil {
		s.logger.Error(ctx, "error closing store", logger.Error(err))
	}

	s.started = false
	s.stopped = true
	s.logger.Info(ctx, "competition service stopped")
}

// CheckFileName rejects uploads whose name is not a .csv file. An empty
// name is accepted for raw uploads.
func CheckFileName(name string) error {
	if name == "" || strings.EqualFold(filepath.Ext(name), ".csv") {
		return nil
	}
	return fmt.Errorf("%w: %q", ErrUnsupportedFile, name)
}

// Evaluate scores candidate against the current reference without
// recording anything.
func (s *Service) Evaluate(ctx context.Context, candidate []byte) (evaluation.Result, error) {
	if s.reference == nil {
		return evaluation.Result{}, ErrNoReference
	}
	ref, err := s.reference.Load(ctx)
	if err != nil {
		metrics.RecordErrorByComponent("service", "reference")
		return evaluation.Result{}, fmt.Errorf("%w: %w", ErrNoReference, err)
	}

	start := time.Now()
	res, err := s.evaluator.Evaluate(ref, candidate)
	outcome := outcomeScored
	if err != nil {
		outcome = evaluation.KindOf(err).String()
	}
	metrics.RecordEvaluation(outcome, float64(time.Since(start).Milliseconds()))
	if evaluation.KindOf(err) == evaluation.KindInternalError {
		s.logger.Error(ctx, "evaluation failed unexpectedly", logger.Error(err))
	}
	return res, err
}

// RecordAndRank records score for the participant and returns the
// resulting standing. Retrying with the same submissionID is safe: the
// store reports the existing record as a duplicate.
func (s *Service) RecordAndRank(ctx context.Context, participantID, submissionID, fileName string, score float64) (types.Standing, error) {
	ctx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()

	rec, err := s.store.RecordSubmission(ctx, model.Submission{
		ID:            submissionID,
		ParticipantID: participantID,
		FileName:      fileName,
		Score:         score,
		TS:            s.now().UTC(),
	})
	switch {
	case errors.Is(err, repository.ErrCompetitionFrozen):
		metrics.RecordSubmission(resultFrozen)
		return types.Standing{}, err
	case err != nil:
		metrics.RecordSubmission(resultError)
		return types.Standing{}, err
	case rec.Duplicate:
		metrics.RecordSubmission(resultDuplicate)
	default:
		metrics.RecordSubmission(resultAccepted)
		if rec.Improved {
			metrics.RecordBestImprovement()
		}
	}

	entry, err := s.store.Rank(ctx, rec.ParticipantID)
	if err != nil {
		return types.Standing{}, err
	}
	return types.Standing{
		ParticipantID:   rec.ParticipantID,
		BestScore:       rec.BestScore,
		Rank:            entry.Rank,
		SubmissionCount: rec.SubmissionCount,
		Improved:        rec.Improved,
		Duplicate:       rec.Duplicate,
	}, nil
}

// Process evaluates and records one upload. It implements worker.Processor.
func (s *Service) Process(ctx context.Context, u model.Upload) (model.Outcome, error) { //nolint:gocritic // hugeParam: Upload is a value type
	res, err := s.Evaluate(ctx, u.Content)
	if err != nil {
		return model.Outcome{}, err
	}
	st, err := s.RecordAndRank(ctx, u.ParticipantID, u.SubmissionID, u.FileName, res.Score)
	if err != nil {
		return model.Outcome{}, err
	}
	s.logger.Debug(ctx, "submission scored",
		logger.String("submission_id", u.SubmissionID),
		logger.String("participant_id", u.ParticipantID),
		logger.Float64("score", res.Score),
		logger.Int("rank", st.Rank),
	)
	return model.Outcome{
		SubmissionID:    u.SubmissionID,
		ParticipantID:   st.ParticipantID,
		Score:           res.Score,
		BestScore:       st.BestScore,
		Rank:            st.Rank,
		SubmissionCount: st.SubmissionCount,
		Improved:        st.Improved,
		Duplicate:       st.Duplicate,
	}, nil
}

// Submit queues an upload and waits for a worker to score and record it.
// A missing SubmissionID is generated. A full queue returns ErrBackpressure
// without waiting. Empty content is left to the evaluator, which rejects it
// as a parse error.
func (s *Service) Submit(ctx context.Context, u model.Upload) (model.Outcome, error) { //nolint:gocritic // hugeParam: Upload is a value type
	if strings.TrimSpace(u.ParticipantID) == "" {
		return model.Outcome{}, ErrInvalidUpload
	}
	if err := CheckFileName(u.FileName); err != nil {
		return model.Outcome{}, err
	}
	if u.SubmissionID == "" {
		u.SubmissionID = uuid.NewString()
	}
	if u.ReceivedAt.IsZero() {
		u.ReceivedAt = s.now()
	}

	s.mu.RLock()
	q, started := s.queue, s.started
	s.mu.RUnlock()
	if !started {
		return model.Outcome{}, ErrNotStarted
	}

	job := queue.NewJob(ctx, u)
	switch err := q.Enqueue(ctx, job); {
	case errors.Is(err, queue.ErrFull):
		return model.Outcome{}, ErrBackpressure
	case errors.Is(err, queue.ErrClosed):
		return model.Outcome{}, ErrNotStarted
	case err != nil:
		return model.Outcome{}, err
	}
	metrics.UpdateQueueSize(q.Len(ctx))

	select {
	case r := <-job.Reply:
		return r.Outcome, r.Err
	case <-ctx.Done():
		return model.Outcome{}, ctx.Err()
	}
}

// Leaderboard returns the best limit participants.
func (s *Service) Leaderboard(ctx context.Context, limit int) ([]types.Entry, error) {
	ctx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()
	return s.store.TopN(ctx, limit)
}

// Rank returns the standing of one participant.
func (s *Service) Rank(ctx context.Context, participantID string) (types.Entry, error) {
	ctx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()
	return s.store.Rank(ctx, participantID)
}

// History returns up to limit recorded submissions, newest first.
func (s *Service) History(ctx context.Context, participantID string, limit int) ([]types.HistoryEntry, error) {
	ctx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()

	subs, err := s.store.Submissions(ctx, participantID, limit)
	if err != nil {
		return nil, err
	}
	out := make([]types.HistoryEntry, len(subs))
	for i, sub := range subs {
		out[i] = types.HistoryEntry{
			SubmissionID: sub.ID,
			Score:        sub.Score,
			FileName:     sub.FileName,
			SubmittedAt:  sub.TS,
		}
	}
	return out, nil
}

// SetFrozen opens or closes the competition for new scores.
func (s *Service) SetFrozen(ctx context.Context, frozen bool) error {
	ctx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()
	if err := s.store.SetFrozen(ctx, frozen); err != nil {
		return err
	}
	s.logger.Info(ctx, "competition freeze changed", logger.Bool("frozen", frozen))
	return nil
}

// IsFrozen reports whether new scores are rejected.
func (s *Service) IsFrozen(ctx context.Context) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()
	return s.store.IsFrozen(ctx)
}

// GetStats returns service statistics for monitoring.
func (s *Service) GetStats(ctx context.Context) map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := map[string]any{
		"started":     s.started,
		"workerCount": s.workerCount,
		"queueSize":   s.queueSize,
	}

	if s.started {
		queueLen := s.queue.Len(ctx)
		stats["queueLength"] = queueLen
		metrics.UpdateQueueSize(queueLen)
	}

	sctx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()
	if n, err := s.store.Count(sctx); err == nil {
		stats["totalParticipants"] = n
		metrics.UpdateTotalParticipants(n)
	}
	if frozen, err := s.store.IsFrozen(sctx); err == nil {
		stats["frozen"] = frozen
	}
	return stats
}
