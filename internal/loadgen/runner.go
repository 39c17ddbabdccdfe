package loadgen

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/okian/datacup/internal/adapters/reference"
	"github.com/okian/datacup/pkg/logger"
)

// ErrVerification is returned when the server's state disagrees with the
// locally computed expectation.
var ErrVerification = errors.New("verification failed")

// scoreTolerance bounds the difference between a server score and the
// local one.
const scoreTolerance = 1e-9

// Run generates, submits and verifies one load run.
func Run(ctx context.Context, cfg *Config) (*Stats, error) {
	log := logger.Get().Named("loadgen")
	stats := &Stats{StartTime: time.Now()}

	log.Info(ctx, "starting datacup load run",
		logger.String("baseURL", cfg.BaseURL),
		logger.Int("participants", cfg.Participants),
		logger.Int("submissions", cfg.Submissions),
		logger.Int("workers", cfg.Workers))

	client := NewClient(cfg.BaseURL, cfg.Timeout)
	if err := client.Health(ctx); err != nil {
		return stats, fmt.Errorf("service health check failed: %w", err)
	}

	ref, err := reference.NewLoader(cfg.ReferencePath, reference.WithDelimiter(cfg.Delimiter)).Load(ctx)
	if err != nil {
		return stats, err
	}
	subs, err := NewGenerator(ref, cfg.IdentifierColumn, cfg.Delimiter, cfg.Seed).Generate(cfg.Participants, cfg.Submissions)
	if err != nil {
		return stats, err
	}
	stats.Generated = int64(len(subs))

	accepted, err := submitAll(ctx, client, cfg, subs, stats)
	if err != nil {
		return stats, err
	}
	if err := verify(ctx, client, cfg, accepted); err != nil {
		return stats, err
	}

	stats.Duration = time.Since(stats.StartTime)
	logStats(ctx, log, stats)
	if n := atomic.LoadInt64(&stats.Mismatched); n > 0 {
		return stats, fmt.Errorf("%w: %d scores differ from the local evaluation", ErrVerification, n)
	}
	return stats, nil
}

// submitAll uploads every submission with at most cfg.Workers in flight,
// then resends cfg.Retries of them, and returns the accepted ones.
func submitAll(ctx context.Context, client *Client, cfg *Config, subs []Submission, stats *Stats) ([]Submission, error) {
	var (
		mu       sync.Mutex
		accepted = make([]Submission, 0, len(subs))
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(cfg.Workers, 1))
	for _, s := range subs {
		g.Go(func() error {
			result, out, err := client.Submit(gctx, s)
			count(stats, result)
			switch result {
			case resultAccepted:
				if diff := out.Score - s.Expected; diff > scoreTolerance || diff < -scoreTolerance {
					atomic.AddInt64(&stats.Mismatched, 1)
				}
				mu.Lock()
				accepted = append(accepted, s)
				mu.Unlock()
			case resultFailed:
				if gctx.Err() != nil {
					return gctx.Err()
				}
				logger.Get().Warn(gctx, "submission failed",
					logger.String("submission_id", s.ID), logger.Error(err))
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if cfg.Retries > 0 && len(accepted) > 0 {
		rng := rand.New(rand.NewPCG(cfg.Seed, 1))
		for range cfg.Retries {
			s := accepted[rng.IntN(len(accepted))]
			result, _, err := client.Submit(ctx, s)
			count(stats, result)
			if result != resultDuplicate {
				return nil, fmt.Errorf("%w: resubmitting %s gave %s: %v", ErrVerification, s.ID, result, err)
			}
		}
	}
	return accepted, nil
}

func count(stats *Stats, result string) {
	switch result {
	case resultAccepted:
		atomic.AddInt64(&stats.Accepted, 1)
	case resultDuplicate:
		atomic.AddInt64(&stats.Duplicates, 1)
	case resultBackpressure:
		atomic.AddInt64(&stats.Backpressure, 1)
	case resultRejected:
		atomic.AddInt64(&stats.Rejected, 1)
	default:
		atomic.AddInt64(&stats.Failed, 1)
	}
}

func logStats(ctx context.Context, log logger.Logger, stats *Stats) {
	var perSecond float64
	if stats.Duration > 0 {
		perSecond = float64(stats.Accepted) / stats.Duration.Seconds()
	}
	log.Info(ctx, "final statistics",
		logger.Int64("generated", stats.Generated),
		logger.Int64("accepted", stats.Accepted),
		logger.Int64("duplicates", stats.Duplicates),
		logger.Int64("backpressure", stats.Backpressure),
		logger.Int64("rejected", stats.Rejected),
		logger.Int64("failed", stats.Failed),
		logger.Int64("mismatched", stats.Mismatched),
		logger.Duration("duration", stats.Duration),
		logger.Float64("submissionsPerSecond", perSecond))
}
