// Package repository defines the ranking store interface and errors.
//
// A store keeps, per participant, the best (lowest) score ever recorded and
// a submission counter, plus the competition freeze flag. Recording a
// submission checks the flag and writes in one atomic unit.
package repository

import (
	"context"
	"fmt"

	"github.com/okian/datacup/internal/domain/model"
	"github.com/okian/datacup/internal/domain/types"
)

// Store drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// Store provides read/write access to the ranking state.
type Store interface {
	// RecordSubmission appends a scored submission and folds it into the
	// participant's record: count+1 and best=min(best, score). It fails with
	// ErrCompetitionFrozen while frozen. A submission id that was already
	// recorded changes nothing and returns the current record marked Duplicate.
	RecordSubmission(ctx context.Context, sub model.Submission) (model.ScoreRecord, error)

	// Rank returns 1 + the number of participants with a strictly lower best.
	// Returns ErrNotFound if the participant has no score.
	Rank(ctx context.Context, participantID string) (types.Entry, error)

	// TopN returns up to n entries ordered by best score asc, then id asc.
	TopN(ctx context.Context, n int) ([]types.Entry, error)

	// Submissions returns a participant's most recent submissions first.
	Submissions(ctx context.Context, participantID string, limit int) ([]model.Submission, error)

	SetFrozen(ctx context.Context, frozen bool) error
	IsFrozen(ctx context.Context) (bool, error)

	// Count returns the number of participants with a recorded score.
	Count(ctx context.Context) (int, error)

	Close() error
}

// Open returns the store for driver. dsn is a file path for sqlite, a
// connection string for postgres and ignored for memory.
func Open(ctx context.Context, driver, dsn string, opts ...Option) (Store, error) {
	switch driver {
	case DriverMemory:
		return NewTreapStore(opts...), nil
	case DriverSQLite:
		return OpenSQLite(ctx, dsn, opts...)
	case DriverPostgres:
		return OpenPostgres(ctx, dsn, opts...)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, driver)
	}
}

func validateSubmission(sub model.Submission) error {
	if sub.ID == "" || sub.ParticipantID == "" {
		return ErrInvalidSubmission
	}
	if !model.ValidScore(sub.Score) {
		return fmt.Errorf("%w: %v", ErrInvalidScore, sub.Score)
	}
	return nil
}
