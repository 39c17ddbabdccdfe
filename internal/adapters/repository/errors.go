package repository

import (
	"errors"
	"fmt"

	"github.com/okian/datacup/pkg/metrics"
)

// Sentinel kinds for ranking store errors.
var (
	ErrNotFound          = errors.New("participant has no recorded score")
	ErrInvalidLimit      = errors.New("invalid leaderboard limit")
	ErrInvalidScore      = errors.New("score must be finite and non-negative")
	ErrInvalidSubmission = errors.New("submission id and participant id are required")
	ErrCompetitionFrozen = errors.New("competition is frozen")
	// ErrStoreUnavailable marks transient failures (timeouts, lost
	// connections, lock contention). It is the only error worth retrying.
	ErrStoreUnavailable = errors.New("store unavailable")
	ErrUnknownDriver    = errors.New("unknown store driver")
	ErrSchemaVersion    = errors.New("unsupported schema version")
)

// errUnavailable tags err as transient for op.
func errUnavailable(op string, err error) error {
	metrics.RecordStoreError(op, "unavailable")
	return fmt.Errorf("%w: %s: %w", ErrStoreUnavailable, op, err)
}
