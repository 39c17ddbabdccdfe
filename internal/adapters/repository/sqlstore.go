package repository

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/lib/pq"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/okian/datacup/internal/domain/model"
	"github.com/okian/datacup/internal/domain/types"
	"github.com/okian/datacup/pkg/logger"
	"github.com/okian/datacup/pkg/metrics"
)

// timeLayout is fixed width so text comparison orders by time.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string {
	if t.IsZero() {
		t = time.Now()
	}
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		t, _ = time.Parse(time.RFC3339Nano, s)
	}
	return t
}

// dialect captures the few places SQLite and Postgres differ.
type dialect struct {
	name string
	// lockFrozen is appended to the freeze read inside a recording
	// transaction. On Postgres it takes a share lock so a concurrent toggle
	// waits for in-flight submissions and vice versa. SQLite needs nothing:
	// transactions begin IMMEDIATE on a single connection.
	lockFrozen string
	numbered   bool
}

var (
	dialectSQLite   = dialect{name: DriverSQLite}
	dialectPostgres = dialect{name: DriverPostgres, lockFrozen: " FOR SHARE", numbered: true}
)

// rebind rewrites ? placeholders as $1, $2, ... for Postgres.
func (d dialect) rebind(q string) string {
	if !d.numbered {
		return q
	}
	var b strings.Builder
	b.Grow(len(q) + 8)
	n := 0
	for _, r := range q {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// SQLStore implements Store over database/sql.
type SQLStore struct {
	db      *sql.DB
	dialect dialect
	opts    options
	log     logger.Logger
}

// OpenSQLite opens or creates a SQLite database at path and migrates it.
// Creates the parent directory if it does not exist.
func OpenSQLite(ctx context.Context, path string, opts ...Option) (*SQLStore, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if path == "" {
		return nil, fmt.Errorf("open sqlite: empty path")
	}
	if !strings.HasPrefix(path, "file:") {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create store dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", sqliteDSN(path, o.busyTimeout))
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One connection serialises writers in-process; busy_timeout covers
	// other processes sharing the file.
	db.SetMaxOpenConns(1)
	return newSQLStore(ctx, db, dialectSQLite, o)
}

// OpenPostgres connects to Postgres using a lib/pq connection string.
func OpenPostgres(ctx context.Context, dsn string, opts ...Option) (*SQLStore, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(o.maxOpenConns)
	db.SetMaxIdleConns(o.maxOpenConns)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return newSQLStore(ctx, db, dialectPostgres, o)
}

func newSQLStore(ctx context.Context, db *sql.DB, d dialect, o options) (*SQLStore, error) {
	log := o.log
	if log == nil {
		log = logger.Default().Named("store")
	}
	s := &SQLStore{db: db, dialect: d, opts: o, log: log.With(logger.String("driver", d.name))}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, s.classify("ping", err)
	}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	s.log.Info(ctx, "ranking store ready", logger.Int("schema_version", schemaVersion))
	return s, nil
}

// sqliteDSN turns a plain path into a DSN with the pragmas the store relies
// on. DSNs already carrying a scheme or query are used as given.
func sqliteDSN(path string, busy time.Duration) string {
	if strings.HasPrefix(path, "file:") || strings.Contains(path, "?") {
		return path
	}
	v := url.Values{}
	v.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", busy.Milliseconds()))
	v.Add("_pragma", "journal_mode(WAL)")
	v.Add("_pragma", "synchronous(NORMAL)")
	v.Set("_txlock", "immediate")
	return "file:" + path + "?" + v.Encode()
}

func (s *SQLStore) q(query string) string { return s.dialect.rebind(query) }

func (s *SQLStore) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.opts.opTimeout)
}

func (s *SQLStore) migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schemaDDL); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}

	var v int
	err := s.db.QueryRowContext(ctx, "SELECT version FROM schema_version LIMIT 1").Scan(&v)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		if _, err := s.db.ExecContext(ctx, s.q("INSERT INTO schema_version(version) VALUES(?)"), schemaVersion); err != nil {
			return fmt.Errorf("set schema version: %w", err)
		}
	case err != nil:
		return fmt.Errorf("read schema version: %w", err)
	case v != schemaVersion:
		return fmt.Errorf("%w: %d", ErrSchemaVersion, v)
	}

	if _, err := s.db.ExecContext(ctx, s.q(qSeedFrozen), configKeyFrozen); err != nil {
		return fmt.Errorf("seed competition config: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

// RecordSubmission runs the freeze check, the submission append and the
// record upsert in one transaction.
func (s *SQLStore) RecordSubmission(ctx context.Context, sub model.Submission) (rec model.ScoreRecord, err error) {
	const op = "record"
	defer s.observe(op, time.Now())

	if err := validateSubmission(sub); err != nil {
		return model.ScoreRecord{}, err
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return model.ScoreRecord{}, s.classify(op, err)
	}
	defer func() { _ = tx.Rollback() }()

	var frozen string
	if err := tx.QueryRowContext(ctx, s.q(qReadFrozen+s.dialect.lockFrozen), configKeyFrozen).Scan(&frozen); err != nil {
		return model.ScoreRecord{}, s.classify(op, err)
	}
	if isTrue(frozen) {
		return model.ScoreRecord{}, ErrCompetitionFrozen
	}

	now := formatTime(sub.TS)
	res, err := tx.ExecContext(ctx, s.q(qInsertSubmission), sub.ID, sub.ParticipantID, sub.Score, sub.FileName, now)
	if err != nil {
		return model.ScoreRecord{}, s.classify(op, err)
	}
	inserted, err := res.RowsAffected()
	if err != nil {
		return model.ScoreRecord{}, s.classify(op, err)
	}

	if inserted == 0 {
		rec, err = s.duplicate(ctx, tx, sub.ParticipantID)
		if err != nil {
			return model.ScoreRecord{}, s.classify(op, err)
		}
	} else {
		var bestID string
		err = tx.QueryRowContext(ctx, s.q(qUpsertRecord), sub.ParticipantID, sub.Score, sub.ID, now).
			Scan(&rec.BestScore, &bestID, &rec.SubmissionCount)
		if err != nil {
			return model.ScoreRecord{}, s.classify(op, err)
		}
		rec.ParticipantID = sub.ParticipantID
		rec.Improved = bestID == sub.ID
	}

	if err := tx.Commit(); err != nil {
		return model.ScoreRecord{}, s.classify(op, err)
	}
	return rec, nil
}

// duplicate reports the current record of a participant resending an id
// it already used.
func (s *SQLStore) duplicate(ctx context.Context, tx *sql.Tx, participantID string) (model.ScoreRecord, error) {
	rec := model.ScoreRecord{ParticipantID: participantID, Duplicate: true}
	err := tx.QueryRowContext(ctx, s.q(qRecord), participantID).Scan(&rec.BestScore, &rec.SubmissionCount)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return model.ScoreRecord{}, err
	}
	return rec, nil
}

// Rank computes the rank in a single statement.
func (s *SQLStore) Rank(ctx context.Context, participantID string) (types.Entry, error) {
	const op = "rank"
	defer s.observe(op, time.Now())

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	e := types.Entry{ParticipantID: participantID}
	err := s.db.QueryRowContext(ctx, s.q(qRank), participantID).Scan(&e.BestScore, &e.SubmissionCount, &e.Rank)
	if errors.Is(err, sql.ErrNoRows) {
		return types.Entry{}, ErrNotFound
	}
	if err != nil {
		return types.Entry{}, s.classify(op, err)
	}
	return e, nil
}

// TopN returns the top N entries ordered by score asc.
func (s *SQLStore) TopN(ctx context.Context, n int) ([]types.Entry, error) {
	const op = "top_n"
	defer s.observe(op, time.Now())

	if n < 1 {
		return nil, ErrInvalidLimit
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, s.q(qTopN), n)
	if err != nil {
		return nil, s.classify(op, err)
	}
	defer rows.Close()

	out := make([]types.Entry, 0, min(n, 128))
	for rows.Next() {
		var e types.Entry
		if err := rows.Scan(&e.ParticipantID, &e.BestScore, &e.SubmissionCount, &e.Rank); err != nil {
			return nil, s.classify(op, err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, s.classify(op, err)
	}
	return out, nil
}

// Submissions returns up to limit submissions, newest first.
func (s *SQLStore) Submissions(ctx context.Context, participantID string, limit int) ([]model.Submission, error) {
	const op = "submissions"
	defer s.observe(op, time.Now())

	if limit < 1 {
		return nil, ErrInvalidLimit
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, s.q(qSubmissions), participantID, limit)
	if err != nil {
		return nil, s.classify(op, err)
	}
	defer rows.Close()

	out := []model.Submission{}
	for rows.Next() {
		var (
			sub model.Submission
			ts  string
		)
		if err := rows.Scan(&sub.ID, &sub.ParticipantID, &sub.Score, &sub.FileName, &ts); err != nil {
			return nil, s.classify(op, err)
		}
		sub.TS = parseTime(ts)
		out = append(out, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, s.classify(op, err)
	}
	return out, nil
}

// SetFrozen writes the freeze flag.
func (s *SQLStore) SetFrozen(ctx context.Context, frozen bool) error {
	const op = "set_frozen"
	defer s.observe(op, time.Now())

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if _, err := s.db.ExecContext(ctx, s.q(qWriteFrozen), configKeyFrozen, strconv.FormatBool(frozen)); err != nil {
		return s.classify(op, err)
	}
	metrics.UpdateFrozen(frozen)
	s.log.Info(ctx, "competition freeze changed", logger.Bool("frozen", frozen))
	return nil
}

// IsFrozen reads the freeze flag.
func (s *SQLStore) IsFrozen(ctx context.Context) (bool, error) {
	const op = "is_frozen"
	defer s.observe(op, time.Now())

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var v string
	err := s.db.QueryRowContext(ctx, s.q(qReadFrozen), configKeyFrozen).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, s.classify(op, err)
	}
	return isTrue(v), nil
}

// Count returns the number of scored participants.
func (s *SQLStore) Count(ctx context.Context) (int, error) {
	const op = "count"
	defer s.observe(op, time.Now())

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var n int
	if err := s.db.QueryRowContext(ctx, qCount).Scan(&n); err != nil {
		return 0, s.classify(op, err)
	}
	return n, nil
}

func (s *SQLStore) observe(op string, start time.Time) {
	metrics.RecordStoreLatency(op, float64(time.Since(start).Milliseconds()))
}

// classify maps driver errors onto the package sentinels.
func (s *SQLStore) classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if isTransient(err) {
		s.log.Warn(context.Background(), "store operation failed, retryable",
			logger.String("op", op), logger.Error(err))
		return errUnavailable(op, err)
	}
	metrics.RecordStoreError(op, "internal")
	s.log.Error(context.Background(), "store operation failed",
		logger.String("op", op), logger.Error(err))
	return fmt.Errorf("repository: %s: %w", op, err)
}

func isTransient(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) ||
		errors.Is(err, sql.ErrConnDone) || errors.Is(err, driver.ErrBadConn) {
		return true
	}

	var se *sqlite.Error
	if errors.As(err, &se) {
		switch se.Code() & 0xff {
		case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
			return true
		}
	}

	var pe *pq.Error
	if errors.As(err, &pe) {
		switch pe.Code.Class() {
		case "08", "53", "57": // connection, resources, operator intervention
			return true
		}
		switch pe.Code {
		case "40001", "40P01": // serialization failure, deadlock
			return true
		}
	}

	var ne net.Error
	return errors.As(err, &ne)
}

func isTrue(v string) bool {
	b, err := strconv.ParseBool(strings.TrimSpace(v))
	return err == nil && b
}
