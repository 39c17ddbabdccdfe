package repository

// schemaVersion is the target schema version for this build.
const schemaVersion = 2

// configKeyFrozen is the competition_config row holding the freeze flag.
const configKeyFrozen = "competition_frozen"

// schemaDDL is portable between SQLite and Postgres. Timestamps are stored
// as fixed-width UTC text so they sort lexically.
var schemaDDL = `
CREATE TABLE IF NOT EXISTS schema_version (version INTEGER NOT NULL);

CREATE TABLE IF NOT EXISTS score_record (
	participant_id      TEXT PRIMARY KEY,
	best_score          DOUBLE PRECISION NOT NULL,
	best_submission_id  TEXT NOT NULL,
	submission_count    BIGINT NOT NULL,
	updated_at          TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS score_record_by_best ON score_record(best_score, participant_id);

CREATE TABLE IF NOT EXISTS submission (
	participant_id  TEXT NOT NULL,
	id              TEXT NOT NULL,
	score           DOUBLE PRECISION NOT NULL,
	file_name       TEXT NOT NULL DEFAULT '',
	submitted_at    TEXT NOT NULL,
	PRIMARY KEY (participant_id, id)
);
CREATE INDEX IF NOT EXISTS submission_by_participant ON submission(participant_id, submitted_at);

CREATE TABLE IF NOT EXISTS competition_config (
	key    TEXT PRIMARY KEY,
	value  TEXT NOT NULL
);
`

const (
	qSeedFrozen = `INSERT INTO competition_config(key, value) VALUES(?, 'false')
		ON CONFLICT(key) DO NOTHING`

	qReadFrozen = `SELECT value FROM competition_config WHERE key = ?`

	qWriteFrozen = `INSERT INTO competition_config(key, value) VALUES(?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`

	qInsertSubmission = `INSERT INTO submission(id, participant_id, score, file_name, submitted_at)
		VALUES(?, ?, ?, ?, ?)
		ON CONFLICT(participant_id, id) DO NOTHING`

	// One statement so concurrent submissions from a participant serialise
	// on the row and never lose an increment.
	qUpsertRecord = `INSERT INTO score_record(participant_id, best_score, best_submission_id, submission_count, updated_at)
		VALUES(?, ?, ?, 1, ?)
		ON CONFLICT(participant_id) DO UPDATE SET
			submission_count   = score_record.submission_count + 1,
			best_submission_id = CASE WHEN excluded.best_score < score_record.best_score
				THEN excluded.best_submission_id ELSE score_record.best_submission_id END,
			updated_at         = CASE WHEN excluded.best_score < score_record.best_score
				THEN excluded.updated_at ELSE score_record.updated_at END,
			best_score         = CASE WHEN excluded.best_score < score_record.best_score
				THEN excluded.best_score ELSE score_record.best_score END
		RETURNING best_score, best_submission_id, submission_count`

	qRecord = `SELECT best_score, submission_count FROM score_record WHERE participant_id = ?`

	qRank = `SELECT r.best_score, r.submission_count,
			(SELECT COUNT(*) FROM score_record o WHERE o.best_score < r.best_score) + 1
		FROM score_record r
		WHERE r.participant_id = ?`

	// RANK() is exactly 1 + the number of strictly lower scores, and the
	// window is evaluated over the whole table before LIMIT applies.
	qTopN = `SELECT participant_id, best_score, submission_count,
			RANK() OVER (ORDER BY best_score ASC)
		FROM score_record
		ORDER BY best_score ASC, participant_id ASC
		LIMIT ?`

	qSubmissions = `SELECT id, participant_id, score, file_name, submitted_at
		FROM submission
		WHERE participant_id = ?
		ORDER BY submitted_at DESC, id DESC
		LIMIT ?`

	qCount = `SELECT COUNT(*) FROM score_record`
)
