// Package loadgen drives a running datacup server with concurrent
// submissions and checks the resulting leaderboard against scores computed
// locally from the same reference table.
package loadgen

import "time"

// Config holds configuration for a load run.
type Config struct {
	BaseURL          string        // base URL of the service
	ReferencePath    string        // the reference table the server scores against
	IdentifierColumn string        // row-key column name
	Delimiter        rune          // field delimiter
	Participants     int           // distinct participants
	Submissions      int           // submissions per participant
	Retries          int           // resubmissions of an already sent id, to exercise idempotency
	TopN             int           // leaderboard entries to verify
	Workers          int           // concurrent uploads
	Timeout          time.Duration // HTTP request timeout
	Seed             uint64        // noise seed; equal seeds produce equal files
	Verbose          bool
}

// Submission is one generated upload and the score it should receive.
type Submission struct {
	ID            string
	ParticipantID string
	Content       []byte
	Expected      float64
}

// Entry represents a leaderboard entry.
type Entry struct {
	Rank            int     `json:"rank"`
	ParticipantID   string  `json:"participant_id"`
	BestScore       float64 `json:"best_score"`
	SubmissionCount int64   `json:"submission_count"`
}

// Outcome is the server's answer to an accepted submission.
type Outcome struct {
	SubmissionID    string  `json:"submission_id"`
	ParticipantID   string  `json:"participant_id"`
	Score           float64 `json:"score"`
	BestScore       float64 `json:"best_score"`
	Rank            int     `json:"rank"`
	SubmissionCount int64   `json:"submission_count"`
	Improved        bool    `json:"improved"`
	Duplicate       bool    `json:"duplicate"`
}

// Stats holds run statistics.
type Stats struct {
	Generated    int64
	Accepted     int64
	Duplicates   int64
	Backpressure int64
	Rejected     int64
	Failed       int64
	Mismatched   int64
	StartTime    time.Time
	Duration     time.Duration
}
