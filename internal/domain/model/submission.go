// Package model contains domain models passed between layers.
package model

import (
	"math"
	"time"
)

// Upload is a candidate file waiting to be scored.
type Upload struct {
	SubmissionID  string    // unique id for idempotency
	ParticipantID string    // stable participant identifier supplied by the caller
	FileName      string    // client file name, informational
	Content       []byte    // raw delimited table
	ReceivedAt    time.Time // arrival time
}

// Submission is a scored upload as recorded by the ranking store.
type Submission struct {
	ID            string
	ParticipantID string
	FileName      string
	Score         float64
	TS            time.Time
}

// ScoreRecord is a participant's state after a submission was recorded.
type ScoreRecord struct {
	ParticipantID   string
	BestScore       float64
	SubmissionCount int64
	Improved        bool // the submission lowered BestScore (or set it first)
	Duplicate       bool // the submission id was already recorded; nothing changed
}

// Outcome is what a caller learns about an accepted submission.
type Outcome struct {
	SubmissionID    string
	ParticipantID   string
	Score           float64
	BestScore       float64
	Rank            int
	SubmissionCount int64
	Improved        bool
	Duplicate       bool
}

// ValidScore reports whether s can be recorded: finite and non-negative.
func ValidScore(s float64) bool {
	return !math.IsNaN(s) && !math.IsInf(s, 0) && s >= 0
}
