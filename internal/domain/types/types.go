// Package types contains common types used across the application
package types

import "time"

// Entry represents a leaderboard entry
type Entry struct {
	Rank            int     `json:"rank"`
	ParticipantID   string  `json:"participant_id"`
	BestScore       float64 `json:"best_score"`
	SubmissionCount int64   `json:"submission_count"`
}

// Standing is a participant's position right after recording a score.
type Standing struct {
	ParticipantID   string  `json:"participant_id"`
	BestScore       float64 `json:"best_score"`
	Rank            int     `json:"rank"`
	SubmissionCount int64   `json:"submission_count"`
	Improved        bool    `json:"improved"`
	Duplicate       bool    `json:"duplicate"`
}

// HistoryEntry is one recorded submission of a participant.
type HistoryEntry struct {
	SubmissionID string    `json:"submission_id"`
	Score        float64   `json:"score"`
	FileName     string    `json:"file_name,omitempty"`
	SubmittedAt  time.Time `json:"submitted_at"`
}
