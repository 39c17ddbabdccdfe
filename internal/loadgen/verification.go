package loadgen

import (
	"cmp"
	"context"
	"fmt"
	"math"
	"slices"

	"github.com/okian/datacup/pkg/logger"
)

// expectedBoard folds accepted submissions into best score and count per
// participant, ordered by best score then id, with strict-less ranks.
func expectedBoard(accepted []Submission) []Entry {
	byID := make(map[string]*Entry)
	for _, s := range accepted {
		e, ok := byID[s.ParticipantID]
		if !ok {
			e = &Entry{ParticipantID: s.ParticipantID, BestScore: math.Inf(1)}
			byID[s.ParticipantID] = e
		}
		e.SubmissionCount++
		e.BestScore = min(e.BestScore, s.Expected)
	}

	board := make([]Entry, 0, len(byID))
	for _, e := range byID {
		board = append(board, *e)
	}
	slices.SortFunc(board, func(a, b Entry) int {
		if c := cmp.Compare(a.BestScore, b.BestScore); c != 0 {
			return c
		}
		return cmp.Compare(a.ParticipantID, b.ParticipantID)
	})
	for i := range board {
		board[i].Rank = i + 1
		if i > 0 && board[i].BestScore == board[i-1].BestScore {
			board[i].Rank = board[i-1].Rank
		}
	}
	return board
}

// verify compares the server's leaderboard and ranks with the expectation.
// Only participants created by this run are compared, so a server with
// earlier data can still be checked.
func verify(ctx context.Context, client *Client, cfg *Config, accepted []Submission) error {
	want := expectedBoard(accepted)
	if len(want) == 0 {
		return fmt.Errorf("%w: no submission was accepted", ErrVerification)
	}

	got, err := client.Leaderboard(ctx, cfg.TopN)
	if err != nil {
		return fmt.Errorf("leaderboard retrieval failed: %w", err)
	}
	if err := checkOrdering(got); err != nil {
		return err
	}

	wantByID := make(map[string]Entry, len(want))
	for _, e := range want {
		wantByID[e.ParticipantID] = e
	}
	for _, e := range got {
		w, ok := wantByID[e.ParticipantID]
		if !ok {
			continue
		}
		if err := sameRecord(e, w); err != nil {
			return err
		}
	}

	// Spot check the best and the worst participant through /rank.
	for _, w := range []Entry{want[0], want[len(want)-1]} {
		e, err := client.Rank(ctx, w.ParticipantID)
		if err != nil {
			return fmt.Errorf("rank retrieval failed: %w", err)
		}
		if err := sameRecord(e, w); err != nil {
			return err
		}
		if cfg.Verbose {
			logger.Get().Info(ctx, "rank verified",
				logger.String("participant_id", e.ParticipantID),
				logger.Int("rank", e.Rank),
				logger.Float64("best_score", e.BestScore))
		}
	}
	return nil
}

// checkOrdering checks the leaderboard is sorted and its ranks count
// strictly better scores.
func checkOrdering(board []Entry) error {
	for i, e := range board {
		if i == 0 {
			if e.Rank != 1 {
				return fmt.Errorf("%w: leaderboard starts at rank %d", ErrVerification, e.Rank)
			}
			continue
		}
		prev := board[i-1]
		switch {
		case e.BestScore < prev.BestScore,
			e.BestScore == prev.BestScore && e.ParticipantID < prev.ParticipantID:
			return fmt.Errorf("%w: leaderboard not sorted at position %d", ErrVerification, i)
		case e.BestScore == prev.BestScore && e.Rank != prev.Rank:
			return fmt.Errorf("%w: tied scores ranked %d and %d", ErrVerification, prev.Rank, e.Rank)
		case e.BestScore > prev.BestScore && e.Rank != i+1:
			return fmt.Errorf("%w: position %d has rank %d", ErrVerification, i, e.Rank)
		}
	}
	return nil
}

func sameRecord(got, want Entry) error {
	if math.Abs(got.BestScore-want.BestScore) > scoreTolerance {
		return fmt.Errorf("%w: %s best score %.9f, expected %.9f",
			ErrVerification, got.ParticipantID, got.BestScore, want.BestScore)
	}
	if got.SubmissionCount != want.SubmissionCount {
		return fmt.Errorf("%w: %s has %d submissions, expected %d",
			ErrVerification, got.ParticipantID, got.SubmissionCount, want.SubmissionCount)
	}
	return nil
}
