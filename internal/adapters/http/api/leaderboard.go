package api

import (
	"context"
	"encoding/csv"
	"net/http"
	"strconv"

	"github.com/okian/datacup/pkg/logger"
)

// LeaderboardDependencies defines the interface for leaderboard operations.
type LeaderboardDependencies interface {
	Leaderboard(ctx context.Context, limit int) ([]Entry, error)
}

// LeaderboardHandler handles leaderboard requests.
type LeaderboardHandler struct {
	deps         LeaderboardDependencies
	defaultLimit int
	maxLimit     int
	logger       logger.Logger
}

// NewLeaderboardHandler creates a new leaderboard handler.
func NewLeaderboardHandler(deps LeaderboardDependencies, defaultLimit, maxLimit int, l logger.Logger) *LeaderboardHandler {
	return &LeaderboardHandler{
		deps:         deps,
		defaultLimit: defaultLimit,
		maxLimit:     maxLimit,
		logger:       l,
	}
}

// HandleGetLeaderboard handles GET /leaderboard?limit=N requests.
func (h *LeaderboardHandler) HandleGetLeaderboard(w http.ResponseWriter, r *http.Request) {
	const op = "api.get_leaderboard"
	n, err := queryLimit(r, h.defaultLimit)
	if err != nil {
		writeFailure(w, NewKind(op, ErrBadRequest))
		return
	}
	if n > h.maxLimit {
		writeError(w, http.StatusBadRequest, "limit_exceeded", "limit exceeds the maximum")
		return
	}
	entries, err := h.deps.Leaderboard(r.Context(), n)
	if err != nil {
		writeFailure(w, Wrap(op, err))
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

// HandleExport handles GET /leaderboard/export requests with the whole
// leaderboard as CSV.
func (h *LeaderboardHandler) HandleExport(w http.ResponseWriter, r *http.Request) {
	const op = "api.export_leaderboard"
	entries, err := h.deps.Leaderboard(r.Context(), exportLimit)
	if err != nil {
		writeFailure(w, Wrap(op, err))
		return
	}

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="leaderboard.csv"`)
	// Headers are gone once the first row is written, so a failed export can
	// only be logged and cut short.
	cw := csv.NewWriter(w)
	rows := 0
	err = cw.Write([]string{"rank", "participant_id", "best_score", "submission_count"})
	for _, e := range entries {
		if err != nil {
			break
		}
		if err = cw.Write([]string{
			strconv.Itoa(e.Rank),
			e.ParticipantID,
			strconv.FormatFloat(e.BestScore, 'f', -1, 64),
			strconv.FormatInt(e.SubmissionCount, 10),
		}); err == nil {
			rows++
		}
	}
	cw.Flush()
	if err == nil {
		err = cw.Error()
	}
	if err != nil {
		h.logger.Warn(r.Context(), "leaderboard export truncated",
			logger.Int("rows", rows),
			logger.Int("total", len(entries)),
			logger.Error(err))
	}
}
