package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/okian/datacup/internal/domain/types"
)

// RankDependencies defines the interface for per-participant reads.
type RankDependencies interface {
	Rank(ctx context.Context, participantID string) (Entry, error)
	History(ctx context.Context, participantID string, limit int) ([]types.HistoryEntry, error)
}

// RankHandler handles rank and history requests.
type RankHandler struct {
	deps     RankDependencies
	maxLimit int
}

// NewRankHandler creates a new rank handler.
func NewRankHandler(deps RankDependencies, maxLimit int) *RankHandler {
	return &RankHandler{deps: deps, maxLimit: maxLimit}
}

// HandleGetRank handles GET /rank/{participant_id} requests.
func (h *RankHandler) HandleGetRank(w http.ResponseWriter, r *http.Request) {
	const op = "api.get_rank"
	id := strings.TrimSpace(r.PathValue("participant_id"))
	if id == "" {
		writeFailure(w, NewKind(op, ErrBadRequest))
		return
	}
	entry, err := h.deps.Rank(r.Context(), id)
	if err != nil {
		writeFailure(w, Wrap(op, err))
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

// HandleGetHistory handles GET /participants/{participant_id}/submissions.
func (h *RankHandler) HandleGetHistory(w http.ResponseWriter, r *http.Request) {
	const op = "api.get_history"
	id := strings.TrimSpace(r.PathValue("participant_id"))
	n, err := queryLimit(r, defaultHistoryLimit)
	if id == "" || err != nil {
		writeFailure(w, NewKind(op, ErrBadRequest))
		return
	}
	hist, err := h.deps.History(r.Context(), id, min(n, h.maxLimit))
	if err != nil {
		writeFailure(w, Wrap(op, err))
		return
	}
	writeJSON(w, http.StatusOK, hist)
}
