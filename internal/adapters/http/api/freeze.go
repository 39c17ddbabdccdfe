package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/okian/datacup/pkg/logger"
)

// FreezeDependencies defines the interface for the competition freeze flag.
type FreezeDependencies interface {
	SetFrozen(ctx context.Context, frozen bool) error
	IsFrozen(ctx context.Context) (bool, error)
}

// FreezeHandler handles reads and toggles of the freeze flag.
type FreezeHandler struct {
	deps       FreezeDependencies
	validate   *validator.Validate
	adminToken string
	logger     logger.Logger
}

// NewFreezeHandler creates a new freeze handler. An empty token leaves the
// toggle open.
func NewFreezeHandler(deps FreezeDependencies, v *validator.Validate, adminToken string, l logger.Logger) *FreezeHandler {
	return &FreezeHandler{deps: deps, validate: v, adminToken: adminToken, logger: l}
}

type freezeRequest struct {
	Frozen *bool `json:"frozen" validate:"required"`
}

type freezeResponse struct {
	Frozen bool `json:"frozen"`
}

// HandleGetFreeze handles GET /competition/freeze requests.
func (h *FreezeHandler) HandleGetFreeze(w http.ResponseWriter, r *http.Request) {
	const op = "api.get_freeze"
	frozen, err := h.deps.IsFrozen(r.Context())
	if err != nil {
		writeFailure(w, Wrap(op, err))
		return
	}
	writeJSON(w, http.StatusOK, freezeResponse{Frozen: frozen})
}

// HandlePutFreeze handles PUT /competition/freeze requests.
func (h *FreezeHandler) HandlePutFreeze(w http.ResponseWriter, r *http.Request) {
	const op = "api.put_freeze"
	if !h.authorized(r) {
		writeFailure(w, NewKind(op, ErrUnauthorized))
		return
	}
	var req freezeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeFailure(w, WrapKind(op, ErrBadRequest, err))
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeFailure(w, WrapKind(op, ErrBadRequest, err))
		return
	}
	if err := h.deps.SetFrozen(r.Context(), *req.Frozen); err != nil {
		writeFailure(w, Wrap(op, err))
		return
	}
	h.logger.Info(r.Context(), "freeze toggled over http", logger.Bool("frozen", *req.Frozen))
	writeJSON(w, http.StatusOK, freezeResponse{Frozen: *req.Frozen})
}

func (h *FreezeHandler) authorized(r *http.Request) bool {
	if h.adminToken == "" {
		return true
	}
	token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	return ok && subtle.ConstantTimeCompare([]byte(token), []byte(h.adminToken)) == 1
}
