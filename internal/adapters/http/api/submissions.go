package api

import (
	"context"
	"errors"
	"io"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	service "github.com/okian/datacup/internal/app"
	"github.com/okian/datacup/internal/domain/evaluation"
	"github.com/okian/datacup/internal/domain/model"
	"github.com/okian/datacup/pkg/logger"
)

// Headers and form fields accepted by the upload endpoints.
const (
	headerParticipant = "X-Participant-ID"
	headerFileName    = "X-File-Name"
	headerIdempotency = "Idempotency-Key"
	fieldFile         = "file"
	fieldParticipant  = "participant_id"
	fieldSubmission   = "submission_id"
	maxFormMemory     = 8 << 20
)

// SubmissionDependencies defines the interface for scoring uploads.
type SubmissionDependencies interface {
	Submit(ctx context.Context, u model.Upload) (model.Outcome, error)
	Evaluate(ctx context.Context, candidate []byte) (evaluation.Result, error)
}

// SubmissionHandler handles submission and dry-run evaluation requests.
type SubmissionHandler struct {
	deps      SubmissionDependencies
	validate  *validator.Validate
	maxUpload int64
	logger    logger.Logger
}

// NewSubmissionHandler creates a new submission handler.
func NewSubmissionHandler(deps SubmissionDependencies, v *validator.Validate, maxUpload int64, l logger.Logger) *SubmissionHandler {
	return &SubmissionHandler{deps: deps, validate: v, maxUpload: maxUpload, logger: l}
}

// uploadRequest is the parsed form of a POST /submissions request.
type uploadRequest struct {
	ParticipantID string `validate:"required,max=256"`
	SubmissionID  string `validate:"omitempty,max=256"`
	FileName      string `validate:"omitempty,max=512"`
	Content       []byte
}

type submissionResponse struct {
	SubmissionID    string  `json:"submission_id"`
	ParticipantID   string  `json:"participant_id"`
	Score           float64 `json:"score"`
	BestScore       float64 `json:"best_score"`
	Rank            int     `json:"rank"`
	SubmissionCount int64   `json:"submission_count"`
	Improved        bool    `json:"improved"`
	Duplicate       bool    `json:"duplicate"`
}

type evaluationResponse struct {
	Score float64 `json:"score"`
	Mode  string  `json:"mode"`
	Pairs int     `json:"pairs"`
}

// HandlePostSubmission handles POST /submissions requests.
func (h *SubmissionHandler) HandlePostSubmission(w http.ResponseWriter, r *http.Request) {
	const op = "api.post_submission"
	req, err := h.readUpload(w, r)
	if err != nil {
		writeFailure(w, WrapKind(op, ErrBadRequest, err))
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeFailure(w, WrapKind(op, ErrBadRequest, err))
		return
	}

	out, err := h.deps.Submit(r.Context(), model.Upload{
		SubmissionID:  req.SubmissionID,
		ParticipantID: strings.TrimSpace(req.ParticipantID),
		FileName:      req.FileName,
		Content:       req.Content,
		ReceivedAt:    time.Now().UTC(),
	})
	if err != nil {
		h.logger.Debug(r.Context(), "submission refused",
			logger.String("participant_id", req.ParticipantID),
			logger.Error(err))
		writeFailure(w, Wrap(op, err))
		return
	}
	writeJSON(w, http.StatusOK, submissionResponse{
		SubmissionID:    out.SubmissionID,
		ParticipantID:   out.ParticipantID,
		Score:           out.Score,
		BestScore:       out.BestScore,
		Rank:            out.Rank,
		SubmissionCount: out.SubmissionCount,
		Improved:        out.Improved,
		Duplicate:       out.Duplicate,
	})
}

// HandleEvaluate handles POST /evaluate requests: score only, nothing recorded.
func (h *SubmissionHandler) HandleEvaluate(w http.ResponseWriter, r *http.Request) {
	const op = "api.evaluate"
	req, err := h.readUpload(w, r)
	if err != nil {
		writeFailure(w, WrapKind(op, ErrBadRequest, err))
		return
	}
	if err := service.CheckFileName(req.FileName); err != nil {
		writeFailure(w, Wrap(op, err))
		return
	}
	res, err := h.deps.Evaluate(r.Context(), req.Content)
	if err != nil {
		writeFailure(w, Wrap(op, err))
		return
	}
	writeJSON(w, http.StatusOK, evaluationResponse{Score: res.Score, Mode: res.Mode.String(), Pairs: res.Pairs})
}

// readUpload accepts a multipart form with a "file" part or a raw body.
// Identifiers come from form fields first and headers second.
func (h *SubmissionHandler) readUpload(w http.ResponseWriter, r *http.Request) (uploadRequest, error) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload)
	req := uploadRequest{
		ParticipantID: r.Header.Get(headerParticipant),
		SubmissionID:  r.Header.Get(headerIdempotency),
		FileName:      r.Header.Get(headerFileName),
	}

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType != "multipart/form-data" {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			return req, tooLarge(err)
		}
		req.Content = body
		return req, nil
	}

	if err := r.ParseMultipartForm(min(h.maxUpload, maxFormMemory)); err != nil {
		return req, tooLarge(err)
	}
	if v := r.FormValue(fieldParticipant); v != "" {
		req.ParticipantID = v
	}
	if v := r.FormValue(fieldSubmission); v != "" {
		req.SubmissionID = v
	}
	f, hdr, err := r.FormFile(fieldFile)
	if err != nil {
		return req, err
	}
	defer f.Close()
	req.FileName = hdr.Filename
	if req.Content, err = io.ReadAll(f); err != nil {
		return req, tooLarge(err)
	}
	return req, nil
}

func tooLarge(err error) error {
	var mbe *http.MaxBytesError
	if errors.As(err, &mbe) {
		return ErrTooLarge
	}
	return err
}
