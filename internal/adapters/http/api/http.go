// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-playground/validator/v10"

	"github.com/okian/datacup/internal/adapters/repository"
	service "github.com/okian/datacup/internal/app"
	"github.com/okian/datacup/internal/domain/evaluation"
	"github.com/okian/datacup/internal/domain/types"
	"github.com/okian/datacup/pkg/logger"
)

// Default handler limits.
const (
	defaultLeaderboardLimit = 10
	maxLeaderboardLimit     = 100
	defaultHistoryLimit     = 20
	defaultMaxUploadBytes   = 20 << 20
	exportLimit             = 100_000
	retryAfterSeconds       = "1"
)

// Dependencies required by HTTP handlers. Using an interface bundle keeps
// the handler layer loosely coupled to implementations in other packages.
type Dependencies interface {
	SubmissionDependencies
	LeaderboardDependencies
	RankDependencies
	FreezeDependencies
	StatsProvider
}

// Entry mirrors the read shape returned by leaderboard queries.
type Entry = types.Entry

// Server wires HTTP routes for the business API.
type Server struct {
	healthHandler      *HealthHandler
	statsHandler       *StatsHandler
	submissionHandler  *SubmissionHandler
	leaderboardHandler *LeaderboardHandler
	rankHandler        *RankHandler
	freezeHandler      *FreezeHandler
}

// Option configures the Server.
type Option func(*settings)

type settings struct {
	defaultLimit   int
	maxLimit       int
	maxUploadBytes int64
	adminToken     string
	logger         logger.Logger
}

// WithLeaderboardLimits sets the default and maximum leaderboard sizes.
func WithLeaderboardLimits(def, maxLimit int) Option {
	return func(s *settings) {
		if def > 0 && maxLimit >= def {
			s.defaultLimit, s.maxLimit = def, maxLimit
		}
	}
}

// WithMaxUploadBytes caps the size of uploaded files.
func WithMaxUploadBytes(n int64) Option {
	return func(s *settings) {
		if n > 0 {
			s.maxUploadBytes = n
		}
	}
}

// WithAdminToken requires a bearer token on the freeze toggle.
func WithAdminToken(token string) Option {
	return func(s *settings) { s.adminToken = token }
}

// WithLogger sets the handler logger.
func WithLogger(l logger.Logger) Option {
	return func(s *settings) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewServer creates a new API server with all handlers.
func NewServer(deps Dependencies, opts ...Option) *Server {
	cfg := settings{
		defaultLimit:   defaultLeaderboardLimit,
		maxLimit:       maxLeaderboardLimit,
		maxUploadBytes: defaultMaxUploadBytes,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.logger == nil {
		cfg.logger = logger.Default().Named("api")
	}
	v := validator.New(validator.WithRequiredStructEnabled())

	return &Server{
		healthHandler:      NewHealthHandler(),
		statsHandler:       NewStatsHandler(deps),
		submissionHandler:  NewSubmissionHandler(deps, v, cfg.maxUploadBytes, cfg.logger),
		leaderboardHandler: NewLeaderboardHandler(deps, cfg.defaultLimit, cfg.maxLimit, cfg.logger),
		rankHandler:        NewRankHandler(deps, cfg.maxLimit),
		freezeHandler:      NewFreezeHandler(deps, v, cfg.adminToken, cfg.logger),
	}
}

// Register attaches all HTTP routes to mux.
func (s *Server) Register(_ context.Context, mux *http.ServeMux) {
	if mux == nil {
		panic("mux is nil")
	}
	mux.HandleFunc("GET /healthz", MetricsMiddleware(s.healthHandler.HandleHealth, "healthz"))
	mux.HandleFunc("GET /metrics", MetricsMiddleware(s.healthHandler.HandleHealth, "metrics"))
	mux.HandleFunc("GET /stats", MetricsMiddleware(s.statsHandler.HandleStats, "stats"))
	mux.HandleFunc("POST /submissions", MetricsMiddleware(s.submissionHandler.HandlePostSubmission, "submissions"))
	mux.HandleFunc("POST /evaluate", MetricsMiddleware(s.submissionHandler.HandleEvaluate, "evaluate"))
	mux.HandleFunc("GET /leaderboard", MetricsMiddleware(s.leaderboardHandler.HandleGetLeaderboard, "leaderboard"))
	mux.HandleFunc("GET /leaderboard/export", MetricsMiddleware(s.leaderboardHandler.HandleExport, "leaderboard_export"))
	mux.HandleFunc("GET /rank/{participant_id}", MetricsMiddleware(s.rankHandler.HandleGetRank, "rank"))
	mux.HandleFunc("GET /participants/{participant_id}/submissions", MetricsMiddleware(s.rankHandler.HandleGetHistory, "history"))
	mux.HandleFunc("GET /competition/freeze", MetricsMiddleware(s.freezeHandler.HandleGetFreeze, "freeze"))
	mux.HandleFunc("PUT /competition/freeze", MetricsMiddleware(s.freezeHandler.HandlePutFreeze, "freeze"))
}

type errorResponse struct {
	Code     string   `json:"code"`
	Message  string   `json:"message"`
	Expected *int     `json:"expected,omitempty"`
	Received *int     `json:"received,omitempty"`
	Columns  []string `json:"columns,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{Code: code, Message: message})
}

// writeFailure maps a service, store or evaluator error to a status and a
// stable code. Bodies carry a fixed message per kind, never err's text.
func writeFailure(w http.ResponseWriter, err error) {
	var rej *evaluation.Error
	if errors.As(err, &rej) {
		if rej.Kind == evaluation.KindInternalError {
			writeError(w, http.StatusInternalServerError, rej.Kind.String(), "submission could not be evaluated")
			return
		}
		body := errorResponse{Code: rej.Kind.String(), Message: rej.Message, Columns: rej.Columns}
		if rej.Kind == evaluation.KindRowCountMismatch || rej.Expected > 0 || rej.Received > 0 {
			body.Expected, body.Received = &rej.Expected, &rej.Received
		}
		writeJSON(w, http.StatusUnprocessableEntity, body)
		return
	}

	status, code, message := classify(err)
	if status == http.StatusServiceUnavailable || status == http.StatusTooManyRequests {
		w.Header().Set("Retry-After", retryAfterSeconds)
	}
	writeError(w, status, code, message)
}

// failureKinds is checked in order; the first sentinel err matches wins.
// An empty message falls back to the sentinel's own text.
var failureKinds = []struct {
	kind    error
	status  int
	code    string
	message string
}{
	{ErrTooLarge, http.StatusRequestEntityTooLarge, "too_large", ""},
	{repository.ErrInvalidLimit, http.StatusBadRequest, "bad_request", ""},
	{repository.ErrInvalidSubmission, http.StatusBadRequest, "bad_request", ""},
	{repository.ErrInvalidScore, http.StatusBadRequest, "bad_request", ""},
	{service.ErrInvalidUpload, http.StatusBadRequest, "bad_request", ""},
	{ErrBadRequest, http.StatusBadRequest, "bad_request", "malformed request"},
	{service.ErrUnsupportedFile, http.StatusUnsupportedMediaType, "unsupported_file", ""},
	{ErrUnauthorized, http.StatusUnauthorized, "unauthorized", "missing or invalid admin token"},
	{repository.ErrNotFound, http.StatusNotFound, "not_found", ""},
	{repository.ErrCompetitionFrozen, http.StatusConflict, "competition_frozen", ""},
	{service.ErrBackpressure, http.StatusTooManyRequests, "backpressure", ""},
	{repository.ErrStoreUnavailable, http.StatusServiceUnavailable, "store_unavailable", ""},
	{context.DeadlineExceeded, http.StatusServiceUnavailable, "store_unavailable", repository.ErrStoreUnavailable.Error()},
	{service.ErrNotStarted, http.StatusServiceUnavailable, "unavailable", ""},
	{service.ErrNoReference, http.StatusInternalServerError, "reference_unavailable", ""},
}

func classify(err error) (status int, code, message string) {
	for _, f := range failureKinds {
		if errors.Is(err, f.kind) {
			if f.message == "" {
				return f.status, f.code, f.kind.Error()
			}
			return f.status, f.code, f.message
		}
	}
	return http.StatusInternalServerError, "internal_error", http.StatusText(http.StatusInternalServerError)
}

// queryLimit parses an optional positive ?limit, falling back to def.
func queryLimit(r *http.Request, def int) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 0, ErrBadRequest
	}
	return n, nil
}
