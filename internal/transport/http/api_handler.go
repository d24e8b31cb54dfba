package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"offline-contest/internal/domain"
	"offline-contest/internal/identity"
	"offline-contest/internal/logging"

	"go.uber.org/zap"
)

type ContestSource interface {
	FetchContest(ctx context.Context, contestID string) ([]byte, error)
}

type ResultSink interface {
	Save(ctx context.Context, result domain.FinalResult) (bool, error)
	Leaderboard(ctx context.Context, contestID string) ([]domain.FinalResult, error)
}

// APIHandler serves the contest endpoints a participant client talks to.
// It backs local end-to-end runs of the client.
type APIHandler struct {
	contests ContestSource
	results  ResultSink
	log      *zap.Logger
}

func NewAPIHandler(contests ContestSource, results ResultSink, log *zap.Logger) *APIHandler {
	return &APIHandler{contests: contests, results: results, log: logging.OrNop(log).Named("api")}
}

// Register mounts the API routes on mux.
func (h *APIHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /contests/{id}", h.getContest)
	mux.HandleFunc("GET /contests/{id}/results", h.leaderboard)
	mux.HandleFunc("POST /final-results", h.postFinalResult)
}

type submitResponse struct {
	Success bool   `json:"success"`
	Created bool   `json:"created,omitempty"`
	Error   string `json:"error,omitempty"`
}

func (h *APIHandler) getContest(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	raw, err := h.contests.FetchContest(r.Context(), id)
	if errors.Is(err, domain.ErrContestNotFound) {
		writeJSON(w, http.StatusNotFound, errorPayload{Message: "contest not found"})
		return
	}
	if err != nil {
		h.log.Error("fetch contest failed", zap.String("contest_id", id), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, errorPayload{Message: "failed to load contest"})
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(raw)
}

func (h *APIHandler) leaderboard(w http.ResponseWriter, r *http.Request) {
	results, err := h.results.Leaderboard(r.Context(), r.PathValue("id"))
	if err != nil {
		h.log.Error("leaderboard failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, errorPayload{Message: "failed to load results"})
		return
	}
	if results == nil {
		results = []domain.FinalResult{}
	}
	writeJSON(w, http.StatusOK, results)
}

func (h *APIHandler) postFinalResult(w http.ResponseWriter, r *http.Request) {
	token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok || strings.TrimSpace(token) == "" {
		writeJSON(w, http.StatusUnauthorized, submitResponse{Error: "missing bearer token"})
		return
	}
	userID, err := identity.UserIDFromToken(strings.TrimSpace(token))
	if err != nil {
		writeJSON(w, http.StatusUnauthorized, submitResponse{Error: "invalid token"})
		return
	}

	var result domain.FinalResult
	if err := json.NewDecoder(r.Body).Decode(&result); err != nil {
		writeJSON(w, http.StatusBadRequest, submitResponse{Error: "invalid final result payload"})
		return
	}
	if result.ContestID == "" || result.UserID == "" {
		writeJSON(w, http.StatusBadRequest, submitResponse{Error: "contestId and userId are required"})
		return
	}
	if result.UserID != userID {
		writeJSON(w, http.StatusForbidden, submitResponse{Error: "token does not match userId"})
		return
	}

	created, err := h.results.Save(r.Context(), result)
	if err != nil {
		h.log.Error("save final result failed",
			zap.String("contest_id", result.ContestID), zap.String("user_id", result.UserID), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, submitResponse{Error: "failed to store final result"})
		return
	}
	h.log.Info("final result received",
		zap.String("contest_id", result.ContestID),
		zap.String("user_id", result.UserID),
		zap.Float64("score", result.TotalScore),
		zap.Bool("created", created))
	writeJSON(w, http.StatusOK, submitResponse{Success: true, Created: created})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
