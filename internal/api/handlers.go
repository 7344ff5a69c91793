package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/nexus-app/nexus/internal/domain"
)

type ctxKey int

const userKey ctxKey = iota

// requireUser rejects requests without a user header.
func requireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(UserHeader))
		if id == "" {
			writeError(w, http.StatusUnauthorized, "missing "+UserHeader+" header")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userKey, id)))
	})
}

func userFrom(r *http.Request) string {
	id, _ := r.Context().Value(userKey).(string)
	return id
}

// writeServiceError maps engine errors to HTTP status codes.
func (s *Server) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case domain.IsValidation(err):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrNotFound), errors.Is(err, domain.ErrUserNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrConflict):
		writeError(w, http.StatusConflict, "concurrent update, retry the request")
	case errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusGatewayTimeout, "request timed out")
	default:
		s.log.Error("request failed",
			zap.String("path", r.URL.Path),
			zap.String("user", userFrom(r)),
			zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return false
	}
	return true
}

// --- /activities ---

type activityRequest struct {
	Kind       domain.ActivityKind   `json:"kind"`
	Status     domain.ActivityStatus `json:"status"`
	TargetID   string                `json:"targetId"`
	OccurredAt *time.Time            `json:"occurredAt"`
}

func (s *Server) handleRecordActivity(w http.ResponseWriter, r *http.Request) {
	var req activityRequest
	if !decode(w, r, &req) {
		return
	}
	ev := domain.ActivityEvent{
		UserID:   userFrom(r),
		Kind:     req.Kind,
		Status:   req.Status,
		TargetID: req.TargetID,
	}
	if req.OccurredAt != nil {
		ev.OccurredAt = *req.OccurredAt
	}
	out, err := s.svc.RecordActivity(r.Context(), ev)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, out)
}

// --- /entities ---

type entityRequest struct {
	ID   string            `json:"id"`
	Kind domain.EntityKind `json:"kind"`
}

func (s *Server) handleTrackEntity(w http.ResponseWriter, r *http.Request) {
	var req entityRequest
	if !decode(w, r, &req) {
		return
	}
	res, err := s.svc.TrackEntity(r.Context(), domain.TrackedEntity{
		ID:     req.ID,
		UserID: userFrom(r),
		Kind:   req.Kind,
	})
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

// --- /gamification/* ---

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	st, err := s.svc.Status(r.Context(), userFrom(r))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleCheckAchievements(w http.ResponseWriter, r *http.Request) {
	res, err := s.svc.CheckAchievements(r.Context(), userFrom(r))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type awardRequest struct {
	Amount         *int   `json:"amount"`
	Reason         string `json:"reason"`
	IdempotencyKey string `json:"idempotencyKey"`
}

func (s *Server) handleAwardXP(w http.ResponseWriter, r *http.Request) {
	var req awardRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Amount == nil {
		writeError(w, http.StatusBadRequest, "amount is required")
		return
	}
	award, err := s.svc.AwardXP(r.Context(), userFrom(r), *req.Amount, req.Reason, req.IdempotencyKey)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	award.Level = nil
	writeJSON(w, http.StatusOK, award)
}

type streakRequest struct {
	Type     domain.StreakType `json:"type"`
	TargetID string            `json:"targetId"`
}

func (s *Server) handleUpdateStreak(w http.ResponseWriter, r *http.Request) {
	var req streakRequest
	if !decode(w, r, &req) {
		return
	}
	st, err := s.svc.RecomputeStreak(r.Context(), userFrom(r), req.Type, req.TargetID)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleXPHistory(w http.ResponseWriter, r *http.Request) {
	entries, err := s.svc.Ledger(r.Context(), userFrom(r), queryLimit(r, 50))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	if entries == nil {
		entries = []domain.XPLedgerEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

func (s *Server) handleNotifications(w http.ResponseWriter, r *http.Request) {
	limit := queryLimit(r, 20)
	var (
		list []domain.Notification
		err  error
	)
	if r.URL.Query().Get("all") == "true" {
		list, err = s.svc.Notifications.Recent(r.Context(), userFrom(r), limit)
	} else {
		list, err = s.svc.Notifications.Pending(r.Context(), userFrom(r), limit)
	}
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	if list == nil {
		list = []domain.Notification{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"notifications": list})
}

func (s *Server) handleNotificationShown(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.svc.Notifications.MarkShown(r.Context(), userFrom(r), id); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// queryLimit parses ?limit=, falling back to def for missing or bad values.
func queryLimit(r *http.Request, def int) int {
	n, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || n <= 0 {
		return def
	}
	return min(n, 500)
}
