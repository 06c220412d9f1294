package api

import (
	"context"
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/ashureev/easely-bot/internal/domain"
	"github.com/ashureev/easely-bot/internal/identity"
	"github.com/ashureev/easely-bot/internal/middleware"
)

const (
	defaultSyncLimit = 20
	maxSyncLimit     = 100
)

// AuditReader reads the sync and conversation state audit logs.
type AuditReader interface {
	ListSyncRecords(ctx context.Context, userID string, limit int) ([]domain.SyncRecord, error)
	ListStateChanges(ctx context.Context, userID string, limit int) ([]domain.StateChange, error)
}

// DiagnosticsHandler exposes operator endpoints behind a bearer token.
type DiagnosticsHandler struct {
	records AuditReader
	token   string
	limiter *middleware.RateLimiter
}

// NewDiagnosticsHandler creates a diagnostics handler. limiter may be nil.
func NewDiagnosticsHandler(records AuditReader, token string, limiter *middleware.RateLimiter) *DiagnosticsHandler {
	return &DiagnosticsHandler{records: records, token: token, limiter: limiter}
}

// RegisterRoutes mounts the diagnostics routes. Nothing is mounted without a token.
func (h *DiagnosticsHandler) RegisterRoutes(r chi.Router) {
	if h.token == "" {
		return
	}
	r.Route("/api/diagnostics", func(r chi.Router) {
		if h.limiter != nil {
			r.Use(middleware.RateLimit(h.limiter, identity.IPFromRequest))
		}
		r.Use(h.requireToken)
		r.Get("/users/{userID}/syncs", h.ListSyncs)
		r.Get("/users/{userID}/states", h.ListStates)
	})
}

func (h *DiagnosticsHandler) requireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(got), []byte(h.token)) != 1 {
			Error(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ListSyncs returns the user's most recent sync records, newest first.
func (h *DiagnosticsHandler) ListSyncs(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	limit, ok := parseLimit(w, r)
	if !ok {
		return
	}

	records, err := h.records.ListSyncRecords(r.Context(), userID, limit)
	if err != nil {
		slog.Error("Failed to list sync records", "user_id", userID, "error", err)
		Error(w, http.StatusInternalServerError, "failed to list sync records")
		return
	}
	if records == nil {
		records = []domain.SyncRecord{}
	}

	JSON(w, http.StatusOK, map[string]any{
		"user_id": userID,
		"records": records,
	})
}

// ListStates returns the user's most recent conversation state changes.
func (h *DiagnosticsHandler) ListStates(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	limit, ok := parseLimit(w, r)
	if !ok {
		return
	}

	changes, err := h.records.ListStateChanges(r.Context(), userID, limit)
	if err != nil {
		slog.Error("Failed to list state changes", "user_id", userID, "error", err)
		Error(w, http.StatusInternalServerError, "failed to list state changes")
		return
	}
	if changes == nil {
		changes = []domain.StateChange{}
	}

	JSON(w, http.StatusOK, map[string]any{
		"user_id": userID,
		"changes": changes,
	})
}

func parseLimit(w http.ResponseWriter, r *http.Request) (int, bool) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return defaultSyncLimit, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		Error(w, http.StatusBadRequest, "invalid limit")
		return 0, false
	}
	return min(n, maxSyncLimit), true
}
