// Package remoteapi exposes the remote side of the sync contract over HTTP.
package remoteapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"example.com/workoutsync/internal/auth"
	"example.com/workoutsync/internal/domain"
	"example.com/workoutsync/internal/remote/httpremote"
)

// MaxBatchSize bounds the number of records accepted in one request.
const MaxBatchSize = 500

// Store is the remote persistence used by the handlers.
type Store interface {
	BatchUpsertSessions(ctx context.Context, sessions []domain.Session) error
	BatchUpsertSets(ctx context.Context, sets []domain.SetRecord) error
	EndSession(ctx context.Context, sessionID string, endedAt time.Time) error
	FetchSnapshot(ctx context.Context, userID string) (domain.Snapshot, error)
}

// Handler coordinates sync requests with the remote store.
type Handler struct {
	store Store
}

// NewHandler builds a Handler.
func NewHandler(store Store) *Handler {
	return &Handler{store: store}
}

// RegisterRoutes wires endpoints to the mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/v1/sync/sessions", h.upsertSessions)
	mux.HandleFunc("/v1/sync/sessions/", h.endSession)
	mux.HandleFunc("/v1/sync/sets", h.upsertSets)
	mux.HandleFunc("/v1/sync/snapshot", h.snapshot)
	mux.HandleFunc("/healthz", healthz)
}

func healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// AcceptedResponse reports how many records a write request applied.
type AcceptedResponse struct {
	Accepted int `json:"accepted"`
}

func (h *Handler) upsertSessions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}
	claims, ok := requireScope(w, r, auth.ScopeSyncWrite)
	if !ok {
		return
	}

	var req httpremote.SessionsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "unable to parse body")
		return
	}
	if len(req.Sessions) > MaxBatchSize {
		writeError(w, http.StatusRequestEntityTooLarge, "batch_too_large", fmt.Sprintf("at most %d sessions per request", MaxBatchSize))
		return
	}
	for _, s := range req.Sessions {
		if err := validateSession(s); err != nil {
			writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
			return
		}
		if s.UserID != claims.UserID {
			writeError(w, http.StatusForbidden, "forbidden", "session "+s.ID+" belongs to another user")
			return
		}
	}

	if err := h.store.BatchUpsertSessions(r.Context(), req.Sessions); err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, AcceptedResponse{Accepted: len(req.Sessions)})
}

func (h *Handler) upsertSets(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}
	if _, ok := requireScope(w, r, auth.ScopeSyncWrite); !ok {
		return
	}

	var req httpremote.SetsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "unable to parse body")
		return
	}
	if len(req.Sets) > MaxBatchSize {
		writeError(w, http.StatusRequestEntityTooLarge, "batch_too_large", fmt.Sprintf("at most %d sets per request", MaxBatchSize))
		return
	}
	for _, s := range req.Sets {
		if err := validateSet(s); err != nil {
			writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
			return
		}
	}

	if err := h.store.BatchUpsertSets(r.Context(), req.Sets); err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, AcceptedResponse{Accepted: len(req.Sets)})
}

func (h *Handler) endSession(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/v1/sync/sessions/")
	id, action, found := strings.Cut(rest, "/")
	if !found || action != "end" || id == "" {
		writeError(w, http.StatusNotFound, "not_found", "unknown path")
		return
	}
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}
	if _, ok := requireScope(w, r, auth.ScopeSyncWrite); !ok {
		return
	}

	var req httpremote.EndSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "unable to parse body")
		return
	}
	if req.EndedAt.IsZero() {
		writeError(w, http.StatusBadRequest, "validation_failed", "ended_at is required")
		return
	}

	if err := h.store.EndSession(r.Context(), id, req.EndedAt); err != nil {
		if errors.Is(err, domain.ErrSessionNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "session not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, AcceptedResponse{Accepted: 1})
}

func (h *Handler) snapshot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}
	claims, ok := auth.FromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
		return
	}
	if !claims.HasScope(auth.ScopeSyncRead) && !claims.HasScope(auth.ScopeSyncWrite) {
		writeError(w, http.StatusForbidden, "forbidden", "scope sync:read required")
		return
	}

	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		userID = claims.UserID
	}
	if userID != claims.UserID {
		writeError(w, http.StatusForbidden, "forbidden", "snapshot of another user")
		return
	}

	snapshot, err := h.store.FetchSnapshot(r.Context(), userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, snapshot)
}

func requireScope(w http.ResponseWriter, r *http.Request, scope string) (*auth.Claims, bool) {
	claims, ok := auth.FromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
		return nil, false
	}
	if !claims.HasScope(scope) {
		writeError(w, http.StatusForbidden, "forbidden", "scope "+scope+" required")
		return nil, false
	}
	return claims, true
}

func validateSession(s domain.Session) error {
	if strings.TrimSpace(s.ID) == "" {
		return errors.New("session id is required")
	}
	if strings.TrimSpace(s.UserID) == "" {
		return errors.New("user_id is required")
	}
	if s.StartedAt.IsZero() {
		return errors.New("started_at is required")
	}
	return nil
}

func validateSet(s domain.SetRecord) error {
	if strings.TrimSpace(s.ID) == "" {
		return errors.New("set id is required")
	}
	if strings.TrimSpace(s.SessionID) == "" {
		return errors.New("session_id is required")
	}
	if strings.TrimSpace(s.ExerciseName) == "" {
		return errors.New("exercise_name is required")
	}
	if s.SetIndex < 0 {
		return errors.New("set_index must be >= 0")
	}
	return nil
}

func writeError(w http.ResponseWriter, status int, code, detail string) {
	payload := map[string]string{
		"type":   code,
		"detail": detail,
	}
	writeJSON(w, status, payload)
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
