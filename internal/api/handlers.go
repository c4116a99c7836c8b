// Package api exposes the local HTTP surface a UI uses to log workouts and
// observe sync progress.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"example.com/workoutsync/internal/domain"
	"example.com/workoutsync/internal/persistence"
	"example.com/workoutsync/internal/status"
)

// StatusReader exposes the derived sync status.
type StatusReader interface {
	Current() status.Status
}

// SyncTrigger requests an out-of-band sync cycle.
type SyncTrigger interface {
	Trigger()
}

// Foregrounder is told when the application returns to the foreground.
type Foregrounder interface {
	Foreground()
}

// Handler coordinates HTTP requests with the domain service.
type Handler struct {
	service    *domain.Service
	status     StatusReader
	sync       SyncTrigger
	foreground Foregrounder
}

// NewHandler builds a Handler.
func NewHandler(service *domain.Service, status StatusReader, sync SyncTrigger, foreground Foregrounder) *Handler {
	return &Handler{service: service, status: status, sync: sync, foreground: foreground}
}

// RegisterRoutes wires endpoints to the mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/v1/sessions", h.sessions)
	mux.HandleFunc("/v1/sessions/", h.sessionByID)
	mux.HandleFunc("/v1/sets/", h.setByID)
	mux.HandleFunc("/v1/status", h.currentStatus)
	mux.HandleFunc("/v1/sync", h.syncNow)
	mux.HandleFunc("/v1/foreground", h.markForeground)
	mux.HandleFunc("/healthz", healthz)
}

// healthz reports a simple OK status for container health checks.
func healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (h *Handler) sessions(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		h.createSession(w, r)
	case http.MethodGet:
		h.listSessions(w, r)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
	}
}

func (h *Handler) sessionByID(w http.ResponseWriter, r *http.Request) {
	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/sessions/"), "/")
	if rest == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "missing session id")
		return
	}
	if rest == "active" {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
			return
		}
		h.activeSession(w, r)
		return
	}

	id, sub, _ := strings.Cut(rest, "/")
	switch {
	case sub == "" && r.Method == http.MethodGet:
		h.getSession(w, r, id)
	case sub == "sets" && r.Method == http.MethodGet:
		h.listSets(w, r, id)
	case sub == "sets" && r.Method == http.MethodPost:
		h.addSet(w, r, id)
	case sub == "details" && r.Method == http.MethodGet:
		h.sessionDetails(w, r, id)
	case sub == "sync-status" && r.Method == http.MethodGet:
		h.sessionSyncStatus(w, r, id)
	case sub == "end" && r.Method == http.MethodPost:
		h.endSession(w, r, id)
	case sub == "" || sub == "sets" || sub == "details" || sub == "sync-status" || sub == "end":
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
	default:
		writeError(w, http.StatusNotFound, "not_found", "unknown resource")
	}
}

func (h *Handler) createSession(w http.ResponseWriter, r *http.Request) {
	var req CreateSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "unable to parse body")
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
		return
	}

	session := domain.Session{ID: req.ID, UserID: req.UserID, WorkoutID: req.WorkoutID}
	if req.StartedAt != nil {
		session.StartedAt = req.StartedAt.UTC()
	}
	var details *domain.SessionDetails
	if req.WorkoutName != "" || len(req.TemplateExercises) > 0 {
		details = &domain.SessionDetails{WorkoutName: req.WorkoutName, TemplateExercises: req.TemplateExercises}
	}

	created, err := h.service.CreateSession(r.Context(), session, details)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (h *Handler) listSessions(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if strings.TrimSpace(userID) == "" {
		writeError(w, http.StatusBadRequest, "validation_failed", "missing user_id parameter")
		return
	}

	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			if parsed > 100 {
				parsed = 100
			}
			limit = parsed
		}
	}

	cursor, err := persistence.DecodeCursor(r.URL.Query().Get("cursor"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", "invalid cursor")
		return
	}

	sessions, next, err := h.service.ListSessions(r.Context(), userID, cursor, limit)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if sessions == nil {
		sessions = []domain.Session{}
	}
	writeJSON(w, http.StatusOK, ListSessionsResponse{
		Items:      sessions,
		NextCursor: persistence.EncodeCursor(next),
	})
}

func (h *Handler) activeSession(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if strings.TrimSpace(userID) == "" {
		writeError(w, http.StatusBadRequest, "validation_failed", "missing user_id parameter")
		return
	}
	session, err := h.service.GetActiveSession(r.Context(), userID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ActiveSessionResponse{Session: session})
}

func (h *Handler) getSession(w http.ResponseWriter, r *http.Request, id string) {
	session, err := h.service.GetSession(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

func (h *Handler) listSets(w http.ResponseWriter, r *http.Request, sessionID string) {
	sets, err := h.service.GetSetsForSession(r.Context(), sessionID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if sets == nil {
		sets = []domain.SetRecord{}
	}
	writeJSON(w, http.StatusOK, ListSetsResponse{Items: sets})
}

func (h *Handler) addSet(w http.ResponseWriter, r *http.Request, sessionID string) {
	var req AddSetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "unable to parse body")
		return
	}
	rec, err := h.service.AddSet(r.Context(), sessionID, req.ExerciseName, req.SetIndex, req.SetPatch)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

func (h *Handler) sessionDetails(w http.ResponseWriter, r *http.Request, sessionID string) {
	details, err := h.service.GetSessionDetails(r.Context(), sessionID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, details)
}

func (h *Handler) sessionSyncStatus(w http.ResponseWriter, r *http.Request, sessionID string) {
	st, err := h.service.SessionSyncStatus(r.Context(), sessionID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, SessionSyncStatusResponse{
		SessionID:   st.SessionID,
		PendingSets: st.PendingSets,
		PendingEnd:  st.PendingEnd,
		Pending:     st.Pending(),
	})
}

func (h *Handler) endSession(w http.ResponseWriter, r *http.Request, sessionID string) {
	if err := h.service.EndSession(r.Context(), sessionID); err != nil {
		writeDomainError(w, err)
		return
	}
	session, err := h.service.GetSession(r.Context(), sessionID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

func (h *Handler) setByID(w http.ResponseWriter, r *http.Request) {
	id := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/sets/"), "/")
	if id == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "missing set id")
		return
	}
	if r.Method != http.MethodPatch {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}

	var patch domain.SetPatch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "unable to parse body")
		return
	}

	var (
		rec *domain.SetRecord
		err error
	)
	switch mode := r.URL.Query().Get("mode"); mode {
	case "", "immediate":
		rec, err = h.service.UpdateSetImmediate(r.Context(), id, patch)
	case "buffered":
		rec, err = h.service.UpdateSetBuffered(r.Context(), id, patch)
	default:
		writeError(w, http.StatusBadRequest, "validation_failed", "mode must be buffered or immediate")
		return
	}
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (h *Handler) currentStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}
	writeJSON(w, http.StatusOK, h.status.Current())
}

func (h *Handler) syncNow(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}
	h.sync.Trigger()
	writeJSON(w, http.StatusAccepted, h.status.Current())
}

func (h *Handler) markForeground(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}
	h.foreground.Foreground()
	w.WriteHeader(http.StatusNoContent)
}

// CreateSessionRequest is the payload for POST /v1/sessions.
type CreateSessionRequest struct {
	ID                string     `json:"id,omitempty"`
	UserID            string     `json:"user_id"`
	WorkoutID         *string    `json:"workout_id,omitempty"`
	StartedAt         *time.Time `json:"started_at,omitempty"`
	WorkoutName       string     `json:"workout_name,omitempty"`
	TemplateExercises []string   `json:"template_exercises,omitempty"`
}

// Validate ensures request correctness.
func (r CreateSessionRequest) Validate() error {
	if strings.TrimSpace(r.UserID) == "" {
		return errors.New("user_id is required")
	}
	if r.WorkoutID != nil && strings.TrimSpace(*r.WorkoutID) == "" {
		return errors.New("workout_id must not be blank")
	}
	return nil
}

// AddSetRequest is the payload for POST /v1/sessions/{id}/sets.
type AddSetRequest struct {
	ExerciseName string `json:"exercise_name"`
	SetIndex     int    `json:"set_index"`
	domain.SetPatch
}

// ListSessionsResponse packages list results.
type ListSessionsResponse struct {
	Items      []domain.Session `json:"items"`
	NextCursor string           `json:"next_cursor,omitempty"`
}

// ListSetsResponse packages a session's sets ordered by set_index.
type ListSetsResponse struct {
	Items []domain.SetRecord `json:"items"`
}

// ActiveSessionResponse carries the active session, or null when there is none.
type ActiveSessionResponse struct {
	Session *domain.Session `json:"session"`
}

// SessionSyncStatusResponse reports what is still queued for one session.
type SessionSyncStatusResponse struct {
	SessionID   string `json:"session_id"`
	PendingSets int    `json:"pending_sets"`
	PendingEnd  bool   `json:"pending_end"`
	Pending     bool   `json:"pending"`
}

func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrSessionNotFound), errors.Is(err, domain.ErrSetNotFound):
		writeError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, domain.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
	}
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
