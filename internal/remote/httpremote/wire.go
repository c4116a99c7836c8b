package httpremote

import (
	"time"

	"example.com/workoutsync/internal/domain"
)

// SessionsRequest is the body of POST /v1/sync/sessions.
type SessionsRequest struct {
	Sessions []domain.Session `json:"sessions"`
}

// SetsRequest is the body of POST /v1/sync/sets.
type SetsRequest struct {
	Sets []domain.SetRecord `json:"sets"`
}

// EndSessionRequest is the body of POST /v1/sync/sessions/{id}/end.
type EndSessionRequest struct {
	EndedAt time.Time `json:"ended_at"`
}
