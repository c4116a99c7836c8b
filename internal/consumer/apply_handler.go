package consumer

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"example.com/workoutsync/internal/domain"
	"example.com/workoutsync/internal/events"
)

// Applier is the remote store the events are applied to.
type Applier interface {
	BatchUpsertSessions(ctx context.Context, sessions []domain.Session) error
	BatchUpsertSets(ctx context.Context, sets []domain.SetRecord) error
	EndSession(ctx context.Context, sessionID string, endedAt time.Time) error
}

// ApplyHandler applies sync events to the remote store.
type ApplyHandler struct {
	store Applier
}

// NewApplyHandler constructs an ApplyHandler.
func NewApplyHandler(store Applier) *ApplyHandler {
	return &ApplyHandler{store: store}
}

// Handle applies one event. Unknown or malformed events yield ErrUnsupportedEvent.
func (h *ApplyHandler) Handle(ctx context.Context, msg Message) error {
	switch msg.EventType {
	case events.TypeSessionUpserted:
		var s domain.Session
		if err := json.Unmarshal(msg.Payload, &s); err != nil || s.ID == "" {
			return fmt.Errorf("%w: malformed session payload", ErrUnsupportedEvent)
		}
		return h.store.BatchUpsertSessions(ctx, []domain.Session{s})
	case events.TypeSetUpserted:
		var s domain.SetRecord
		if err := json.Unmarshal(msg.Payload, &s); err != nil || s.ID == "" {
			return fmt.Errorf("%w: malformed set payload", ErrUnsupportedEvent)
		}
		return h.store.BatchUpsertSets(ctx, []domain.SetRecord{s})
	case events.TypeSessionEnded:
		var e events.SessionEnded
		if err := json.Unmarshal(msg.Payload, &e); err != nil || e.SessionID == "" || e.EndedAt.IsZero() {
			return fmt.Errorf("%w: malformed end payload", ErrUnsupportedEvent)
		}
		return h.store.EndSession(ctx, e.SessionID, e.EndedAt)
	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedEvent, msg.EventType)
	}
}
