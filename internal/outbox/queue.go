package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"example.com/workoutsync/internal/domain"
)

// ItemWriter persists queue items, replacing any pending item with the same id.
type ItemWriter interface {
	PutItem(ctx context.Context, item Item) error
}

// QueueOption configures optional behaviour for the Queue.
type QueueOption func(*Queue)

// WithClock overrides the time source used for created_at.
func WithClock(now func() time.Time) QueueOption {
	return func(q *Queue) {
		q.now = now
	}
}

// Queue implements domain.Outbox on top of the local store.
type Queue struct {
	store ItemWriter
	now   func() time.Time
}

// NewQueue constructs a Queue.
func NewQueue(store ItemWriter, opts ...QueueOption) *Queue {
	q := &Queue{
		store: store,
		now:   func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

var _ domain.Outbox = (*Queue)(nil)

// EnqueueUpsertSession records the latest desired state of a session.
func (q *Queue) EnqueueUpsertSession(ctx context.Context, session domain.Session) error {
	return q.put(ctx, TypeUpsertSession, session.ID, session.ID, session)
}

// EnqueueUpsertSet records the latest desired state of a set.
func (q *Queue) EnqueueUpsertSet(ctx context.Context, set domain.SetRecord) error {
	return q.put(ctx, TypeUpsertSet, set.ID, set.SessionID, set)
}

// EnqueueEndSession records that a session has to be ended remotely.
func (q *Queue) EnqueueEndSession(ctx context.Context, session domain.Session) error {
	if session.EndedAt == nil {
		return fmt.Errorf("%w: session %s has no ended_at", domain.ErrInvalidInput, session.ID)
	}
	return q.put(ctx, TypeEndSession, session.ID, session.ID, session)
}

func (q *Queue) put(ctx context.Context, kind Type, entityID, sessionID string, payload interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	item := Item{
		ID:        IdempotencyKey(kind, entityID),
		Type:      kind,
		SessionID: sessionID,
		Payload:   body,
		CreatedAt: q.now(),
	}
	if err := q.store.PutItem(ctx, item); err != nil {
		return err
	}
	enqueuedCounter.WithLabelValues(string(kind)).Inc()
	return nil
}
