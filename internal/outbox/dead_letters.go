package outbox

import (
	"context"
	"errors"
	"time"

	"example.com/workoutsync/internal/domain"
)

// RequeueResult describes what happened to a dead letter on replay.
type RequeueResult int

const (
	// Requeued means the dead letter went back into the queue with a fresh retry budget.
	Requeued RequeueResult = iota
	// Superseded means a newer intent for the same key was already queued, so
	// the dead letter was discarded.
	Superseded
)

// DeadLetterStore captures the persistence operations used by the manager.
type DeadLetterStore interface {
	ListDeadLetters(ctx context.Context) ([]DeadLetter, error)
	RequeueDeadLetter(ctx context.Context, id string, now time.Time) (RequeueResult, error)
	PurgeDeadLetters(ctx context.Context) (int, error)
}

// DeadLetterOption configures optional behaviour for the DeadLetterManager.
type DeadLetterOption func(*DeadLetterManager)

// WithDeadLetterNotifier registers a listener told when items return to the queue.
func WithDeadLetterNotifier(n domain.ChangeNotifier) DeadLetterOption {
	return func(m *DeadLetterManager) {
		m.notifier = n
	}
}

// DeadLetterManager inspects and replays items that exhausted their retries.
type DeadLetterManager struct {
	store    DeadLetterStore
	notifier domain.ChangeNotifier
	now      func() time.Time
}

// NewDeadLetterManager constructs a DeadLetterManager.
func NewDeadLetterManager(store DeadLetterStore, opts ...DeadLetterOption) *DeadLetterManager {
	m := &DeadLetterManager{
		store: store,
		now:   func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// List returns every dead letter, oldest failure first.
func (m *DeadLetterManager) List(ctx context.Context) ([]DeadLetter, error) {
	letters, err := m.store.ListDeadLetters(ctx)
	if err != nil {
		return nil, err
	}
	updateBacklogGauge(len(letters))
	return letters, nil
}

// Requeue moves the given dead letters back into the queue and returns how many
// were requeued. Failures for individual ids are joined and do not stop the rest.
func (m *DeadLetterManager) Requeue(ctx context.Context, ids ...string) (int, error) {
	var err error
	requeued := 0
	for _, id := range ids {
		result, reqErr := m.store.RequeueDeadLetter(ctx, id, m.now())
		if reqErr != nil {
			err = errors.Join(err, reqErr)
			continue
		}
		recordDeadLetterReplay(result)
		if result == Requeued {
			requeued++
		}
	}
	if requeued > 0 && m.notifier != nil {
		m.notifier.Notify(ctx)
	}
	return requeued, err
}

// RequeueAll replays every dead letter.
func (m *DeadLetterManager) RequeueAll(ctx context.Context) (int, error) {
	letters, err := m.List(ctx)
	if err != nil {
		return 0, err
	}
	ids := make([]string, 0, len(letters))
	for _, letter := range letters {
		ids = append(ids, letter.ID)
	}
	return m.Requeue(ctx, ids...)
}

// Purge permanently deletes every dead letter and returns how many were removed.
func (m *DeadLetterManager) Purge(ctx context.Context) (int, error) {
	n, err := m.store.PurgeDeadLetters(ctx)
	if err != nil {
		return 0, err
	}
	updateBacklogGauge(0)
	return n, nil
}
