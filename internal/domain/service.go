// Package domain defines the workout logging model and the local-first
// mutation API that every caller goes through.
package domain

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"example.com/workoutsync/internal/observability"
)

var (
	// ErrSessionNotFound is returned when a session cannot be located locally.
	ErrSessionNotFound = errors.New("session not found")
	// ErrSetNotFound is returned when a set cannot be located locally.
	ErrSetNotFound = errors.New("set not found")
	// ErrInvalidInput is returned when a mutation is missing required fields.
	ErrInvalidInput = errors.New("invalid input")
)

// SessionDetailsKey is the metadata key under which session details are cached.
const SessionDetailsKey = "session_details"

// Metadata is a small cached blob keyed by id.
type Metadata struct {
	ID    string
	Key   string
	Value []byte
}

// Repository captures the local record store operations the service relies on.
type Repository interface {
	PutSession(ctx context.Context, session Session) error
	GetSession(ctx context.Context, id string) (*Session, error)
	ListSessionsByUser(ctx context.Context, userID string, cursor *Cursor, limit int) ([]Session, *Cursor, error)
	ListActiveSessions(ctx context.Context, userID string) ([]Session, error)
	PutSet(ctx context.Context, set SetRecord) error
	GetSet(ctx context.Context, id string) (*SetRecord, error)
	ListSetsBySession(ctx context.Context, sessionID string) ([]SetRecord, error)
	PutMetadata(ctx context.Context, meta Metadata) error
	GetMetadata(ctx context.Context, id string) (*Metadata, error)
}

// Outbox records the intent to propagate a local change to the remote store.
type Outbox interface {
	EnqueueUpsertSession(ctx context.Context, session Session) error
	EnqueueUpsertSet(ctx context.Context, set SetRecord) error
	EnqueueEndSession(ctx context.Context, session Session) error
}

// QueueInspector reports what is still pending for a single session.
type QueueInspector interface {
	SessionQueueState(ctx context.Context, sessionID string) (pendingSets int, pendingEnd bool, err error)
}

// ChangeNotifier is told whenever the pending queue may have changed.
type ChangeNotifier interface {
	Notify(ctx context.Context)
}

// Option configures optional behaviour for the Service.
type Option func(*Service)

// WithClock overrides the time source used for timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// WithIDGenerator overrides how new record ids are produced.
func WithIDGenerator(gen func() string) Option {
	return func(s *Service) {
		s.newID = gen
	}
}

// WithNotifier registers a listener for queue changes.
func WithNotifier(n ChangeNotifier) Option {
	return func(s *Service) {
		s.notifier = n
	}
}

// WithQueueInspector enables per-session sync status queries.
func WithQueueInspector(q QueueInspector) Option {
	return func(s *Service) {
		s.inspector = q
	}
}

// WithLogger overrides the logger used to report degraded reads.
func WithLogger(logger *log.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

// Service is the only mutation surface for workout data. Every method commits
// to the local store before it records a sync intent.
type Service struct {
	repo      Repository
	outbox    Outbox
	inspector QueueInspector
	notifier  ChangeNotifier
	now       func() time.Time
	newID     func() string
	logger    *log.Logger
}

// NewService constructs a Service.
func NewService(repo Repository, outbox Outbox, opts ...Option) *Service {
	s := &Service{
		repo:   repo,
		outbox: outbox,
		now:    func() time.Time { return time.Now().UTC() },
		newID:  uuid.NewString,
		logger: log.New(log.Writer(), "[domain] ", log.LstdFlags),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateSession stores the session and its optional details, then enqueues an upsert.
func (s *Service) CreateSession(ctx context.Context, session Session, details *SessionDetails) (*Session, error) {
	if strings.TrimSpace(session.UserID) == "" {
		return nil, fmt.Errorf("%w: user_id is required", ErrInvalidInput)
	}

	now := s.now()
	if session.ID == "" {
		session.ID = s.newID()
	}
	if session.StartedAt.IsZero() {
		session.StartedAt = now
	}
	session.UpdatedAt = now

	if err := s.repo.PutSession(ctx, session); err != nil {
		return nil, fmt.Errorf("store session: %w", err)
	}
	if details != nil {
		if err := s.putDetails(ctx, session.ID, *details); err != nil {
			return nil, err
		}
	}
	observability.RecordLocalWrite(now)

	if err := s.outbox.EnqueueUpsertSession(ctx, session); err != nil {
		return nil, fmt.Errorf("enqueue session: %w", err)
	}
	s.notify(ctx)
	return &session, nil
}

// AddSet stores a new set for the session and enqueues an upsert.
func (s *Service) AddSet(ctx context.Context, sessionID, exerciseName string, setIndex int, patch SetPatch) (*SetRecord, error) {
	if strings.TrimSpace(exerciseName) == "" {
		return nil, fmt.Errorf("%w: exercise_name is required", ErrInvalidInput)
	}
	if setIndex < 0 {
		return nil, fmt.Errorf("%w: set_index must be >= 0", ErrInvalidInput)
	}

	session, err := s.repo.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, ErrSessionNotFound
	}

	now := s.now()
	rec := SetRecord{
		ID:           s.newID(),
		SessionID:    sessionID,
		ExerciseName: exerciseName,
		SetIndex:     setIndex,
		UpdatedAt:    now,
	}
	patch.Apply(&rec)

	if err := s.repo.PutSet(ctx, rec); err != nil {
		return nil, fmt.Errorf("store set: %w", err)
	}
	observability.RecordLocalWrite(now)

	if err := s.outbox.EnqueueUpsertSet(ctx, rec); err != nil {
		return nil, fmt.Errorf("enqueue set: %w", err)
	}
	s.notify(ctx)
	return &rec, nil
}

// UpdateSetBuffered stores the change without enqueueing it. Callers debounce
// high-frequency edits and flush them later through UpdateSetImmediate.
func (s *Service) UpdateSetBuffered(ctx context.Context, setID string, patch SetPatch) (*SetRecord, error) {
	return s.updateSet(ctx, setID, patch)
}

// UpdateSetImmediate stores the change and enqueues an upsert in the same call.
func (s *Service) UpdateSetImmediate(ctx context.Context, setID string, patch SetPatch) (*SetRecord, error) {
	rec, err := s.updateSet(ctx, setID, patch)
	if err != nil {
		return nil, err
	}
	if err := s.outbox.EnqueueUpsertSet(ctx, *rec); err != nil {
		return nil, fmt.Errorf("enqueue set: %w", err)
	}
	s.notify(ctx)
	return rec, nil
}

func (s *Service) updateSet(ctx context.Context, setID string, patch SetPatch) (*SetRecord, error) {
	rec, err := s.repo.GetSet(ctx, setID)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, ErrSetNotFound
	}

	now := s.now()
	patch.Apply(rec)
	rec.UpdatedAt = now
	if err := s.repo.PutSet(ctx, *rec); err != nil {
		return nil, fmt.Errorf("store set: %w", err)
	}
	observability.RecordLocalWrite(now)
	return rec, nil
}

// EndSession stamps ended_at and enqueues the end operation. Missing or
// already ended sessions are left untouched.
func (s *Service) EndSession(ctx context.Context, sessionID string) error {
	session, err := s.repo.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if session == nil || !session.Active() {
		return nil
	}

	now := s.now()
	session.EndedAt = &now
	session.UpdatedAt = now
	if err := s.repo.PutSession(ctx, *session); err != nil {
		return fmt.Errorf("store session: %w", err)
	}
	observability.RecordLocalWrite(now)

	if err := s.outbox.EnqueueEndSession(ctx, *session); err != nil {
		return fmt.Errorf("enqueue end session: %w", err)
	}
	s.notify(ctx)
	return nil
}

// MergeRemoteSessions inserts remote sessions that are not present locally,
// along with their sets and workout names. Existing local sessions always win.
// workoutNames is keyed by workout id. It returns the number of sessions inserted.
func (s *Service) MergeRemoteSessions(ctx context.Context, remote []Session, setsBySession map[string][]SetRecord, workoutNames map[string]string) (int, error) {
	inserted := 0
	for _, session := range remote {
		existing, err := s.repo.GetSession(ctx, session.ID)
		if err != nil {
			return inserted, err
		}
		if existing != nil {
			continue
		}

		if err := s.repo.PutSession(ctx, session); err != nil {
			return inserted, fmt.Errorf("store remote session %s: %w", session.ID, err)
		}
		for _, rec := range setsBySession[session.ID] {
			if err := s.repo.PutSet(ctx, rec); err != nil {
				return inserted, fmt.Errorf("store remote set %s: %w", rec.ID, err)
			}
		}
		if session.WorkoutID != nil {
			if name, ok := workoutNames[*session.WorkoutID]; ok && name != "" {
				if err := s.putDetails(ctx, session.ID, SessionDetails{WorkoutName: name}); err != nil {
					return inserted, err
				}
			}
		}
		inserted++
	}
	return inserted, nil
}

// GetSession returns the locally stored session.
func (s *Service) GetSession(ctx context.Context, id string) (*Session, error) {
	session, err := s.repo.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, ErrSessionNotFound
	}
	return session, nil
}

// GetSetsForSession returns the session's sets ordered by set_index.
func (s *Service) GetSetsForSession(ctx context.Context, sessionID string) ([]SetRecord, error) {
	sets, err := s.repo.ListSetsBySession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(sets, func(i, j int) bool {
		return sets[i].SetIndex < sets[j].SetIndex
	})
	return sets, nil
}

// GetActiveSession returns the user's unterminated session, or nil when there
// is none. When several exist the most recently started one wins.
func (s *Service) GetActiveSession(ctx context.Context, userID string) (*Session, error) {
	sessions, err := s.repo.ListActiveSessions(ctx, userID)
	if err != nil {
		return nil, err
	}
	if len(sessions) == 0 {
		return nil, nil
	}
	sortSessions(sessions)
	if len(sessions) > 1 {
		s.logger.Printf("user %s has %d unterminated sessions, using %s", userID, len(sessions), sessions[0].ID)
	}
	active := sessions[0]
	return &active, nil
}

// ListSessions returns a page of the user's sessions, newest first.
func (s *Service) ListSessions(ctx context.Context, userID string, cursor *Cursor, limit int) ([]Session, *Cursor, error) {
	sessions, next, err := s.repo.ListSessionsByUser(ctx, userID, cursor, limit)
	if err != nil {
		return nil, nil, err
	}
	sortSessions(sessions)
	return sessions, next, nil
}

// GetSessionDetails returns the cached session context. Missing or unreadable
// entries yield empty details rather than an error.
func (s *Service) GetSessionDetails(ctx context.Context, sessionID string) (SessionDetails, error) {
	meta, err := s.repo.GetMetadata(ctx, detailsID(sessionID))
	if err != nil {
		return SessionDetails{}, err
	}
	if meta == nil {
		return SessionDetails{}, nil
	}
	var details SessionDetails
	if err := json.Unmarshal(meta.Value, &details); err != nil {
		s.logger.Printf("ignoring malformed details for session %s: %v", sessionID, err)
		return SessionDetails{}, nil
	}
	return details, nil
}

// SessionSyncStatus reports whether the session has queued set updates or a queued end.
func (s *Service) SessionSyncStatus(ctx context.Context, sessionID string) (SessionSyncStatus, error) {
	status := SessionSyncStatus{SessionID: sessionID}
	if s.inspector == nil {
		return status, nil
	}
	pendingSets, pendingEnd, err := s.inspector.SessionQueueState(ctx, sessionID)
	if err != nil {
		return status, err
	}
	status.PendingSets = pendingSets
	status.PendingEnd = pendingEnd
	return status, nil
}

func (s *Service) putDetails(ctx context.Context, sessionID string, details SessionDetails) error {
	body, err := json.Marshal(details)
	if err != nil {
		return err
	}
	meta := Metadata{ID: detailsID(sessionID), Key: SessionDetailsKey, Value: body}
	if err := s.repo.PutMetadata(ctx, meta); err != nil {
		return fmt.Errorf("store session details: %w", err)
	}
	return nil
}

func (s *Service) notify(ctx context.Context) {
	if s.notifier != nil {
		s.notifier.Notify(ctx)
	}
}

func detailsID(sessionID string) string {
	return SessionDetailsKey + "_" + sessionID
}

func sortSessions(sessions []Session) {
	sort.SliceStable(sessions, func(i, j int) bool {
		if sessions[i].StartedAt.Equal(sessions[j].StartedAt) {
			return sessions[i].ID > sessions[j].ID
		}
		return sessions[i].StartedAt.After(sessions[j].StartedAt)
	})
}
