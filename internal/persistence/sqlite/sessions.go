package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"example.com/workoutsync/internal/domain"
)

const sessionColumns = `id, user_id, workout_id, started_at, ended_at, updated_at`

// PutSession inserts or replaces a session.
func (s *Store) PutSession(ctx context.Context, session domain.Session) error {
	const stmt = `
INSERT INTO sessions (id, user_id, workout_id, started_at, ended_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
  user_id=excluded.user_id,
  workout_id=excluded.workout_id,
  started_at=excluded.started_at,
  ended_at=excluded.ended_at,
  updated_at=excluded.updated_at`

	_, err := s.db.ExecContext(ctx, stmt,
		session.ID,
		session.UserID,
		nullableString(session.WorkoutID),
		toNanos(session.StartedAt),
		nullableNanos(session.EndedAt),
		toNanos(session.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("put session: %w", err)
	}
	return nil
}

// GetSession returns the session with id, or nil when it does not exist.
func (s *Store) GetSession(ctx context.Context, id string) (*domain.Session, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, id)
	session, err := scanSession(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get session: %w", err)
	}
	return &session, nil
}

// ListSessionsByUser returns the user's sessions newest first. A limit of zero
// or less returns every remaining session.
func (s *Store) ListSessionsByUser(ctx context.Context, userID string, cursor *domain.Cursor, limit int) ([]domain.Session, *domain.Cursor, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions WHERE user_id = ?`
	args := []any{userID}
	if cursor != nil {
		query += ` AND (started_at < ? OR (started_at = ? AND id < ?))`
		ts := toNanos(cursor.StartedAt)
		args = append(args, ts, ts, cursor.ID)
	}
	query += ` ORDER BY started_at DESC, id DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	sessions, err := s.querySessions(ctx, query, args...)
	if err != nil {
		return nil, nil, fmt.Errorf("list sessions: %w", err)
	}

	var next *domain.Cursor
	if limit > 0 && len(sessions) == limit {
		last := sessions[len(sessions)-1]
		next = &domain.Cursor{StartedAt: last.StartedAt, ID: last.ID}
	}
	return sessions, next, nil
}

// ListActiveSessions returns every session of the user that has not ended.
func (s *Store) ListActiveSessions(ctx context.Context, userID string) ([]domain.Session, error) {
	sessions, err := s.querySessions(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE user_id = ? AND ended_at IS NULL`, userID)
	if err != nil {
		return nil, fmt.Errorf("list active sessions: %w", err)
	}
	return sessions, nil
}

func (s *Store) querySessions(ctx context.Context, query string, args ...any) ([]domain.Session, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sessions := make([]domain.Session, 0)
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, session)
	}
	return sessions, rows.Err()
}

func scanSession(row rowScanner) (domain.Session, error) {
	var (
		session   domain.Session
		workoutID sql.NullString
		startedAt int64
		endedAt   sql.NullInt64
		updatedAt int64
	)
	if err := row.Scan(&session.ID, &session.UserID, &workoutID, &startedAt, &endedAt, &updatedAt); err != nil {
		return domain.Session{}, err
	}
	if workoutID.Valid {
		session.WorkoutID = &workoutID.String
	}
	session.StartedAt = fromNanos(startedAt)
	if endedAt.Valid {
		ended := fromNanos(endedAt.Int64)
		session.EndedAt = &ended
	}
	session.UpdatedAt = fromNanos(updatedAt)
	return session, nil
}
