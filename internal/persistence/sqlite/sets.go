package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"example.com/workoutsync/internal/domain"
)

const setColumns = `id, session_id, exercise_name, set_index, reps, weight, notes, done, updated_at`

// PutSet inserts or replaces a set.
func (s *Store) PutSet(ctx context.Context, set domain.SetRecord) error {
	const stmt = `
INSERT INTO sets (id, session_id, exercise_name, set_index, reps, weight, notes, done, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
  session_id=excluded.session_id,
  exercise_name=excluded.exercise_name,
  set_index=excluded.set_index,
  reps=excluded.reps,
  weight=excluded.weight,
  notes=excluded.notes,
  done=excluded.done,
  updated_at=excluded.updated_at`

	var reps sql.NullInt64
	if set.Reps != nil {
		reps = sql.NullInt64{Int64: int64(*set.Reps), Valid: true}
	}
	var weight sql.NullFloat64
	if set.Weight != nil {
		weight = sql.NullFloat64{Float64: *set.Weight, Valid: true}
	}

	_, err := s.db.ExecContext(ctx, stmt,
		set.ID,
		set.SessionID,
		set.ExerciseName,
		set.SetIndex,
		reps,
		weight,
		nullableString(set.Notes),
		set.Done,
		toNanos(set.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("put set: %w", err)
	}
	return nil
}

// GetSet returns the set with id, or nil when it does not exist.
func (s *Store) GetSet(ctx context.Context, id string) (*domain.SetRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+setColumns+` FROM sets WHERE id = ?`, id)
	set, err := scanSet(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get set: %w", err)
	}
	return &set, nil
}

// ListSetsBySession returns the sets of a session using the session_id index.
func (s *Store) ListSetsBySession(ctx context.Context, sessionID string) ([]domain.SetRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+setColumns+` FROM sets WHERE session_id = ?`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list sets: %w", err)
	}
	defer rows.Close()

	sets := make([]domain.SetRecord, 0)
	for rows.Next() {
		set, err := scanSet(rows)
		if err != nil {
			return nil, fmt.Errorf("list sets: %w", err)
		}
		sets = append(sets, set)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list sets: %w", err)
	}
	return sets, nil
}

func scanSet(row rowScanner) (domain.SetRecord, error) {
	var (
		set       domain.SetRecord
		reps      sql.NullInt64
		weight    sql.NullFloat64
		notes     sql.NullString
		updatedAt int64
	)
	if err := row.Scan(&set.ID, &set.SessionID, &set.ExerciseName, &set.SetIndex, &reps, &weight, &notes, &set.Done, &updatedAt); err != nil {
		return domain.SetRecord{}, err
	}
	if reps.Valid {
		v := int(reps.Int64)
		set.Reps = &v
	}
	if weight.Valid {
		set.Weight = &weight.Float64
	}
	if notes.Valid {
		set.Notes = &notes.String
	}
	set.UpdatedAt = fromNanos(updatedAt)
	return set, nil
}
