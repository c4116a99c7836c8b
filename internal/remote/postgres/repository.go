// Package postgres is the remote store behind the sync API and the Kafka consumer.
package postgres

import (
	"context"
	_ "embed"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"example.com/workoutsync/internal/domain"
)

//go:embed schema.sql
var schemaSQL string

// Repository provides Postgres-backed persistence for synced sessions and sets.
// Upserts are last-write-wins on updated_at, so replays and reordered
// deliveries never roll a record back.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// EnsureSchema creates the tables when they do not exist.
func (r *Repository) EnsureSchema(ctx context.Context) error {
	if _, err := r.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// BatchUpsertSessions applies every session in one transaction.
func (r *Repository) BatchUpsertSessions(ctx context.Context, sessions []domain.Session) error {
	const stmt = `INSERT INTO workout_sessions (session_id, user_id, workout_id, started_at, ended_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6)
        ON CONFLICT (session_id) DO UPDATE SET
            user_id = EXCLUDED.user_id,
            workout_id = EXCLUDED.workout_id,
            started_at = EXCLUDED.started_at,
            ended_at = COALESCE(workout_sessions.ended_at, EXCLUDED.ended_at),
            updated_at = EXCLUDED.updated_at
        WHERE workout_sessions.updated_at <= EXCLUDED.updated_at`

	batch := &pgx.Batch{}
	for _, s := range sessions {
		batch.Queue(stmt, s.ID, s.UserID, s.WorkoutID, s.StartedAt, s.EndedAt, s.UpdatedAt)
	}
	return r.sendBatch(ctx, batch, "sessions")
}

// BatchUpsertSets applies every set in one transaction.
func (r *Repository) BatchUpsertSets(ctx context.Context, sets []domain.SetRecord) error {
	const stmt = `INSERT INTO workout_sets (set_id, session_id, exercise_name, set_index, reps, weight, notes, done, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
        ON CONFLICT (set_id) DO UPDATE SET
            session_id = EXCLUDED.session_id,
            exercise_name = EXCLUDED.exercise_name,
            set_index = EXCLUDED.set_index,
            reps = EXCLUDED.reps,
            weight = EXCLUDED.weight,
            notes = EXCLUDED.notes,
            done = EXCLUDED.done,
            updated_at = EXCLUDED.updated_at
        WHERE workout_sets.updated_at <= EXCLUDED.updated_at`

	batch := &pgx.Batch{}
	for _, s := range sets {
		batch.Queue(stmt, s.ID, s.SessionID, s.ExerciseName, s.SetIndex, s.Reps, s.Weight, s.Notes, s.Done, s.UpdatedAt)
	}
	return r.sendBatch(ctx, batch, "sets")
}

// EndSession stamps ended_at once. Ending an already ended session is a no-op;
// ending an unknown session returns domain.ErrSessionNotFound.
func (r *Repository) EndSession(ctx context.Context, sessionID string, endedAt time.Time) error {
	const stmt = `UPDATE workout_sessions
        SET ended_at = COALESCE(ended_at, $2),
            updated_at = GREATEST(updated_at, $2)
        WHERE session_id = $1`

	tag, err := r.pool.Exec(ctx, stmt, sessionID, endedAt)
	if err != nil {
		return fmt.Errorf("end session %s: %w", sessionID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("end session %s: %w", sessionID, domain.ErrSessionNotFound)
	}
	return nil
}

// PutWorkout records a workout template name.
func (r *Repository) PutWorkout(ctx context.Context, workoutID, name string) error {
	_, err := r.pool.Exec(ctx, `INSERT INTO workouts (workout_id, name) VALUES ($1, $2)
        ON CONFLICT (workout_id) DO UPDATE SET name = EXCLUDED.name`, workoutID, name)
	return err
}

// FetchSnapshot returns the user's sessions, their sets, and the names of the
// workouts they reference.
func (r *Repository) FetchSnapshot(ctx context.Context, userID string) (domain.Snapshot, error) {
	snapshot := domain.Snapshot{
		Sessions:      make([]domain.Session, 0),
		SetsBySession: make(map[string][]domain.SetRecord),
		WorkoutNames:  make(map[string]string),
	}

	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly})
	if err != nil {
		return snapshot, err
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx, `SELECT session_id, user_id, workout_id, started_at, ended_at, updated_at
        FROM workout_sessions WHERE user_id = $1 ORDER BY started_at DESC, session_id DESC`, userID)
	if err != nil {
		return snapshot, err
	}
	ids := make([]string, 0)
	workoutIDs := make([]string, 0)
	for rows.Next() {
		var s domain.Session
		if err := rows.Scan(&s.ID, &s.UserID, &s.WorkoutID, &s.StartedAt, &s.EndedAt, &s.UpdatedAt); err != nil {
			rows.Close()
			return snapshot, err
		}
		snapshot.Sessions = append(snapshot.Sessions, normalizeSession(s))
		ids = append(ids, s.ID)
		if s.WorkoutID != nil {
			workoutIDs = append(workoutIDs, *s.WorkoutID)
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return snapshot, err
	}
	if len(ids) == 0 {
		return snapshot, tx.Commit(ctx)
	}

	rows, err = tx.Query(ctx, `SELECT set_id, session_id, exercise_name, set_index, reps, weight, notes, done, updated_at
        FROM workout_sets WHERE session_id = ANY($1) ORDER BY session_id, set_index`, ids)
	if err != nil {
		return snapshot, err
	}
	for rows.Next() {
		var s domain.SetRecord
		if err := rows.Scan(&s.ID, &s.SessionID, &s.ExerciseName, &s.SetIndex, &s.Reps, &s.Weight, &s.Notes, &s.Done, &s.UpdatedAt); err != nil {
			rows.Close()
			return snapshot, err
		}
		s.UpdatedAt = s.UpdatedAt.UTC()
		snapshot.SetsBySession[s.SessionID] = append(snapshot.SetsBySession[s.SessionID], s)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return snapshot, err
	}

	if len(workoutIDs) > 0 {
		rows, err = tx.Query(ctx, `SELECT workout_id, name FROM workouts WHERE workout_id = ANY($1)`, workoutIDs)
		if err != nil {
			return snapshot, err
		}
		for rows.Next() {
			var id, name string
			if err := rows.Scan(&id, &name); err != nil {
				rows.Close()
				return snapshot, err
			}
			snapshot.WorkoutNames[id] = name
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return snapshot, err
		}
	}

	return snapshot, tx.Commit(ctx)
}

func (r *Repository) sendBatch(ctx context.Context, batch *pgx.Batch, what string) error {
	if batch.Len() == 0 {
		return nil
	}

	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	results := tx.SendBatch(ctx, batch)
	for i := 0; i < batch.Len(); i++ {
		if _, err := results.Exec(); err != nil {
			results.Close()
			return fmt.Errorf("upsert %s: %w", what, err)
		}
	}
	if err := results.Close(); err != nil {
		return fmt.Errorf("upsert %s: %w", what, err)
	}
	return tx.Commit(ctx)
}

func normalizeSession(s domain.Session) domain.Session {
	s.StartedAt = s.StartedAt.UTC()
	s.UpdatedAt = s.UpdatedAt.UTC()
	if s.EndedAt != nil {
		ended := s.EndedAt.UTC()
		s.EndedAt = &ended
	}
	return s
}
