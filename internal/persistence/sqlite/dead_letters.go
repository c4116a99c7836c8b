package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"example.com/workoutsync/internal/outbox"
)

// ListDeadLetters returns every dead letter, oldest failure first.
func (s *Store) ListDeadLetters(ctx context.Context) ([]outbox.DeadLetter, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT id, type, session_id, payload, created_at, retry_count, revision, reason, failed_at
FROM dead_letters ORDER BY failed_at, id`)
	if err != nil {
		return nil, fmt.Errorf("list dead letters: %w", err)
	}
	defer rows.Close()

	letters := make([]outbox.DeadLetter, 0)
	for rows.Next() {
		letter, err := scanDeadLetter(rows)
		if err != nil {
			return nil, fmt.Errorf("list dead letters: %w", err)
		}
		letters = append(letters, letter)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list dead letters: %w", err)
	}
	return letters, nil
}

// RequeueDeadLetter moves a dead letter back into the queue with a fresh retry
// budget. When the queue already holds a newer item for the same id, the dead
// letter is discarded instead.
func (s *Store) RequeueDeadLetter(ctx context.Context, id string, now time.Time) (outbox.RequeueResult, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("requeue dead letter: %w", err)
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, `
SELECT id, type, session_id, payload, created_at, retry_count, revision, reason, failed_at
FROM dead_letters WHERE id = ?`, id)
	letter, err := scanDeadLetter(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, fmt.Errorf("%w: %s", outbox.ErrDeadLetterNotFound, id)
		}
		return 0, fmt.Errorf("requeue dead letter: %w", err)
	}

	var pending int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM sync_queue WHERE id = ?`, id).Scan(&pending); err != nil {
		return 0, fmt.Errorf("requeue dead letter: %w", err)
	}

	result := outbox.Superseded
	if pending == 0 {
		_, err = tx.ExecContext(ctx, `
INSERT INTO sync_queue (id, type, session_id, payload, created_at, retry_count, revision, last_error)
VALUES (?, ?, ?, ?, ?, 0, 1, NULL)`,
			letter.ID, string(letter.Type), letter.SessionID, string(letter.Payload), toNanos(now))
		if err != nil {
			return 0, fmt.Errorf("requeue dead letter: %w", err)
		}
		result = outbox.Requeued
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM dead_letters WHERE id = ?`, id); err != nil {
		return 0, fmt.Errorf("requeue dead letter: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("requeue dead letter: %w", err)
	}
	return result, nil
}

// PurgeDeadLetters deletes every dead letter and returns how many were removed.
func (s *Store) PurgeDeadLetters(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM dead_letters`)
	if err != nil {
		return 0, fmt.Errorf("purge dead letters: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("purge dead letters: %w", err)
	}
	return int(n), nil
}

func scanDeadLetter(row rowScanner) (outbox.DeadLetter, error) {
	var (
		letter    outbox.DeadLetter
		kind      string
		payload   string
		createdAt int64
		failedAt  int64
	)
	if err := row.Scan(&letter.ID, &kind, &letter.SessionID, &payload, &createdAt, &letter.RetryCount, &letter.Revision, &letter.Reason, &failedAt); err != nil {
		return outbox.DeadLetter{}, err
	}
	letter.Type = outbox.Type(kind)
	letter.Payload = []byte(payload)
	letter.CreatedAt = fromNanos(createdAt)
	letter.FailedAt = fromNanos(failedAt)
	return letter, nil
}
