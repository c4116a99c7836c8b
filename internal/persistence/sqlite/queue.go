package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"example.com/workoutsync/internal/outbox"
)

const itemColumns = `id, type, session_id, payload, created_at, retry_count, revision, last_error`

// PutItem upserts a queue item by id. A re-enqueued item gets a fresh retry
// budget and a new revision, and supersedes any dead letter with the same id.
func (s *Store) PutItem(ctx context.Context, item outbox.Item) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("put item: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
INSERT INTO sync_queue (id, type, session_id, payload, created_at, retry_count, revision, last_error)
VALUES (?, ?, ?, ?, ?, 0, 1, NULL)
ON CONFLICT(id) DO UPDATE SET
  type=excluded.type,
  session_id=excluded.session_id,
  payload=excluded.payload,
  created_at=excluded.created_at,
  retry_count=0,
  revision=sync_queue.revision + 1,
  last_error=NULL`,
		item.ID,
		string(item.Type),
		item.SessionID,
		string(item.Payload),
		toNanos(item.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("put item: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM dead_letters WHERE id = ?`, item.ID); err != nil {
		return fmt.Errorf("put item: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("put item: %w", err)
	}
	return nil
}

// GetItem returns the queue item with id, or nil when it does not exist.
func (s *Store) GetItem(ctx context.Context, id string) (*outbox.Item, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+itemColumns+` FROM sync_queue WHERE id = ?`, id)
	item, err := scanItem(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get item: %w", err)
	}
	return &item, nil
}

// ListItems returns every queue item ordered by creation time, oldest first.
func (s *Store) ListItems(ctx context.Context) ([]outbox.Item, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+itemColumns+` FROM sync_queue ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("list items: %w", err)
	}
	defer rows.Close()

	items := make([]outbox.Item, 0)
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("list items: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list items: %w", err)
	}
	return items, nil
}

// CountItems returns the number of pending queue items.
func (s *Store) CountItems(ctx context.Context) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sync_queue`).Scan(&count); err != nil {
		return 0, fmt.Errorf("count items: %w", err)
	}
	return count, nil
}

// DeleteItem removes the item if it still carries the given revision. It
// reports whether a row was deleted.
func (s *Store) DeleteItem(ctx context.Context, id string, revision int64) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sync_queue WHERE id = ? AND revision = ?`, id, revision)
	if err != nil {
		return false, fmt.Errorf("delete item: %w", err)
	}
	return affected(res)
}

// UpdateRetry records a failed attempt on the item if it still carries the
// given revision.
func (s *Store) UpdateRetry(ctx context.Context, id string, revision int64, retryCount int, lastError string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sync_queue SET retry_count = ?, last_error = ? WHERE id = ? AND revision = ?`,
		retryCount, emptyToNull(lastError), id, revision)
	if err != nil {
		return false, fmt.Errorf("update retry: %w", err)
	}
	return affected(res)
}

// MoveToDeadLetter atomically removes the item from the queue and records it
// as a dead letter. Nothing happens when the item was re-enqueued since it was read.
func (s *Store) MoveToDeadLetter(ctx context.Context, item outbox.Item, reason string, failedAt time.Time) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("move to dead letter: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `DELETE FROM sync_queue WHERE id = ? AND revision = ?`, item.ID, item.Revision)
	if err != nil {
		return false, fmt.Errorf("move to dead letter: %w", err)
	}
	if ok, err := affected(res); err != nil || !ok {
		return false, err
	}

	_, err = tx.ExecContext(ctx, `
INSERT INTO dead_letters (id, type, session_id, payload, created_at, retry_count, revision, reason, failed_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
  type=excluded.type,
  session_id=excluded.session_id,
  payload=excluded.payload,
  created_at=excluded.created_at,
  retry_count=excluded.retry_count,
  revision=excluded.revision,
  reason=excluded.reason,
  failed_at=excluded.failed_at`,
		item.ID,
		string(item.Type),
		item.SessionID,
		string(item.Payload),
		toNanos(item.CreatedAt),
		item.RetryCount,
		item.Revision,
		reason,
		toNanos(failedAt),
	)
	if err != nil {
		return false, fmt.Errorf("move to dead letter: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("move to dead letter: %w", err)
	}
	return true, nil
}

// SessionQueueState counts pending set upserts and reports a pending end for
// the session, using the session_id index.
func (s *Store) SessionQueueState(ctx context.Context, sessionID string) (int, bool, error) {
	var pendingSets, pendingEnds int
	err := s.db.QueryRowContext(ctx, `
SELECT
  COALESCE(SUM(CASE WHEN type = ? THEN 1 ELSE 0 END), 0),
  COALESCE(SUM(CASE WHEN type = ? THEN 1 ELSE 0 END), 0)
FROM sync_queue WHERE session_id = ?`,
		string(outbox.TypeUpsertSet), string(outbox.TypeEndSession), sessionID,
	).Scan(&pendingSets, &pendingEnds)
	if err != nil {
		return 0, false, fmt.Errorf("session queue state: %w", err)
	}
	return pendingSets, pendingEnds > 0, nil
}

func scanItem(row rowScanner) (outbox.Item, error) {
	var (
		item      outbox.Item
		kind      string
		payload   string
		createdAt int64
		lastError sql.NullString
	)
	if err := row.Scan(&item.ID, &kind, &item.SessionID, &payload, &createdAt, &item.RetryCount, &item.Revision, &lastError); err != nil {
		return outbox.Item{}, err
	}
	item.Type = outbox.Type(kind)
	item.Payload = []byte(payload)
	item.CreatedAt = fromNanos(createdAt)
	item.LastError = lastError.String
	return item, nil
}

func affected(res sql.Result) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
