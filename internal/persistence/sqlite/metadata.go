package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"example.com/workoutsync/internal/domain"
)

// PutMetadata inserts or replaces a metadata blob.
func (s *Store) PutMetadata(ctx context.Context, meta domain.Metadata) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO metadata (id, key, value) VALUES (?, ?, ?)
ON CONFLICT(id) DO UPDATE SET key=excluded.key, value=excluded.value`,
		meta.ID, meta.Key, meta.Value)
	if err != nil {
		return fmt.Errorf("put metadata: %w", err)
	}
	return nil
}

// GetMetadata returns the metadata blob with id, or nil when it does not exist.
func (s *Store) GetMetadata(ctx context.Context, id string) (*domain.Metadata, error) {
	var meta domain.Metadata
	err := s.db.QueryRowContext(ctx, `SELECT id, key, value FROM metadata WHERE id = ?`, id).
		Scan(&meta.ID, &meta.Key, &meta.Value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get metadata: %w", err)
	}
	return &meta, nil
}
