package syncer

import (
	"context"
	"time"

	"example.com/workoutsync/internal/domain"
)

// Remote is the remote service contract. Every call must be idempotent and is
// treated as all-or-nothing.
type Remote interface {
	BatchUpsertSessions(ctx context.Context, sessions []domain.Session) error
	BatchUpsertSets(ctx context.Context, sets []domain.SetRecord) error
	EndSession(ctx context.Context, sessionID string, endedAt time.Time) error
}

// Fetcher is implemented by remotes that can return a user's remote state.
type Fetcher interface {
	FetchSnapshot(ctx context.Context, userID string) (domain.Snapshot, error)
}
