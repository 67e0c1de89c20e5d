package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/storepilot/sync-orchestrator/internal/db"
)

// PostgresStore keeps locks in the job_locks table.
type PostgresStore struct {
	db db.DBTX
}

// NewPostgresStore creates a Store over the job_locks table.
func NewPostgresStore(conn db.DBTX) *PostgresStore {
	return &PostgresStore{db: conn}
}

// The upsert only overwrites an existing row when it has expired, so of two
// concurrent callers at most one gets a row back.
const acquireLockSQL = `
INSERT INTO job_locks (lock_key, owner, acquired_at, expires_at)
VALUES ($1, $2, $3, $4)
ON CONFLICT (lock_key) DO UPDATE
SET owner = EXCLUDED.owner, acquired_at = EXCLUDED.acquired_at, expires_at = EXCLUDED.expires_at
WHERE job_locks.expires_at <= EXCLUDED.acquired_at`

// TryAcquire implements Store.
func (s *PostgresStore) TryAcquire(ctx context.Context, key, owner string, now time.Time, ttl time.Duration) (bool, error) {
	tag, err := s.db.Exec(ctx, acquireLockSQL, key, owner, now, now.Add(ttl))
	if err != nil {
		return false, fmt.Errorf("failed to upsert job lock: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// Release implements Store.
func (s *PostgresStore) Release(ctx context.Context, key, owner string) error {
	if _, err := s.db.Exec(ctx, `DELETE FROM job_locks WHERE lock_key = $1 AND owner = $2`, key, owner); err != nil {
		return fmt.Errorf("failed to delete job lock: %w", err)
	}
	return nil
}

// PurgeExpired implements Purger. Expired rows never block acquisition,
// this only keeps the table small.
func (s *PostgresStore) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	tag, err := s.db.Exec(ctx, `DELETE FROM job_locks WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, fmt.Errorf("failed to purge expired job locks: %w", err)
	}
	return tag.RowsAffected(), nil
}
