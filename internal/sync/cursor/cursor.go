// Package cursor stores the resume points of incremental sync streams.
package cursor

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/storepilot/sync-orchestrator/internal/db"
)

// ErrNotFound is returned when no cursor has been stored for a stream yet.
var ErrNotFound = errors.New("sync cursor not found")

// timeLayout is fixed width so that cursors compare correctly as strings.
const timeLayout = "2006-01-02T15:04:05.000000Z07:00"

// FormatTime encodes t as a cursor value.
func FormatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

// ParseTime decodes a cursor value written by FormatTime.
func ParseTime(value string) (time.Time, error) {
	t, err := time.Parse(timeLayout, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid cursor %q: %w", value, err)
	}
	return t, nil
}

// Cursor is the resume point of one (shop, key) stream.
type Cursor struct {
	ShopID    int64
	Key       string
	Value     string
	Meta      map[string]any
	UpdatedAt time.Time
}

// Time decodes Value as a timestamp.
func (c *Cursor) Time() (time.Time, error) {
	return ParseTime(c.Value)
}

// Store persists cursors. Advance never moves a cursor backwards.
type Store interface {
	// Get returns the cursor of a stream or ErrNotFound.
	Get(ctx context.Context, shopID int64, key string) (*Cursor, error)

	// Advance stores value if it is greater than the stored one (or nothing is
	// stored). It reports whether the cursor moved.
	Advance(ctx context.Context, shopID int64, key, value string, meta map[string]any) (bool, error)
}

type dbStore struct {
	db db.DBTX
}

// NewDBStore creates a Store backed by the sync_cursors table.
func NewDBStore(conn db.DBTX) Store {
	return &dbStore{db: conn}
}

func (s *dbStore) Get(ctx context.Context, shopID int64, key string) (*Cursor, error) {
	c := &Cursor{ShopID: shopID, Key: key}
	err := s.db.QueryRow(ctx, `
SELECT cursor, meta, updated_at FROM sync_cursors WHERE shop_id = $1 AND key = $2`,
		shopID, key).Scan(&c.Value, &c.Meta, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read cursor %s for shop %d: %w", key, shopID, err)
	}
	return c, nil
}

func (s *dbStore) Advance(
	ctx context.Context, shopID int64, key, value string, meta map[string]any,
) (bool, error) {
	// The conditional update makes concurrent or late writers unable to move
	// the cursor back. Byte-wise collation keeps the comparison independent of
	// the database locale.
	tag, err := s.db.Exec(ctx, `
INSERT INTO sync_cursors (shop_id, key, cursor, meta, updated_at)
VALUES ($1, $2, $3, $4, now())
ON CONFLICT (shop_id, key) DO UPDATE
SET cursor = EXCLUDED.cursor, meta = EXCLUDED.meta, updated_at = EXCLUDED.updated_at
WHERE sync_cursors.cursor COLLATE "C" < EXCLUDED.cursor COLLATE "C"`,
		shopID, key, value, meta)
	if err != nil {
		return false, fmt.Errorf("failed to advance cursor %s for shop %d: %w", key, shopID, err)
	}
	return tag.RowsAffected() == 1, nil
}

type streamKey struct {
	shopID int64
	key    string
}

// MemoryStore keeps cursors in memory.
type MemoryStore struct {
	mu      sync.Mutex
	now     func() time.Time
	cursors map[streamKey]Cursor
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{now: time.Now, cursors: map[streamKey]Cursor{}}
}

// Get implements Store.
func (m *MemoryStore) Get(_ context.Context, shopID int64, key string) (*Cursor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.cursors[streamKey{shopID, key}]
	if !ok {
		return nil, ErrNotFound
	}
	c.Meta = maps.Clone(c.Meta)
	return &c, nil
}

// Advance implements Store.
func (m *MemoryStore) Advance(_ context.Context, shopID int64, key, value string, meta map[string]any) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sk := streamKey{shopID, key}
	if current, ok := m.cursors[sk]; ok && current.Value >= value {
		return false, nil
	}
	m.cursors[sk] = Cursor{
		ShopID:    shopID,
		Key:       key,
		Value:     value,
		Meta:      maps.Clone(meta),
		UpdatedAt: m.now(),
	}
	return true, nil
}
