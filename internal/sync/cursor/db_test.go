package cursor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/storepilot/sync-orchestrator/database"
)

func TestDBStoreAdvance(t *testing.T) {
	t.Parallel()

	pool, _ := database.SetupTestDB(t)
	ctx := context.Background()

	var shopID int64
	require.NoError(t, pool.QueryRow(ctx,
		`INSERT INTO shops (name, platform, external_id) VALUES ('Demo', 'storefront', 'demo') RETURNING id`,
	).Scan(&shopID))

	store := NewDBStore(pool)

	_, err := store.Get(ctx, shopID, "orders")
	require.ErrorIs(t, err, ErrNotFound)

	t1 := time.Date(2025, 5, 1, 8, 0, 0, 0, time.UTC)
	moved, err := store.Advance(ctx, shopID, "orders", FormatTime(t1), map[string]any{"pages": 3})
	require.NoError(t, err)
	assert.True(t, moved)

	moved, err = store.Advance(ctx, shopID, "orders", FormatTime(t1.Add(-time.Minute)), nil)
	require.NoError(t, err)
	assert.False(t, moved)

	c, err := store.Get(ctx, shopID, "orders")
	require.NoError(t, err)
	assert.Equal(t, FormatTime(t1), c.Value)
	assert.EqualValues(t, 3, c.Meta["pages"])

	moved, err = store.Advance(ctx, shopID, "orders", FormatTime(t1.Add(time.Second)), nil)
	require.NoError(t, err)
	assert.True(t, moved)
}
