package partition

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/storepilot/sync-orchestrator/database"
)

func TestPGCatalogMaintenance(t *testing.T) {
	t.Parallel()

	pool, _ := database.SetupTestDB(t)
	ctx := context.Background()
	catalog := NewPGCatalog(pool)

	now := time.Date(2025, 8, 1, 0, 0, 0, 0, time.UTC)
	m, err := NewMaintainer(catalog, clockAt(now))
	require.NoError(t, err)

	report, err := m.EnsureFuturePartitions(ctx, 2)
	require.NoError(t, err)
	require.NoError(t, report.Err())
	assert.Equal(t, []string{"order_items_2025q3", "order_items_2025q4", "order_items_2026q1"}, report.Created)

	exists, err := catalog.Exists(ctx, "order_items_2025q4")
	require.NoError(t, err)
	assert.True(t, exists)

	children, err := catalog.ListChildren(ctx, DefaultTable)
	require.NoError(t, err)
	assert.ElementsMatch(t,
		[]string{"order_items_default", "order_items_2025q3", "order_items_2025q4", "order_items_2026q1"},
		children)

	// Two years later the 2025 quarters fall out of a four quarter retention.
	later, err := NewMaintainer(catalog, clockAt(now.AddDate(2, 0, 0)))
	require.NoError(t, err)
	pruned, err := later.PruneOldPartitions(ctx, 4)
	require.NoError(t, err)
	assert.Equal(t, []string{"order_items_2025q3", "order_items_2025q4", "order_items_2026q1"}, pruned.Dropped)

	exists, err = catalog.Exists(ctx, "order_items_2025q3")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestPGCatalogCreateMovesRowsOutOfDefaultPartition(t *testing.T) {
	t.Parallel()

	pool, _ := database.SetupTestDB(t)
	ctx := context.Background()
	catalog := NewPGCatalog(pool)
	now := time.Date(2025, 8, 1, 0, 0, 0, 0, time.UTC)

	// A sync that ran before any quarterly partition existed.
	var shopID, orderID int64
	require.NoError(t, pool.QueryRow(ctx,
		`INSERT INTO shops (name, platform, external_id) VALUES ('Demo', 'storefront', 'demo') RETURNING id`,
	).Scan(&shopID))
	require.NoError(t, pool.QueryRow(ctx, `
INSERT INTO orders (shop_id, code, created_at_remote, changed_at_remote, raw_payload, synced_at)
VALUES ($1, 'A1', $2, $2, '{}', $2) RETURNING id`, shopID, now).Scan(&orderID))
	_, err := pool.Exec(ctx, `
INSERT INTO order_items (order_id, shop_id, line_no, variant_code, name, quantity, ordered_at)
VALUES ($1, $2, 1, 'V-1', 'Mug', 1, $3), ($1, $2, 2, 'V-2', 'Plate', 1, $4)`,
		orderID, shopID, now, time.Date(2019, 1, 5, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)

	m, err := NewMaintainer(catalog, clockAt(now))
	require.NoError(t, err)
	report, err := m.EnsureFuturePartitions(ctx, 2)
	require.NoError(t, err)
	require.NoError(t, report.Err())
	assert.Equal(t, []string{"order_items_2025q3", "order_items_2025q4", "order_items_2026q1"}, report.Created)

	count := func(table string) int {
		var n int
		require.NoError(t, pool.QueryRow(ctx, `SELECT count(*) FROM `+table).Scan(&n))
		return n
	}
	assert.Equal(t, 1, count("order_items_2025q3"))
	assert.Equal(t, 1, count("order_items_default"), "rows outside the new range stay in the default partition")
	assert.Equal(t, 2, count("order_items"))

	// A second pass finds everything in place.
	again, err := m.EnsureFuturePartitions(ctx, 2)
	require.NoError(t, err)
	assert.Empty(t, again.Created)
}
