package aggregate

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/storepilot/sync-orchestrator/internal/db"
)

// family holds the statements of one metric table.
type family struct {
	listKeys string
	upsert   string
	prune    string
}

var customerFamily = family{
	listKeys: `
SELECT key FROM (
    SELECT customer_guid AS key FROM orders WHERE customer_guid IS NOT NULL
    UNION
    SELECT customer_guid FROM customer_metrics
) k
WHERE key > $1
ORDER BY key
LIMIT $2`,
	upsert: `
WITH facts AS (
    SELECT customer_guid AS key,
           COUNT(*) AS orders_count,
           SUM(COALESCE(total_amount_base, total_amount, 0)) AS total,
           MIN(created_at_remote) AS first_at,
           MAX(created_at_remote) AS last_at
    FROM orders
    WHERE customer_guid = ANY($1)
    GROUP BY customer_guid
)
INSERT INTO customer_metrics (
    customer_guid, orders_count, total_spent, average_order_value,
    first_order_at, last_order_at, recalculated_at
)
SELECT key, orders_count, total, ROUND(total / orders_count, 2), first_at, last_at, $2
FROM facts
ON CONFLICT (customer_guid) DO UPDATE SET
    orders_count        = EXCLUDED.orders_count,
    total_spent         = EXCLUDED.total_spent,
    average_order_value = EXCLUDED.average_order_value,
    first_order_at      = EXCLUDED.first_order_at,
    last_order_at       = EXCLUDED.last_order_at,
    recalculated_at     = EXCLUDED.recalculated_at`,
	prune: `
DELETE FROM customer_metrics m
WHERE m.customer_guid = ANY($1)
  AND NOT EXISTS (SELECT 1 FROM orders o WHERE o.customer_guid = m.customer_guid)`,
}

var variantFamily = family{
	listKeys: `
SELECT key FROM (
    SELECT variant_code AS key FROM order_items WHERE variant_code IS NOT NULL AND variant_code <> ''
    UNION
    SELECT variant_code FROM variant_metrics
) k
WHERE key > $1
ORDER BY key
LIMIT $2`,
	upsert: `
WITH facts AS (
    SELECT variant_code AS key,
           COUNT(DISTINCT order_id) AS orders_count,
           SUM(quantity) AS quantity,
           SUM(COALESCE(total_price_base, total_price, 0)) AS revenue,
           MIN(ordered_at) AS first_at,
           MAX(ordered_at) AS last_at
    FROM order_items
    WHERE variant_code = ANY($1)
    GROUP BY variant_code
)
INSERT INTO variant_metrics (
    variant_code, orders_count, quantity_sold, revenue,
    first_sold_at, last_sold_at, recalculated_at
)
SELECT key, orders_count, quantity, revenue, first_at, last_at, $2
FROM facts
ON CONFLICT (variant_code) DO UPDATE SET
    orders_count    = EXCLUDED.orders_count,
    quantity_sold   = EXCLUDED.quantity_sold,
    revenue         = EXCLUDED.revenue,
    first_sold_at   = EXCLUDED.first_sold_at,
    last_sold_at    = EXCLUDED.last_sold_at,
    recalculated_at = EXCLUDED.recalculated_at`,
	prune: `
DELETE FROM variant_metrics m
WHERE m.variant_code = ANY($1)
  AND NOT EXISTS (SELECT 1 FROM order_items i WHERE i.variant_code = m.variant_code)`,
}

type dbStore struct {
	conn   db.Conn
	family family
}

// NewDBStore creates the PostgreSQL Store of kind.
func NewDBStore(kind Kind, conn db.Conn) (Store, error) {
	if conn == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	switch kind {
	case KindCustomers:
		return &dbStore{conn: conn, family: customerFamily}, nil
	case KindVariants:
		return &dbStore{conn: conn, family: variantFamily}, nil
	default:
		return nil, fmt.Errorf("unknown metric kind %q", kind)
	}
}

func (s *dbStore) ListKeys(ctx context.Context, after string, limit int) ([]string, error) {
	rows, err := s.conn.Query(ctx, s.family.listKeys, after, limit)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

func (s *dbStore) RecalculateKeys(ctx context.Context, keys []string, now time.Time) (ChunkStats, error) {
	var stats ChunkStats
	err := db.WithTx(ctx, s.conn, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, s.family.upsert, keys, now)
		if err != nil {
			return fmt.Errorf("failed to upsert metrics: %w", err)
		}
		stats.Upserted = int(tag.RowsAffected())

		tag, err = tx.Exec(ctx, s.family.prune, keys)
		if err != nil {
			return fmt.Errorf("failed to delete stale metrics: %w", err)
		}
		stats.Deleted = int(tag.RowsAffected())
		return nil
	})
	return stats, err
}
