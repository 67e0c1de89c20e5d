package writer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/storepilot/sync-orchestrator/internal/db"
	"github.com/storepilot/sync-orchestrator/internal/remote"
)

var orderItemColumns = []string{
	"order_id", "shop_id", "line_no", "variant_code", "product_guid", "name",
	"quantity", "unit_price", "total_price", "total_price_base", "ordered_at",
}

type dbOrderWriter struct {
	db  db.TxBeginner
	now func() time.Time
}

// NewDBOrderWriter creates an OrderWriter over a pgx pool.
func NewDBOrderWriter(conn db.TxBeginner) (OrderWriter, error) {
	if conn == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	return &dbOrderWriter{db: conn, now: time.Now}, nil
}

// ImportOrder implements OrderWriter.
//
// synced_at only moves when the stored payload changes, so re-importing an
// unchanged order leaves the order and customer rows untouched.
func (w *dbOrderWriter) ImportOrder(ctx context.Context, shopID int64, order *remote.Order) (*ImportResult, error) {
	if err := validateOrder(order); err != nil {
		return nil, err
	}
	raw, err := rawPayload(order)
	if err != nil {
		return nil, err
	}
	now := w.now().UTC()

	result := &ImportResult{}
	err = db.WithTx(ctx, w.db, func(tx pgx.Tx) error {
		var previousGUID *string
		err := tx.QueryRow(ctx,
			`SELECT customer_guid FROM orders WHERE shop_id = $1 AND code = $2 FOR UPDATE`,
			shopID, order.Code,
		).Scan(&previousGUID)
		switch {
		case errors.Is(err, pgx.ErrNoRows):
		case err != nil:
			return fmt.Errorf("failed to load order %s: %w", order.Code, err)
		case previousGUID != nil:
			result.PreviousCustomerGUID = *previousGUID
		}

		var customerGUID *string
		if order.Customer != nil && order.Customer.GUID != "" {
			if err := upsertCustomer(ctx, tx, shopID, order.Customer, now); err != nil {
				return err
			}
			customerGUID = &order.Customer.GUID
		}

		var orderID int64
		err = tx.QueryRow(ctx, `
INSERT INTO orders (
    shop_id, code, status, customer_guid, total_amount, total_amount_base, currency,
    created_at_remote, changed_at_remote, raw_payload, synced_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
ON CONFLICT (shop_id, code) DO UPDATE SET
    status = EXCLUDED.status,
    customer_guid = EXCLUDED.customer_guid,
    total_amount = EXCLUDED.total_amount,
    total_amount_base = EXCLUDED.total_amount_base,
    currency = EXCLUDED.currency,
    created_at_remote = EXCLUDED.created_at_remote,
    changed_at_remote = EXCLUDED.changed_at_remote,
    raw_payload = EXCLUDED.raw_payload,
    synced_at = CASE WHEN orders.raw_payload IS DISTINCT FROM EXCLUDED.raw_payload
                     THEN EXCLUDED.synced_at ELSE orders.synced_at END
RETURNING id`,
			shopID, order.Code, nullable(order.Status), customerGUID,
			order.TotalAmount, order.TotalAmountBase, nullable(order.Currency),
			order.CreatedAt, order.ChangeTime, raw, now,
		).Scan(&orderID)
		if err != nil {
			return fmt.Errorf("failed to upsert order %s: %w", order.Code, err)
		}

		if order.Items == nil {
			return nil
		}
		deleted, err := tx.Query(ctx,
			`DELETE FROM order_items WHERE order_id = $1 RETURNING variant_code`, orderID)
		if err != nil {
			return fmt.Errorf("failed to delete items of order %s: %w", order.Code, err)
		}
		codes, err := pgx.CollectRows(deleted, pgx.RowTo[*string])
		if err != nil {
			return fmt.Errorf("failed to delete items of order %s: %w", order.Code, err)
		}
		for _, code := range codes {
			if code != nil && *code != "" {
				result.PreviousVariantCodes = append(result.PreviousVariantCodes, *code)
			}
		}
		if len(order.Items) == 0 {
			return nil
		}

		rows := make([][]any, len(order.Items))
		for i, item := range order.Items {
			rows[i] = []any{
				orderID, shopID, i + 1, nullable(item.VariantCode), nullable(item.ProductGUID), item.Name,
				item.Quantity, item.UnitPrice, item.TotalPrice, item.TotalPriceBase, order.CreatedAt,
			}
		}
		if _, err := tx.CopyFrom(ctx, pgx.Identifier{"order_items"}, orderItemColumns, pgx.CopyFromRows(rows)); err != nil {
			return fmt.Errorf("failed to insert items of order %s: %w", order.Code, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func upsertCustomer(ctx context.Context, tx pgx.Tx, shopID int64, c *remote.Customer, now time.Time) error {
	var raw any
	if len(c.Raw) > 0 {
		raw = c.Raw
	}
	_, err := tx.Exec(ctx, `
INSERT INTO customers (guid, shop_id, email, full_name, raw_payload, synced_at)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (guid) DO UPDATE SET
    shop_id = EXCLUDED.shop_id,
    email = EXCLUDED.email,
    full_name = EXCLUDED.full_name,
    raw_payload = EXCLUDED.raw_payload,
    synced_at = CASE WHEN customers.raw_payload IS DISTINCT FROM EXCLUDED.raw_payload
                     THEN EXCLUDED.synced_at ELSE customers.synced_at END`,
		c.GUID, shopID, nullable(c.Email), nullable(c.FullName), raw, now)
	if err != nil {
		return fmt.Errorf("failed to upsert customer %s: %w", c.GUID, err)
	}
	return nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
