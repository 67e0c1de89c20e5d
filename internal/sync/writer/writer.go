// Package writer persists orders imported from remote platforms.
package writer

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/storepilot/sync-orchestrator/internal/remote"
)

//go:generate mockgen -destination=mocks/mock_order_writer.go -package=mocks -source=writer.go OrderWriter

// OrderWriter imports one order at a time. An import replaces everything
// stored for the order, so importing the same payload twice leaves the same
// rows behind.
type OrderWriter interface {
	// ImportOrder upserts the customer and the order of shopID and replaces
	// the order's line items, all in one transaction. An order with nil
	// Items keeps the lines already stored.
	ImportOrder(ctx context.Context, shopID int64, order *remote.Order) (*ImportResult, error)
}

// ImportResult describes what an import replaced. Aggregates of a customer
// or variant the order no longer references are stale until recalculated.
type ImportResult struct {
	// PreviousCustomerGUID is the customer the stored order pointed to, empty
	// for a new order or one without a customer.
	PreviousCustomerGUID string

	// PreviousVariantCodes are the variant codes of the replaced line items.
	// Empty when the lines were kept.
	PreviousVariantCodes []string
}

func validateOrder(order *remote.Order) error {
	if order == nil {
		return fmt.Errorf("order is required")
	}
	if order.Code == "" {
		return fmt.Errorf("order code is required")
	}
	if order.CreatedAt.IsZero() {
		return fmt.Errorf("order %s has no creation time", order.Code)
	}
	return nil
}

// rawPayload returns the payload stored for audit and replay. Orders built
// in code rather than decoded from a response are serialized instead.
func rawPayload(order *remote.Order) (json.RawMessage, error) {
	if len(order.Raw) > 0 {
		return order.Raw, nil
	}
	raw, err := json.Marshal(order)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize order %s: %w", order.Code, err)
	}
	return raw, nil
}
