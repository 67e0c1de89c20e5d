package writer

import (
	"bytes"
	"cmp"
	"context"
	"slices"
	"sync"
	"time"

	"github.com/storepilot/sync-orchestrator/internal/remote"
)

// OrderRow mirrors a row of the orders table.
type OrderRow struct {
	ID              int64
	ShopID          int64
	Code            string
	Status          string
	CustomerGUID    string
	TotalAmount     *float64
	TotalAmountBase *float64
	Currency        string
	CreatedAt       time.Time
	ChangedAt       time.Time
	RawPayload      []byte
	SyncedAt        time.Time
}

// ItemRow mirrors a row of the order_items table.
type ItemRow struct {
	OrderID        int64
	ShopID         int64
	LineNo         int
	VariantCode    string
	ProductGUID    string
	Name           string
	Quantity       float64
	UnitPrice      *float64
	TotalPrice     *float64
	TotalPriceBase *float64
	OrderedAt      time.Time
}

// CustomerRow mirrors a row of the customers table.
type CustomerRow struct {
	GUID       string
	ShopID     int64
	Email      string
	FullName   string
	RawPayload []byte
	SyncedAt   time.Time
}

type orderKey struct {
	shopID int64
	code   string
}

// MemoryWriter is an OrderWriter that keeps rows in memory. Dry runs and
// tests use it.
type MemoryWriter struct {
	mu        sync.Mutex
	now       func() time.Time
	nextID    int64
	orders    map[orderKey]OrderRow
	items     map[int64][]ItemRow
	customers map[string]CustomerRow
}

// NewMemoryWriter creates an empty MemoryWriter. A nil now uses time.Now.
func NewMemoryWriter(now func() time.Time) *MemoryWriter {
	if now == nil {
		now = time.Now
	}
	return &MemoryWriter{
		now:       now,
		orders:    map[orderKey]OrderRow{},
		items:     map[int64][]ItemRow{},
		customers: map[string]CustomerRow{},
	}
}

// ImportOrder implements OrderWriter.
func (m *MemoryWriter) ImportOrder(ctx context.Context, shopID int64, order *remote.Order) (*ImportResult, error) {
	if err := validateOrder(order); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	raw, err := rawPayload(order)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now().UTC()

	key := orderKey{shopID, order.Code}
	result := &ImportResult{}
	prev, existed := m.orders[key]
	if existed {
		result.PreviousCustomerGUID = prev.CustomerGUID
	}

	var customerGUID string
	if c := order.Customer; c != nil && c.GUID != "" {
		row := CustomerRow{
			GUID: c.GUID, ShopID: shopID, Email: c.Email, FullName: c.FullName,
			RawPayload: bytes.Clone(c.Raw), SyncedAt: now,
		}
		if stored, ok := m.customers[c.GUID]; ok && bytes.Equal(stored.RawPayload, row.RawPayload) {
			row.SyncedAt = stored.SyncedAt
		}
		m.customers[c.GUID] = row
		customerGUID = c.GUID
	}

	row := OrderRow{
		ShopID:          shopID,
		Code:            order.Code,
		Status:          order.Status,
		CustomerGUID:    customerGUID,
		TotalAmount:     order.TotalAmount,
		TotalAmountBase: order.TotalAmountBase,
		Currency:        order.Currency,
		CreatedAt:       order.CreatedAt,
		ChangedAt:       order.ChangeTime,
		RawPayload:      bytes.Clone(raw),
		SyncedAt:        now,
	}
	if existed {
		row.ID = prev.ID
		if bytes.Equal(prev.RawPayload, row.RawPayload) {
			row.SyncedAt = prev.SyncedAt
		}
	} else {
		m.nextID++
		row.ID = m.nextID
	}
	m.orders[key] = row

	if order.Items == nil {
		return result, nil
	}
	for _, item := range m.items[row.ID] {
		if item.VariantCode != "" {
			result.PreviousVariantCodes = append(result.PreviousVariantCodes, item.VariantCode)
		}
	}
	items := make([]ItemRow, len(order.Items))
	for i, item := range order.Items {
		items[i] = ItemRow{
			OrderID:        row.ID,
			ShopID:         shopID,
			LineNo:         i + 1,
			VariantCode:    item.VariantCode,
			ProductGUID:    item.ProductGUID,
			Name:           item.Name,
			Quantity:       item.Quantity,
			UnitPrice:      item.UnitPrice,
			TotalPrice:     item.TotalPrice,
			TotalPriceBase: item.TotalPriceBase,
			OrderedAt:      order.CreatedAt,
		}
	}
	m.items[row.ID] = items
	return result, nil
}

// Orders returns all order rows sorted by id.
func (m *MemoryWriter) Orders() []OrderRow {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]OrderRow, 0, len(m.orders))
	for _, row := range m.orders {
		out = append(out, row)
	}
	slices.SortFunc(out, func(a, b OrderRow) int { return cmp.Compare(a.ID, b.ID) })
	return out
}

// Items returns all item rows sorted by order id and line number.
func (m *MemoryWriter) Items() []ItemRow {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []ItemRow
	for _, rows := range m.items {
		out = append(out, rows...)
	}
	slices.SortFunc(out, func(a, b ItemRow) int {
		if c := cmp.Compare(a.OrderID, b.OrderID); c != 0 {
			return c
		}
		return cmp.Compare(a.LineNo, b.LineNo)
	})
	return out
}

// Customers returns all customer rows sorted by GUID.
func (m *MemoryWriter) Customers() []CustomerRow {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]CustomerRow, 0, len(m.customers))
	for _, row := range m.customers {
		out = append(out, row)
	}
	slices.SortFunc(out, func(a, b CustomerRow) int { return cmp.Compare(a.GUID, b.GUID) })
	return out
}
