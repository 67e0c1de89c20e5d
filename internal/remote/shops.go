package remote

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5"

	"github.com/storepilot/sync-orchestrator/internal/db"
)

// ErrShopNotFound is returned when a shop row does not exist.
var ErrShopNotFound = errors.New("shop not found")

// ShopStore reads the connected shops.
type ShopStore interface {
	// Get returns the shop with id or ErrShopNotFound.
	Get(ctx context.Context, id int64) (*Shop, error)
}

type dbShopStore struct {
	db db.DBTX
}

// NewDBShopStore creates a ShopStore over the shops table.
func NewDBShopStore(conn db.DBTX) ShopStore {
	return &dbShopStore{db: conn}
}

func (s *dbShopStore) Get(ctx context.Context, id int64) (*Shop, error) {
	var shop Shop
	err := s.db.QueryRow(ctx,
		`SELECT id, name, platform, external_id, active FROM shops WHERE id = $1`, id,
	).Scan(&shop.ID, &shop.Name, &shop.Platform, &shop.ExternalID, &shop.Active)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %d", ErrShopNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load shop %d: %w", id, err)
	}
	return &shop, nil
}

// MemoryShopStore is a ShopStore backed by a map.
type MemoryShopStore struct {
	mu    sync.RWMutex
	shops map[int64]Shop
}

// NewMemoryShopStore creates a store holding shops.
func NewMemoryShopStore(shops ...Shop) *MemoryShopStore {
	m := &MemoryShopStore{shops: make(map[int64]Shop, len(shops))}
	for _, shop := range shops {
		m.shops[shop.ID] = shop
	}
	return m
}

func (m *MemoryShopStore) Get(_ context.Context, id int64) (*Shop, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	shop, ok := m.shops[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrShopNotFound, id)
	}
	return &shop, nil
}
