package app

import (
	"fmt"
	"time"

	"github.com/storepilot/sync-orchestrator/internal/aggregate"
	"github.com/storepilot/sync-orchestrator/internal/db"
	"github.com/storepilot/sync-orchestrator/internal/partition"
	"github.com/storepilot/sync-orchestrator/internal/remote"
	"github.com/storepilot/sync-orchestrator/internal/schedule"
	"github.com/storepilot/sync-orchestrator/internal/status"
	"github.com/storepilot/sync-orchestrator/internal/sync/cursor"
	"github.com/storepilot/sync-orchestrator/internal/sync/writer"
)

// Stores groups the storage-backed components. All of them share one
// backend so a run never mixes database and in-memory state.
type Stores struct {
	Schedules schedule.Store
	Status    status.Recorder
	Cursors   cursor.Store
	Orders    writer.OrderWriter
	Shops     remote.ShopStore
	Customers aggregate.Store
	Variants  aggregate.Store
	Tags      aggregate.TagStore

	// Partitions is nil when the backend has no partitioned tables.
	Partitions partition.Catalog
}

// NewDatabaseStores creates every store over one PostgreSQL connection pool
func NewDatabaseStores(conn db.Conn) (*Stores, error) {
	if conn == nil {
		return nil, fmt.Errorf("database connection is required")
	}

	orders, err := writer.NewDBOrderWriter(conn)
	if err != nil {
		return nil, fmt.Errorf("failed to create order writer: %w", err)
	}
	customers, err := aggregate.NewDBStore(aggregate.KindCustomers, conn)
	if err != nil {
		return nil, fmt.Errorf("failed to create customer metrics store: %w", err)
	}
	variants, err := aggregate.NewDBStore(aggregate.KindVariants, conn)
	if err != nil {
		return nil, fmt.Errorf("failed to create variant metrics store: %w", err)
	}
	tags, err := aggregate.NewDBTagStore(conn)
	if err != nil {
		return nil, fmt.Errorf("failed to create tag store: %w", err)
	}

	return &Stores{
		Schedules:  schedule.NewDBStore(conn),
		Status:     status.NewDBRecorder(conn),
		Cursors:    cursor.NewDBStore(conn),
		Orders:     orders,
		Shops:      remote.NewDBShopStore(conn),
		Customers:  customers,
		Variants:   variants,
		Tags:       tags,
		Partitions: partition.NewPGCatalog(conn),
	}, nil
}

// NewMemoryStores creates in-process stores seeded with the given schedules
// and shops. They are meant for tests and local dry runs. Recorded runs are
// mirrored onto the schedule rows as the database recorder does.
func NewMemoryStores(schedules []schedule.JobSchedule, shops []remote.Shop) *Stores {
	scheduleStore := schedule.NewMemoryStore(schedules...)
	return &Stores{
		Schedules: scheduleStore,
		Status:    status.NewMemoryRecorder(status.WithRunObserver(scheduleStore.ApplyRun)),
		Cursors:   cursor.NewMemoryStore(),
		Orders:    writer.NewMemoryWriter(time.Now),
		Shops:     remote.NewMemoryShopStore(shops...),
		Customers: aggregate.NewMemoryStore(),
		Variants:  aggregate.NewMemoryStore(),
		Tags:      aggregate.NewMemoryTagStore(),
	}
}
