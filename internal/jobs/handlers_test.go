package jobs

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/storepilot/sync-orchestrator/internal/aggregate"
	"github.com/storepilot/sync-orchestrator/internal/partition"
	"github.com/storepilot/sync-orchestrator/internal/queue"
	"github.com/storepilot/sync-orchestrator/internal/remote"
	"github.com/storepilot/sync-orchestrator/internal/remote/mocks"
	"github.com/storepilot/sync-orchestrator/internal/schedule"
	pkgsync "github.com/storepilot/sync-orchestrator/internal/sync"
	"github.com/storepilot/sync-orchestrator/internal/sync/cursor"
	"github.com/storepilot/sync-orchestrator/internal/sync/writer"
)

var (
	storefrontShop  = remote.Shop{ID: 3, Name: "CZ", Platform: remote.PlatformStorefront, ExternalID: "cz", Active: true}
	marketplaceShop = remote.Shop{ID: 4, Name: "Market", Platform: remote.PlatformMarketplace, ExternalID: "mk", Active: true}
	inactiveShop    = remote.Shop{ID: 5, Name: "SK", Platform: remote.PlatformStorefront, ExternalID: "sk"}
	handlerNow      = time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)
)

func floatPtr(v float64) *float64 { return &v }

func remoteOrder(code string, changed time.Time, customer string, variants ...string) remote.Order {
	o := remote.Order{
		Code:       code,
		Status:     "new",
		CreatedAt:  changed.Add(-time.Hour),
		ChangeTime: changed,
		Items:      []remote.OrderItem{},
		Raw:        []byte(`{"code":"` + code + `"}`),
	}
	if customer != "" {
		o.Customer = &remote.Customer{GUID: customer}
	}
	for _, v := range variants {
		o.Items = append(o.Items, remote.OrderItem{VariantCode: v, Name: v, Quantity: 1})
	}
	return o
}

type syncFixture struct {
	client  *mocks.MockClient
	writer  *writer.MemoryWriter
	cursors *cursor.MemoryStore
	queue   *queue.MemoryQueue
	engine  *pkgsync.Engine
	opts    []SyncOption
}

func newSyncFixture(t *testing.T) *syncFixture {
	t.Helper()
	ctrl := gomock.NewController(t)
	f := &syncFixture{
		client:  mocks.NewMockClient(ctrl),
		writer:  writer.NewMemoryWriter(nil),
		cursors: cursor.NewMemoryStore(),
		queue:   queue.NewMemoryQueue(),
	}
	engine, err := pkgsync.NewEngine(f.client, f.writer, f.cursors)
	require.NoError(t, err)
	f.engine = engine

	dispatcher, err := NewDispatcher(f.queue, schedule.DefaultCatalog(), nil)
	require.NoError(t, err)
	f.opts = []SyncOption{
		WithDispatcher(dispatcher),
		WithSyncClock(func() time.Time { return handlerNow }),
	}
	return f
}

func shops() remote.ShopStore {
	return remote.NewMemoryShopStore(storefrontShop, marketplaceShop, inactiveShop)
}

func syncRequest(jobType string, shopID int64) Request {
	return Request{
		JobType: jobType,
		ShopID:  &shopID,
		Options: schedule.DefaultCatalog().ResolveOptions(jobType),
	}
}

func pendingKeys(q *queue.MemoryQueue, jobType string) []string {
	var keys []string
	for _, msg := range q.Pending(schedule.QueueMetrics) {
		if msg.JobType == jobType {
			keys = append(keys, msg.Keys...)
		}
	}
	slices.Sort(keys)
	return keys
}

func TestOrdersSyncHandlerResumesFromCursor(t *testing.T) {
	t.Parallel()

	f := newSyncFixture(t)
	last := handlerNow.Add(-time.Hour)
	_, err := f.cursors.Advance(context.Background(), storefrontShop.ID, pkgsync.CursorKeyOrders, cursor.FormatTime(last), nil)
	require.NoError(t, err)

	f.client.EXPECT().
		ListOrders(gomock.Any(), storefrontShop, gomock.Any(), 1).
		DoAndReturn(func(_ context.Context, _ remote.Shop, filter remote.Filter, _ int) (*remote.OrderPage, error) {
			require.NotNil(t, filter.ChangeTimeFrom)
			assert.Equal(t, last.Add(-10*time.Minute), *filter.ChangeTimeFrom)
			assert.Equal(t, handlerNow, *filter.ChangeTimeTo)
			assert.Equal(t, 50, filter.PerPage)
			return &remote.OrderPage{PageCount: 1, Items: []remote.Order{
				remoteOrder("A", handlerNow.Add(-30*time.Minute), "c-1", "V-1", "V-2"),
				remoteOrder("B", handlerNow.Add(-20*time.Minute), "c-1", "V-2"),
			}}, nil
		})

	h, err := NewOrdersSyncHandler(f.engine, shops(), f.opts...)
	require.NoError(t, err)
	msg, err := h.Run(context.Background(), syncRequest(schedule.JobOrdersSyncIncremental, storefrontShop.ID))
	require.NoError(t, err)
	assert.Contains(t, msg, "Zpracováno 2 objednávek na 1 stránkách.")

	assert.Len(t, f.writer.Orders(), 2)
	assert.Equal(t, []string{"c-1"}, pendingKeys(f.queue, schedule.JobCustomersRecalculate))
	assert.Equal(t, []string{"V-1", "V-2"}, pendingKeys(f.queue, schedule.JobVariantsRecalculate))

	c, err := f.cursors.Get(context.Background(), storefrontShop.ID, pkgsync.CursorKeyOrders)
	require.NoError(t, err)
	assert.Equal(t, cursor.FormatTime(handlerNow.Add(-20*time.Minute)), c.Value)
}

func TestOrdersSyncHandlerFirstRunUsesInitialLookback(t *testing.T) {
	t.Parallel()

	f := newSyncFixture(t)
	f.client.EXPECT().
		ListOrders(gomock.Any(), storefrontShop, gomock.Any(), 1).
		DoAndReturn(func(_ context.Context, _ remote.Shop, filter remote.Filter, _ int) (*remote.OrderPage, error) {
			assert.Equal(t, handlerNow.Add(-48*time.Hour), *filter.ChangeTimeFrom)
			return &remote.OrderPage{}, nil
		})

	h, err := NewOrdersSyncHandler(f.engine, shops(), append(f.opts, WithInitialLookback(48*time.Hour))...)
	require.NoError(t, err)
	_, err = h.Run(context.Background(), syncRequest(schedule.JobOrdersSyncIncremental, storefrontShop.ID))
	require.NoError(t, err)
	assert.Empty(t, f.queue.Pending(schedule.QueueMetrics))
}

func TestRefreshStatusesHandlerUsesLookbackWindow(t *testing.T) {
	t.Parallel()

	f := newSyncFixture(t)
	f.client.EXPECT().
		ListOrders(gomock.Any(), storefrontShop, gomock.Any(), 1).
		DoAndReturn(func(_ context.Context, _ remote.Shop, filter remote.Filter, _ int) (*remote.OrderPage, error) {
			assert.Equal(t, handlerNow.Add(-6*time.Hour), *filter.ChangeTimeFrom)
			return &remote.OrderPage{PageCount: 1, Items: []remote.Order{
				remoteOrder("A", handlerNow.Add(-time.Hour), "c-9", "V-9"),
			}}, nil
		})

	h, err := NewRefreshStatusesHandler(f.engine, shops(), f.opts...)
	require.NoError(t, err)
	req := syncRequest(schedule.JobOrdersRefreshStatuses, storefrontShop.ID)
	req.Options[schedule.OptLookbackHours] = 6
	_, err = h.Run(context.Background(), req)
	require.NoError(t, err)

	_, err = f.cursors.Get(context.Background(), storefrontShop.ID, pkgsync.CursorKeyOrders)
	require.ErrorIs(t, err, cursor.ErrNotFound)
	_, err = f.cursors.Get(context.Background(), storefrontShop.ID, pkgsync.CursorKeyRefresh)
	require.NoError(t, err)
}

func TestSyncHandlerDispatchesAfterPartialFailure(t *testing.T) {
	t.Parallel()

	f := newSyncFixture(t)
	listErr := errors.New("502 bad gateway")
	gomock.InOrder(
		f.client.EXPECT().ListOrders(gomock.Any(), marketplaceShop, gomock.Any(), 1).
			Return(&remote.OrderPage{PageCount: 2, Items: []remote.Order{
				remoteOrder("M-1", handlerNow.Add(-time.Hour), "c-7", "V-7"),
			}}, nil),
		f.client.EXPECT().ListOrders(gomock.Any(), marketplaceShop, gomock.Any(), 2).
			Return(nil, listErr),
	)

	h, err := NewMarketplaceSyncHandler(f.engine, shops(), f.opts...)
	require.NoError(t, err)
	_, err = h.Run(context.Background(), syncRequest(schedule.JobMarketplaceSyncOrders, marketplaceShop.ID))

	var listFailure *pkgsync.RemoteListError
	require.ErrorAs(t, err, &listFailure)
	require.ErrorIs(t, err, listErr)
	assert.Equal(t, []string{"c-7"}, pendingKeys(f.queue, schedule.JobCustomersRecalculate))
	assert.Equal(t, []string{"V-7"}, pendingKeys(f.queue, schedule.JobVariantsRecalculate))
}

func TestSyncHandlerShopChecks(t *testing.T) {
	t.Parallel()

	f := newSyncFixture(t)
	h, err := NewMarketplaceSyncHandler(f.engine, shops(), f.opts...)
	require.NoError(t, err)
	ctx := context.Background()

	_, err = h.Run(ctx, syncRequest(schedule.JobMarketplaceSyncOrders, storefrontShop.ID))
	require.ErrorContains(t, err, "needs a marketplace shop")

	_, err = h.Run(ctx, syncRequest(schedule.JobMarketplaceSyncOrders, 42))
	require.ErrorIs(t, err, remote.ErrShopNotFound)

	_, err = h.Run(ctx, Request{JobType: schedule.JobMarketplaceSyncOrders})
	require.Error(t, err)

	orders, err := NewOrdersSyncHandler(f.engine, shops(), f.opts...)
	require.NoError(t, err)
	msg, err := orders.Run(ctx, syncRequest(schedule.JobOrdersSyncIncremental, inactiveShop.ID))
	require.NoError(t, err)
	assert.Contains(t, msg, "neaktivní")

	_, err = NewOrdersSyncHandler(nil, shops())
	require.Error(t, err)
	_, err = NewOrdersSyncHandler(f.engine, nil)
	require.Error(t, err)
}

func TestDispatcherSplitsKeys(t *testing.T) {
	t.Parallel()

	catalog, err := schedule.NewCatalog(schedule.Definition{
		JobType: "demo.recalculate",
		Policy: schedule.OptionPolicy{
			schedule.IntOption{Name: schedule.OptChunk, Min: 1, Max: 10, Value: 2},
			schedule.StringOption{Name: schedule.OptQueue, Value: "slow"},
		},
	})
	require.NoError(t, err)
	q := queue.NewMemoryQueue()
	d, err := NewDispatcher(q, catalog, nil)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, d.Dispatch(ctx, "demo.recalculate", []string{"a", "b", "", "a", "c"}))
	pending := q.Pending("slow")
	require.Len(t, pending, 2)
	assert.Equal(t, []string{"a", "b"}, pending[0].Keys)
	assert.Equal(t, []string{"c"}, pending[1].Keys)

	require.NoError(t, d.Dispatch(ctx, "demo.recalculate", nil))
	assert.Len(t, q.Pending("slow"), 2)

	require.ErrorIs(t, d.Dispatch(ctx, "demo.unknown", []string{"a"}), schedule.ErrUnknownJobType)
}

func TestTagRulesDependentOnlyFollowsCustomers(t *testing.T) {
	t.Parallel()

	q := queue.NewMemoryQueue()
	d, err := NewDispatcher(q, schedule.DefaultCatalog(), nil)
	require.NoError(t, err)
	dep := d.TagRulesDependent()
	ctx := context.Background()

	require.NoError(t, dep.MetricsChanged(ctx, aggregate.KindVariants, []string{"V-1"}))
	assert.Empty(t, q.Pending(schedule.QueueMetrics))

	require.NoError(t, dep.MetricsChanged(ctx, aggregate.KindCustomers, []string{"c-1"}))
	pending := q.Pending(schedule.QueueMetrics)
	require.Len(t, pending, 1)
	assert.Equal(t, schedule.JobCustomersApplyTagRules, pending[0].JobType)
	assert.Equal(t, []string{"c-1"}, pending[0].Keys)
}

func TestRecalculateHandler(t *testing.T) {
	t.Parallel()

	store := aggregate.NewMemoryStore()
	store.AddFact("c-1", aggregate.Fact{OrderID: 1, At: handlerNow, Amount: floatPtr(100)})
	store.AddFact("c-2", aggregate.Fact{OrderID: 2, At: handlerNow, Amount: floatPtr(50)})
	store.PutMetric(aggregate.Metric{Key: "c-gone", OrdersCount: 1})

	q := queue.NewMemoryQueue()
	d, err := NewDispatcher(q, schedule.DefaultCatalog(), nil)
	require.NoError(t, err)
	engine, err := aggregate.NewEngine(aggregate.KindCustomers, store, aggregate.WithDependent(d.TagRulesDependent()))
	require.NoError(t, err)
	h, err := NewRecalculateHandler(engine)
	require.NoError(t, err)
	assert.Equal(t, schedule.JobCustomersRecalculate, h.JobType())
	ctx := context.Background()

	keyed := Request{JobType: h.JobType(), Keys: []string{"c-1"}}
	assert.NotEmpty(t, h.LockKey(keyed))
	assert.Empty(t, h.LockKey(Request{JobType: h.JobType()}))

	msg, err := h.Run(ctx, keyed)
	require.NoError(t, err)
	assert.Contains(t, msg, "Přepočteno 1 klíčů")
	_, ok := store.Metric("c-2")
	assert.False(t, ok)

	msg, err = h.Run(ctx, Request{JobType: h.JobType(), Options: map[string]any{schedule.OptChunk: 2}})
	require.NoError(t, err)
	assert.Contains(t, msg, "smazáno 1")
	_, ok = store.Metric("c-gone")
	assert.False(t, ok)
	m, ok := store.Metric("c-2")
	require.True(t, ok)
	assert.InDelta(t, 50.0, m.Total, 0.001)

	assert.Equal(t, []string{"c-1", "c-1", "c-2", "c-gone"}, pendingKeys(q, schedule.JobCustomersApplyTagRules))

	variants, err := aggregate.NewEngine(aggregate.KindVariants, aggregate.NewMemoryStore())
	require.NoError(t, err)
	vh, err := NewRecalculateHandler(variants)
	require.NoError(t, err)
	assert.Equal(t, schedule.JobVariantsRecalculate, vh.JobType())
}

func TestTagRulesHandler(t *testing.T) {
	t.Parallel()

	minOrders := 2
	store := aggregate.NewMemoryTagStore(aggregate.TagRule{ID: 1, Tag: "loyal", MinOrders: &minOrders})
	store.PutMetric(aggregate.Metric{Key: "c-1", OrdersCount: 3})
	store.PutMetric(aggregate.Metric{Key: "c-2", OrdersCount: 1})

	applier, err := aggregate.NewTagRuleApplier(store, nil)
	require.NoError(t, err)
	h, err := NewTagRulesHandler(applier)
	require.NoError(t, err)
	ctx := context.Background()

	msg, err := h.Run(ctx, Request{JobType: h.JobType(), Keys: []string{"c-2"}})
	require.NoError(t, err)
	assert.Contains(t, msg, "Vyhodnoceno 1 zákazníků, přiřazeno 0 štítků.")

	msg, err = h.Run(ctx, Request{JobType: h.JobType()})
	require.NoError(t, err)
	assert.Contains(t, msg, "Vyhodnoceno 2 zákazníků, přiřazeno 1 štítků.")
	assert.Equal(t, []string{"loyal"}, store.Tags("c-1"))
	assert.Empty(t, store.Tags("c-2"))
}

type memoryCatalog struct {
	mu         sync.Mutex
	partitions map[string]bool
	failCreate string
}

func (c *memoryCatalog) Exists(_ context.Context, name string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.partitions[name], nil
}

func (c *memoryCatalog) Create(_ context.Context, _, name string, _, _ time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if name == c.failCreate {
		return fmt.Errorf("permission denied for %s", name)
	}
	c.partitions[name] = true
	return nil
}

func (c *memoryCatalog) Drop(_ context.Context, name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.partitions, name)
	return nil
}

func (c *memoryCatalog) ListChildren(context.Context, string) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Sorted(maps.Keys(c.partitions)), nil
}

func TestPartitionHandler(t *testing.T) {
	t.Parallel()

	catalog := &memoryCatalog{partitions: map[string]bool{
		"order_items_2021q4": true,
		"order_items_2025q2": true,
	}}
	m, err := partition.NewMaintainer(catalog, partition.WithClock(func() time.Time { return handlerNow }))
	require.NoError(t, err)
	h, err := NewPartitionHandler(m, 0)
	require.NoError(t, err)
	assert.Equal(t, PartitionLockTTL, h.LockTTL())

	custom, err := NewPartitionHandler(m, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, time.Hour, custom.LockTTL())
	_, err = NewPartitionHandler(m, -time.Minute)
	require.Error(t, err)
	_, err = NewPartitionHandler(nil, 0)
	require.Error(t, err)

	req := Request{JobType: h.JobType(), Options: map[string]any{
		schedule.OptHorizonQuarters:   2,
		schedule.OptRetentionQuarters: 12,
	}}
	msg, err := h.Run(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "Vytvořeno 2 partition, 1 již existovalo, odstraněno 1.", msg)
	assert.Equal(t, []string{"order_items_2025q2", "order_items_2025q3", "order_items_2025q4"},
		slices.Sorted(maps.Keys(catalog.partitions)))

	catalog.failCreate = "order_items_2026q1"
	req.Options[schedule.OptHorizonQuarters] = 3
	_, err = h.Run(context.Background(), req)
	var opErr *partition.OperationError
	require.ErrorAs(t, err, &opErr)
	assert.Equal(t, "order_items_2026q1", opErr.Partition)
}
