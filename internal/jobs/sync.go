package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/storepilot/sync-orchestrator/internal/remote"
	"github.com/storepilot/sync-orchestrator/internal/schedule"
	pkgsync "github.com/storepilot/sync-orchestrator/internal/sync"
)

const defaultOverlapMinutes = 10

type windowMode int

const (
	windowIncremental windowMode = iota
	windowRefresh
)

// SyncHandler imports the orders of one shop through a sync engine and
// enqueues metric recalculation for what changed.
type SyncHandler struct {
	jobType   string
	platform  remote.Platform
	cursorKey string
	mode      windowMode

	engine          *pkgsync.Engine
	shops           remote.ShopStore
	dispatcher      *Dispatcher
	initialLookback time.Duration
	now             func() time.Time
	logger          *slog.Logger
}

// SyncOption configures a SyncHandler.
type SyncOption func(*SyncHandler)

// WithDispatcher enqueues customer and variant recalculation after each run.
func WithDispatcher(d *Dispatcher) SyncOption {
	return func(h *SyncHandler) {
		h.dispatcher = d
	}
}

// WithInitialLookback sets how far back the first run of a shop reaches.
func WithInitialLookback(d time.Duration) SyncOption {
	return func(h *SyncHandler) {
		if d > 0 {
			h.initialLookback = d
		}
	}
}

// WithSyncClock overrides the end of the sync window.
func WithSyncClock(now func() time.Time) SyncOption {
	return func(h *SyncHandler) {
		h.now = now
	}
}

// WithSyncLogger sets the handler logger.
func WithSyncLogger(logger *slog.Logger) SyncOption {
	return func(h *SyncHandler) {
		h.logger = logger
	}
}

// NewOrdersSyncHandler handles orders.sync_incremental for storefront shops.
func NewOrdersSyncHandler(engine *pkgsync.Engine, shops remote.ShopStore, opts ...SyncOption) (*SyncHandler, error) {
	return newSyncHandler(schedule.JobOrdersSyncIncremental, remote.PlatformStorefront,
		pkgsync.CursorKeyOrders, windowIncremental, engine, shops, opts)
}

// NewRefreshStatusesHandler handles orders.refresh_statuses: it re-imports
// the storefront orders changed within the lookback window.
func NewRefreshStatusesHandler(engine *pkgsync.Engine, shops remote.ShopStore, opts ...SyncOption) (*SyncHandler, error) {
	return newSyncHandler(schedule.JobOrdersRefreshStatuses, remote.PlatformStorefront,
		pkgsync.CursorKeyRefresh, windowRefresh, engine, shops, opts)
}

// NewMarketplaceSyncHandler handles marketplace.sync_orders.
func NewMarketplaceSyncHandler(engine *pkgsync.Engine, shops remote.ShopStore, opts ...SyncOption) (*SyncHandler, error) {
	return newSyncHandler(schedule.JobMarketplaceSyncOrders, remote.PlatformMarketplace,
		pkgsync.CursorKeyMarketplace, windowIncremental, engine, shops, opts)
}

func newSyncHandler(
	jobType string,
	platform remote.Platform,
	cursorKey string,
	mode windowMode,
	engine *pkgsync.Engine,
	shops remote.ShopStore,
	opts []SyncOption,
) (*SyncHandler, error) {
	if engine == nil {
		return nil, fmt.Errorf("sync engine is required")
	}
	if shops == nil {
		return nil, fmt.Errorf("shop store is required")
	}
	h := &SyncHandler{
		jobType:         jobType,
		platform:        platform,
		cursorKey:       cursorKey,
		mode:            mode,
		engine:          engine,
		shops:           shops,
		initialLookback: pkgsync.DefaultInitialLookback,
		now:             time.Now,
		logger:          slog.Default(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}

// JobType implements Handler.
func (h *SyncHandler) JobType() string {
	return h.jobType
}

// Run implements Handler.
func (h *SyncHandler) Run(ctx context.Context, req Request) (string, error) {
	if req.ShopID == nil {
		return "", fmt.Errorf("job type %s requires a shop", h.jobType)
	}
	shop, err := h.shops.Get(ctx, *req.ShopID)
	if err != nil {
		return "", err
	}
	if shop.Platform != h.platform {
		return "", fmt.Errorf("shop %d is a %s shop, %s needs a %s shop", shop.ID, shop.Platform, h.jobType, h.platform)
	}
	if !shop.Active {
		return "Obchod je neaktivní, synchronizace byla přeskočena.", nil
	}

	syncReq, err := h.request(ctx, shop, req.Options)
	if err != nil {
		return "", err
	}
	result, syncErr := h.engine.Sync(ctx, syncReq)
	if result != nil {
		h.dispatch(ctx, result)
	}
	if syncErr != nil {
		return "", syncErr
	}
	return summarize(result), nil
}

func (h *SyncHandler) request(ctx context.Context, shop *remote.Shop, opts map[string]any) (pkgsync.Request, error) {
	now := h.now().UTC()
	req := pkgsync.Request{
		Shop:        *shop,
		PageSize:    schedule.IntValue(opts, schedule.OptPageSize, pkgsync.DefaultPageSize),
		MaxPages:    schedule.IntValue(opts, schedule.OptMaxPages, 0),
		CursorKey:   h.cursorKey,
		SkipDetails: !schedule.BoolValue(opts, schedule.OptFetchDetails, true),
	}

	switch h.mode {
	case windowRefresh:
		req.Window = pkgsync.RefreshWindow(now, schedule.IntValue(opts, schedule.OptLookbackHours, 48))
	default:
		last, err := h.engine.LastCursorTime(ctx, shop.ID, h.cursorKey)
		if err != nil {
			return req, err
		}
		overlap := time.Duration(schedule.IntValue(opts, schedule.OptOverlapMinutes, defaultOverlapMinutes)) * time.Minute
		req.Window = pkgsync.IncrementalWindow(last, now, overlap, h.initialLookback)
	}
	return req, nil
}

// dispatch enqueues recalculation even after a failed run: the orders of the
// completed pages are already committed.
func (h *SyncHandler) dispatch(ctx context.Context, result *pkgsync.Result) {
	if h.dispatcher == nil {
		return
	}
	if err := h.dispatcher.Dispatch(ctx, schedule.JobCustomersRecalculate, result.AffectedCustomerGUIDs); err != nil {
		h.logger.WarnContext(ctx, "Failed to enqueue customer recalculation",
			"job_type", h.jobType,
			"customers", len(result.AffectedCustomerGUIDs),
			"error", err)
	}
	if err := h.dispatcher.Dispatch(ctx, schedule.JobVariantsRecalculate, result.AffectedVariantCodes); err != nil {
		h.logger.WarnContext(ctx, "Failed to enqueue variant recalculation",
			"job_type", h.jobType,
			"variants", len(result.AffectedVariantCodes),
			"error", err)
	}
}

func summarize(result *pkgsync.Result) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Zpracováno %d objednávek na %d stránkách.", result.ItemsProcessed, result.PagesFetched)
	if result.DetailFailures > 0 {
		fmt.Fprintf(&b, " Detail se nepodařilo načíst u %d objednávek.", result.DetailFailures)
	}
	if result.ItemsSkipped > 0 {
		fmt.Fprintf(&b, " Přeskočeno %d nečitelných objednávek.", result.ItemsSkipped)
	}
	if result.CeilingReached {
		b.WriteString(" Dosažen limit počtu stránek.")
	}
	return b.String()
}
