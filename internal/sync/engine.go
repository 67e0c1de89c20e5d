package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/samber/lo"
	"go.opentelemetry.io/otel/trace"

	"github.com/storepilot/sync-orchestrator/internal/otel"
	"github.com/storepilot/sync-orchestrator/internal/remote"
	"github.com/storepilot/sync-orchestrator/internal/sync/cursor"
	"github.com/storepilot/sync-orchestrator/internal/sync/writer"
	"github.com/storepilot/sync-orchestrator/internal/telemetry"
)

const (
	// DefaultMaxPages stops a run that keeps receiving non-empty pages.
	DefaultMaxPages = 1000

	// DefaultPageSize is used when a request does not set one.
	DefaultPageSize = 50
)

// Cursor keys of the sync streams.
const (
	CursorKeyOrders      = "orders.incremental"
	CursorKeyRefresh     = "orders.refresh_statuses"
	CursorKeyMarketplace = "marketplace.orders"
)

// Request describes one sync run.
type Request struct {
	Shop     remote.Shop
	Window   Window
	PageSize int
	Statuses []string

	// MaxPages overrides the engine ceiling when positive.
	MaxPages int

	// CursorKey names the stream whose cursor is advanced after each page.
	// Runs without a key do not touch cursors.
	CursorKey string

	// SkipDetails imports list summaries without fetching details.
	SkipDetails bool
}

// Result is the outcome of a sync run. It is also returned, partially
// filled, together with an error.
type Result struct {
	LastChangeTime        time.Time
	AffectedVariantCodes  []string
	AffectedCustomerGUIDs []string
	ItemsProcessed        int
	ItemsSkipped          int
	PagesFetched          int
	DetailFailures        int
	CeilingReached        bool
}

// Engine runs incremental order imports.
type Engine struct {
	client   remote.Client
	writer   writer.OrderWriter
	cursors  cursor.Store
	maxPages int
	logger   *slog.Logger
	tracer   trace.Tracer
	metrics  *telemetry.SyncMetrics
}

// Option configures an Engine.
type Option func(*Engine)

// WithMaxPages sets the default page ceiling.
func WithMaxPages(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.maxPages = n
		}
	}
}

// WithLogger sets the engine logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithTracer enables spans per run and per page.
func WithTracer(tracer trace.Tracer) Option {
	return func(e *Engine) {
		e.tracer = tracer
	}
}

// WithMetrics records page and item counters.
func WithMetrics(metrics *telemetry.SyncMetrics) Option {
	return func(e *Engine) {
		e.metrics = metrics
	}
}

// NewEngine creates an Engine.
func NewEngine(client remote.Client, w writer.OrderWriter, cursors cursor.Store, opts ...Option) (*Engine, error) {
	if client == nil {
		return nil, fmt.Errorf("remote client is required")
	}
	if w == nil {
		return nil, fmt.Errorf("order writer is required")
	}
	if cursors == nil {
		return nil, fmt.Errorf("cursor store is required")
	}

	e := &Engine{
		client:   client,
		writer:   w,
		cursors:  cursors,
		maxPages: DefaultMaxPages,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// LastCursorTime returns the stored cursor of a stream as a time, or the
// zero time when the stream has no cursor yet.
func (e *Engine) LastCursorTime(ctx context.Context, shopID int64, key string) (time.Time, error) {
	c, err := e.cursors.Get(ctx, shopID, key)
	if errors.Is(err, cursor.ErrNotFound) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, err
	}
	return c.Time()
}

// Sync imports every order of req.Shop changed within req.Window.
func (e *Engine) Sync(ctx context.Context, req Request) (result *Result, err error) {
	ctx, span := otel.StartSpan(ctx, e.tracer, "sync.Engine.Sync",
		trace.WithAttributes(otel.AttrShopID.Int64(req.Shop.ID)))
	defer func() {
		otel.RecordError(span, err)
		span.End()
	}()

	pageSize := req.PageSize
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	maxPages := e.maxPages
	if req.MaxPages > 0 {
		maxPages = req.MaxPages
	}

	filter := remote.Filter{PerPage: pageSize, Statuses: req.Statuses}
	if !req.Window.From.IsZero() {
		filter.ChangeTimeFrom = &req.Window.From
	}
	if !req.Window.To.IsZero() {
		filter.ChangeTimeTo = &req.Window.To
	}

	logger := e.logger.With("shop_id", req.Shop.ID, "platform", string(req.Shop.Platform))
	result = &Result{}
	var variants, customers []string

	defer func() {
		result.AffectedVariantCodes = lo.Uniq(variants)
		result.AffectedCustomerGUIDs = lo.Uniq(customers)
	}()

	for page := 1; ; page++ {
		if page > maxPages {
			result.CeilingReached = true
			logger.WarnContext(ctx, "Page ceiling reached, stopping sync",
				"max_pages", maxPages,
				"items_processed", result.ItemsProcessed)
			break
		}
		if err := ctx.Err(); err != nil {
			return result, err
		}

		resp, err := e.client.ListOrders(ctx, req.Shop, filter, page)
		if err != nil {
			return result, &RemoteListError{ShopID: req.Shop.ID, Page: page, Err: err}
		}
		result.PagesFetched++
		if resp == nil || len(resp.Items)+resp.Skipped == 0 {
			logger.DebugContext(ctx, "Empty page, sync finished", "page", page)
			break
		}

		for i := range resp.Items {
			order, err := e.resolveDetail(ctx, req, &resp.Items[i], result)
			if err != nil {
				return result, err
			}
			imported, err := e.writer.ImportOrder(ctx, req.Shop.ID, order)
			if err != nil {
				return result, fmt.Errorf("failed to import order %s: %w", order.Code, err)
			}

			result.ItemsProcessed++
			if order.ChangeTime.After(result.LastChangeTime) {
				result.LastChangeTime = order.ChangeTime
			}
			if order.Customer != nil && order.Customer.GUID != "" {
				customers = append(customers, order.Customer.GUID)
			}
			for _, item := range order.Items {
				if item.VariantCode != "" {
					variants = append(variants, item.VariantCode)
				}
			}
			// References the order dropped still need their aggregates fixed.
			if imported != nil {
				if imported.PreviousCustomerGUID != "" {
					customers = append(customers, imported.PreviousCustomerGUID)
				}
				variants = append(variants, imported.PreviousVariantCodes...)
			}
		}
		result.ItemsSkipped += resp.Skipped
		e.metrics.RecordPage(ctx, string(req.Shop.Platform), len(resp.Items))

		if err := e.advanceCursor(ctx, req, page, result); err != nil {
			return result, err
		}

		if !hasNextPage(resp, page, pageSize) {
			logger.DebugContext(ctx, "Last page reached", "page", page)
			break
		}
	}

	span.SetAttributes(otel.AttrItemCount.Int(result.ItemsProcessed))
	logger.InfoContext(ctx, "Sync finished",
		"pages", result.PagesFetched,
		"items", result.ItemsProcessed,
		"skipped", result.ItemsSkipped,
		"detail_failures", result.DetailFailures)
	return result, nil
}

// resolveDetail returns the order to import. Only a cancelled context is an error.
func (e *Engine) resolveDetail(ctx context.Context, req Request, summary *remote.Order, result *Result) (*remote.Order, error) {
	if req.SkipDetails || summary.HasItems() {
		return summary, nil
	}

	detail, err := e.client.GetOrderDetail(ctx, req.Shop, summary.Code)
	if err == nil && detail != nil {
		return detail, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}
	if err == nil {
		err = fmt.Errorf("empty detail response")
	}

	result.DetailFailures++
	e.metrics.RecordDetailFailure(ctx, string(req.Shop.Platform))
	e.logger.WarnContext(ctx, "Order detail fetch failed, importing summary",
		"shop_id", req.Shop.ID,
		"order_code", summary.Code,
		"error", &RemoteFetchError{ShopID: req.Shop.ID, Code: summary.Code, Err: err})
	return summary, nil
}

func (e *Engine) advanceCursor(ctx context.Context, req Request, page int, result *Result) error {
	if req.CursorKey == "" || result.LastChangeTime.IsZero() {
		return nil
	}
	meta := map[string]any{"page": page, "items": result.ItemsProcessed}
	moved, err := e.cursors.Advance(ctx, req.Shop.ID, req.CursorKey, cursor.FormatTime(result.LastChangeTime), meta)
	if err != nil {
		return fmt.Errorf("failed to advance cursor after page %d: %w", page, err)
	}
	if moved {
		e.logger.DebugContext(ctx, "Cursor advanced",
			"shop_id", req.Shop.ID,
			"cursor_key", req.CursorKey,
			"cursor", result.LastChangeTime)
	}
	return nil
}

// hasNextPage decides from the pagination meta whether another page exists.
// Without usable meta the walk continues until an empty page.
func hasNextPage(resp *remote.OrderPage, page, pageSize int) bool {
	if resp.PageCount > 0 {
		return page < resp.PageCount
	}
	if resp.Total > 0 {
		perPage := resp.PerPage
		if perPage <= 0 {
			perPage = pageSize
		}
		pages := (resp.Total + perPage - 1) / perPage
		return page < pages
	}
	return true
}
