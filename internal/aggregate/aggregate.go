// Package aggregate recalculates derived customer and variant metrics.
//
// Metrics are always rebuilt from the source rows of a bounded set of keys.
// One chunk of keys is aggregated and written in a single transaction: keys
// that still have facts are upserted, keys without facts lose their metric
// row. After a chunk commits, an optional Dependent is told about exactly the
// keys of that chunk.
package aggregate

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"time"

	"github.com/samber/lo"
	"go.opentelemetry.io/otel/trace"

	"github.com/storepilot/sync-orchestrator/internal/otel"
)

// DefaultChunkSize is the number of keys aggregated per transaction.
const DefaultChunkSize = 500

// Kind names a metric family.
type Kind string

const (
	// KindCustomers aggregates orders per customer GUID into customer_metrics.
	KindCustomers Kind = "customers"
	// KindVariants aggregates order items per variant code into variant_metrics.
	KindVariants Kind = "variants"
)

// Metric is one aggregate row. Quantity is only used by variant metrics.
type Metric struct {
	Key            string
	OrdersCount    int
	Total          float64
	Quantity       float64
	Average        float64
	FirstAt        time.Time
	LastAt         time.Time
	RecalculatedAt time.Time
}

// ChunkStats counts the rows written for one chunk.
type ChunkStats struct {
	Upserted int
	Deleted  int
}

// Store aggregates and persists one metric family.
type Store interface {
	// ListKeys returns up to limit keys greater than after, in ascending
	// order. Keys with facts and keys with a stored metric are both listed.
	ListKeys(ctx context.Context, after string, limit int) ([]string, error)

	// RecalculateKeys rebuilds the metrics of keys in one transaction.
	RecalculateKeys(ctx context.Context, keys []string, now time.Time) (ChunkStats, error)
}

// Dependent is notified after the metrics of keys were committed.
type Dependent interface {
	MetricsChanged(ctx context.Context, kind Kind, keys []string) error
}

// DependentFunc adapts a function to Dependent.
type DependentFunc func(ctx context.Context, kind Kind, keys []string) error

// MetricsChanged implements Dependent.
func (f DependentFunc) MetricsChanged(ctx context.Context, kind Kind, keys []string) error {
	return f(ctx, kind, keys)
}

// Outcome summarizes a recalculation.
type Outcome struct {
	Keys              int
	Chunks            int
	Upserted          int
	Deleted           int
	DependentFailures int
}

func (o *Outcome) String() string {
	return fmt.Sprintf("keys=%d chunks=%d upserted=%d deleted=%d", o.Keys, o.Chunks, o.Upserted, o.Deleted)
}

// Engine recalculates one metric family.
type Engine struct {
	kind      Kind
	store     Store
	dependent Dependent
	chunkSize int
	now       func() time.Time
	logger    *slog.Logger
	tracer    trace.Tracer
}

// Option configures an Engine.
type Option func(*Engine)

// WithDependent sets the consumer of changed keys.
func WithDependent(d Dependent) Option {
	return func(e *Engine) {
		e.dependent = d
	}
}

// WithChunkSize sets the chunk size used by Recalculate.
func WithChunkSize(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.chunkSize = n
		}
	}
}

// WithClock overrides the time stamped on recalculated rows.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// WithLogger sets the engine logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithTracer enables a span per chunk.
func WithTracer(tracer trace.Tracer) Option {
	return func(e *Engine) {
		e.tracer = tracer
	}
}

// NewEngine creates an Engine for kind over store.
func NewEngine(kind Kind, store Store, opts ...Option) (*Engine, error) {
	if store == nil {
		return nil, fmt.Errorf("metric store is required")
	}
	e := &Engine{
		kind:      kind,
		store:     store,
		chunkSize: DefaultChunkSize,
		now:       time.Now,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Kind returns the metric family of the engine.
func (e *Engine) Kind() Kind {
	return e.kind
}

// Recalculate rebuilds the metrics of the given keys. Blank and duplicate
// keys are ignored.
func (e *Engine) Recalculate(ctx context.Context, keys []string) (*Outcome, error) {
	unique := lo.Uniq(lo.Compact(keys))
	slices.Sort(unique)

	out := &Outcome{}
	for _, chunk := range lo.Chunk(unique, e.chunkSize) {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		if err := e.recalculateChunk(ctx, chunk, out); err != nil {
			return out, err
		}
	}
	return out, nil
}

// RecalculateAll walks every known key in chunks of chunk keys.
func (e *Engine) RecalculateAll(ctx context.Context, chunk int) (*Outcome, error) {
	if chunk <= 0 {
		chunk = e.chunkSize
	}

	out := &Outcome{}
	after := ""
	for {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		keys, err := e.store.ListKeys(ctx, after, chunk)
		if err != nil {
			return out, fmt.Errorf("failed to list %s keys after %q: %w", e.kind, after, err)
		}
		if len(keys) == 0 {
			break
		}
		if err := e.recalculateChunk(ctx, keys, out); err != nil {
			return out, err
		}
		if len(keys) < chunk {
			break
		}
		after = keys[len(keys)-1]
	}

	e.logger.InfoContext(ctx, "Full metric recalculation finished",
		"kind", string(e.kind),
		"keys", out.Keys,
		"chunks", out.Chunks)
	return out, nil
}

func (e *Engine) recalculateChunk(ctx context.Context, keys []string, out *Outcome) (err error) {
	ctx, span := otel.StartSpan(ctx, e.tracer, "aggregate.Engine.recalculateChunk",
		trace.WithAttributes(otel.AttrChunkSize.Int(len(keys))))
	defer func() {
		otel.RecordError(span, err)
		span.End()
	}()

	stats, err := e.store.RecalculateKeys(ctx, keys, e.now().UTC())
	if err != nil {
		return fmt.Errorf("failed to recalculate %d %s metrics: %w", len(keys), e.kind, err)
	}
	out.Keys += len(keys)
	out.Chunks++
	out.Upserted += stats.Upserted
	out.Deleted += stats.Deleted

	e.logger.DebugContext(ctx, "Metric chunk recalculated",
		"kind", string(e.kind),
		"keys", len(keys),
		"upserted", stats.Upserted,
		"deleted", stats.Deleted)

	if e.dependent == nil {
		return nil
	}
	// The chunk is committed; a failing dependent does not undo it.
	if err := e.dependent.MetricsChanged(ctx, e.kind, keys); err != nil {
		out.DependentFailures++
		e.logger.ErrorContext(ctx, "Failed to notify dependent of changed metrics",
			"kind", string(e.kind),
			"keys", len(keys),
			"error", err)
	}
	return nil
}

// Fact is one source row of an aggregate: an order for customer metrics or
// an order line for variant metrics.
type Fact struct {
	OrderID    int64
	At         time.Time
	Amount     *float64
	AmountBase *float64
	Quantity   float64
}

// amount prefers the base currency amount.
func (f Fact) amount() float64 {
	if f.AmountBase != nil {
		return *f.AmountBase
	}
	if f.Amount != nil {
		return *f.Amount
	}
	return 0
}

// Aggregate folds facts into a metric. It returns false when there are no
// facts, in which case no metric row may exist for key.
func Aggregate(key string, facts []Fact, now time.Time) (Metric, bool) {
	if len(facts) == 0 {
		return Metric{}, false
	}

	m := Metric{Key: key, RecalculatedAt: now}
	orders := map[int64]struct{}{}
	for i, f := range facts {
		orders[f.OrderID] = struct{}{}
		m.Total += f.amount()
		m.Quantity += f.Quantity
		if i == 0 || f.At.Before(m.FirstAt) {
			m.FirstAt = f.At
		}
		if i == 0 || f.At.After(m.LastAt) {
			m.LastAt = f.At
		}
	}
	m.OrdersCount = len(orders)
	m.Total = round2(m.Total)
	m.Average = round2(m.Total / float64(m.OrdersCount))
	return m, true
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
