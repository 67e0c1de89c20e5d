// Package partition keeps quarterly range partitions of a fact table.
//
// Partitions are named <table>_<yyyy>q<n> and cover one calendar quarter in
// UTC. EnsureFuturePartitions creates the current and upcoming quarters;
// PruneOldPartitions drops quarters that fell out of the retention horizon.
// Each create or drop stands alone: a failure is logged and reported, and
// the remaining partitions are still processed.
package partition

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/storepilot/sync-orchestrator/internal/otel"
	"github.com/storepilot/sync-orchestrator/internal/telemetry"
)

const (
	// DefaultTable is the partitioned order line table.
	DefaultTable = "order_items"

	// OperationCreate and OperationDrop name partition operations.
	OperationCreate = "create"
	OperationDrop   = "drop"
)

// OperationError is a failed create or drop of one partition.
type OperationError struct {
	Operation string
	Partition string
	Err       error
}

func (e *OperationError) Error() string {
	return fmt.Sprintf("failed to %s partition %s: %v", e.Operation, e.Partition, e.Err)
}

func (e *OperationError) Unwrap() error {
	return e.Err
}

// Report lists what a maintenance call did.
type Report struct {
	Created  []string
	Existing []string
	Dropped  []string
	Failures []*OperationError
}

// Err joins the failures of the report, or returns nil.
func (r *Report) Err() error {
	errs := make([]error, len(r.Failures))
	for i, f := range r.Failures {
		errs[i] = f
	}
	return errors.Join(errs...)
}

// Merge appends other to r.
func (r *Report) Merge(other *Report) {
	if other == nil {
		return
	}
	r.Created = append(r.Created, other.Created...)
	r.Existing = append(r.Existing, other.Existing...)
	r.Dropped = append(r.Dropped, other.Dropped...)
	r.Failures = append(r.Failures, other.Failures...)
}

// Maintainer creates and drops the partitions of one table.
type Maintainer struct {
	catalog Catalog
	table   string
	now     func() time.Time
	logger  *slog.Logger
	tracer  trace.Tracer
	metrics *telemetry.PartitionMetrics
}

// Option configures a Maintainer.
type Option func(*Maintainer)

// WithTable overrides the partitioned table.
func WithTable(table string) Option {
	return func(m *Maintainer) {
		m.table = table
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(m *Maintainer) {
		m.now = now
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Maintainer) {
		m.logger = logger
	}
}

// WithTracer enables spans per maintenance call.
func WithTracer(tracer trace.Tracer) Option {
	return func(m *Maintainer) {
		m.tracer = tracer
	}
}

// WithMetrics counts partition operations.
func WithMetrics(metrics *telemetry.PartitionMetrics) Option {
	return func(m *Maintainer) {
		m.metrics = metrics
	}
}

// NewMaintainer creates a Maintainer.
func NewMaintainer(catalog Catalog, opts ...Option) (*Maintainer, error) {
	if catalog == nil {
		return nil, fmt.Errorf("partition catalog is required")
	}
	m := &Maintainer{
		catalog: catalog,
		table:   DefaultTable,
		now:     time.Now,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.table == "" {
		return nil, fmt.Errorf("partitioned table name is required")
	}
	return m, nil
}

// EnsureFuturePartitions creates the partitions of the current quarter and
// the next horizon quarters that do not exist yet.
func (m *Maintainer) EnsureFuturePartitions(ctx context.Context, horizon int) (report *Report, err error) {
	if horizon < 0 {
		return nil, fmt.Errorf("horizon must not be negative, got %d", horizon)
	}
	ctx, span := otel.StartSpan(ctx, m.tracer, "partition.Maintainer.EnsureFuturePartitions")
	defer func() {
		otel.RecordError(span, err)
		span.End()
	}()

	report = &Report{}
	current := QuarterOf(m.now())
	for i := 0; i <= horizon; i++ {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		bucket := current.Add(i)
		name := bucket.Name(m.table)

		exists, err := m.catalog.Exists(ctx, name)
		if err != nil {
			m.fail(ctx, report, OperationCreate, name, fmt.Errorf("existence check: %w", err))
			continue
		}
		if exists {
			report.Existing = append(report.Existing, name)
			continue
		}

		if err := m.catalog.Create(ctx, m.table, name, bucket.From(), bucket.To()); err != nil {
			m.fail(ctx, report, OperationCreate, name, err)
			continue
		}
		report.Created = append(report.Created, name)
		m.metrics.RecordOperation(ctx, m.table, OperationCreate, true)
		m.logger.InfoContext(ctx, "Partition created",
			"table", m.table,
			"partition", name,
			"from", bucket.From(),
			"to", bucket.To())
	}
	return report, nil
}

// PruneOldPartitions drops partitions whose quarter ended before the start
// of the quarter retention quarters before the current one.
func (m *Maintainer) PruneOldPartitions(ctx context.Context, retention int) (report *Report, err error) {
	if retention < 1 {
		return nil, fmt.Errorf("retention must be at least 1 quarter, got %d", retention)
	}
	ctx, span := otel.StartSpan(ctx, m.tracer, "partition.Maintainer.PruneOldPartitions")
	defer func() {
		otel.RecordError(span, err)
		span.End()
	}()

	children, err := m.catalog.ListChildren(ctx, m.table)
	if err != nil {
		return nil, fmt.Errorf("failed to list partitions of %s: %w", m.table, err)
	}

	cutoff := QuarterOf(m.now()).Add(-retention).From()
	report = &Report{}
	for _, name := range children {
		bucket, ok := ParseName(m.table, name)
		if !ok || bucket.To().After(cutoff) {
			continue
		}
		if err := ctx.Err(); err != nil {
			return report, err
		}
		if err := m.catalog.Drop(ctx, name); err != nil {
			m.fail(ctx, report, OperationDrop, name, err)
			continue
		}
		report.Dropped = append(report.Dropped, name)
		m.metrics.RecordOperation(ctx, m.table, OperationDrop, true)
		m.logger.InfoContext(ctx, "Partition dropped", "table", m.table, "partition", name)
	}
	return report, nil
}

func (m *Maintainer) fail(ctx context.Context, report *Report, operation, name string, err error) {
	opErr := &OperationError{Operation: operation, Partition: name, Err: err}
	report.Failures = append(report.Failures, opErr)
	m.metrics.RecordOperation(ctx, m.table, operation, false)
	m.logger.ErrorContext(ctx, "Partition operation failed",
		"table", m.table,
		"partition", name,
		"operation", operation,
		"error", err)
}
