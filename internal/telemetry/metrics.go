// Package telemetry provides OpenTelemetry instrumentation for the sync orchestrator.
package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	// JobMetricsMeterName is the name used for the job runner meter
	JobMetricsMeterName = "github.com/storepilot/sync-orchestrator/jobs"

	// SyncMetricsMeterName is the name used for the sync engine meter
	SyncMetricsMeterName = "github.com/storepilot/sync-orchestrator/sync"

	// PartitionMetricsMeterName is the name used for the partition maintenance meter
	PartitionMetricsMeterName = "github.com/storepilot/sync-orchestrator/partition"
)

// JobMetrics holds the OpenTelemetry instruments for job runs
type JobMetrics struct {
	jobDuration metric.Float64Histogram
	lockSkips   metric.Int64Counter
}

// NewJobMetrics creates a new JobMetrics instance with the given meter provider.
// If provider is nil, it returns nil (no-op metrics).
func NewJobMetrics(provider metric.MeterProvider) (*JobMetrics, error) {
	if provider == nil {
		return nil, nil
	}

	meter := provider.Meter(JobMetricsMeterName)

	jobDuration, err := meter.Float64Histogram(
		"sync_orch_job_duration_seconds",
		metric.WithDescription("Duration of job runs in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.1, 0.5, 1, 5, 10, 30, 60, 300, 900, 1800),
	)
	if err != nil {
		return nil, err
	}

	lockSkips, err := meter.Int64Counter(
		"sync_orch_job_lock_skips_total",
		metric.WithDescription("Job runs skipped because the lock was held"),
		metric.WithUnit("{run}"),
	)
	if err != nil {
		return nil, err
	}

	return &JobMetrics{
		jobDuration: jobDuration,
		lockSkips:   lockSkips,
	}, nil
}

// RecordJobDuration records the duration of a job run
func (m *JobMetrics) RecordJobDuration(ctx context.Context, jobType string, duration time.Duration, success bool) {
	if m == nil || m.jobDuration == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("job_type", jobType),
		attribute.Bool("success", success),
	}

	m.jobDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
}

// RecordLockSkip counts a run skipped on lock contention
func (m *JobMetrics) RecordLockSkip(ctx context.Context, jobType string) {
	if m == nil || m.lockSkips == nil {
		return
	}
	m.lockSkips.Add(ctx, 1, metric.WithAttributes(attribute.String("job_type", jobType)))
}

// SyncMetrics holds the OpenTelemetry instruments for order synchronization
type SyncMetrics struct {
	itemsImported  metric.Int64Counter
	pagesFetched   metric.Int64Counter
	detailFailures metric.Int64Counter
}

// NewSyncMetrics creates a new SyncMetrics instance with the given meter provider.
// If provider is nil, it returns nil (no-op metrics).
func NewSyncMetrics(provider metric.MeterProvider) (*SyncMetrics, error) {
	if provider == nil {
		return nil, nil
	}

	meter := provider.Meter(SyncMetricsMeterName)

	itemsImported, err := meter.Int64Counter(
		"sync_orch_sync_items_total",
		metric.WithDescription("Orders imported from remote platforms"),
		metric.WithUnit("{order}"),
	)
	if err != nil {
		return nil, err
	}

	pagesFetched, err := meter.Int64Counter(
		"sync_orch_sync_pages_total",
		metric.WithDescription("List pages fetched from remote platforms"),
		metric.WithUnit("{page}"),
	)
	if err != nil {
		return nil, err
	}

	detailFailures, err := meter.Int64Counter(
		"sync_orch_sync_detail_failures_total",
		metric.WithDescription("Order detail fetches that fell back to the summary payload"),
		metric.WithUnit("{order}"),
	)
	if err != nil {
		return nil, err
	}

	return &SyncMetrics{
		itemsImported:  itemsImported,
		pagesFetched:   pagesFetched,
		detailFailures: detailFailures,
	}, nil
}

// RecordPage records one fetched page and the orders imported from it
func (m *SyncMetrics) RecordPage(ctx context.Context, platform string, items int) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("platform", platform))
	m.pagesFetched.Add(ctx, 1, attrs)
	m.itemsImported.Add(ctx, int64(items), attrs)
}

// RecordDetailFailure counts a degraded detail fetch
func (m *SyncMetrics) RecordDetailFailure(ctx context.Context, platform string) {
	if m == nil {
		return
	}
	m.detailFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("platform", platform)))
}

// PartitionMetrics holds the OpenTelemetry instruments for partition maintenance
type PartitionMetrics struct {
	operations metric.Int64Counter
}

// NewPartitionMetrics creates a new PartitionMetrics instance with the given meter provider.
// If provider is nil, it returns nil (no-op metrics).
func NewPartitionMetrics(provider metric.MeterProvider) (*PartitionMetrics, error) {
	if provider == nil {
		return nil, nil
	}

	operations, err := provider.Meter(PartitionMetricsMeterName).Int64Counter(
		"sync_orch_partition_operations_total",
		metric.WithDescription("Partition create and drop operations"),
		metric.WithUnit("{operation}"),
	)
	if err != nil {
		return nil, err
	}
	return &PartitionMetrics{operations: operations}, nil
}

// RecordOperation counts one partition operation
func (m *PartitionMetrics) RecordOperation(ctx context.Context, table, operation string, success bool) {
	if m == nil || m.operations == nil {
		return
	}
	m.operations.Add(ctx, 1, metric.WithAttributes(
		attribute.String("table", table),
		attribute.String("operation", operation),
		attribute.Bool("success", success),
	))
}
