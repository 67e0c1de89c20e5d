package telemetry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// TracerName is the instrumentation scope of spans created by this module
const TracerName = "github.com/storepilot/sync-orchestrator"

// Telemetry owns the tracer and meter providers of the process.
type Telemetry struct {
	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider
}

// Instruments bundles the metric instruments handed to components. Every
// field is nil when metrics are disabled, and nil instruments are no-ops.
type Instruments struct {
	Jobs       *JobMetrics
	Sync       *SyncMetrics
	Partitions *PartitionMetrics
}

// New initializes telemetry from cfg. A nil or disabled cfg yields no-op
// providers. Shutdown must be called on exit to flush exporters.
func New(ctx context.Context, cfg *Config) (*Telemetry, error) {
	if cfg == nil || !cfg.Enabled {
		slog.Debug("Telemetry disabled")
		return &Telemetry{}, nil
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid telemetry configuration: %w", err)
	}

	opts := []ProviderOption{
		WithServiceName(cfg.GetServiceName()),
		WithServiceVersion(cfg.GetServiceVersion()),
		WithEndpoint(cfg.GetEndpoint()),
		WithInsecure(cfg.Insecure),
	}

	tp, err := NewTracerProvider(ctx, cfg.Tracing, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create tracer provider: %w", err)
	}
	mp, err := NewMeterProvider(ctx, cfg.Metrics, opts...)
	if err != nil {
		if sdk, ok := tp.(*sdktrace.TracerProvider); ok {
			_ = sdk.Shutdown(ctx)
		}
		return nil, fmt.Errorf("failed to create meter provider: %w", err)
	}

	slog.Info("Telemetry initialized",
		"service_name", cfg.GetServiceName(),
		"service_version", cfg.GetServiceVersion())
	return &Telemetry{tracerProvider: tp, meterProvider: mp}, nil
}

// Tracer returns the module tracer, or nil when tracing is off.
func (t *Telemetry) Tracer() trace.Tracer {
	if t == nil || t.tracerProvider == nil {
		return nil
	}
	return t.tracerProvider.Tracer(TracerName)
}

// TracerProvider returns the tracer provider, or nil when telemetry is off.
func (t *Telemetry) TracerProvider() trace.TracerProvider {
	if t == nil {
		return nil
	}
	return t.tracerProvider
}

// MeterProvider returns the meter provider, or nil when telemetry is off.
func (t *Telemetry) MeterProvider() metric.MeterProvider {
	if t == nil {
		return nil
	}
	return t.meterProvider
}

// Instruments creates the metric instruments on the meter provider.
func (t *Telemetry) Instruments() (*Instruments, error) {
	mp := t.MeterProvider()

	jobs, err := NewJobMetrics(mp)
	if err != nil {
		return nil, fmt.Errorf("failed to create job metrics: %w", err)
	}
	syncs, err := NewSyncMetrics(mp)
	if err != nil {
		return nil, fmt.Errorf("failed to create sync metrics: %w", err)
	}
	partitions, err := NewPartitionMetrics(mp)
	if err != nil {
		return nil, fmt.Errorf("failed to create partition metrics: %w", err)
	}
	return &Instruments{Jobs: jobs, Sync: syncs, Partitions: partitions}, nil
}

// Shutdown flushes and stops the SDK providers.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	if t == nil {
		return nil
	}

	var errs []error
	if tp, ok := t.tracerProvider.(*sdktrace.TracerProvider); ok {
		if err := tp.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("failed to shutdown tracer provider: %w", err))
		}
	}
	if mp, ok := t.meterProvider.(*sdkmetric.MeterProvider); ok {
		if err := mp.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("failed to shutdown meter provider: %w", err))
		}
	}
	return errors.Join(errs...)
}
