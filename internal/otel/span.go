// Package otel holds the span helpers shared by the job runner and the engines.
package otel

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Attribute keys used on spans across the module.
const (
	AttrJobType    = attribute.Key("job.type")
	AttrScheduleID = attribute.Key("job.schedule_id")
	AttrLockKey    = attribute.Key("lock.key")
	AttrShopID     = attribute.Key("shop.id")
	AttrPage       = attribute.Key("pagination.page")
	AttrItemCount  = attribute.Key("result.count")
	AttrChunkSize  = attribute.Key("batch.size")
	AttrPartition  = attribute.Key("partition.name")
)

// StartSpan starts a span on tracer. A nil tracer yields the span already in
// ctx (a no-op span when there is none), so callers need no nil checks.
func StartSpan(
	ctx context.Context,
	tracer trace.Tracer,
	name string,
	opts ...trace.SpanStartOption,
) (context.Context, trace.Span) {
	if tracer == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return tracer.Start(ctx, name, opts...)
}

// RecordError marks span as failed. The status text stays generic so that
// queries or connection strings never end up in the span status; the error
// itself is kept as a span event.
func RecordError(span trace.Span, err error) {
	if err != nil && span != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "operation failed")
	}
}
