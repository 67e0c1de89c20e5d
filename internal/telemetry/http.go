package telemetry

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// HTTPMetricsMeterName is the meter of the operations HTTP server
const HTTPMetricsMeterName = "github.com/storepilot/sync-orchestrator/http"

// unknownRoute keeps unmatched paths from creating one series per URL.
const unknownRoute = "unknown_route"

// HTTPMiddleware instruments the operations server (health and readiness
// probes) with a server span and a request duration histogram per route.
// Either provider may be nil.
func HTTPMiddleware(tp trace.TracerProvider, mp metric.MeterProvider) (func(http.Handler) http.Handler, error) {
	var duration metric.Float64Histogram
	if mp != nil {
		var err error
		duration, err = mp.Meter(HTTPMetricsMeterName).Float64Histogram(
			"sync_orch_http_request_duration_seconds",
			metric.WithDescription("Duration of operations HTTP requests in seconds"),
			metric.WithUnit("s"),
			metric.WithExplicitBucketBoundaries(0.005, 0.01, 0.05, 0.1, 0.5, 1, 5),
		)
		if err != nil {
			return nil, err
		}
	}

	var tracer trace.Tracer
	if tp != nil {
		tracer = tp.Tracer(HTTPMetricsMeterName)
	}

	if duration == nil && tracer == nil {
		return func(next http.Handler) http.Handler { return next }, nil
	}

	propagator := otel.GetTextMapPropagator()
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ctx := r.Context()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			var span trace.Span
			if tracer != nil {
				ctx = propagator.Extract(ctx, propagation.HeaderCarrier(r.Header))
				ctx, span = tracer.Start(ctx, r.Method+" "+r.URL.Path,
					trace.WithSpanKind(trace.SpanKindServer),
					trace.WithAttributes(semconv.HTTPRequestMethodKey.String(r.Method), semconv.URLPath(r.URL.Path)),
				)
				defer span.End()
			}

			next.ServeHTTP(ww, r.WithContext(ctx))

			route := routePattern(r)
			status := ww.Status()
			if span != nil {
				span.SetName(r.Method + " " + route)
				span.SetAttributes(semconv.HTTPRouteKey.String(route), semconv.HTTPResponseStatusCode(status))
				if status >= http.StatusBadRequest {
					span.SetStatus(codes.Error, http.StatusText(status))
				}
			}
			if duration != nil {
				duration.Record(ctx, time.Since(start).Seconds(), metric.WithAttributes(
					attribute.String("method", r.Method),
					attribute.String("route", route),
					attribute.String("status_code", strconv.Itoa(status)),
				))
			}
		})
	}, nil
}

func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
		return rctx.RoutePattern()
	}
	return unknownRoute
}
