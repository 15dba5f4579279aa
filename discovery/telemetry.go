package discovery

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Telemetry carries the OpenTelemetry tracer and meter an instrumented
// component records against. Both fields are optional; a zero-value
// Telemetry disables instrumentation entirely, matching how the rest of
// the stack treats a nil tracer/meter as "OTel not configured" rather
// than an error.
type Telemetry struct {
	Tracer  trace.Tracer
	Meter   metric.Meter
	metrics *refreshMetrics
}

type refreshMetrics struct {
	refreshCount    metric.Int64Counter
	refreshDuration metric.Float64Histogram
	instanceGauge   metric.Int64UpDownCounter
	heartbeatCount  metric.Int64Counter
}

// NewTelemetry builds a Telemetry from a tracer and meter. Either argument
// may be nil to disable that half of the instrumentation.
func NewTelemetry(tracer trace.Tracer, meter metric.Meter) (Telemetry, error) {
	t := Telemetry{Tracer: tracer, Meter: meter}
	if meter == nil {
		return t, nil
	}

	m := &refreshMetrics{}
	var err error

	m.refreshCount, err = meter.Int64Counter(
		"discovery.refresh.count",
		metric.WithDescription("Number of discover-diff-dial passes performed"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return t, fmt.Errorf("create refresh count counter: %w", err)
	}

	m.refreshDuration, err = meter.Float64Histogram(
		"discovery.refresh.duration",
		metric.WithDescription("Duration of a discover-diff-dial pass"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return t, fmt.Errorf("create refresh duration histogram: %w", err)
	}

	m.instanceGauge, err = meter.Int64UpDownCounter(
		"discovery.instances.ready",
		metric.WithDescription("Instances currently holding a live channel"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return t, fmt.Errorf("create instance gauge: %w", err)
	}

	m.heartbeatCount, err = meter.Int64Counter(
		"discovery.heartbeat.count",
		metric.WithDescription("Heartbeats sent by a registry loop"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return t, fmt.Errorf("create heartbeat count counter: %w", err)
	}

	t.metrics = m
	return t, nil
}

// RecordRefresh starts a span named "discovery.refresh" (if a tracer is
// configured) and returns a function that ends the span and records the
// refresh-count/duration metrics (if a meter is configured). Call the
// returned function with the outcome of the refresh pass.
func (t Telemetry) RecordRefresh(ctx context.Context, serviceType string) (context.Context, func(inserted, removed, total int, err error)) {
	var span trace.Span
	if t.Tracer != nil {
		ctx, span = t.Tracer.Start(ctx, "discovery.refresh")
		span.SetAttributes(attribute.String("service_type", serviceType))
	}

	start := time.Now()

	return ctx, func(inserted, removed, total int, err error) {
		durationMs := float64(time.Since(start).Milliseconds())

		if span != nil {
			span.SetAttributes(
				attribute.Int("discovery.inserted", inserted),
				attribute.Int("discovery.removed", removed),
				attribute.Int("discovery.total", total),
			)
			if err != nil {
				span.SetStatus(codes.Error, err.Error())
				span.RecordError(err)
			} else {
				span.SetStatus(codes.Ok, "")
			}
			span.End()
		}

		if t.metrics != nil {
			attrs := metric.WithAttributes(attribute.String("service_type", serviceType))
			t.metrics.refreshCount.Add(ctx, 1, attrs)
			t.metrics.refreshDuration.Record(ctx, durationMs, attrs)
			t.metrics.instanceGauge.Add(ctx, int64(inserted-removed), attrs)
		}
	}
}

// RecordHeartbeat records one heartbeat attempt for instanceID, tagging the
// outcome (ok/error) on both the span and the counter.
func (t Telemetry) RecordHeartbeat(ctx context.Context, instanceID string, err error) {
	if t.Tracer != nil {
		_, span := t.Tracer.Start(ctx, "discovery.heartbeat")
		span.SetAttributes(attribute.String("instance_id", instanceID))
		if err != nil {
			span.SetStatus(codes.Error, err.Error())
			span.RecordError(err)
		} else {
			span.SetStatus(codes.Ok, "")
		}
		span.End()
	}
	if t.metrics != nil {
		status := "ok"
		if err != nil {
			status = "error"
		}
		t.metrics.heartbeatCount.Add(ctx, 1, metric.WithAttributes(
			attribute.String("instance_id", instanceID),
			attribute.String("status", status),
		))
	}
}
