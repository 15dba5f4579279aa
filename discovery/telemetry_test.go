package discovery

import (
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

func TestTelemetryZeroValueIsNoop(t *testing.T) {
	var tel Telemetry

	ctx, finish := tel.RecordRefresh(context.Background(), "payments")
	finish(1, 0, 1, nil)
	if ctx == nil {
		t.Fatal("expected non-nil context")
	}

	tel.RecordHeartbeat(context.Background(), "inst-1", nil)
	tel.RecordHeartbeat(context.Background(), "inst-1", errors.New("boom"))
}

func TestNewTelemetryWithRealProviders(t *testing.T) {
	tp := sdktrace.NewTracerProvider()
	defer tp.Shutdown(context.Background())
	mp := metric.NewMeterProvider()
	defer mp.Shutdown(context.Background())

	tel, err := NewTelemetry(tp.Tracer("test"), mp.Meter("test"))
	if err != nil {
		t.Fatalf("NewTelemetry: %v", err)
	}

	ctx, finish := tel.RecordRefresh(context.Background(), "payments")
	finish(2, 1, 3, nil)

	tel.RecordHeartbeat(ctx, "inst-1", nil)
	tel.RecordHeartbeat(ctx, "inst-1", errors.New("unreachable"))
}
