package bridge_test

import (
	"testing"

	"github.com/next-trace/scg-order-bus/bridge"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

func TestOTelPropagator_RoundTrip(t *testing.T) {
	tp := sdktrace.NewTracerProvider()
	t.Cleanup(func() { _ = tp.Shutdown(t.Context()) })

	ctx, span := tp.Tracer("test").Start(t.Context(), "publish")
	defer span.End()

	p := bridge.NewOTelPropagator(propagation.TraceContext{})
	headers := map[string]string{}
	p.Inject(ctx, headers)

	if headers["traceparent"] == "" {
		t.Fatalf("traceparent not injected: %v", headers)
	}

	got := trace.SpanContextFromContext(p.Extract(t.Context(), headers))
	if got.TraceID() != span.SpanContext().TraceID() || !got.IsRemote() {
		t.Fatalf("extracted %v, want trace %v", got, span.SpanContext().TraceID())
	}
}
