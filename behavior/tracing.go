package behavior

import (
	"context"

	cbus "github.com/next-trace/scg-order-bus/contract/bus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// TracerName is the instrumentation scope used when Tracing gets a nil tracer.
const TracerName = "github.com/next-trace/scg-order-bus/behavior"

// Tracing starts one span per request, named after the request type. A nil tracer falls back
// to the global provider.
func Tracing(tracer trace.Tracer) cbus.Behavior {
	if tracer == nil {
		tracer = otel.Tracer(TracerName)
	}

	return func(next cbus.HandlerFunc) cbus.HandlerFunc {
		return func(ctx context.Context, req any) (any, error) {
			name := RequestName(req)

			ctx, span := tracer.Start(ctx, name,
				trace.WithSpanKind(trace.SpanKindInternal),
				trace.WithAttributes(attribute.String("orderbus.request", name)))
			defer span.End()

			res, err := next(ctx, req)
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
			}

			return res, err
		}
	}
}
