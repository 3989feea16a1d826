package bridge

import (
	"context"

	cbus "github.com/next-trace/scg-order-bus/contract/bus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

// OTelPropagator carries OpenTelemetry context in envelope properties.
type OTelPropagator struct {
	p propagation.TextMapPropagator
}

var _ cbus.HeaderPropagator = OTelPropagator{}

// NewOTelPropagator wraps p, or the global propagator when p is nil.
func NewOTelPropagator(p propagation.TextMapPropagator) OTelPropagator {
	if p == nil {
		p = otel.GetTextMapPropagator()
	}

	return OTelPropagator{p: p}
}

func (o OTelPropagator) Inject(ctx context.Context, headers map[string]string) {
	o.p.Inject(ctx, propagation.MapCarrier(headers))
}

func (o OTelPropagator) Extract(ctx context.Context, headers map[string]string) context.Context {
	return o.p.Extract(ctx, propagation.MapCarrier(headers))
}
