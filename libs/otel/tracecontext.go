package otelx

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

// TraceContext is the W3C trace context of a span, detached from its context.Context
// so it can cross a goroutine or queue boundary.
type TraceContext struct {
	Traceparent string
	Tracestate  string
}

func CaptureTraceContext(ctx context.Context) TraceContext {
	carrier := propagation.MapCarrier{}
	otel.GetTextMapPropagator().Inject(ctx, carrier)
	return TraceContext{Traceparent: carrier["traceparent"], Tracestate: carrier["tracestate"]}
}

func ContextWithTraceContext(ctx context.Context, tc TraceContext) context.Context {
	if tc.Traceparent == "" && tc.Tracestate == "" {
		return ctx
	}
	carrier := propagation.MapCarrier{
		"traceparent": tc.Traceparent,
		"tracestate":  tc.Tracestate,
	}
	return otel.GetTextMapPropagator().Extract(ctx, carrier)
}
