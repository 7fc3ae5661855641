package otelx

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

// StoredTrace is the W3C trace context persisted next to an outbox row so the
// publisher can continue the trace of the request that wrote it.
type StoredTrace struct {
	Parent string
	State  string
}

// CaptureTrace returns the trace context active in ctx. Both fields are empty
// when ctx carries no span.
func CaptureTrace(ctx context.Context) StoredTrace {
	c := propagation.MapCarrier{}
	otel.GetTextMapPropagator().Inject(ctx, c)
	return StoredTrace{Parent: c.Get("traceparent"), State: c.Get("tracestate")}
}

// Empty reports whether nothing was captured.
func (s StoredTrace) Empty() bool {
	return s.Parent == "" && s.State == ""
}

// Resume attaches the stored trace context to ctx as the remote parent.
func (s StoredTrace) Resume(ctx context.Context) context.Context {
	if s.Empty() {
		return ctx
	}
	c := propagation.MapCarrier{}
	c.Set("traceparent", s.Parent)
	if s.State != "" {
		c.Set("tracestate", s.State)
	}
	return otel.GetTextMapPropagator().Extract(ctx, c)
}
