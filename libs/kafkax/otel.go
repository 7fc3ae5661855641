package kafkax

import (
	"context"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

// headerCarrier lets the otel propagator read and write Kafka message headers.
// Set replaces an existing key so re-injecting never duplicates traceparent.
type headerCarrier []kafka.Header

var _ propagation.TextMapCarrier = (*headerCarrier)(nil)

func (h *headerCarrier) index(key string) int {
	for i, kv := range *h {
		if kv.Key == key {
			return i
		}
	}
	return -1
}

func (h *headerCarrier) Get(key string) string {
	if i := h.index(key); i >= 0 {
		return string((*h)[i].Value)
	}
	return ""
}

func (h *headerCarrier) Set(key, value string) {
	if i := h.index(key); i >= 0 {
		(*h)[i].Value = []byte(value)
		return
	}
	*h = append(*h, kafka.Header{Key: key, Value: []byte(value)})
}

func (h *headerCarrier) Keys() []string {
	keys := make([]string, len(*h))
	for i, kv := range *h {
		keys[i] = kv.Key
	}
	return keys
}

// InjectTraceHeaders adds the trace context of ctx to headers.
func InjectTraceHeaders(ctx context.Context, headers []kafka.Header) []kafka.Header {
	c := headerCarrier(headers)
	otel.GetTextMapPropagator().Inject(ctx, &c)
	return c
}
