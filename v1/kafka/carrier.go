package kafka

import (
	"github.com/segmentio/kafka-go"
	otelprop "go.opentelemetry.io/otel/propagation"
)

// HeaderCarrier adapts the headers of a Kafka message to the OpenTelemetry
// TextMapCarrier interface, so the propagation codec and any OTel propagator
// can read and write them.
type HeaderCarrier struct {
	headers *[]kafka.Header
}

var _ otelprop.TextMapCarrier = HeaderCarrier{}

// NewHeaderCarrier wraps headers. Set appends to the slice headers points to.
func NewHeaderCarrier(headers *[]kafka.Header) HeaderCarrier {
	return HeaderCarrier{headers: headers}
}

// Get returns the value of the first header named key.
func (c HeaderCarrier) Get(key string) string {
	for _, h := range *c.headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}

// Set replaces the header named key, or appends it.
func (c HeaderCarrier) Set(key, value string) {
	for i, h := range *c.headers {
		if h.Key == key {
			(*c.headers)[i].Value = []byte(value)
			return
		}
	}
	*c.headers = append(*c.headers, kafka.Header{Key: key, Value: []byte(value)})
}

// Keys lists the header names in message order.
func (c HeaderCarrier) Keys() []string {
	keys := make([]string, 0, len(*c.headers))
	for _, h := range *c.headers {
		keys = append(keys, h.Key)
	}
	return keys
}
