package rabbit

import (
	"sort"

	amqp "github.com/rabbitmq/amqp091-go"
	otelprop "go.opentelemetry.io/otel/propagation"
)

// TableCarrier adapts AMQP message headers to the OpenTelemetry
// TextMapCarrier interface. Values are written as strings; on read, string
// and []byte values are accepted since some clients send headers as byte
// arrays.
type TableCarrier amqp.Table

var _ otelprop.TextMapCarrier = TableCarrier{}

// Get returns the header value for key, or "" if it is absent or not textual.
func (c TableCarrier) Get(key string) string {
	switch v := c[key].(type) {
	case string:
		return v
	case []byte:
		return string(v)
	default:
		return ""
	}
}

// Set stores value under key.
func (c TableCarrier) Set(key, value string) {
	c[key] = value
}

// Keys returns the header names in sorted order.
func (c TableCarrier) Keys() []string {
	keys := make([]string, 0, len(c))
	for k := range c {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
