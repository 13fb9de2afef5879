package kafka

import (
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aleph-Alpha/runtrace/v1/propagation"
	"github.com/Aleph-Alpha/runtrace/v1/runtree"
)

func TestHeaderCarrier(t *testing.T) {
	var headers []kafka.Header
	c := NewHeaderCarrier(&headers)

	c.Set("a", "1")
	c.Set("b", "2")
	c.Set("a", "3")

	assert.Equal(t, "3", c.Get("a"))
	assert.Equal(t, "2", c.Get("b"))
	assert.Empty(t, c.Get("missing"))
	assert.Equal(t, []string{"a", "b"}, c.Keys())
	assert.Len(t, headers, 2)
}

func TestHeaderCarrierRoundTrip(t *testing.T) {
	tree, err := runtree.NewRoot("root", runtree.RunTypeChain, runtree.Payload{})
	require.NoError(t, err)
	child, err := tree.Root().CreateChild("child", runtree.RunTypeLLM, runtree.Payload{})
	require.NoError(t, err)

	codec := propagation.NewCodec(propagation.DefaultConfig())
	tc := propagation.Capture(child, map[string]string{"tenant": "acme"})

	var headers []kafka.Header
	require.NoError(t, codec.Inject(tc, NewHeaderCarrier(&headers)))
	require.Len(t, headers, 2)

	// Some clients rewrite header names; lookups must not care about case.
	for i := range headers {
		if headers[i].Key == propagation.DefaultContextField {
			headers[i].Key = "Runtrace-Context"
		}
	}

	decoded, err := codec.Extract(NewHeaderCarrier(&headers))
	require.NoError(t, err)
	assert.True(t, tc.Equal(decoded))
}
