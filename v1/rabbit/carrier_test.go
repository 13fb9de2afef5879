package rabbit

import (
	"testing"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aleph-Alpha/runtrace/v1/propagation"
	"github.com/Aleph-Alpha/runtrace/v1/runtree"
)

func TestTableCarrier(t *testing.T) {
	table := amqp.Table{
		"bytes":  []byte("raw"),
		"number": int32(7),
	}
	c := TableCarrier(table)
	c.Set("text", "value")

	assert.Equal(t, "value", c.Get("text"))
	assert.Equal(t, "raw", c.Get("bytes"))
	assert.Empty(t, c.Get("number"), "non textual values are not exposed")
	assert.Empty(t, c.Get("missing"))
	assert.Equal(t, []string{"bytes", "number", "text"}, c.Keys())
	assert.Equal(t, "value", table["text"], "the carrier writes through to the table")
}

func TestTableCarrierRoundTrip(t *testing.T) {
	tree, err := runtree.NewRoot("publisher", runtree.RunTypeChain, runtree.Payload{})
	require.NoError(t, err)
	tc := propagation.Capture(tree.Root(), map[string]string{"tenant": "acme"})
	codec := propagation.NewCodec(propagation.DefaultConfig())

	table := amqp.Table{}
	require.NoError(t, codec.Inject(tc, TableCarrier(table)))

	// Simulate a client that delivers header values as byte arrays.
	delivered := amqp.Table{}
	for k, v := range table {
		delivered[k] = []byte(v.(string))
	}
	msg := &ConsumerMessage{delivery: amqp.Delivery{Headers: delivered}}

	decoded, err := codec.Extract(msg.Carrier())
	require.NoError(t, err)
	assert.True(t, tc.Equal(decoded))
}

func TestConsumerMessageCarrierWithoutHeaders(t *testing.T) {
	msg := &ConsumerMessage{}
	c := msg.Carrier()
	assert.Empty(t, c.Keys())
	c.Set("k", "v")
	assert.Equal(t, "v", msg.Header()["k"])
}
