package rabbit

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"testing"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/Aleph-Alpha/runtrace/v1/ingest"
	"github.com/Aleph-Alpha/runtrace/v1/propagation"
	"github.com/Aleph-Alpha/runtrace/v1/runtree"
)

type fakeMessage struct {
	body    []byte
	headers amqp.Table

	acked   bool
	nacked  bool
	requeue bool
}

func (m *fakeMessage) AckMsg() error {
	m.acked = true
	return nil
}

func (m *fakeMessage) NackMsg(requeue bool) error {
	m.nacked, m.requeue = true, requeue
	return nil
}

func (m *fakeMessage) Body() []byte                   { return m.body }
func (m *fakeMessage) Header() map[string]interface{} { return m.headers }

func (m *fakeMessage) Carrier() TableCarrier {
	if m.headers == nil {
		m.headers = amqp.Table{}
	}
	return TableCarrier(m.headers)
}

// recordingClient captures PublishEvent calls. The embedded interface is nil;
// calling any other method panics.
type recordingClient struct {
	Client

	mu     sync.Mutex
	events []ingest.Event
}

func (c *recordingClient) PublishEvent(_ context.Context, op string, rec runtree.Record) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ingest.Event{Op: op, Run: rec})
	return nil
}

func newEventMessage(t *testing.T, op string, rec runtree.Record) *fakeMessage {
	t.Helper()
	body, err := ingest.EncodeEvent(op, rec)
	require.NoError(t, err)
	return &fakeMessage{body: body}
}

func TestRunSinkPublishesEvents(t *testing.T) {
	client := &recordingClient{}
	sink := NewRunSink(client)

	tree, err := runtree.NewRoot("job", runtree.RunTypeChain, runtree.Payload{}, runtree.WithSink(sink))
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, tree.Post(ctx, tree.Root()))
	require.NoError(t, tree.Root().End(runtree.Payload{}))
	require.NoError(t, tree.Flush(ctx))

	require.Len(t, client.events, 2)
	assert.Equal(t, ingest.OpPost, client.events[0].Op)
	assert.Equal(t, ingest.OpPatch, client.events[1].Op)
	assert.True(t, client.events[1].Run.Ended())

	// Behind a processor the sink acts as an ingest.Client.
	p := ingest.NewProcessor(ingest.Config{Workers: 1}, sink)
	require.NoError(t, p.Post(ctx, tree.Root().Record()))
	require.NoError(t, p.Close(ctx))
	assert.Len(t, client.events, 3)
}

func TestCollect(t *testing.T) {
	tree, err := runtree.NewRoot("job", runtree.RunTypeChain, runtree.Payload{})
	require.NoError(t, err)
	rec := tree.Root().Record()
	ctx := context.Background()

	t.Run("applies and acks", func(t *testing.T) {
		obs := &TestObserver{}
		rb := &RabbitClient{cfg: Config{Channel: Channel{QueueName: "runs"}}, observer: obs}
		collector := ingest.NewMemoryCollector()
		msg := newEventMessage(t, ingest.OpPost, rec)

		rb.collect(ctx, collector, msg)

		assert.True(t, msg.acked)
		assert.False(t, msg.nacked)
		assert.Equal(t, 1, collector.Len())
		ops := obs.GetOperations()
		require.Len(t, ops, 1)
		assert.Equal(t, "collect", ops[0].Operation)
		assert.Equal(t, "runs", ops[0].Resource)
		assert.Equal(t, ingest.OpPost, ops[0].SubResource)
	})

	t.Run("undecodable event is dead lettered", func(t *testing.T) {
		logger := &MockLogger{}
		rb := &RabbitClient{logger: logger}
		msg := &fakeMessage{body: []byte("{")}

		rb.collect(ctx, ingest.NewMemoryCollector(), msg)

		assert.True(t, msg.nacked)
		assert.False(t, msg.requeue)
		assert.True(t, logger.ErrorCalled)
	})

	t.Run("transient failure is requeued", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		client := ingest.NewMockClient(ctrl)
		refused := &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")}
		client.EXPECT().CreateRun(gomock.Any(), gomock.Any()).Return(fmt.Errorf("post run: %w", refused))

		rb := &RabbitClient{}
		msg := newEventMessage(t, ingest.OpPost, rec)
		rb.collect(ctx, client, msg)

		assert.True(t, msg.nacked)
		assert.True(t, msg.requeue)
	})

	t.Run("permanent failure is dead lettered", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		client := ingest.NewMockClient(ctrl)
		client.EXPECT().UpdateRun(gomock.Any(), gomock.Any()).Return(ingest.ErrUnexpectedStatus)

		rb := &RabbitClient{}
		msg := newEventMessage(t, ingest.OpPatch, rec)
		rb.collect(ctx, client, msg)

		assert.True(t, msg.nacked)
		assert.False(t, msg.requeue)
	})
}

func TestAttachFromMessage(t *testing.T) {
	tree, err := runtree.NewRoot("publisher", runtree.RunTypeChain, runtree.Payload{})
	require.NoError(t, err)

	rb := (&RabbitClient{}).WithCodec(nil)
	require.Nil(t, rb.codec, "a nil codec leaves the client unchanged")
	rb = &RabbitClient{codec: propagation.NewCodec(propagation.DefaultConfig())}

	table := amqp.Table{}
	_, err = rb.codec.InjectContext(runtree.ContextWithRun(context.Background(), tree.Root()), TableCarrier(table))
	require.NoError(t, err)

	_, run, err := rb.Attach(context.Background(), &fakeMessage{headers: table}, "consume", runtree.RunTypeTool, runtree.Payload{})
	require.NoError(t, err)
	parent, ok := run.ParentID()
	require.True(t, ok)
	assert.Equal(t, tree.Root().ID(), parent)

	_, run, err = rb.Attach(context.Background(), &fakeMessage{}, "consume", runtree.RunTypeTool, runtree.Payload{})
	require.NoError(t, err)
	assert.True(t, run.IsRoot())
}
