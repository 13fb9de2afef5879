package redis

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	otelprop "go.opentelemetry.io/otel/propagation"

	"github.com/Aleph-Alpha/runtrace/v1/ingest"
	"github.com/Aleph-Alpha/runtrace/v1/propagation"
	"github.com/Aleph-Alpha/runtrace/v1/runtree"
)

type recordedLog struct {
	level string
	msg   string
	err   error
}

type recordingLogger struct {
	mu   sync.Mutex
	logs []recordedLog
}

func (l *recordingLogger) add(level, msg string, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.logs = append(l.logs, recordedLog{level: level, msg: msg, err: err})
}

func (l *recordingLogger) Error(msg string, err error, _ ...map[string]interface{}) {
	l.add("error", msg, err)
}

func (l *recordingLogger) Info(msg string, err error, _ ...map[string]interface{}) {
	l.add("info", msg, err)
}

func (l *recordingLogger) Warn(msg string, err error, _ ...map[string]interface{}) {
	l.add("warn", msg, err)
}

// embeddedClient aliases Client so embedding it does not shadow the
// Client() method with a field of the same name.
type embeddedClient = Client

// eventClient records PublishEvent calls; every other method panics.
type eventClient struct {
	embeddedClient
	mu     sync.Mutex
	events []ingest.Event
}

func (c *eventClient) PublishEvent(_ context.Context, op string, rec runtree.Record) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ingest.Event{Op: op, Run: rec})
	return nil
}

func newTestClient(t *testing.T, cfg Config) *RedisClient {
	t.Helper()
	client, err := NewClient(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestConfigDefaults(t *testing.T) {
	cfg := Config{Events: EventsConfig{Consumer: "collector-1"}}.withDefaults()

	assert.Equal(t, DefaultHost, cfg.Host)
	assert.Equal(t, DefaultPort, cfg.Port)
	assert.Equal(t, DefaultMaxRetries, cfg.MaxRetries)
	assert.Equal(t, DefaultReadTimeout, cfg.ReadTimeout)
	assert.Equal(t, DefaultEventsChannel, cfg.Events.Channel)
	assert.Equal(t, DefaultEventsGroup, cfg.Events.Group)
	assert.Equal(t, "collector-1", cfg.Events.Consumer)
	assert.Equal(t, int64(DefaultBatchSize), cfg.Events.BatchSize)
	assert.Equal(t, DefaultBlock, cfg.Events.Block)
	assert.Empty(t, cfg.Events.Stream, "pub/sub stays the default mode")

	cfg = Config{}.withDefaults()
	assert.NotEmpty(t, cfg.Events.Consumer)
}

func TestNewClientTLSErrors(t *testing.T) {
	_, err := NewClient(Config{TLS: TLSConfig{Enabled: true, CACertPath: "/does/not/exist.pem"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read CA cert")
}

func TestEnvelope(t *testing.T) {
	data, err := encodeEnvelope([]byte("hello"), map[string]string{"x-origin": "test"})
	require.NoError(t, err)

	msg := decodeEnvelope("greetings", string(data))
	assert.Equal(t, "greetings", msg.Channel)
	assert.Equal(t, []byte("hello"), msg.Payload)
	assert.Equal(t, "test", msg.Headers["x-origin"])

	t.Run("plain messages pass through", func(t *testing.T) {
		for _, raw := range []string{"not json", `{"payload":"aGk="}`, `{"v":2,"payload":"aGk="}`} {
			msg := decodeEnvelope("c", raw)
			assert.Equal(t, []byte(raw), msg.Payload)
			assert.Empty(t, msg.Headers)
		}
	})
}

func TestEnvelopeCarriesRunContext(t *testing.T) {
	codec := propagation.NewCodec(propagation.DefaultConfig())
	tree, err := runtree.NewRoot("producer", runtree.RunTypeChain, runtree.Payload{})
	require.NoError(t, err)
	root := tree.Root()

	headers := map[string]string{}
	injected, err := codec.InjectContext(runtree.ContextWithRun(context.Background(), root), otelprop.MapCarrier(headers))
	require.NoError(t, err)
	require.True(t, injected)

	data, err := encodeEnvelope([]byte("{}"), headers)
	require.NoError(t, err)
	msg := decodeEnvelope("work", string(data))

	client := &RedisClient{codec: codec}
	_, run, err := client.Attach(context.Background(), &msg, "consumer", runtree.RunTypeTool, runtree.Payload{})
	require.NoError(t, err)
	assert.Equal(t, root.TraceID(), run.TraceID())
	parent, ok := run.ParentID()
	require.True(t, ok)
	assert.Equal(t, root.ID(), parent)
}

func TestAttachWithoutHeadersStartsTrace(t *testing.T) {
	client := &RedisClient{codec: propagation.NewCodec(propagation.DefaultConfig())}
	msg := decodeEnvelope("work", "plain")

	_, run, err := client.Attach(context.Background(), &msg, "consumer", runtree.RunTypeTool, runtree.Payload{})
	require.NoError(t, err)
	assert.True(t, run.IsRoot())
}

func TestClosedClient(t *testing.T) {
	client := newTestClient(t, Config{})
	require.NoError(t, client.Close())
	require.NoError(t, client.Close())

	ctx := context.Background()
	assert.ErrorIs(t, client.Publish(ctx, "c", []byte("x")), ErrClosed)
	_, err := client.Subscribe(ctx, "c")
	assert.ErrorIs(t, err, ErrClosed)

	tree, err := runtree.NewRoot("r", runtree.RunTypeChain, runtree.Payload{})
	require.NoError(t, err)
	assert.ErrorIs(t, client.PublishEvent(ctx, ingest.OpPost, tree.Root().Record()), ErrClosed)
	assert.True(t, IsClosedError(ErrClosed))
}

func TestPublishValidation(t *testing.T) {
	client := newTestClient(t, Config{})
	ctx := context.Background()

	assert.ErrorIs(t, client.Publish(ctx, "", []byte("x")), ErrNoChannel)
	_, err := client.Subscribe(ctx)
	assert.ErrorIs(t, err, ErrNoChannel)

	tree, err := runtree.NewRoot("r", runtree.RunTypeChain, runtree.Payload{})
	require.NoError(t, err)
	assert.ErrorIs(t, client.PublishEvent(ctx, "delete", tree.Root().Record()), ingest.ErrUnknownOp)
}

func TestRunSink(t *testing.T) {
	recorder := &eventClient{}
	sink := NewRunSink(recorder)

	tree, err := runtree.NewRoot("job", runtree.RunTypeChain, runtree.Payload{}, runtree.WithSink(sink))
	require.NoError(t, err)
	root := tree.Root()
	child, err := root.CreateChild("step", runtree.RunTypeTool, runtree.Payload{})
	require.NoError(t, err)
	require.NoError(t, child.End(runtree.Payload{}))
	require.NoError(t, root.End(runtree.Payload{}))
	require.NoError(t, tree.Flush(context.Background()))

	recorder.mu.Lock()
	events := append([]ingest.Event{}, recorder.events...)
	recorder.mu.Unlock()

	require.NotEmpty(t, events)
	for _, ev := range events {
		assert.Contains(t, []string{ingest.OpPost, ingest.OpPatch}, ev.Op)
		assert.Equal(t, root.TraceID(), ev.Run.TraceID)
	}

	collector := ingest.NewMemoryCollector()
	for _, ev := range events {
		require.NoError(t, ingest.Apply(context.Background(), collector, ev))
	}
	trees := collector.Trees()
	require.Len(t, trees, 1)
	assert.Len(t, trees[0].Children, 1)

	// Behind a processor the sink is an ingest.Client.
	p := ingest.NewProcessor(ingest.Config{Workers: 1}, sink)
	require.NoError(t, p.Post(context.Background(), root.Record()))
	require.NoError(t, p.Close(context.Background()))
	assert.Equal(t, int64(1), p.Stats().Delivered)
}

func TestCollectEvent(t *testing.T) {
	logger := &recordingLogger{}
	obs := &TestObserver{}
	client := (&RedisClient{}).WithLogger(logger).WithObserver(obs)
	collector := ingest.NewMemoryCollector()
	ctx := context.Background()

	tree, err := runtree.NewRoot("job", runtree.RunTypeChain, runtree.Payload{})
	require.NoError(t, err)
	data, err := ingest.EncodeEvent(ingest.OpPost, tree.Root().Record())
	require.NoError(t, err)

	t.Run("applies decoded events", func(t *testing.T) {
		retry, err := client.collect(ctx, collector, "runtrace:runs", data)
		require.NoError(t, err)
		assert.False(t, retry)
		assert.Equal(t, 1, collector.Len())
	})

	t.Run("undecodable events are not retried", func(t *testing.T) {
		retry, err := client.collect(ctx, collector, "runtrace:runs", []byte("garbage"))
		require.Error(t, err)
		assert.False(t, retry)
	})

	t.Run("rejected events are retried", func(t *testing.T) {
		boom := errors.New("collector down")
		retry, err := client.collect(ctx, failingClient{err: boom}, "runtrace:runs", data)
		assert.ErrorIs(t, err, boom)
		assert.True(t, retry)
	})

	ops := obs.GetOperations()
	require.Len(t, ops, 3)
	assert.Equal(t, "collect", ops[0].Operation)
	assert.Equal(t, ingest.OpPost, ops[0].SubResource)
	assert.Equal(t, "error", ops[1].Status())

	logger.mu.Lock()
	defer logger.mu.Unlock()
	require.Len(t, logger.logs, 2)
	assert.Equal(t, "Failed to collect run event", logger.logs[0].msg)
}

type failingClient struct{ err error }

func (c failingClient) CreateRun(context.Context, runtree.Record) error { return c.err }
func (c failingClient) UpdateRun(context.Context, runtree.Record) error { return c.err }
