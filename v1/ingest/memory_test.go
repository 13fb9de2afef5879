package ingest

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/fx"
	"go.uber.org/fx/fxtest"
	"go.uber.org/mock/gomock"

	"github.com/Aleph-Alpha/runtrace/v1/runtree"
)

func TestMemoryCollectorMergesOutOfOrder(t *testing.T) {
	collector := NewMemoryCollector()
	tree := newTree(t, collector)
	root := tree.Root()
	ctx := context.Background()

	child, err := root.CreateChild("child", runtree.RunTypeLLM, runtree.Payload{})
	require.NoError(t, err)
	open := root.Record()
	require.NoError(t, child.End(runtree.Payload{}))
	require.NoError(t, root.End(runtree.Payload{}))

	// The update overtakes the create.
	require.NoError(t, collector.UpdateRun(ctx, root.Record()))
	require.NoError(t, collector.CreateRun(ctx, child.Record()))
	require.NoError(t, collector.CreateRun(ctx, open))

	rec, ok := collector.Record(root.ID())
	require.True(t, ok)
	assert.True(t, rec.Ended())

	recs := collector.Trace(root.TraceID())
	require.Len(t, recs, 2)
	assert.Equal(t, root.ID(), recs[0].ID)
	assert.Equal(t, child.ID(), recs[1].ID)

	trees := collector.Trees()
	require.Len(t, trees, 1)
	require.Len(t, trees[0].Children, 1)
	assert.Equal(t, child.ID(), trees[0].Children[0].Record.ID)

	collector.Reset()
	assert.Zero(t, collector.Len())
}

func TestMemoryCollectorIgnoresStaleSnapshot(t *testing.T) {
	collector := NewMemoryCollector()
	tree := newTree(t, collector)
	root := tree.Root()
	ctx := context.Background()

	require.NoError(t, root.SetMetadata("phase", "draft"))
	stale := root.Record()
	require.NoError(t, root.SetMetadata("phase", "final"))

	require.NoError(t, collector.CreateRun(ctx, root.Record()))
	require.NoError(t, collector.UpdateRun(ctx, stale))

	rec, ok := collector.Record(root.ID())
	require.True(t, ok)
	v, _ := rec.Metadata.Value("phase")
	assert.Equal(t, "final", v)
}

func TestEventRoundTrip(t *testing.T) {
	tree := newTree(t, NewMemoryCollector())
	rec := tree.Root().Record()

	data, err := EncodeEvent(OpPatch, rec)
	require.NoError(t, err)

	ev, err := DecodeEvent(data)
	require.NoError(t, err)
	assert.Equal(t, OpPatch, ev.Op)
	assert.Equal(t, rec.ID, ev.Run.ID)
	assert.Equal(t, rec.DottedOrder, ev.Run.DottedOrder)
	assert.True(t, rec.Inputs.Equal(ev.Run.Inputs))
	assert.Equal(t, rec.Version, ev.Run.Version)

	_, err = EncodeEvent("delete", rec)
	assert.ErrorIs(t, err, ErrUnknownOp)
	_, err = DecodeEvent([]byte(`{"op":"delete","run":{}}`))
	assert.ErrorIs(t, err, ErrUnknownOp)
	_, err = DecodeEvent([]byte(`not json`))
	assert.Error(t, err)
}

func TestApply(t *testing.T) {
	ctrl := gomock.NewController(t)
	client := NewMockClient(ctrl)
	tree := newTree(t, NewMemoryCollector())
	rec := tree.Root().Record()
	ctx := context.Background()

	client.EXPECT().CreateRun(ctx, gomock.Any()).Return(nil)
	client.EXPECT().UpdateRun(ctx, gomock.Any()).Return(nil)

	require.NoError(t, Apply(ctx, client, Event{Op: OpPost, Run: rec}))
	require.NoError(t, Apply(ctx, client, Event{Op: OpPatch, Run: rec}))
	assert.ErrorIs(t, Apply(ctx, client, Event{Op: "noop", Run: rec}), ErrUnknownOp)
}

func TestMultiClient(t *testing.T) {
	ctrl := gomock.NewController(t)
	failing := NewMockClient(ctrl)
	collector := NewMemoryCollector()
	boom := errors.New("boom")
	tree := newTree(t, collector)
	rec := tree.Root().Record()

	failing.EXPECT().CreateRun(gomock.Any(), gomock.Any()).Return(boom)
	failing.EXPECT().UpdateRun(gomock.Any(), gomock.Any()).Return(nil)

	multi := NewMultiClient(collector, failing)
	assert.ErrorIs(t, multi.CreateRun(context.Background(), rec), boom)
	require.NoError(t, multi.UpdateRun(context.Background(), rec))

	creates, updates := collector.Counts()
	assert.Equal(t, 1, creates)
	assert.Equal(t, 1, updates)
}

func TestFXModule(t *testing.T) {
	collector := NewMemoryCollector()
	var (
		sink      runtree.Sink
		processor *Processor
	)
	app := fxtest.New(t,
		FXModule,
		fx.Provide(
			func() Config { return Config{Workers: 2} },
			func() Client { return collector },
		),
		fx.Populate(&sink, &processor),
	)
	app.RequireStart()

	assert.Same(t, processor, sink)
	tree := newTree(t, sink)
	require.NoError(t, tree.Root().End(runtree.Payload{}))
	require.NoError(t, tree.Post(context.Background(), tree.Root()))

	app.RequireStop()
	assert.Equal(t, 1, collector.Len())
	assert.ErrorIs(t, processor.Post(context.Background(), tree.Root().Record()), ErrClosed)
}

func TestFXModuleWithoutEndpoint(t *testing.T) {
	app := fx.New(
		FXModule,
		fx.Provide(func() Config { return Config{} }),
		fx.NopLogger,
	)
	require.Error(t, app.Err())
	assert.Contains(t, app.Err().Error(), ErrNoEndpoint.Error())
}
