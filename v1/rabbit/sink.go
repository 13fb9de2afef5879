package rabbit

import (
	"context"

	"github.com/Aleph-Alpha/runtrace/v1/ingest"
	"github.com/Aleph-Alpha/runtrace/v1/runtree"
)

// RunSink publishes run deliveries as ingest events; a collector replays them
// with Collect. Deliveries wait for the broker's confirmation, so wrap the
// sink in an ingest.Processor when the caller must not block.
type RunSink struct {
	client Client
}

var (
	_ runtree.Sink  = (*RunSink)(nil)
	_ ingest.Client = (*RunSink)(nil)
)

// NewRunSink returns a sink publishing through client.
func NewRunSink(client Client) *RunSink {
	return &RunSink{client: client}
}

// Post implements runtree.Sink.
func (s *RunSink) Post(ctx context.Context, rec runtree.Record) error {
	return s.client.PublishEvent(ctx, ingest.OpPost, rec)
}

// Patch implements runtree.Sink.
func (s *RunSink) Patch(ctx context.Context, rec runtree.Record) error {
	return s.client.PublishEvent(ctx, ingest.OpPatch, rec)
}

// CreateRun implements ingest.Client, so the sink can sit behind an
// ingest.Processor.
func (s *RunSink) CreateRun(ctx context.Context, rec runtree.Record) error {
	return s.Post(ctx, rec)
}

// UpdateRun implements ingest.Client.
func (s *RunSink) UpdateRun(ctx context.Context, rec runtree.Record) error {
	return s.Patch(ctx, rec)
}
