package kafka

import (
	"context"

	"github.com/Aleph-Alpha/runtrace/v1/ingest"
	"github.com/Aleph-Alpha/runtrace/v1/runtree"
)

// RunSink publishes run deliveries as ingest events. A collector on the other
// side of the topic replays them with KafkaClient.Collect.
type RunSink struct {
	client *KafkaClient
}

var (
	_ runtree.Sink  = (*RunSink)(nil)
	_ ingest.Client = (*RunSink)(nil)
)

// NewRunSink returns a sink writing to client's topic.
func NewRunSink(client *KafkaClient) *RunSink {
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
