package ingest

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/Aleph-Alpha/runtrace/v1/runtree"
)

// Event operations.
const (
	OpPost  = "post"
	OpPatch = "patch"
)

// Event is a run delivery on the wire. Broker based sinks (kafka, rabbit,
// redis) publish events and collectors replay them with Apply.
type Event struct {
	Op  string         `json:"op"`
	Run runtree.Record `json:"run"`
}

// EncodeEvent marshals an event to JSON.
func EncodeEvent(op string, rec runtree.Record) ([]byte, error) {
	if op != OpPost && op != OpPatch {
		return nil, fmt.Errorf("%w: %q", ErrUnknownOp, op)
	}
	return json.Marshal(Event{Op: op, Run: rec})
}

// DecodeEvent unmarshals an event produced by EncodeEvent.
func DecodeEvent(data []byte) (Event, error) {
	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return Event{}, fmt.Errorf("ingest: decode event: %w", err)
	}
	if ev.Op != OpPost && ev.Op != OpPatch {
		return Event{}, fmt.Errorf("%w: %q", ErrUnknownOp, ev.Op)
	}
	return ev, nil
}

// Apply replays ev against client.
func Apply(ctx context.Context, client Client, ev Event) error {
	switch ev.Op {
	case OpPost:
		return client.CreateRun(ctx, ev.Run)
	case OpPatch:
		return client.UpdateRun(ctx, ev.Run)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownOp, ev.Op)
	}
}

// ClientSink adapts a Client to runtree.Sink with synchronous delivery. Use a
// Processor when deliveries must not block the caller.
type ClientSink struct {
	Client Client
}

var _ runtree.Sink = ClientSink{}

// Post implements runtree.Sink.
func (s ClientSink) Post(ctx context.Context, rec runtree.Record) error {
	return s.Client.CreateRun(ctx, rec)
}

// Patch implements runtree.Sink.
func (s ClientSink) Patch(ctx context.Context, rec runtree.Record) error {
	return s.Client.UpdateRun(ctx, rec)
}
