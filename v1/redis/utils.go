package redis

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	otelprop "go.opentelemetry.io/otel/propagation"

	"github.com/Aleph-Alpha/runtrace/v1/ingest"
	"github.com/Aleph-Alpha/runtrace/v1/runtree"
)

// Stream entry fields written by PublishEvent. Only eventField is needed to
// replay an entry; the others make the stream readable with XRANGE.
const (
	eventField   = "event"
	opField      = "op"
	runIDField   = "run_id"
	traceIDField = "trace_id"
)

// Publish sends payload on channel. The message is wrapped in an envelope
// carrying headers[0] plus the propagation fields of the ambient run of ctx.
func (r *RedisClient) Publish(ctx context.Context, channel string, payload []byte, headers ...map[string]string) error {
	if channel == "" {
		return ErrNoChannel
	}
	if r.isClosed() {
		return ErrClosed
	}

	h := map[string]string{}
	if len(headers) > 0 {
		for k, v := range headers[0] {
			h[k] = v
		}
	}
	if _, err := r.codec.InjectContext(ctx, otelprop.MapCarrier(h)); err != nil {
		return err
	}

	data, err := encodeEnvelope(payload, h)
	if err != nil {
		return fmt.Errorf("redis: encode message: %w", err)
	}
	return r.publish(ctx, channel, "", data)
}

func (r *RedisClient) publish(ctx context.Context, channel, op string, data []byte) error {
	start := time.Now()
	r.mu.RLock()
	defer r.mu.RUnlock()

	err := r.client.Publish(ctx, channel, data).Err()
	r.observeOperation("produce", channel, op, time.Since(start), err, int64(len(data)), nil)
	if err != nil {
		return fmt.Errorf("redis: publish to %s: %w", channel, err)
	}
	return nil
}

// PublishEvent publishes a run event. With Events.Stream set the event is
// appended to the stream, otherwise it is published on Events.Channel.
func (r *RedisClient) PublishEvent(ctx context.Context, op string, rec runtree.Record) error {
	data, err := ingest.EncodeEvent(op, rec)
	if err != nil {
		return err
	}
	if r.isClosed() {
		return ErrClosed
	}

	stream := r.cfg.Events.Stream
	if stream == "" {
		return r.publish(ctx, r.cfg.Events.Channel, op, data)
	}

	start := time.Now()
	r.mu.RLock()
	defer r.mu.RUnlock()

	err = r.client.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		MaxLen: r.cfg.Events.StreamMaxLen,
		Approx: r.cfg.Events.StreamMaxLen > 0,
		Values: map[string]interface{}{
			opField:      op,
			runIDField:   rec.ID.String(),
			traceIDField: rec.TraceID.String(),
			eventField:   data,
		},
	}).Err()
	r.observeOperation("produce", stream, op, time.Since(start), err, int64(len(data)), nil)
	if err != nil {
		return fmt.Errorf("redis: append to %s: %w", stream, err)
	}
	return nil
}

// subscribe opens a subscription and waits for the server to confirm it, so
// no message published after subscribe returns is missed.
func (r *RedisClient) subscribe(ctx context.Context, channels ...string) (*redis.PubSub, error) {
	if len(channels) == 0 {
		return nil, ErrNoChannel
	}
	if r.isClosed() {
		return nil, ErrClosed
	}

	r.mu.RLock()
	ps := r.client.Subscribe(ctx, channels...)
	r.mu.RUnlock()

	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("redis: subscribe to %s: %w", strings.Join(channels, ","), err)
	}
	return ps, nil
}

// Subscribe delivers messages published on channels until ctx ends or the
// client is closed, then closes the returned channel.
func (r *RedisClient) Subscribe(ctx context.Context, channels ...string) (<-chan Message, error) {
	ps, err := r.subscribe(ctx, channels...)
	if err != nil {
		return nil, err
	}

	out := make(chan Message, 100)
	go func() {
		defer close(out)
		defer ps.Close()

		in := ps.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case <-r.shutdownSignal:
				return
			case m, ok := <-in:
				if !ok {
					return
				}
				msg := decodeEnvelope(m.Channel, m.Payload)
				r.observeOperation("consume", m.Channel, "", 0, nil, int64(len(m.Payload)), nil)
				select {
				case out <- msg:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

// Attach continues the trace carried by msg with a new run, or starts a new
// trace when msg carries no usable context.
func (r *RedisClient) Attach(ctx context.Context, msg *Message, name, runType string, inputs runtree.Payload, opts ...runtree.Option) (*runtree.Tree, *runtree.Run, error) {
	return r.codec.AttachOrStart(ctx, msg.Carrier(), name, runType, inputs, opts...)
}

// Collect replays run events into client until ctx ends or the client is
// closed.
//
// In pub/sub mode events published while no collector is subscribed are lost.
// In stream mode Collect reads through the consumer group, acknowledging an
// entry once client accepted it or once it proved undecodable. Entries that
// failed for another reason stay pending and are retried when Collect starts
// again.
func (r *RedisClient) Collect(ctx context.Context, client ingest.Client) error {
	if r.cfg.Events.Stream != "" {
		return r.collectStream(ctx, client)
	}
	return r.collectChannel(ctx, client)
}

func (r *RedisClient) collectChannel(ctx context.Context, client ingest.Client) error {
	channel := r.cfg.Events.Channel
	ps, err := r.subscribe(ctx, channel)
	if err != nil {
		return err
	}
	defer ps.Close()

	in := ps.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-r.shutdownSignal:
			return nil
		case m, ok := <-in:
			if !ok {
				return nil
			}
			_, _ = r.collect(ctx, client, channel, []byte(m.Payload))
		}
	}
}

func (r *RedisClient) collectStream(ctx context.Context, client ingest.Client) error {
	ev := r.cfg.Events
	if err := r.ensureGroup(ctx); err != nil {
		return err
	}

	// Start with entries delivered to this consumer earlier but never
	// acknowledged, then switch to new ones.
	lastID := "0"
	for {
		if ctx.Err() != nil || r.isClosed() {
			return nil
		}

		r.mu.RLock()
		streams, err := r.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    ev.Group,
			Consumer: ev.Consumer,
			Streams:  []string{ev.Stream, lastID},
			Count:    ev.BatchSize,
			Block:    ev.Block,
		}).Result()
		r.mu.RUnlock()

		if err != nil {
			if IsNilError(err) {
				continue
			}
			if ctx.Err() != nil || IsClosedError(err) || r.isClosed() {
				return nil
			}
			r.logWarn("Failed to read run events", err, map[string]interface{}{"stream": ev.Stream})
			select {
			case <-ctx.Done():
				return nil
			case <-r.shutdownSignal:
				return nil
			case <-time.After(ev.Block):
			}
			continue
		}

		n := 0
		for _, s := range streams {
			for _, m := range s.Messages {
				n++
				if lastID != ">" {
					lastID = m.ID
				}
				r.collectEntry(ctx, client, m)
			}
		}
		if lastID != ">" && n == 0 {
			lastID = ">"
		}
	}
}

// ensureGroup creates the consumer group, and the stream with it, unless it
// exists already.
func (r *RedisClient) ensureGroup(ctx context.Context) error {
	ev := r.cfg.Events
	r.mu.RLock()
	defer r.mu.RUnlock()

	err := r.client.XGroupCreateMkStream(ctx, ev.Stream, ev.Group, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("redis: create group %s on %s: %w", ev.Group, ev.Stream, err)
	}
	return nil
}

func (r *RedisClient) collectEntry(ctx context.Context, client ingest.Client, m redis.XMessage) {
	stream := r.cfg.Events.Stream

	var retry bool
	raw, ok := m.Values[eventField].(string)
	if !ok {
		err := fmt.Errorf("%w: entry %s has no %s field", ErrMalformedEntry, m.ID, eventField)
		r.observeOperation("collect", stream, "", 0, err, 0, nil)
		r.logError("Failed to collect run event", err, map[string]interface{}{"stream": stream, "id": m.ID})
	} else {
		retry, _ = r.collect(ctx, client, stream, []byte(raw))
	}
	if retry {
		return
	}

	r.mu.RLock()
	err := r.client.XAck(ctx, stream, r.cfg.Events.Group, m.ID).Err()
	r.mu.RUnlock()
	if err != nil {
		r.logWarn("Failed to acknowledge run event", err, map[string]interface{}{"stream": stream, "id": m.ID})
	}
}

// collect decodes and applies one event. retry reports whether the event may
// succeed on a later attempt; undecodable events never will.
func (r *RedisClient) collect(ctx context.Context, client ingest.Client, resource string, data []byte) (retry bool, err error) {
	start := time.Now()
	ev, err := ingest.DecodeEvent(data)
	if err == nil {
		if err = ingest.Apply(ctx, client, ev); err != nil {
			retry = true
		}
	}
	r.observeOperation("collect", resource, ev.Op, time.Since(start), err, int64(len(data)), nil)

	if err != nil {
		r.logError("Failed to collect run event", err, map[string]interface{}{
			"resource": resource,
			"retry":    retry,
		})
	}
	return retry, err
}
