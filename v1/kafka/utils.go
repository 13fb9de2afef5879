package kafka

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/Aleph-Alpha/runtrace/v1/ingest"
	"github.com/Aleph-Alpha/runtrace/v1/propagation"
	"github.com/Aleph-Alpha/runtrace/v1/runtree"
)

// Message is a consumed Kafka message.
type Message struct {
	kafka.Message

	reader messageReader
	commit bool
}

// Carrier exposes the message headers to the propagation codec.
func (m *Message) Carrier() HeaderCarrier {
	return NewHeaderCarrier(&m.Headers)
}

// Commit marks the message as processed. It is a no-op for readers without a
// consumer group.
func (m *Message) Commit(ctx context.Context) error {
	if !m.commit {
		return nil
	}
	return m.reader.CommitMessages(ctx, m.Message)
}

// Publish writes one message to the configured topic. Optional headers are
// added first; the ambient run of ctx, if any, is injected on top so the
// consumer can attach its own runs to it.
func (k *KafkaClient) Publish(ctx context.Context, key, value []byte, headers ...map[string]string) error {
	msg := kafka.Message{Key: key, Value: value}
	carrier := NewHeaderCarrier(&msg.Headers)
	for _, h := range headers {
		for name, v := range h {
			carrier.Set(name, v)
		}
	}
	if _, err := k.codec.InjectContext(ctx, carrier); err != nil {
		return err
	}
	return k.write(ctx, "produce", msg)
}

// PublishEvent writes a run event keyed by trace id, so every event of a
// trace lands on the same partition in publish order. The run's own context
// travels in the headers, which lets consumers route or attach without
// decoding the payload.
func (k *KafkaClient) PublishEvent(ctx context.Context, op string, rec runtree.Record) error {
	value, err := ingest.EncodeEvent(op, rec)
	if err != nil {
		return err
	}
	if k.events != nil {
		if value, err = k.events.Encode(ctx, value); err != nil {
			return fmt.Errorf("kafka: frame run event: %w", err)
		}
	}
	msg := kafka.Message{Key: []byte(rec.TraceID.String()), Value: value}
	tc, err := propagation.NewTraceContext(rec.TraceID, rec.ID, rec.DottedOrder, nil)
	if err != nil {
		return err
	}
	if err := k.codec.Inject(tc, NewHeaderCarrier(&msg.Headers)); err != nil {
		return err
	}
	return k.write(ctx, op, msg)
}

func (k *KafkaClient) write(ctx context.Context, op string, msg kafka.Message) error {
	k.mu.RLock()
	defer k.mu.RUnlock()

	select {
	case <-k.shutdownSignal:
		return ErrClosed
	default:
	}
	if k.writer == nil {
		return ErrNotProducer
	}

	start := time.Now()
	err := k.writer.WriteMessages(ctx, msg)
	k.observeOperation("produce", k.cfg.Topic, op, time.Since(start), err, int64(len(msg.Value)))
	if err != nil {
		return fmt.Errorf("kafka: write to %s: %w", k.cfg.Topic, err)
	}
	return nil
}

// Fetch blocks until the next message is available or ctx ends.
func (k *KafkaClient) Fetch(ctx context.Context) (Message, error) {
	k.mu.RLock()
	reader := k.reader
	k.mu.RUnlock()

	select {
	case <-k.shutdownSignal:
		return Message{}, ErrClosed
	default:
	}
	if reader == nil {
		return Message{}, ErrNotConsumer
	}

	start := time.Now()
	msg, err := reader.FetchMessage(ctx)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return Message{}, ErrClosed
		}
		return Message{}, err
	}
	k.observeOperation("consume", k.cfg.Topic, "", time.Since(start), nil, int64(len(msg.Value)))
	return Message{Message: msg, reader: reader, commit: k.cfg.GroupID != ""}, nil
}

// Consume delivers messages on the returned channel until ctx ends or the
// client shuts down. Messages are not committed; call Message.Commit.
func (k *KafkaClient) Consume(ctx context.Context, wg *sync.WaitGroup) <-chan Message {
	out := make(chan Message)
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer close(out)
		for {
			msg, err := k.Fetch(ctx)
			if err != nil {
				if ctx.Err() == nil && !errors.Is(err, ErrClosed) {
					k.logger.ErrorWithContext(ctx, "failed to fetch message", err, map[string]interface{}{
						"topic": k.cfg.Topic,
					})
				}
				return
			}
			select {
			case out <- msg:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

// Attach continues the trace carried by msg with a new run. Messages without
// a usable context start a new trace, see propagation.Codec.AttachOrStart.
func (k *KafkaClient) Attach(ctx context.Context, msg *Message, name, runType string, inputs runtree.Payload, opts ...runtree.Option) (*runtree.Tree, *runtree.Run, error) {
	return k.codec.AttachOrStart(ctx, msg.Carrier(), name, runType, inputs, opts...)
}

// Collect replays run events from the topic into client until ctx ends. An
// event that fails to decode or apply is logged and reported to the observer,
// then committed so that it does not block the partition.
func (k *KafkaClient) Collect(ctx context.Context, client ingest.Client) error {
	for {
		msg, err := k.Fetch(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}

		start := time.Now()
		ev, err := k.decodeEvent(ctx, msg.Value)
		if err == nil {
			err = ingest.Apply(ctx, client, ev)
		}
		k.observeOperation("collect", k.cfg.Topic, ev.Op, time.Since(start), err, int64(len(msg.Value)))
		if err != nil {
			k.logger.ErrorWithContext(ctx, "failed to collect run event", err, map[string]interface{}{
				"topic":     k.cfg.Topic,
				"partition": msg.Partition,
				"offset":    msg.Offset,
			})
		}

		if err := msg.Commit(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("kafka: commit offset %d: %w", msg.Offset, err)
		}
	}
}

func (k *KafkaClient) decodeEvent(ctx context.Context, value []byte) (ingest.Event, error) {
	if k.events != nil {
		var err error
		if value, err = k.events.Decode(ctx, value); err != nil {
			return ingest.Event{}, err
		}
	}
	return ingest.DecodeEvent(value)
}

// GracefulShutdown closes the writer or reader. Safe to call more than once.
func (k *KafkaClient) GracefulShutdown() {
	k.closeShutdownOnce.Do(func() {
		close(k.shutdownSignal)

		k.mu.Lock()
		defer k.mu.Unlock()
		if k.writer != nil {
			if err := k.writer.Close(); err != nil {
				k.logger.Error("failed to close kafka writer", err)
			}
		}
		if k.reader != nil {
			if err := k.reader.Close(); err != nil {
				k.logger.Error("failed to close kafka reader", err)
			}
		}
	})
}
