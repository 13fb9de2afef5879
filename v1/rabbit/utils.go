package rabbit

import (
	"context"
	"errors"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/Aleph-Alpha/runtrace/v1/ingest"
	"github.com/Aleph-Alpha/runtrace/v1/propagation"
	"github.com/Aleph-Alpha/runtrace/v1/runtree"
)

// ConsumerMessage implements Message over an AMQP delivery.
type ConsumerMessage struct {
	delivery amqp.Delivery
}

// Publish sends msg to the configured exchange and routing key and waits for
// the broker's confirmation. Only the first headers map is used. The ambient
// run of ctx, if any, is injected into a copy of it so the consumer can attach
// to the trace.
func (rb *RabbitClient) Publish(ctx context.Context, msg []byte, headers ...map[string]interface{}) error {
	table := amqp.Table{}
	if len(headers) > 0 {
		for k, v := range headers[0] {
			table[k] = v
		}
	}
	if _, err := rb.codec.InjectContext(ctx, TableCarrier(table)); err != nil {
		return err
	}

	return rb.publish(ctx, amqp.Publishing{
		Headers:     table,
		ContentType: rb.cfg.Channel.ContentType,
		Body:        msg,
	})
}

// PublishEvent sends a run event. The run's own context travels in the
// headers so consumers can route on it without decoding the body.
func (rb *RabbitClient) PublishEvent(ctx context.Context, op string, rec runtree.Record) error {
	body, err := ingest.EncodeEvent(op, rec)
	if err != nil {
		return err
	}
	tc, err := propagation.NewTraceContext(rec.TraceID, rec.ID, rec.DottedOrder, nil)
	if err != nil {
		return err
	}
	table := amqp.Table{}
	if err := rb.codec.Inject(tc, TableCarrier(table)); err != nil {
		return err
	}

	return rb.publish(ctx, amqp.Publishing{
		Headers:      table,
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    rec.ID.String(),
		Type:         op,
		Timestamp:    time.Now(),
		Body:         body,
	})
}

func (rb *RabbitClient) publish(ctx context.Context, pub amqp.Publishing) error {
	start := time.Now()
	err := rb.publishConfirmed(ctx, pub)
	rb.observeOperation("produce", rb.cfg.Channel.ExchangeName, rb.cfg.Channel.RoutingKey, time.Since(start), err, int64(len(pub.Body)))
	return err
}

func (rb *RabbitClient) publishConfirmed(ctx context.Context, pub amqp.Publishing) error {
	select {
	case <-rb.shutdownSignal:
		return ErrShutdown
	default:
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	rb.mu.RLock()
	ch := rb.Channel
	if ch == nil {
		rb.mu.RUnlock()
		return ErrChannelClosed
	}
	confirm, err := ch.PublishWithDeferredConfirmWithContext(ctx,
		rb.cfg.Channel.ExchangeName,
		rb.cfg.Channel.RoutingKey,
		false, // mandatory
		false, // immediate
		pub,
	)
	rb.mu.RUnlock()
	if err != nil {
		return TranslateError(err)
	}
	if confirm == nil {
		return nil
	}

	acked, err := confirm.WaitContext(ctx)
	if err != nil {
		return err
	}
	if !acked {
		return ErrMessageNacked
	}
	return nil
}

// consumeQueue delivers messages from queueName until ctx ends or the client
// shuts down, re-establishing the consumer after reconnects.
func (rb *RabbitClient) consumeQueue(ctx context.Context, wg *sync.WaitGroup, queueName string) <-chan Message {
	outChan := make(chan Message, 100)

	wg.Add(1)
	go func() {
		defer wg.Done()
		defer close(outChan)
	outerLoop:
		for {
			select {
			case <-rb.shutdownSignal:
				rb.logInfo(ctx, "Stopping consumer due to shutdown signal", map[string]interface{}{
					"queue": queueName,
				})
				return
			case <-ctx.Done():
				rb.logInfo(ctx, "Stopping consumer due to context cancellation", map[string]interface{}{
					"queue": queueName,
				})
				return
			default:
			}

			rb.mu.RLock()
			ch := rb.Channel
			rb.mu.RUnlock()
			if ch == nil {
				time.Sleep(100 * time.Millisecond)
				continue
			}

			msgs, err := ch.Consume(
				queueName,
				"",    // consumer
				false, // autoAck
				false, // exclusive
				false, // noLocal
				false, // noWait
				nil,
			)
			if err != nil {
				rb.logError(ctx, "Failed to establish consumer", TranslateError(err), map[string]interface{}{
					"queue": queueName,
				})
				time.Sleep(100 * time.Millisecond)
				continue
			}

			for {
				select {
				case <-ctx.Done():
					rb.logInfo(ctx, "Stopping consumer due to context cancellation", map[string]interface{}{
						"queue": queueName,
					})
					return
				case <-rb.shutdownSignal:
					rb.logInfo(ctx, "Stopping consumer due to shutdown signal", map[string]interface{}{
						"queue": queueName,
					})
					return
				case msg, ok := <-msgs:
					if !ok {
						continue outerLoop
					}
					rb.observeOperation("consume", queueName, "", 0, nil, int64(len(msg.Body)))

					select {
					case outChan <- &ConsumerMessage{delivery: msg}:
					case <-ctx.Done():
						_ = msg.Nack(false, true)
						return
					}
				}
			}
		}
	}()
	return outChan
}

// Consume delivers messages from the configured queue.
//
// Example:
//
//	wg := &sync.WaitGroup{}
//	for msg := range client.Consume(ctx, wg) {
//		_, run, err := client.Attach(ctx, msg, "handle", runtree.RunTypeTool, inputs)
//		...
//		_ = msg.AckMsg()
//	}
func (rb *RabbitClient) Consume(ctx context.Context, wg *sync.WaitGroup) <-chan Message {
	return rb.consumeQueue(ctx, wg, rb.cfg.Channel.QueueName)
}

// ConsumeDLQ delivers messages from the dead letter queue.
func (rb *RabbitClient) ConsumeDLQ(ctx context.Context, wg *sync.WaitGroup) <-chan Message {
	return rb.consumeQueue(ctx, wg, rb.cfg.DeadLetter.QueueName)
}

// Attach continues the trace carried by msg with a new run, or starts a new
// trace when msg carries no usable context.
func (rb *RabbitClient) Attach(ctx context.Context, msg Message, name, runType string, inputs runtree.Payload, opts ...runtree.Option) (*runtree.Tree, *runtree.Run, error) {
	return rb.codec.AttachOrStart(ctx, msg.Carrier(), name, runType, inputs, opts...)
}

// Collect replays run events from the configured queue into client until ctx
// ends. Events that cannot be decoded, or that client rejects permanently, are
// nacked without requeue and end up in the dead letter queue when one is
// configured. Transient failures are requeued.
func (rb *RabbitClient) Collect(ctx context.Context, client ingest.Client) error {
	var wg sync.WaitGroup
	for msg := range rb.Consume(ctx, &wg) {
		rb.collect(ctx, client, msg)
	}
	wg.Wait()
	return nil
}

func (rb *RabbitClient) collect(ctx context.Context, client ingest.Client, msg Message) {
	start := time.Now()
	ev, err := ingest.DecodeEvent(msg.Body())
	requeue := false
	if err == nil {
		if err = ingest.Apply(ctx, client, ev); err != nil {
			requeue = ctx.Err() != nil || IsRetryableError(TranslateError(err))
		}
	}
	rb.observeOperation("collect", rb.cfg.Channel.QueueName, ev.Op, time.Since(start), err, int64(len(msg.Body())))

	if err == nil {
		if ackErr := msg.AckMsg(); ackErr != nil {
			rb.logWarn(ctx, "Failed to ack run event", ackErr, nil)
		}
		return
	}

	rb.logError(ctx, "Failed to collect run event", err, map[string]interface{}{
		"queue":   rb.cfg.Channel.QueueName,
		"requeue": requeue,
	})
	if nackErr := msg.NackMsg(requeue); nackErr != nil {
		rb.logWarn(ctx, "Failed to nack run event", nackErr, nil)
	}
}

// GracefulShutdown closes the channel and connection. Safe to call more than once.
func (rb *RabbitClient) GracefulShutdown() {
	rb.closeShutdownOnce.Do(func() {
		close(rb.shutdownSignal)

		rb.mu.Lock()
		defer rb.mu.Unlock()

		rb.logInfo(context.Background(), "Shutting down RabbitMQ client", nil)

		if rb.Channel != nil {
			if err := rb.Channel.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
				rb.logWarn(context.Background(), "Failed to close rabbit channel", err, nil)
			}
		}
		if rb.conn != nil && !rb.conn.IsClosed() {
			if err := rb.conn.Close(); err != nil {
				rb.logWarn(context.Background(), "Failed to close rabbit connection", err, nil)
			}
		}
	})
}

// GetChannel returns the current AMQP channel.
func (rb *RabbitClient) GetChannel() *amqp.Channel {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	return rb.Channel
}

// AckMsg acknowledges the message.
func (m *ConsumerMessage) AckMsg() error {
	return m.delivery.Ack(false)
}

// NackMsg rejects the message, optionally requeueing it.
func (m *ConsumerMessage) NackMsg(requeue bool) error {
	return m.delivery.Nack(false, requeue)
}

// Body returns the message payload.
func (m *ConsumerMessage) Body() []byte {
	return m.delivery.Body
}

// Header returns the message headers.
func (m *ConsumerMessage) Header() map[string]interface{} {
	return m.delivery.Headers
}

// Carrier exposes the headers to the propagation codec.
func (m *ConsumerMessage) Carrier() TableCarrier {
	if m.delivery.Headers == nil {
		m.delivery.Headers = amqp.Table{}
	}
	return TableCarrier(m.delivery.Headers)
}
