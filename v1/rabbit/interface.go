package rabbit

import (
	"context"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/Aleph-Alpha/runtrace/v1/ingest"
	"github.com/Aleph-Alpha/runtrace/v1/runtree"
)

// Client provides a high-level interface for publishing traced messages and
// run events to RabbitMQ and consuming them.
//
// This interface is implemented by the concrete *RabbitClient type.
type Client interface {
	// Publish sends a message with optional headers. The ambient run of ctx,
	// if any, is added to the headers.
	Publish(ctx context.Context, msg []byte, headers ...map[string]interface{}) error

	// PublishEvent sends a run event for a collector.
	PublishEvent(ctx context.Context, op string, rec runtree.Record) error

	// Consume delivers messages from the main queue.
	Consume(ctx context.Context, wg *sync.WaitGroup) <-chan Message

	// ConsumeDLQ delivers messages from the dead letter queue.
	ConsumeDLQ(ctx context.Context, wg *sync.WaitGroup) <-chan Message

	// Collect replays run events from the main queue into client.
	Collect(ctx context.Context, client ingest.Client) error

	// RetryConnection reconnects on failure until shutdown. Run it in a goroutine.
	RetryConnection(cfg Config)

	GracefulShutdown()

	GetChannel() *amqp.Channel
}

// Message is a consumed delivery.
type Message interface {
	AckMsg() error

	// NackMsg rejects the message. Without requeue it goes to the dead letter
	// queue when one is configured.
	NackMsg(requeue bool) error

	Body() []byte
	Header() map[string]interface{}

	// Carrier exposes the headers to the propagation codec.
	Carrier() TableCarrier
}

// Logger is the subset of the logger package used here.
type Logger interface {
	InfoWithContext(ctx context.Context, msg string, err error, fields ...map[string]interface{})
	WarnWithContext(ctx context.Context, msg string, err error, fields ...map[string]interface{})
	ErrorWithContext(ctx context.Context, msg string, err error, fields ...map[string]interface{})
}
