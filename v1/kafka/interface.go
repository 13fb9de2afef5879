package kafka

import (
	"context"

	"github.com/segmentio/kafka-go"

	"github.com/Aleph-Alpha/runtrace/v1/ingest"
)

// Client is implemented by *KafkaClient.
type Client interface {
	// Publish writes one message to the configured topic. The ambient run of
	// ctx, if any, travels in the message headers.
	Publish(ctx context.Context, key, value []byte, headers ...map[string]string) error

	// Fetch blocks until the next message is available.
	Fetch(ctx context.Context) (Message, error)

	// Collect replays run events from the topic into client until ctx ends.
	Collect(ctx context.Context, client ingest.Client) error

	GracefulShutdown()
}

// EventCodec transforms encoded run events on their way to and from the
// topic. *schema_registry.Serializer implements it.
type EventCodec interface {
	Encode(ctx context.Context, value []byte) ([]byte, error)
	Decode(ctx context.Context, value []byte) ([]byte, error)
}

// Logger is the subset of the logger package used here.
type Logger interface {
	Error(msg string, err error, fields ...map[string]interface{})
	WarnWithContext(ctx context.Context, msg string, err error, fields ...map[string]interface{})
	ErrorWithContext(ctx context.Context, msg string, err error, fields ...map[string]interface{})
}

// messageWriter is satisfied by *kafka.Writer.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// messageReader is satisfied by *kafka.Reader.
type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type nopLogger struct{}

func (nopLogger) Error(string, error, ...map[string]interface{})                            {}
func (nopLogger) WarnWithContext(context.Context, string, error, ...map[string]interface{})  {}
func (nopLogger) ErrorWithContext(context.Context, string, error, ...map[string]interface{}) {}
