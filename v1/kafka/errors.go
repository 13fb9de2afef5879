package kafka

import "errors"

var (
	// ErrNoBrokers is returned by NewClient when Config.Brokers is empty.
	ErrNoBrokers = errors.New("kafka: no brokers configured")

	// ErrNoTopic is returned by NewClient when Config.Topic is empty.
	ErrNoTopic = errors.New("kafka: no topic configured")

	// ErrNotProducer is returned when publishing through a consumer client.
	ErrNotProducer = errors.New("kafka: client is not a producer")

	// ErrNotConsumer is returned when consuming through a producer client.
	ErrNotConsumer = errors.New("kafka: client is not a consumer")

	// ErrClosed is returned after GracefulShutdown.
	ErrClosed = errors.New("kafka: client closed")
)
