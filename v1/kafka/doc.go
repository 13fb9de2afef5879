// Package kafka carries run trees across Apache Kafka.
//
// It covers both directions a trace takes through a topic:
//
//   - Traced application messages: Publish injects the ambient run's context
//     into the message headers through HeaderCarrier, and Attach on the
//     consumer side continues the trace with a new run.
//   - Run delivery: RunSink is a runtree.Sink that publishes every post and
//     patch as an ingest.Event keyed by trace id. Collect consumes those
//     events and replays them into any ingest.Client, e.g. an HTTPClient in
//     front of the ingestion service.
//
// Basic Usage:
//
//	producer, err := kafka.NewClient(kafka.Config{
//		Brokers: []string{"localhost:9092"},
//		Topic:   "runs",
//	})
//	if err != nil {
//		return err
//	}
//	defer producer.GracefulShutdown()
//
//	tree, err := runtree.NewRoot("ingest-batch", runtree.RunTypeChain, inputs,
//		runtree.WithSink(kafka.NewRunSink(producer)))
//
// On the collector side:
//
//	consumer, err := kafka.NewClient(kafka.Config{
//		Brokers:    []string{"localhost:9092"},
//		Topic:      "runs",
//		GroupID:    "run-collector",
//		IsConsumer: true,
//	})
//	if err != nil {
//		return err
//	}
//	go consumer.Collect(ctx, httpClient)
//
// # Ordering
//
// Events are keyed by trace id and written with a hash balancer, so all events
// of one trace share a partition and a run's post is always read before its
// patches.
//
// # Schema registry
//
// WithEventCodec puts a schema_registry.Serializer in front of the run event
// payloads. Producers then write the Confluent wire format and Collect strips
// it again; plain JSON events are still accepted.
//
// # Security
//
// TLS and SASL (PLAIN, SCRAM-SHA-256, SCRAM-SHA-512) are configured through
// Config.TLS and Config.SASL.
package kafka
