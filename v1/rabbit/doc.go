// Package rabbit carries run trees across RabbitMQ.
//
// # Architecture
//
// This package follows the "accept interfaces, return structs" design pattern:
//   - Client interface: publishing, consuming and collecting
//   - RabbitClient struct: concrete implementation with automatic reconnection
//   - Message interface: a consumed delivery with Ack/Nack and a header Carrier
//   - TableCarrier: amqp.Table as an OpenTelemetry TextMapCarrier
//   - RunSink: runtree.Sink (and ingest.Client) publishing run events
//
// # Traced messages
//
// Publish injects the ambient run of the context into the message headers.
// On the consumer side, Attach continues that trace:
//
//	ctx = runtree.ContextWithRun(ctx, run)
//	err := client.Publish(ctx, body)
//
//	for msg := range consumer.Consume(ctx, wg) {
//		tree, run, err := consumer.Attach(ctx, msg, "process", runtree.RunTypeChain, inputs)
//		...
//	}
//
// # Run delivery
//
// RunSink publishes each post and patch as an ingest.Event with publisher
// confirms. Collect replays the queue into an ingest.Client. Events that do
// not decode, or that the client rejects permanently, are nacked without
// requeue and land in the dead letter queue when DeadLetter is configured;
// transient failures (see IsRetryableError) are requeued.
//
// # Errors
//
// TranslateError maps AMQP, network and syscall errors to the package's
// sentinel errors while keeping the original in the chain.
package rabbit
