// Package redis carries traced messages and run events over Redis.
//
// Redis pub/sub messages have no headers, so Publish wraps each payload in a
// small JSON envelope holding the propagation fields of the ambient run, and
// Subscribe unwraps it again. Attach continues the trace on the receiving
// side.
//
// Run events travel in one of two modes, selected by EventsConfig:
//
//   - pub/sub (default): PublishEvent issues PUBLISH on Events.Channel. Cheap,
//     but events published while no collector is subscribed are lost.
//   - stream: with Events.Stream set, PublishEvent appends to the stream and
//     Collect reads through a consumer group, acknowledging each entry once
//     it is applied. Unacknowledged entries are retried on the next Collect.
//
// Basic usage:
//
//	client, err := redis.NewClient(redis.Config{
//		Host:   "localhost",
//		Port:   6379,
//		Events: redis.EventsConfig{Stream: "runtrace:runs"},
//	})
//	if err != nil {
//		return err
//	}
//	defer client.Close()
//
//	tree, err := runtree.NewRoot("job", runtree.RunTypeChain, inputs,
//		runtree.WithSink(redis.NewRunSink(client)))
//
// and on the collector side:
//
//	go client.Collect(ctx, collector)
//
// With fx:
//
//	app := fx.New(
//		redis.FXModule,
//		fx.Provide(func() redis.Config { return cfg.Redis }),
//	)
package redis
