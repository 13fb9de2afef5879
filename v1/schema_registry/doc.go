// Package schema_registry frames run events with the id of a schema
// registered in a Confluent Schema Registry.
//
// The Kafka sink writes run events as JSON. With a registry configured every
// value is prefixed with the Confluent wire format header
//
//	[0x0][schema id, 4 bytes big endian][JSON event]
//
// so that registry aware consumers can validate and decode them. The JSON
// Schema of an event is RunEventSchema; it is checked for compatibility and
// registered on first use under the configured subject, by convention
// "<topic>-value".
//
// # Usage
//
//	client, err := schema_registry.NewClient(schema_registry.Config{
//		URL: "http://localhost:8081",
//	})
//	if err != nil {
//		return err
//	}
//	events := schema_registry.NewRunEventSerializer(client, "runtrace-runs-value")
//	producer := kafkaClient.WithEventCodec(events)
//
// Decoding accepts unframed JSON as well, so producers and consumers can be
// switched over independently.
package schema_registry
