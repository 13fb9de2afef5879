package redis

import (
	"encoding/json"

	otelprop "go.opentelemetry.io/otel/propagation"
)

const envelopeVersion = 1

// envelope wraps a pub/sub payload with headers, since Redis messages have
// none of their own.
type envelope struct {
	Version int               `json:"v"`
	Headers map[string]string `json:"headers,omitempty"`
	Payload []byte            `json:"payload"`
}

// Message is a pub/sub message received by Subscribe.
type Message struct {
	Channel string
	Payload []byte
	Headers map[string]string
}

// Carrier exposes the message headers to the propagation codec.
func (m *Message) Carrier() otelprop.MapCarrier {
	if m.Headers == nil {
		m.Headers = map[string]string{}
	}
	return otelprop.MapCarrier(m.Headers)
}

func encodeEnvelope(payload []byte, headers map[string]string) ([]byte, error) {
	return json.Marshal(envelope{Version: envelopeVersion, Headers: headers, Payload: payload})
}

// decodeEnvelope unwraps data published by Publish. Anything else, such as a
// message from a plain PUBLISH, is returned as the payload without headers.
func decodeEnvelope(channel, data string) Message {
	var env envelope
	if err := json.Unmarshal([]byte(data), &env); err != nil || env.Version != envelopeVersion {
		return Message{Channel: channel, Payload: []byte(data)}
	}
	return Message{Channel: channel, Payload: env.Payload, Headers: env.Headers}
}
