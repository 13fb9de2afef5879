package schema_registry

import (
	"context"
	"fmt"
	"sync"
)

// SchemaTypeJSON is the registry type of JSON Schema documents.
const SchemaTypeJSON = "JSON"

// RunEventSchema describes the {"op","run"} events written by the broker
// sinks.
const RunEventSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "title": "RunEvent",
  "type": "object",
  "required": ["op", "run"],
  "properties": {
    "op": {"type": "string", "enum": ["post", "patch"]},
    "run": {
      "type": "object",
      "required": ["id", "trace_id", "name", "run_type", "start_time", "dotted_order"],
      "properties": {
        "id": {"type": "string", "format": "uuid"},
        "trace_id": {"type": "string", "format": "uuid"},
        "parent_run_id": {"type": "string", "format": "uuid"},
        "name": {"type": "string"},
        "run_type": {"type": "string"},
        "inputs": {"type": "object"},
        "outputs": {"type": "object"},
        "error": {"type": "string"},
        "start_time": {"type": "string", "format": "date-time"},
        "end_time": {"type": "string", "format": "date-time"},
        "dotted_order": {"type": "string"},
        "metadata": {"type": "object"},
        "tags": {"type": ["array", "null"], "items": {"type": "string"}},
        "version": {"type": "integer", "minimum": 0}
      }
    }
  }
}`

// Serializer frames payloads with the id of one schema. The schema is
// checked and registered on first use.
type Serializer struct {
	registry   Registry
	subject    string
	schema     string
	schemaType string

	mu sync.Mutex
	id int
}

// NewSerializer returns a serializer for schema under subject.
func NewSerializer(registry Registry, subject, schema, schemaType string) *Serializer {
	return &Serializer{
		registry:   registry,
		subject:    subject,
		schema:     schema,
		schemaType: schemaType,
	}
}

// NewRunEventSerializer returns a serializer for run events.
func NewRunEventSerializer(registry Registry, subject string) *Serializer {
	return NewSerializer(registry, subject, RunEventSchema, SchemaTypeJSON)
}

// Subject returns the subject the schema is registered under.
func (s *Serializer) Subject() string {
	return s.subject
}

// SchemaID returns the registered id of the schema, registering it if
// needed.
func (s *Serializer) SchemaID(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.id != 0 {
		return s.id, nil
	}

	ok, err := s.registry.CheckCompatibility(ctx, s.subject, s.schema, s.schemaType)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, fmt.Errorf("%w: subject %s", ErrIncompatible, s.subject)
	}
	id, err := s.registry.RegisterSchema(ctx, s.subject, s.schema, s.schemaType)
	if err != nil {
		return 0, err
	}
	s.id = id
	return id, nil
}

// Encode prefixes value with the wire format header.
func (s *Serializer) Encode(ctx context.Context, value []byte) ([]byte, error) {
	id, err := s.SchemaID(ctx)
	if err != nil {
		return nil, err
	}
	return append(EncodeSchemaID(id), value...), nil
}

// Decode strips the wire format header from value. Unframed values are
// returned as they are, so producers can enable framing before consumers.
// A header naming an unknown schema fails.
func (s *Serializer) Decode(ctx context.Context, value []byte) ([]byte, error) {
	if !IsFramed(value) {
		return value, nil
	}
	id, body, err := DecodeSchemaID(value)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	known := id == s.id
	s.mu.Unlock()
	if !known {
		if _, err := s.registry.GetSchemaByID(ctx, id); err != nil {
			return nil, fmt.Errorf("schema registry: resolve schema %d: %w", id, err)
		}
	}
	return body, nil
}
