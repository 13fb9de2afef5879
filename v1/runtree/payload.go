package runtree

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

// Payload is a schema-less, string-keyed structured value used for run inputs,
// outputs and metadata. It is a thin immutable wrapper around structpb.Struct, so
// values are restricted to the JSON data model: null, bool, numbers, strings,
// lists ([]interface{}) and nested maps (map[string]interface{}).
//
// The zero Payload is valid and empty.
type Payload struct {
	fields *structpb.Struct
}

// NewPayload converts a Go map into a Payload. Unsupported value types (channels,
// functions, typed slices such as []string) are rejected with ErrInvalidInput.
//
// Example:
//
//	inputs, err := runtree.NewPayload(map[string]interface{}{
//	    "question": "what is a dotted order?",
//	    "top_k":    4,
//	})
func NewPayload(values map[string]interface{}) (Payload, error) {
	if len(values) == 0 {
		return Payload{}, nil
	}
	s, err := structpb.NewStruct(values)
	if err != nil {
		return Payload{}, fmt.Errorf("%w: payload: %v", ErrInvalidInput, err)
	}
	return Payload{fields: s}, nil
}

// MustPayload is like NewPayload but panics on error. Intended for literals in
// tests and examples.
func MustPayload(values map[string]interface{}) Payload {
	p, err := NewPayload(values)
	if err != nil {
		panic(err)
	}
	return p
}

// Len returns the number of top-level keys.
func (p Payload) Len() int {
	if p.fields == nil {
		return 0
	}
	return len(p.fields.GetFields())
}

// IsEmpty reports whether the payload has no keys.
func (p Payload) IsEmpty() bool {
	return p.Len() == 0
}

// AsMap returns a freshly allocated Go representation of the payload.
// Numbers come back as float64, mirroring encoding/json.
func (p Payload) AsMap() map[string]interface{} {
	if p.fields == nil {
		return map[string]interface{}{}
	}
	return p.fields.AsMap()
}

// Value returns the Go value stored under key.
func (p Payload) Value(key string) (interface{}, bool) {
	if p.fields == nil {
		return nil, false
	}
	v, ok := p.fields.GetFields()[key]
	if !ok {
		return nil, false
	}
	return v.AsInterface(), true
}

// With returns a copy of the payload with key set to value.
func (p Payload) With(key string, value interface{}) (Payload, error) {
	v, err := structpb.NewValue(value)
	if err != nil {
		return p, fmt.Errorf("%w: payload key %q: %v", ErrInvalidInput, key, err)
	}
	out := p.clone()
	if out.fields == nil {
		out.fields = &structpb.Struct{Fields: map[string]*structpb.Value{}}
	}
	out.fields.Fields[key] = v
	return out, nil
}

// Merge returns a copy of p with every key of other copied over. Keys present
// in both take the value from other.
func (p Payload) Merge(other Payload) Payload {
	if other.IsEmpty() {
		return p.clone()
	}
	out := p.clone()
	if out.fields == nil {
		out.fields = &structpb.Struct{Fields: map[string]*structpb.Value{}}
	}
	for k, v := range other.fields.GetFields() {
		out.fields.Fields[k] = proto.Clone(v).(*structpb.Value)
	}
	return out
}

// Equal reports whether both payloads hold the same values.
func (p Payload) Equal(other Payload) bool {
	if p.IsEmpty() || other.IsEmpty() {
		return p.IsEmpty() && other.IsEmpty()
	}
	return proto.Equal(p.fields, other.fields)
}

// Struct returns a copy of the underlying protobuf struct, or nil when empty.
func (p Payload) Struct() *structpb.Struct {
	if p.fields == nil {
		return nil
	}
	return proto.Clone(p.fields).(*structpb.Struct)
}

// MarshalJSON encodes the payload as a JSON object.
func (p Payload) MarshalJSON() ([]byte, error) {
	if p.fields == nil {
		return []byte("{}"), nil
	}
	return protojson.Marshal(p.fields)
}

// UnmarshalJSON decodes a JSON object into the payload.
func (p *Payload) UnmarshalJSON(data []byte) error {
	s := &structpb.Struct{}
	if err := protojson.Unmarshal(data, s); err != nil {
		return fmt.Errorf("%w: payload json: %v", ErrInvalidInput, err)
	}
	if len(s.GetFields()) == 0 {
		p.fields = nil
		return nil
	}
	p.fields = s
	return nil
}

func (p Payload) clone() Payload {
	if p.fields == nil {
		return Payload{}
	}
	return Payload{fields: proto.Clone(p.fields).(*structpb.Struct)}
}
