package schema_registry

import "errors"

var (
	// ErrNoURL is returned by NewClient when Config.URL is empty.
	ErrNoURL = errors.New("schema registry: URL is required")

	// ErrNoSubject is returned when a serializer has no subject.
	ErrNoSubject = errors.New("schema registry: no subject configured")

	// ErrUnexpectedStatus wraps any non-2xx answer of the registry.
	ErrUnexpectedStatus = errors.New("schema registry: unexpected status")

	// ErrNotFound is returned when the registry answers 404.
	ErrNotFound = errors.New("schema registry: not found")

	// ErrIncompatible is returned when a schema breaks the compatibility
	// rules of its subject.
	ErrIncompatible = errors.New("schema registry: incompatible schema")

	// ErrInvalidFrame is returned when a payload does not carry the wire
	// format header.
	ErrInvalidFrame = errors.New("schema registry: invalid wire format")
)
