package schema_registry

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// magicByte opens every framed payload.
const magicByte = 0x0

// headerSize is the magic byte plus the big endian schema id.
const headerSize = 5

// EncodeSchemaID returns the Confluent wire format header for schemaID.
func EncodeSchemaID(schemaID int) []byte {
	buf := make([]byte, headerSize)
	buf[0] = magicByte
	binary.BigEndian.PutUint32(buf[1:], uint32(schemaID))
	return buf
}

// DecodeSchemaID splits a framed payload into its schema id and body.
func DecodeSchemaID(data []byte) (int, []byte, error) {
	if len(data) < headerSize {
		return 0, nil, fmt.Errorf("%w: %d bytes", ErrInvalidFrame, len(data))
	}
	if data[0] != magicByte {
		return 0, nil, fmt.Errorf("%w: magic byte 0x%x", ErrInvalidFrame, data[0])
	}
	return int(binary.BigEndian.Uint32(data[1:headerSize])), data[headerSize:], nil
}

// IsFramed reports whether data starts with the wire format magic byte.
// JSON documents never do.
func IsFramed(data []byte) bool {
	return len(data) > 0 && data[0] == magicByte
}

// IsNotFound reports whether err is a 404 answer of the registry.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
