package redis

import (
	"errors"

	"github.com/redis/go-redis/v9"
)

var (
	// ErrClosed is returned when the client is closed.
	ErrClosed = errors.New("redis: client is closed")

	// ErrNoChannel is returned when publishing or subscribing without a channel.
	ErrNoChannel = errors.New("redis: no channel given")

	// ErrMalformedEntry is returned for stream entries without an event field.
	ErrMalformedEntry = errors.New("redis: malformed stream entry")
)

// IsNilError checks if the error is a "key does not exist" error.
func IsNilError(err error) bool {
	return errors.Is(err, redis.Nil)
}

// IsClosedError checks if the error is a "client is closed" error.
func IsClosedError(err error) bool {
	return errors.Is(err, ErrClosed) || errors.Is(err, redis.ErrClosed)
}
