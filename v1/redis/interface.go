package redis

import (
	"context"

	"github.com/redis/go-redis/v9"

	"github.com/Aleph-Alpha/runtrace/v1/ingest"
	"github.com/Aleph-Alpha/runtrace/v1/runtree"
)

// Client provides traced pub/sub messaging and run event delivery over Redis.
//
// This interface is implemented by the concrete *RedisClient type.
type Client interface {
	// Ping checks that the server is reachable.
	Ping(ctx context.Context) error

	// Client returns the underlying go-redis client for advanced operations.
	Client() redis.UniversalClient

	// Publish sends payload on channel, wrapped in an envelope carrying the
	// given headers and the ambient run of ctx.
	Publish(ctx context.Context, channel string, payload []byte, headers ...map[string]string) error

	// Subscribe delivers messages published with Publish until ctx ends or
	// the client is closed.
	Subscribe(ctx context.Context, channels ...string) (<-chan Message, error)

	// PublishEvent publishes a run event on the configured channel or stream.
	PublishEvent(ctx context.Context, op string, rec runtree.Record) error

	// Collect replays run events into client until ctx ends.
	Collect(ctx context.Context, client ingest.Client) error

	// Close releases the connection pool.
	Close() error
}
