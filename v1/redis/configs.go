package redis

import "time"

// Config defines the configuration for the Redis client and for how run
// events travel through Redis.
type Config struct {
	// Host is the Redis server hostname or IP address
	// Default: "localhost"
	Host string `yaml:"host" envconfig:"REDIS_HOST"`

	// Port is the Redis server port
	// Default: 6379
	Port int `yaml:"port" envconfig:"REDIS_PORT"`

	// Username is the Redis username for ACL authentication (Redis 6.0+)
	Username string `yaml:"username" envconfig:"REDIS_USERNAME"`

	// Password is the Redis password for authentication
	Password string `yaml:"password" envconfig:"REDIS_PASSWORD"`

	// DB is the Redis database number to use
	DB int `yaml:"db" envconfig:"REDIS_DB"`

	// PoolSize is the maximum number of socket connections
	// Default: 10 per CPU
	PoolSize int `yaml:"pool_size" envconfig:"REDIS_POOL_SIZE"`

	// MinIdleConns is the minimum number of idle connections to maintain
	MinIdleConns int `yaml:"min_idle_conns" envconfig:"REDIS_MIN_IDLE_CONNS"`

	// MaxConnAge is the maximum duration a connection can be reused
	MaxConnAge time.Duration `yaml:"max_conn_age" envconfig:"REDIS_MAX_CONN_AGE"`

	// PoolTimeout is the amount of time to wait for a connection from the pool
	// Default: ReadTimeout + 1 second
	PoolTimeout time.Duration `yaml:"pool_timeout" envconfig:"REDIS_POOL_TIMEOUT"`

	// IdleTimeout is the amount of time after which idle connections are closed
	// Default: 5 minutes
	IdleTimeout time.Duration `yaml:"idle_timeout" envconfig:"REDIS_IDLE_TIMEOUT"`

	// MaxRetries is the maximum number of retries before giving up
	// Default: 3
	// Set to -1 to disable retries
	MaxRetries int `yaml:"max_retries" envconfig:"REDIS_MAX_RETRIES"`

	// MinRetryBackoff is the minimum backoff between each retry
	// Default: 8 milliseconds
	MinRetryBackoff time.Duration `yaml:"min_retry_backoff" envconfig:"REDIS_MIN_RETRY_BACKOFF"`

	// MaxRetryBackoff is the maximum backoff between each retry
	// Default: 512 milliseconds
	MaxRetryBackoff time.Duration `yaml:"max_retry_backoff" envconfig:"REDIS_MAX_RETRY_BACKOFF"`

	// DialTimeout is the timeout for establishing new connections
	// Default: 5 seconds
	DialTimeout time.Duration `yaml:"dial_timeout" envconfig:"REDIS_DIAL_TIMEOUT"`

	// ReadTimeout is the timeout for socket reads
	// Default: 3 seconds
	ReadTimeout time.Duration `yaml:"read_timeout" envconfig:"REDIS_READ_TIMEOUT"`

	// WriteTimeout is the timeout for socket writes
	// Default: ReadTimeout
	WriteTimeout time.Duration `yaml:"write_timeout" envconfig:"REDIS_WRITE_TIMEOUT"`

	// TLS contains TLS/SSL configuration
	TLS TLSConfig `yaml:"tls"`

	// Events configures the run event transport
	Events EventsConfig `yaml:"events"`

	// Logger is an optional logger used for client errors
	Logger Logger `yaml:"-" ignored:"true"`
}

// TLSConfig contains TLS/SSL configuration parameters.
type TLSConfig struct {
	Enabled bool `yaml:"enabled" envconfig:"REDIS_TLS_ENABLED"`

	CACertPath     string `yaml:"ca_cert_path" envconfig:"REDIS_TLS_CA_CERT_PATH"`
	ClientCertPath string `yaml:"client_cert_path" envconfig:"REDIS_TLS_CLIENT_CERT_PATH"`
	ClientKeyPath  string `yaml:"client_key_path" envconfig:"REDIS_TLS_CLIENT_KEY_PATH"`

	// InsecureSkipVerify skips verification of the server's certificate.
	// Only for testing.
	InsecureSkipVerify bool `yaml:"insecure_skip_verify" envconfig:"REDIS_TLS_INSECURE_SKIP_VERIFY"`

	// ServerName is used to verify the hostname on the returned certificates.
	// If empty, Host is used.
	ServerName string `yaml:"server_name" envconfig:"REDIS_TLS_SERVER_NAME"`
}

// EventsConfig selects where run events are published and how they are read
// back.
//
// With Stream empty, events are published on Channel with PUBLISH and only
// reach subscribers connected at that moment. With Stream set, events are
// appended with XADD and read through the consumer group Group, so they
// survive collector restarts.
type EventsConfig struct {
	// Channel is the pub/sub channel for run events
	// Default: "runtrace:runs"
	Channel string `yaml:"channel" envconfig:"REDIS_EVENTS_CHANNEL"`

	// Stream is the stream key for run events. Empty selects pub/sub.
	Stream string `yaml:"stream" envconfig:"REDIS_EVENTS_STREAM"`

	// StreamMaxLen caps the stream length (approximate trimming). Zero keeps
	// every entry.
	StreamMaxLen int64 `yaml:"stream_max_len" envconfig:"REDIS_EVENTS_STREAM_MAX_LEN"`

	// Group is the consumer group used to collect from Stream
	// Default: "runtrace"
	Group string `yaml:"group" envconfig:"REDIS_EVENTS_GROUP"`

	// Consumer names this collector inside Group
	// Default: the host name
	Consumer string `yaml:"consumer" envconfig:"REDIS_EVENTS_CONSUMER"`

	// BatchSize is the number of stream entries read per call
	// Default: 100
	BatchSize int64 `yaml:"batch_size" envconfig:"REDIS_EVENTS_BATCH_SIZE"`

	// Block is how long a stream read waits for new entries
	// Default: 1 second
	Block time.Duration `yaml:"block" envconfig:"REDIS_EVENTS_BLOCK"`
}

// Logger is the logging surface used by the Redis client.
type Logger interface {
	Error(msg string, err error, fields ...map[string]interface{})
	Info(msg string, err error, fields ...map[string]interface{})
	Warn(msg string, err error, fields ...map[string]interface{})
}

// Default values for configuration
const (
	DefaultHost            = "localhost"
	DefaultPort            = 6379
	DefaultIdleTimeout     = 5 * time.Minute
	DefaultMaxRetries      = 3
	DefaultMinRetryBackoff = 8 * time.Millisecond
	DefaultMaxRetryBackoff = 512 * time.Millisecond
	DefaultDialTimeout     = 5 * time.Second
	DefaultReadTimeout     = 3 * time.Second

	DefaultEventsChannel = "runtrace:runs"
	DefaultEventsGroup   = "runtrace"
	DefaultBatchSize     = 100
	DefaultBlock         = time.Second
)
