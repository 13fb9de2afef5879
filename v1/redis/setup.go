package redis

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Aleph-Alpha/runtrace/v1/observability"
	"github.com/Aleph-Alpha/runtrace/v1/propagation"
)

// RedisClient wraps the go-redis client with traced pub/sub and run event
// delivery.
//
// RedisClient implements the Client interface.
type RedisClient struct {
	// client is the underlying Redis client
	client redis.UniversalClient

	cfg Config

	logger   Logger
	observer observability.Observer
	codec    *propagation.Codec

	// mu protects concurrent access to client
	mu sync.RWMutex

	// shutdownSignal is closed when the client is being shut down
	shutdownSignal chan struct{}

	closeShutdownOnce sync.Once
}

var _ Client = (*RedisClient)(nil)

// NewClient creates a Redis client for a standalone instance. No connection is
// made until the first command; use Ping to check reachability.
//
// Example:
//
//	client, err := redis.NewClient(redis.Config{
//		Host: "localhost",
//		Port: 6379,
//		Events: redis.EventsConfig{Stream: "runtrace:runs"},
//	})
//	if err != nil {
//		return nil, err
//	}
//	defer client.Close()
func NewClient(cfg Config) (*RedisClient, error) {
	cfg = cfg.withDefaults()

	var tlsConfig *tls.Config
	var err error
	if cfg.TLS.Enabled {
		tlsConfig, err = createTLSConfig(cfg.TLS, cfg.Host)
		if err != nil {
			return nil, fmt.Errorf("failed to create TLS config: %w", err)
		}
	}

	opts := &redis.Options{
		Addr:            fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Username:        cfg.Username,
		Password:        cfg.Password,
		DB:              cfg.DB,
		PoolSize:        cfg.PoolSize,
		MinIdleConns:    cfg.MinIdleConns,
		ConnMaxLifetime: cfg.MaxConnAge,
		PoolTimeout:     cfg.PoolTimeout,
		ConnMaxIdleTime: cfg.IdleTimeout,
		MaxRetries:      cfg.MaxRetries,
		MinRetryBackoff: cfg.MinRetryBackoff,
		MaxRetryBackoff: cfg.MaxRetryBackoff,
		DialTimeout:     cfg.DialTimeout,
		ReadTimeout:     cfg.ReadTimeout,
		WriteTimeout:    cfg.WriteTimeout,
		TLSConfig:       tlsConfig,
	}

	r := &RedisClient{
		client:         redis.NewClient(opts),
		cfg:            cfg,
		logger:         cfg.Logger,
		codec:          propagation.NewCodec(propagation.DefaultConfig()),
		shutdownSignal: make(chan struct{}),
	}

	log.Println("INFO: Redis client initialized")
	return r, nil
}

func (c Config) withDefaults() Config {
	if c.Host == "" {
		c.Host = DefaultHost
	}
	if c.Port == 0 {
		c.Port = DefaultPort
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = DefaultMaxRetries
	}
	if c.MinRetryBackoff == 0 {
		c.MinRetryBackoff = DefaultMinRetryBackoff
	}
	if c.MaxRetryBackoff == 0 {
		c.MaxRetryBackoff = DefaultMaxRetryBackoff
	}
	if c.DialTimeout == 0 {
		c.DialTimeout = DefaultDialTimeout
	}
	if c.ReadTimeout == 0 {
		c.ReadTimeout = DefaultReadTimeout
	}
	if c.IdleTimeout == 0 {
		c.IdleTimeout = DefaultIdleTimeout
	}

	if c.Events.Channel == "" {
		c.Events.Channel = DefaultEventsChannel
	}
	if c.Events.Group == "" {
		c.Events.Group = DefaultEventsGroup
	}
	if c.Events.Consumer == "" {
		c.Events.Consumer = defaultConsumerName()
	}
	if c.Events.BatchSize <= 0 {
		c.Events.BatchSize = DefaultBatchSize
	}
	if c.Events.Block <= 0 {
		c.Events.Block = DefaultBlock
	}
	return c
}

func defaultConsumerName() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		return "runtrace"
	}
	return host
}

// createTLSConfig creates a TLS configuration from the provided config
func createTLSConfig(cfg TLSConfig, defaultServerName string) (*tls.Config, error) {
	tlsConfig := &tls.Config{
		InsecureSkipVerify: cfg.InsecureSkipVerify,
	}

	if cfg.ServerName != "" {
		tlsConfig.ServerName = cfg.ServerName
	} else if defaultServerName != "" {
		tlsConfig.ServerName = defaultServerName
	}

	if cfg.CACertPath != "" {
		caCert, err := os.ReadFile(cfg.CACertPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read CA cert: %w", err)
		}
		caCertPool := x509.NewCertPool()
		if !caCertPool.AppendCertsFromPEM(caCert) {
			return nil, fmt.Errorf("failed to parse CA cert")
		}
		tlsConfig.RootCAs = caCertPool
	}

	if cfg.ClientCertPath != "" && cfg.ClientKeyPath != "" {
		cert, err := tls.LoadX509KeyPair(cfg.ClientCertPath, cfg.ClientKeyPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load client cert: %w", err)
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}

	return tlsConfig, nil
}

// Ping checks that the server is reachable.
func (r *RedisClient) Ping(ctx context.Context) error {
	start := time.Now()
	r.mu.RLock()
	defer r.mu.RUnlock()

	err := r.client.Ping(ctx).Err()
	r.observeOperation("ping", "", "", time.Since(start), err, 0, nil)
	return err
}

// Client returns the underlying go-redis client for advanced operations.
func (r *RedisClient) Client() redis.UniversalClient {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.client
}

// Config returns the effective configuration, defaults applied.
func (r *RedisClient) Config() Config {
	return r.cfg
}

// Close stops running subscriptions and collectors and closes the client.
// Safe to call more than once.
func (r *RedisClient) Close() error {
	closed := false
	r.closeShutdownOnce.Do(func() {
		close(r.shutdownSignal)
		closed = true
	})
	if !closed {
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	log.Println("INFO: Closing Redis client")

	if r.client != nil {
		if err := r.client.Close(); err != nil {
			log.Printf("WARN: Failed to close Redis client: %v", err)
			return err
		}
	}

	return nil
}

func (r *RedisClient) isClosed() bool {
	select {
	case <-r.shutdownSignal:
		return true
	default:
		return false
	}
}

// WithObserver sets the observer for this client and returns the client for method chaining.
func (r *RedisClient) WithObserver(observer observability.Observer) *RedisClient {
	r.observer = observer
	return r
}

// WithLogger sets the logger for this client and returns the client for method chaining.
func (r *RedisClient) WithLogger(logger Logger) *RedisClient {
	r.logger = logger
	return r
}

// WithCodec replaces the propagation codec. A nil codec is ignored.
func (r *RedisClient) WithCodec(codec *propagation.Codec) *RedisClient {
	if codec != nil {
		r.codec = codec
	}
	return r
}

func (r *RedisClient) logError(msg string, err error, fields map[string]interface{}) {
	if r.logger == nil {
		log.Printf("ERROR: %s: %v", msg, err)
		return
	}
	r.logger.Error(msg, err, fields)
}

func (r *RedisClient) logWarn(msg string, err error, fields map[string]interface{}) {
	if r.logger == nil {
		log.Printf("WARN: %s: %v", msg, err)
		return
	}
	r.logger.Warn(msg, err, fields)
}
