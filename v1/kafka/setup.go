package kafka

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/segmentio/kafka-go/compress"
	"github.com/segmentio/kafka-go/sasl"
	"github.com/segmentio/kafka-go/sasl/plain"
	"github.com/segmentio/kafka-go/sasl/scram"

	"github.com/Aleph-Alpha/runtrace/v1/observability"
	"github.com/Aleph-Alpha/runtrace/v1/propagation"
)

// KafkaClient publishes traced messages and run events to a Kafka topic, or
// consumes them when configured as a consumer.
//
// KafkaClient implements the Client interface.
type KafkaClient struct {
	cfg Config

	observer observability.Observer
	logger   Logger

	// codec writes and reads the run context carried in message headers
	codec *propagation.Codec

	// events frames run event payloads, nil writes plain JSON
	events EventCodec

	writer messageWriter
	reader messageReader

	// mu guards writer and reader against concurrent shutdown
	mu sync.RWMutex

	shutdownSignal    chan struct{}
	closeShutdownOnce sync.Once
}

var _ Client = (*KafkaClient)(nil)

// NewClient creates a producer or consumer client for cfg.Topic.
//
// Example:
//
//	client, err := kafka.NewClient(kafka.Config{
//		Brokers: []string{"localhost:9092"},
//		Topic:   "runs",
//	})
//	if err != nil {
//		return err
//	}
//	defer client.GracefulShutdown()
func NewClient(cfg Config) (*KafkaClient, error) {
	if len(cfg.Brokers) == 0 {
		return nil, ErrNoBrokers
	}
	if cfg.Topic == "" {
		return nil, ErrNoTopic
	}
	cfg = withDefaults(cfg)

	k := &KafkaClient{
		cfg:            cfg,
		logger:         nopLogger{},
		codec:          propagation.NewCodec(propagation.DefaultConfig()),
		shutdownSignal: make(chan struct{}),
	}
	if cfg.Logger != nil {
		k.logger = cfg.Logger
	}

	var tlsConfig *tls.Config
	var err error
	if cfg.TLS.Enabled {
		tlsConfig, err = createTLSConfig(cfg.TLS)
		if err != nil {
			return nil, fmt.Errorf("failed to create TLS config: %w", err)
		}
	}

	var mechanism sasl.Mechanism
	if cfg.SASL.Enabled {
		mechanism, err = createSASLMechanism(cfg.SASL)
		if err != nil {
			return nil, fmt.Errorf("failed to create SASL mechanism: %w", err)
		}
	}

	if cfg.IsConsumer {
		k.reader = createReader(cfg, tlsConfig, mechanism)
		log.Println("INFO: Kafka consumer initialized")
	} else {
		k.writer = createWriter(cfg, tlsConfig, mechanism)
		log.Println("INFO: Kafka producer initialized")
	}

	return k, nil
}

func withDefaults(cfg Config) Config {
	if cfg.MinBytes == 0 {
		cfg.MinBytes = DefaultMinBytes
	}
	if cfg.MaxBytes == 0 {
		cfg.MaxBytes = DefaultMaxBytes
	}
	if cfg.MaxWait == 0 {
		cfg.MaxWait = DefaultMaxWait
	}
	if cfg.CommitInterval == 0 {
		cfg.CommitInterval = DefaultCommitInterval
	}
	if cfg.StartOffset == 0 {
		cfg.StartOffset = DefaultStartOffset
	}
	if cfg.Partition == 0 {
		cfg.Partition = DefaultPartition
	}
	if cfg.RequiredAcks == 0 {
		cfg.RequiredAcks = DefaultRequiredAcks
	}
	if cfg.BatchSize == 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.BatchTimeout == 0 {
		cfg.BatchTimeout = DefaultBatchTimeout
	}
	if cfg.MaxAttempts == 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = DefaultWriteTimeout
	}
	return cfg
}

// WithObserver attaches an observer notified of every produce, consume and
// collect operation.
func (k *KafkaClient) WithObserver(observer observability.Observer) *KafkaClient {
	k.observer = observer
	return k
}

// WithLogger replaces the logger used for collect failures.
func (k *KafkaClient) WithLogger(l Logger) *KafkaClient {
	if l != nil {
		k.logger = l
	}
	return k
}

// WithCodec replaces the header codec. Both ends of a topic must agree on it.
func (k *KafkaClient) WithCodec(codec *propagation.Codec) *KafkaClient {
	if codec != nil {
		k.codec = codec
	}
	return k
}

// WithEventCodec frames run events written by PublishEvent and unframes them
// in Collect.
func (k *KafkaClient) WithEventCodec(events EventCodec) *KafkaClient {
	k.events = events
	return k
}

// Topic returns the configured topic.
func (k *KafkaClient) Topic() string {
	return k.cfg.Topic
}

// createErrorLogger routes kafka-go's internal errors to Config.Logger, then
// Config.ErrorLogger, then the standard logger.
func createErrorLogger(cfg Config) kafka.LoggerFunc {
	switch {
	case cfg.Logger != nil:
		return func(format string, args ...interface{}) {
			cfg.Logger.Error("kafka-go error", nil, map[string]interface{}{
				"topic":  cfg.Topic,
				"detail": fmt.Sprintf(format, args...),
			})
		}
	case cfg.ErrorLogger != nil:
		return cfg.ErrorLogger
	default:
		return func(format string, args ...interface{}) {
			log.Printf("kafka %s: "+format, append([]interface{}{cfg.Topic}, args...)...)
		}
	}
}

// compressionCodecs maps Config.CompressionCodec to kafka-go codecs.
var compressionCodecs = map[string]kafka.CompressionCodec{
	"gzip":   &compress.GzipCodec,
	"snappy": &compress.SnappyCodec,
	"lz4":    &compress.Lz4Codec,
	"zstd":   &compress.ZstdCodec,
}

func createWriter(cfg Config, tlsConfig *tls.Config, mechanism sasl.Mechanism) *kafka.Writer {
	writerConfig := kafka.WriterConfig{
		Brokers:      cfg.Brokers,
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		MaxAttempts:  cfg.MaxAttempts,
		WriteTimeout: cfg.WriteTimeout,
		RequiredAcks: cfg.RequiredAcks,
		ErrorLogger:  createErrorLogger(cfg),
	}

	if cfg.Async {
		writerConfig.Async = true
		writerConfig.BatchSize = cfg.BatchSize
		writerConfig.BatchTimeout = cfg.BatchTimeout
	} else {
		// a synchronous writer must not wait for a batch to fill
		writerConfig.BatchSize = 1
	}

	if codec, ok := compressionCodecs[cfg.CompressionCodec]; ok {
		writerConfig.CompressionCodec = codec
	}
	writerConfig.Dialer = newDialer(tlsConfig, mechanism)
	return kafka.NewWriter(writerConfig)
}

func createReader(cfg Config, tlsConfig *tls.Config, mechanism sasl.Mechanism) *kafka.Reader {
	readerConfig := kafka.ReaderConfig{
		Brokers:     cfg.Brokers,
		Topic:       cfg.Topic,
		GroupID:     cfg.GroupID,
		MinBytes:    cfg.MinBytes,
		MaxBytes:    cfg.MaxBytes,
		MaxWait:     cfg.MaxWait,
		StartOffset: cfg.StartOffset,
		ErrorLogger: createErrorLogger(cfg),
	}

	if cfg.EnableAutoCommit {
		readerConfig.CommitInterval = cfg.CommitInterval
	}

	// kafka-go rejects a partition together with a group
	if cfg.Partition != -1 && cfg.GroupID == "" {
		readerConfig.Partition = cfg.Partition
	}

	readerConfig.Dialer = newDialer(tlsConfig, mechanism)
	return kafka.NewReader(readerConfig)
}

func newDialer(tlsConfig *tls.Config, mechanism sasl.Mechanism) *kafka.Dialer {
	return &kafka.Dialer{
		Timeout:       10 * time.Second,
		DualStack:     true,
		TLS:           tlsConfig,
		SASLMechanism: mechanism,
	}
}

func createTLSConfig(cfg TLSConfig) (*tls.Config, error) {
	tlsConfig := &tls.Config{
		InsecureSkipVerify: cfg.InsecureSkipVerify,
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

func createSASLMechanism(cfg SASLConfig) (sasl.Mechanism, error) {
	switch cfg.Mechanism {
	case "PLAIN":
		return plain.Mechanism{
			Username: cfg.Username,
			Password: cfg.Password,
		}, nil
	case "SCRAM-SHA-256":
		return scram.Mechanism(scram.SHA256, cfg.Username, cfg.Password)
	case "SCRAM-SHA-512":
		return scram.Mechanism(scram.SHA512, cfg.Username, cfg.Password)
	default:
		return nil, fmt.Errorf("unsupported SASL mechanism: %s", cfg.Mechanism)
	}
}
