package rabbit

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/Aleph-Alpha/runtrace/v1/observability"
	"github.com/Aleph-Alpha/runtrace/v1/propagation"
)

// RabbitClient publishes traced messages and run events to RabbitMQ and
// consumes them, reconnecting when the broker goes away.
type RabbitClient struct {
	cfg Config

	// Channel is the AMQP channel used for publishing and consuming.
	Channel *amqp.Channel

	conn *amqp.Connection

	logger   Logger
	observer observability.Observer

	// codec writes and reads the run context carried in message headers
	codec *propagation.Codec

	// mu protects conn and Channel across reconnects
	mu sync.RWMutex

	shutdownSignal    chan struct{}
	closeShutdownOnce sync.Once
}

var _ Client = (*RabbitClient)(nil)

// NewClient connects to RabbitMQ and sets up the channel. Consumers also
// declare the exchange, queue, bindings and dead letter topology.
//
// Example:
//
//	client, err := rabbit.NewClient(config)
//	if err != nil {
//		return err
//	}
//	defer client.GracefulShutdown()
func NewClient(config Config) (*RabbitClient, error) {
	con, err := newConnection(config)
	if err != nil {
		log.Printf("ERROR: error in connecting to rabbit: %v", err)
		return nil, err
	}

	ch, err := connectToChannel(con, config)
	if err != nil {
		log.Printf("ERROR: error in declaring channel: %v", err)
		_ = con.Close()
		return nil, err
	}

	return &RabbitClient{
		cfg:            config,
		conn:           con,
		Channel:        ch,
		codec:          propagation.NewCodec(propagation.DefaultConfig()),
		shutdownSignal: make(chan struct{}),
	}, nil
}

// WithLogger attaches a logger for lifecycle and consumer events.
func (rb *RabbitClient) WithLogger(logger Logger) *RabbitClient {
	rb.logger = logger
	return rb
}

// WithObserver attaches an observer notified of every produce, consume and
// collect operation.
func (rb *RabbitClient) WithObserver(observer observability.Observer) *RabbitClient {
	rb.observer = observer
	return rb
}

// WithCodec replaces the header codec. Publishers and consumers must agree on it.
func (rb *RabbitClient) WithCodec(codec *propagation.Codec) *RabbitClient {
	if codec != nil {
		rb.codec = codec
	}
	return rb
}

// connectToChannel opens a channel with publisher confirms. For consumers it
// also declares the exchange, the queue with its dead letter arguments, the
// bindings and QoS.
func connectToChannel(rb *amqp.Connection, cfg Config) (*amqp.Channel, error) {
	ch, err := rb.Channel()
	if err != nil {
		return nil, fmt.Errorf("failed to create channel: %w", TranslateError(err))
	}

	if err = ch.Confirm(false); err != nil {
		return nil, fmt.Errorf("failed to enable publisher confirms: %w", TranslateError(err))
	}

	if !cfg.Channel.IsConsumer {
		return ch, nil
	}

	err = ch.ExchangeDeclare(
		cfg.Channel.ExchangeName,
		cfg.Channel.ExchangeType,
		true,  // Durable
		false, // AutoDelete
		false, // Internal
		false, // NoWait
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to declare exchange: %w", TranslateError(err))
	}

	queueArgs := amqp.Table{}
	if cfg.DeadLetter.ExchangeName != "" && cfg.DeadLetter.Ttl > 0 {
		err = ch.ExchangeDeclare(cfg.DeadLetter.ExchangeName, "direct", true, false, false, false, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to declare dead letter exchange: %w", TranslateError(err))
		}

		_, err = ch.QueueDeclare(cfg.DeadLetter.QueueName, true, false, false, false, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to declare dead letter queue: %w", TranslateError(err))
		}

		err = ch.QueueBind(cfg.DeadLetter.QueueName, cfg.DeadLetter.RoutingKey, cfg.DeadLetter.ExchangeName, false, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to bind dead letter queue: %w", TranslateError(err))
		}

		queueArgs = amqp.Table{
			"x-dead-letter-exchange":    cfg.DeadLetter.ExchangeName,
			"x-dead-letter-routing-key": cfg.DeadLetter.RoutingKey,
			"x-message-ttl":             cfg.DeadLetter.Ttl * 1000,
		}
	}

	_, err = ch.QueueDeclare(
		cfg.Channel.QueueName,
		true,  // Durable
		false, // AutoDelete
		false, // Exclusive
		false, // NoWait
		queueArgs,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to declare queue: %w", TranslateError(err))
	}

	err = ch.QueueBind(cfg.Channel.QueueName, cfg.Channel.RoutingKey, cfg.Channel.ExchangeName, false, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to bind queue: %w", TranslateError(err))
	}

	if cfg.Channel.PrefetchCount > 0 {
		if err = ch.Qos(cfg.Channel.PrefetchCount, 0, false); err != nil {
			return nil, fmt.Errorf("failed to set QoS: %w", TranslateError(err))
		}
	}

	return ch, nil
}

// RetryConnection watches the connection and re-establishes it, including the
// channel topology, until GracefulShutdown is called.
func (rb *RabbitClient) RetryConnection(cfg Config) {
	delay := time.Duration(cfg.Channel.DelayToReconnect) * time.Millisecond
	if delay <= 0 {
		delay = DefaultDelayToReconnect * time.Millisecond
	}

outerLoop:
	for {
		errChan := make(chan *amqp.Error, 1)
		rb.mu.RLock()
		rb.conn.NotifyClose(errChan)
		rb.mu.RUnlock()

		select {
		case <-rb.shutdownSignal:
			log.Println("INFO: Stopping RetryConnection loop due to shutdown signal")
			return

		case err := <-errChan:
			log.Printf("WARNING: RabbitMQ connection closed, retrying... %v", err)
			for {
				select {
				case <-rb.shutdownSignal:
					log.Println("INFO: Stopping RetryConnection loop due to shutdown signal")
					return
				default:
				}

				newConn, err := newConnection(cfg)
				if err != nil {
					log.Printf("ERROR: RabbitMQ reconnection failed: %v", err)
					time.Sleep(delay)
					continue
				}

				ch, err := connectToChannel(newConn, cfg)
				if err != nil {
					log.Printf("ERROR: Failed to re-establish RabbitMQ channel: %v", err)
					_ = newConn.Close()
					time.Sleep(delay)
					continue
				}

				rb.mu.Lock()
				if rb.Channel != nil {
					_ = rb.Channel.Close()
				}
				rb.conn = newConn
				rb.Channel = ch
				rb.mu.Unlock()

				log.Println("INFO: Successfully reconnected to RabbitMQ")
				continue outerLoop
			}
		}
	}
}

// newConnection dials the broker, over TLS when IsSSLEnabled is set and with a
// client certificate when UseCert is set. Heartbeats are sent every 2 seconds.
func newConnection(cfg Config) (*amqp.Connection, error) {
	scheme := "amqp"
	amqpConfig := amqp.Config{Heartbeat: 2 * time.Second}

	if cfg.Connection.IsSSLEnabled {
		scheme = "amqps"
		tlsConfig, err := createTLSConfig(cfg.Connection)
		if err != nil {
			return nil, err
		}
		amqpConfig.TLSClientConfig = tlsConfig
	}

	hostURL := fmt.Sprintf("%s://%v:%v@%v:%v", scheme, cfg.Connection.User, cfg.Connection.Password, cfg.Connection.Host, cfg.Connection.Port)
	conn, err := amqp.DialConfig(hostURL, amqpConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Rabbit: %w", TranslateError(err))
	}
	log.Println("INFO: Connected to Rabbit")
	return conn, nil
}

func createTLSConfig(cfg Connection) (*tls.Config, error) {
	tlsConfig := &tls.Config{ServerName: cfg.ServerName}

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

	if cfg.UseCert {
		cert, err := tls.LoadX509KeyPair(cfg.ClientCertPath, cfg.ClientKeyPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load client cert: %w", err)
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}

	return tlsConfig, nil
}
