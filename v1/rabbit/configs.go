package rabbit

// Config defines the configuration of the RabbitMQ client.
type Config struct {
	Connection Connection `yaml:"connection"`
	Channel    Channel    `yaml:"channel"`
	DeadLetter DeadLetter `yaml:"dead_letter"`
}

// Connection contains the settings needed to reach the broker.
type Connection struct {
	Host     string `yaml:"host" envconfig:"RABBITMQ_HOST"`
	Port     uint   `yaml:"port" envconfig:"RABBITMQ_PORT"`
	User     string `yaml:"user" envconfig:"RABBITMQ_USER"`
	Password string `yaml:"password" envconfig:"RABBITMQ_PASSWORD"`

	// IsSSLEnabled switches to amqps.
	IsSSLEnabled bool `yaml:"is_ssl_enabled" envconfig:"RABBITMQ_SSL_ENABLED"`

	// UseCert enables mutual TLS with ClientCertPath and ClientKeyPath.
	UseCert        bool   `yaml:"use_cert" envconfig:"RABBITMQ_USE_CERT"`
	CACertPath     string `yaml:"ca_cert_path" envconfig:"RABBITMQ_CA_CERT_PATH"`
	ClientCertPath string `yaml:"client_cert_path" envconfig:"RABBITMQ_CLIENT_CERT_PATH"`
	ClientKeyPath  string `yaml:"client_key_path" envconfig:"RABBITMQ_CLIENT_KEY_PATH"`
	ServerName     string `yaml:"server_name" envconfig:"RABBITMQ_SERVER_NAME"`
}

// Channel contains the exchange, queue and routing settings.
type Channel struct {
	ExchangeName string `yaml:"exchange_name" envconfig:"RABBITMQ_EXCHANGE_NAME"`

	// ExchangeType is "direct", "fanout", "topic" or "headers".
	ExchangeType string `yaml:"exchange_type" envconfig:"RABBITMQ_EXCHANGE_TYPE"`

	RoutingKey string `yaml:"routing_key" envconfig:"RABBITMQ_ROUTING_KEY"`
	QueueName  string `yaml:"queue_name" envconfig:"RABBITMQ_QUEUE_NAME"`

	// DelayToReconnect is the pause between reconnection attempts in milliseconds.
	// Default: 1000
	DelayToReconnect int `yaml:"delay_to_reconnect" envconfig:"RABBITMQ_DELAY_TO_RECONNECT"`

	// PrefetchCount limits unacknowledged deliveries per consumer. 0 means no limit.
	PrefetchCount int `yaml:"prefetch_count" envconfig:"RABBITMQ_PREFETCH_COUNT"`

	// IsConsumer declares exchanges, queues and bindings on connect.
	// Publishers expect them to exist.
	IsConsumer bool `yaml:"is_consumer" envconfig:"RABBITMQ_IS_CONSUMER"`

	ContentType string `yaml:"content_type" envconfig:"RABBITMQ_CONTENT_TYPE"`
}

// DeadLetter configures where rejected run events end up.
type DeadLetter struct {
	ExchangeName string `yaml:"exchange_name" envconfig:"RABBITMQ_DLX_NAME"`
	QueueName    string `yaml:"queue_name" envconfig:"RABBITMQ_DLQ_NAME"`
	RoutingKey   string `yaml:"routing_key" envconfig:"RABBITMQ_DLQ_ROUTING_KEY"`

	// Ttl is the message time-to-live on the main queue in seconds.
	// Dead lettering is enabled only when ExchangeName is set and Ttl > 0.
	Ttl int `yaml:"ttl" envconfig:"RABBITMQ_DLQ_TTL"`
}

// DefaultDelayToReconnect is used when Channel.DelayToReconnect is zero.
const DefaultDelayToReconnect = 1000
