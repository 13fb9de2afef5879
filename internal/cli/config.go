package cli

import (
	"fmt"
	"os"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"github.com/Aleph-Alpha/runtrace/v1/ingest"
	"github.com/Aleph-Alpha/runtrace/v1/kafka"
	"github.com/Aleph-Alpha/runtrace/v1/logger"
	"github.com/Aleph-Alpha/runtrace/v1/metrics"
	"github.com/Aleph-Alpha/runtrace/v1/propagation"
	"github.com/Aleph-Alpha/runtrace/v1/rabbit"
	"github.com/Aleph-Alpha/runtrace/v1/redis"
	"github.com/Aleph-Alpha/runtrace/v1/schema_registry"
	"github.com/Aleph-Alpha/runtrace/v1/tracer"
)

// Sink names accepted by Config.Sink.
const (
	SinkMemory = "memory"
	SinkHTTP   = "http"
	SinkKafka  = "kafka"
	SinkRabbit = "rabbit"
	SinkRedis  = "redis"
)

// EnvPrefix prefixes every environment override, e.g. RUNTRACE_INGEST_ENDPOINT.
const EnvPrefix = "runtrace"

// Config is the configuration of the runtrace command.
type Config struct {
	// Sink selects where runs are delivered. Empty means "http" when
	// Ingest.Endpoint is set and "memory" otherwise.
	Sink string `yaml:"sink" envconfig:"SINK"`

	Server      ServerConfig       `yaml:"server"`
	Logger      logger.Config      `yaml:"logger"`
	Propagation propagation.Config `yaml:"propagation"`
	Ingest      ingest.Config      `yaml:"ingest"`
	Tracer      tracer.Config      `yaml:"tracer"`
	Metrics     metrics.Config     `yaml:"metrics"`
	Kafka       kafka.Config       `yaml:"kafka"`
	Rabbit      rabbit.Config      `yaml:"rabbit"`
	Redis       redis.Config       `yaml:"redis"`

	// SchemaRegistry frames Kafka run events when URL is set.
	SchemaRegistry schema_registry.Config `yaml:"schema_registry"`
}

// ServerConfig configures the HTTP server of the serve command.
type ServerConfig struct {
	Address string `yaml:"address" envconfig:"ADDRESS"`
}

// DefaultConfig returns the configuration used when nothing is set.
func DefaultConfig() Config {
	return Config{
		Server: ServerConfig{Address: ":8080"},
		Logger: logger.Config{
			Level:         logger.Info,
			ServiceName:   "runtrace",
			EnableTracing: true,
			Encoding:      "console",
		},
		Propagation: propagation.DefaultConfig(),
		Tracer:      tracer.Config{ServiceName: "runtrace"},
		Metrics:     metrics.Config{ServiceName: "runtrace"},
	}
}

// LoadConfig starts from DefaultConfig, applies the YAML file at path when
// path is not empty and finally the environment.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to load config from environment: %w", err)
	}
	return cfg.withDefaults()
}

func (c Config) withDefaults() (Config, error) {
	if c.Sink == "" {
		c.Sink = SinkMemory
		if c.Ingest.Endpoint != "" {
			c.Sink = SinkHTTP
		}
	}
	switch c.Sink {
	case SinkMemory, SinkHTTP, SinkKafka, SinkRabbit, SinkRedis:
	default:
		return Config{}, fmt.Errorf("unknown sink %q", c.Sink)
	}
	if c.SchemaRegistry.Enabled() && c.SchemaRegistry.Subject == "" && c.Kafka.Topic != "" {
		c.SchemaRegistry.Subject = c.Kafka.Topic + "-value"
	}
	if c.Server.Address == "" {
		c.Server.Address = DefaultConfig().Server.Address
	}
	return c, nil
}
