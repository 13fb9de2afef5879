package ingest

import "time"

const (
	DefaultWorkers        = 4
	DefaultQueueSize      = 1024
	DefaultRequestTimeout = 10 * time.Second
	DefaultRetryMax       = 3
	DefaultRetryWaitMin   = 100 * time.Millisecond
	DefaultRetryWaitMax   = 2 * time.Second
)

// Config configures the HTTPClient and the Processor.
type Config struct {
	// Endpoint is the base URL of the collector, e.g. "http://localhost:1984".
	// Runs are posted to {Endpoint}/runs and patched at {Endpoint}/runs/{id}.
	Endpoint string `yaml:"endpoint" envconfig:"ENDPOINT"`

	// Headers are added to every request, e.g. a tenant or project header.
	Headers map[string]string `yaml:"headers" envconfig:"HEADERS"`

	// RequestTimeout bounds a single delivery including retries.
	// Default: 10s
	RequestTimeout time.Duration `yaml:"request_timeout" envconfig:"REQUEST_TIMEOUT"`

	// RetryMax is the number of retries on connection errors and 5xx answers.
	// Default: 3. Set to -1 to disable retries.
	RetryMax int `yaml:"retry_max" envconfig:"RETRY_MAX"`

	// RetryWaitMin and RetryWaitMax bound the exponential backoff between retries.
	RetryWaitMin time.Duration `yaml:"retry_wait_min" envconfig:"RETRY_WAIT_MIN"`
	RetryWaitMax time.Duration `yaml:"retry_wait_max" envconfig:"RETRY_WAIT_MAX"`

	// Workers is the number of delivery goroutines of the Processor.
	// Default: 4
	Workers int `yaml:"workers" envconfig:"WORKERS"`

	// QueueSize is the capacity of each worker queue. When a queue is full,
	// Post fails with ErrQueueFull instead of blocking the caller.
	// Default: 1024
	QueueSize int `yaml:"queue_size" envconfig:"QUEUE_SIZE"`
}

func (c Config) withDefaults() Config {
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = DefaultRequestTimeout
	}
	if c.RetryMax == 0 {
		c.RetryMax = DefaultRetryMax
	}
	if c.RetryMax < 0 {
		c.RetryMax = 0
	}
	if c.RetryWaitMin <= 0 {
		c.RetryWaitMin = DefaultRetryWaitMin
	}
	if c.RetryWaitMax <= 0 {
		c.RetryWaitMax = DefaultRetryWaitMax
	}
	if c.Workers <= 0 {
		c.Workers = DefaultWorkers
	}
	if c.QueueSize <= 0 {
		c.QueueSize = DefaultQueueSize
	}
	return c
}
