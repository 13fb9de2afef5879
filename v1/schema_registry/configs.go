package schema_registry

import "time"

// Defaults applied by NewClient to zero valued fields.
const (
	DefaultTimeout      = 10 * time.Second
	DefaultRetryMax     = 2
	DefaultRetryWaitMin = 100 * time.Millisecond
	DefaultRetryWaitMax = 2 * time.Second
)

// Config holds the configuration of a schema registry client.
type Config struct {
	// URL is the registry endpoint, e.g. "http://localhost:8081".
	URL string `yaml:"url" envconfig:"SCHEMA_REGISTRY_URL"`

	// Username and Password enable basic auth when Username is set.
	Username string `yaml:"username" envconfig:"SCHEMA_REGISTRY_USERNAME"`
	Password string `yaml:"password" envconfig:"SCHEMA_REGISTRY_PASSWORD"`

	// Subject is the subject run events are registered under. Empty means
	// "<topic>-value" of the topic the events are written to.
	Subject string `yaml:"subject" envconfig:"SCHEMA_REGISTRY_SUBJECT"`

	Timeout      time.Duration `yaml:"timeout" envconfig:"SCHEMA_REGISTRY_TIMEOUT"`
	RetryMax     int           `yaml:"retry_max" envconfig:"SCHEMA_REGISTRY_RETRY_MAX"`
	RetryWaitMin time.Duration `yaml:"retry_wait_min" envconfig:"SCHEMA_REGISTRY_RETRY_WAIT_MIN"`
	RetryWaitMax time.Duration `yaml:"retry_wait_max" envconfig:"SCHEMA_REGISTRY_RETRY_WAIT_MAX"`
}

// Enabled reports whether a registry is configured.
func (c Config) Enabled() bool {
	return c.URL != ""
}

func (c Config) withDefaults() Config {
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.RetryMax < 0 {
		c.RetryMax = 0
	} else if c.RetryMax == 0 {
		c.RetryMax = DefaultRetryMax
	}
	if c.RetryWaitMin <= 0 {
		c.RetryWaitMin = DefaultRetryWaitMin
	}
	if c.RetryWaitMax <= 0 {
		c.RetryWaitMax = DefaultRetryWaitMax
	}
	return c
}
