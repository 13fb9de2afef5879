package propagation

const (
	// DefaultContextField is the carrier field holding the versioned identity.
	DefaultContextField = "runtrace-context"

	// DefaultBaggageField is the carrier field holding the baggage pairs.
	DefaultBaggageField = "runtrace-baggage"

	// Version is the identity format written by Encode. Decode rejects any
	// other version.
	Version = "v1"
)

// Config holds the carrier field names used by a Codec. Both sides of a
// connection must use the same names.
type Config struct {
	// ContextField is the name of the identity field.
	ContextField string `yaml:"context_field" envconfig:"CONTEXT_FIELD"`

	// BaggageField is the name of the baggage field.
	BaggageField string `yaml:"baggage_field" envconfig:"BAGGAGE_FIELD"`
}

// DefaultConfig returns the field names used when nothing is configured.
func DefaultConfig() Config {
	return Config{
		ContextField: DefaultContextField,
		BaggageField: DefaultBaggageField,
	}
}

func (c Config) withDefaults() Config {
	if c.ContextField == "" {
		c.ContextField = DefaultContextField
	}
	if c.BaggageField == "" {
		c.BaggageField = DefaultBaggageField
	}
	return c
}
