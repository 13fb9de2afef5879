package runtree

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Common run types. The set is open: any non-empty string is accepted.
const (
	RunTypeChain     = "chain"
	RunTypeLLM       = "llm"
	RunTypeRetriever = "retriever"
	RunTypeTool      = "tool"
	RunTypeEmbedding = "embedding"
	RunTypePrompt    = "prompt"
	RunTypeParser    = "parser"
)

// Option configures run creation. Tree level options (WithSink, WithLogger,
// WithClock) only take effect when a new tree is created, i.e. in NewRoot and
// NewRemote; they are ignored by CreateChild.
type Option func(*options)

type options struct {
	metadata  Payload
	tags      []string
	startTime time.Time
	id        uuid.UUID

	sink   Sink
	logger Logger
	clock  func() time.Time

	err error
}

// WithMetadata attaches metadata to the new run. Values follow the Payload rules;
// an unsupported value makes the create call fail with ErrInvalidInput.
func WithMetadata(metadata map[string]interface{}) Option {
	return func(o *options) {
		p, err := NewPayload(metadata)
		if err != nil {
			o.err = err
			return
		}
		o.metadata = o.metadata.Merge(p)
	}
}

// WithTags attaches tags to the new run. Duplicates are collapsed.
func WithTags(tags ...string) Option {
	return func(o *options) {
		o.tags = append(o.tags, tags...)
	}
}

// WithStartTime overrides the start time of the new run. For children the time
// is still moved forward when needed to keep sibling order strict.
func WithStartTime(t time.Time) Option {
	return func(o *options) {
		o.startTime = t
	}
}

// WithID sets the id of the new run instead of generating one.
func WithID(id uuid.UUID) Option {
	return func(o *options) {
		o.id = id
	}
}

// WithSink sets the sink used by Tree.Post and Tree.Flush.
func WithSink(s Sink) Option {
	return func(o *options) {
		o.sink = s
	}
}

// WithLogger sets the logger used for warnings such as ending a run with open children.
func WithLogger(l Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// WithClock replaces time.Now, mainly for tests.
func WithClock(clock func() time.Time) Option {
	return func(o *options) {
		o.clock = clock
	}
}

func buildOptions(opts []Option) options {
	var o options
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	return o
}

func validateCreate(name, runType string, o options) error {
	if o.err != nil {
		return o.err
	}
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("%w: name must not be empty", ErrInvalidInput)
	}
	if strings.TrimSpace(runType) == "" {
		return fmt.Errorf("%w: run type must not be empty", ErrInvalidInput)
	}
	if !o.startTime.IsZero() && !InSegmentRange(o.startTime) {
		return fmt.Errorf("%w: start time %s is outside years %d-%d", ErrInvalidInput,
			o.startTime.UTC().Format(time.RFC3339), minSegmentTime.Year(), maxSegmentTime.Year())
	}
	return nil
}

// EndOption configures Run.End.
type EndOption func(*endOptions)

type endOptions struct {
	endTime time.Time
	err     error
}

// WithEndTime overrides the end time. It must not be before the start time.
func WithEndTime(t time.Time) EndOption {
	return func(o *endOptions) {
		o.endTime = t
	}
}

// WithError ends the run with an error outcome. Hosts use it on abort paths.
func WithError(err error) EndOption {
	return func(o *endOptions) {
		o.err = err
	}
}
