package middleware

import (
	"context"
	"fmt"
	"net/http"

	"github.com/Aleph-Alpha/runtrace/v1/runtree"
)

// Logger is the logging contract of this package. *logger.Logger
// satisfies it.
type Logger interface {
	InfoWithContext(ctx context.Context, msg string, err error, fields ...map[string]interface{})
	WarnWithContext(ctx context.Context, msg string, err error, fields ...map[string]interface{})
	ErrorWithContext(ctx context.Context, msg string, err error, fields ...map[string]interface{})
}

type nopLogger struct{}

func (nopLogger) InfoWithContext(context.Context, string, error, ...map[string]interface{})  {}
func (nopLogger) WarnWithContext(context.Context, string, error, ...map[string]interface{})  {}
func (nopLogger) ErrorWithContext(context.Context, string, error, ...map[string]interface{}) {}

// Option configures the server side middleware and interceptors.
type Option func(*options)

type options struct {
	logger   Logger
	sink     runtree.Sink
	runType  string
	tags     []string
	httpName func(*http.Request) string
}

func defaultOptions() options {
	return options{
		logger:   nopLogger{},
		runType:  runtree.RunTypeChain,
		httpName: defaultHTTPName,
	}
}

func buildOptions(opts []Option) options {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// WithLogger sets the logger used for decode fallbacks and delivery failures.
func WithLogger(l Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithSink sets where server runs are delivered, typically an *ingest.Processor.
// Without a sink runs are still created and placed in the request context, but
// never leave the process.
func WithSink(s runtree.Sink) Option {
	return func(o *options) {
		o.sink = s
	}
}

// WithRunType overrides the run type of server runs, runtree.RunTypeChain by default.
func WithRunType(runType string) Option {
	return func(o *options) {
		o.runType = runType
	}
}

// WithTags adds tags to every server run.
func WithTags(tags ...string) Option {
	return func(o *options) {
		o.tags = append(o.tags, tags...)
	}
}

// WithHTTPRunName overrides how HTTP server runs are named, "METHOD /path" by default.
func WithHTTPRunName(fn func(*http.Request) string) Option {
	return func(o *options) {
		if fn != nil {
			o.httpName = fn
		}
	}
}

func defaultHTTPName(r *http.Request) string {
	return fmt.Sprintf("%s %s", r.Method, r.URL.Path)
}
