package middleware

import (
	"fmt"
	"net/http"

	otelprop "go.opentelemetry.io/otel/propagation"

	"github.com/Aleph-Alpha/runtrace/v1/propagation"
	"github.com/Aleph-Alpha/runtrace/v1/runtree"
)

// HTTPMiddleware returns net/http middleware that traces every request as a
// run. The run attaches to the context found in the request headers, or
// starts a new trace when there is none. Handlers find it with
// runtree.RunFromContext(r.Context()). The run ends with the response status;
// statuses of 500 and above end it with an error.
//
// Example:
//
//	mux := http.NewServeMux()
//	handler := middleware.HTTPMiddleware(codec,
//	    middleware.WithSink(processor),
//	    middleware.WithLogger(log),
//	)(mux)
func HTTPMiddleware(codec *propagation.Codec, opts ...Option) func(http.Handler) http.Handler {
	s := newServer(codec, opts)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, run := s.begin(r.Context(), otelprop.HeaderCarrier(r.Header), s.opts.httpName(r), httpInputs(r))
			if run == nil {
				next.ServeHTTP(w, r)
				return
			}

			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			defer func() {
				if p := recover(); p != nil {
					s.finish(ctx, run, statusOutputs(http.StatusInternalServerError), fmt.Errorf("panic: %v", p))
					panic(p)
				}
				s.finish(ctx, run, statusOutputs(rec.status), statusError(rec.status))
			}()
			next.ServeHTTP(rec, r.WithContext(ctx))
		})
	}
}

func httpInputs(r *http.Request) runtree.Payload {
	in := map[string]interface{}{
		"method": r.Method,
		"path":   r.URL.Path,
	}
	if r.URL.RawQuery != "" {
		in["query"] = r.URL.RawQuery
	}
	p, err := runtree.NewPayload(in)
	if err != nil {
		return runtree.Payload{}
	}
	return p
}

func statusOutputs(status int) runtree.Payload {
	return runtree.MustPayload(map[string]interface{}{"status_code": status})
}

func statusError(status int) error {
	if status >= http.StatusInternalServerError {
		return fmt.Errorf("HTTP %d %s", status, http.StatusText(status))
	}
	return nil
}

type statusRecorder struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (r *statusRecorder) WriteHeader(code int) {
	if !r.wroteHeader {
		r.status = code
		r.wroteHeader = true
	}
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	r.wroteHeader = true
	return r.ResponseWriter.Write(b)
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

// Transport is an http.RoundTripper that injects the ambient run of the
// request context into the outgoing headers.
type Transport struct {
	base   http.RoundTripper
	codec  *propagation.Codec
	logger Logger
}

var _ http.RoundTripper = (*Transport)(nil)

// NewTransport wraps base, http.DefaultTransport when nil.
//
// Example:
//
//	client := &http.Client{Transport: middleware.NewTransport(nil, codec)}
//	req, _ := http.NewRequestWithContext(runtree.ContextWithRun(ctx, run), http.MethodGet, url, nil)
//	resp, err := client.Do(req)
func NewTransport(base http.RoundTripper, codec *propagation.Codec) *Transport {
	if base == nil {
		base = http.DefaultTransport
	}
	if codec == nil {
		codec = propagation.NewCodec(propagation.DefaultConfig())
	}
	return &Transport{base: base, codec: codec, logger: nopLogger{}}
}

// WithLogger sets the logger used when a context cannot be encoded.
func (t *Transport) WithLogger(l Logger) *Transport {
	if l != nil {
		t.logger = l
	}
	return t
}

// RoundTrip implements http.RoundTripper. A context that cannot be encoded is
// logged and the request is sent without it.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	if _, ok := runtree.RunFromContext(req.Context()); !ok {
		return t.base.RoundTrip(req)
	}

	out := req.Clone(req.Context())
	if _, err := t.codec.InjectContext(out.Context(), otelprop.HeaderCarrier(out.Header)); err != nil {
		t.logger.WarnWithContext(req.Context(), "failed to inject run context into request", err, map[string]interface{}{
			"url": req.URL.Redacted(),
		})
		return t.base.RoundTrip(req)
	}
	return t.base.RoundTrip(out)
}
