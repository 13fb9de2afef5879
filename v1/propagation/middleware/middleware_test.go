package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	otelprop "go.opentelemetry.io/otel/propagation"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/Aleph-Alpha/runtrace/v1/ingest"
	"github.com/Aleph-Alpha/runtrace/v1/propagation"
	"github.com/Aleph-Alpha/runtrace/v1/runtree"
)

type recordingLogger struct {
	mu    sync.Mutex
	warns []string
}

func (l *recordingLogger) InfoWithContext(context.Context, string, error, ...map[string]interface{}) {}
func (l *recordingLogger) ErrorWithContext(context.Context, string, error, ...map[string]interface{}) {
}
func (l *recordingLogger) WarnWithContext(_ context.Context, msg string, _ error, _ ...map[string]interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.warns = append(l.warns, msg)
}

func newCaller(t *testing.T) *runtree.Run {
	t.Helper()
	tree, err := runtree.NewRoot("caller", runtree.RunTypeChain, runtree.Payload{})
	require.NoError(t, err)
	return tree.Root()
}

func onlyRecord(t *testing.T, collector *ingest.MemoryCollector) runtree.Record {
	t.Helper()
	recs := collector.Records()
	require.Len(t, recs, 1)
	return recs[0]
}

func TestHTTPMiddlewareAttachesToCaller(t *testing.T) {
	codec := propagation.NewCodec(propagation.DefaultConfig())
	collector := ingest.NewMemoryCollector()
	caller := newCaller(t)

	var seen *runtree.Run
	handler := HTTPMiddleware(codec, WithSink(collector), WithTags("api"))(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			run, ok := runtree.RunFromContext(r.Context())
			require.True(t, ok)
			seen = run
			w.WriteHeader(http.StatusCreated)
		}))

	req := httptest.NewRequest(http.MethodPost, "/runs?x=1", nil)
	require.NoError(t, codec.Inject(propagation.Capture(caller, map[string]string{"tenant": "acme"}), otelprop.HeaderCarrier(req.Header)))
	handler.ServeHTTP(httptest.NewRecorder(), req)

	require.NotNil(t, seen)
	assert.Equal(t, caller.TraceID(), seen.TraceID())
	parent, ok := seen.ParentID()
	require.True(t, ok)
	assert.Equal(t, caller.ID(), parent)

	rec := onlyRecord(t, collector)
	assert.Equal(t, seen.ID(), rec.ID)
	assert.Equal(t, "POST /runs", rec.Name)
	assert.True(t, rec.Ended())
	assert.Empty(t, rec.Error)
	assert.Equal(t, []string{"api"}, rec.Tags)
	code, _ := rec.Outputs.Value("status_code")
	assert.EqualValues(t, http.StatusCreated, code)
	query, _ := rec.Inputs.Value("query")
	assert.Equal(t, "x=1", query)
	tenant, _ := rec.Metadata.Value("tenant")
	assert.Equal(t, "acme", tenant)
}

func TestHTTPMiddlewareFallbacks(t *testing.T) {
	codec := propagation.NewCodec(propagation.DefaultConfig())

	t.Run("no context starts a trace", func(t *testing.T) {
		collector := ingest.NewMemoryCollector()
		handler := HTTPMiddleware(codec, WithSink(collector))(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
		handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

		rec := onlyRecord(t, collector)
		assert.True(t, rec.IsRoot())
		code, _ := rec.Outputs.Value("status_code")
		assert.EqualValues(t, http.StatusOK, code)
	})

	t.Run("malformed context is logged", func(t *testing.T) {
		collector := ingest.NewMemoryCollector()
		log := &recordingLogger{}
		handler := HTTPMiddleware(codec, WithSink(collector), WithLogger(log))(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set(propagation.DefaultContextField, "v1;not-a-uuid")
		handler.ServeHTTP(httptest.NewRecorder(), req)

		assert.True(t, onlyRecord(t, collector).IsRoot())
		assert.Len(t, log.warns, 1)
	})

	t.Run("server errors end the run with an error", func(t *testing.T) {
		collector := ingest.NewMemoryCollector()
		handler := HTTPMiddleware(codec, WithSink(collector))(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "boom", http.StatusBadGateway)
		}))
		handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

		assert.Contains(t, onlyRecord(t, collector).Error, "502")
	})

	t.Run("panics end the run and propagate", func(t *testing.T) {
		collector := ingest.NewMemoryCollector()
		handler := HTTPMiddleware(codec, WithSink(collector))(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
			panic("kaboom")
		}))
		assert.Panics(t, func() {
			handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
		})
		assert.Contains(t, onlyRecord(t, collector).Error, "kaboom")
	})
}

func TestHTTPMiddlewareDeliversChildren(t *testing.T) {
	collector := ingest.NewMemoryCollector()
	handler := HTTPMiddleware(nil, WithSink(collector), WithHTTPRunName(func(*http.Request) string { return "handle" }))(
		http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
			_, err := runtree.Trace(r.Context(), "lookup", runtree.RunTypeRetriever, runtree.Payload{},
				func(context.Context, *runtree.Run) (runtree.Payload, error) { return runtree.Payload{}, nil })
			require.NoError(t, err)
		}))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	trees := collector.Trees()
	require.Len(t, trees, 1)
	assert.Equal(t, "handle", trees[0].Record.Name)
	require.Len(t, trees[0].Children, 1)
	assert.Equal(t, "lookup", trees[0].Children[0].Record.Name)
}

func TestTransport(t *testing.T) {
	codec := propagation.NewCodec(propagation.DefaultConfig())
	var got http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		got = r.Header.Clone()
	}))
	defer srv.Close()

	client := &http.Client{Transport: NewTransport(nil, codec)}
	caller := newCaller(t)

	req, err := http.NewRequestWithContext(runtree.ContextWithRun(context.Background(), caller), http.MethodGet, srv.URL, nil)
	require.NoError(t, err)
	resp, err := client.Do(req)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Empty(t, req.Header.Get(propagation.DefaultContextField), "caller request is not modified")
	tc, err := codec.Extract(otelprop.HeaderCarrier(got))
	require.NoError(t, err)
	assert.Equal(t, caller.ID(), tc.ParentRunID())
	assert.Equal(t, caller.DottedOrder(), tc.ParentDottedOrder())

	req, err = http.NewRequest(http.MethodGet, srv.URL, nil)
	require.NoError(t, err)
	resp, err = client.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Empty(t, got.Get(propagation.DefaultContextField))
}

func TestEchoMiddleware(t *testing.T) {
	codec := propagation.NewCodec(propagation.DefaultConfig())
	collector := ingest.NewMemoryCollector()
	caller := newCaller(t)

	e := echo.New()
	e.Use(EchoMiddleware(codec, WithSink(collector)))
	e.GET("/items/:id", func(c echo.Context) error {
		if _, ok := runtree.RunFromContext(c.Request().Context()); !ok {
			return errors.New("no run")
		}
		switch c.Param("id") {
		case "missing":
			return echo.NewHTTPError(http.StatusNotFound, "missing")
		case "broken":
			return errors.New("storage down")
		}
		return c.String(http.StatusOK, "ok")
	})

	serve := func(path string, withParent bool) runtree.Record {
		collector.Reset()
		req := httptest.NewRequest(http.MethodGet, path, nil)
		if withParent {
			require.NoError(t, codec.Inject(propagation.Capture(caller, nil), otelprop.HeaderCarrier(req.Header)))
		}
		e.ServeHTTP(httptest.NewRecorder(), req)
		return onlyRecord(t, collector)
	}

	ok := serve("/items/1", true)
	assert.Equal(t, "GET /items/:id", ok.Name)
	assert.Equal(t, caller.TraceID(), ok.TraceID)
	require.NotNil(t, ok.ParentID)
	assert.Equal(t, caller.ID(), *ok.ParentID)
	assert.Empty(t, ok.Error)

	missing := serve("/items/missing", false)
	code, _ := missing.Outputs.Value("status_code")
	assert.EqualValues(t, http.StatusNotFound, code)
	assert.Empty(t, missing.Error)

	broken := serve("/items/broken", false)
	code, _ = broken.Outputs.Value("status_code")
	assert.EqualValues(t, http.StatusInternalServerError, code)
	assert.Equal(t, "storage down", broken.Error)
}

func TestGRPCInterceptors(t *testing.T) {
	codec := propagation.NewCodec(propagation.DefaultConfig())
	collector := ingest.NewMemoryCollector()
	caller := newCaller(t)

	var sent metadata.MD
	invoker := func(ctx context.Context, _ string, _, _ interface{}, _ *grpc.ClientConn, _ ...grpc.CallOption) error {
		sent, _ = metadata.FromOutgoingContext(ctx)
		return nil
	}

	clientCtx := metadata.AppendToOutgoingContext(runtree.ContextWithRun(context.Background(), caller), "x-request-id", "r1")
	require.NoError(t, UnaryClientInterceptor(codec, nil)(clientCtx, "/svc.Notebook/Run", nil, nil, nil, invoker))
	require.NotNil(t, sent)
	assert.Equal(t, []string{"r1"}, sent.Get("x-request-id"))
	assert.NotEmpty(t, sent.Get(propagation.DefaultContextField))

	server := UnaryServerInterceptor(codec, WithSink(collector), WithRunType(runtree.RunTypeTool))
	info := &grpc.UnaryServerInfo{FullMethod: "/svc.Notebook/Run"}

	var handled *runtree.Run
	_, err := server(metadata.NewIncomingContext(context.Background(), sent), "req", info,
		func(ctx context.Context, _ interface{}) (interface{}, error) {
			handled, _ = runtree.RunFromContext(ctx)
			return "resp", nil
		})
	require.NoError(t, err)
	require.NotNil(t, handled)
	parent, ok := handled.ParentID()
	require.True(t, ok)
	assert.Equal(t, caller.ID(), parent)

	rec := onlyRecord(t, collector)
	assert.Equal(t, "/svc.Notebook/Run", rec.Name)
	assert.Equal(t, runtree.RunTypeTool, rec.RunType)
	code, _ := rec.Outputs.Value("code")
	assert.Equal(t, codes.OK.String(), code)

	collector.Reset()
	_, err = server(context.Background(), "req", info, func(context.Context, interface{}) (interface{}, error) {
		return nil, status.Error(codes.Unavailable, "down")
	})
	require.Error(t, err)
	rec = onlyRecord(t, collector)
	assert.True(t, rec.IsRoot())
	assert.Contains(t, rec.Error, "down")
	code, _ = rec.Outputs.Value("code")
	assert.Equal(t, codes.Unavailable.String(), code)
}

func TestUnaryClientInterceptorWithoutRun(t *testing.T) {
	invoker := func(ctx context.Context, _ string, _, _ interface{}, _ *grpc.ClientConn, _ ...grpc.CallOption) error {
		_, ok := metadata.FromOutgoingContext(ctx)
		assert.False(t, ok)
		return nil
	}
	require.NoError(t, UnaryClientInterceptor(nil, nil)(context.Background(), "/svc/M", nil, nil, nil, invoker))
}

func TestMetadataCarrier(t *testing.T) {
	c := MetadataCarrier(metadata.MD{})
	c.Set("Runtrace-Context", "v1;x")
	assert.Equal(t, "v1;x", c.Get("runtrace-context"))
	assert.Equal(t, []string{"runtrace-context"}, c.Keys())
	assert.Empty(t, MetadataCarrier(nil).Get("missing"))
}
