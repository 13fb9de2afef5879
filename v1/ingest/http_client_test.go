package ingest

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aleph-Alpha/runtrace/v1/runtree"
)

type capturedRequest struct {
	method string
	path   string
	header http.Header
	body   map[string]interface{}
}

func newCollectorServer(t *testing.T, status func(n int32) int) (*httptest.Server, func() []capturedRequest) {
	t.Helper()
	var (
		mu    sync.Mutex
		reqs  []capturedRequest
		count atomic.Int32
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := count.Add(1)
		raw, _ := io.ReadAll(r.Body)
		var body map[string]interface{}
		_ = json.Unmarshal(raw, &body)

		mu.Lock()
		reqs = append(reqs, capturedRequest{method: r.Method, path: r.URL.Path, header: r.Header.Clone(), body: body})
		mu.Unlock()

		code := http.StatusAccepted
		if status != nil {
			code = status(n)
		}
		w.WriteHeader(code)
		_, _ = w.Write([]byte(`{"detail":"x"}`))
	}))
	t.Cleanup(srv.Close)

	return srv, func() []capturedRequest {
		mu.Lock()
		defer mu.Unlock()
		return append([]capturedRequest{}, reqs...)
	}
}

func fastRetries(endpoint string) Config {
	return Config{
		Endpoint:     endpoint + "/",
		Headers:      map[string]string{"X-Project": "notebooks"},
		RetryMax:     2,
		RetryWaitMin: time.Millisecond,
		RetryWaitMax: 2 * time.Millisecond,
	}
}

func TestNewHTTPClientRequiresEndpoint(t *testing.T) {
	_, err := NewHTTPClient(Config{})
	assert.ErrorIs(t, err, ErrNoEndpoint)
}

func TestHTTPClientCreateAndUpdate(t *testing.T) {
	srv, requests := newCollectorServer(t, nil)
	obs := &testObserver{}
	client, err := NewHTTPClient(fastRetries(srv.URL))
	require.NoError(t, err)
	client.WithObserver(obs)

	tree := newTree(t, syncSink(client))
	root := tree.Root()
	ctx := context.Background()

	require.NoError(t, client.CreateRun(ctx, root.Record()))
	require.NoError(t, root.End(runtree.MustPayload(map[string]interface{}{"answer": "42"})))
	require.NoError(t, client.UpdateRun(ctx, root.Record()))

	reqs := requests()
	require.Len(t, reqs, 2)

	assert.Equal(t, http.MethodPost, reqs[0].method)
	assert.Equal(t, "/runs", reqs[0].path)
	assert.Equal(t, "application/json", reqs[0].header.Get("Content-Type"))
	assert.Equal(t, "notebooks", reqs[0].header.Get("X-Project"))
	assert.Equal(t, root.ID().String(), reqs[0].body["id"])
	assert.Equal(t, root.DottedOrder(), reqs[0].body["dotted_order"])
	assert.NotContains(t, reqs[0].body, "end_time")

	assert.Equal(t, http.MethodPatch, reqs[1].method)
	assert.Equal(t, "/runs/"+root.ID().String(), reqs[1].path)
	assert.Contains(t, reqs[1].body, "end_time")
	assert.Equal(t, map[string]interface{}{"answer": "42"}, reqs[1].body["outputs"])

	assert.Len(t, obs.byOperation("post"), 1)
	patches := obs.byOperation("patch")
	require.Len(t, patches, 1)
	assert.Equal(t, srv.URL+"/runs", patches[0].Resource)
	assert.Positive(t, patches[0].Size)
}

func TestHTTPClientRetriesServerErrors(t *testing.T) {
	srv, requests := newCollectorServer(t, func(n int32) int {
		if n < 3 {
			return http.StatusServiceUnavailable
		}
		return http.StatusOK
	})
	client, err := NewHTTPClient(fastRetries(srv.URL))
	require.NoError(t, err)

	tree := newTree(t, syncSink(client))
	require.NoError(t, client.CreateRun(context.Background(), tree.Root().Record()))
	assert.Len(t, requests(), 3)
}

func TestHTTPClientStatusErrors(t *testing.T) {
	t.Run("client error is not retried", func(t *testing.T) {
		srv, requests := newCollectorServer(t, func(int32) int { return http.StatusBadRequest })
		client, err := NewHTTPClient(fastRetries(srv.URL))
		require.NoError(t, err)

		tree := newTree(t, syncSink(client))
		err = client.CreateRun(context.Background(), tree.Root().Record())
		assert.ErrorIs(t, err, ErrUnexpectedStatus)
		assert.Contains(t, err.Error(), "400")
		assert.Len(t, requests(), 1)
	})

	t.Run("server error after retries", func(t *testing.T) {
		srv, requests := newCollectorServer(t, func(int32) int { return http.StatusBadGateway })
		client, err := NewHTTPClient(fastRetries(srv.URL))
		require.NoError(t, err)

		tree := newTree(t, syncSink(client))
		err = client.CreateRun(context.Background(), tree.Root().Record())
		assert.ErrorIs(t, err, ErrUnexpectedStatus)
		assert.Len(t, requests(), 3)
	})
}

func syncSink(c Client) runtree.Sink {
	return ClientSink{Client: c}
}
