package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/Aleph-Alpha/runtrace/v1/observability"
	"github.com/Aleph-Alpha/runtrace/v1/runtree"
)

// HTTPClient talks to a collector over HTTP:
//
//	POST  {endpoint}/runs        first snapshot of a run
//	PATCH {endpoint}/runs/{id}   later snapshots
//
// Bodies are the JSON form of runtree.Record. Connection errors and 5xx answers
// are retried with exponential backoff; any other non-2xx answer fails with
// ErrUnexpectedStatus.
type HTTPClient struct {
	cfg      Config
	base     string
	client   *retryablehttp.Client
	observer observability.Observer
}

var _ Client = (*HTTPClient)(nil)

// NewHTTPClient creates a client for cfg.Endpoint.
//
// Example:
//
//	client, err := ingest.NewHTTPClient(ingest.Config{
//	    Endpoint: "http://localhost:1984",
//	    Headers:  map[string]string{"X-Project": "notebooks"},
//	})
//	if err != nil {
//	    return err
//	}
//	processor := ingest.NewProcessor(ingest.Config{}, client)
func NewHTTPClient(cfg Config) (*HTTPClient, error) {
	if strings.TrimSpace(cfg.Endpoint) == "" {
		return nil, ErrNoEndpoint
	}
	cfg = cfg.withDefaults()

	rc := retryablehttp.NewClient()
	rc.RetryMax = cfg.RetryMax
	rc.RetryWaitMin = cfg.RetryWaitMin
	rc.RetryWaitMax = cfg.RetryWaitMax
	rc.HTTPClient.Timeout = cfg.RequestTimeout
	rc.Logger = nil
	rc.ErrorHandler = retryablehttp.PassthroughErrorHandler

	return &HTTPClient{
		cfg:    cfg,
		base:   strings.TrimRight(cfg.Endpoint, "/"),
		client: rc,
	}, nil
}

// WithObserver sets an observer notified about every request.
func (c *HTTPClient) WithObserver(o observability.Observer) *HTTPClient {
	c.observer = o
	return c
}

// CreateRun implements Client.
func (c *HTTPClient) CreateRun(ctx context.Context, rec runtree.Record) error {
	return c.send(ctx, http.MethodPost, c.base+"/runs", rec)
}

// UpdateRun implements Client.
func (c *HTTPClient) UpdateRun(ctx context.Context, rec runtree.Record) error {
	return c.send(ctx, http.MethodPatch, c.base+"/runs/"+rec.ID.String(), rec)
}

func (c *HTTPClient) send(ctx context.Context, method, url string, rec runtree.Record) (err error) {
	start := time.Now()
	var size int64
	defer func() {
		c.observeOperation(strings.ToLower(method), c.base+"/runs", rec, time.Since(start), err, size)
	}()

	body, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("ingest: encode run %s: %w", rec.ID, err)
	}
	size = int64(len(body))

	req, err := retryablehttp.NewRequestWithContext(ctx, method, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("ingest: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	for k, v := range c.cfg.Headers {
		req.Header.Set(k, v)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("ingest: %s %s: %w", method, url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%w: %s %s: %d %s", ErrUnexpectedStatus, method, url, resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

func (c *HTTPClient) observeOperation(op, resource string, rec runtree.Record, d time.Duration, err error, size int64) {
	if c.observer == nil {
		return
	}
	c.observer.ObserveOperation(observability.OperationContext{
		Component:   "ingest",
		Operation:   op,
		Resource:    resource,
		SubResource: rec.ID.String(),
		Duration:    d,
		Error:       err,
		Size:        size,
		Metadata: map[string]interface{}{
			"trace_id": rec.TraceID.String(),
		},
	})
}
