package schema_registry

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/Aleph-Alpha/runtrace/v1/observability"
)

const contentType = "application/vnd.schemaregistry.v1+json"

// Registry is the subset of the Confluent Schema Registry API used to frame
// run events.
type Registry interface {
	// GetSchemaByID returns the schema registered under id.
	GetSchemaByID(ctx context.Context, id int) (string, error)

	// GetLatestSchema returns the latest version registered for subject.
	GetLatestSchema(ctx context.Context, subject string) (*Metadata, error)

	// RegisterSchema registers schema under subject and returns its id.
	// Registering a schema that already exists returns the existing id.
	RegisterSchema(ctx context.Context, subject, schema, schemaType string) (int, error)

	// CheckCompatibility reports whether schema is compatible with the
	// latest version of subject.
	CheckCompatibility(ctx context.Context, subject, schema, schemaType string) (bool, error)
}

// Metadata describes one registered schema version.
type Metadata struct {
	ID      int    `json:"id"`
	Version int    `json:"version"`
	Schema  string `json:"schema"`
	Subject string `json:"subject"`
	Type    string `json:"schemaType,omitempty"`
}

// Client implements Registry over HTTP. Schemas are cached by id and ids by
// subject and schema, so steady state framing makes no requests.
type Client struct {
	cfg      Config
	base     string
	http     *retryablehttp.Client
	observer observability.Observer

	mu      sync.RWMutex
	schemas map[int]string
	ids     map[string]int
}

var _ Registry = (*Client)(nil)

// NewClient creates a client for cfg.URL.
func NewClient(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, ErrNoURL
	}
	cfg = cfg.withDefaults()

	rc := retryablehttp.NewClient()
	rc.RetryMax = cfg.RetryMax
	rc.RetryWaitMin = cfg.RetryWaitMin
	rc.RetryWaitMax = cfg.RetryWaitMax
	rc.HTTPClient.Timeout = cfg.Timeout
	rc.Logger = nil
	rc.ErrorHandler = retryablehttp.PassthroughErrorHandler

	return &Client{
		cfg:     cfg,
		base:    strings.TrimRight(cfg.URL, "/"),
		http:    rc,
		schemas: make(map[int]string),
		ids:     make(map[string]int),
	}, nil
}

// WithObserver sets an observer notified about every registry request.
func (c *Client) WithObserver(o observability.Observer) *Client {
	c.observer = o
	return c
}

// GetSchemaByID implements Registry.
func (c *Client) GetSchemaByID(ctx context.Context, id int) (string, error) {
	c.mu.RLock()
	schema, ok := c.schemas[id]
	c.mu.RUnlock()
	if ok {
		return schema, nil
	}

	var result struct {
		Schema string `json:"schema"`
	}
	if err := c.do(ctx, "get_schema", http.MethodGet, fmt.Sprintf("/schemas/ids/%d", id), nil, &result); err != nil {
		return "", err
	}

	c.mu.Lock()
	c.schemas[id] = result.Schema
	c.mu.Unlock()
	return result.Schema, nil
}

// GetLatestSchema implements Registry.
func (c *Client) GetLatestSchema(ctx context.Context, subject string) (*Metadata, error) {
	var md Metadata
	path := "/subjects/" + url.PathEscape(subject) + "/versions/latest"
	if err := c.do(ctx, "get_latest", http.MethodGet, path, nil, &md); err != nil {
		return nil, err
	}
	md.Subject = subject

	c.mu.Lock()
	c.schemas[md.ID] = md.Schema
	c.mu.Unlock()
	return &md, nil
}

// RegisterSchema implements Registry.
func (c *Client) RegisterSchema(ctx context.Context, subject, schema, schemaType string) (int, error) {
	key := subject + ":" + schemaType + ":" + schema
	c.mu.RLock()
	id, ok := c.ids[key]
	c.mu.RUnlock()
	if ok {
		return id, nil
	}

	var result struct {
		ID int `json:"id"`
	}
	path := "/subjects/" + url.PathEscape(subject) + "/versions"
	if err := c.do(ctx, "register", http.MethodPost, path, schemaRequest(schema, schemaType), &result); err != nil {
		return 0, err
	}

	c.mu.Lock()
	c.ids[key] = result.ID
	c.schemas[result.ID] = schema
	c.mu.Unlock()
	return result.ID, nil
}

// CheckCompatibility implements Registry. A subject without versions is
// compatible with anything.
func (c *Client) CheckCompatibility(ctx context.Context, subject, schema, schemaType string) (bool, error) {
	var result struct {
		IsCompatible bool `json:"is_compatible"`
	}
	path := "/compatibility/subjects/" + url.PathEscape(subject) + "/versions/latest"
	err := c.do(ctx, "check_compatibility", http.MethodPost, path, schemaRequest(schema, schemaType), &result)
	if err != nil {
		if IsNotFound(err) {
			return true, nil
		}
		return false, err
	}
	return result.IsCompatible, nil
}

func schemaRequest(schema, schemaType string) map[string]interface{} {
	body := map[string]interface{}{"schema": schema}
	// AVRO is the registry's default and is omitted.
	if schemaType != "" && schemaType != "AVRO" {
		body["schemaType"] = schemaType
	}
	return body
}

func (c *Client) do(ctx context.Context, op, method, path string, in, out interface{}) (err error) {
	start := time.Now()
	defer func() {
		c.observeOperation(op, path, time.Since(start), err)
	}()

	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("schema registry: encode request: %w", err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return fmt.Errorf("schema registry: build request: %w", err)
	}
	req.Header.Set("Accept", contentType)
	if in != nil {
		req.Header.Set("Content-Type", contentType)
	}
	if c.cfg.Username != "" {
		req.SetBasicAuth(c.cfg.Username, c.cfg.Password)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("schema registry: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%w: %s %s: %d %s", ErrUnexpectedStatus, method, path, resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("schema registry: decode response: %w", err)
	}
	return nil
}

func (c *Client) observeOperation(op, path string, d time.Duration, err error) {
	if c.observer == nil {
		return
	}
	c.observer.ObserveOperation(observability.OperationContext{
		Component:   "schema_registry",
		Operation:   op,
		Resource:    c.base,
		SubResource: path,
		Duration:    d,
		Error:       err,
	})
}
