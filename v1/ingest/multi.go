package ingest

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/Aleph-Alpha/runtrace/v1/runtree"
)

// MultiClient delivers every record to several collaborators concurrently,
// e.g. the HTTP collector and a Kafka topic. It returns the first error; the
// remaining deliveries still run to completion.
type MultiClient struct {
	clients []Client
}

var _ Client = (*MultiClient)(nil)

// NewMultiClient returns a client fanning out to clients.
func NewMultiClient(clients ...Client) *MultiClient {
	return &MultiClient{clients: clients}
}

// CreateRun implements Client.
func (m *MultiClient) CreateRun(ctx context.Context, rec runtree.Record) error {
	return m.each(func(c Client) error { return c.CreateRun(ctx, rec) })
}

// UpdateRun implements Client.
func (m *MultiClient) UpdateRun(ctx context.Context, rec runtree.Record) error {
	return m.each(func(c Client) error { return c.UpdateRun(ctx, rec) })
}

func (m *MultiClient) each(fn func(Client) error) error {
	var g errgroup.Group
	for _, c := range m.clients {
		g.Go(func() error { return fn(c) })
	}
	return g.Wait()
}
