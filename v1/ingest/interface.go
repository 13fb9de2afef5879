package ingest

import (
	"context"

	"github.com/Aleph-Alpha/runtrace/v1/runtree"
)

// Client is the ingestion collaborator: the service that stores run records and
// rebuilds trees from them. CreateRun receives the first snapshot of a run,
// UpdateRun every later one. Implementations must accept an update for a run
// they have not seen yet, since runs posted by different processes, or even by
// different workers, may arrive in any order.
//
// This interface is implemented by *HTTPClient, *MemoryCollector and
// *MultiClient.
//
//go:generate mockgen -source=interface.go -destination=mock_client.go -package=ingest
type Client interface {
	CreateRun(ctx context.Context, rec runtree.Record) error
	UpdateRun(ctx context.Context, rec runtree.Record) error
}

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
