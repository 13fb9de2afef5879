package metrics

import (
	"context"
	"errors"
	"log"
	"net/http"

	"go.uber.org/fx"

	"github.com/Aleph-Alpha/runtrace/v1/ingest"
	"github.com/Aleph-Alpha/runtrace/v1/observability"
)

// FXModule defines the Fx module for the metrics package.
//
// The module:
//  1. Provides *Metrics and exposes it as the observability.Observer picked up
//     by the ingest, propagation and broker modules.
//  2. Invokes RegisterMetricsLifecycle to manage the /metrics HTTP server and
//     to export the statistics of the ingest processor when one is present.
//
// Usage:
//
//	app := fx.New(
//	    metrics.FXModule,
//	    fx.Provide(func() metrics.Config {
//	        return metrics.Config{
//	            Address:                 ":9090",
//	            EnableDefaultCollectors: true,
//	            ServiceName:             "notebook",
//	        }
//	    }),
//	)
var FXModule = fx.Module("metrics",
	fx.Provide(
		NewMetrics,
		fx.Annotate(
			func(m *Metrics) *Metrics { return m },
			fx.As(new(observability.Observer)),
		),
	),
	fx.Invoke(RegisterMetricsLifecycle),
)

// Logger is the subset of logger.Logger used for lifecycle messages.
type Logger interface {
	Info(msg string, err error, fields ...map[string]interface{})
	Error(msg string, err error, fields ...map[string]interface{})
}

// MetricsLifecycleParams groups the dependencies of RegisterMetricsLifecycle.
type MetricsLifecycleParams struct {
	fx.In

	Lifecycle fx.Lifecycle
	Metrics   *Metrics
	Logger    Logger            `optional:"true"`
	Processor *ingest.Processor `optional:"true"`
}

// RegisterMetricsLifecycle manages the startup and shutdown lifecycle
// of the Prometheus metrics HTTP server.
//
// The lifecycle hook:
//   - OnStart: registers the ingest processor, if any, and launches the HTTP
//     server in a background goroutine.
//   - OnStop: gracefully shuts down the metrics server.
func RegisterMetricsLifecycle(params MetricsLifecycleParams) {
	m := params.Metrics
	logInfo, logError := lifecycleLogger(params.Logger)

	params.Lifecycle.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if params.Processor != nil {
				if err := m.RegisterProcessor("default", params.Processor); err != nil {
					return err
				}
			}
			go func() {
				logInfo("Starting Prometheus metrics server", nil, map[string]interface{}{
					"address": m.Server.Addr,
				})

				if err := m.Server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logError("Error starting Prometheus metrics server", err, nil)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			logInfo("Shutting down Prometheus metrics server", nil, nil)
			return m.Server.Shutdown(ctx)
		},
	})
}

type logFunc func(msg string, err error, fields ...map[string]interface{})

func lifecycleLogger(l Logger) (logFunc, logFunc) {
	if l != nil {
		return l.Info, l.Error
	}
	std := func(level string) logFunc {
		return func(msg string, err error, _ ...map[string]interface{}) {
			if err != nil {
				log.Printf("%s: %s: %v", level, msg, err)
				return
			}
			log.Printf("%s: %s", level, msg)
		}
	}
	return std("INFO"), std("ERROR")
}
