package logger

import (
	"context"
	"errors"
	"syscall"

	"go.uber.org/fx"
)

// FXModule provides *Logger built from a logger.Config and flushes it on
// shutdown.
//
// Usage:
//
//	app := fx.New(
//	    logger.FXModule,
//	    fx.Provide(func() logger.Config { return cfg.Logger }),
//	)
//
// Packages take narrow Logger interfaces; bind *Logger to them with fx.As
// where they are wired.
var FXModule = fx.Module("logger",
	fx.Provide(
		NewLoggerClient,
	),
	fx.Invoke(RegisterLoggerLifecycle),
)

// RegisterLoggerLifecycle flushes buffered log entries when the application
// stops.
func RegisterLoggerLifecycle(lc fx.Lifecycle, client *Logger) {
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return client.sync()
		},
	})
}

// sync flushes the logger. Syncing a terminal or pipe fails with EINVAL or
// ENOTTY on some platforms, which is not an error worth reporting.
func (l *Logger) sync() error {
	err := l.Zap.Sync()
	if err == nil || errors.Is(err, syscall.EINVAL) || errors.Is(err, syscall.ENOTTY) {
		return nil
	}
	return err
}
