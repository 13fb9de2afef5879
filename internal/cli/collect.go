package cli

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/fx"

	"github.com/Aleph-Alpha/runtrace/v1/ingest"
	"github.com/Aleph-Alpha/runtrace/v1/kafka"
	"github.com/Aleph-Alpha/runtrace/v1/logger"
	"github.com/Aleph-Alpha/runtrace/v1/rabbit"
	"github.com/Aleph-Alpha/runtrace/v1/redis"
)

// eventSource is implemented by the kafka, rabbit and redis clients.
type eventSource interface {
	Collect(ctx context.Context, client ingest.Client) error
}

type collectDeps struct {
	fx.In

	Config    Config
	Logger    *logger.Logger
	Collector *ingest.MemoryCollector
	Kafka     *kafka.KafkaClient   `optional:"true"`
	Rabbit    *rabbit.RabbitClient `optional:"true"`
	Redis     *redis.RedisClient   `optional:"true"`
}

func newCollectCmd(configPath *string) *cobra.Command {
	var from string

	cmd := &cobra.Command{
		Use:   "collect",
		Short: "Forward run events from a broker to the collector",
		Long: `Collect consumes the run events published by the kafka, rabbit or redis
sink and replays them against the collector at ingest.endpoint. Without an
endpoint the runs are kept in memory and printed as trees on exit.

Events are acknowledged only after the collector accepted them.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := LoadConfig(*configPath)
			if err != nil {
				return err
			}

			var deps collectDeps
			app := fx.New(baseModule(cfg), brokerModule(cfg, from), fx.Populate(&deps))
			if err := app.Err(); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			if err := app.Start(ctx); err != nil {
				return err
			}
			defer func() {
				if err := app.Stop(context.WithoutCancel(ctx)); err != nil {
					deps.Logger.Error("Failed to stop cleanly", err)
				}
			}()

			source, err := deps.source(from)
			if err != nil {
				return err
			}
			target, err := collectTarget(cfg, deps.Collector)
			if err != nil {
				return err
			}

			deps.Logger.Info("Collecting run events", nil, map[string]interface{}{"from": from})
			if err := source.Collect(ctx, target); err != nil && ctx.Err() == nil {
				return err
			}

			if cfg.Ingest.Endpoint == "" {
				printTrees(cmd.OutOrStdout(), deps.Collector.Trees())
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&from, "from", SinkKafka, "Broker to consume: kafka, rabbit or redis")
	return cmd
}

func (d collectDeps) source(from string) (eventSource, error) {
	switch {
	case from == SinkKafka && d.Kafka != nil:
		return d.Kafka, nil
	case from == SinkRabbit && d.Rabbit != nil:
		return d.Rabbit, nil
	case from == SinkRedis && d.Redis != nil:
		return d.Redis, nil
	}
	return nil, fmt.Errorf("cannot collect from %q", from)
}

func collectTarget(cfg Config, collector *ingest.MemoryCollector) (ingest.Client, error) {
	if cfg.Ingest.Endpoint == "" {
		return collector, nil
	}
	return ingest.NewHTTPClient(cfg.Ingest)
}
