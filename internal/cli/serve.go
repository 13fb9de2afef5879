package cli

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/spf13/cobra"
	"go.uber.org/fx"

	"github.com/Aleph-Alpha/runtrace/v1/ingest"
	"github.com/Aleph-Alpha/runtrace/v1/logger"
	"github.com/Aleph-Alpha/runtrace/v1/metrics"
	"github.com/Aleph-Alpha/runtrace/v1/propagation"
	"github.com/Aleph-Alpha/runtrace/v1/propagation/middleware"
	"github.com/Aleph-Alpha/runtrace/v1/runtree"
)

const chatPath = "/chat"

type chatRequest struct {
	Question string `json:"question"`
}

type chatResponse struct {
	Answer  string `json:"answer"`
	TraceID string `json:"trace_id"`
	RunID   string `json:"run_id"`
}

type serverDeps struct {
	fx.In

	Codec   *propagation.Codec
	Sink    runtree.Sink
	Logger  *logger.Logger
	Metrics *metrics.Metrics `optional:"true"`
}

func newServeCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve a traced chat endpoint",
		Long: `Serve answers POST /chat. Every request becomes a run attached to the
run context found in its headers, with a nested llm run for the answer.
Runs are delivered to the configured sink; Prometheus metrics are served on
the metrics address.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := LoadConfig(*configPath)
			if err != nil {
				return err
			}

			app := fx.New(
				baseModule(cfg),
				fx.Supply(cfg.Metrics),
				metrics.FXModule,
				deliveryModule(cfg),
				fx.Provide(newEcho),
				fx.Invoke(registerServer),
			)
			if err := app.Err(); err != nil {
				return err
			}
			app.Run()
			return nil
		},
	}
}

// newEcho builds the chat server.
func newEcho(deps serverDeps) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	if deps.Metrics != nil {
		e.Use(requestMetrics(deps.Metrics))
	}
	e.Use(middleware.EchoMiddleware(deps.Codec,
		middleware.WithSink(deps.Sink),
		middleware.WithLogger(deps.Logger),
		middleware.WithTags("server"),
	))

	h := &chatHandler{logger: deps.Logger}
	e.POST(chatPath, h.chat)
	e.GET("/healthz", func(c echo.Context) error {
		return c.NoContent(http.StatusNoContent)
	})
	return e
}

type chatHandler struct {
	logger *logger.Logger
}

func (h *chatHandler) chat(c echo.Context) error {
	var req chatRequest
	if err := c.Bind(&req); err != nil || req.Question == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "question is required")
	}

	ctx := c.Request().Context()
	h.logger.InfoWithContext(ctx, "Answering question", nil)

	out, err := runtree.Trace(ctx, "generate", runtree.RunTypeLLM,
		runtree.MustPayload(map[string]interface{}{"prompt": req.Question}),
		func(ctx context.Context, _ *runtree.Run) (runtree.Payload, error) {
			return runtree.NewPayload(map[string]interface{}{"text": answer(req.Question)})
		})
	if err != nil {
		return err
	}

	text, _ := out.Value("text")
	resp := chatResponse{}
	resp.Answer, _ = text.(string)
	if run, ok := runtree.RunFromContext(ctx); ok {
		resp.TraceID = run.TraceID().String()
		resp.RunID = run.ID().String()
	}
	return c.JSON(http.StatusOK, resp)
}

// answer stands in for a model call.
func answer(question string) string {
	return "You asked: " + question
}

func requestMetrics(m *metrics.Metrics) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)

			status := c.Response().Status
			var he *echo.HTTPError
			if errors.As(err, &he) {
				status = he.Code
			} else if err != nil {
				status = http.StatusInternalServerError
			}
			m.IncrementRequests(strconv.Itoa(status))
			m.RecordRequestDuration(start, c.Path())
			return err
		}
	}
}

func registerServer(lc fx.Lifecycle, cfg Config, e *echo.Echo, log *logger.Logger, collector *ingest.MemoryCollector) {
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				log.Info("Starting chat server", nil, map[string]interface{}{
					"address": cfg.Server.Address,
					"sink":    cfg.Sink,
				})
				if err := e.Start(cfg.Server.Address); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Error("Chat server stopped", err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			log.Info("Shutting down chat server", nil)
			err := e.Shutdown(ctx)
			if cfg.Sink == SinkMemory {
				log.Info("Runs collected in memory", nil, map[string]interface{}{"runs": collector.Len()})
			}
			return err
		},
	})
}
