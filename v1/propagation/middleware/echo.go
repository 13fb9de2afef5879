package middleware

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	otelprop "go.opentelemetry.io/otel/propagation"

	"github.com/Aleph-Alpha/runtrace/v1/propagation"
)

// EchoMiddleware is HTTPMiddleware for echo. Handlers find the run with
// runtree.RunFromContext(c.Request().Context()). When the handler returns an
// error the run records the status echo will answer with.
//
// Example:
//
//	e := echo.New()
//	e.Use(middleware.EchoMiddleware(codec, middleware.WithSink(processor)))
func EchoMiddleware(codec *propagation.Codec, opts ...Option) echo.MiddlewareFunc {
	s := newServer(codec, opts)
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) (err error) {
			req := c.Request()
			name := s.opts.httpName(req)
			if path := c.Path(); path != "" {
				name = fmt.Sprintf("%s %s", req.Method, path)
			}

			ctx, run := s.begin(req.Context(), otelprop.HeaderCarrier(req.Header), name, httpInputs(req))
			if run == nil {
				return next(c)
			}
			c.SetRequest(req.WithContext(ctx))

			defer func() {
				if p := recover(); p != nil {
					s.finish(ctx, run, statusOutputs(http.StatusInternalServerError), fmt.Errorf("panic: %v", p))
					panic(p)
				}
				status := c.Response().Status
				if err != nil {
					status = echoStatus(err)
				}
				runErr := statusError(status)
				if err != nil && runErr != nil {
					runErr = err
				}
				s.finish(ctx, run, statusOutputs(status), runErr)
			}()
			return next(c)
		}
	}
}

func echoStatus(err error) int {
	var he *echo.HTTPError
	if errors.As(err, &he) {
		return he.Code
	}
	return http.StatusInternalServerError
}
