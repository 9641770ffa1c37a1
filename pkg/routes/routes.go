// Package routes exposes the core operations over HTTP.
package routes

import (
	"github.com/labstack/echo/v4"
	echomiddleware "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"

	"github.com/Ramsey-B/fern/internal/app"
	"github.com/Ramsey-B/fern/internal/middleware"
	"github.com/Ramsey-B/fern/pkg/routes/entities"
	"github.com/Ramsey-B/fern/pkg/routes/graph"
	"github.com/Ramsey-B/fern/pkg/routes/health"
	"github.com/Ramsey-B/fern/pkg/routes/observations"
	"github.com/Ramsey-B/fern/pkg/routes/schemas"
	"github.com/Ramsey-B/fern/pkg/routes/sources"
	"github.com/Ramsey-B/fern/pkg/routes/subjects"
	"github.com/Ramsey-B/fern/pkg/validation"
)

const APIPrefix = "/api/v1"

type Options struct {
	AppName      string
	Version      string
	Tracing      bool
	MetricsPath  string // empty disables /metrics
	AllowOrigins []string
	AllowMethods []string
	// Checks are extra health dependencies such as redis.
	Checks map[string]health.Pinger
}

// New builds the echo instance with middleware and every route registered.
func New(s *app.Services, opts Options) (*echo.Echo, *health.Checker) {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Validator = validation.EchoValidator{}
	e.HTTPErrorHandler = middleware.Error(s.Logger)

	e.Use(echomiddleware.Recover())
	if opts.Tracing {
		e.Use(otelecho.Middleware(opts.AppName))
	}
	if len(opts.AllowOrigins) > 0 {
		e.Use(echomiddleware.CORSWithConfig(echomiddleware.CORSConfig{
			AllowOrigins: opts.AllowOrigins,
			AllowMethods: opts.AllowMethods,
			AllowHeaders: []string{echo.HeaderContentType, middleware.HeaderOwnerID, middleware.HeaderActorID},
		}))
	}
	e.Use(middleware.Context())
	e.Use(middleware.Logger(s.Logger))

	checker := health.NewChecker(s.DB, opts.Version)
	for name, p := range opts.Checks {
		checker.AddCheck(name, p)
	}
	checker.RegisterRoutes(e)

	if opts.MetricsPath != "" {
		e.GET(opts.MetricsPath, echo.WrapHandler(promhttp.Handler()))
	}

	api := e.Group(APIPrefix, middleware.RequireOwner())
	if s.Sources != nil {
		sources.Register(api, s.Sources)
	}
	observations.Register(api, s.Appender, s.Snapshots)
	entities.Register(api, s.Entities, s.Resolution, s.Traversal, s.Lifecycle)
	graph.Register(api, s.Builder, s.Scanner)
	subjects.Register(api, s.Lifecycle)
	schemas.Register(api, s.Schemas)

	return e, checker
}
