// Package routes assembles the HTTP API.
package routes

import (
	"context"
	"fmt"

	"github.com/Gobusters/ectoinject"
	"github.com/Gobusters/ectoinject/ectocontainer"
	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	echomiddleware "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"

	"github.com/Ramsey-B/petal/pkg/middleware"
	"github.com/Ramsey-B/petal/pkg/routes/destinations"
	"github.com/Ramsey-B/petal/pkg/routes/health"
	"github.com/Ramsey-B/petal/pkg/routes/mappings"
)

type Dependencies struct {
	ServiceName  string
	Logger       ectologger.Logger
	Destinations destinations.Lookup
	Deliverer    destinations.Deliverer
	Resolver     mappings.Resolver
	Health       *health.Checker
	// Verifier guards /v1 when set.
	Verifier middleware.TokenVerifier
}

func NewServer(deps Dependencies) (*echo.Echo, error) {
	containerID, err := newContainer(deps)
	if err != nil {
		return nil, fmt.Errorf("failed to build route dependencies: %w", err)
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = middleware.Error(deps.Logger)

	e.Use(echomiddleware.Recover())
	e.Use(otelecho.Middleware(deps.ServiceName))
	e.Use(middleware.Context())
	e.Use(middleware.Logger(deps.Logger))

	if deps.Health != nil {
		deps.Health.RegisterRoutes(e)
	}
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	v1 := e.Group("/v1", middleware.Container(containerID))
	if deps.Verifier != nil {
		v1.Use(middleware.Authentication(deps.Logger, deps.Verifier))
	}
	destinations.Register(v1)
	mappings.Register(v1)

	return e, nil
}

// newContainer registers the handler dependencies in a container of their
// own. Every server gets a fresh ID so servers never share instances.
func newContainer(deps Dependencies) (string, error) {
	id := "petal-routes-" + uuid.NewString()
	container, err := ectoinject.NewDIContainer(ectocontainer.DIContainerConfig{
		ID:                       id,
		AllowCaptiveDependencies: true,
		AllowMissingDependencies: true,
		LoggerConfig: &ectocontainer.DIContainerLoggerConfig{
			Prefix:  "routes",
			Enabled: deps.Logger != nil,
			LogFunc: func(ctx context.Context, level, msg string) {
				deps.Logger.WithContext(ctx).WithField("container", id).Debugf("%s: %s", level, msg)
			},
		},
	})
	if err != nil {
		return "", err
	}

	if deps.Logger != nil {
		if err := ectoinject.RegisterInstance[ectologger.Logger](container, deps.Logger); err != nil {
			return "", err
		}
	}
	if deps.Destinations != nil {
		if err := ectoinject.RegisterInstance[destinations.Lookup](container, deps.Destinations); err != nil {
			return "", err
		}
	}
	if deps.Deliverer != nil {
		if err := ectoinject.RegisterInstance[destinations.Deliverer](container, deps.Deliverer); err != nil {
			return "", err
		}
	}
	if deps.Resolver != nil {
		if err := ectoinject.RegisterInstance[mappings.Resolver](container, deps.Resolver); err != nil {
			return "", err
		}
	}
	return id, nil
}
