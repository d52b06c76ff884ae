package main

import (
	"context"
	"fmt"
	"os"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/lyzr/workflowcore/cmd/workflowcore-server/container"
	"github.com/lyzr/workflowcore/cmd/workflowcore-server/routes"
	"github.com/lyzr/workflowcore/common/bootstrap"
	appmiddleware "github.com/lyzr/workflowcore/common/middleware"
	"github.com/lyzr/workflowcore/common/ratelimit"
	"github.com/lyzr/workflowcore/common/server"
)

func main() {
	ctx := context.Background()

	components, err := bootstrap.Setup(ctx, "workflowcore")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to bootstrap workflowcore: %v\n", err)
		os.Exit(1)
	}
	defer components.Shutdown(ctx)

	services := container.New(components)

	e := setupEcho()
	setupMiddleware(e, services, components)
	setupHealthCheck(e)
	routes.Register(e, services, components.Logger)

	startServer(e, components)
}

func setupEcho() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	return e
}

func setupMiddleware(e *echo.Echo, services *container.Container, components *bootstrap.Components) {
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())
	e.Use(middleware.RequestID())

	if services.RateLimiter != nil && components.Config.Features.EnableRateLimit {
		e.Use(appmiddleware.GlobalRateLimitMiddleware(services.RateLimiter, ratelimit.DefaultGlobalConfig.Limit))
	}
}

func setupHealthCheck(e *echo.Echo) {
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(200, map[string]string{
			"status":  "ok",
			"service": "workflowcore",
		})
	})
}

func startServer(e *echo.Echo, components *bootstrap.Components) {
	srv := server.New("workflowcore", components.Config.Service.Port, e, components.Logger)
	if err := srv.Start(); err != nil {
		components.Logger.Error("server error", "error", err)
		os.Exit(1)
	}
}
