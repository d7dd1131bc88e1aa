package server

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/datatales/storyteller/config"
	"github.com/datatales/storyteller/internal/history"
)

// Run starts the HTTP API. It serves run history from Postgres, live run
// progress from Redis when configured, and rendered reports as static files.
func Run(cfg *config.Config, addr string) error {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())

	baseLogger := log.New(log.Writer(), "[HTTP] ", log.LstdFlags)
	e.HTTPErrorHandler = func(err error, c echo.Context) {
		code := http.StatusInternalServerError
		msg := err.Error()
		if he, ok := err.(*echo.HTTPError); ok {
			code = he.Code
			if he.Message != nil {
				msg = fmt.Sprint(he.Message)
			}
		}
		req := c.Request()
		baseLogger.Printf("%d %s %s from %s: %v", code, req.Method, req.URL.Path, c.RealIP(), err)
		if !c.Response().Committed {
			_ = c.JSON(code, map[string]interface{}{"error": msg})
		}
	}
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{"GET", "OPTIONS"},
		AllowHeaders: []string{"Content-Type"},
	}))

	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	ctx := context.Background()
	store, err := history.NewStore(ctx, cfg.Storage.Postgres.DSN())
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}

	var live *history.RedisRecorder
	if cfg.Storage.Redis.Addr != "" {
		live, err = history.NewRedisRecorder(ctx, cfg.Storage.Redis)
		if err != nil {
			baseLogger.Printf("redis unavailable, live progress disabled: %v", err)
			live = nil
		}
	}

	rh := &RunsHandler{store: store, live: live, logger: log.New(log.Writer(), "[RUNS] ", log.LstdFlags)}
	rh.Register(e.Group("/api/runs"))

	if cfg.General.OutputDir != "" {
		e.Static("/reports", cfg.General.OutputDir)
	}

	baseLogger.Printf("listening on %s", addr)
	return e.Start(addr)
}
