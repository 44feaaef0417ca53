package server

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/fundscope/researchd/config"
	"github.com/fundscope/researchd/internal/llm"
	"github.com/fundscope/researchd/internal/research"
	"github.com/fundscope/researchd/internal/session"
	"github.com/fundscope/researchd/internal/session/inmemory"
	"github.com/fundscope/researchd/internal/session/pgstore"
	"github.com/fundscope/researchd/internal/session/redisstore"
	"github.com/fundscope/researchd/internal/telemetry"
	"github.com/fundscope/researchd/tools/webfetch"
	"github.com/fundscope/researchd/tools/websearch"
)

// Run wires the full service and serves until the listener fails.
func Run(cfg *config.Config) error {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	// Unified HTTP error handler with structured JSON and logging
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
		AllowMethods: []string{"GET", "POST", "OPTIONS"},
		AllowHeaders: []string{"Content-Type"},
	}))

	e.GET("/healthz", func(c echo.Context) error { return c.String(200, "ok") })
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	ctx := context.Background()
	store, err := buildStore(ctx, cfg)
	if err != nil {
		return err
	}

	tele := telemetry.New(cfg.Telemetry)
	provider, err := llm.NewProvider(cfg.LLM)
	if err != nil {
		return err
	}
	searcher, err := websearch.NewSearcher(cfg.Search)
	if err != nil {
		return err
	}
	var fetcher *webfetch.Fetcher
	if cfg.Research.FetchContent {
		fetcher = webfetch.New(0, cfg.Research.FetchMaxChars)
	}
	agent := research.New(provider, searcher, fetcher, cfg.Research, cfg.Search.MaxResults, tele)
	agent.Routing = cfg.LLM.Routing

	rh := NewResearchHandler(store, agent, cfg, tele)
	rh.Register(e.Group("/api/research"))

	return e.Start(cfg.Server.Address)
}

// buildStore selects the session store backend from configuration.
func buildStore(ctx context.Context, cfg *config.Config) (session.Store, error) {
	switch cfg.Storage.Backend {
	case "", "memory":
		return inmemory.NewStore(), nil
	case "redis":
		return redisstore.NewStore(cfg.Storage.Redis)
	case "postgres":
		dsn, err := cfg.Storage.Postgres.DSN()
		if err != nil {
			return nil, err
		}
		if err := Migrate("file://migrations", dsn, "up", 0); err != nil {
			return nil, fmt.Errorf("migrate: %w", err)
		}
		return pgstore.NewWithDSN(ctx, dsn)
	default:
		return nil, fmt.Errorf("unknown storage backend: %s", cfg.Storage.Backend)
	}
}
