// Package server exposes the gateway over HTTP.
package server

import (
	"context"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"costgate/internal/budget"
	"costgate/internal/dispatch"
	"costgate/internal/optimizer"
)

// DefaultBodySizeLimit caps inbound request bodies at 10MB.
const DefaultBodySizeLimit int64 = 10 << 20

// Config holds server configuration options
type Config struct {
	// MasterKey guards the API when set; health and metrics stay public.
	MasterKey       string `yaml:"master_key"`
	MetricsEnabled  bool   `yaml:"metrics_enabled"`
	MetricsEndpoint string `yaml:"metrics_endpoint"`
	BodySizeLimit   int64  `yaml:"body_size_limit"`
}

// Deps are the collaborators the handlers route into.
type Deps struct {
	Dispatcher *dispatch.Dispatcher
	Budgets    *budget.Manager
	Ledger     budget.LedgerStore
	Optimizer  *optimizer.Optimizer
}

// Server wraps the Echo server
type Server struct {
	echo    *echo.Echo
	handler *Handler
}

// New creates the HTTP server and wires all routes.
func New(deps Deps, cfg *Config) *Server {
	e := echo.New()
	e.HideBanner = true

	handler := NewHandler(deps)

	metricsPath := "/metrics"
	authSkipPaths := []string{"/health"}
	if cfg != nil && cfg.MetricsEnabled {
		if cfg.MetricsEndpoint != "" {
			metricsPath = cfg.MetricsEndpoint
		}
		authSkipPaths = append(authSkipPaths, metricsPath)
	}

	e.Use(middleware.Recover())

	bodySizeLimit := DefaultBodySizeLimit
	if cfg != nil && cfg.BodySizeLimit > 0 {
		bodySizeLimit = cfg.BodySizeLimit
	}
	e.Use(middleware.BodyLimit(strconv.FormatInt(bodySizeLimit, 10)))

	if cfg != nil && cfg.MasterKey != "" {
		e.Use(AuthMiddleware(cfg.MasterKey, authSkipPaths))
	}

	e.GET("/health", handler.Health)
	if cfg != nil && cfg.MetricsEnabled {
		e.GET(metricsPath, echo.WrapHandler(promhttp.Handler()))
	}

	e.GET("/v1/models", handler.ListModels)
	e.POST("/v1/chat/completions", handler.ChatCompletion)
	e.POST("/v1/embeddings", handler.Embeddings)
	e.GET("/v1/budget/status", handler.BudgetStatus)
	e.GET("/v1/costs/analytics", handler.CostAnalytics)
	e.GET("/v1/routing/decisions", handler.RoutingDecisions)

	return &Server{
		echo:    e,
		handler: handler,
	}
}

// Start starts the HTTP server on the given address
func (s *Server) Start(addr string) error {
	err := s.echo.Start(addr)
	if err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

// Echo exposes the underlying router for tests.
func (s *Server) Echo() *echo.Echo {
	return s.echo
}
