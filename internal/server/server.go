package server

import (
	"fmt"
	"log"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/intelbrief/intelbrief/config"
	"github.com/intelbrief/intelbrief/internal/pipeline"
	"github.com/intelbrief/intelbrief/internal/scheduler"
	"github.com/intelbrief/intelbrief/internal/source"
	"github.com/intelbrief/intelbrief/internal/store"
	"github.com/intelbrief/intelbrief/internal/telemetry"
	"github.com/intelbrief/intelbrief/models"
)

// Server is the operator HTTP surface. It owns no domain logic: every
// handler delegates to the collector, the pipeline, the ledger or the
// store.
type Server struct {
	cfg       config.ServerConfig
	store     *store.Store
	collector *source.Collector
	orch      *pipeline.Orchestrator
	ledger    *telemetry.Ledger
	sched     *scheduler.Scheduler
	circuits  func() map[models.AgentType]string
	logger    *log.Logger
}

func New(cfg config.ServerConfig, st *store.Store, collector *source.Collector, orch *pipeline.Orchestrator, ledger *telemetry.Ledger, sched *scheduler.Scheduler, circuits func() map[models.AgentType]string, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.New(log.Writer(), "[HTTP] ", log.LstdFlags)
	}
	return &Server{
		cfg:       cfg,
		store:     st,
		collector: collector,
		orch:      orch,
		ledger:    ledger,
		sched:     sched,
		circuits:  circuits,
		logger:    logger,
	}
}

// Echo builds the configured echo instance with all routes registered.
func (s *Server) Echo() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
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
		s.logger.Printf("%d %s %s from %s: %v", code, req.Method, req.URL.Path, c.RealIP(), err)
		if !c.Response().Committed {
			_ = c.JSON(code, map[string]interface{}{"error": msg})
		}
	}
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{"GET", "POST", "OPTIONS"},
		AllowHeaders: []string{"Content-Type"},
	}))

	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	api := e.Group("/api")
	api.POST("/collect/:source", s.handleCollect)
	api.POST("/collect", s.handleCollectAll)
	api.POST("/process", s.handleProcess)
	api.GET("/performance", s.handlePerformance)
	api.GET("/sources/health", s.handleSourceHealth)
	api.GET("/alerts", s.handleAlerts)
	api.GET("/stats", s.handleStats)

	return e
}

// Run blocks serving HTTP on the configured address.
func (s *Server) Run() error {
	addr := s.cfg.Address
	if addr == "" {
		addr = ":10010"
	}
	s.logger.Printf("listening on %s", addr)
	return s.Echo().Start(addr)
}
