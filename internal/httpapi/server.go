package httpapi

import (
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/signalsfoundry/congestion-twin/core"
	"github.com/signalsfoundry/congestion-twin/internal/logging"
	"github.com/signalsfoundry/congestion-twin/internal/observability"
)

// Server exposes the twin over HTTP: read-only dashboard surfaces, operator
// controls for the tick scheduler and scenario events, and the quote/reserve/
// confirm booking flow.
type Server struct {
	sys       *core.System
	log       logging.Logger
	metrics   *observability.TwinCollector
	startedAt time.Time
}

// NewServer builds the HTTP surface over an assembled system. metrics may be
// nil; the /metrics endpoint is then omitted.
func NewServer(sys *core.System, log logging.Logger, metrics *observability.TwinCollector) *Server {
	if log == nil {
		log = logging.Noop()
	}
	return &Server{sys: sys, log: log, metrics: metrics, startedAt: time.Now()}
}

// Router builds the echo engine with all routes and middleware attached.
func (s *Server) Router() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(s.requestLogger())

	e.GET("/healthz", s.handleHealth)
	e.GET("/status", s.handleStatus)
	e.GET("/live", s.handleLive)
	e.GET("/network/status", s.handleNetworkStatus)
	e.GET("/stats/history", s.handleStatsHistory)

	sim := e.Group("/sim")
	sim.POST("/control", s.handleSimControl)

	e.POST("/simulate/accident", s.handleAccident)

	admin := e.Group("/admin")
	admin.GET("/links", s.handleAdminLinks)
	admin.GET("/live-links", s.handleListLiveLinks)
	admin.POST("/live-links", s.handleSetLiveLinks)
	admin.POST("/agent/aggressiveness/:level", s.handleAggressiveness)
	admin.POST("/policy/sensitivity/nudge", s.handleNudgeSensitivity)
	admin.POST("/weather/:condition", s.handleWeather)
	admin.POST("/event/:name", s.handleEvent)
	admin.GET("/telemetry", s.handleTelemetry)

	api := e.Group("/api")
	api.GET("/users", s.handleUsers)
	api.GET("/users/:id", s.handleUser)
	api.POST("/quote", s.handleQuote)
	api.POST("/reserve", s.handleReserve)
	api.POST("/confirm", s.handleConfirm)
	api.POST("/ingest/speed", s.handleIngestSpeed)

	if s.metrics != nil {
		e.GET("/metrics", echo.WrapHandler(s.metrics.Handler()))
	}

	return e
}
