package httpapi

import (
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/signalsfoundry/congestion-twin/core"
)

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(c echo.Context) error {
	now := s.sys.Clock.Now()
	return c.JSON(http.StatusOK, map[string]any{
		"service":      "congestion-twin",
		"status":       "Online",
		"virtual_time": s.sys.Generator.VirtualTimeOfDay(now),
		"weather":      s.sys.Generator.Weather(),
		"sim":          s.sys.Controller.Status(),
		"links":        s.sys.Twin.LinkCount(),
		"avg_ci":       s.sys.Twin.AvgCI(),
		"total_flow":   s.sys.Twin.TotalFlow(),
		"uptime_sec":   time.Since(s.startedAt).Seconds(),
	})
}

// handleLive serves the full dashboard frame: weather-adjusted link
// snapshots plus scheduler, policy and event state, all stamped with the
// virtual clock.
func (s *Server) handleLive(c echo.Context) error {
	now := s.sys.Clock.Now()
	ts := nowSeconds(now)
	mod := s.sys.Generator.CapacityModifier()

	links := s.sys.Twin.AllLinks()
	snaps := make([]core.LinkSnapshot, 0, len(links))
	for _, link := range links {
		snaps = append(snaps, core.BuildLinkSnapshot(link, mod, s.sys.Adapter.IsLive(link.ID), ts))
	}

	return c.JSON(http.StatusOK, map[string]any{
		"timestamp":    ts,
		"virtual_time": s.sys.Generator.VirtualTimeOfDay(now),
		"weather": map[string]any{
			"condition":         s.sys.Generator.Weather(),
			"capacity_modifier": mod,
		},
		"sim": s.sys.Controller.Status(),
		"policy": map[string]any{
			"target_ci":   s.sys.Policy.TargetCI(),
			"sensitivity": s.sys.Policy.Sensitivity(),
		},
		"active_events":   s.sys.Generator.ActiveEvents(),
		"live_mode_links": s.sys.Adapter.LiveLinks(),
		"links":           snaps,
	})
}

func (s *Server) handleNetworkStatus(c echo.Context) error {
	ts := nowSeconds(s.sys.Clock.Now())
	mod := s.sys.Generator.CapacityModifier()

	type row struct {
		ID     string  `json:"id"`
		Name   string  `json:"name"`
		Flow   int     `json:"flow"`
		CI     float64 `json:"ci"`
		Price  int     `json:"price"`
		Status string  `json:"status"`
	}
	links := s.sys.Twin.AllLinks()
	rows := make([]row, 0, len(links))
	for _, link := range links {
		snap := core.BuildLinkSnapshot(link, mod, s.sys.Adapter.IsLive(link.ID), ts)
		rows = append(rows, row{
			ID:     snap.ID,
			Name:   snap.Name,
			Flow:   snap.Flow,
			CI:     snap.CI,
			Price:  snap.Price,
			Status: snap.Status,
		})
	}
	return c.JSON(http.StatusOK, map[string]any{"timestamp": ts, "links": rows})
}

func (s *Server) handleStatsHistory(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{"samples": s.sys.Stats.History()})
}

func (s *Server) handleTelemetry(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{"events": s.sys.Twin.Telemetry()})
}

type ingestSpeedRequest struct {
	LinkID    string  `json:"link_id"`
	SpeedKmh  float64 `json:"speed_kmh"`
	Source    string  `json:"source"`
	Timestamp float64 `json:"timestamp"`
}

// handleIngestSpeed feeds a manual speed reading through the fusion adapter.
// The default source marks it as an external live reading, so it is subject
// to the same arbitration as poller traffic.
func (s *Server) handleIngestSpeed(c echo.Context) error {
	var req ingestSpeedRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if strings.TrimSpace(req.LinkID) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "link_id is required")
	}
	if !s.sys.Twin.HasLink(req.LinkID) {
		return echo.NewHTTPError(http.StatusNotFound, "unknown link "+req.LinkID)
	}
	source := req.Source
	if source == "" {
		source = "api-manual"
	}

	// The push only lands the translated flow on the link. Smoothing,
	// forecasting and pricing stay on the tick schedule.
	accepted := s.sys.Adapter.Ingest(core.Observation{
		Source:    source,
		LinkID:    req.LinkID,
		Timestamp: req.Timestamp,
		Metric:    core.MetricSpeedKmh,
		Value:     req.SpeedKmh,
	})

	link, _ := s.sys.Twin.GetLink(req.LinkID)
	return c.JSON(http.StatusOK, map[string]any{
		"accepted": accepted,
		"source":   source,
		"link":     link,
	})
}

func nowSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}
