package httpapi

import (
	"errors"
	"math/rand"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/signalsfoundry/congestion-twin/core"
	"github.com/signalsfoundry/congestion-twin/internal/logging"
)

// Operator aggressiveness presets scaling the adaptive agent's steps.
var aggressivenessLevels = map[string]float64{
	"LOW":     0.2,
	"NORMAL":  1.0,
	"HIGH":    3.0,
	"EXTREME": 10.0,
}

type simControlRequest struct {
	Action string  `json:"action"`
	Speed  float64 `json:"speed"`
}

// handleSimControl drives the tick scheduler: start, stop, pause, resume,
// single-step, and time-scale changes.
func (s *Server) handleSimControl(c echo.Context) error {
	var req simControlRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	ctrl := s.sys.Controller
	switch strings.ToLower(req.Action) {
	case "start":
		ctrl.Start()
	case "stop":
		ctrl.Stop()
	case "pause":
		ctrl.Pause()
	case "resume":
		ctrl.Resume()
	case "step":
		if err := ctrl.Step(); err != nil {
			if errors.Is(err, core.ErrNotPaused) {
				return echo.NewHTTPError(http.StatusConflict, "step requires a paused simulation")
			}
			return err
		}
	case "speed":
		if req.Speed <= 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "speed must be positive")
		}
		applied := ctrl.SetSpeed(req.Speed)
		s.log.Info(c.Request().Context(), "simulation speed changed",
			logging.Float("requested", req.Speed), logging.Float("applied", applied))
	default:
		return echo.NewHTTPError(http.StatusBadRequest, "unknown action "+req.Action)
	}

	return c.JSON(http.StatusOK, ctrl.Status())
}

func (s *Server) handleAggressiveness(c echo.Context) error {
	level := strings.ToUpper(c.Param("level"))
	factor, ok := aggressivenessLevels[level]
	if !ok {
		return echo.NewHTTPError(http.StatusBadRequest, "unknown aggressiveness level "+level)
	}
	s.sys.Controller.SetAggressiveness(factor)
	return c.JSON(http.StatusOK, map[string]any{"level": level, "factor": factor})
}

type nudgeRequest struct {
	Amount float64 `json:"amount"`
}

func (s *Server) handleNudgeSensitivity(c echo.Context) error {
	var req nudgeRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	updated := s.sys.Policy.NudgeSensitivity(req.Amount)
	return c.JSON(http.StatusOK, map[string]any{"sensitivity": updated})
}

func (s *Server) handleAdminLinks(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{"links": s.sys.Twin.AllLinks()})
}

func (s *Server) handleListLiveLinks(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{"live_mode_links": s.sys.Adapter.LiveLinks()})
}

type liveLinksRequest struct {
	Mode    string   `json:"mode"`
	LinkIDs []string `json:"link_ids"`
}

// handleSetLiveLinks replaces the live-mode link set. mode "all" puts every
// link under live control; otherwise unknown IDs are dropped and reported
// back rather than rejected wholesale.
func (s *Server) handleSetLiveLinks(c echo.Context) error {
	var req liveLinksRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	var valid, unknown []string
	if strings.EqualFold(req.Mode, "all") {
		valid = s.sys.Twin.LinkIDs()
	} else {
		for _, id := range req.LinkIDs {
			if s.sys.Twin.HasLink(id) {
				valid = append(valid, id)
			} else {
				unknown = append(unknown, id)
			}
		}
	}
	s.sys.Adapter.SetLiveLinks(valid)

	return c.JSON(http.StatusOK, map[string]any{
		"live_mode_links": s.sys.Adapter.LiveLinks(),
		"unknown_links":   unknown,
	})
}

type accidentRequest struct {
	LinkID string `json:"link_id"`
}

// handleAccident injects an accident demand spike. Without a link_id a
// random link is picked, which is what the demo dashboard's panic button
// does.
func (s *Server) handleAccident(c echo.Context) error {
	var req accidentRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	linkID := req.LinkID
	if linkID == "" {
		ids := s.sys.Twin.LinkIDs()
		if len(ids) == 0 {
			return echo.NewHTTPError(http.StatusConflict, "no links in scenario")
		}
		linkID = ids[rand.Intn(len(ids))]
	} else if !s.sys.Twin.HasLink(linkID) {
		return echo.NewHTTPError(http.StatusNotFound, "unknown link "+linkID)
	}

	s.sys.Generator.TriggerAccident(linkID)
	s.log.Warn(c.Request().Context(), "accident injected", logging.String("link", linkID))
	return c.JSON(http.StatusOK, map[string]any{"link_id": linkID, "status": "accident triggered"})
}

func (s *Server) handleWeather(c echo.Context) error {
	condition := strings.ToUpper(c.Param("condition"))
	if err := s.sys.Generator.SetWeather(condition); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]any{
		"weather":           condition,
		"capacity_modifier": s.sys.Generator.CapacityModifier(),
	})
}

func (s *Server) handleEvent(c echo.Context) error {
	name := c.Param("name")
	s.sys.Generator.TriggerEvent(name)
	return c.JSON(http.StatusOK, map[string]any{
		"event":         name,
		"active_events": s.sys.Generator.ActiveEvents(),
	})
}
