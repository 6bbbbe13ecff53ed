package httpapi

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/signalsfoundry/congestion-twin/core"
	"github.com/signalsfoundry/congestion-twin/internal/logging"
)

func (s *Server) handleUsers(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{"users": s.sys.Twin.AllUsers()})
}

func (s *Server) handleUser(c echo.Context) error {
	user, ok := s.sys.Twin.GetUser(c.Param("id"))
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "unknown user "+c.Param("id"))
	}
	return c.JSON(http.StatusOK, user)
}

type quoteRequest struct {
	UserID string `json:"user_id"`
	LinkID string `json:"link_id"`
}

func (s *Server) handleQuote(c echo.Context) error {
	var req quoteRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	quote, err := s.sys.Ledger.CreateQuote(c.Request().Context(), req.UserID, req.LinkID)
	if err != nil {
		return bookingError(err)
	}
	return c.JSON(http.StatusOK, quote)
}

type reserveRequest struct {
	QuoteID string `json:"quote_id"`
}

func (s *Server) handleReserve(c echo.Context) error {
	var req reserveRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	res, err := s.sys.Ledger.Reserve(c.Request().Context(), req.QuoteID)
	if err != nil {
		return bookingError(err)
	}
	return c.JSON(http.StatusOK, res)
}

type confirmRequest struct {
	ReservationID string `json:"reservation_id"`
}

func (s *Server) handleConfirm(c echo.Context) error {
	var req confirmRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	receipt, err := s.sys.Ledger.Confirm(c.Request().Context(), req.ReservationID)
	if err != nil {
		return bookingError(err)
	}
	if s.metrics != nil && receipt.ReceiptAmount > 0 {
		s.metrics.RecordBooking(receipt.ReceiptAmount)
	}
	s.log.Info(c.Request().Context(), "reservation confirmed",
		logging.String("reservation", req.ReservationID),
		logging.Int("amount", receipt.ReceiptAmount))
	return c.JSON(http.StatusOK, receipt)
}

// bookingError maps ledger sentinels onto HTTP statuses: missing entities are
// 404, anything the client could have avoided (expired holds, not enough
// balance) is 400.
func bookingError(err error) error {
	switch {
	case core.IsNotFound(err):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case core.IsExpired(err), errors.Is(err, core.ErrInsufficientFunds):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	default:
		return err
	}
}
