package httpapi

import (
	"time"

	"github.com/labstack/echo/v4"

	"github.com/signalsfoundry/congestion-twin/internal/logging"
)

const requestIDHeader = "X-Request-ID"

// requestLogger stamps every request with a request ID and emits one access
// log line per request with method, path, status and latency.
func (s *Server) requestLogger() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			ctx, reqID := logging.EnsureRequestID(req.Context())
			c.SetRequest(req.WithContext(ctx))
			c.Response().Header().Set(requestIDHeader, reqID)

			start := time.Now()
			err := next(c)
			if err != nil {
				c.Error(err)
			}

			s.log.Info(ctx, "http request",
				logging.String("method", req.Method),
				logging.String("path", req.URL.Path),
				logging.Int("status", c.Response().Status),
				logging.Float("latency_ms", float64(time.Since(start))/float64(time.Millisecond)),
			)
			return nil
		}
	}
}
