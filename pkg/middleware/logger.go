package middleware

import (
	"strconv"
	"strings"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/labstack/echo/v4"

	"github.com/Ramsey-B/petal/pkg/metrics"
)

// Logger records one log line and one metric sample per request. Errors are
// rendered by the echo error handler first so the status is the one sent.
// Health check routes log at debug.
func Logger(logger ectologger.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			started := time.Now()
			if err := next(c); err != nil {
				c.Error(err)
			}
			took := time.Since(started)

			req, res := c.Request(), c.Response()
			route := c.Path()
			metrics.RecordAPIRequest(req.Method, route, strconv.Itoa(res.Status), took.Seconds())

			entry := logger.WithContext(req.Context()).WithFields(map[string]any{
				"request_id":  GetRequestID(req.Context()),
				"subject":     GetSubject(req.Context()),
				"method":      req.Method,
				"route":       route,
				"path":        req.URL.Path,
				"status":      res.Status,
				"duration_ms": took.Milliseconds(),
				"bytes_out":   res.Size,
				"client_ip":   c.RealIP(),
			})
			if isProbe(route) {
				entry.Debug("handled request")
			} else {
				entry.Info("handled request")
			}
			return nil
		}
	}
}

func isProbe(route string) bool {
	return route == "/metrics" || strings.HasPrefix(route, "/health")
}
