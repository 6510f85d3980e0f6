package middleware

import (
	"context"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

type contextKey string

const (
	requestIDKey contextKey = "request_id"
	subjectKey   contextKey = "subject"
)

func GetRequestID(ctx context.Context) string {
	value, _ := ctx.Value(requestIDKey).(string)
	return value
}

// GetSubject returns the authenticated token subject, or "".
func GetSubject(ctx context.Context) string {
	value, _ := ctx.Value(subjectKey).(string)
	return value
}

// Context stores the request ID (from X-Request-ID or generated) on the
// request context and echoes it back in the response.
func Context() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()

			requestID := req.Header.Get(echo.HeaderXRequestID)
			if requestID == "" {
				requestID = uuid.NewString()
			}
			c.Response().Header().Set(echo.HeaderXRequestID, requestID)

			ctx := context.WithValue(req.Context(), requestIDKey, requestID)
			c.SetRequest(req.WithContext(ctx))
			return next(c)
		}
	}
}
