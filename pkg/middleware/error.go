package middleware

import (
	"errors"
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/labstack/echo/v4"

	maperr "github.com/Ramsey-B/petal/pkg/errors"
	"github.com/Ramsey-B/petal/pkg/tracing"
)

type ErrorResponse struct {
	Message   string         `json:"message"`
	RequestID string         `json:"request_id"`
	TraceID   string         `json:"trace_id"`
	Meta      map[string]any `json:"meta"`
}

// Error renders every error as an ErrorResponse.
func Error(logger ectologger.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		ctx := c.Request().Context()
		if c.Response().Committed {
			return
		}

		code, message, meta := describe(err)
		log := logger.WithContext(ctx).WithError(err)
		if code >= http.StatusInternalServerError {
			log.Error("api is returning an error")
		} else {
			log.Debug("api is returning an error")
		}

		_ = c.JSON(code, ErrorResponse{
			Message:   message,
			RequestID: GetRequestID(ctx),
			TraceID:   tracing.GetTraceID(ctx),
			Meta:      meta,
		})
	}
}

func describe(err error) (int, string, map[string]any) {
	meta := map[string]any{}

	var echoErr *echo.HTTPError
	if errors.As(err, &echoErr) {
		message, ok := echoErr.Message.(string)
		if !ok {
			message = http.StatusText(echoErr.Code)
		}
		return echoErr.Code, message, meta
	}

	var mappingErr *maperr.MappingError
	if errors.As(err, &mappingErr) {
		httpErr := mappingErr.ToHTTPError()
		return httpErr.Code, httpErr.Message, httpErr.Meta
	}

	var payloadErr *maperr.PayloadValidationError
	if errors.As(err, &payloadErr) {
		httpErr := payloadErr.ToHTTPError()
		return httpErr.Code, httpErr.Message, httpErr.Meta
	}

	var integrationErr *maperr.IntegrationError
	if errors.As(err, &integrationErr) {
		code := integrationErr.Status
		if code == 0 {
			code = http.StatusInternalServerError
		}
		if integrationErr.Code != "" {
			meta["code"] = integrationErr.Code
		}
		return code, integrationErr.Message, meta
	}

	var validationErrs *maperr.ValidationErrors
	var validationErr *maperr.ValidationError
	if errors.As(err, &validationErrs) || errors.As(err, &validationErr) {
		return http.StatusBadRequest, err.Error(), meta
	}

	var httpErr *httperror.HTTPError
	if errors.As(err, &httpErr) {
		if httpErr.Meta != nil {
			meta = httpErr.Meta
		}
		return httpErr.Code, httpErr.Message, meta
	}

	return http.StatusInternalServerError, "Internal Server Error", meta
}
