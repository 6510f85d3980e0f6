package utils

import (
	"errors"
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/labstack/echo/v4"
)

// BindRequest decodes the request into T and validates it. Validation failures
// are a 400 whose meta lists every violation.
func BindRequest[T any](c echo.Context) (T, error) {
	var v T
	if err := c.Bind(&v); err != nil {
		return v, httperror.WrapError(http.StatusBadRequest, err)
	}

	v, err := Validate(v)
	var list Violations
	if errors.As(err, &list) {
		return v, httperror.NewHTTPError(http.StatusBadRequest, list.Error()).AddMetaValue("errors", []string(list))
	}
	if err != nil {
		return v, httperror.WrapError(http.StatusBadRequest, err)
	}
	return v, nil
}
