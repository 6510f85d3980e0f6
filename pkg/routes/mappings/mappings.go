package mappings

import (
	"context"
	"errors"
	"net/http"

	"github.com/Gobusters/ectoinject"
	"github.com/labstack/echo/v4"

	maperr "github.com/Ramsey-B/petal/pkg/errors"
	"github.com/Ramsey-B/petal/pkg/utils"
)

// Resolver validates and evaluates mappings.
type Resolver interface {
	Validate(mapping any) error
	Transform(ctx context.Context, mapping map[string]any, data any) (map[string]any, error)
	TransformBatch(ctx context.Context, mapping map[string]any, data []any) ([]map[string]any, error)
}

type ValidateRequest struct {
	Mapping any `json:"mapping" validate:"required"`
}

type ValidateResponse struct {
	Valid  bool     `json:"valid"`
	Errors []string `json:"errors,omitempty"`
}

type TransformRequest struct {
	Mapping map[string]any `json:"mapping" validate:"required"`
	Data    any            `json:"data"`
}

type TransformResponse struct {
	Result any `json:"result"`
}

func Register(g *echo.Group) {
	g.POST("/mappings/validate", Validate)
	g.POST("/mappings/transform", Transform)
}

// Validate reports structural problems as a list rather than failing the request.
func Validate(c echo.Context) error {
	req, err := utils.BindRequest[ValidateRequest](c)
	if err != nil {
		return err
	}

	_, resolver, err := ectoinject.GetContext[Resolver](c.Request().Context())
	if err != nil {
		return err
	}

	err = resolver.Validate(req.Mapping)
	if err == nil {
		return c.JSON(http.StatusOK, ValidateResponse{Valid: true})
	}

	messages, ok := validationMessages(err)
	if !ok {
		return err
	}
	return c.JSON(http.StatusOK, ValidateResponse{Valid: false, Errors: messages})
}

// Transform resolves the mapping against data, or against each element when
// data is an array.
func Transform(c echo.Context) error {
	req, err := utils.BindRequest[TransformRequest](c)
	if err != nil {
		return err
	}

	ctx, resolver, err := ectoinject.GetContext[Resolver](c.Request().Context())
	if err != nil {
		return err
	}

	if items, ok := req.Data.([]any); ok {
		results, err := resolver.TransformBatch(ctx, req.Mapping, items)
		if err != nil {
			return err
		}
		return c.JSON(http.StatusOK, TransformResponse{Result: results})
	}

	result, err := resolver.Transform(ctx, req.Mapping, req.Data)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, TransformResponse{Result: result})
}

func validationMessages(err error) ([]string, bool) {
	var many *maperr.ValidationErrors
	if errors.As(err, &many) {
		messages := make([]string, len(many.Errors))
		for i, e := range many.Errors {
			messages[i] = e.Error()
		}
		return messages, true
	}

	var one *maperr.ValidationError
	if errors.As(err, &one) {
		return []string{one.Error()}, true
	}
	return nil, false
}
