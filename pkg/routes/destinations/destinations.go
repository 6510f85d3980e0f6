// Package destinations exposes destination delivery over HTTP.
package destinations

import (
	"context"
	"fmt"
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectoinject"
	"github.com/Gobusters/ectologger"
	"github.com/labstack/echo/v4"

	"github.com/Ramsey-B/petal/pkg/destination"
	"github.com/Ramsey-B/petal/pkg/kafka"
	"github.com/Ramsey-B/petal/pkg/utils"
)

type Lookup interface {
	Lookup(slug string) (*destination.Destination, bool)
}

// Deliverer runs an envelope through its destination.
type Deliverer interface {
	Process(ctx context.Context, envelope *kafka.EventEnvelope) (*kafka.DeliveryResult, error)
}

type EventRequest struct {
	Event    map[string]any          `json:"event" validate:"required"`
	Settings map[string]any          `json:"settings" validate:"required"`
	Auth     *destination.AuthTokens `json:"auth"`
	AuthKey  string                  `json:"auth_key"`
}

type BatchRequest struct {
	Events   []map[string]any        `json:"events" validate:"required,min=1"`
	Settings map[string]any          `json:"settings" validate:"required"`
	Auth     *destination.AuthTokens `json:"auth"`
	AuthKey  string                  `json:"auth_key"`
}

type DynamicFieldRequest struct {
	Settings map[string]any          `json:"settings"`
	Payload  map[string]any          `json:"payload"`
	Page     string                  `json:"page"`
	Auth     *destination.AuthTokens `json:"auth"`
}

func Register(g *echo.Group) {
	g.POST("/destinations/:destination/event", Event)
	g.POST("/destinations/:destination/batch", Batch)
	g.GET("/destinations/:destination/actions/:action/schema", Schema)
	g.POST("/destinations/:destination/actions/:action/dynamic-fields/:field", DynamicField)
}

func Event(c echo.Context) error {
	req, err := utils.BindRequest[EventRequest](c)
	if err != nil {
		return err
	}

	ctx, deliverer, err := ectoinject.GetContext[Deliverer](c.Request().Context())
	if err != nil {
		return err
	}

	result, err := deliverer.Process(ctx, &kafka.EventEnvelope{
		MessageID:   c.Response().Header().Get(echo.HeaderXRequestID),
		Destination: c.Param("destination"),
		Settings:    req.Settings,
		Auth:        req.Auth,
		AuthKey:     req.AuthKey,
		Event:       req.Event,
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, result)
}

func Batch(c echo.Context) error {
	req, err := utils.BindRequest[BatchRequest](c)
	if err != nil {
		return err
	}

	ctx, deliverer, err := ectoinject.GetContext[Deliverer](c.Request().Context())
	if err != nil {
		return err
	}

	result, err := deliverer.Process(ctx, &kafka.EventEnvelope{
		MessageID:   c.Response().Header().Get(echo.HeaderXRequestID),
		Destination: c.Param("destination"),
		Settings:    req.Settings,
		Auth:        req.Auth,
		AuthKey:     req.AuthKey,
		Events:      req.Events,
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, result)
}

func Schema(c echo.Context) error {
	_, action, err := findAction(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, action.Schema())
}

func DynamicField(c echo.Context) error {
	ctx, action, err := findAction(c)
	if err != nil {
		return err
	}

	var req DynamicFieldRequest
	if err := c.Bind(&req); err != nil {
		return httperror.WrapError(http.StatusBadRequest, err)
	}

	field := c.Param("field")
	response, err := action.ExecuteDynamicField(ctx, field, destination.DynamicFieldInput{
		Settings: req.Settings,
		Payload:  req.Payload,
		Page:     req.Page,
		Auth:     req.Auth,
	})
	if err != nil {
		ctx, logger, logErr := ectoinject.GetContext[ectologger.Logger](ctx)
		if logErr == nil {
			logger.WithContext(ctx).WithError(err).WithField("field", field).Warn("dynamic field lookup failed")
		}
		return err
	}
	return c.JSON(http.StatusOK, response)
}

func findAction(c echo.Context) (context.Context, *destination.Action, error) {
	ctx, lookup, err := ectoinject.GetContext[Lookup](c.Request().Context())
	if err != nil {
		return ctx, nil, err
	}

	slug := c.Param("destination")
	d, ok := lookup.Lookup(slug)
	if !ok {
		return ctx, nil, httperror.NewHTTPError(http.StatusNotFound, fmt.Sprintf("destination '%s' is not registered", slug))
	}

	key := c.Param("action")
	action, ok := d.Action(key)
	if !ok {
		return ctx, nil, httperror.NewHTTPError(http.StatusNotFound, fmt.Sprintf("'%s' is not a valid action", key))
	}
	return ctx, action, nil
}
