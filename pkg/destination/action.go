package destination

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/Gobusters/ectolinq"
	"github.com/Gobusters/ectologger"
	"go.opentelemetry.io/otel/attribute"

	maperr "github.com/Ramsey-B/petal/pkg/errors"
	"github.com/Ramsey-B/petal/pkg/fields"
	"github.com/Ramsey-B/petal/pkg/metrics"
	"github.com/Ramsey-B/petal/pkg/request"
	"github.com/Ramsey-B/petal/pkg/schema"
	"github.com/Ramsey-B/petal/pkg/tracing"
)

// DynamicAuthSettingsKey is carried through validation untouched.
const DynamicAuthSettingsKey = "dynamicAuthSettings"

// Action pairs an ActionDefinition with its compiled payload schema.
type Action struct {
	destinationName string
	definition      ActionDefinition
	schema          fields.JSONSchema
	schemaKey       string
	extendRequest   ExtendRequestFunc
	deps            *dependencies
}

// NewAction compiles the action's field schema. Invalid field definitions,
// such as an unsupported condition operator, fail here.
func NewAction(destinationName string, definition ActionDefinition, extendRequest ExtendRequestFunc, opts ...Option) (*Action, error) {
	return newAction(destinationName, definition, extendRequest, newDependencies(opts))
}

func newAction(destinationName string, definition ActionDefinition, extendRequest ExtendRequestFunc, deps *dependencies) (*Action, error) {
	a := &Action{
		destinationName: destinationName,
		definition:      definition,
		schemaKey:       destinationName + ":" + definition.Title,
		extendRequest:   extendRequest,
		deps:            deps,
	}

	if len(definition.Fields) > 0 {
		if err := definition.Fields.Validate(); err != nil {
			return nil, maperr.WrapMappingError(err).AddAction(definition.Title)
		}
		compiled, err := fields.ToJSONSchema(definition.Fields)
		if err != nil {
			return nil, maperr.WrapMappingError(err).AddAction(definition.Title)
		}
		a.schema = compiled
	}

	return a, nil
}

func (a *Action) Title() string {
	return a.definition.Title
}

func (a *Action) Definition() ActionDefinition {
	return a.definition
}

// Schema returns the compiled payload schema, nil when the action has no fields.
func (a *Action) Schema() fields.JSONSchema {
	return a.schema
}

func (a *Action) HasBatchSupport() bool {
	return a.definition.PerformBatch != nil
}

func (a *Action) HasDynamicField(key string) bool {
	_, ok := a.definition.DynamicFields[key]
	return ok
}

// Execute resolves the mapping, validates the payload and calls perform.
func (a *Action) Execute(ctx context.Context, in ExecuteInput) ([]Result, error) {
	ctx, span := tracing.StartSpan(ctx, "Action.Execute",
		attribute.String("destination", a.destinationName),
		attribute.String("action", a.definition.Title))
	defer span.End()

	logger := a.logger(ctx, in.Logger)
	results := []Result{}

	payload, err := a.deps.resolver.Transform(ctx, in.Mapping, in.Data)
	if err != nil {
		err = a.annotate(err)
		tracing.RecordError(span, err)
		return nil, err
	}
	results = append(results, Result{Output: OutputMappingsResolved})

	if a.schema != nil {
		if _, err := a.deps.validator.Validate(ctx, payload, a.schema, schema.ValidateOptions{
			SchemaKey: a.schemaKey,
			Exempt:    []string{DynamicAuthSettingsKey},
		}); err != nil {
			logger.WithError(err).Debug("payload failed validation")
			tracing.RecordError(span, err)
			return nil, err
		}
		results = append(results, Result{Output: OutputPayloadValidated})
	}

	if a.definition.Perform == nil {
		return nil, maperr.NewIntegrationError(fmt.Sprintf("action '%s' does not implement perform", a.definition.Title), "NotImplemented", http.StatusNotImplemented)
	}

	client := a.requestClient(in.Settings, in.Auth, payload)
	start := time.Now()
	output, err := a.definition.Perform(ctx, client, PerformInput{
		ExecutionContext: in.withLogger(logger),
		Payload:          payload,
		Settings:         in.Settings,
		Auth:             in.Auth,
	})
	metrics.RecordActionExecution(a.destinationName, a.definition.Title, "single", outcome(err), time.Since(start).Seconds())
	if err != nil {
		tracing.RecordError(span, err)
		return nil, err
	}

	logger.Debug("action executed")
	return append(results, Result{Output: OutputActionExecuted, Data: output}), nil
}

// ExecuteBatch resolves and validates every event. Invalid payloads become
// error entries at their original index and are withheld from performBatch,
// which runs whenever at least one payload is valid.
func (a *Action) ExecuteBatch(ctx context.Context, in BatchInput) (*MultiStatusResponse, error) {
	ctx, span := tracing.StartSpan(ctx, "Action.ExecuteBatch",
		attribute.String("destination", a.destinationName),
		attribute.String("action", a.definition.Title),
		attribute.Int("batch_size", len(in.Data)))
	defer span.End()

	if !a.HasBatchSupport() {
		return nil, maperr.NewIntegrationError("This action does not support batched requests.", "NotImplemented", http.StatusNotImplemented)
	}

	logger := a.logger(ctx, in.Logger)
	response := NewMultiStatusResponse()

	payloads, err := a.deps.resolver.TransformBatch(ctx, in.Mapping, ectolinq.Map(in.Data, func(event map[string]any) any {
		return event
	}))
	if err != nil {
		err = a.annotate(err)
		tracing.RecordError(span, err)
		return nil, err
	}

	// validIndexes[j] is the input position of the j-th payload sent
	validIndexes := []int{}
	valid := []map[string]any{}
	for i, payload := range payloads {
		if a.schema != nil {
			if _, err := a.deps.validator.Validate(ctx, payload, a.schema, schema.ValidateOptions{
				SchemaKey: a.schemaKey,
				Exempt:    []string{DynamicAuthSettingsKey},
			}); err != nil {
				entry := ErrorEntryFromError(err)
				entry.Sent = payload
				response.SetErrorResponseAtIndex(i, entry)
				continue
			}
		}
		validIndexes = append(validIndexes, i)
		valid = append(valid, payload)
	}

	metrics.RecordBatchItems(a.destinationName, a.definition.Title, "invalid", len(payloads)-len(valid))
	if len(valid) == 0 {
		logger.WithField("batch_size", len(payloads)).Debug("no valid payloads in batch")
		return response, nil
	}

	client := a.requestClient(in.Settings, in.Auth, valid)
	start := time.Now()
	output, err := a.definition.PerformBatch(ctx, client, PerformBatchInput{
		ExecutionContext: in.withLogger(logger),
		Payload:          valid,
		Settings:         in.Settings,
		Auth:             in.Auth,
	})
	metrics.RecordActionExecution(a.destinationName, a.definition.Title, "batch", outcome(err), time.Since(start).Seconds())
	if err != nil {
		tracing.RecordError(span, err)
		return nil, err
	}

	if partner, ok := output.(*MultiStatusResponse); ok {
		for j, index := range validIndexes {
			entry := partner.GetResponseAtIndex(j)
			switch {
			case entry == nil:
				response.SetErrorResponseAtIndex(index, ErrorEntry(http.StatusInternalServerError, maperr.ErrorTypeUnknown, "performBatch returned no response for this payload"))
			case entry.IsError():
				response.SetErrorResponseAtIndex(index, entry)
			default:
				response.SetSuccessResponseAtIndex(index, entry)
			}
		}
	} else {
		body := responseBody(output)
		for j, index := range validIndexes {
			response.SetSuccessResponseAtIndex(index, SuccessEntry(http.StatusOK, body, valid[j]))
		}
	}

	metrics.RecordBatchItems(a.destinationName, a.definition.Title, "sent", len(valid))
	return response, nil
}

// ExecuteDynamicField looks up choices for fieldPath. Unknown paths yield a
// 404 coded response rather than an error.
func (a *Action) ExecuteDynamicField(ctx context.Context, fieldPath string, in DynamicFieldInput) (DynamicFieldResponse, error) {
	ctx, span := tracing.StartSpan(ctx, "Action.ExecuteDynamicField",
		attribute.String("action", a.definition.Title),
		attribute.String("field", fieldPath))
	defer span.End()

	handler, fieldCtx := a.definition.DynamicFields.lookup(fieldPath)
	if handler == nil {
		return notFoundDynamicField(fieldPath), nil
	}
	in.Context = fieldCtx

	response, err := handler(ctx, a.requestClient(in.Settings, in.Auth, in.Payload), in)
	if err != nil {
		tracing.RecordError(span, err)
		return DynamicFieldResponse{}, err
	}
	if response.Choices == nil {
		response.Choices = []fields.Choice{}
	}
	return response, nil
}

func (a *Action) requestClient(settings map[string]any, auth *AuthTokens, payload any) *request.Client {
	if a.extendRequest == nil {
		return a.deps.client
	}
	return a.deps.client.Extend(a.extendRequest(ExtendRequestInput{
		Settings: settings,
		Auth:     auth,
		Payload:  payload,
	}))
}

func (a *Action) logger(ctx context.Context, override ectologger.Logger) ectologger.Logger {
	logger := a.deps.logger
	if override != nil {
		logger = override
	}
	return logger.WithContext(ctx).WithFields(map[string]any{
		"destination": a.destinationName,
		"action":      a.definition.Title,
	})
}

func (a *Action) annotate(err error) error {
	if maperr.IsMappingError(err) {
		return maperr.WrapMappingError(err).AddAction(a.definition.Title)
	}
	return err
}

func (c ExecutionContext) withLogger(logger ectologger.Logger) ExecutionContext {
	c.Logger = logger
	return c
}

func responseBody(output any) any {
	if resp, ok := output.(*request.Response); ok {
		if resp.Data != nil {
			return resp.Data
		}
		return resp.Content()
	}
	return output
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}
