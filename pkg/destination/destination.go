// Package destination runs partner actions for analytics events.
//
// # Overview
//
// A Destination owns a set of Actions and the authentication configuration
// they share. For each event it reads the subscriptions from the settings,
// matches the event against every subscription query and executes the
// subscribed action:
//
//	mapping -> payload -> schema validation -> perform
//
// Batches follow the same route through performBatch. Events that do not
// match or fail validation are reported in a MultiStatusResponse at their
// original position and are never sent.
//
// # OAuth
//
// Destinations using the oauth2 scheme refresh their access token when an
// execution fails with a 401. The refresh happens once, the execution is
// retried once with the new token, and a second failure is returned as is.
package destination

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/Gobusters/ectolinq"
	"go.opentelemetry.io/otel/attribute"

	maperr "github.com/Ramsey-B/petal/pkg/errors"
	"github.com/Ramsey-B/petal/pkg/fields"
	"github.com/Ramsey-B/petal/pkg/metrics"
	"github.com/Ramsey-B/petal/pkg/request"
	"github.com/Ramsey-B/petal/pkg/schema"
	"github.com/Ramsey-B/petal/pkg/tracing"
	"github.com/Ramsey-B/petal/pkg/utils"
)

const notSubscribedMessage = "Payload is either invalid or does not match the subscription"

// Destination is a DestinationDefinition with constructed actions.
type Destination struct {
	definition     DestinationDefinition
	actions        map[string]*Action
	settingsSchema fields.JSONSchema
	deps           *dependencies

	responsesMu sync.Mutex
	responses   []*request.Response
}

// NewDestination builds every action and compiles the settings schema.
func NewDestination(definition DestinationDefinition, opts ...Option) (*Destination, error) {
	deps := newDependencies(opts)

	d := &Destination{
		definition: definition,
		actions:    make(map[string]*Action, len(definition.Actions)),
	}

	// the destination owns its client so recorded responses stay its own
	client := deps.client.Extend(request.Options{})
	client.OnResponse(func(_ context.Context, resp *request.Response) {
		d.responsesMu.Lock()
		d.responses = append(d.responses, resp)
		d.responsesMu.Unlock()
	})
	scoped := *deps
	scoped.client = client
	d.deps = &scoped

	for key, actionDef := range definition.Actions {
		action, err := newAction(definition.Name, actionDef, definition.ExtendRequest, d.deps)
		if err != nil {
			return nil, err
		}
		d.actions[key] = action
	}

	if definition.Authentication != nil && len(definition.Authentication.Fields) > 0 {
		settingsSchema, err := fields.ToJSONSchema(definition.Authentication.Fields, fields.WithAdditionalProperties(true))
		if err != nil {
			return nil, err
		}
		d.settingsSchema = settingsSchema
	}

	return d, nil
}

func (d *Destination) Name() string {
	return d.definition.Name
}

func (d *Destination) Definition() DestinationDefinition {
	return d.definition
}

func (d *Destination) Action(key string) (*Action, bool) {
	action, ok := d.actions[key]
	return action, ok
}

// SettingsSchema returns the compiled authentication fields schema.
func (d *Destination) SettingsSchema() fields.JSONSchema {
	return d.settingsSchema
}

// Responses returns every HTTP response recorded since the last ClearResponses.
func (d *Destination) Responses() []*request.Response {
	d.responsesMu.Lock()
	defer d.responsesMu.Unlock()
	return append([]*request.Response{}, d.responses...)
}

func (d *Destination) ClearResponses() {
	d.responsesMu.Lock()
	d.responses = nil
	d.responsesMu.Unlock()
}

// OnEvent runs every subscription in settings against event. Subscriptions run
// concurrently. Results are returned in declaration order and the first
// execution error aborts the call.
func (d *Destination) OnEvent(ctx context.Context, event map[string]any, settings map[string]any, auth *AuthTokens, opts EventOptions) ([]Result, error) {
	ctx, span := tracing.StartSpan(ctx, "Destination.OnEvent", attribute.String("destination", d.definition.Name))
	defer span.End()

	subscriptions, err := d.subscriptions(settings)
	if err != nil {
		tracing.RecordError(span, err)
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	results := make([][]Result, len(subscriptions))
	errs := make([]error, len(subscriptions))
	var wg sync.WaitGroup
	for i, sub := range subscriptions {
		wg.Add(1)
		go func(i int, sub Subscription) {
			defer wg.Done()
			results[i], errs[i] = d.onSubscription(ctx, sub, event, settings, auth, opts)
			if errs[i] != nil {
				cancel()
			}
		}(i, sub)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			tracing.RecordError(span, err)
			return nil, err
		}
	}

	flattened := []Result{}
	for _, r := range results {
		flattened = append(flattened, r...)
	}
	return flattened, nil
}

func (d *Destination) onSubscription(ctx context.Context, sub Subscription, event, settings map[string]any, auth *AuthTokens, opts EventOptions) ([]Result, error) {
	predicate, result := d.parseSubscription(sub)
	if result != nil {
		return []Result{*result}, nil
	}

	if !predicate.Match(event) {
		metrics.RecordSubscriptionOutcome(d.definition.Name, "not_subscribed")
		return []Result{{Output: OutputNotSubscribed}}, nil
	}
	metrics.RecordSubscriptionOutcome(d.definition.Name, "subscribed")

	action, err := d.action(sub.PartnerAction)
	if err != nil {
		return nil, err
	}

	var results []Result
	err = d.withOAuthRetry(ctx, settings, auth, opts, func(auth *AuthTokens) error {
		var execErr error
		results, execErr = action.Execute(ctx, ExecuteInput{
			ExecutionContext: opts.ExecutionContext,
			Mapping:          mappingOrEmpty(sub.Mapping),
			Data:             event,
			Settings:         settings,
			Auth:             auth,
		})
		return execErr
	})
	return results, err
}

// OnBatch matches each event against each subscription and sends the matching
// events through one ExecuteBatch per subscription. Every result carries one
// multistatus entry per input event.
func (d *Destination) OnBatch(ctx context.Context, events []map[string]any, settings map[string]any, auth *AuthTokens, opts EventOptions) ([]Result, error) {
	ctx, span := tracing.StartSpan(ctx, "Destination.OnBatch",
		attribute.String("destination", d.definition.Name),
		attribute.Int("batch_size", len(events)))
	defer span.End()

	subscriptions, err := d.subscriptions(settings)
	if err != nil {
		tracing.RecordError(span, err)
		return nil, err
	}

	results := []Result{}
	for _, sub := range subscriptions {
		result, err := d.onBatchSubscription(ctx, sub, events, settings, auth, opts)
		if err != nil {
			tracing.RecordError(span, err)
			return nil, err
		}
		results = append(results, result)
	}
	return results, nil
}

func (d *Destination) onBatchSubscription(ctx context.Context, sub Subscription, events []map[string]any, settings map[string]any, auth *AuthTokens, opts EventOptions) (Result, error) {
	predicate, result := d.parseSubscription(sub)
	if result != nil {
		return *result, nil
	}

	response := NewMultiStatusResponse()
	subscribedIndexes := []int{}
	subscribed := []map[string]any{}
	for i, event := range events {
		if predicate.Match(event) {
			subscribedIndexes = append(subscribedIndexes, i)
			subscribed = append(subscribed, event)
			continue
		}
		response.SetErrorResponseAtIndex(i, ErrorEntry(http.StatusBadRequest, maperr.ErrorTypeNotSubscribed, notSubscribedMessage))
	}
	metrics.RecordBatchItems(d.definition.Name, sub.PartnerAction, "not_subscribed", len(events)-len(subscribed))

	if len(subscribed) == 0 {
		return Result{MultiStatus: response.GetAllResponses()}, nil
	}

	action, err := d.action(sub.PartnerAction)
	if err != nil {
		return Result{}, err
	}

	var batchResponse *MultiStatusResponse
	err = d.withOAuthRetry(ctx, settings, auth, opts, func(auth *AuthTokens) error {
		var execErr error
		batchResponse, execErr = action.ExecuteBatch(ctx, BatchInput{
			ExecutionContext: opts.ExecutionContext,
			Mapping:          mappingOrEmpty(sub.Mapping),
			Data:             subscribed,
			Settings:         settings,
			Auth:             auth,
		})
		return execErr
	})
	if err != nil {
		return Result{}, err
	}

	for j, index := range subscribedIndexes {
		entry := batchResponse.GetResponseAtIndex(j)
		if entry == nil {
			continue
		}
		if entry.IsError() {
			response.SetErrorResponseAtIndex(index, entry)
		} else {
			response.SetSuccessResponseAtIndex(index, entry)
		}
	}

	return Result{MultiStatus: response.GetAllResponses()}, nil
}

// OnDelete forwards a deletion request to the destination.
func (d *Destination) OnDelete(ctx context.Context, event map[string]any, settings map[string]any, auth *AuthTokens, opts EventOptions) (any, error) {
	ctx, span := tracing.StartSpan(ctx, "Destination.OnDelete", attribute.String("destination", d.definition.Name))
	defer span.End()

	if d.definition.OnDelete == nil {
		return nil, maperr.NewIntegrationError("This destination does not support deletion.", "NotImplemented", http.StatusNotImplemented)
	}

	var output any
	err := d.withOAuthRetry(ctx, settings, auth, opts, func(auth *AuthTokens) error {
		client := d.deps.client
		if d.definition.ExtendRequest != nil {
			client = client.Extend(d.definition.ExtendRequest(ExtendRequestInput{Settings: settings, Auth: auth, Payload: event}))
		}
		var execErr error
		output, execErr = d.definition.OnDelete(ctx, client, DeleteInput{
			ExecutionContext: opts.ExecutionContext,
			Payload:          event,
			Settings:         settings,
			Auth:             auth,
		})
		return execErr
	})
	if err != nil {
		tracing.RecordError(span, err)
	}
	return output, err
}

// TestAuthentication validates settings against the authentication fields and
// runs the destination's credential check.
func (d *Destination) TestAuthentication(ctx context.Context, settings map[string]any, auth *AuthTokens) error {
	ctx, span := tracing.StartSpan(ctx, "Destination.TestAuthentication", attribute.String("destination", d.definition.Name))
	defer span.End()

	if d.settingsSchema != nil {
		// validation coerces in place, so it works on a copy of the caller's settings
		copied, err := utils.ToJSONValue(settings)
		if err != nil {
			return maperr.NewIntegrationError("settings are not valid JSON: "+err.Error(), "INVALID_SETTINGS", http.StatusBadRequest)
		}
		settings, _ = copied.(map[string]any)
		if settings == nil {
			settings = map[string]any{}
		}

		if _, err := d.deps.validator.Validate(ctx, settings, d.settingsSchema, schema.ValidateOptions{
			SchemaKey: d.definition.Name + ":settings",
		}); err != nil {
			return err
		}
	}

	authentication := d.definition.Authentication
	if authentication == nil || authentication.TestAuthentication == nil {
		return nil
	}

	client := d.deps.client
	if d.definition.ExtendRequest != nil {
		client = client.Extend(d.definition.ExtendRequest(ExtendRequestInput{Settings: settings, Auth: auth}))
	}
	if err := authentication.TestAuthentication(ctx, client, AuthInput{Settings: settings, Auth: auth}); err != nil {
		tracing.RecordError(span, err)
		status := maperr.StatusCode(err)
		if status == 0 {
			status = http.StatusBadRequest
		}
		return maperr.NewIntegrationError("Credentials are invalid: "+err.Error(), "INVALID_AUTHENTICATION", status)
	}
	return nil
}

func (d *Destination) action(key string) (*Action, error) {
	action, ok := d.actions[key]
	if !ok {
		return nil, maperr.NewIntegrationError(fmt.Sprintf("'%s' is not a valid action", key), "NotImplemented", http.StatusNotFound)
	}
	return action, nil
}

// parseSubscription returns the compiled query, or the result to report when
// the subscription cannot be used.
func (d *Destination) parseSubscription(sub Subscription) (predicateMatcher, *Result) {
	query, ok := sub.Subscribe.(string)
	if !ok || query == "" {
		metrics.RecordSubscriptionOutcome(d.definition.Name, "invalid")
		return nil, &Result{Output: OutputInvalidSubscription}
	}

	predicate, err := d.deps.parser.Parse(query)
	if err != nil {
		metrics.RecordSubscriptionOutcome(d.definition.Name, "invalid")
		return nil, &Result{Output: OutputInvalidSubscription + " : " + err.Error()}
	}
	return predicate, nil
}

type predicateMatcher interface {
	Match(event map[string]any) bool
}

// subscriptions reads `subscription` or `subscriptions` (a JSON string or an
// array) from settings. The first non-empty form wins.
func (d *Destination) subscriptions(settings map[string]any) ([]Subscription, error) {
	if raw, ok := settings["subscription"]; ok && raw != nil {
		var sub Subscription
		if err := decodeInto(raw, &sub); err != nil {
			return nil, maperr.NewIntegrationError("invalid subscription setting: "+err.Error(), maperr.ErrorTypeInvalidSubscription, http.StatusBadRequest)
		}
		return []Subscription{sub}, nil
	}

	var subs []Subscription
	switch raw := settings["subscriptions"].(type) {
	case nil:
		return []Subscription{}, nil
	case string:
		if raw == "" {
			return []Subscription{}, nil
		}
		if err := json.Unmarshal([]byte(raw), &subs); err != nil {
			return nil, maperr.NewIntegrationError("invalid subscriptions setting: "+err.Error(), maperr.ErrorTypeInvalidSubscription, http.StatusBadRequest)
		}
	default:
		if err := decodeInto(raw, &subs); err != nil {
			return nil, maperr.NewIntegrationError("invalid subscriptions setting: "+err.Error(), maperr.ErrorTypeInvalidSubscription, http.StatusBadRequest)
		}
	}

	return ectolinq.Filter(subs, func(s Subscription) bool {
		return s.Subscribe != nil || s.PartnerAction != ""
	}), nil
}

func decodeInto(raw any, target any) error {
	b, err := json.Marshal(raw)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, target)
}

func mappingOrEmpty(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}
