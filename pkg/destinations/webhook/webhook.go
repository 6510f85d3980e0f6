// Package webhook is a destination that forwards mapped events to an HTTP
// endpoint, one request per event or one request per batch.
package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/Ramsey-B/petal/pkg/destination"
	maperr "github.com/Ramsey-B/petal/pkg/errors"
	"github.com/Ramsey-B/petal/pkg/fields"
	"github.com/Ramsey-B/petal/pkg/request"
)

const (
	Name            = "Webhook"
	Slug            = "webhook"
	SignatureHeader = "X-Signature"
	userAgent       = "petal-webhook/1.0"
)

var methods = []fields.Choice{
	{Label: "POST", Value: "POST"},
	{Label: "PUT", Value: "PUT"},
	{Label: "PATCH", Value: "PATCH"},
}

func ptr[T any](v T) *T {
	return &v
}

// sendFields is shared by both actions.
func sendFields() fields.Fields {
	return fields.Fields{
		"url": {
			Label:       "URL",
			Description: "URL to deliver data to.",
			Type:        fields.FieldTypeString,
			Format:      "uri",
			Required:    fields.Always(),
		},
		"method": {
			Label:       "Method",
			Description: "HTTP method to use.",
			Type:        fields.FieldTypeString,
			Choices:     methods,
			Default:     "POST",
		},
		"headers": {
			Label:                "Headers",
			Description:          "HTTP headers to send with each request.",
			Type:                 fields.FieldTypeObject,
			AdditionalProperties: true,
			Dynamic:              true,
		},
		"data": {
			Label:       "Data",
			Description: "Payload to deliver to the webhook URL.",
			Type:        fields.FieldTypeObject,
			Default:     map[string]any{"@path": "$"},
		},
		"enable_batching": {
			Label:       "Enable Batching",
			Description: "Send events in a single request.",
			Type:        fields.FieldTypeBoolean,
		},
		"batch_size": {
			Label:       "Batch Size",
			Description: "Maximum number of events per request.",
			Type:        fields.FieldTypeInteger,
			Minimum:     ptr(1.0),
			Maximum:     ptr(1000.0),
			DependsOn: &fields.DependsOnConditions{
				Conditions: []fields.Condition{{FieldKey: "enable_batching", Operator: fields.OperatorIs, Value: true}},
			},
		},
	}
}

// Definition returns the webhook destination definition.
func Definition() destination.DestinationDefinition {
	return destination.DestinationDefinition{
		Name:        Name,
		Mode:        destination.ModeCloud,
		Description: "Send events to a custom HTTP endpoint.",
		Authentication: &destination.Authentication{
			Scheme: destination.SchemeCustom,
			Fields: fields.Fields{
				"sharedSecret": {
					Label:       "Shared Secret",
					Description: "When set, requests carry an HMAC-SHA1 signature of the body in X-Signature.",
					Type:        fields.FieldTypePassword,
				},
			},
		},
		ExtendRequest: func(destination.ExtendRequestInput) request.Options {
			return request.Options{Headers: map[string]string{"User-Agent": userAgent}}
		},
		Actions: map[string]destination.ActionDefinition{
			"send": {
				Title:               "Send",
				Description:         "Send an HTTP request.",
				DefaultSubscription: `type = "track" or type = "identify" or type = "page" or type = "screen" or type = "group"`,
				Fields:              sendFields(),
				Perform:             perform,
				PerformBatch:        performBatch,
				DynamicFields: destination.DynamicFields{
					"headers": {Keys: headerKeys},
				},
			},
		},
	}
}

// New builds the webhook destination.
func New(opts ...destination.Option) (*destination.Destination, error) {
	return destination.NewDestination(Definition(), opts...)
}

func perform(ctx context.Context, client *request.Client, in destination.PerformInput) (any, error) {
	payload := filterPayload(in.Payload)
	return send(ctx, client, payload, payload["data"], in.Settings)
}

// performBatch sends the data of every payload as one JSON array to the URL
// and method of the first payload. Payloads addressed elsewhere are reported
// as errors.
func performBatch(ctx context.Context, client *request.Client, in destination.PerformBatchInput) (any, error) {
	response := destination.NewMultiStatusResponse()
	if len(in.Payload) == 0 {
		return response, nil
	}

	first := in.Payload[0]
	data := []any{}
	included := []int{}
	for i, payload := range in.Payload {
		if payload["url"] != first["url"] || payload["method"] != first["method"] {
			response.SetErrorResponseAtIndex(i, destination.ErrorEntry(http.StatusBadRequest, maperr.ErrorTypePayloadValidation,
				"batched events must share the same url and method"))
			continue
		}
		included = append(included, i)
		data = append(data, payload["data"])
	}

	resp, err := send(ctx, client, filterPayload(first), data, in.Settings)
	if err != nil {
		entry := destination.ErrorEntryFromError(err)
		for _, i := range included {
			response.SetErrorResponseAtIndex(i, destination.ErrorEntry(entry.Status, entry.ErrorType, entry.ErrorMessage))
		}
		return response, nil
	}

	for _, i := range included {
		response.SetSuccessResponseAtIndex(i, destination.SuccessEntry(resp.StatusCode, resp.Data, in.Payload[i]["data"]))
	}
	return response, nil
}

func filterPayload(payload map[string]any) map[string]any {
	return fields.FilterPayloadByDependsOn(payload, sendFields())
}

func send(ctx context.Context, client *request.Client, payload map[string]any, data any, settings map[string]any) (*request.Response, error) {
	url, _ := payload["url"].(string)
	method, _ := payload["method"].(string)
	if method == "" {
		method = http.MethodPost
	}

	body, err := json.Marshal(data)
	if err != nil {
		return nil, maperr.NewIntegrationError("data is not JSON encodable: "+err.Error(), maperr.ErrorTypePayloadValidation, http.StatusBadRequest)
	}

	headers := map[string]string{"Content-Type": "application/json"}
	if custom, ok := payload["headers"].(map[string]any); ok {
		for k, v := range custom {
			headers[k] = fmt.Sprint(v)
		}
	}
	if secret, _ := settings["sharedSecret"].(string); secret != "" {
		headers[SignatureHeader] = sign(secret, body)
	}

	return client.Request(ctx, url, request.RequestOptions{
		Method:  strings.ToUpper(method),
		Headers: headers,
		Body:    body,
	})
}

func sign(secret string, body []byte) string {
	mac := hmac.New(sha1.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

var commonHeaders = []string{"Authorization", "Content-Type", "User-Agent", "X-Api-Key", "X-Request-Id"}

func headerKeys(_ context.Context, _ *request.Client, _ destination.DynamicFieldInput) (destination.DynamicFieldResponse, error) {
	choices := make([]fields.Choice, 0, len(commonHeaders))
	for _, h := range commonHeaders {
		choices = append(choices, fields.Choice{Label: h, Value: h})
	}
	return destination.DynamicFieldResponse{Choices: choices}, nil
}
