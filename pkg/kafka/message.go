package kafka

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/Ramsey-B/petal/pkg/destination"
)

// EventEnvelope is the inbound message: one event or a batch of events for a
// single destination.
type EventEnvelope struct {
	MessageID   string                  `json:"message_id,omitempty"`
	Destination string                  `json:"destination"`
	Settings    map[string]any          `json:"settings"`
	Auth        *destination.AuthTokens `json:"auth,omitempty"`
	// AuthKey identifies the credentials for refreshed-token storage.
	AuthKey string           `json:"auth_key,omitempty"`
	Event   map[string]any   `json:"event,omitempty"`
	Events  []map[string]any `json:"events,omitempty"`
}

func (e *EventEnvelope) IsBatch() bool {
	return e.Events != nil
}

func ParseEnvelope(data []byte) (*EventEnvelope, error) {
	var envelope EventEnvelope
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, fmt.Errorf("failed to parse event envelope: %w", err)
	}
	if envelope.Destination == "" {
		return nil, fmt.Errorf("event envelope has no destination")
	}
	if envelope.Event == nil && envelope.Events == nil {
		return nil, fmt.Errorf("event envelope has neither event nor events")
	}
	return &envelope, nil
}

// DeliveryResult is published once per processed envelope.
type DeliveryResult struct {
	Destination string               `json:"destination"`
	MessageID   string               `json:"message_id"`
	Results     []destination.Result `json:"results"`
	Timestamp   time.Time            `json:"timestamp"`
}

// DeliveryError is published to the error topic when an envelope fails.
type DeliveryError struct {
	Destination string         `json:"destination,omitempty"`
	MessageID   string         `json:"message_id,omitempty"`
	Stage       string         `json:"stage"`
	Error       string         `json:"error"`
	Status      int            `json:"status,omitempty"`
	Input       map[string]any `json:"input"`
	Timestamp   time.Time      `json:"timestamp"`
}

// Headers are the message headers petal reads and writes.
type Headers struct {
	MessageID   string
	Destination string
	TraceParent string
}

const (
	headerMessageID   = "message_id"
	headerDestination = "destination"
	headerTraceParent = "traceparent"
)

func (h Headers) toMap() map[string]string {
	out := map[string]string{}
	if h.MessageID != "" {
		out[headerMessageID] = h.MessageID
	}
	if h.Destination != "" {
		out[headerDestination] = h.Destination
	}
	if h.TraceParent != "" {
		out[headerTraceParent] = h.TraceParent
	}
	return out
}

func headersFromMap(m map[string]string) Headers {
	return Headers{
		MessageID:   m[headerMessageID],
		Destination: m[headerDestination],
		TraceParent: m[headerTraceParent],
	}
}
