package processor

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"testing"

	"github.com/Gobusters/ectologger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/petal/pkg/destination"
	maperr "github.com/Ramsey-B/petal/pkg/errors"
	"github.com/Ramsey-B/petal/pkg/fields"
	"github.com/Ramsey-B/petal/pkg/kafka"
	"github.com/Ramsey-B/petal/pkg/request"
)

type published struct {
	topic   string
	key     string
	headers kafka.Headers
	value   any
}

type fakePublisher struct {
	mu       sync.Mutex
	messages []published
	err      error
}

func (f *fakePublisher) Publish(_ context.Context, topic, key string, headers kafka.Headers, value any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil && topic != "errors" {
		return f.err
	}
	f.messages = append(f.messages, published{topic: topic, key: key, headers: headers, value: value})
	return nil
}

type lookup map[string]*destination.Destination

func (l lookup) Lookup(slug string) (*destination.Destination, bool) {
	d, ok := l[slug]
	return d, ok
}

type tokenStoreSpy struct {
	applied []string
	saved   map[string]destination.RefreshAccessTokenResult
}

func (s *tokenStoreSpy) Apply(_ context.Context, key string, auth *destination.AuthTokens) *destination.AuthTokens {
	s.applied = append(s.applied, key)
	if stored, ok := s.saved[key]; ok {
		return stored.Apply(auth)
	}
	return auth
}

func (s *tokenStoreSpy) OnTokenRefresh(key string) func(context.Context, destination.RefreshAccessTokenResult) error {
	return func(_ context.Context, tokens destination.RefreshAccessTokenResult) error {
		s.saved[key] = tokens
		return nil
	}
}

type staticRefresher struct{}

func (staticRefresher) RefreshAccessToken(context.Context, *request.Client, destination.AuthInput) (*destination.RefreshAccessTokenResult, error) {
	return &destination.RefreshAccessTokenResult{AccessToken: "fresh"}, nil
}

func testLogger() ectologger.Logger {
	return ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
}

func testDestination(t *testing.T, tokens *[]string) *destination.Destination {
	t.Helper()
	d, err := destination.NewDestination(destination.DestinationDefinition{
		Name:           "Test",
		Authentication: &destination.Authentication{Scheme: destination.SchemeOAuth2},
		Actions: map[string]destination.ActionDefinition{
			"track": {
				Title: "Track",
				Fields: fields.Fields{
					"name": {Label: "Name", Type: fields.FieldTypeString, Required: fields.Always()},
				},
				Perform: func(_ context.Context, _ *request.Client, in destination.PerformInput) (any, error) {
					if in.Auth != nil {
						*tokens = append(*tokens, in.Auth.AccessToken)
						if in.Auth.AccessToken == "expired" {
							return nil, maperr.NewIntegrationError("expired", "UNAUTHORIZED", http.StatusUnauthorized)
						}
					}
					return in.Payload, nil
				},
				PerformBatch: func(_ context.Context, _ *request.Client, in destination.PerformBatchInput) (any, error) {
					return len(in.Payload), nil
				},
			},
		},
	}, destination.WithTokenRefresher(staticRefresher{}))
	require.NoError(t, err)
	return d
}

var settings = map[string]any{
	"subscriptions": []any{map[string]any{
		"subscribe":     `type = "track"`,
		"partnerAction": "track",
		"mapping":       map[string]any{"name": map[string]any{"@path": "$.event"}},
	}},
}

func envelopeBytes(t *testing.T, envelope kafka.EventEnvelope) []byte {
	t.Helper()
	b, err := json.Marshal(envelope)
	require.NoError(t, err)
	return b
}

func newTestProcessor(t *testing.T, publisher *fakePublisher, opts ...Option) (*Processor, *[]string) {
	tokens := &[]string{}
	config := Config{OutputTopic: "results", ErrorTopic: "errors"}
	return New(config, lookup{"test": testDestination(t, tokens)}, publisher, testLogger(), opts...), tokens
}

func TestHandlerPublishesDeliveryResult(t *testing.T) {
	publisher := &fakePublisher{}
	p, _ := newTestProcessor(t, publisher)

	err := p.MessageHandler()(context.Background(), &kafka.ReceivedMessage{
		Value: envelopeBytes(t, kafka.EventEnvelope{
			MessageID:   "m1",
			Destination: "test",
			Settings:    settings,
			Event:       map[string]any{"type": "track", "event": "Signed Up"},
		}),
	})
	require.NoError(t, err)

	require.Len(t, publisher.messages, 1)
	msg := publisher.messages[0]
	assert.Equal(t, "results", msg.topic)
	assert.Equal(t, "test:m1", msg.key)
	assert.Equal(t, kafka.Headers{MessageID: "m1", Destination: "test"}, msg.headers)

	result := msg.value.(*kafka.DeliveryResult)
	require.Len(t, result.Results, 3)
	assert.Equal(t, destination.OutputActionExecuted, result.Results[2].Output)
	assert.Equal(t, map[string]any{"name": "Signed Up"}, result.Results[2].Data)
	assert.Equal(t, Stats{MessagesProcessed: 1}, p.Stats())
}

func TestHandlerBatchEnvelope(t *testing.T) {
	publisher := &fakePublisher{}
	p, _ := newTestProcessor(t, publisher)

	err := p.MessageHandler()(context.Background(), &kafka.ReceivedMessage{
		Headers: kafka.Headers{MessageID: "from-header"},
		Value: envelopeBytes(t, kafka.EventEnvelope{
			Destination: "test",
			Settings:    settings,
			Events: []map[string]any{
				{"type": "track", "event": "a"},
				{"type": "page"},
			},
		}),
	})
	require.NoError(t, err)

	result := publisher.messages[0].value.(*kafka.DeliveryResult)
	assert.Equal(t, "from-header", result.MessageID)
	require.Len(t, result.Results, 1)
	entries := result.Results[0].MultiStatus
	require.Len(t, entries, 2)
	assert.False(t, entries[0].IsError())
	assert.Equal(t, maperr.ErrorTypeNotSubscribed, entries[1].ErrorType)
}

func TestHandlerPublishesErrors(t *testing.T) {
	tests := []struct {
		name      string
		value     []byte
		wantStage string
		wantCode  int
	}{
		{name: "undecodable", value: []byte(`{`), wantStage: StageDecode},
		{name: "unknown destination", value: []byte(`{"destination":"nope","event":{}}`), wantStage: StageDeliver, wantCode: http.StatusNotFound},
		{name: "invalid payload", value: []byte(`{"destination":"test","settings":{"subscriptions":[{"subscribe":"type = \"track\"","partnerAction":"track","mapping":{}}]},"event":{"type":"track"}}`), wantStage: StageDeliver, wantCode: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			publisher := &fakePublisher{}
			p, _ := newTestProcessor(t, publisher)

			err := p.MessageHandler()(context.Background(), &kafka.ReceivedMessage{Topic: "in", Offset: 7, Value: tt.value})
			require.Error(t, err)

			require.Len(t, publisher.messages, 1)
			assert.Equal(t, "errors", publisher.messages[0].topic)
			deliveryErr := publisher.messages[0].value.(kafka.DeliveryError)
			assert.Equal(t, tt.wantStage, deliveryErr.Stage)
			assert.Equal(t, tt.wantCode, deliveryErr.Status)
			assert.Equal(t, int64(7), deliveryErr.Input["offset"])
			assert.Equal(t, int64(1), p.Stats().MessagesFailed)
		})
	}
}

func TestHandlerPublishFailure(t *testing.T) {
	publisher := &fakePublisher{err: errors.New("broker down")}
	p, _ := newTestProcessor(t, publisher)

	err := p.MessageHandler()(context.Background(), &kafka.ReceivedMessage{
		Value: envelopeBytes(t, kafka.EventEnvelope{
			Destination: "test",
			Settings:    settings,
			Event:       map[string]any{"type": "track", "event": "x"},
		}),
	})
	require.EqualError(t, err, "broker down")
	require.Len(t, publisher.messages, 1)
	assert.Equal(t, StagePublish, publisher.messages[0].value.(kafka.DeliveryError).Stage)
}

func TestProcessPersistsRefreshedTokens(t *testing.T) {
	store := &tokenStoreSpy{saved: map[string]destination.RefreshAccessTokenResult{}}
	var locked []string
	p, tokens := newTestProcessor(t, &fakePublisher{}, WithTokenStore(store), WithRefreshSynchronizer(syncFunc(func(key string) {
		locked = append(locked, key)
	})))

	envelope := &kafka.EventEnvelope{
		Destination: "test",
		Settings:    settings,
		Auth:        &destination.AuthTokens{AccessToken: "expired", RefreshToken: "r"},
		AuthKey:     "acct-1",
		Event:       map[string]any{"type": "track", "event": "x"},
	}
	_, err := p.Process(context.Background(), envelope)
	require.NoError(t, err)

	assert.Equal(t, []string{"expired", "fresh"}, *tokens)
	assert.Equal(t, "fresh", store.saved["test:acct-1"].AccessToken)
	assert.Equal(t, []string{"test:acct-1"}, locked)

	// the next envelope starts from the stored token
	*tokens = nil
	envelope.Auth = &destination.AuthTokens{AccessToken: "expired"}
	_, err = p.Process(context.Background(), envelope)
	require.NoError(t, err)
	assert.Equal(t, []string{"fresh"}, *tokens)
	assert.Equal(t, []string{"test:acct-1", "test:acct-1"}, store.applied)
}

type syncFunc func(key string)

func (f syncFunc) For(key string) func(context.Context) (func(), error) {
	return func(context.Context) (func(), error) {
		f(key)
		return func() {}, nil
	}
}
