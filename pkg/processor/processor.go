// Package processor delivers event envelopes read from Kafka and publishes
// the delivery results.
package processor

import (
	"context"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/Ramsey-B/petal/pkg/destination"
	maperr "github.com/Ramsey-B/petal/pkg/errors"
	"github.com/Ramsey-B/petal/pkg/kafka"
	"github.com/Ramsey-B/petal/pkg/tracing"
)

const (
	StageDecode  = "decode"
	StageDeliver = "deliver"
	StagePublish = "publish"
)

type DestinationLookup interface {
	Lookup(slug string) (*destination.Destination, bool)
}

type Publisher interface {
	Publish(ctx context.Context, topic, key string, headers kafka.Headers, value any) error
}

// TokenStore restores and persists refreshed OAuth tokens.
type TokenStore interface {
	Apply(ctx context.Context, key string, auth *destination.AuthTokens) *destination.AuthTokens
	OnTokenRefresh(key string) func(context.Context, destination.RefreshAccessTokenResult) error
}

type RefreshSynchronizer interface {
	For(key string) func(context.Context) (func(), error)
}

type Config struct {
	OutputTopic string
	// ErrorTopic receives a DeliveryError per failed envelope. Empty disables it.
	ErrorTopic     string
	ProcessTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		OutputTopic:    "petal-results",
		ErrorTopic:     "petal-errors",
		ProcessTimeout: 30 * time.Second,
	}
}

type Processor struct {
	config       Config
	destinations DestinationLookup
	publisher    Publisher
	tokens       TokenStore
	synchronizer RefreshSynchronizer
	logger       ectologger.Logger

	processed atomic.Int64
	failed    atomic.Int64
}

type Option func(*Processor)

func WithTokenStore(store TokenStore) Option {
	return func(p *Processor) {
		p.tokens = store
	}
}

func WithRefreshSynchronizer(synchronizer RefreshSynchronizer) Option {
	return func(p *Processor) {
		p.synchronizer = synchronizer
	}
}

func New(config Config, destinations DestinationLookup, publisher Publisher, logger ectologger.Logger, opts ...Option) *Processor {
	p := &Processor{
		config:       config,
		destinations: destinations,
		publisher:    publisher,
		logger:       logger,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Process delivers one envelope through OnEvent or OnBatch.
func (p *Processor) Process(ctx context.Context, envelope *kafka.EventEnvelope) (*kafka.DeliveryResult, error) {
	ctx, span := tracing.StartSpan(ctx, "Processor.Process",
		attribute.String("destination", envelope.Destination),
		attribute.Bool("batch", envelope.IsBatch()))
	defer span.End()

	if p.config.ProcessTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.config.ProcessTimeout)
		defer cancel()
	}

	if envelope.MessageID == "" {
		envelope.MessageID = uuid.NewString()
	}

	d, ok := p.destinations.Lookup(envelope.Destination)
	if !ok {
		err := maperr.NewIntegrationError(fmt.Sprintf("destination '%s' is not registered", envelope.Destination), "NotImplemented", http.StatusNotFound)
		tracing.RecordError(span, err)
		return nil, err
	}

	logger := p.logger.WithContext(ctx).WithFields(map[string]any{
		"message_id":  envelope.MessageID,
		"destination": envelope.Destination,
	})

	auth := envelope.Auth
	opts := destination.EventOptions{
		ExecutionContext: destination.ExecutionContext{Logger: logger},
	}
	if envelope.AuthKey != "" {
		credentialKey := envelope.Destination + ":" + envelope.AuthKey
		if p.tokens != nil {
			auth = p.tokens.Apply(ctx, credentialKey, auth)
			opts.OnTokenRefresh = p.tokens.OnTokenRefresh(credentialKey)
		}
		if p.synchronizer != nil {
			opts.SynchronizeRefreshAccessToken = p.synchronizer.For(credentialKey)
		}
	}

	var (
		results []destination.Result
		err     error
	)
	if envelope.IsBatch() {
		results, err = d.OnBatch(ctx, envelope.Events, envelope.Settings, auth, opts)
	} else {
		results, err = d.OnEvent(ctx, envelope.Event, envelope.Settings, auth, opts)
	}
	if err != nil {
		tracing.RecordError(span, err)
		return nil, err
	}

	logger.WithField("results", len(results)).Debug("envelope delivered")
	return &kafka.DeliveryResult{
		Destination: envelope.Destination,
		MessageID:   envelope.MessageID,
		Results:     results,
		Timestamp:   time.Now().UTC(),
	}, nil
}

// MessageHandler decodes, delivers and publishes each consumed message.
// Failures go to the error topic.
func (p *Processor) MessageHandler() kafka.MessageHandler {
	return func(ctx context.Context, msg *kafka.ReceivedMessage) error {
		ctx = tracing.WithTraceParent(ctx, msg.Headers.TraceParent)

		envelope, err := kafka.ParseEnvelope(msg.Value)
		if err != nil {
			p.fail(ctx, StageDecode, msg, nil, err)
			return err
		}
		if envelope.MessageID == "" {
			envelope.MessageID = msg.Headers.MessageID
		}

		result, err := p.Process(ctx, envelope)
		if err != nil {
			p.fail(ctx, StageDeliver, msg, envelope, err)
			return err
		}

		headers := kafka.Headers{
			MessageID:   result.MessageID,
			Destination: result.Destination,
			TraceParent: tracing.GetTraceParent(ctx),
		}
		if err := p.publisher.Publish(ctx, p.config.OutputTopic, result.Destination+":"+result.MessageID, headers, result); err != nil {
			p.fail(ctx, StagePublish, msg, envelope, err)
			return err
		}

		p.processed.Add(1)
		return nil
	}
}

func (p *Processor) fail(ctx context.Context, stage string, msg *kafka.ReceivedMessage, envelope *kafka.EventEnvelope, err error) {
	p.failed.Add(1)
	logger := p.logger.WithContext(ctx).WithError(err).WithField("stage", stage)
	logger.Error("failed to process message")

	if p.config.ErrorTopic == "" {
		return
	}

	deliveryErr := kafka.DeliveryError{
		MessageID: msg.Headers.MessageID,
		Stage:     stage,
		Error:     err.Error(),
		Status:    maperr.StatusCode(err),
		Input: map[string]any{
			"topic":     msg.Topic,
			"partition": msg.Partition,
			"offset":    msg.Offset,
			"key":       string(msg.Key),
		},
		Timestamp: time.Now().UTC(),
	}
	if envelope != nil {
		deliveryErr.Destination = envelope.Destination
		deliveryErr.MessageID = envelope.MessageID
	}

	headers := kafka.Headers{
		MessageID:   deliveryErr.MessageID,
		Destination: deliveryErr.Destination,
		TraceParent: tracing.GetTraceParent(ctx),
	}
	if pubErr := p.publisher.Publish(ctx, p.config.ErrorTopic, deliveryErr.Destination+":"+deliveryErr.MessageID, headers, deliveryErr); pubErr != nil {
		logger.WithField("publish_error", pubErr.Error()).Error("failed to publish delivery error")
	}
}

type Stats struct {
	MessagesProcessed int64
	MessagesFailed    int64
}

func (p *Processor) Stats() Stats {
	return Stats{
		MessagesProcessed: p.processed.Load(),
		MessagesFailed:    p.failed.Load(),
	}
}
