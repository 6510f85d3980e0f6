package destination

import (
	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/petal/pkg/mapping"
	"github.com/Ramsey-B/petal/pkg/request"
	"github.com/Ramsey-B/petal/pkg/schema"
	"github.com/Ramsey-B/petal/pkg/subscription"
)

type dependencies struct {
	resolver  *mapping.Resolver
	validator *schema.Validator
	client    *request.Client
	parser    *subscription.Parser
	refresher TokenRefresher
	logger    ectologger.Logger
}

// Option configures an Action or a Destination.
type Option func(*dependencies)

func WithResolver(resolver *mapping.Resolver) Option {
	return func(d *dependencies) {
		d.resolver = resolver
	}
}

// WithValidator shares a payload validator, and with it the compiled schema cache.
func WithValidator(validator *schema.Validator) Option {
	return func(d *dependencies) {
		d.validator = validator
	}
}

func WithRequestClient(client *request.Client) Option {
	return func(d *dependencies) {
		d.client = client
	}
}

func WithSubscriptionParser(parser *subscription.Parser) Option {
	return func(d *dependencies) {
		d.parser = parser
	}
}

// WithTokenRefresher replaces the definition's RefreshAccessToken callback.
func WithTokenRefresher(refresher TokenRefresher) Option {
	return func(d *dependencies) {
		d.refresher = refresher
	}
}

func WithLogger(logger ectologger.Logger) Option {
	return func(d *dependencies) {
		d.logger = logger
	}
}

func newDependencies(opts []Option) *dependencies {
	d := &dependencies{}
	for _, opt := range opts {
		opt(d)
	}
	if d.logger == nil {
		d.logger = ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
	}
	if d.resolver == nil {
		d.resolver = mapping.NewResolver()
	}
	if d.validator == nil {
		d.validator = schema.NewValidator(schema.WithLogger(d.logger))
	}
	if d.client == nil {
		d.client = request.NewClient(request.DefaultConfig(), d.logger)
	}
	if d.parser == nil {
		d.parser = subscription.NewParser()
	}
	return d
}
