// Package schema validates resolved payloads against field schemas.
//
// Validation coerces the payload in place before checking it: scalar types are
// converted where the schema asks for another type, single values are wrapped
// into arrays (and single element arrays unwrapped) and properties not allowed
// by `additionalProperties: false` are removed. Keyword checks are delegated to
// a Draft-07 validator. Failures are reported as one human readable sentence per
// violated constraint.
package schema

import (
	"bytes"
	"context"
	"fmt"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"github.com/santhosh-tekuri/jsonschema/v5"

	maperr "github.com/Ramsey-B/petal/pkg/errors"
	"github.com/Ramsey-B/petal/pkg/fields"
	"github.com/Ramsey-B/petal/pkg/utils"
)

const schemaBaseURL = "https://petal.local/schemas/"

type ValidateOptions struct {
	// SchemaKey memoizes the compiled schema. Empty disables caching.
	SchemaKey string
	// ThrowIfInvalid defaults to true. When false an invalid payload returns
	// (false, nil) and stays in its partly coerced state.
	ThrowIfInvalid *bool
	// Exempt keys are set aside during validation and restored untouched.
	Exempt []string
}

func (o ValidateOptions) throwIfInvalid() bool {
	return o.ThrowIfInvalid == nil || *o.ThrowIfInvalid
}

// NoThrow returns options that report invalid payloads as false instead of an error.
func NoThrow() *bool {
	f := false
	return &f
}

type Validator struct {
	cache  *SchemaCache
	logger ectologger.Logger
}

type Option func(*Validator)

func WithLogger(logger ectologger.Logger) Option {
	return func(v *Validator) {
		v.logger = logger
	}
}

// WithCache replaces the schema cache. A nil cache disables caching.
func WithCache(cache *SchemaCache) Option {
	return func(v *Validator) {
		v.cache = cache
	}
}

func NewValidator(opts ...Option) *Validator {
	v := &Validator{
		cache:  NewSchemaCache(),
		logger: ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {}),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Cache is nil when caching is disabled.
func (v *Validator) Cache() *SchemaCache {
	return v.cache
}

// Validate coerces payload against schema and checks it. payload is modified in place.
func (v *Validator) Validate(ctx context.Context, payload map[string]any, schema fields.JSONSchema, opts ValidateOptions) (bool, error) {
	entry, err := v.compiled(ctx, schema, opts.SchemaKey)
	if err != nil {
		return false, err
	}

	exempt := map[string]any{}
	for _, key := range opts.Exempt {
		if value, ok := payload[key]; ok {
			exempt[key] = value
			delete(payload, key)
		}
	}
	defer func() {
		for key, value := range exempt {
			payload[key] = value
		}
	}()

	for key, value := range payload {
		normalized, err := utils.ToJSONValue(value)
		if err != nil {
			return false, fmt.Errorf("payload field %q is not JSON encodable: %w", key, err)
		}
		payload[key] = normalized
	}

	coerce(payload, entry.raw)

	if err := entry.compiled.Validate(payload); err != nil {
		messages := humanMessages(err, entry.raw, payload)
		v.logger.WithContext(ctx).WithFields(map[string]any{
			"schema_key": opts.SchemaKey,
			"errors":     len(messages),
		}).Debug("payload failed schema validation")

		if opts.throwIfInvalid() {
			return false, maperr.NewPayloadValidationError(messages)
		}
		return false, nil
	}

	return true, nil
}

func (v *Validator) compiled(ctx context.Context, schema fields.JSONSchema, key string) (*compiledSchema, error) {
	if key == "" || v.cache == nil {
		return compile(schema)
	}

	if entry, ok := v.cache.get(key); ok {
		return entry, nil
	}

	entry, err := compile(schema)
	if err != nil {
		return nil, err
	}

	v.logger.WithContext(ctx).WithField("schema_key", key).Debug("compiled schema")
	return v.cache.store(key, entry), nil
}

func compile(schema fields.JSONSchema) (*compiledSchema, error) {
	normalized, err := utils.ToJSONValue(schema)
	if err != nil {
		return nil, fmt.Errorf("schema is not JSON encodable: %w", err)
	}
	raw, ok := normalized.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("schema must be an object")
	}

	b, err := utils.Marshal(raw)
	if err != nil {
		return nil, err
	}

	url := schemaBaseURL + uuid.NewString() + ".json"
	compiler := jsonschema.NewCompiler()
	compiler.Draft = jsonschema.Draft7
	compiler.AssertFormat = true
	if err := compiler.AddResource(url, bytes.NewReader(b)); err != nil {
		return nil, fmt.Errorf("invalid schema: %w", err)
	}

	compiled, err := compiler.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("invalid schema: %w", err)
	}

	return &compiledSchema{raw: raw, compiled: compiled}, nil
}

var defaultValidator = NewValidator()

// Validate uses a package level validator with its own cache.
func Validate(ctx context.Context, payload map[string]any, schema fields.JSONSchema, opts ValidateOptions) (bool, error) {
	return defaultValidator.Validate(ctx, payload, schema, opts)
}
