package destination

import (
	"context"
	"time"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/petal/pkg/fields"
	"github.com/Ramsey-B/petal/pkg/request"
)

type Mode string

const (
	ModeCloud  Mode = "cloud"
	ModeDevice Mode = "device"
)

type AuthenticationScheme string

const (
	SchemeCustom AuthenticationScheme = "custom"
	SchemeBasic  AuthenticationScheme = "basic"
	SchemeOAuth2 AuthenticationScheme = "oauth2"
)

// Result markers emitted while executing an action.
const (
	OutputMappingsResolved    = "Mappings resolved"
	OutputPayloadValidated    = "Payload validated"
	OutputActionExecuted      = "Action Executed"
	OutputInvalidSubscription = "invalid subscription"
	OutputNotSubscribed       = "not subscribed"
)

// Result is one step of an execution, or the batch outcome when MultiStatus is set.
type Result struct {
	Output      string              `json:"output,omitempty"`
	Data        any                 `json:"data,omitempty"`
	MultiStatus []*MultiStatusEntry `json:"multistatus,omitempty"`
}

// AuthTokens are the OAuth credentials an execution runs with.
type AuthTokens struct {
	AccessToken     string `json:"accessToken,omitempty"`
	RefreshToken    string `json:"refreshToken,omitempty"`
	RefreshTokenURL string `json:"refreshTokenUrl,omitempty"`
	ClientID        string `json:"clientId,omitempty"`
	ClientSecret    string `json:"clientSecret,omitempty"`
}

// RefreshAccessTokenResult is what a token refresh produces.
type RefreshAccessTokenResult struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken,omitempty"`
	ExpiresIn    int    `json:"expiresIn,omitempty"`
}

// Apply returns a copy of auth carrying the refreshed tokens.
func (r RefreshAccessTokenResult) Apply(auth *AuthTokens) *AuthTokens {
	updated := AuthTokens{}
	if auth != nil {
		updated = *auth
	}
	updated.AccessToken = r.AccessToken
	if r.RefreshToken != "" {
		updated.RefreshToken = r.RefreshToken
	}
	return &updated
}

type StatsContext struct {
	Tags []string
}

type TransactionContext struct {
	Transaction    map[string]string
	SetTransaction func(key, value string)
}

type StateContext struct {
	GetRequestContext  func(key string) any
	SetResponseContext func(key string, value any, ttl time.Duration)
}

// ExecutionContext is the ambient context shared by every action call.
type ExecutionContext struct {
	Features           map[string]bool
	StatsContext       *StatsContext
	Logger             ectologger.Logger
	TransactionContext *TransactionContext
	StateContext       *StateContext
	SyncMode           string
	MatchingKey        string
}

// ExecuteInput is the input to Action.Execute.
type ExecuteInput struct {
	ExecutionContext
	Mapping  map[string]any
	Data     map[string]any
	Settings map[string]any
	Auth     *AuthTokens
}

// BatchInput is the input to Action.ExecuteBatch.
type BatchInput struct {
	ExecutionContext
	Mapping  map[string]any
	Data     []map[string]any
	Settings map[string]any
	Auth     *AuthTokens
}

// PerformInput is handed to an action's perform function.
type PerformInput struct {
	ExecutionContext
	Payload  map[string]any
	Settings map[string]any
	Auth     *AuthTokens
}

// PerformBatchInput is handed to an action's performBatch function.
type PerformBatchInput struct {
	ExecutionContext
	Payload  []map[string]any
	Settings map[string]any
	Auth     *AuthTokens
}

type PerformFunc func(ctx context.Context, client *request.Client, in PerformInput) (any, error)

// PerformBatchFunc may return a *MultiStatusResponse with one entry per payload.
type PerformBatchFunc func(ctx context.Context, client *request.Client, in PerformBatchInput) (any, error)

// ActionDefinition describes one partner operation.
type ActionDefinition struct {
	Title               string
	Description         string
	DefaultSubscription string
	Fields              fields.Fields
	Perform             PerformFunc
	PerformBatch        PerformBatchFunc
	DynamicFields       DynamicFields
}

// ExtendRequestInput is what a destination sees when deriving request defaults.
type ExtendRequestInput struct {
	Settings map[string]any
	Auth     *AuthTokens
	Payload  any
}

type ExtendRequestFunc func(in ExtendRequestInput) request.Options

// AuthInput is passed to authentication callbacks.
type AuthInput struct {
	Settings map[string]any
	Auth     *AuthTokens
}

// Authentication describes how a destination authenticates.
type Authentication struct {
	Scheme             AuthenticationScheme
	Fields             fields.Fields
	TestAuthentication func(ctx context.Context, client *request.Client, in AuthInput) error
	RefreshAccessToken func(ctx context.Context, client *request.Client, in AuthInput) (*RefreshAccessTokenResult, error)
}

// DeleteInput is passed to OnDelete.
type DeleteInput struct {
	ExecutionContext
	Payload  map[string]any
	Settings map[string]any
	Auth     *AuthTokens
}

// DestinationDefinition describes a destination and its actions.
type DestinationDefinition struct {
	Name           string
	Mode           Mode
	Description    string
	Actions        map[string]ActionDefinition
	Authentication *Authentication
	ExtendRequest  ExtendRequestFunc
	OnDelete       func(ctx context.Context, client *request.Client, in DeleteInput) (any, error)
}

// Subscription routes events matching Subscribe to PartnerAction.
type Subscription struct {
	// Subscribe is kept untyped so a non-string query can be reported as invalid
	Subscribe     any            `json:"subscribe"`
	PartnerAction string         `json:"partnerAction"`
	Mapping       map[string]any `json:"mapping,omitempty"`
}

// TokenRefresher obtains a new access token for an OAuth destination.
type TokenRefresher interface {
	RefreshAccessToken(ctx context.Context, client *request.Client, in AuthInput) (*RefreshAccessTokenResult, error)
}

// EventOptions carry caller hooks for one OnEvent, OnBatch or OnDelete call.
type EventOptions struct {
	ExecutionContext
	// OnTokenRefresh persists tokens after a successful refresh
	OnTokenRefresh func(ctx context.Context, tokens RefreshAccessTokenResult) error
	// SynchronizeRefreshAccessToken runs before a refresh, typically to take a lock
	SynchronizeRefreshAccessToken func(ctx context.Context) (release func(), err error)
}
