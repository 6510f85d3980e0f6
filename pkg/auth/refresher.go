// Package auth implements the OAuth pieces a deployment plugs into a
// destination: a refresh-token grant, Redis persistence of refreshed tokens
// and a Redis lock that serializes refreshes of the same credentials.
package auth

import (
	"context"
	"errors"
	"net/http"
	"net/url"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/petal/pkg/destination"
	maperr "github.com/Ramsey-B/petal/pkg/errors"
	"github.com/Ramsey-B/petal/pkg/request"
	"github.com/Ramsey-B/petal/pkg/tracing"
)

var ErrTokenExtractionFailed = errors.New("failed to extract access token from token response")

// RefresherConfig locates the token endpoint and the tokens in its response.
// Paths are JMESPath expressions evaluated against the response body.
type RefresherConfig struct {
	// TokenURL is used when the credentials carry no refresh URL.
	TokenURL         string
	AccessTokenPath  string
	RefreshTokenPath string
	ExpiresInPath    string
}

func (c RefresherConfig) withDefaults() RefresherConfig {
	if c.AccessTokenPath == "" {
		c.AccessTokenPath = "access_token"
	}
	if c.RefreshTokenPath == "" {
		c.RefreshTokenPath = "refresh_token"
	}
	if c.ExpiresInPath == "" {
		c.ExpiresInPath = "expires_in"
	}
	return c
}

// Refresher performs the OAuth2 refresh_token grant.
type Refresher struct {
	cfg       RefresherConfig
	client    *request.Client
	extractor *extractor
	logger    ectologger.Logger
}

var _ destination.TokenRefresher = (*Refresher)(nil)

// NewRefresher uses client when the destination does not supply one.
func NewRefresher(cfg RefresherConfig, client *request.Client, logger ectologger.Logger) *Refresher {
	return &Refresher{
		cfg:       cfg.withDefaults(),
		client:    client,
		extractor: newExtractor(),
		logger:    logger,
	}
}

func (r *Refresher) RefreshAccessToken(ctx context.Context, client *request.Client, in destination.AuthInput) (*destination.RefreshAccessTokenResult, error) {
	ctx, span := tracing.StartSpan(ctx, "Refresher.RefreshAccessToken")
	defer span.End()

	auth := in.Auth
	if auth == nil || auth.RefreshToken == "" {
		return nil, maperr.NewIntegrationError("no refresh token available", "INVALID_AUTHENTICATION", http.StatusUnauthorized)
	}

	tokenURL := auth.RefreshTokenURL
	if tokenURL == "" {
		tokenURL = r.cfg.TokenURL
	}
	if tokenURL == "" {
		return nil, maperr.NewIntegrationError("no refresh token URL configured", "INVALID_AUTHENTICATION", http.StatusBadRequest)
	}

	if client == nil {
		client = r.client
	}

	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", auth.RefreshToken)
	if auth.ClientID != "" {
		form.Set("client_id", auth.ClientID)
	}
	if auth.ClientSecret != "" {
		form.Set("client_secret", auth.ClientSecret)
	}

	resp, err := client.Request(ctx, tokenURL, request.RequestOptions{
		Method: http.MethodPost,
		Headers: map[string]string{
			"Content-Type": "application/x-www-form-urlencoded",
			"Accept":       "application/json",
		},
		Body: []byte(form.Encode()),
	})
	if err != nil {
		tracing.RecordError(span, err)
		r.logger.WithContext(ctx).WithError(err).Errorf("token refresh request to %s failed", tokenURL)
		return nil, err
	}

	return r.extract(ctx, resp.Data)
}

func (r *Refresher) extract(ctx context.Context, body any) (*destination.RefreshAccessTokenResult, error) {
	accessToken, err := r.extractor.String(r.cfg.AccessTokenPath, body)
	if err != nil || accessToken == "" {
		return nil, maperr.NewIntegrationError(ErrTokenExtractionFailed.Error()+": "+r.cfg.AccessTokenPath, "INVALID_AUTHENTICATION", http.StatusUnauthorized)
	}

	result := &destination.RefreshAccessTokenResult{AccessToken: accessToken}

	if refreshToken, err := r.extractor.String(r.cfg.RefreshTokenPath, body); err == nil {
		result.RefreshToken = refreshToken
	}
	if expiresIn, err := r.extractor.Int(r.cfg.ExpiresInPath, body); err == nil && expiresIn > 0 {
		result.ExpiresIn = expiresIn
	}

	r.logger.WithContext(ctx).WithField("expires_in", result.ExpiresIn).Debug("access token refreshed")
	return result, nil
}
