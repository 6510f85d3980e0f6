package destination

import (
	"context"
	"fmt"
	"net/http"

	maperr "github.com/Ramsey-B/petal/pkg/errors"
	"github.com/Ramsey-B/petal/pkg/metrics"
	"github.com/Ramsey-B/petal/pkg/tracing"
)

func (d *Destination) isOAuth2() bool {
	return d.definition.Authentication != nil && d.definition.Authentication.Scheme == SchemeOAuth2
}

// withOAuthRetry runs fn and, for oauth2 destinations only, refreshes the
// token and runs fn a second time when the first attempt failed with a 401.
func (d *Destination) withOAuthRetry(ctx context.Context, settings map[string]any, auth *AuthTokens, opts EventOptions, fn func(auth *AuthTokens) error) error {
	err := fn(auth)
	if err == nil || !d.isOAuth2() || maperr.StatusCode(err) != http.StatusUnauthorized {
		return err
	}

	d.deps.logger.WithContext(ctx).WithField("destination", d.definition.Name).Info("received 401, refreshing access token")

	refreshed, refreshErr := d.refreshWithHooks(ctx, settings, auth, opts)
	if refreshErr != nil {
		return refreshErr
	}

	return fn(refreshed)
}

func (d *Destination) refreshWithHooks(ctx context.Context, settings map[string]any, auth *AuthTokens, opts EventOptions) (*AuthTokens, error) {
	if opts.SynchronizeRefreshAccessToken != nil {
		release, err := opts.SynchronizeRefreshAccessToken(ctx)
		if err != nil {
			return nil, fmt.Errorf("synchronize token refresh: %w", err)
		}
		if release != nil {
			defer release()
		}
	}

	tokens, err := d.RefreshAccessToken(ctx, settings, auth)
	if err != nil {
		return nil, err
	}

	if opts.OnTokenRefresh != nil {
		if err := opts.OnTokenRefresh(ctx, *tokens); err != nil {
			return nil, fmt.Errorf("persist refreshed token: %w", err)
		}
	}

	return tokens.Apply(auth), nil
}

// RefreshAccessToken obtains a new access token through the injected refresher
// or, without one, the definition's RefreshAccessToken callback.
func (d *Destination) RefreshAccessToken(ctx context.Context, settings map[string]any, auth *AuthTokens) (*RefreshAccessTokenResult, error) {
	ctx, span := tracing.StartSpan(ctx, "Destination.RefreshAccessToken")
	defer span.End()

	if !d.isOAuth2() {
		return nil, maperr.NewIntegrationError("refreshAccessToken is only valid with oauth2 authentication scheme", "NotImplemented", http.StatusNotImplemented)
	}

	client := d.deps.client
	if d.definition.ExtendRequest != nil {
		client = client.Extend(d.definition.ExtendRequest(ExtendRequestInput{Settings: settings, Auth: auth}))
	}
	in := AuthInput{Settings: settings, Auth: auth}

	var (
		tokens *RefreshAccessTokenResult
		err    error
	)
	switch {
	case d.deps.refresher != nil:
		tokens, err = d.deps.refresher.RefreshAccessToken(ctx, client, in)
	case d.definition.Authentication.RefreshAccessToken != nil:
		tokens, err = d.definition.Authentication.RefreshAccessToken(ctx, client, in)
	default:
		err = maperr.NewIntegrationError("refreshAccessToken is not implemented", "NotImplemented", http.StatusNotImplemented)
	}

	if err == nil && (tokens == nil || tokens.AccessToken == "") {
		err = maperr.NewIntegrationError("token refresh returned no access token", "INVALID_AUTHENTICATION", http.StatusUnauthorized)
	}
	if err != nil {
		metrics.RecordTokenRefresh(d.definition.Name, "error")
		tracing.RecordError(span, err)
		return nil, err
	}

	metrics.RecordTokenRefresh(d.definition.Name, "success")
	return tokens, nil
}
