package auth

import (
	"context"
	"net/http"
	"net/url"
	"time"
)

// UserCredentials exchanges a long-lived OAuth2 refresh token (the
// "authorized_user" ADC type produced by gcloud) for access tokens.
type UserCredentials struct {
	clientID     string
	clientSecret string
	refreshToken string
	quotaProject string
	endpoint     string
	client       *http.Client
	cache        *tokenCache
}

// userCredentialsFile is the on-disk shape of an authorized_user ADC file.
type userCredentialsFile struct {
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
	RefreshToken string `json:"refresh_token"`
	QuotaProject string `json:"quota_project_id"`
}

// UserOption configures UserCredentials.
type UserOption func(*UserCredentials)

// WithUserHTTPClient overrides the HTTP client used to reach the token
// endpoint.
func WithUserHTTPClient(c *http.Client) UserOption {
	return func(u *UserCredentials) { u.client = c }
}

// WithUserTokenEndpoint overrides the token endpoint, for tests and
// private deployments.
func WithUserTokenEndpoint(endpoint string) UserOption {
	return func(u *UserCredentials) { u.endpoint = endpoint }
}

// NewUserCredentials builds credentials from refresh token material.
func NewUserCredentials(clientID, clientSecret, refreshToken, quotaProject string, opts ...UserOption) *UserCredentials {
	u := &UserCredentials{
		clientID:     clientID,
		clientSecret: clientSecret,
		refreshToken: refreshToken,
		quotaProject: quotaProject,
		endpoint:     tokenEndpoint,
	}
	for _, opt := range opts {
		opt(u)
	}
	u.cache = newTokenCache(u.fetchToken)
	return u
}

func (u *UserCredentials) fetchToken(ctx context.Context) (AccessToken, error) {
	form := url.Values{
		"grant_type":    {"refresh_token"},
		"client_id":     {u.clientID},
		"client_secret": {u.clientSecret},
		"refresh_token": {u.refreshToken},
	}
	var resp tokenResponse
	if err := postForm(ctx, u.client, u.endpoint, form, &resp); err != nil {
		return AccessToken{}, err
	}
	return resp.accessToken(time.Now()), nil
}

// Headers implements Credentials.
func (u *UserCredentials) Headers(ctx context.Context, ext Extensions) (CacheableHeaders, error) {
	return u.cache.headersFor(ctx, ext, u.quotaProject)
}

// UniverseDomain implements Credentials. User credentials always belong to
// the default universe.
func (u *UserCredentials) UniverseDomain(context.Context) (string, bool) {
	return DefaultUniverseDomain, true
}
