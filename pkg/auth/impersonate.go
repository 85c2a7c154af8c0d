package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"cloudsdk/pkg/apperror"
	"cloudsdk/pkg/wkt"
)

// iamCredentialsEndpoint is the service that mints tokens on behalf of
// other service accounts.
const iamCredentialsEndpoint = "https://iamcredentials.googleapis.com"

// ImpersonatedCredentials exchanges tokens from a source credential for
// access tokens of a target service account via the IAM Credentials
// generateAccessToken RPC.
type ImpersonatedCredentials struct {
	source       Credentials
	targetEmail  string
	delegates    []string
	scopes       []string
	lifetime     time.Duration
	quotaProject string
	endpoint     string
	client       *http.Client
	cache        *tokenCache
}

// impersonatedFile is the on-disk shape of an impersonated_service_account
// ADC file. The source credential nests inside.
type impersonatedFile struct {
	ServiceAccountImpersonationURL string          `json:"service_account_impersonation_url"`
	Delegates                      []string        `json:"delegates"`
	SourceCredentials              json.RawMessage `json:"source_credentials"`
	QuotaProject                   string          `json:"quota_project_id"`
}

// ImpersonateOption configures ImpersonatedCredentials.
type ImpersonateOption func(*ImpersonatedCredentials)

// WithDelegates sets the delegation chain.
func WithDelegates(delegates ...string) ImpersonateOption {
	return func(i *ImpersonatedCredentials) { i.delegates = delegates }
}

// WithImpersonateScopes replaces the default cloud-platform scope.
func WithImpersonateScopes(scopes ...string) ImpersonateOption {
	return func(i *ImpersonatedCredentials) { i.scopes = scopes }
}

// WithImpersonateLifetime bounds the minted token lifetime.
func WithImpersonateLifetime(d time.Duration) ImpersonateOption {
	return func(i *ImpersonatedCredentials) { i.lifetime = d }
}

// WithImpersonateEndpoint overrides the IAM Credentials endpoint, for
// tests.
func WithImpersonateEndpoint(endpoint string) ImpersonateOption {
	return func(i *ImpersonatedCredentials) { i.endpoint = endpoint }
}

// WithImpersonateHTTPClient overrides the HTTP client.
func WithImpersonateHTTPClient(c *http.Client) ImpersonateOption {
	return func(i *ImpersonatedCredentials) { i.client = c }
}

// NewImpersonatedCredentials builds credentials that act as targetEmail,
// authenticating the exchange with source.
func NewImpersonatedCredentials(source Credentials, targetEmail string, opts ...ImpersonateOption) *ImpersonatedCredentials {
	i := &ImpersonatedCredentials{
		source:      source,
		targetEmail: targetEmail,
		scopes:      []string{defaultScope},
		lifetime:    time.Hour,
		endpoint:    iamCredentialsEndpoint,
	}
	for _, opt := range opts {
		opt(i)
	}
	i.cache = newTokenCache(i.fetchToken)
	return i
}

func (i *ImpersonatedCredentials) fetchToken(ctx context.Context) (AccessToken, error) {
	sourceHeaders, err := i.source.Headers(ctx, Extensions{})
	if err != nil {
		return AccessToken{}, err
	}
	endpoint := fmt.Sprintf("%s/v1/projects/-/serviceAccounts/%s:generateAccessToken", i.endpoint, i.targetEmail)
	body := map[string]any{
		"scope":    i.scopes,
		"lifetime": wkt.FormatDuration(i.lifetime),
	}
	if len(i.delegates) > 0 {
		body["delegates"] = i.delegates
	}
	var resp struct {
		AccessToken string `json:"accessToken"`
		ExpireTime  string `json:"expireTime"`
	}
	if err := postJSON(ctx, i.client, endpoint, sourceHeaders.Headers, body, &resp); err != nil {
		return AccessToken{}, err
	}
	tok := AccessToken{Token: resp.AccessToken, Type: "Bearer"}
	if resp.ExpireTime != "" {
		if exp, err := wkt.ParseTimestamp(resp.ExpireTime); err == nil {
			tok.ExpiresAt = exp
		}
	}
	return tok, nil
}

// Headers implements Credentials.
func (i *ImpersonatedCredentials) Headers(ctx context.Context, ext Extensions) (CacheableHeaders, error) {
	return i.cache.headersFor(ctx, ext, i.quotaProject)
}

// UniverseDomain implements Credentials, deferring to the source
// credential.
func (i *ImpersonatedCredentials) UniverseDomain(ctx context.Context) (string, bool) {
	return i.source.UniverseDomain(ctx)
}

// ClientEmail returns the impersonated account, satisfying the signer
// interface.
func (i *ImpersonatedCredentials) ClientEmail(context.Context) (string, error) {
	return i.targetEmail, nil
}

// IDTokenCredentials returns a credential minting ID tokens for the target
// account via generateIdToken.
func (i *ImpersonatedCredentials) IDTokenCredentials(audience string, includeEmail bool) *ImpersonatedIDTokens {
	idt := &ImpersonatedIDTokens{imp: i, audience: audience, includeEmail: includeEmail}
	idt.cache = newTokenCache(idt.fetchToken)
	return idt
}

// ImpersonatedIDTokens produces ID tokens for a fixed audience through the
// IAM Credentials generateIdToken RPC.
type ImpersonatedIDTokens struct {
	imp          *ImpersonatedCredentials
	audience     string
	includeEmail bool
	cache        *tokenCache
}

func (s *ImpersonatedIDTokens) fetchToken(ctx context.Context) (AccessToken, error) {
	sourceHeaders, err := s.imp.source.Headers(ctx, Extensions{})
	if err != nil {
		return AccessToken{}, err
	}
	endpoint := fmt.Sprintf("%s/v1/projects/-/serviceAccounts/%s:generateIdToken", s.imp.endpoint, s.imp.targetEmail)
	body := map[string]any{
		"audience":     s.audience,
		"includeEmail": s.includeEmail,
	}
	if len(s.imp.delegates) > 0 {
		body["delegates"] = s.imp.delegates
	}
	var resp struct {
		Token string `json:"token"`
	}
	if err := postJSON(ctx, s.imp.client, endpoint, sourceHeaders.Headers, body, &resp); err != nil {
		return AccessToken{}, err
	}
	tok := AccessToken{Token: resp.Token, Type: "Bearer"}
	if exp, err := jwtExpiry(resp.Token); err == nil {
		tok.ExpiresAt = exp
	} else {
		return AccessToken{}, apperror.Authentication(err, false)
	}
	return tok, nil
}

// Headers implements Credentials.
func (s *ImpersonatedIDTokens) Headers(ctx context.Context, ext Extensions) (CacheableHeaders, error) {
	return s.cache.headersFor(ctx, ext, s.imp.quotaProject)
}

// UniverseDomain implements Credentials.
func (s *ImpersonatedIDTokens) UniverseDomain(ctx context.Context) (string, bool) {
	return s.imp.UniverseDomain(ctx)
}
