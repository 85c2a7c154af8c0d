package auth

import (
	"context"
	"crypto/rsa"
	"net/http"
	"net/url"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"cloudsdk/pkg/apperror"
)

// jwtBearerGrant is the OAuth2 grant type for JWT assertions.
const jwtBearerGrant = "urn:ietf:params:oauth:grant-type:jwt-bearer"

// defaultScope requests access to every Cloud API; services enforce finer
// grained IAM on top.
const defaultScope = "https://www.googleapis.com/auth/cloud-platform"

// assertionLifetime is how long signed JWT assertions stay valid.
const assertionLifetime = time.Hour

// ServiceAccountCredentials signs JWT assertions with a service account
// private key and exchanges them for access or ID tokens.
type ServiceAccountCredentials struct {
	email        string
	key          *rsa.PrivateKey
	keyID        string
	scopes       []string
	quotaProject string
	universe     string
	endpoint     string
	client       *http.Client
	cache        *tokenCache
}

// serviceAccountFile is the on-disk shape of a service_account ADC file.
type serviceAccountFile struct {
	ClientEmail    string `json:"client_email"`
	PrivateKey     string `json:"private_key"`
	PrivateKeyID   string `json:"private_key_id"`
	TokenURI       string `json:"token_uri"`
	QuotaProject   string `json:"quota_project_id"`
	UniverseDomain string `json:"universe_domain"`
}

// ServiceAccountOption configures ServiceAccountCredentials.
type ServiceAccountOption func(*ServiceAccountCredentials)

// WithScopes replaces the default cloud-platform scope.
func WithScopes(scopes ...string) ServiceAccountOption {
	return func(s *ServiceAccountCredentials) { s.scopes = scopes }
}

// WithServiceAccountHTTPClient overrides the HTTP client used to reach the
// token endpoint.
func WithServiceAccountHTTPClient(c *http.Client) ServiceAccountOption {
	return func(s *ServiceAccountCredentials) { s.client = c }
}

// WithServiceAccountTokenEndpoint overrides the token endpoint.
func WithServiceAccountTokenEndpoint(endpoint string) ServiceAccountOption {
	return func(s *ServiceAccountCredentials) { s.endpoint = endpoint }
}

// NewServiceAccountCredentials builds credentials from a parsed key file.
func NewServiceAccountCredentials(email, privateKeyPEM, keyID string, opts ...ServiceAccountOption) (*ServiceAccountCredentials, error) {
	key, err := jwt.ParseRSAPrivateKeyFromPEM([]byte(privateKeyPEM))
	if err != nil {
		return nil, apperror.Authentication(err, false)
	}
	s := &ServiceAccountCredentials{
		email:    email,
		key:      key,
		keyID:    keyID,
		scopes:   []string{defaultScope},
		endpoint: tokenEndpoint,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.cache = newTokenCache(s.fetchToken)
	return s, nil
}

func newServiceAccountFromFile(f serviceAccountFile, opts ...ServiceAccountOption) (*ServiceAccountCredentials, error) {
	s, err := NewServiceAccountCredentials(f.ClientEmail, f.PrivateKey, f.PrivateKeyID, opts...)
	if err != nil {
		return nil, err
	}
	s.quotaProject = f.QuotaProject
	s.universe = f.UniverseDomain
	if f.TokenURI != "" && s.endpoint == tokenEndpoint {
		s.endpoint = f.TokenURI
	}
	return s, nil
}

// signAssertion builds and signs the JWT the token endpoint expects.
func (s *ServiceAccountCredentials) signAssertion(claims jwt.MapClaims) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	if s.keyID != "" {
		token.Header["kid"] = s.keyID
	}
	signed, err := token.SignedString(s.key)
	if err != nil {
		return "", apperror.Authentication(err, false)
	}
	return signed, nil
}

func (s *ServiceAccountCredentials) fetchToken(ctx context.Context) (AccessToken, error) {
	now := time.Now()
	scope := ""
	for i, sc := range s.scopes {
		if i > 0 {
			scope += " "
		}
		scope += sc
	}
	assertion, err := s.signAssertion(jwt.MapClaims{
		"iss":   s.email,
		"scope": scope,
		"aud":   s.endpoint,
		"iat":   now.Unix(),
		"exp":   now.Add(assertionLifetime).Unix(),
	})
	if err != nil {
		return AccessToken{}, err
	}
	form := url.Values{
		"grant_type": {jwtBearerGrant},
		"assertion":  {assertion},
	}
	var resp tokenResponse
	if err := postForm(ctx, s.client, s.endpoint, form, &resp); err != nil {
		return AccessToken{}, err
	}
	return resp.accessToken(time.Now()), nil
}

// Headers implements Credentials.
func (s *ServiceAccountCredentials) Headers(ctx context.Context, ext Extensions) (CacheableHeaders, error) {
	return s.cache.headersFor(ctx, ext, s.quotaProject)
}

// UniverseDomain implements Credentials.
func (s *ServiceAccountCredentials) UniverseDomain(context.Context) (string, bool) {
	if s.universe != "" {
		return s.universe, true
	}
	return DefaultUniverseDomain, true
}

// ClientEmail returns the service account email, satisfying the signer
// interface.
func (s *ServiceAccountCredentials) ClientEmail(context.Context) (string, error) {
	return s.email, nil
}

// SignBytes signs payload with the private key using RSA PKCS#1 v1.5 over
// SHA-256, the algorithm v4 signed URLs require.
func (s *ServiceAccountCredentials) SignBytes(_ context.Context, payload []byte) ([]byte, error) {
	return signPKCS1v15(s.key, payload)
}

// IDTokenCredentials returns a credential producing ID tokens for the
// given audience, using the same key material.
func (s *ServiceAccountCredentials) IDTokenCredentials(audience string) *ServiceAccountIDTokens {
	idt := &ServiceAccountIDTokens{sa: s, audience: audience}
	idt.cache = newTokenCache(idt.fetchToken)
	return idt
}

// ServiceAccountIDTokens produces ID tokens for a fixed audience from a
// service account key.
type ServiceAccountIDTokens struct {
	sa       *ServiceAccountCredentials
	audience string
	cache    *tokenCache
}

func (s *ServiceAccountIDTokens) fetchToken(ctx context.Context) (AccessToken, error) {
	now := time.Now()
	assertion, err := s.sa.signAssertion(jwt.MapClaims{
		"iss":             s.sa.email,
		"aud":             s.sa.endpoint,
		"target_audience": s.audience,
		"iat":             now.Unix(),
		"exp":             now.Add(assertionLifetime).Unix(),
	})
	if err != nil {
		return AccessToken{}, err
	}
	form := url.Values{
		"grant_type": {jwtBearerGrant},
		"assertion":  {assertion},
	}
	var resp tokenResponse
	if err := postForm(ctx, s.sa.client, s.sa.endpoint, form, &resp); err != nil {
		return AccessToken{}, err
	}
	tok := AccessToken{Token: resp.IDToken, Type: "Bearer"}
	if exp, err := jwtExpiry(resp.IDToken); err == nil {
		tok.ExpiresAt = exp
	}
	return tok, nil
}

// Headers implements Credentials.
func (s *ServiceAccountIDTokens) Headers(ctx context.Context, ext Extensions) (CacheableHeaders, error) {
	return s.cache.headersFor(ctx, ext, s.sa.quotaProject)
}

// UniverseDomain implements Credentials.
func (s *ServiceAccountIDTokens) UniverseDomain(ctx context.Context) (string, bool) {
	return s.sa.UniverseDomain(ctx)
}
