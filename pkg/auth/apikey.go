package auth

import "context"

// APIKeyCredentials attaches a static API key. Keys identify a project
// rather than a principal and never refresh. The key may be sent either as
// the x-goog-api-key header (the default) or left to the transport to
// append as a ?key= query parameter.
type APIKeyCredentials struct {
	key      string
	asHeader bool
}

// NewAPIKeyCredentials builds API key credentials that send the key as a
// header.
func NewAPIKeyCredentials(key string) *APIKeyCredentials {
	return &APIKeyCredentials{key: key, asHeader: true}
}

// NewAPIKeyQueryCredentials builds API key credentials that expose the key
// for query-parameter transmission instead of producing a header.
func NewAPIKeyQueryCredentials(key string) *APIKeyCredentials {
	return &APIKeyCredentials{key: key}
}

// Key returns the raw key, for transports configured to use the ?key=
// query parameter.
func (a *APIKeyCredentials) Key() string { return a.key }

// apiKeyEtag never changes: the key is static.
const apiKeyEtag = "api-key"

// Headers implements Credentials.
func (a *APIKeyCredentials) Headers(_ context.Context, ext Extensions) (CacheableHeaders, error) {
	if etag, ok := ext.Etag(); ok && etag == apiKeyEtag {
		return CacheableHeaders{Etag: apiKeyEtag, NotModified: true}, nil
	}
	if !a.asHeader {
		return CacheableHeaders{Etag: apiKeyEtag}, nil
	}
	return CacheableHeaders{
		Etag:    apiKeyEtag,
		Headers: Headers{{Name: "x-goog-api-key", Value: a.key, Sensitive: true}},
	}, nil
}

// UniverseDomain implements Credentials. API keys carry no universe
// information.
func (a *APIKeyCredentials) UniverseDomain(context.Context) (string, bool) {
	return "", false
}

// AnonymousCredentials sends no auth material at all, for emulators and
// public resources.
type AnonymousCredentials struct{}

// NewAnonymousCredentials builds credentials that add nothing to requests.
func NewAnonymousCredentials() *AnonymousCredentials { return &AnonymousCredentials{} }

const anonymousEtag = "anonymous"

// Headers implements Credentials.
func (AnonymousCredentials) Headers(_ context.Context, ext Extensions) (CacheableHeaders, error) {
	if etag, ok := ext.Etag(); ok && etag == anonymousEtag {
		return CacheableHeaders{Etag: anonymousEtag, NotModified: true}, nil
	}
	return CacheableHeaders{Etag: anonymousEtag}, nil
}

// UniverseDomain implements Credentials.
func (AnonymousCredentials) UniverseDomain(context.Context) (string, bool) {
	return "", false
}
