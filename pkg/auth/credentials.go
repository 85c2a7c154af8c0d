// Package auth acquires, caches, and applies Google authentication
// material. It implements the recognized credential types (service account
// keys, user refresh tokens, metadata-server tokens, workload identity
// federation, impersonation, API keys, and anonymous), Application Default
// Credentials discovery, request signers, and universe-domain resolution.
//
// Credentials are cheap reference-counted handles: clone them freely across
// goroutines. Token refresh is serialized internally so concurrent calls
// share a single RPC to the token endpoint.
package auth

import (
	"context"
	"time"
)

// AccessToken is an OAuth2 access token plus its metadata.
type AccessToken struct {
	// Token is the opaque token value.
	Token string
	// Type is the scheme used in the Authorization header, usually
	// "Bearer".
	Type string
	// ExpiresAt is when the token stops working. The zero value means the
	// token does not expire.
	ExpiresAt time.Time
	// Metadata carries provider-specific extras.
	Metadata map[string]string
}

// IDToken is a signed JWT asserting the caller's identity for a specific
// audience.
type IDToken struct {
	Token     string
	ExpiresAt time.Time
}

// Header is a single header produced by a credential. Sensitive values must
// not be logged.
type Header struct {
	Name      string
	Value     string
	Sensitive bool
}

// Headers is the ordered list of headers a credential injects into a
// request.
type Headers []Header

// CacheableHeaders is the result of Credentials.Headers. When the caller
// passed the current entity tag in the extensions and nothing changed, the
// credential returns NotModified=true and omits the data, letting the
// caller reuse its previous headers.
type CacheableHeaders struct {
	// Etag identifies this generation of headers.
	Etag string
	// Headers is the payload; empty when NotModified.
	Headers Headers
	// NotModified is set when the caller's etag still matches.
	NotModified bool
}

// Extensions is a small type-indexed container of request-context values
// passed to the credential fetch: a deadline hint, the caller's cached
// entity tag, and similar. Keys are private sentinel types, so packages
// cannot collide.
type Extensions struct {
	m map[any]any
}

type etagKey struct{}
type deadlineHintKey struct{}

// WithEtag returns a copy of ext carrying the caller's cached entity tag.
func (e Extensions) WithEtag(etag string) Extensions { return e.with(etagKey{}, etag) }

// Etag returns the caller's cached entity tag, if any.
func (e Extensions) Etag() (string, bool) {
	v, ok := e.m[etagKey{}]
	if !ok {
		return "", false
	}
	return v.(string), true
}

// WithDeadlineHint returns a copy of ext carrying the attempt deadline, so
// credentials can bound their own token fetch.
func (e Extensions) WithDeadlineHint(d time.Time) Extensions { return e.with(deadlineHintKey{}, d) }

// DeadlineHint returns the attempt deadline, if any.
func (e Extensions) DeadlineHint() (time.Time, bool) {
	v, ok := e.m[deadlineHintKey{}]
	if !ok {
		return time.Time{}, false
	}
	return v.(time.Time), true
}

func (e Extensions) with(key, value any) Extensions {
	m := make(map[any]any, len(e.m)+1)
	for k, v := range e.m {
		m[k] = v
	}
	m[key] = value
	return Extensions{m: m}
}

// Credentials produces auth headers for requests. Implementations cache
// tokens internally and are safe for concurrent use.
type Credentials interface {
	// Headers returns the headers to inject into the next request,
	// fetching or refreshing tokens as needed.
	Headers(ctx context.Context, ext Extensions) (CacheableHeaders, error)
	// UniverseDomain returns the top-level domain the credential belongs
	// to, or ok=false when unknown. The default universe is
	// "googleapis.com".
	UniverseDomain(ctx context.Context) (string, bool)
}

// DefaultUniverseDomain is the universe every credential belongs to unless
// it says otherwise.
const DefaultUniverseDomain = "googleapis.com"

// buildAuthHeaders assembles the standard header set for a bearer token.
func buildAuthHeaders(tok AccessToken, quotaProject string) Headers {
	typ := tok.Type
	if typ == "" {
		typ = "Bearer"
	}
	h := Headers{{Name: "authorization", Value: typ + " " + tok.Token, Sensitive: true}}
	if quotaProject != "" {
		h = append(h, Header{Name: "x-goog-user-project", Value: quotaProject})
	}
	return h
}
