package auth

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"cloudsdk/pkg/apperror"
)

// expiryMargin is subtracted from a token's lifetime so a token is
// refreshed before servers start rejecting it.
const expiryMargin = 30 * time.Second

// tokenFetcher is the variant-specific refresh RPC.
type tokenFetcher func(ctx context.Context) (AccessToken, error)

// tokenCache is the expiring single-slot cache every token-bearing
// credential embeds. Refresh is deduplicated: when N goroutines find the
// token expired, one fetch fires and all N receive its result. A failed
// refresh returns the error to all waiters without poisoning the slot.
type tokenCache struct {
	fetch tokenFetcher

	mu      sync.Mutex
	group   singleflight.Group
	token   AccessToken
	headers Headers
	etag    string
	valid   bool
}

func newTokenCache(fetch tokenFetcher) *tokenCache {
	return &tokenCache{fetch: fetch}
}

// headersFor returns cached headers, refreshing the token when expired.
// quotaProject is fixed per credential, so it participates in the cached
// header set.
func (c *tokenCache) headersFor(ctx context.Context, ext Extensions, quotaProject string) (CacheableHeaders, error) {
	c.mu.Lock()
	if c.valid && !expired(c.token) {
		res := c.cachedLocked(ext)
		c.mu.Unlock()
		return res, nil
	}
	c.mu.Unlock()

	_, err, _ := c.group.Do("token", func() (any, error) {
		c.mu.Lock()
		if c.valid && !expired(c.token) {
			c.mu.Unlock()
			return nil, nil
		}
		c.mu.Unlock()
		tok, err := c.fetch(ctx)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.token = tok
		c.headers = buildAuthHeaders(tok, quotaProject)
		c.etag = uuid.NewString()
		c.valid = true
		c.mu.Unlock()
		return nil, nil
	})
	if err != nil {
		if appErr, ok := apperror.AsInner[*apperror.Error](err); ok {
			return CacheableHeaders{}, appErr
		}
		return CacheableHeaders{}, apperror.Authentication(err, false)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cachedLocked(ext), nil
}

func (c *tokenCache) cachedLocked(ext Extensions) CacheableHeaders {
	if etag, ok := ext.Etag(); ok && etag == c.etag {
		return CacheableHeaders{Etag: c.etag, NotModified: true}
	}
	return CacheableHeaders{Etag: c.etag, Headers: c.headers}
}

func expired(tok AccessToken) bool {
	if tok.ExpiresAt.IsZero() {
		return false
	}
	return time.Now().After(tok.ExpiresAt.Add(-expiryMargin))
}

// onceCell caches the first successful result of a discovery call, such as
// the client email behind a metadata-server signer.
type onceCell[T any] struct {
	mu    sync.Mutex
	value T
	set   bool
}

// getOrInit returns the cached value, calling init on first use. Failed
// initializations are not cached.
func (c *onceCell[T]) getOrInit(init func() (T, error)) (T, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.set {
		return c.value, nil
	}
	v, err := init()
	if err != nil {
		return v, err
	}
	c.value = v
	c.set = true
	return v, nil
}
