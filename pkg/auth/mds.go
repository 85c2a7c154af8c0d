package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"cloudsdk/pkg/apperror"
)

// metadataFlavor is the header every metadata-server request must carry.
const metadataFlavor = "Google"

// metadataRoot resolves the metadata server base URL once per process.
// GCE_METADATA_HOST overrides the host; GCE_METADATA_ROOT overrides the
// whole URL.
var metadataRoot = sync.OnceValue(func() string {
	if root := os.Getenv("GCE_METADATA_ROOT"); root != "" {
		if !strings.Contains(root, "://") {
			return "http://" + root
		}
		return root
	}
	host := os.Getenv("GCE_METADATA_HOST")
	if host == "" {
		host = "metadata.google.internal"
	}
	return "http://" + host
})

// MDSCredentials obtains tokens from the Compute Engine metadata server.
type MDSCredentials struct {
	// account is the service account to act as; "default" unless set.
	account      string
	quotaProject string
	scopes       []string
	root         string
	client       *http.Client
	cache        *tokenCache
	email        onceCell[string]
	universe     onceCell[string]
}

// MDSOption configures MDSCredentials.
type MDSOption func(*MDSCredentials)

// WithMDSAccount selects a service account other than "default".
func WithMDSAccount(email string) MDSOption {
	return func(m *MDSCredentials) { m.account = email }
}

// WithMDSScopes requests scoped tokens.
func WithMDSScopes(scopes ...string) MDSOption {
	return func(m *MDSCredentials) { m.scopes = scopes }
}

// WithMDSRoot overrides the metadata server URL, for tests.
func WithMDSRoot(root string) MDSOption {
	return func(m *MDSCredentials) { m.root = root }
}

// WithMDSHTTPClient overrides the HTTP client.
func WithMDSHTTPClient(c *http.Client) MDSOption {
	return func(m *MDSCredentials) { m.client = c }
}

// WithMDSQuotaProject adds the x-goog-user-project header.
func WithMDSQuotaProject(project string) MDSOption {
	return func(m *MDSCredentials) { m.quotaProject = project }
}

// NewMDSCredentials builds metadata-server credentials.
func NewMDSCredentials(opts ...MDSOption) *MDSCredentials {
	m := &MDSCredentials{account: "default"}
	for _, opt := range opts {
		opt(m)
	}
	if m.root == "" {
		m.root = metadataRoot()
	}
	m.cache = newTokenCache(m.fetchToken)
	return m
}

// get fetches one metadata path. The metadata server is local, but a VM
// under load can still time out; such failures are transient.
func (m *MDSCredentials) get(ctx context.Context, path string, query url.Values) ([]byte, error) {
	u := m.root + "/computeMetadata/v1/" + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, apperror.Authentication(err, false)
	}
	req.Header.Set("metadata-flavor", metadataFlavor)
	client := m.client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, apperror.Authentication(err, true)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, apperror.Authentication(err, true)
	}
	if resp.StatusCode != http.StatusOK {
		transient := resp.StatusCode >= 500
		return nil, apperror.Authentication(
			fmt.Errorf("metadata server returned status %d for %s", resp.StatusCode, path), transient)
	}
	return body, nil
}

func (m *MDSCredentials) fetchToken(ctx context.Context) (AccessToken, error) {
	query := url.Values{}
	if len(m.scopes) > 0 {
		query.Set("scopes", strings.Join(m.scopes, ","))
	}
	body, err := m.get(ctx, "instance/service-accounts/"+m.account+"/token", query)
	if err != nil {
		return AccessToken{}, err
	}
	var resp tokenResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return AccessToken{}, apperror.Authentication(err, false)
	}
	return resp.accessToken(time.Now()), nil
}

// Headers implements Credentials.
func (m *MDSCredentials) Headers(ctx context.Context, ext Extensions) (CacheableHeaders, error) {
	return m.cache.headersFor(ctx, ext, m.quotaProject)
}

// UniverseDomain implements Credentials. The domain is served by the
// metadata server and cached for the life of the credential.
func (m *MDSCredentials) UniverseDomain(ctx context.Context) (string, bool) {
	domain, err := m.universe.getOrInit(func() (string, error) {
		body, err := m.get(ctx, "universe/universe-domain", nil)
		if err != nil {
			return "", err
		}
		return strings.TrimSpace(string(body)), nil
	})
	if err != nil || domain == "" {
		return DefaultUniverseDomain, true
	}
	return domain, true
}

// ClientEmail discovers the service account email, satisfying the signer
// interface.
func (m *MDSCredentials) ClientEmail(ctx context.Context) (string, error) {
	return m.email.getOrInit(func() (string, error) {
		body, err := m.get(ctx, "instance/service-accounts/"+m.account+"/email", nil)
		if err != nil {
			return "", err
		}
		return strings.TrimSpace(string(body)), nil
	})
}
