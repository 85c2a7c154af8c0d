package auth

import (
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// tokenServer fakes the OAuth2 token endpoint, counting requests.
func tokenServer(t *testing.T, expiresIn int64) (*httptest.Server, *atomic.Int64) {
	t.Helper()
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		require.NoError(t, r.ParseForm())
		w.Header().Set("content-type", "application/json")
		fmt.Fprintf(w, `{"access_token":"token-%d","token_type":"Bearer","expires_in":%d}`,
			calls.Load(), expiresIn)
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

// TestUserCredentials_Refresh verifies the refresh-token grant and header
// shape.
func TestUserCredentials_Refresh(t *testing.T) {
	srv, calls := tokenServer(t, 3600)
	creds := NewUserCredentials("id", "secret", "refresh", "quota-proj",
		WithUserTokenEndpoint(srv.URL))

	got, err := creds.Headers(context.Background(), Extensions{})
	require.NoError(t, err)
	require.Len(t, got.Headers, 2)
	assert.Equal(t, "authorization", got.Headers[0].Name)
	assert.Equal(t, "Bearer token-1", got.Headers[0].Value)
	assert.True(t, got.Headers[0].Sensitive)
	assert.Equal(t, "x-goog-user-project", got.Headers[1].Name)
	assert.Equal(t, "quota-proj", got.Headers[1].Value)
	assert.EqualValues(t, 1, calls.Load())

	// The cached token is reused until expiry.
	again, err := creds.Headers(context.Background(), Extensions{})
	require.NoError(t, err)
	assert.Equal(t, got.Etag, again.Etag)
	assert.EqualValues(t, 1, calls.Load())
}

// TestUserCredentials_EtagShortCircuit verifies NotModified when the
// caller already holds the current headers.
func TestUserCredentials_EtagShortCircuit(t *testing.T) {
	srv, _ := tokenServer(t, 3600)
	creds := NewUserCredentials("id", "secret", "refresh", "",
		WithUserTokenEndpoint(srv.URL))

	first, err := creds.Headers(context.Background(), Extensions{})
	require.NoError(t, err)
	require.False(t, first.NotModified)

	second, err := creds.Headers(context.Background(), Extensions{}.WithEtag(first.Etag))
	require.NoError(t, err)
	assert.True(t, second.NotModified)
	assert.Empty(t, second.Headers)

	third, err := creds.Headers(context.Background(), Extensions{}.WithEtag("stale"))
	require.NoError(t, err)
	assert.False(t, third.NotModified)
}

// TestTokenCache_RefreshDedup verifies N concurrent callers share one
// refresh RPC.
func TestTokenCache_RefreshDedup(t *testing.T) {
	var calls atomic.Int64
	gate := make(chan struct{})
	cache := newTokenCache(func(ctx context.Context) (AccessToken, error) {
		calls.Add(1)
		<-gate
		return AccessToken{Token: "tok", ExpiresAt: time.Now().Add(time.Hour)}, nil
	})

	const n = 16
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = cache.headersFor(context.Background(), Extensions{}, "")
		}(i)
	}
	// Give everyone time to pile onto the in-flight refresh.
	time.Sleep(50 * time.Millisecond)
	close(gate)
	wg.Wait()

	for i, err := range errs {
		require.NoError(t, err, "caller %d", i)
	}
	assert.EqualValues(t, 1, calls.Load(), "refresh RPC should fire once")
}

// TestTokenCache_FailedRefreshNotCached verifies a failure reaches all
// waiters without poisoning the slot.
func TestTokenCache_FailedRefreshNotCached(t *testing.T) {
	var calls atomic.Int64
	cache := newTokenCache(func(ctx context.Context) (AccessToken, error) {
		if calls.Add(1) == 1 {
			return AccessToken{}, fmt.Errorf("endpoint down")
		}
		return AccessToken{Token: "tok", ExpiresAt: time.Now().Add(time.Hour)}, nil
	})

	_, err := cache.headersFor(context.Background(), Extensions{}, "")
	require.Error(t, err)

	got, err := cache.headersFor(context.Background(), Extensions{}, "")
	require.NoError(t, err)
	assert.NotEmpty(t, got.Headers)
	assert.EqualValues(t, 2, calls.Load())
}

// TestMDSCredentials verifies token fetch, email discovery, and universe
// domain against a fake metadata server.
func TestMDSCredentials(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "Google", r.Header.Get("metadata-flavor"))
		switch r.URL.Path {
		case "/computeMetadata/v1/instance/service-accounts/default/token":
			fmt.Fprint(w, `{"access_token":"mds-token","token_type":"Bearer","expires_in":3600}`)
		case "/computeMetadata/v1/instance/service-accounts/default/email":
			fmt.Fprint(w, "robot@developer.gserviceaccount.com\n")
		case "/computeMetadata/v1/universe/universe-domain":
			fmt.Fprint(w, "googleapis.mil")
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	creds := NewMDSCredentials(WithMDSRoot(srv.URL))
	got, err := creds.Headers(context.Background(), Extensions{})
	require.NoError(t, err)
	require.Len(t, got.Headers, 1)
	assert.Equal(t, "Bearer mds-token", got.Headers[0].Value)

	email, err := creds.ClientEmail(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "robot@developer.gserviceaccount.com", email)

	domain, ok := creds.UniverseDomain(context.Background())
	assert.True(t, ok)
	assert.Equal(t, "googleapis.mil", domain)
}

// TestMDSCredentials_TransientFailure verifies 5xx classifies as
// transient.
func TestMDSCredentials_TransientFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	creds := NewMDSCredentials(WithMDSRoot(srv.URL))
	_, err := creds.Headers(context.Background(), Extensions{})
	require.Error(t, err)
	appErr := requireAppError(t, err)
	assert.True(t, appErr.IsAuthentication())
	assert.True(t, appErr.IsTransient())
}

// TestServiceAccountCredentials verifies the JWT-bearer exchange.
func TestServiceAccountCredentials(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	keyPEM := pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(key),
	})

	var sawAssertion atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, jwtBearerGrant, r.Form.Get("grant_type"))
		sawAssertion.Store(r.Form.Get("assertion") != "")
		fmt.Fprint(w, `{"access_token":"sa-token","token_type":"Bearer","expires_in":3600}`)
	}))
	defer srv.Close()

	creds, err := NewServiceAccountCredentials("sa@proj.iam.gserviceaccount.com", string(keyPEM), "kid-1",
		WithServiceAccountTokenEndpoint(srv.URL))
	require.NoError(t, err)

	got, err := creds.Headers(context.Background(), Extensions{})
	require.NoError(t, err)
	assert.Equal(t, "Bearer sa-token", got.Headers[0].Value)
	assert.True(t, sawAssertion.Load())

	// The same key signs blobs for v4 signed URLs.
	sig, err := creds.SignBytes(context.Background(), []byte("payload"))
	require.NoError(t, err)
	digest := sha256.Sum256([]byte("payload"))
	require.NoError(t, rsa.VerifyPKCS1v15(&key.PublicKey, crypto.SHA256, digest[:], sig))
}

// TestAPIKeyCredentials verifies the header and query variants.
func TestAPIKeyCredentials(t *testing.T) {
	header := NewAPIKeyCredentials("key-123")
	got, err := header.Headers(context.Background(), Extensions{})
	require.NoError(t, err)
	require.Len(t, got.Headers, 1)
	assert.Equal(t, "x-goog-api-key", got.Headers[0].Name)
	assert.True(t, got.Headers[0].Sensitive)

	query := NewAPIKeyQueryCredentials("key-123")
	got, err = query.Headers(context.Background(), Extensions{})
	require.NoError(t, err)
	assert.Empty(t, got.Headers)
	assert.Equal(t, "key-123", query.Key())

	_, ok := header.UniverseDomain(context.Background())
	assert.False(t, ok)
}

// TestAnonymousCredentials verifies no headers are produced.
func TestAnonymousCredentials(t *testing.T) {
	creds := NewAnonymousCredentials()
	got, err := creds.Headers(context.Background(), Extensions{})
	require.NoError(t, err)
	assert.Empty(t, got.Headers)

	cached, err := creds.Headers(context.Background(), Extensions{}.WithEtag(got.Etag))
	require.NoError(t, err)
	assert.True(t, cached.NotModified)
}

// TestImpersonatedCredentials verifies the generateAccessToken exchange.
func TestImpersonatedCredentials(t *testing.T) {
	expire := time.Now().Add(30 * time.Minute).UTC().Format(time.RFC3339)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/projects/-/serviceAccounts/target@proj.iam.gserviceaccount.com:generateAccessToken", r.URL.Path)
		assert.Contains(t, r.Header.Get("authorization"), "Bearer ")
		fmt.Fprintf(w, `{"accessToken":"imp-token","expireTime":%q}`, expire)
	}))
	defer srv.Close()

	source := &staticCredentials{token: "source-token"}
	creds := NewImpersonatedCredentials(source, "target@proj.iam.gserviceaccount.com",
		WithImpersonateEndpoint(srv.URL))

	got, err := creds.Headers(context.Background(), Extensions{})
	require.NoError(t, err)
	assert.Equal(t, "Bearer imp-token", got.Headers[0].Value)
}

// TestExternalAccountCredentials verifies the STS exchange from a file
// sourced subject token.
func TestExternalAccountCredentials(t *testing.T) {
	subjectFile := t.TempDir() + "/subject"
	require.NoError(t, writeFile(subjectFile, "external-subject-token"))

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, tokenExchangeGrant, r.Form.Get("grant_type"))
		assert.Equal(t, "external-subject-token", r.Form.Get("subject_token"))
		assert.Equal(t, "//iam.googleapis.com/projects/1/locations/global/workloadIdentityPools/p/providers/x", r.Form.Get("audience"))
		fmt.Fprint(w, `{"access_token":"federated-token","token_type":"Bearer","expires_in":3600}`)
	}))
	defer srv.Close()

	creds := NewExternalAccountCredentials(
		"//iam.googleapis.com/projects/1/locations/global/workloadIdentityPools/p/providers/x",
		"urn:ietf:params:oauth:token-type:jwt",
		&FileSubjectTokenProvider{Path: subjectFile},
		WithSTSEndpoint(srv.URL))

	got, err := creds.Headers(context.Background(), Extensions{})
	require.NoError(t, err)
	assert.Equal(t, "Bearer federated-token", got.Headers[0].Value)
}

// TestIAMSigner verifies the signBlob round trip.
func TestIAMSigner(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/projects/-/serviceAccounts/signer@proj.iam.gserviceaccount.com:signBlob", r.URL.Path)
		var body struct {
			Payload string `json:"payload"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		raw, err := base64.StdEncoding.DecodeString(body.Payload)
		require.NoError(t, err)
		fmt.Fprintf(w, `{"signedBlob":%q}`, base64.StdEncoding.EncodeToString(append([]byte("sig:"), raw...)))
	}))
	defer srv.Close()

	signer := &IAMSigner{
		Source:   &staticCredentials{token: "source"},
		Email:    "signer@proj.iam.gserviceaccount.com",
		Endpoint: srv.URL,
	}
	sig, err := signer.SignBytes(context.Background(), []byte("data"))
	require.NoError(t, err)
	assert.Equal(t, "sig:data", string(sig))
}

// TestFromJSON verifies the ADC type switch.
func TestFromJSON(t *testing.T) {
	tests := []struct {
		name     string
		contents string
		wantType any
		wantErr  bool
	}{
		{
			name:     "authorized user",
			contents: `{"type":"authorized_user","client_id":"c","client_secret":"s","refresh_token":"r"}`,
			wantType: &UserCredentials{},
		},
		{
			name:     "unknown type",
			contents: `{"type":"mystery"}`,
			wantErr:  true,
		},
		{
			name:     "not json",
			contents: `the dog ate my key file`,
			wantErr:  true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := FromJSON([]byte(tt.contents))
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.IsType(t, tt.wantType, got)
		})
	}
}

// staticCredentials is a fixed-token credential for tests.
type staticCredentials struct {
	token string
}

func (s *staticCredentials) Headers(context.Context, Extensions) (CacheableHeaders, error) {
	return CacheableHeaders{
		Etag:    "static",
		Headers: Headers{{Name: "authorization", Value: "Bearer " + s.token, Sensitive: true}},
	}, nil
}

func (s *staticCredentials) UniverseDomain(context.Context) (string, bool) {
	return DefaultUniverseDomain, true
}

func requireAppError(t *testing.T, err error) interface {
	IsAuthentication() bool
	IsTransient() bool
} {
	t.Helper()
	type predicates interface {
		IsAuthentication() bool
		IsTransient() bool
	}
	p, ok := err.(predicates)
	require.True(t, ok, "error %T does not expose predicates", err)
	return p
}

func writeFile(path, contents string) error {
	return os.WriteFile(path, []byte(contents), 0600)
}
