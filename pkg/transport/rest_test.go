package transport

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"google.golang.org/grpc/codes"

	"cloudsdk/pkg/apperror"
	"cloudsdk/pkg/auth"
)

func newTestREST(t *testing.T, handler http.Handler) *REST {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	r, err := NewREST(RESTConfig{
		Endpoint:        srv.URL,
		DefaultEndpoint: srv.URL,
		Artifact:        "testsvc",
	})
	if err != nil {
		t.Fatal(err)
	}
	return r
}

// TestREST_StandardHeaders verifies identification, routing, and
// credential headers are applied.
func TestREST_StandardHeaders(t *testing.T) {
	var seen http.Header
	rest := newTestREST(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = r.Header.Clone()
		fmt.Fprint(w, `{"ok": true}`)
	}))

	creds := auth.Headers{
		{Name: "authorization", Value: "Bearer tok", Sensitive: true},
		{Name: "x-goog-user-project", Value: "quota-p"},
	}
	var out map[string]any
	err := rest.Do(context.Background(), &Call{
		Method:  http.MethodGet,
		Path:    "/v1/things/t1",
		Routing: map[string]string{"parent": "projects/p"},
	}, creds, &out)
	if err != nil {
		t.Fatal(err)
	}
	if got := seen.Get("x-goog-api-client"); !strings.HasPrefix(got, "gl-go/") || !strings.Contains(got, "gccl/testsvc/") {
		t.Errorf("x-goog-api-client = %q", got)
	}
	if got := seen.Get("x-goog-request-params"); got != "parent=projects%2Fp" {
		t.Errorf("x-goog-request-params = %q", got)
	}
	if got := seen.Get("authorization"); got != "Bearer tok" {
		t.Errorf("authorization = %q", got)
	}
	if got := seen.Get("x-goog-user-project"); got != "quota-p" {
		t.Errorf("x-goog-user-project = %q", got)
	}
	if seen.Get("user-agent") == "" {
		t.Error("user-agent missing")
	}
}

// TestREST_ServiceError verifies AIP-193 bodies decode into Service
// errors.
func TestREST_ServiceError(t *testing.T) {
	rest := newTestREST(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		fmt.Fprint(w, `{"error":{"code":429,"message":"slow down","status":"RESOURCE_EXHAUSTED"}}`)
	}))

	err := rest.Do(context.Background(), &Call{Method: http.MethodGet, Path: "/v1/x"}, nil, nil)
	appErr, ok := apperror.AsInner[*apperror.Error](err)
	if !ok || !appErr.IsService() {
		t.Fatalf("err = %v, want service error", err)
	}
	if appErr.Status().Code != codes.ResourceExhausted {
		t.Errorf("code = %v", appErr.Status().Code)
	}
}

// TestREST_TransportError verifies non-status bodies are preserved
// verbatim.
func TestREST_TransportError(t *testing.T) {
	rest := newTestREST(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("content-type", "text/html")
		w.WriteHeader(http.StatusBadGateway)
		fmt.Fprint(w, "<html>upstream sad</html>")
	}))

	err := rest.Do(context.Background(), &Call{Method: http.MethodGet, Path: "/v1/x"}, nil, nil)
	appErr, ok := apperror.AsInner[*apperror.Error](err)
	if !ok || !appErr.IsTransport() {
		t.Fatalf("err = %v, want transport error", err)
	}
	if appErr.HTTPStatusCode() != http.StatusBadGateway {
		t.Errorf("status = %d", appErr.HTTPStatusCode())
	}
	if appErr.HTTPHeaders().Get("content-type") != "text/html" {
		t.Error("headers not preserved")
	}
}

// TestREST_QueryComposition verifies the final URL carries the query.
func TestREST_QueryComposition(t *testing.T) {
	var gotURL *url.URL
	rest := newTestREST(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u := *r.URL
		gotURL = &u
		fmt.Fprint(w, `{}`)
	}))

	q := url.Values{}
	q.Set("alt", "media")
	q.Set("ifGenerationMatch", "0")
	err := rest.Do(context.Background(), &Call{Method: http.MethodGet, Path: "/v1/x", Query: q}, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if gotURL.Query().Get("alt") != "media" || gotURL.Query().Get("ifGenerationMatch") != "0" {
		t.Errorf("query = %q", gotURL.RawQuery)
	}
}

// TestREST_AbsoluteURL verifies session-URL requests skip endpoint
// composition.
func TestREST_AbsoluteURL(t *testing.T) {
	var path string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		fmt.Fprint(w, `{}`)
	}))
	defer srv.Close()
	rest := newTestREST(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("request should not reach the endpoint host")
	}))

	err := rest.Do(context.Background(), &Call{
		Method:      http.MethodPut,
		AbsoluteURL: srv.URL + "/upload/session/abc123",
	}, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if path != "/upload/session/abc123" {
		t.Errorf("path = %q", path)
	}
}

// TestUserAgentAndAPIClient verifies the header builders include the
// library identity.
func TestUserAgentAndAPIClient(t *testing.T) {
	if got := APIClientHeader("storage"); !strings.Contains(got, "gccl/storage/"+ClientVersion) {
		t.Errorf("APIClientHeader = %q", got)
	}
	if got := UserAgent("storage"); !strings.HasPrefix(got, "storage/"+ClientVersion) {
		t.Errorf("UserAgent = %q", got)
	}
}

// TestRequestParams verifies stable ordering and URL encoding.
func TestRequestParams(t *testing.T) {
	got := RequestParams(map[string]string{
		"table_name": "projects/p/instances/i",
		"app_id":     "a&b",
	})
	if got != "app_id=a%26b&table_name=projects%2Fp%2Finstances%2Fi" {
		t.Errorf("RequestParams = %q", got)
	}
	if RequestParams(nil) != "" {
		t.Error("empty routing should produce no header")
	}
}
