package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/http2"

	"cloudsdk/pkg/apperror"
	"cloudsdk/pkg/auth"
)

// RESTConfig configures a REST transport.
type RESTConfig struct {
	// Endpoint is the user-supplied override, empty for the default.
	Endpoint string
	// DefaultEndpoint is the service default, such as
	// "https://storage.googleapis.com".
	DefaultEndpoint string
	// Artifact is the short client name used in identification headers.
	Artifact string
	// UniverseDomain replaces googleapis.com in the default endpoint when
	// the credentials belong to another universe. Ignored when Endpoint is
	// set.
	UniverseDomain string
	// DisableDecompression turns off transparent gunzip of response
	// bodies.
	DisableDecompression bool
	// Client overrides the underlying HTTP client.
	Client *http.Client
}

// REST sends protojson requests over HTTP/1.1 and HTTP/2.
type REST struct {
	origin    *url.URL
	host      string
	client    *http.Client
	apiClient string
	userAgent string
}

// NewREST builds a REST transport.
func NewREST(cfg RESTConfig) (*REST, error) {
	defaultEndpoint := cfg.DefaultEndpoint
	if cfg.Endpoint == "" && cfg.UniverseDomain != "" && cfg.UniverseDomain != auth.DefaultUniverseDomain {
		defaultEndpoint = spliceUniverse(defaultEndpoint, cfg.UniverseDomain)
	}
	host, err := HostFromEndpoint(cfg.Endpoint, defaultEndpoint)
	if err != nil {
		return nil, err
	}
	dial := cfg.Endpoint
	if dial == "" {
		dial = defaultEndpoint
	}
	origin, err := parseEndpoint(dial)
	if err != nil {
		return nil, apperror.TransportErr(err)
	}
	client := cfg.Client
	if client == nil {
		tr := &http.Transport{
			ForceAttemptHTTP2:  true,
			DisableCompression: cfg.DisableDecompression,
		}
		// Keep long-lived streaming downloads alive across quiet periods.
		if h2, err := http2.ConfigureTransports(tr); err == nil {
			h2.ReadIdleTimeout = 30 * time.Second
		}
		client = &http.Client{Transport: tr}
	}
	return &REST{
		origin:    origin,
		host:      host,
		client:    client,
		apiClient: APIClientHeader(cfg.Artifact),
		userAgent: UserAgent(cfg.Artifact),
	}, nil
}

// spliceUniverse replaces the trailing googleapis.com of the default
// endpoint with the credential's universe domain.
func spliceUniverse(defaultEndpoint, universe string) string {
	return strings.Replace(defaultEndpoint, auth.DefaultUniverseDomain, universe, 1)
}

// Host returns the routing host resolved by HostFromEndpoint. It is not
// sent in any request header; x-goog-request-params carries only the
// call's routing pairs.
func (r *REST) Host() string { return r.host }

// Origin returns the scheme://authority requests are sent to.
func (r *REST) Origin() *url.URL { return r.origin }

// Call describes one HTTP request to send. The path is already bound; the
// URLTemplate is kept for span naming.
type Call struct {
	Method string
	Path   string
	// AbsoluteURL bypasses endpoint composition entirely, for server
	// issued URLs such as resumable upload sessions.
	AbsoluteURL string
	URLTemplate string
	Query       url.Values
	// Body is serialized as protojson when non-nil.
	Body any
	// RawBody takes precedence over Body, for uploads.
	RawBody     io.Reader
	ContentType string
	// Header carries call-specific headers such as Range or
	// Content-Range.
	Header http.Header
	// Routing feeds x-goog-request-params.
	Routing map[string]string
	// Resource is the full resource name, reported on spans.
	Resource string
}

// URL composes the final request URL.
func (r *REST) URL(call *Call) string {
	if call.AbsoluteURL != "" {
		if len(call.Query) == 0 {
			return call.AbsoluteURL
		}
		sep := "?"
		if strings.Contains(call.AbsoluteURL, "?") {
			sep = "&"
		}
		return call.AbsoluteURL + sep + call.Query.Encode()
	}
	u := *r.origin
	u.Path = strings.TrimSuffix(u.Path, "/") + call.Path
	if len(call.Query) > 0 {
		u.RawQuery = call.Query.Encode()
	}
	return u.String()
}

// Do sends the call and decodes a 2xx JSON response into out. Non-2xx
// responses are decoded into Service errors when the body is a valid
// AIP-193 status, and surfaced as Transport errors otherwise.
func (r *REST) Do(ctx context.Context, call *Call, creds auth.Headers, out any) error {
	resp, err := r.DoRaw(ctx, call, creds)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		// The response had started; this is a mid-response loss.
		return apperror.TransportErr(err)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return apperror.Serde(fmt.Errorf("cannot decode response body: %w", err))
	}
	return nil
}

// DoRaw sends the call and returns the raw 2xx response, leaving the body
// open for streaming readers. Non-2xx responses are drained and mapped to
// errors.
func (r *REST) DoRaw(ctx context.Context, call *Call, creds auth.Headers) (*http.Response, error) {
	var body io.Reader
	contentType := call.ContentType
	switch {
	case call.RawBody != nil:
		body = call.RawBody
	case call.Body != nil:
		payload, err := json.Marshal(call.Body)
		if err != nil {
			return nil, apperror.Serde(fmt.Errorf("cannot serialize request body: %w", err))
		}
		body = bytes.NewReader(payload)
		if contentType == "" {
			contentType = "application/json"
		}
	}
	req, err := http.NewRequestWithContext(ctx, call.Method, r.URL(call), body)
	if err != nil {
		return nil, apperror.Othermsg("cannot build request: %v", err)
	}
	for k, vs := range call.Header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if contentType != "" {
		req.Header.Set("content-type", contentType)
	}
	req.Header.Set("x-goog-api-client", r.apiClient)
	req.Header.Set("user-agent", r.userAgent)
	if params := RequestParams(call.Routing); params != "" {
		req.Header.Set("x-goog-request-params", params)
	}
	for _, h := range creds {
		req.Header.Set(h.Name, h.Value)
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return nil, classifyNetErr(err)
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return resp, nil
	}
	defer resp.Body.Close()
	return nil, DecodeHTTPError(resp)
}

// DecodeHTTPError turns a non-2xx response into a Service error when the
// body parses as an AIP-193 status, and a Transport error preserving the
// body verbatim otherwise.
func DecodeHTTPError(resp *http.Response) *apperror.Error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if status, ok := apperror.StatusFromJSON(body, resp.StatusCode); ok {
		return apperror.Service(status)
	}
	return apperror.Transport(resp.StatusCode, resp.Header, strings.TrimSpace(string(body)))
}

// classifyNetErr maps request send failures onto the error taxonomy:
// failures before any response byte are IO and retryable. Context
// cancellation stays visible through the cause chain so the pipeline can
// tell timeouts apart.
func classifyNetErr(err error) *apperror.Error {
	return apperror.IO(err)
}
