package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"os/exec"
	"strings"
	"time"

	"cloudsdk/pkg/apperror"
)

// stsEndpoint is the Security Token Service exchange endpoint.
const stsEndpoint = "https://sts.googleapis.com/v1/token"

const (
	tokenExchangeGrant = "urn:ietf:params:oauth:grant-type:token-exchange"
	stsRequestedType   = "urn:ietf:params:oauth:token-type:access_token"
)

// SubjectTokenProvider yields the third-party identity assertion fed into
// STS. The library ships URL, file, and executable providers; applications
// may supply their own.
type SubjectTokenProvider interface {
	SubjectToken(ctx context.Context) (string, error)
}

// URLSubjectTokenProvider fetches the subject token from an HTTP endpoint.
type URLSubjectTokenProvider struct {
	// URL to GET.
	URL string
	// Headers added to the request.
	Headers map[string]string
	// Format selects how the response encodes the token: "text" (the
	// whole body) or "json" (the field named by SubjectTokenFieldName).
	Format                string
	SubjectTokenFieldName string
	// Client overrides the HTTP client.
	Client *http.Client
}

// SubjectToken implements SubjectTokenProvider.
func (p *URLSubjectTokenProvider) SubjectToken(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.URL, nil)
	if err != nil {
		return "", apperror.Authentication(err, false)
	}
	for k, v := range p.Headers {
		req.Header.Set(k, v)
	}
	client := p.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", apperror.Authentication(err, true)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", apperror.Authentication(err, true)
	}
	if resp.StatusCode != http.StatusOK {
		return "", apperror.Authentication(
			fmt.Errorf("subject token endpoint returned status %d", resp.StatusCode),
			resp.StatusCode >= 500)
	}
	return extractSubjectToken(body, p.Format, p.SubjectTokenFieldName)
}

// FileSubjectTokenProvider reads the subject token from a file, re-reading
// on every fetch so rotated tokens are picked up.
type FileSubjectTokenProvider struct {
	Path                  string
	Format                string
	SubjectTokenFieldName string
}

// SubjectToken implements SubjectTokenProvider.
func (p *FileSubjectTokenProvider) SubjectToken(context.Context) (string, error) {
	body, err := os.ReadFile(p.Path)
	if err != nil {
		return "", apperror.Authentication(err, false)
	}
	return extractSubjectToken(body, p.Format, p.SubjectTokenFieldName)
}

// ExecutableSubjectTokenProvider runs a command and parses its stdout per
// the executable-sourced credential contract.
type ExecutableSubjectTokenProvider struct {
	Command string
	Timeout time.Duration
}

// SubjectToken implements SubjectTokenProvider.
func (p *ExecutableSubjectTokenProvider) SubjectToken(ctx context.Context) (string, error) {
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	parts := strings.Fields(p.Command)
	if len(parts) == 0 {
		return "", apperror.Authentication(fmt.Errorf("empty executable command"), false)
	}
	cmd := exec.CommandContext(ctx, parts[0], parts[1:]...)
	cmd.Env = append(os.Environ(), "GOOGLE_EXTERNAL_ACCOUNT_ALLOW_EXECUTABLES=1")
	out, err := cmd.Output()
	if err != nil {
		return "", apperror.Authentication(fmt.Errorf("subject token executable failed: %w", err), false)
	}
	var payload struct {
		Success bool   `json:"success"`
		Token   string `json:"id_token"`
		Saml    string `json:"saml_response"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(out, &payload); err != nil {
		return "", apperror.Authentication(fmt.Errorf("cannot decode executable output: %w", err), false)
	}
	if !payload.Success {
		return "", apperror.Authentication(fmt.Errorf("subject token executable reported failure: %s", payload.Message), false)
	}
	if payload.Token != "" {
		return payload.Token, nil
	}
	return payload.Saml, nil
}

func extractSubjectToken(body []byte, format, field string) (string, error) {
	if format != "json" {
		return strings.TrimSpace(string(body)), nil
	}
	var fields map[string]any
	if err := json.Unmarshal(body, &fields); err != nil {
		return "", apperror.Authentication(fmt.Errorf("subject token is not valid JSON: %w", err), false)
	}
	if field == "" {
		field = "token"
	}
	tok, ok := fields[field].(string)
	if !ok {
		return "", apperror.Authentication(fmt.Errorf("subject token field %q missing", field), false)
	}
	return tok, nil
}

// ExternalAccountCredentials implements workload identity federation: a
// third-party subject token is exchanged at STS for a federated access
// token, optionally followed by service account impersonation.
type ExternalAccountCredentials struct {
	audience         string
	subjectTokenType string
	provider         SubjectTokenProvider
	scopes           []string
	quotaProject     string
	universe         string
	stsURL           string
	impersonationURL string
	client           *http.Client
	cache            *tokenCache
}

// externalAccountFile is the on-disk shape of an external_account ADC
// file.
type externalAccountFile struct {
	Audience         string `json:"audience"`
	SubjectTokenType string `json:"subject_token_type"`
	TokenURL         string `json:"token_url"`
	ImpersonationURL string `json:"service_account_impersonation_url"`
	QuotaProject     string `json:"quota_project_id"`
	UniverseDomain   string `json:"universe_domain"`
	CredentialSource struct {
		URL     string            `json:"url"`
		Headers map[string]string `json:"headers"`
		File    string            `json:"file"`
		Format  struct {
			Type                  string `json:"type"`
			SubjectTokenFieldName string `json:"subject_token_field_name"`
		} `json:"format"`
		Executable struct {
			Command   string `json:"command"`
			TimeoutMS int64  `json:"timeout_millis"`
		} `json:"executable"`
	} `json:"credential_source"`
}

// ExternalAccountOption configures ExternalAccountCredentials.
type ExternalAccountOption func(*ExternalAccountCredentials)

// WithExternalHTTPClient overrides the HTTP client.
func WithExternalHTTPClient(c *http.Client) ExternalAccountOption {
	return func(e *ExternalAccountCredentials) { e.client = c }
}

// WithSTSEndpoint overrides the STS exchange endpoint.
func WithSTSEndpoint(endpoint string) ExternalAccountOption {
	return func(e *ExternalAccountCredentials) { e.stsURL = endpoint }
}

// WithExternalScopes replaces the default cloud-platform scope.
func WithExternalScopes(scopes ...string) ExternalAccountOption {
	return func(e *ExternalAccountCredentials) { e.scopes = scopes }
}

// NewExternalAccountCredentials builds federation credentials from an
// audience, token type, and a subject token provider.
func NewExternalAccountCredentials(audience, subjectTokenType string, provider SubjectTokenProvider, opts ...ExternalAccountOption) *ExternalAccountCredentials {
	e := &ExternalAccountCredentials{
		audience:         audience,
		subjectTokenType: subjectTokenType,
		provider:         provider,
		scopes:           []string{defaultScope},
		stsURL:           stsEndpoint,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.cache = newTokenCache(e.fetchToken)
	return e
}

func newExternalAccountFromFile(f externalAccountFile, opts ...ExternalAccountOption) (*ExternalAccountCredentials, error) {
	var provider SubjectTokenProvider
	src := f.CredentialSource
	switch {
	case src.URL != "":
		provider = &URLSubjectTokenProvider{
			URL:                   src.URL,
			Headers:               src.Headers,
			Format:                src.Format.Type,
			SubjectTokenFieldName: src.Format.SubjectTokenFieldName,
		}
	case src.File != "":
		provider = &FileSubjectTokenProvider{
			Path:                  src.File,
			Format:                src.Format.Type,
			SubjectTokenFieldName: src.Format.SubjectTokenFieldName,
		}
	case src.Executable.Command != "":
		provider = &ExecutableSubjectTokenProvider{
			Command: src.Executable.Command,
			Timeout: time.Duration(src.Executable.TimeoutMS) * time.Millisecond,
		}
	default:
		return nil, apperror.Authentication(fmt.Errorf("external account has no usable credential_source"), false)
	}
	e := NewExternalAccountCredentials(f.Audience, f.SubjectTokenType, provider, opts...)
	e.quotaProject = f.QuotaProject
	e.universe = f.UniverseDomain
	e.impersonationURL = f.ImpersonationURL
	if f.TokenURL != "" {
		e.stsURL = f.TokenURL
	}
	return e, nil
}

func (e *ExternalAccountCredentials) fetchToken(ctx context.Context) (AccessToken, error) {
	subject, err := e.provider.SubjectToken(ctx)
	if err != nil {
		return AccessToken{}, err
	}
	form := url.Values{
		"grant_type":           {tokenExchangeGrant},
		"audience":             {e.audience},
		"subject_token":        {subject},
		"subject_token_type":   {e.subjectTokenType},
		"requested_token_type": {stsRequestedType},
		"scope":                {strings.Join(e.scopes, " ")},
	}
	var resp tokenResponse
	if err := postForm(ctx, e.client, e.stsURL, form, &resp); err != nil {
		return AccessToken{}, err
	}
	federated := resp.accessToken(time.Now())
	if e.impersonationURL == "" {
		return federated, nil
	}
	return e.impersonate(ctx, federated)
}

// impersonate trades the federated token for a service account token via
// the generateAccessToken URL embedded in the credential file.
func (e *ExternalAccountCredentials) impersonate(ctx context.Context, federated AccessToken) (AccessToken, error) {
	headers := buildAuthHeaders(federated, "")
	body := map[string]any{"scope": e.scopes}
	var resp struct {
		AccessToken string `json:"accessToken"`
		ExpireTime  string `json:"expireTime"`
	}
	if err := postJSON(ctx, e.client, e.impersonationURL, headers, body, &resp); err != nil {
		return AccessToken{}, err
	}
	tok := AccessToken{Token: resp.AccessToken, Type: "Bearer"}
	if resp.ExpireTime != "" {
		if t, err := time.Parse(time.RFC3339, resp.ExpireTime); err == nil {
			tok.ExpiresAt = t
		}
	}
	return tok, nil
}

// Headers implements Credentials.
func (e *ExternalAccountCredentials) Headers(ctx context.Context, ext Extensions) (CacheableHeaders, error) {
	return e.cache.headersFor(ctx, ext, e.quotaProject)
}

// UniverseDomain implements Credentials.
func (e *ExternalAccountCredentials) UniverseDomain(context.Context) (string, bool) {
	if e.universe != "" {
		return e.universe, true
	}
	return DefaultUniverseDomain, true
}
