package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"cloudsdk/pkg/apperror"
)

// tokenEndpoint is Google's OAuth2 token exchange endpoint.
const tokenEndpoint = "https://oauth2.googleapis.com/token"

// tokenResponse is the common shape of OAuth2 token endpoint responses.
type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	IDToken      string `json:"id_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	RefreshToken string `json:"refresh_token"`
	Scope        string `json:"scope"`
}

func (r tokenResponse) accessToken(now time.Time) AccessToken {
	tok := AccessToken{Token: r.AccessToken, Type: r.TokenType}
	if tok.Type == "" {
		tok.Type = "Bearer"
	}
	if r.ExpiresIn > 0 {
		tok.ExpiresAt = now.Add(time.Duration(r.ExpiresIn) * time.Second)
	}
	return tok
}

// postForm sends a URL-encoded POST and decodes the JSON response.
// Endpoint failures with 5xx status are transient; everything else that
// carries a status is permanent.
func postForm(ctx context.Context, client *http.Client, endpoint string, form url.Values, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return apperror.Authentication(err, false)
	}
	req.Header.Set("content-type", "application/x-www-form-urlencoded")
	return doJSON(client, req, out)
}

// postJSON sends a JSON POST and decodes the JSON response.
func postJSON(ctx context.Context, client *http.Client, endpoint string, headers Headers, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return apperror.Authentication(err, false)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(string(payload)))
	if err != nil {
		return apperror.Authentication(err, false)
	}
	req.Header.Set("content-type", "application/json")
	for _, h := range headers {
		req.Header.Set(h.Name, h.Value)
	}
	return doJSON(client, req, out)
}

func doJSON(client *http.Client, req *http.Request, out any) error {
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		// Network failures reaching the token infrastructure may clear up.
		return apperror.Authentication(err, true)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return apperror.Authentication(err, true)
	}
	if resp.StatusCode != http.StatusOK {
		transient := resp.StatusCode >= 500
		return apperror.Authentication(
			fmt.Errorf("%s returned status %d: %s", req.URL.Host, resp.StatusCode, strings.TrimSpace(string(body))),
			transient)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return apperror.Authentication(fmt.Errorf("cannot decode response from %s: %w", req.URL.Host, err), false)
	}
	return nil
}
