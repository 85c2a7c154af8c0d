package auth

import (
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"cloudsdk/pkg/apperror"
)

// Signer produces v4 signed-URL signatures on behalf of a service account.
type Signer interface {
	// ClientEmail returns the signing account.
	ClientEmail(ctx context.Context) (string, error)
	// SignBytes signs payload with RSA PKCS#1 v1.5 over SHA-256.
	SignBytes(ctx context.Context, payload []byte) ([]byte, error)
}

// signPKCS1v15 is the local signing primitive shared by key-based signers.
func signPKCS1v15(key *rsa.PrivateKey, payload []byte) ([]byte, error) {
	digest := sha256.Sum256(payload)
	sig, err := rsa.SignPKCS1v15(rand.Reader, key, crypto.SHA256, digest[:])
	if err != nil {
		return nil, apperror.Authentication(err, false)
	}
	return sig, nil
}

// IAMSigner signs through the IAM Credentials signBlob RPC, for
// credentials that hold no local private key (metadata server, federated,
// impersonated).
type IAMSigner struct {
	// Source authenticates the signBlob call.
	Source Credentials
	// Email is the signing account. When empty it is discovered from the
	// source credential, which must then expose ClientEmail.
	Email string
	// Endpoint overrides the IAM Credentials endpoint, for tests.
	Endpoint string
	// Client overrides the HTTP client.
	Client *http.Client

	email onceCell[string]
}

// emailDiscoverer is implemented by credentials that can report their own
// service account email.
type emailDiscoverer interface {
	ClientEmail(ctx context.Context) (string, error)
}

// ClientEmail implements Signer.
func (s *IAMSigner) ClientEmail(ctx context.Context) (string, error) {
	if s.Email != "" {
		return s.Email, nil
	}
	return s.email.getOrInit(func() (string, error) {
		d, ok := s.Source.(emailDiscoverer)
		if !ok {
			return "", apperror.Authentication(
				fmt.Errorf("signer has no email and the source credential cannot discover one"), false)
		}
		return d.ClientEmail(ctx)
	})
}

// SignBytes implements Signer by calling signBlob. The IAM service returns
// the signature as standard base64.
func (s *IAMSigner) SignBytes(ctx context.Context, payload []byte) ([]byte, error) {
	email, err := s.ClientEmail(ctx)
	if err != nil {
		return nil, err
	}
	headers, err := s.Source.Headers(ctx, Extensions{})
	if err != nil {
		return nil, err
	}
	endpoint := s.Endpoint
	if endpoint == "" {
		endpoint = iamCredentialsEndpoint
	}
	u := fmt.Sprintf("%s/v1/projects/-/serviceAccounts/%s:signBlob", endpoint, email)
	body := map[string]any{
		"payload": base64.StdEncoding.EncodeToString(payload),
	}
	var resp struct {
		SignedBlob string `json:"signedBlob"`
	}
	if err := postJSON(ctx, s.Client, u, headers.Headers, body, &resp); err != nil {
		return nil, err
	}
	sig, err := base64.StdEncoding.DecodeString(resp.SignedBlob)
	if err != nil {
		return nil, apperror.Authentication(fmt.Errorf("signBlob returned invalid base64: %w", err), false)
	}
	return sig, nil
}

// jwtExpiry extracts the exp claim of a JWT without verifying it; the
// caller received the token over TLS from the issuer.
func jwtExpiry(token string) (time.Time, error) {
	parser := jwt.NewParser()
	claims := jwt.MapClaims{}
	if _, _, err := parser.ParseUnverified(token, claims); err != nil {
		return time.Time{}, err
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, fmt.Errorf("token has no exp claim: %w", err)
	}
	return exp.Time, nil
}
