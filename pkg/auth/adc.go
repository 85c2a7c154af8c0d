package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

// adcEnvVar names the file holding Application Default Credentials.
const adcEnvVar = "GOOGLE_APPLICATION_CREDENTIALS"

// Build resolves Application Default Credentials:
//
//  1. The file named by GOOGLE_APPLICATION_CREDENTIALS, if set.
//  2. The well-known gcloud path
//     (~/.config/gcloud/application_default_credentials.json on Unix,
//     %APPDATA%\gcloud\... on Windows).
//  3. The Compute Engine metadata server.
//
// The JSON file's "type" field selects the credential variant.
func Build(ctx context.Context) (Credentials, error) {
	if path := os.Getenv(adcEnvVar); path != "" {
		slog.Debug("loading credentials from environment", "path", path)
		contents, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("cannot read %s=%s: %w", adcEnvVar, path, err)
		}
		return FromJSON(contents)
	}
	if path := wellKnownADCPath(); path != "" {
		if contents, err := os.ReadFile(path); err == nil {
			slog.Debug("loading credentials from gcloud default path", "path", path)
			return FromJSON(contents)
		}
	}
	slog.Debug("no credential file found, assuming metadata server")
	return NewMDSCredentials(), nil
}

func wellKnownADCPath() string {
	const leaf = "application_default_credentials.json"
	if runtime.GOOS == "windows" {
		appData := os.Getenv("APPDATA")
		if appData == "" {
			return ""
		}
		return filepath.Join(appData, "gcloud", leaf)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "gcloud", leaf)
}

// FromJSON builds credentials from the contents of an ADC file.
func FromJSON(contents []byte) (Credentials, error) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(contents, &head); err != nil {
		return nil, fmt.Errorf("credential file is not valid JSON: %w", err)
	}
	switch head.Type {
	case "authorized_user":
		var f userCredentialsFile
		if err := json.Unmarshal(contents, &f); err != nil {
			return nil, fmt.Errorf("invalid authorized_user file: %w", err)
		}
		return NewUserCredentials(f.ClientID, f.ClientSecret, f.RefreshToken, f.QuotaProject), nil
	case "service_account":
		var f serviceAccountFile
		if err := json.Unmarshal(contents, &f); err != nil {
			return nil, fmt.Errorf("invalid service_account file: %w", err)
		}
		return newServiceAccountFromFile(f)
	case "external_account":
		var f externalAccountFile
		if err := json.Unmarshal(contents, &f); err != nil {
			return nil, fmt.Errorf("invalid external_account file: %w", err)
		}
		return newExternalAccountFromFile(f)
	case "impersonated_service_account":
		var f impersonatedFile
		if err := json.Unmarshal(contents, &f); err != nil {
			return nil, fmt.Errorf("invalid impersonated_service_account file: %w", err)
		}
		source, err := FromJSON(f.SourceCredentials)
		if err != nil {
			return nil, fmt.Errorf("invalid source_credentials: %w", err)
		}
		email, err := emailFromImpersonationURL(f.ServiceAccountImpersonationURL)
		if err != nil {
			return nil, err
		}
		imp := NewImpersonatedCredentials(source, email, WithDelegates(f.Delegates...))
		imp.quotaProject = f.QuotaProject
		return imp, nil
	default:
		return nil, fmt.Errorf("unrecognized credential type %q", head.Type)
	}
}

// emailFromImpersonationURL recovers the target account from the
// .../serviceAccounts/{email}:generateAccessToken URL stored in ADC files.
func emailFromImpersonationURL(u string) (string, error) {
	const marker = "/serviceAccounts/"
	i := strings.LastIndex(u, marker)
	if i < 0 {
		return "", fmt.Errorf("malformed impersonation URL %q", u)
	}
	email, _, found := strings.Cut(u[i+len(marker):], ":")
	if !found || email == "" {
		return "", fmt.Errorf("malformed impersonation URL %q", u)
	}
	return email, nil
}
