package google

import (
	"context"
	"fmt"
	"net/http"
	"os"

	"golang.org/x/oauth2/google"
	"golang.org/x/oauth2/jwt"
)

// JWTConfig parses a service account JSON key. A non-empty subject makes the
// service account act as that user (domain-wide delegation).
func JWTConfig(data []byte, subject string, scopes ...string) (*jwt.Config, error) {
	conf, err := google.JWTConfigFromJSON(data, scopes...)
	if err != nil {
		return nil, fmt.Errorf("failed to parse credentials: %w", err)
	}
	conf.Subject = subject
	return conf, nil
}

// NewHTTPClient creates an authenticated HTTP client from a service account JSON key file.
// This is useful for APIs that require an *http.Client (e.g., Gmail).
func NewHTTPClient(ctx context.Context, credentialsFile, subject string, scopes ...string) (*http.Client, error) {
	data, err := os.ReadFile(credentialsFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read credentials file: %w", err)
	}

	conf, err := JWTConfig(data, subject, scopes...)
	if err != nil {
		return nil, err
	}
	return conf.Client(ctx), nil
}
