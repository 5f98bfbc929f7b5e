package google

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"golang.org/x/oauth2"
	goauth "golang.org/x/oauth2/google"
	goption "google.golang.org/api/option"
	gsheet "google.golang.org/api/sheets/v4"
)

// credentialOptions resolves Sheets credentials, first match wins:
//  1. GOOGLE_SERVICE_ACCOUNT_JSON or GOOGLE_SERVICE_ACCOUNT_KEY (inline JSON)
//  2. GOOGLE_SERVICE_ACCOUNT_FILE or GOOGLE_APPLICATION_CREDENTIALS (key file)
//  3. GOOGLE_OAUTH_CLIENT_JSON/FILE together with GOOGLE_OAUTH_TOKEN_JSON/FILE
//  4. Application Default Credentials
func credentialOptions(ctx context.Context) ([]goption.ClientOption, error) {
	scope := goption.WithScopes(gsheet.SpreadsheetsScope)

	if inline := firstEnv("GOOGLE_SERVICE_ACCOUNT_JSON", "GOOGLE_SERVICE_ACCOUNT_KEY"); inline != "" {
		slog.InfoContext(ctx, "Using inline service account credentials", "json_length", len(inline))
		return []goption.ClientOption{goption.WithCredentialsJSON([]byte(inline)), scope}, nil
	}

	if path := firstEnv("GOOGLE_SERVICE_ACCOUNT_FILE", "GOOGLE_APPLICATION_CREDENTIALS"); path != "" {
		slog.InfoContext(ctx, "Reading service account credentials from file", "path", path)
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read service account file: %w", err)
		}
		return []goption.ClientOption{goption.WithCredentialsJSON(b), scope}, nil
	}

	if firstEnv("GOOGLE_OAUTH_CLIENT_JSON", "GOOGLE_OAUTH_CLIENT_FILE") != "" {
		client, err := oauthHTTPClient(ctx)
		if err != nil {
			return nil, err
		}
		slog.InfoContext(ctx, "Using OAuth user credentials")
		return []goption.ClientOption{goption.WithHTTPClient(client)}, nil
	}

	creds, err := goauth.FindDefaultCredentials(ctx, gsheet.SpreadsheetsScope)
	if err != nil {
		return nil, fmt.Errorf("missing credentials (set GOOGLE_SERVICE_ACCOUNT_JSON, GOOGLE_SERVICE_ACCOUNT_FILE, GOOGLE_APPLICATION_CREDENTIALS or GOOGLE_OAUTH_CLIENT_JSON): %w", err)
	}
	slog.InfoContext(ctx, "Using application default credentials", "project_id", creds.ProjectID)
	return []goption.ClientOption{goption.WithCredentials(creds)}, nil
}

// oauthHTTPClient builds an authorized client from an OAuth client secret and
// a token previously saved by cmd/oauth-init.
func oauthHTTPClient(ctx context.Context) (*http.Client, error) {
	clientJSON, err := readInlineOrFile("GOOGLE_OAUTH_CLIENT_JSON", "GOOGLE_OAUTH_CLIENT_FILE")
	if err != nil {
		return nil, err
	}
	if clientJSON == nil {
		return nil, errors.New("missing oauth client (set GOOGLE_OAUTH_CLIENT_JSON or GOOGLE_OAUTH_CLIENT_FILE)")
	}
	cfg, err := goauth.ConfigFromJSON(clientJSON, gsheet.SpreadsheetsScope)
	if err != nil {
		return nil, fmt.Errorf("oauth config: %w", err)
	}

	tokenJSON, err := readInlineOrFile("GOOGLE_OAUTH_TOKEN_JSON", "GOOGLE_OAUTH_TOKEN_FILE")
	if err != nil {
		return nil, err
	}
	if tokenJSON == nil {
		return nil, errors.New("missing oauth token (set GOOGLE_OAUTH_TOKEN_JSON or GOOGLE_OAUTH_TOKEN_FILE)")
	}
	var tok oauth2.Token
	if err := json.Unmarshal(tokenJSON, &tok); err != nil {
		return nil, fmt.Errorf("oauth token: %w", err)
	}

	// The oauth2 transport wraps the client found in the context.
	ctx = context.WithValue(ctx, oauth2.HTTPClient, newHTTPClientWithPooling())
	return cfg.Client(ctx, &tok), nil
}

// newHTTPClientWithPooling creates an HTTP client tuned for the Sheets API
// with connection pooling, timeouts and keep-alive.
func newHTTPClientWithPooling() *http.Client {
	dialer := &net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	}

	transport := &http.Transport{
		DialContext: dialer.DialContext,

		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		MaxConnsPerHost:     50,
		IdleConnTimeout:     90 * time.Second,

		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: 30 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,

		ForceAttemptHTTP2: true,
	}

	return &http.Client{
		Transport: transport,
		Timeout:   60 * time.Second,
	}
}

// readInlineOrFile returns the inline env value, or the content of the file
// named by fileKey, or nil when neither is set.
func readInlineOrFile(inlineKey, fileKey string) ([]byte, error) {
	if v := strings.TrimSpace(os.Getenv(inlineKey)); v != "" {
		return []byte(v), nil
	}
	path := strings.TrimSpace(os.Getenv(fileKey))
	if path == "" {
		return nil, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", fileKey, err)
	}
	return b, nil
}

func firstEnv(keys ...string) string {
	for _, k := range keys {
		if v := strings.TrimSpace(os.Getenv(k)); v != "" {
			return v
		}
	}
	return ""
}
