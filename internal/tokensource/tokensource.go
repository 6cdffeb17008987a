package tokensource

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

	"golang.org/x/oauth2"

	"github.com/florianilch/mcpcreds/internal/credential"
)

// TokenSourceOption configures a TokenSource.
type TokenSourceOption func(*tokenSourceConfig)

// tokenSourceConfig holds configuration for NewTokenSource.
type tokenSourceConfig struct {
	baseTransport http.RoundTripper
	jsonRefresh   bool
}

// WithTransport sets a custom base transport for token refresh requests.
// If not provided, http.DefaultTransport is used.
func WithTransport(transport http.RoundTripper) TokenSourceOption {
	return func(c *tokenSourceConfig) {
		c.baseTransport = transport
	}
}

// WithJSONRefresh sends refresh requests JSON-encoded instead of form-encoded.
func WithJSONRefresh() TokenSourceOption {
	return func(c *tokenSourceConfig) {
		c.jsonRefresh = true
	}
}

// TokenSource provides automatic token refresh for a stored MCP credential.
type TokenSource struct {
	tokenSource oauth2.TokenSource
}

// Compile-time check to ensure TokenSource implements oauth2.TokenSource
var _ oauth2.TokenSource = (*TokenSource)(nil)

// NewTokenSource creates a TokenSource seeded with the credential's current token.
// Records without a refresh token yield their access token until it expires.
func NewTokenSource(c *credential.Credentials, opts ...TokenSourceOption) (*TokenSource, error) {
	if err := credential.Validate(c); err != nil {
		return nil, err
	}

	initialToken := ToOAuth2(c.Token)
	if c.Token.RefreshToken == "" {
		return &TokenSource{tokenSource: oauth2.ReuseTokenSource(initialToken, expiredSource{serverName: c.ServerName})}, nil
	}
	if c.TokenURL == "" {
		return nil, fmt.Errorf("credentials for %s have a refresh token but no token URL", c.ServerName)
	}

	cfg := &tokenSourceConfig{
		baseTransport: http.DefaultTransport,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	oauth2Config := &oauth2.Config{
		ClientID: c.ClientID,
		// MCP clients are public clients registered without a secret
		ClientSecret: "",
		Scopes:       strings.Fields(c.Token.Scope),
		Endpoint: oauth2.Endpoint{
			TokenURL:  c.TokenURL,
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}

	transport := cfg.baseTransport
	if cfg.jsonRefresh {
		transport = &tokenRefreshTransport{base: cfg.baseTransport}
	}
	httpClient := &http.Client{
		Timeout:   30 * time.Second, // Bounds token refresh even during shutdown (oauth2 uses context.Background internally)
		Transport: transport,
	}
	// oauth2 package injects custom HTTP clients via context (oauth2.HTTPClient key).
	// Since TokenSource.Token() has no context parameter, we store the context
	// at construction time per oauth2's documented API.
	oauthCtx := context.WithValue(context.Background(), oauth2.HTTPClient, httpClient)

	return &TokenSource{
		tokenSource: oauth2Config.TokenSource(oauthCtx, initialToken),
	}, nil
}

// Token returns a valid access token, automatically refreshing if expired.
func (ts *TokenSource) Token() (*oauth2.Token, error) {
	return ts.tokenSource.Token()
}

// expiredSource is consulted once a non-refreshable token has expired.
type expiredSource struct {
	serverName string
}

func (s expiredSource) Token() (*oauth2.Token, error) {
	return nil, fmt.Errorf("token for %s expired and cannot be refreshed", s.serverName)
}

// ToOAuth2 converts a stored token into an oauth2.Token.
func ToOAuth2(t credential.Token) *oauth2.Token {
	tok := &oauth2.Token{
		AccessToken:  t.AccessToken,
		TokenType:    t.TokenType,
		RefreshToken: t.RefreshToken,
	}
	if t.ExpiresAt != 0 {
		tok.Expiry = time.UnixMilli(t.ExpiresAt)
	}
	if t.Scope != "" {
		tok = tok.WithExtra(map[string]any{"scope": t.Scope})
	}
	return tok
}

// ApplyToken returns a copy of c carrying tok. A refresh response without a new
// refresh token keeps the previous one, as does one without a scope.
func ApplyToken(c *credential.Credentials, tok *oauth2.Token) *credential.Credentials {
	updated := c.Clone()
	updated.Token.AccessToken = tok.AccessToken
	if tok.TokenType != "" {
		updated.Token.TokenType = tok.TokenType
	}
	if tok.RefreshToken != "" {
		updated.Token.RefreshToken = tok.RefreshToken
	}
	if tok.Expiry.IsZero() {
		updated.Token.ExpiresAt = 0
	} else {
		updated.Token.ExpiresAt = tok.Expiry.UnixMilli()
	}
	if scope, ok := tok.Extra("scope").(string); ok && scope != "" {
		updated.Token.Scope = scope
	}
	return updated
}

// tokenRefreshTransport converts oauth2's form-encoded token refresh requests
// to JSON for token endpoints that only accept JSON.
// The oauth2 package guarantees this transport only receives token endpoint requests.
type tokenRefreshTransport struct {
	base http.RoundTripper
}

// Compile-time check that tokenRefreshTransport implements http.RoundTripper.
var _ http.RoundTripper = (*tokenRefreshTransport)(nil)

// RoundTrip intercepts token refresh requests and converts them from form-encoded to JSON.
func (t *tokenRefreshTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	// Defer close since we consume the body entirely and create a new body for the cloned request.
	defer func() { _ = req.Body.Close() }()
	body, err := io.ReadAll(req.Body)
	if err != nil {
		return nil, fmt.Errorf("reading request body: %w", err)
	}

	formData, err := url.ParseQuery(string(body))
	if err != nil {
		return nil, fmt.Errorf("parsing form data: %w", err)
	}

	jsonData := make(map[string]string, len(formData))
	for key, values := range formData {
		jsonData[key] = values[0] // RFC 6749 parameters are single-valued
	}

	jsonBody, err := json.Marshal(jsonData)
	if err != nil {
		return nil, fmt.Errorf("marshaling JSON request: %w", err)
	}

	newReq := req.Clone(req.Context())
	newReq.Body = io.NopCloser(bytes.NewReader(jsonBody))
	newReq.ContentLength = int64(len(jsonBody))
	newReq.Header.Set("Content-Type", "application/json")

	return t.base.RoundTrip(newReq)
}
