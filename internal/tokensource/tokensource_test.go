package tokensource_test

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/florianilch/mcpcreds/internal/credential"
	"github.com/florianilch/mcpcreds/internal/tokensource"
)

// tokenEndpoint records the last refresh request and answers with a fresh token.
type tokenEndpoint struct {
	contentType atomic.Value
	params      atomic.Value
	calls       atomic.Int32
}

func (e *tokenEndpoint) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	e.calls.Add(1)
	e.contentType.Store(r.Header.Get("Content-Type"))

	body, _ := io.ReadAll(r.Body)
	params := map[string]string{}
	if r.Header.Get("Content-Type") == "application/json" {
		_ = json.Unmarshal(body, &params)
	} else {
		values, _ := url.ParseQuery(string(body))
		for k := range values {
			params[k] = values.Get(k)
		}
	}
	e.params.Store(params)

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"access_token":  "fresh-access",
		"refresh_token": "fresh-refresh",
		"token_type":    "Bearer",
		"expires_in":    3600,
		"scope":         "read write",
	})
}

func expiredCredentials(tokenURL string) *credential.Credentials {
	return &credential.Credentials{
		ServerName: "github",
		Token: credential.Token{
			AccessToken:  "stale-access",
			RefreshToken: "stale-refresh",
			ExpiresAt:    time.Now().Add(-time.Minute).UnixMilli(),
			TokenType:    "Bearer",
			Scope:        "read",
		},
		ClientID: "client-123",
		TokenURL: tokenURL,
	}
}

func TestTokenSourceRefresh(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name            string
		opts            []tokensource.TokenSourceOption
		wantContentType string
	}{
		{
			name:            "form_encoded",
			wantContentType: "application/x-www-form-urlencoded",
		},
		{
			name:            "json_encoded",
			opts:            []tokensource.TokenSourceOption{tokensource.WithJSONRefresh()},
			wantContentType: "application/json",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			endpoint := &tokenEndpoint{}
			server := httptest.NewServer(endpoint)
			t.Cleanup(server.Close)

			opts := append([]tokensource.TokenSourceOption{tokensource.WithTransport(server.Client().Transport)}, tt.opts...)
			ts, err := tokensource.NewTokenSource(expiredCredentials(server.URL), opts...)
			require.NoError(t, err)

			tok, err := ts.Token()
			require.NoError(t, err)
			assert.Equal(t, "fresh-access", tok.AccessToken)
			assert.Equal(t, "fresh-refresh", tok.RefreshToken)

			assert.Equal(t, tt.wantContentType, endpoint.contentType.Load())
			params := endpoint.params.Load().(map[string]string)
			assert.Equal(t, "refresh_token", params["grant_type"])
			assert.Equal(t, "stale-refresh", params["refresh_token"])
			assert.Equal(t, "client-123", params["client_id"])

			// Valid token is reused without another request
			_, err = ts.Token()
			require.NoError(t, err)
			assert.Equal(t, int32(1), endpoint.calls.Load())
		})
	}
}

func TestTokenSourceValidTokenIsNotRefreshed(t *testing.T) {
	t.Parallel()

	endpoint := &tokenEndpoint{}
	server := httptest.NewServer(endpoint)
	t.Cleanup(server.Close)

	creds := expiredCredentials(server.URL)
	creds.Token.ExpiresAt = time.Now().Add(time.Hour).UnixMilli()

	ts, err := tokensource.NewTokenSource(creds, tokensource.WithTransport(server.Client().Transport))
	require.NoError(t, err)

	tok, err := ts.Token()
	require.NoError(t, err)
	assert.Equal(t, "stale-access", tok.AccessToken)
	assert.Zero(t, endpoint.calls.Load())
}

func TestTokenSourceWithoutRefreshToken(t *testing.T) {
	t.Parallel()

	creds := expiredCredentials("")
	creds.Token.RefreshToken = ""
	creds.Token.ExpiresAt = 0

	ts, err := tokensource.NewTokenSource(creds)
	require.NoError(t, err)
	tok, err := ts.Token()
	require.NoError(t, err)
	assert.Equal(t, "stale-access", tok.AccessToken)

	creds.Token.ExpiresAt = time.Now().Add(-time.Minute).UnixMilli()
	ts, err = tokensource.NewTokenSource(creds)
	require.NoError(t, err)
	_, err = ts.Token()
	require.ErrorContains(t, err, "cannot be refreshed")
}

func TestNewTokenSourceRejects(t *testing.T) {
	t.Parallel()

	_, err := tokensource.NewTokenSource(nil)
	var verr *credential.ValidationError
	require.ErrorAs(t, err, &verr)

	_, err = tokensource.NewTokenSource(expiredCredentials(""))
	require.ErrorContains(t, err, "no token URL")
}

func TestTokenConversion(t *testing.T) {
	t.Parallel()

	expiry := time.UnixMilli(1_750_000_000_000)
	stored := credential.Token{
		AccessToken:  "a",
		RefreshToken: "r",
		ExpiresAt:    expiry.UnixMilli(),
		TokenType:    "Bearer",
		Scope:        "read",
	}

	tok := tokensource.ToOAuth2(stored)
	assert.Equal(t, "a", tok.AccessToken)
	assert.Equal(t, "r", tok.RefreshToken)
	assert.True(t, tok.Expiry.Equal(expiry))
	assert.Equal(t, "read", tok.Extra("scope"))

	assert.True(t, tokensource.ToOAuth2(credential.Token{AccessToken: "a"}).Expiry.IsZero())

	creds := &credential.Credentials{ServerName: "github", Token: stored}
	updated := tokensource.ApplyToken(creds, &oauth2.Token{AccessToken: "b", Expiry: expiry.Add(time.Hour)})
	assert.Equal(t, "b", updated.Token.AccessToken)
	assert.Equal(t, "r", updated.Token.RefreshToken, "missing refresh token keeps the previous one")
	assert.Equal(t, "Bearer", updated.Token.TokenType)
	assert.Equal(t, "read", updated.Token.Scope)
	assert.Equal(t, expiry.Add(time.Hour).UnixMilli(), updated.Token.ExpiresAt)
	assert.Equal(t, "a", creds.Token.AccessToken, "input must not be modified")

	updated = tokensource.ApplyToken(creds, (&oauth2.Token{AccessToken: "c", RefreshToken: "r2"}).WithExtra(map[string]any{"scope": "write"}))
	assert.Equal(t, "r2", updated.Token.RefreshToken)
	assert.Equal(t, "write", updated.Token.Scope)
	assert.Zero(t, updated.Token.ExpiresAt)
}
