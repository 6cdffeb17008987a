// Package tokensource turns a stored MCP server credential into an
// oauth2.TokenSource that refreshes the access token when it expires.
//
// The refresh request goes to the credential's tokenUrl using its clientId. Most
// authorization servers accept the standard form-encoded refresh request; some MCP
// servers only accept JSON, which WithJSONRefresh handles:
//
//	ts, err := tokensource.NewTokenSource(creds, tokensource.WithJSONRefresh())
//
// # Custom Base Transport
//
// Configure a custom base transport for token refresh requests (e.g., for proxies or custom timeouts):
//
//	ts, err := tokensource.NewTokenSource(
//		creds,
//		tokensource.WithTransport(customTransport),
//	)
//
// Tokens returned by the source can be written back into the record with
// ApplyToken so the refreshed state survives restarts.
package tokensource
