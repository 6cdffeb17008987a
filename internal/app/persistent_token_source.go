package app

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"golang.org/x/oauth2"

	"github.com/florianilch/mcpcreds/internal/credential"
	"github.com/florianilch/mcpcreds/internal/tokensource"
	"github.com/florianilch/mcpcreds/internal/tokenstore"
)

// TokenSourceFactory creates an oauth2.TokenSource from a stored credential.
type TokenSourceFactory func(c *credential.Credentials) (oauth2.TokenSource, error)

// PersistentTokenSource wraps an oauth2.TokenSource with credential persistence.
// Initialization is deferred to avoid I/O during application startup.
type PersistentTokenSource struct {
	serverName string
	factory    TokenSourceFactory
	store      tokenstore.CredentialStore

	tokenSource func() (oauth2.TokenSource, error)

	// current is the record as last read from or written to the store
	current atomic.Pointer[credential.Credentials]
	writeMu sync.Mutex
}

// Compile-time check to ensure PersistentTokenSource implements oauth2.TokenSource
var _ oauth2.TokenSource = (*PersistentTokenSource)(nil)

// NewPersistentTokenSource creates a PersistentTokenSource for serverName.
// No I/O is performed until the first Token call.
func NewPersistentTokenSource(serverName string, factory TokenSourceFactory, store tokenstore.CredentialStore) (*PersistentTokenSource, error) {
	if serverName == "" {
		return nil, fmt.Errorf("missing server name")
	}
	if factory == nil {
		return nil, fmt.Errorf("missing token source factory")
	}
	if store == nil {
		return nil, fmt.Errorf("missing credential store")
	}

	p := &PersistentTokenSource{
		serverName: serverName,
		factory:    factory,
		store:      store,
	}

	p.tokenSource = sync.OnceValues(p.createTokenSource)

	return p, nil
}

// createTokenSource performs one-time initialization of the TokenSource.
func (p *PersistentTokenSource) createTokenSource() (oauth2.TokenSource, error) {
	// oauth2.TokenSource.Token() has no context parameter (legacy interface limitation)
	// Use background context for initial read
	ctx := context.Background()

	initial, err := p.store.Get(ctx, p.serverName)
	if err != nil {
		return nil, fmt.Errorf("failed to read credentials: %w", err)
	}
	if initial == nil {
		// Missing and expired records look the same to callers
		return nil, &tokenstore.NotFoundError{ServerName: p.serverName}
	}

	// Remember the initial record to avoid unnecessary write-back on first call to `Token()`
	p.current.Store(initial)

	return p.factory(initial)
}

// Token returns a valid token, refreshing if necessary and persisting refreshed tokens.
func (p *PersistentTokenSource) Token() (*oauth2.Token, error) {
	ts, err := p.tokenSource()
	if err != nil {
		return nil, err
	}

	freshToken, err := ts.Token()
	if err != nil {
		return nil, fmt.Errorf("getting token from token source: %w", err)
	}

	// Hot path: lock-free atomic read for minimal contention
	last := p.current.Load()
	if !changed(last, freshToken) {
		return freshToken, nil
	}

	p.writeMu.Lock()
	defer p.writeMu.Unlock()

	// Another caller may have persisted the same token while we waited
	last = p.current.Load()
	if !changed(last, freshToken) {
		return freshToken, nil
	}

	// Note: oauth2.TokenSource interface has no context parameter (legacy interface)
	// Use background context for non-critical write-back operation
	ctx := context.Background()
	updated := tokensource.ApplyToken(last, freshToken)
	if err := p.store.Set(ctx, updated); err != nil {
		// The access token is still usable, but a rotated refresh token is lost
		// unless a later call manages to persist it
		slog.ErrorContext(ctx, "failed to persist refreshed token", "server", p.serverName, "error", err)
	} else {
		// Update cached record only on success - allows retry on next call
		p.current.Store(updated)
	}

	return freshToken, nil
}

// changed reports whether tok differs from the stored record in a way worth persisting.
func changed(stored *credential.Credentials, tok *oauth2.Token) bool {
	if tok.AccessToken != stored.Token.AccessToken {
		return true
	}
	return tok.RefreshToken != "" && tok.RefreshToken != stored.Token.RefreshToken
}
