package tokenstore

import (
	"context"

	"github.com/florianilch/mcpcreds/internal/credential"
)

// CredentialStore reads and writes OAuth credentials keyed by MCP server name.
type CredentialStore interface {
	// Get returns the live record for serverName, or nil without error if no record
	// exists or the stored one has expired. Corrupt payloads yield *credential.CorruptDataError.
	Get(ctx context.Context, serverName string) (*credential.Credentials, error)

	// Set validates the record, stamps UpdatedAt and persists it, replacing any
	// existing record for the same server.
	Set(ctx context.Context, c *credential.Credentials) error

	// Delete removes the record. Returns *NotFoundError if nothing was stored.
	Delete(ctx context.Context, serverName string) error

	// ListServers returns every stored key, including entries whose payload is corrupt.
	ListServers(ctx context.Context) ([]string, error)

	// ListCredentials returns only well-formed, unexpired records keyed by server name.
	ListCredentials(ctx context.Context) (map[string]*credential.Credentials, error)

	// ClearAll deletes every record on a best-effort basis. Returns *ClearError
	// listing each individual failure if any deletion failed.
	ClearAll(ctx context.Context) error
}

// ProbedStore is a CredentialStore whose usability must be established at runtime.
type ProbedStore interface {
	CredentialStore

	// Available reports whether the backend passed its self-test. The result is cached
	// for the lifetime of the store.
	Available() bool
}
