package tokenstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/florianilch/mcpcreds/internal/credential"
)

const (
	// DefaultService is the secret manager namespace all records are stored under.
	DefaultService = "mcpcreds-oauth"

	probeAccountPrefix = "__keychain_test__"
	probeSecret        = "test"
)

// KeyringStore stores credentials in the OS-native secret manager, one secret per
// server under a fixed service namespace.
// Every operation fails with *BackendUnavailableError unless the availability probe passed.
type KeyringStore struct {
	service string
	secrets SecretManager
	now     func() time.Time
	logger  *slog.Logger

	available func() bool
}

// Compile-time check to ensure KeyringStore implements ProbedStore
var _ ProbedStore = (*KeyringStore)(nil)

// NewKeyringStore creates a KeyringStore for the given service namespace.
// No I/O is performed until the first operation or Available call.
func NewKeyringStore(service string, opts ...Option) (*KeyringStore, error) {
	if service == "" {
		return nil, fmt.Errorf("service cannot be empty")
	}

	cfg := newStoreConfig(opts)
	if cfg.secrets == nil {
		cfg.secrets = NewOSSecretManager()
	}

	k := &KeyringStore{
		service: service,
		secrets: cfg.secrets,
		now:     cfg.now,
		logger:  cfg.logger,
	}
	k.available = sync.OnceValue(k.probe)

	return k, nil
}

// Available reports whether a write-read-delete round trip against the secret manager
// succeeded. The probe runs once per store; later calls return the cached result.
func (k *KeyringStore) Available() bool {
	return k.available()
}

// probe writes a disposable secret under a random account, reads it back and deletes it.
// Any failure, including a panic inside the secret manager, counts as unavailable.
func (k *KeyringStore) probe() (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			k.logger.Debug("keyring probe panicked", "panic", r)
			ok = false
		}
	}()

	account := probeAccountPrefix + strings.ReplaceAll(uuid.NewString(), "-", "")

	if err := k.secrets.Set(k.service, account, probeSecret); err != nil {
		k.logger.Debug("keyring probe write failed", "error", err)
		return false
	}

	got, err := k.secrets.Get(k.service, account)
	if err != nil {
		k.logger.Debug("keyring probe read failed", "error", err)
		_ = k.secrets.Delete(k.service, account)
		return false
	}

	if err := k.secrets.Delete(k.service, account); err != nil {
		k.logger.Debug("keyring probe delete failed", "error", err)
		return false
	}

	return got == probeSecret
}

// ready guards every operation: the context must be live and the probe must have passed.
func (k *KeyringStore) ready(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !k.Available() {
		return &BackendUnavailableError{Backend: "keyring"}
	}
	return nil
}

// Get returns the stored record, or nil if none exists or it has expired.
func (k *KeyringStore) Get(ctx context.Context, serverName string) (*credential.Credentials, error) {
	if err := k.ready(ctx); err != nil {
		return nil, err
	}

	data, err := k.secrets.Get(k.service, credential.SanitizeKey(serverName))
	if errors.Is(err, ErrSecretNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading credentials for %s from keyring: %w", serverName, err)
	}

	c, err := credential.Unmarshal(serverName, []byte(data))
	if err != nil {
		return nil, err
	}

	if credential.IsExpired(c, k.now()) {
		return nil, nil
	}
	return c, nil
}

// Set validates the record, stamps UpdatedAt and overwrites any existing entry.
func (k *KeyringStore) Set(ctx context.Context, c *credential.Credentials) error {
	if err := k.ready(ctx); err != nil {
		return err
	}
	if err := credential.Validate(c); err != nil {
		return err
	}

	updated := c.Clone()
	updated.UpdatedAt = k.now().UnixMilli()

	data, err := credential.Marshal(updated)
	if err != nil {
		return fmt.Errorf("encoding credentials for %s: %w", c.ServerName, err)
	}

	if err := k.secrets.Set(k.service, credential.SanitizeKey(c.ServerName), string(data)); err != nil {
		return fmt.Errorf("writing credentials for %s to keyring: %w", c.ServerName, err)
	}
	return nil
}

// Delete removes the record, returning *NotFoundError if nothing was stored.
func (k *KeyringStore) Delete(ctx context.Context, serverName string) error {
	if err := k.ready(ctx); err != nil {
		return err
	}

	err := k.secrets.Delete(k.service, credential.SanitizeKey(serverName))
	if errors.Is(err, ErrSecretNotFound) {
		return &NotFoundError{ServerName: serverName}
	}
	if err != nil {
		return fmt.Errorf("deleting credentials for %s from keyring: %w", serverName, err)
	}
	return nil
}

// ListServers returns every account stored under the service, regardless of payload validity.
func (k *KeyringStore) ListServers(ctx context.Context) ([]string, error) {
	if err := k.ready(ctx); err != nil {
		return nil, err
	}

	accounts, err := k.secrets.Accounts(k.service)
	if err != nil {
		return nil, fmt.Errorf("listing keyring accounts: %w", err)
	}
	return accounts, nil
}

// ListCredentials returns every well-formed, unexpired record. Entries that cannot be
// read or decoded are skipped.
func (k *KeyringStore) ListCredentials(ctx context.Context) (map[string]*credential.Credentials, error) {
	accounts, err := k.ListServers(ctx)
	if err != nil {
		return nil, err
	}

	now := k.now()
	result := make(map[string]*credential.Credentials, len(accounts))
	for _, account := range accounts {
		data, err := k.secrets.Get(k.service, account)
		if err != nil {
			k.logger.DebugContext(ctx, "skipping unreadable keyring entry", "account", account, "error", err)
			continue
		}

		c, err := credential.Unmarshal(account, []byte(data))
		if err != nil {
			k.logger.DebugContext(ctx, "skipping corrupt keyring entry", "account", account, "error", err)
			continue
		}
		if credential.IsExpired(c, now) {
			continue
		}
		result[c.ServerName] = c
	}
	return result, nil
}

// ClearAll attempts to delete every stored record. Failures do not stop the sweep;
// they are reported together as *ClearError.
func (k *KeyringStore) ClearAll(ctx context.Context) error {
	servers, err := k.ListServers(ctx)
	if err != nil {
		return err
	}

	var result ClearResult
	for _, server := range servers {
		result.Record(server, k.Delete(ctx, server))
	}
	return result.Err()
}
