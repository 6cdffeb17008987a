package tokenstore

import (
	"log/slog"
	"time"
)

// Option configures a backend.
type Option func(*storeConfig)

// storeConfig holds configuration shared by the backends.
type storeConfig struct {
	secrets SecretManager
	now     func() time.Time
	logger  *slog.Logger
	key     []byte
}

func newStoreConfig(opts []Option) *storeConfig {
	cfg := &storeConfig{
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(cfg)
	}
	return cfg
}

// WithSecretManager sets the secret manager used by the keyring backend.
// If not provided, the OS-native secret manager is used.
func WithSecretManager(sm SecretManager) Option {
	return func(c *storeConfig) {
		c.secrets = sm
	}
}

// WithClock overrides the time source used for expiry checks and UpdatedAt stamps.
func WithClock(now func() time.Time) Option {
	return func(c *storeConfig) {
		c.now = now
	}
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(c *storeConfig) {
		c.logger = logger
	}
}

// WithEncryptionKey sets the 32-byte key of the file backend instead of deriving one
// from the service name and the local user.
func WithEncryptionKey(key []byte) Option {
	return func(c *storeConfig) {
		c.key = key
	}
}
