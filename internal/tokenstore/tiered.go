package tokenstore

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/florianilch/mcpcreds/internal/credential"
)

// Kind identifies the backend selected by a TieredStore.
type Kind string

const (
	KindKeyring       Kind = "keyring"
	KindEncryptedFile Kind = "encrypted_file"
)

// PrimaryFactory constructs the preferred backend. Construction errors and panics
// are treated as "unavailable".
type PrimaryFactory func() (ProbedStore, error)

// TieredOption configures a TieredStore.
type TieredOption func(*TieredStore)

// WithPrimary replaces the keyring factory, e.g. to inject a fake secret manager.
func WithPrimary(factory PrimaryFactory) TieredOption {
	return func(t *TieredStore) {
		t.primary = factory
	}
}

// WithLookupEnv sets the environment lookup used for the force-file override.
// If not provided, os.LookupEnv is used.
func WithLookupEnv(lookup LookupEnvFunc) TieredOption {
	return func(t *TieredStore) {
		t.lookupEnv = lookup
	}
}

// WithForceFile selects the file backend without probing, like ForceFileStorageEnv.
func WithForceFile(force bool) TieredOption {
	return func(t *TieredStore) {
		t.forceFile = force
	}
}

// WithSelectionObserver registers a callback invoked every time a backend is selected.
func WithSelectionObserver(observe func(Kind)) TieredOption {
	return func(t *TieredStore) {
		t.observe = observe
	}
}

// WithTieredLogger sets the logger. Defaults to slog.Default().
func WithTieredLogger(logger *slog.Logger) TieredOption {
	return func(t *TieredStore) {
		t.logger = logger
	}
}

// selection is the terminal outcome of backend selection.
type selection struct {
	store CredentialStore
	kind  Kind
}

// TieredStore selects one backend for its lifetime and forwards every operation to it.
// The keyring is preferred when its probe passes; the file backend is the fallback.
type TieredStore struct {
	fallback  CredentialStore
	primary   PrimaryFactory
	lookupEnv LookupEnvFunc
	forceFile bool
	observe   func(Kind)
	logger    *slog.Logger

	// pending holds the single in-flight (or completed) selection. Concurrent callers
	// share it; only Reset clears it.
	pending atomic.Pointer[func() *selection]
	// announced records whether the selection was already logged at info level.
	announced atomic.Bool
}

// Compile-time check to ensure TieredStore implements CredentialStore
var _ CredentialStore = (*TieredStore)(nil)

// NewTieredStore creates a TieredStore preferring the keyring under service and
// falling back to fallback. No I/O is performed until the first operation.
func NewTieredStore(service string, fallback CredentialStore, opts ...TieredOption) (*TieredStore, error) {
	if fallback == nil {
		return nil, fmt.Errorf("missing fallback store")
	}

	t := &TieredStore{
		fallback: fallback,
		primary: func() (ProbedStore, error) {
			return NewKeyringStore(service)
		},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t, nil
}

// backend resolves the selection, starting it if no selection is pending.
func (t *TieredStore) backend() *selection {
	for {
		if pending := t.pending.Load(); pending != nil {
			return (*pending)()
		}
		next := sync.OnceValue(t.selectBackend)
		if t.pending.CompareAndSwap(nil, &next) {
			return next()
		}
	}
}

// selectBackend runs the selection algorithm: forced file, then keyring if its probe
// passes, then file.
func (t *TieredStore) selectBackend() *selection {
	ctx := context.Background()
	level := slog.LevelDebug
	if t.announced.CompareAndSwap(false, true) {
		level = slog.LevelInfo
	}

	sel := t.resolve(ctx, level)
	if t.observe != nil {
		t.observe(sel.kind)
	}
	return sel
}

func (t *TieredStore) resolve(ctx context.Context, level slog.Level) *selection {
	if t.forceFile || forceFileRequested(t.lookupEnv) {
		t.logger.Log(ctx, level, "using encrypted file credential storage (forced by environment)")
		return &selection{store: t.fallback, kind: KindEncryptedFile}
	}

	if store, ok := t.probePrimary(ctx); ok {
		t.logger.Log(ctx, level, "keyring is available, using OS keyring for credential storage")
		return &selection{store: store, kind: KindKeyring}
	}

	t.logger.Log(ctx, level, "keyring not available, falling back to encrypted file credential storage")
	return &selection{store: t.fallback, kind: KindEncryptedFile}
}

// probePrimary constructs and probes the preferred backend.
func (t *TieredStore) probePrimary(ctx context.Context) (store ProbedStore, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			t.logger.DebugContext(ctx, "keyring initialization panicked", "panic", r)
			store, ok = nil, false
		}
	}()

	store, err := t.primary()
	if err != nil {
		t.logger.DebugContext(ctx, "keyring initialization failed", "error", err)
		return nil, false
	}
	if store == nil {
		return nil, false
	}
	return store, store.Available()
}

// Kind returns the selected backend, running selection if necessary.
func (t *TieredStore) Kind() Kind {
	return t.backend().kind
}

// Reset discards the selection so that the next operation re-runs it.
// Operations already waiting on the previous selection complete against it.
func (t *TieredStore) Reset() {
	t.pending.Store(nil)
}

// Get forwards to the selected backend.
func (t *TieredStore) Get(ctx context.Context, serverName string) (*credential.Credentials, error) {
	return t.backend().store.Get(ctx, serverName)
}

// Set forwards to the selected backend.
func (t *TieredStore) Set(ctx context.Context, c *credential.Credentials) error {
	return t.backend().store.Set(ctx, c)
}

// Delete forwards to the selected backend.
func (t *TieredStore) Delete(ctx context.Context, serverName string) error {
	return t.backend().store.Delete(ctx, serverName)
}

// ListServers forwards to the selected backend.
func (t *TieredStore) ListServers(ctx context.Context) ([]string, error) {
	return t.backend().store.ListServers(ctx)
}

// ListCredentials forwards to the selected backend.
func (t *TieredStore) ListCredentials(ctx context.Context) (map[string]*credential.Credentials, error) {
	return t.backend().store.ListCredentials(ctx)
}

// ClearAll forwards to the selected backend.
func (t *TieredStore) ClearAll(ctx context.Context) error {
	return t.backend().store.ClearAll(ctx)
}
