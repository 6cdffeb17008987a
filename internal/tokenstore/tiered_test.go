package tokenstore_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/florianilch/mcpcreds/internal/tokenstore"
)

func noEnv(string) (string, bool) { return "", false }

func forceFileEnv(key string) (string, bool) {
	if key == tokenstore.ForceFileStorageEnv {
		return "true", true
	}
	return "", false
}

// tieredFixture wires a TieredStore to a controllable primary and a memory fallback.
type tieredFixture struct {
	primary   *probedStub
	fallback  *memoryStore
	factories atomic.Int32
	store     *tokenstore.TieredStore
}

func newTieredFixture(t *testing.T, available bool, opts ...tokenstore.TieredOption) *tieredFixture {
	t.Helper()

	f := &tieredFixture{
		primary:  &probedStub{memoryStore: newMemoryStore("primary")},
		fallback: newMemoryStore("fallback"),
	}
	f.primary.available.Store(available)

	base := []tokenstore.TieredOption{
		tokenstore.WithLookupEnv(noEnv),
		tokenstore.WithPrimary(func() (tokenstore.ProbedStore, error) {
			f.factories.Add(1)
			return f.primary, nil
		}),
	}
	store, err := tokenstore.NewTieredStore(testService, f.fallback, append(base, opts...)...)
	require.NoError(t, err)
	f.store = store
	return f
}

func (f *tieredFixture) servedBy(t *testing.T) string {
	t.Helper()
	servers, err := f.store.ListServers(context.Background())
	require.NoError(t, err)
	require.Len(t, servers, 1)
	return servers[0]
}

func TestNewTieredStoreRequiresFallback(t *testing.T) {
	t.Parallel()

	_, err := tokenstore.NewTieredStore(testService, nil)
	require.Error(t, err)
}

func TestTieredStoreSelection(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name          string
		available     bool
		opts          []tokenstore.TieredOption
		wantKind      tokenstore.Kind
		wantServedBy  string
		wantFactories int32
	}{
		{
			name:          "keyring_available",
			available:     true,
			wantKind:      tokenstore.KindKeyring,
			wantServedBy:  "primary",
			wantFactories: 1,
		},
		{
			name:          "keyring_unavailable",
			available:     false,
			wantKind:      tokenstore.KindEncryptedFile,
			wantServedBy:  "fallback",
			wantFactories: 1,
		},
		{
			name:          "forced_by_environment",
			available:     true,
			opts:          []tokenstore.TieredOption{tokenstore.WithLookupEnv(forceFileEnv)},
			wantKind:      tokenstore.KindEncryptedFile,
			wantServedBy:  "fallback",
			wantFactories: 0,
		},
		{
			name:          "forced_by_option",
			available:     true,
			opts:          []tokenstore.TieredOption{tokenstore.WithForceFile(true)},
			wantKind:      tokenstore.KindEncryptedFile,
			wantServedBy:  "fallback",
			wantFactories: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			f := newTieredFixture(t, tt.available, tt.opts...)

			assert.Equal(t, tt.wantKind, f.store.Kind())
			assert.Equal(t, tt.wantServedBy, f.servedBy(t))
			assert.Equal(t, tt.wantFactories, f.factories.Load())
			assert.Equal(t, tt.wantFactories, f.primary.probes.Load())
		})
	}
}

func TestTieredStoreForceFileIgnoresOtherValues(t *testing.T) {
	t.Parallel()

	f := newTieredFixture(t, true, tokenstore.WithLookupEnv(func(key string) (string, bool) {
		return "1", key == tokenstore.ForceFileStorageEnv
	}))
	assert.Equal(t, tokenstore.KindKeyring, f.store.Kind(), `only "true" forces file storage`)
}

func TestTieredStorePrimaryFailures(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		factory tokenstore.PrimaryFactory
	}{
		{
			name: "construction_error",
			factory: func() (tokenstore.ProbedStore, error) {
				return nil, errInjected
			},
		},
		{
			name: "construction_panic",
			factory: func() (tokenstore.ProbedStore, error) {
				panic("native module missing")
			},
		},
		{
			name: "nil_store",
			factory: func() (tokenstore.ProbedStore, error) {
				return nil, nil
			},
		},
		{
			name: "probe_panic",
			factory: func() (tokenstore.ProbedStore, error) {
				return &probedStub{memoryStore: newMemoryStore("primary"), panics: true}, nil
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			store, err := tokenstore.NewTieredStore(testService, newMemoryStore("fallback"),
				tokenstore.WithLookupEnv(noEnv),
				tokenstore.WithPrimary(tt.factory),
			)
			require.NoError(t, err)
			assert.Equal(t, tokenstore.KindEncryptedFile, store.Kind())
		})
	}
}

func TestTieredStoreConcurrentFirstUse(t *testing.T) {
	t.Parallel()

	f := newTieredFixture(t, true)
	f.primary.gate = make(chan struct{})

	const callers = 32
	results := make([]string, callers)

	var g errgroup.Group
	for i := range callers {
		g.Go(func() error {
			servers, err := f.store.ListServers(context.Background())
			if err != nil {
				return err
			}
			results[i] = servers[0]
			return nil
		})
	}

	// Let every caller pile up behind the in-flight probe before releasing it
	require.Eventually(t, func() bool { return f.primary.probes.Load() == 1 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(f.primary.gate)

	require.NoError(t, g.Wait())

	assert.Equal(t, int32(1), f.factories.Load(), "backend must be constructed once")
	assert.Equal(t, int32(1), f.primary.probes.Load(), "probe must run once")
	for _, servedBy := range results {
		assert.Equal(t, "primary", servedBy)
	}
}

func TestTieredStoreSelectionIsMemoized(t *testing.T) {
	t.Parallel()

	f := newTieredFixture(t, true)
	for range 5 {
		assert.Equal(t, "primary", f.servedBy(t))
	}

	// Availability changes are not observed without Reset
	f.primary.available.Store(false)
	assert.Equal(t, tokenstore.KindKeyring, f.store.Kind())
	assert.Equal(t, int32(1), f.factories.Load())
}

func TestTieredStoreReset(t *testing.T) {
	t.Parallel()

	f := newTieredFixture(t, false)
	require.Equal(t, tokenstore.KindEncryptedFile, f.store.Kind())

	f.primary.available.Store(true)
	f.store.Reset()

	assert.Equal(t, tokenstore.KindKeyring, f.store.Kind())
	assert.Equal(t, "primary", f.servedBy(t))
	assert.Equal(t, int32(2), f.factories.Load())
}

func TestTieredStoreSelectionObserver(t *testing.T) {
	t.Parallel()

	var observed []tokenstore.Kind
	f := newTieredFixture(t, true, tokenstore.WithSelectionObserver(func(k tokenstore.Kind) {
		observed = append(observed, k)
	}))

	f.store.Kind()
	f.store.Kind()
	f.primary.available.Store(false)
	f.store.Reset()
	f.store.Kind()

	assert.Equal(t, []tokenstore.Kind{tokenstore.KindKeyring, tokenstore.KindEncryptedFile}, observed)
}

func TestTieredStoreForwarding(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newTieredFixture(t, true)

	require.NoError(t, f.store.Set(ctx, newTestCredentials("github")))
	assert.Contains(t, f.primary.records, "github")
	assert.Empty(t, f.fallback.records)

	got, err := f.store.Get(ctx, "github")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "access-github", got.Token.AccessToken)

	creds, err := f.store.ListCredentials(ctx)
	require.NoError(t, err)
	assert.Len(t, creds, 1)

	require.NoError(t, f.store.Delete(ctx, "github"))

	var nf *tokenstore.NotFoundError
	require.ErrorAs(t, f.store.Delete(ctx, "github"), &nf, "backend errors propagate unchanged")

	require.NoError(t, f.store.Set(ctx, newTestCredentials("linear")))
	require.NoError(t, f.store.ClearAll(ctx))
	assert.Empty(t, f.primary.records)

	f.primary.err = errInjected
	_, err = f.store.Get(ctx, "github")
	assert.True(t, errors.Is(err, errInjected))
}

func TestTieredStoreWithKeyringBackends(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	sm := newFakeSecretManager()
	fallback := newMemoryStore("fallback")

	store, err := tokenstore.NewTieredStore(testService, fallback,
		tokenstore.WithLookupEnv(noEnv),
		tokenstore.WithPrimary(func() (tokenstore.ProbedStore, error) {
			return tokenstore.NewKeyringStore(testService,
				tokenstore.WithSecretManager(sm),
				tokenstore.WithClock(fixedClock),
			)
		}),
	)
	require.NoError(t, err)

	require.NoError(t, store.Set(ctx, newTestCredentials("github")))
	assert.Equal(t, tokenstore.KindKeyring, store.Kind())

	_, ok := sm.raw(testService, "github")
	assert.True(t, ok)
}
