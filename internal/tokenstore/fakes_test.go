package tokenstore_test

import (
	"context"
	"errors"
	"maps"
	"slices"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/florianilch/mcpcreds/internal/credential"
	"github.com/florianilch/mcpcreds/internal/tokenstore"
)

// fakeSecretManager is an in-memory SecretManager with failure injection.
type fakeSecretManager struct {
	mu      sync.Mutex
	secrets map[string]map[string]string

	setErr       error            // returned by every Set
	getErr       error            // returned by every Get
	deleteErrs   map[string]error // returned by Delete for specific accounts
	probeDelErr  error            // returned by Delete for probe accounts
	mangleReads  bool             // Get returns a different value than stored
	panicOnSet   bool
	setCalls     atomic.Int32
	deleteCalls  atomic.Int32
	accountCalls atomic.Int32
}

var _ tokenstore.SecretManager = (*fakeSecretManager)(nil)

func newFakeSecretManager() *fakeSecretManager {
	return &fakeSecretManager{
		secrets:    map[string]map[string]string{},
		deleteErrs: map[string]error{},
	}
}

// put stores a raw secret, bypassing failure injection.
func (f *fakeSecretManager) put(service, account, secret string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.secrets[service] == nil {
		f.secrets[service] = map[string]string{}
	}
	f.secrets[service][account] = secret
}

// raw returns a stored secret, bypassing failure injection.
func (f *fakeSecretManager) raw(service, account string) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.secrets[service][account]
	return v, ok
}

func (f *fakeSecretManager) Get(service, account string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return "", f.getErr
	}
	v, ok := f.secrets[service][account]
	if !ok {
		return "", tokenstore.ErrSecretNotFound
	}
	if f.mangleReads {
		return v + "-mangled", nil
	}
	return v, nil
}

func (f *fakeSecretManager) Set(service, account, secret string) error {
	f.setCalls.Add(1)
	if f.panicOnSet {
		panic("native secret manager crashed")
	}
	if f.setErr != nil {
		return f.setErr
	}
	f.put(service, account, secret)
	return nil
}

func (f *fakeSecretManager) Delete(service, account string) error {
	f.deleteCalls.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.deleteErrs[account]; err != nil {
		return err
	}
	if f.probeDelErr != nil && strings.HasPrefix(account, "__keychain_test__") {
		return f.probeDelErr
	}
	if _, ok := f.secrets[service][account]; !ok {
		return tokenstore.ErrSecretNotFound
	}
	delete(f.secrets[service], account)
	return nil
}

func (f *fakeSecretManager) Accounts(service string) ([]string, error) {
	f.accountCalls.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Sorted(maps.Keys(f.secrets[service])), nil
}

// memoryStore is a minimal CredentialStore used as a stand-in backend.
type memoryStore struct {
	name string

	mu      sync.Mutex
	records map[string]*credential.Credentials
	err     error
}

var _ tokenstore.CredentialStore = (*memoryStore)(nil)

func newMemoryStore(name string) *memoryStore {
	return &memoryStore{name: name, records: map[string]*credential.Credentials{}}
}

func (m *memoryStore) Get(_ context.Context, serverName string) (*credential.Credentials, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	return m.records[serverName], nil
}

func (m *memoryStore) Set(_ context.Context, c *credential.Credentials) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.records[c.ServerName] = c.Clone()
	return nil
}

func (m *memoryStore) Delete(_ context.Context, serverName string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	if _, ok := m.records[serverName]; !ok {
		return &tokenstore.NotFoundError{ServerName: serverName}
	}
	delete(m.records, serverName)
	return nil
}

// ListServers returns the store name so tests can tell backends apart.
func (m *memoryStore) ListServers(context.Context) ([]string, error) {
	if m.err != nil {
		return nil, m.err
	}
	return []string{m.name}, nil
}

func (m *memoryStore) ListCredentials(context.Context) (map[string]*credential.Credentials, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return maps.Clone(m.records), m.err
}

func (m *memoryStore) ClearAll(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	clear(m.records)
	return nil
}

// probedStub is a memoryStore with a controllable availability probe.
type probedStub struct {
	*memoryStore

	available atomic.Bool
	probes    atomic.Int32
	gate      chan struct{} // if non-nil, Available blocks until closed
	panics    bool
}

var _ tokenstore.ProbedStore = (*probedStub)(nil)

func (p *probedStub) Available() bool {
	p.probes.Add(1)
	if p.gate != nil {
		<-p.gate
	}
	if p.panics {
		panic("probe exploded")
	}
	return p.available.Load()
}

var errInjected = errors.New("injected failure")
