package tokenstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/zalando/go-keyring"
)

// indexAccount holds the JSON list of accounts written through osKeyring.
// go-keyring has no enumeration API, so the adapter tracks accounts itself.
const indexAccount = "__accounts__"

// SecretManager is the subset of an OS secret manager the keyring backend needs.
// Secrets are addressed by a service namespace plus an account name.
type SecretManager interface {
	Get(service, account string) (string, error)
	Set(service, account, secret string) error
	// Delete returns ErrSecretNotFound if no secret exists for the account.
	Delete(service, account string) error
	Accounts(service string) ([]string, error)
}

// keyringProvider is the go-keyring API surface, swappable in tests.
type keyringProvider interface {
	Get(service, user string) (string, error)
	Set(service, user, password string) error
	Delete(service, user string) error
}

// goKeyring delegates to the go-keyring package functions.
type goKeyring struct{}

func (goKeyring) Get(service, user string) (string, error) { return keyring.Get(service, user) }
func (goKeyring) Set(service, user, password string) error {
	return keyring.Set(service, user, password)
}
func (goKeyring) Delete(service, user string) error { return keyring.Delete(service, user) }

// osKeyring delegates to go-keyring and maintains an account index per service.
type osKeyring struct {
	mu       sync.Mutex
	provider keyringProvider
}

// Compile-time check to ensure osKeyring implements SecretManager
var _ SecretManager = (*osKeyring)(nil)

// NewOSSecretManager returns a SecretManager backed by the OS-native credential store.
func NewOSSecretManager() SecretManager {
	return newOSKeyring(goKeyring{})
}

func newOSKeyring(provider keyringProvider) *osKeyring {
	return &osKeyring{provider: provider}
}

func (o *osKeyring) Get(service, account string) (string, error) {
	secret, err := o.provider.Get(service, account)
	if errors.Is(err, keyring.ErrNotFound) {
		return "", ErrSecretNotFound
	}
	return secret, err
}

func (o *osKeyring) Set(service, account, secret string) error {
	if account == indexAccount {
		return fmt.Errorf("account name %q is reserved", indexAccount)
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	// Every stored secret must be reachable through the index
	accounts, err := o.readIndex(service)
	if err != nil {
		return err
	}

	if err := o.provider.Set(service, account, secret); err != nil {
		return err
	}
	if slices.Contains(accounts, account) {
		return nil
	}

	if err := o.writeIndex(service, append(accounts, account)); err != nil {
		if delErr := o.provider.Delete(service, account); delErr != nil {
			return errors.Join(err, fmt.Errorf("removing unindexed secret %s: %w", account, delErr))
		}
		return err
	}
	return nil
}

func (o *osKeyring) Delete(service, account string) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if err := o.provider.Delete(service, account); err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return ErrSecretNotFound
		}
		return err
	}

	accounts, err := o.readIndex(service)
	if err != nil {
		return err
	}
	remaining := slices.DeleteFunc(accounts, func(a string) bool { return a == account })
	return o.writeIndex(service, remaining)
}

func (o *osKeyring) Accounts(service string) ([]string, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	return o.readIndex(service)
}

// readIndex returns the indexed accounts. Callers must hold o.mu.
func (o *osKeyring) readIndex(service string) ([]string, error) {
	data, err := o.provider.Get(service, indexAccount)
	if errors.Is(err, keyring.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading account index: %w", err)
	}

	var accounts []string
	if err := json.Unmarshal([]byte(data), &accounts); err != nil {
		return nil, fmt.Errorf("parsing account index: %w", err)
	}
	return accounts, nil
}

// writeIndex persists the account list, removing the index once it is empty.
// Callers must hold o.mu.
func (o *osKeyring) writeIndex(service string, accounts []string) error {
	if len(accounts) == 0 {
		err := o.provider.Delete(service, indexAccount)
		if err != nil && !errors.Is(err, keyring.ErrNotFound) {
			return fmt.Errorf("removing account index: %w", err)
		}
		return nil
	}

	data, err := json.Marshal(accounts)
	if err != nil {
		return fmt.Errorf("encoding account index: %w", err)
	}
	if err := o.provider.Set(service, indexAccount, string(data)); err != nil {
		return fmt.Errorf("writing account index: %w", err)
	}
	return nil
}
