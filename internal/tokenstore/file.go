package tokenstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/florianilch/mcpcreds/internal/credential"
)

// errCorruptFile marks a credentials file that cannot be decrypted or decoded as a whole.
var errCorruptFile = errors.New("credentials file is corrupt")

// FileStore keeps all records in a single encrypted file with secure permissions.
// Writes use temp file + rename for crash safety.
type FileStore struct {
	filePath string
	now      func() time.Time
	logger   *slog.Logger

	sealer func() (*sealer, error)

	mu sync.Mutex
}

// Compile-time check to ensure FileStore implements CredentialStore
var _ CredentialStore = (*FileStore)(nil)

// NewFileStore creates a FileStore for the given path, creating parent directories
// with 0700 permissions if they don't exist. Without WithEncryptionKey the key is
// derived from service on first use.
func NewFileStore(filePath, service string, opts ...Option) (*FileStore, error) {
	if filePath == "" {
		return nil, fmt.Errorf("file path cannot be empty")
	}
	if service == "" {
		return nil, fmt.Errorf("service cannot be empty")
	}

	dir := filepath.Dir(filePath)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, err
	}

	cfg := newStoreConfig(opts)
	f := &FileStore{
		filePath: filePath,
		now:      cfg.now,
		logger:   cfg.logger,
	}

	if cfg.key != nil {
		s, err := newSealer(cfg.key)
		if err != nil {
			return nil, err
		}
		f.sealer = func() (*sealer, error) { return s, nil }
	} else {
		// Key derivation is expensive, defer it until the file backend is actually used
		f.sealer = sync.OnceValues(func() (*sealer, error) {
			key, err := deriveKey(service)
			if err != nil {
				return nil, err
			}
			return newSealer(key)
		})
	}

	return f, nil
}

// Get returns the stored record, or nil if none exists or it has expired.
func (f *FileStore) Get(ctx context.Context, serverName string) (*credential.Credentials, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f.mu.Lock()
	entries, err := f.load()
	f.mu.Unlock()
	if err != nil {
		if errors.Is(err, errCorruptFile) {
			return nil, &credential.CorruptDataError{ServerName: serverName, Err: err}
		}
		return nil, err
	}

	raw, ok := entries[serverName]
	if !ok {
		return nil, nil
	}

	c, err := credential.Unmarshal(serverName, raw)
	if err != nil {
		return nil, err
	}
	if credential.IsExpired(c, f.now()) {
		return nil, nil
	}
	return c, nil
}

// Set validates the record, stamps UpdatedAt and overwrites any existing entry.
func (f *FileStore) Set(ctx context.Context, c *credential.Credentials) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := credential.Validate(c); err != nil {
		return err
	}

	updated := c.Clone()
	updated.UpdatedAt = f.now().UnixMilli()

	data, err := credential.Marshal(updated)
	if err != nil {
		return fmt.Errorf("encoding credentials for %s: %w", c.ServerName, err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	entries, err := f.load()
	if err != nil {
		return err
	}
	entries[c.ServerName] = data

	return f.save(ctx, entries)
}

// Delete removes the record, returning *NotFoundError if nothing was stored.
// Removing the last record removes the file.
func (f *FileStore) Delete(ctx context.Context, serverName string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	entries, err := f.load()
	if err != nil {
		return err
	}
	if _, ok := entries[serverName]; !ok {
		return &NotFoundError{ServerName: serverName}
	}
	delete(entries, serverName)

	return f.save(ctx, entries)
}

// ListServers returns every stored server name in sorted order, including corrupt entries.
func (f *FileStore) ListServers(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f.mu.Lock()
	entries, err := f.load()
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}

	return slices.Sorted(maps.Keys(entries)), nil
}

// ListCredentials returns every well-formed, unexpired record.
func (f *FileStore) ListCredentials(ctx context.Context) (map[string]*credential.Credentials, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f.mu.Lock()
	entries, err := f.load()
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}

	now := f.now()
	result := make(map[string]*credential.Credentials, len(entries))
	for name, raw := range entries {
		c, err := credential.Unmarshal(name, raw)
		if err != nil {
			f.logger.DebugContext(ctx, "skipping corrupt file entry", "server", name, "error", err)
			continue
		}
		if credential.IsExpired(c, now) {
			continue
		}
		result[c.ServerName] = c
	}
	return result, nil
}

// ClearAll removes the credentials file.
func (f *FileStore) ClearAll(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if err := os.Remove(f.filePath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("removing credentials file: %w", err)
	}
	return nil
}

// load reads and decrypts the file. A missing file yields an empty set.
// Callers must hold f.mu.
func (f *FileStore) load() (map[string]json.RawMessage, error) {
	info, err := os.Stat(f.filePath)
	if errors.Is(err, os.ErrNotExist) {
		return map[string]json.RawMessage{}, nil
	}
	if err != nil {
		return nil, err
	}
	if info.Mode().Perm() != 0600 {
		return nil, fmt.Errorf("insecure permissions on %s: %04o (expected 0600)", f.filePath, info.Mode().Perm())
	}

	box, err := os.ReadFile(f.filePath)
	if err != nil {
		return nil, err
	}

	s, err := f.sealer()
	if err != nil {
		return nil, err
	}
	plaintext, err := s.open(box)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", errCorruptFile, f.filePath, err)
	}

	entries := map[string]json.RawMessage{}
	if err := json.Unmarshal(plaintext, &entries); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", errCorruptFile, f.filePath, err)
	}
	return entries, nil
}

// save encrypts and atomically replaces the file, or removes it when no entries remain.
// Callers must hold f.mu.
func (f *FileStore) save(ctx context.Context, entries map[string]json.RawMessage) error {
	if len(entries) == 0 {
		if err := os.Remove(f.filePath); err != nil && !errors.Is(err, os.ErrNotExist) {
			return err
		}
		return nil
	}

	plaintext, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("encoding credentials file: %w", err)
	}

	s, err := f.sealer()
	if err != nil {
		return err
	}
	box, err := s.seal(plaintext)
	if err != nil {
		return err
	}

	// Create secure temp file in same directory for atomic rename
	dir := filepath.Dir(f.filePath)
	tempFile, err := os.CreateTemp(dir, "*.tmp")
	if err != nil {
		return err
	}
	tempName := tempFile.Name()
	// Cleanup deferred for all exit paths
	defer func() { _ = os.Remove(tempName) }()
	defer func() { _ = tempFile.Close() }()

	if _, err := tempFile.Write(box); err != nil {
		return err
	}

	if err := ctx.Err(); err != nil {
		return err
	}
	if err := tempFile.Close(); err != nil {
		return err
	}

	if err := os.Rename(tempName, f.filePath); err != nil {
		return err
	}

	// Set secure file permissions (0600 = rw-------)
	return os.Chmod(f.filePath, 0600)
}
