package trust

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// DefaultFoldersFile is the file name of the user-scoped trust configuration.
const DefaultFoldersFile = "trustedFolders.json"

// DefaultFoldersPath returns <UserConfigDir>/mcpcreds/trustedFolders.json.
func DefaultFoldersPath() (string, error) {
	configDir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("resolving user config directory: %w", err)
	}
	return filepath.Join(configDir, "mcpcreds", DefaultFoldersFile), nil
}

// Folders persists explicit trust levels as a JSON object mapping absolute folder
// paths to levels.
type Folders struct {
	filePath string
	mu       sync.Mutex
}

// NewFolders creates a Folders store backed by filePath. The file is created on
// the first write.
func NewFolders(filePath string) (*Folders, error) {
	if filePath == "" {
		return nil, fmt.Errorf("file path cannot be empty")
	}
	return &Folders{filePath: filePath}, nil
}

// Path returns the backing file.
func (f *Folders) Path() string {
	return f.filePath
}

// Load returns every stored rule. A missing file yields an empty map.
func (f *Folders) Load(ctx context.Context) (map[string]Level, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	return f.load()
}

// Set stores level for folder, replacing any previous level.
func (f *Folders) Set(ctx context.Context, folder string, level Level) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !level.Valid() {
		return fmt.Errorf("invalid trust level %q", level)
	}
	folder, err := normalize(folder)
	if err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	rules, err := f.load()
	if err != nil {
		return err
	}
	rules[folder] = level
	return f.save(rules)
}

// Unset removes any explicit level for folder. Removing a missing rule is not an error.
func (f *Folders) Unset(ctx context.Context, folder string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	folder, err := normalize(folder)
	if err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	rules, err := f.load()
	if err != nil {
		return err
	}
	if _, ok := rules[folder]; !ok {
		return nil
	}
	delete(rules, folder)
	return f.save(rules)
}

// load reads the rules file. Callers must hold f.mu.
func (f *Folders) load() (map[string]Level, error) {
	data, err := os.ReadFile(f.filePath)
	if errors.Is(err, os.ErrNotExist) {
		return map[string]Level{}, nil
	}
	if err != nil {
		return nil, err
	}

	rules := map[string]Level{}
	if len(data) == 0 {
		return rules, nil
	}
	if err := json.Unmarshal(data, &rules); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", f.filePath, err)
	}
	for folder, level := range rules {
		if !level.Valid() {
			return nil, fmt.Errorf("parsing %s: invalid trust level %q for %s", f.filePath, level, folder)
		}
	}
	return rules, nil
}

// save atomically replaces the rules file. Callers must hold f.mu.
func (f *Folders) save(rules map[string]Level) error {
	data, err := json.MarshalIndent(rules, "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(f.filePath)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return err
	}

	tempFile, err := os.CreateTemp(dir, "*.tmp")
	if err != nil {
		return err
	}
	tempName := tempFile.Name()
	defer func() { _ = os.Remove(tempName) }()
	defer func() { _ = tempFile.Close() }()

	if _, err := tempFile.Write(data); err != nil {
		return err
	}
	if err := tempFile.Close(); err != nil {
		return err
	}
	if err := os.Rename(tempName, f.filePath); err != nil {
		return err
	}
	return os.Chmod(f.filePath, 0600)
}

// normalize turns folder into a clean absolute path.
func normalize(folder string) (string, error) {
	if folder == "" {
		return "", fmt.Errorf("folder cannot be empty")
	}
	abs, err := filepath.Abs(folder)
	if err != nil {
		return "", fmt.Errorf("resolving %s: %w", folder, err)
	}
	return filepath.Clean(abs), nil
}
