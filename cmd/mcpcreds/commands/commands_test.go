package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/florianilch/mcpcreds/internal/app"
)

// harness runs the CLI against temp storage and trust files with file storage forced.
type harness struct {
	storageFile string
	trustFile   string
	relaunches  atomic.Int32
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	dir := t.TempDir()
	return &harness{
		storageFile: filepath.Join(dir, "tokens.enc"),
		trustFile:   filepath.Join(dir, "trustedFolders.json"),
	}
}

func (h *harness) run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()

	var out, errOut bytes.Buffer
	root := newRootCommand(
		app.WithLookupEnv(func(string) (string, bool) { return "", false }),
		app.WithRelaunchFunc(func() error {
			h.relaunches.Add(1)
			return nil
		}),
	)
	root.Writer = &out
	root.ErrWriter = &errOut
	root.Reader = strings.NewReader(stdin)

	full := append([]string{
		"mcpcreds",
		"--storage--force-file",
		"--storage--file", h.storageFile,
		"--trust--file", h.trustFile,
	}, args...)
	err := root.Run(context.Background(), full)
	return out.String(), err
}

func TestCredentialsLifecycle(t *testing.T) {
	h := newHarness(t)

	out, err := h.run(t, "", "credentials", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "No stored credentials.")

	out, err = h.run(t, "",
		"credentials", "set",
		"--access-token", "secret-access-token",
		"--refresh-token", "secret-refresh-token",
		"--client-id", "client-123",
		"--expires-in", "1h",
		"github")
	require.NoError(t, err)
	assert.Contains(t, out, "Stored credentials for github (encrypted_file).")

	out, err = h.run(t, "", "credentials", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "SERVER")
	assert.Regexp(t, `github\s+valid`, out)

	out, err = h.run(t, "", "credentials", "get", "github")
	require.NoError(t, err)
	assert.NotContains(t, out, "secret-access-token")
	assert.Contains(t, out, `"accessToken": "secr****"`)
	assert.Contains(t, out, `"clientId": "client-123"`)

	out, err = h.run(t, "", "credentials", "get", "--show-secrets", "github")
	require.NoError(t, err)
	assert.Contains(t, out, "secret-access-token")

	out, err = h.run(t, "", "credentials", "delete", "github")
	require.NoError(t, err)
	assert.Contains(t, out, "Deleted credentials for github.")

	_, err = h.run(t, "", "credentials", "get", "github")
	require.ErrorContains(t, err, "no valid credentials stored for github")

	_, err = h.run(t, "", "credentials", "delete", "github")
	require.ErrorContains(t, err, "no credentials found for github")
}

func TestCredentialsSetReadsTokenFromStdin(t *testing.T) {
	h := newHarness(t)

	_, err := h.run(t, "piped-token\n", "credentials", "set", "linear")
	require.NoError(t, err)

	out, err := h.run(t, "", "credentials", "get", "--show-secrets", "linear")
	require.NoError(t, err)
	assert.Contains(t, out, `"accessToken": "piped-token"`)
	assert.Contains(t, out, `"tokenType": "Bearer"`)
}

func TestCredentialsSetRejectsEmptyToken(t *testing.T) {
	h := newHarness(t)

	_, err := h.run(t, "\n", "credentials", "set", "linear")
	require.ErrorContains(t, err, "empty input")

	_, err = h.run(t, "", "credentials", "set", "--access-token", "x")
	require.ErrorContains(t, err, "missing SERVER argument")
}

func TestCredentialsClear(t *testing.T) {
	h := newHarness(t)

	for _, name := range []string{"github", "linear"} {
		_, err := h.run(t, "", "credentials", "set", "--access-token", "t-"+name, name)
		require.NoError(t, err)
	}

	out, err := h.run(t, "", "credentials", "clear")
	require.NoError(t, err)
	assert.Contains(t, out, "Cleared all stored credentials.")

	out, err = h.run(t, "", "credentials", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "No stored credentials.")
}

func TestCredentialsTokenRefreshes(t *testing.T) {
	var calls atomic.Int32
	endpoint := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if err := r.ParseForm(); err != nil || r.PostForm.Get("refresh_token") != "old-refresh" {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token":  "new-access",
			"refresh_token": "new-refresh",
			"token_type":    "Bearer",
			"expires_in":    3600,
		})
	}))
	t.Cleanup(endpoint.Close)

	h := newHarness(t)

	// Inside oauth2's expiry window but not yet expired in storage
	_, err := h.run(t, "",
		"credentials", "set",
		"--access-token", "old-access",
		"--refresh-token", "old-refresh",
		"--client-id", "client-123",
		"--token-url", endpoint.URL,
		"--expires-in", "5s",
		"github")
	require.NoError(t, err)

	out, err := h.run(t, "", "credentials", "token", "github")
	require.NoError(t, err)
	assert.Equal(t, "new-access\n", out)
	assert.Equal(t, int32(1), calls.Load())

	out, err = h.run(t, "", "credentials", "get", "--show-secrets", "github")
	require.NoError(t, err)
	assert.Contains(t, out, `"refreshToken": "new-refresh"`)
}

func TestStorageCommand(t *testing.T) {
	h := newHarness(t)

	out, err := h.run(t, "", "storage")
	require.NoError(t, err)
	assert.Contains(t, out, "Backend: encrypted_file")
	assert.Contains(t, out, h.storageFile)
}

func TestTrustDisabled(t *testing.T) {
	h := newHarness(t)
	folder := t.TempDir()

	for _, args := range [][]string{
		{"trust", "show", folder},
		{"trust", "set", "trust-folder", folder},
		{"trust", "set", "--no-relaunch", "trust-folder", folder},
	} {
		out, err := h.run(t, "", args...)
		require.NoError(t, err)
		assert.Equal(t, "Folder trust is disabled. You can enable it in the settings.\n", out)
	}
	assert.NoFileExists(t, h.trustFile)
	assert.Zero(t, h.relaunches.Load())
}

func TestTrustSetAndShow(t *testing.T) {
	h := newHarness(t)
	parent := t.TempDir()
	child := filepath.Join(parent, "child")

	out, err := h.run(t, "", "--trust--enabled", "trust", "show", child)
	require.NoError(t, err)
	assert.Contains(t, out, "Explicit:  none")
	assert.Contains(t, out, "Effective: unset")

	out, err = h.run(t, "", "--trust--enabled", "trust", "set", "--trust--relaunch-delay", "1ms", "trust-folder", parent)
	require.NoError(t, err)
	assert.Contains(t, out, "Trust level of "+parent+" set to TRUST_FOLDER.")
	assert.Contains(t, out, "Effective trust changed, relaunching.")
	assert.Equal(t, int32(1), h.relaunches.Load())

	out, err = h.run(t, "", "--trust--enabled", "trust", "show", child)
	require.NoError(t, err)
	assert.Contains(t, out, "Effective: trusted")
	assert.Contains(t, out, "inherited")

	// Already trusted through the parent: the explicit entry changes, the verdict does not
	out, err = h.run(t, "", "--trust--enabled", "trust", "set", "trust-parent", child)
	require.NoError(t, err)
	assert.NotContains(t, out, "relaunching")
	assert.Equal(t, int32(1), h.relaunches.Load())

	out, err = h.run(t, "", "--trust--enabled", "trust", "set", "--no-relaunch", "do-not-trust", parent)
	require.NoError(t, err)
	assert.Contains(t, out, "Trust level of "+parent+" set to DO_NOT_TRUST.")
	assert.Equal(t, int32(1), h.relaunches.Load())
}

func TestTrustSetRejectsInvalidLevel(t *testing.T) {
	h := newHarness(t)

	_, err := h.run(t, "", "--trust--enabled", "trust", "set", "sometimes", t.TempDir())
	require.ErrorContains(t, err, "invalid trust level")

	_, err = h.run(t, "", "--trust--enabled", "trust", "set")
	require.ErrorContains(t, err, "missing LEVEL argument")
}
