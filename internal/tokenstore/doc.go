// Package tokenstore persists per-server OAuth credentials for MCP servers.
//
// Two backends implement CredentialStore:
//   - Keyring: OS-native secret manager (macOS Keychain, Windows Credential Manager,
//     Linux Secret Service), usable only after a live write-read-delete probe succeeds
//   - File: encrypted local file, always available
//
// TieredStore picks exactly one of them per process (or until Reset) and forwards
// every operation to it. Selection runs once even under concurrent first use.
package tokenstore
