// Package credential defines the OAuth credential record persisted per MCP server
// and the shared behaviour every storage backend relies on: validation, storage key
// sanitization, expiry checks and a stable JSON encoding.
//
// A record decoded with Unmarshal is always well-formed. Payloads that cannot be
// decoded into a valid record surface as *CorruptDataError, never as a zero value.
package credential
