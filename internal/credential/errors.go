package credential

import "fmt"

// ValidationError reports a malformed record. Such records are never persisted.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid credentials: %s %s", e.Field, e.Reason)
}

// CorruptDataError reports a stored payload that does not decode into a valid record.
type CorruptDataError struct {
	ServerName string
	Err        error
}

func (e *CorruptDataError) Error() string {
	return fmt.Sprintf("failed to parse stored credentials for %s: %v", e.ServerName, e.Err)
}

func (e *CorruptDataError) Unwrap() error {
	return e.Err
}
