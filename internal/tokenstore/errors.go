package tokenstore

import (
	"errors"
	"fmt"
	"strings"
)

// BackendUnavailableError is returned when an operation targets a backend that
// did not pass its availability probe.
type BackendUnavailableError struct {
	Backend string
}

func (e *BackendUnavailableError) Error() string {
	return fmt.Sprintf("%s storage is not available", e.Backend)
}

// NotFoundError is returned when deleting a record that does not exist.
type NotFoundError struct {
	ServerName string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("no credentials found for %s", e.ServerName)
}

// ClearOutcome is the result of deleting a single record during ClearAll.
type ClearOutcome struct {
	ServerName string
	Err        error
}

// ClearResult collects per-record outcomes of a ClearAll sweep.
type ClearResult struct {
	Outcomes []ClearOutcome
}

// Record appends the outcome of deleting serverName.
func (r *ClearResult) Record(serverName string, err error) {
	r.Outcomes = append(r.Outcomes, ClearOutcome{ServerName: serverName, Err: err})
}

// Failed returns the outcomes that carry an error.
func (r *ClearResult) Failed() []ClearOutcome {
	var failed []ClearOutcome
	for _, o := range r.Outcomes {
		if o.Err != nil {
			failed = append(failed, o)
		}
	}
	return failed
}

// Err returns *ClearError if any deletion failed, nil otherwise.
func (r *ClearResult) Err() error {
	if len(r.Failed()) == 0 {
		return nil
	}
	return &ClearError{Outcomes: r.Outcomes}
}

// ClearError reports a ClearAll sweep in which one or more deletions failed.
// Successful deletions are not rolled back.
type ClearError struct {
	Outcomes []ClearOutcome
}

func (e *ClearError) Error() string {
	var msgs []string
	for _, o := range e.Outcomes {
		if o.Err != nil {
			msgs = append(msgs, o.Err.Error())
		}
	}
	return "failed to clear some credentials: " + strings.Join(msgs, ", ")
}

// Unwrap exposes every underlying failure to errors.Is and errors.As.
func (e *ClearError) Unwrap() []error {
	var errs []error
	for _, o := range e.Outcomes {
		if o.Err != nil {
			errs = append(errs, o.Err)
		}
	}
	return errs
}

// ErrSecretNotFound is returned by a SecretManager when no secret exists for an account.
var ErrSecretNotFound = errors.New("secret not found")
