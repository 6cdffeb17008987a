package trust

import (
	"fmt"
	"strings"
)

// Level is an explicit trust decision persisted for a folder.
type Level string

const (
	// TrustFolder trusts the folder and everything below it.
	TrustFolder Level = "TRUST_FOLDER"
	// TrustParent trusts the folder's parent and everything below it.
	TrustParent Level = "TRUST_PARENT"
	// DoNotTrust marks the folder itself as untrusted.
	DoNotTrust Level = "DO_NOT_TRUST"
)

// Valid reports whether l is one of the known levels.
func (l Level) Valid() bool {
	switch l {
	case TrustFolder, TrustParent, DoNotTrust:
		return true
	}
	return false
}

// grantsTrust reports whether l trusts anything at all.
func (l Level) grantsTrust() bool {
	return l == TrustFolder || l == TrustParent
}

// ParseLevel accepts the persisted form ("TRUST_FOLDER") as well as the
// command-line form ("trust-folder").
func ParseLevel(s string) (Level, error) {
	l := Level(strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(s), "-", "_")))
	if !l.Valid() {
		return "", fmt.Errorf("invalid trust level %q (expected trust-folder, trust-parent or do-not-trust)", s)
	}
	return l, nil
}

// Verdict is a tri-state trust outcome.
type Verdict int

const (
	// Unset means no rule decided the outcome.
	Unset Verdict = iota
	Trusted
	Untrusted
)

func (v Verdict) String() string {
	switch v {
	case Trusted:
		return "trusted"
	case Untrusted:
		return "untrusted"
	default:
		return "unset"
	}
}

// Bool returns the verdict as a boolean and whether it was decided.
func (v Verdict) Bool() (trusted, ok bool) {
	return v == Trusted, v != Unset
}

// VerdictOf converts a decided boolean into a Verdict.
func VerdictOf(trusted bool) Verdict {
	if trusted {
		return Trusted
	}
	return Untrusted
}
