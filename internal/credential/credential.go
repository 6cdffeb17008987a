package credential

import (
	"bytes"
	"encoding/json"
	"errors"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// Token is the OAuth token issued for an MCP server.
type Token struct {
	AccessToken  string `json:"accessToken" validate:"required"`
	RefreshToken string `json:"refreshToken,omitempty"`
	// ExpiresAt is the expiry in Unix milliseconds. Zero means the token never expires.
	ExpiresAt int64  `json:"expiresAt,omitempty"`
	TokenType string `json:"tokenType" validate:"required"`
	Scope     string `json:"scope,omitempty"`
}

// Credentials is the record stored per MCP server.
type Credentials struct {
	ServerName   string `json:"serverName" validate:"required"`
	Token        Token  `json:"token"`
	ClientID     string `json:"clientId,omitempty"`
	TokenURL     string `json:"tokenUrl,omitempty"`
	MCPServerURL string `json:"mcpServerUrl,omitempty"`
	// UpdatedAt is stamped by the storage layer on every successful write (Unix milliseconds).
	UpdatedAt int64 `json:"updatedAt"`
}

// Expiry returns the token expiry as time.Time, or the zero time if the token never expires.
func (c *Credentials) Expiry() time.Time {
	if c.Token.ExpiresAt == 0 {
		return time.Time{}
	}
	return time.UnixMilli(c.Token.ExpiresAt)
}

// Clone returns a copy of the record that shares no state with c.
func (c *Credentials) Clone() *Credentials {
	clone := *c
	return &clone
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// Report JSON field names so errors match the stored representation
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Validate checks that the record carries every required field.
// Returns *ValidationError describing the first missing field.
func Validate(c *Credentials) error {
	if c == nil {
		return &ValidationError{Field: "credentials", Reason: "is required"}
	}

	err := validate.Struct(c)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
		fe := fieldErrs[0]
		// Namespace is "Credentials.token.accessToken"; drop the type name
		_, field, _ := strings.Cut(fe.Namespace(), ".")
		return &ValidationError{Field: field, Reason: "is " + fe.Tag()}
	}
	return &ValidationError{Field: "credentials", Reason: err.Error()}
}

// SanitizeKey maps a server name to a storage-safe key by replacing every character
// outside [A-Za-z0-9._-] with an underscore. Applying it twice yields the same key.
func SanitizeKey(serverName string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '.', r == '_', r == '-':
			return r
		default:
			return '_'
		}
	}, serverName)
}

// IsExpired reports whether the token expired strictly before now.
// Records without an expiry never expire.
func IsExpired(c *Credentials, now time.Time) bool {
	if c.Token.ExpiresAt == 0 {
		return false
	}
	return c.Token.ExpiresAt < now.UnixMilli()
}

// Marshal encodes the record into its stable JSON representation.
func Marshal(c *Credentials) ([]byte, error) {
	return json.Marshal(c)
}

// Unmarshal decodes a stored payload for serverName. Any payload that is not a valid
// encoding of a well-formed record yields *CorruptDataError.
func Unmarshal(serverName string, data []byte) (*Credentials, error) {
	var c Credentials
	dec := json.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&c); err != nil {
		return nil, &CorruptDataError{ServerName: serverName, Err: err}
	}
	if dec.More() {
		return nil, &CorruptDataError{ServerName: serverName, Err: errors.New("trailing data after record")}
	}
	if err := Validate(&c); err != nil {
		return nil, &CorruptDataError{ServerName: serverName, Err: err}
	}
	return &c, nil
}
