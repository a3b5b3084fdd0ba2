package integrations

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"
)

// CredentialType selects how a provider authenticates.
type CredentialType string

const (
	CredentialAPIKey      CredentialType = "api-key"
	CredentialOAuth2      CredentialType = "oauth2"
	CredentialBasicAuth   CredentialType = "basic-auth"
	CredentialBearerToken CredentialType = "bearer-token"
	CredentialJWT         CredentialType = "jwt"
	CredentialCustom      CredentialType = "custom"
)

// Valid reports whether t is a known credential type.
func (t CredentialType) Valid() bool {
	switch t {
	case CredentialAPIKey, CredentialOAuth2, CredentialBasicAuth, CredentialBearerToken, CredentialJWT, CredentialCustom:
		return true
	default:
		return false
	}
}

// Well-known credential data keys.
const (
	KeyAPIKey       = "api_key"
	KeyAccessToken  = "access_token"
	KeyRefreshToken = "refresh_token"
	KeyClientID     = "client_id"
	KeyClientSecret = "client_secret"
	KeyUsername     = "username"
	KeyPassword     = "password"
	KeyToken        = "token"
)

// Credentials hold secret material for one integration. Data is set only when
// Encrypted is false; Envelope only when it is true.
type Credentials struct {
	ID        string            `json:"id"`
	Type      CredentialType    `json:"type"`
	Encrypted bool              `json:"encrypted"`
	Data      map[string]string `json:"data,omitempty"`
	Envelope  *Envelope         `json:"envelope,omitempty"`
	ExpiresAt *time.Time        `json:"expires_at,omitempty"`
	Scopes    []string          `json:"scopes,omitempty"`
}

// Envelope is the encrypted representation of credential data.
type Envelope struct {
	Ciphertext string `json:"ciphertext"`
	Algorithm  string `json:"algorithm"`
	IV         string `json:"iv"`
	KeyID      string `json:"key_id,omitempty"`
}

// Validate checks the payload shape against the Encrypted flag.
func (c Credentials) Validate() error {
	if !c.Type.Valid() {
		return fmt.Errorf("credential type %q is invalid", c.Type)
	}
	if c.Encrypted {
		if c.Envelope == nil {
			return errors.New("encrypted credentials are missing the envelope")
		}
		if c.Data != nil {
			return errors.New("encrypted credentials must not carry plaintext data")
		}
		if strings.TrimSpace(c.Envelope.Ciphertext) == "" || strings.TrimSpace(c.Envelope.IV) == "" {
			return errors.New("credential envelope is incomplete")
		}
		return nil
	}
	if c.Envelope != nil {
		return errors.New("plaintext credentials must not carry an envelope")
	}
	return nil
}

// Get returns a trimmed data value, or "" when absent.
func (c Credentials) Get(key string) string {
	return strings.TrimSpace(c.Data[key])
}

// Clone returns a deep copy.
func (c Credentials) Clone() Credentials {
	out := c
	if c.Data != nil {
		out.Data = maps.Clone(c.Data)
	}
	if c.Envelope != nil {
		env := *c.Envelope
		out.Envelope = &env
	}
	if c.ExpiresAt != nil {
		t := *c.ExpiresAt
		out.ExpiresAt = &t
	}
	out.Scopes = slices.Clone(c.Scopes)
	return out
}

// AuthResult is the outcome of authenticating or refreshing against a provider.
type AuthResult struct {
	Success      bool     `json:"success"`
	Token        string   `json:"-"`
	RefreshToken string   `json:"-"`
	ExpiresIn    int64    `json:"expires_in,omitempty"`
	Scopes       []string `json:"scopes,omitempty"`
	Error        string   `json:"error,omitempty"`
}

// AuthFailure builds a failed AuthResult.
func AuthFailure(format string, args ...any) AuthResult {
	return AuthResult{Error: fmt.Sprintf(format, args...)}
}
