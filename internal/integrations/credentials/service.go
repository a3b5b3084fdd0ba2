// Package credentials encrypts integration secrets at rest and keeps OAuth tokens fresh.
package credentials

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/lexdesk/lexdesk/internal/integrations"
	"github.com/lexdesk/lexdesk/internal/store"
	"golang.org/x/sync/singleflight"
)

// ExpiryBuffer is how far ahead of the stored expiry a token is treated as expired.
const ExpiryBuffer = 5 * time.Minute

// Backend validates and refreshes credentials against the provider. Credentials passed in
// are always plaintext.
type Backend interface {
	Validate(ctx context.Context, provider string, conn integrations.Connection) integrations.AuthResult
	Refresh(ctx context.Context, provider string, conn integrations.Connection) integrations.AuthResult
}

// Service owns credential encryption and the refresh choke point.
type Service struct {
	keys    *KeyRing
	store   store.CredentialStore
	backend Backend
	logger  *slog.Logger
	now     func() time.Time
	group   singleflight.Group
}

// Option customizes a Service.
type Option func(*Service)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// NewService wires the key ring, the credential store and the provider backend.
func NewService(keys *KeyRing, st store.CredentialStore, backend Backend, opts ...Option) (*Service, error) {
	if keys == nil {
		return nil, errors.New("credentials key ring is required")
	}
	if st == nil {
		return nil, errors.New("credential store is required")
	}
	s := &Service{keys: keys, store: st, backend: backend, logger: slog.Default(), now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Encrypt seals plaintext credentials. Already-encrypted credentials are returned unchanged.
func (s *Service) Encrypt(creds integrations.Credentials) (integrations.Credentials, error) {
	if creds.Encrypted {
		return creds, nil
	}
	if !creds.Type.Valid() {
		return integrations.Credentials{}, fmt.Errorf("%w: credential type %q", integrations.ErrInvalidCredentials, creds.Type)
	}
	env, err := s.keys.encryptData(creds.Type, creds.Data)
	if err != nil {
		return integrations.Credentials{}, err
	}
	out := creds.Clone()
	out.Encrypted = true
	out.Data = nil
	out.Envelope = env
	return out, nil
}

// Decrypt opens sealed credentials. Plaintext credentials are returned unchanged.
func (s *Service) Decrypt(creds integrations.Credentials) (integrations.Credentials, error) {
	if !creds.Encrypted {
		return creds, nil
	}
	data, err := s.keys.decryptData(creds.Type, creds.Envelope)
	if err != nil {
		return integrations.Credentials{}, err
	}
	out := creds.Clone()
	out.Encrypted = false
	out.Envelope = nil
	out.Data = data
	return out, nil
}

// Reencrypt moves sealed credentials onto the active key. It reports whether anything changed.
func (s *Service) Reencrypt(creds integrations.Credentials) (integrations.Credentials, bool, error) {
	if creds.Encrypted && creds.Envelope != nil && creds.Envelope.KeyID == s.keys.ActiveID() {
		return creds, false, nil
	}
	plain, err := s.Decrypt(creds)
	if err != nil {
		return integrations.Credentials{}, false, err
	}
	sealed, err := s.Encrypt(plain)
	if err != nil {
		return integrations.Credentials{}, false, err
	}
	return sealed, true, nil
}

// IsExpired reports whether creds expire within ExpiryBuffer. Credentials without an expiry never expire.
func (s *Service) IsExpired(creds integrations.Credentials) bool {
	if creds.ExpiresAt == nil {
		return false
	}
	return !s.now().Add(ExpiryBuffer).Before(*creds.ExpiresAt)
}

// ValidateCredentials performs a real authentication round trip through the backend.
func (s *Service) ValidateCredentials(ctx context.Context, provider string, creds integrations.Credentials, cfg integrations.Config) integrations.AuthResult {
	if s.backend == nil {
		return integrations.AuthFailure("credential validation is not configured")
	}
	plain, err := s.Decrypt(creds)
	if err != nil {
		return integrations.AuthFailure("%v", err)
	}
	return s.backend.Validate(ctx, provider, integrations.Connection{Config: cfg, Credentials: plain})
}

// RefreshTokens obtains new tokens and returns the merged credentials sealed again.
func (s *Service) RefreshTokens(ctx context.Context, provider string, creds integrations.Credentials, cfg integrations.Config) (integrations.Credentials, error) {
	if s.backend == nil {
		return integrations.Credentials{}, errors.New("token refresh is not configured")
	}
	plain, err := s.Decrypt(creds)
	if err != nil {
		return integrations.Credentials{}, err
	}
	res := s.backend.Refresh(ctx, provider, integrations.Connection{Config: cfg, Credentials: plain})
	if !res.Success {
		msg := strings.TrimSpace(res.Error)
		if msg == "" {
			msg = "token refresh failed"
		}
		return integrations.Credentials{}, fmt.Errorf("%w: %s", integrations.ErrInvalidCredentials, msg)
	}

	if plain.Data == nil {
		plain.Data = map[string]string{}
	}
	if res.Token != "" {
		plain.Data[integrations.KeyAccessToken] = res.Token
	}
	if res.RefreshToken != "" {
		plain.Data[integrations.KeyRefreshToken] = res.RefreshToken
	}
	if res.ExpiresIn > 0 {
		exp := s.now().Add(time.Duration(res.ExpiresIn) * time.Second)
		plain.ExpiresAt = &exp
	} else {
		plain.ExpiresAt = nil
	}
	if len(res.Scopes) > 0 {
		plain.Scopes = res.Scopes
	}
	return s.Encrypt(plain)
}

// GetValidCredentials returns the stored credentials of an integration, refreshing and
// persisting them first when they are OAuth2 and expired. Concurrent callers for the same
// integration share one refresh.
func (s *Service) GetValidCredentials(ctx context.Context, integrationID, provider string, cfg integrations.Config) (integrations.Credentials, error) {
	creds, err := s.store.RetrieveCredentials(ctx, integrationID)
	if err != nil {
		return integrations.Credentials{}, err
	}
	if creds.Type != integrations.CredentialOAuth2 || !s.IsExpired(creds) {
		return creds, nil
	}

	v, err, _ := s.group.Do(integrationID, func() (any, error) {
		// Waiters share this call, so one caller's cancellation must not fail the rest.
		ctx := context.WithoutCancel(ctx)
		refreshed, err := s.RefreshTokens(ctx, provider, creds, cfg)
		if err != nil {
			return nil, err
		}
		if err := s.store.StoreCredentials(ctx, integrationID, refreshed); err != nil {
			return nil, fmt.Errorf("persist refreshed credentials: %w", err)
		}
		s.logger.Info("credentials refreshed", "integration_id", integrationID, "provider", provider)
		return refreshed, nil
	})
	if err != nil {
		return integrations.Credentials{}, err
	}
	return v.(integrations.Credentials), nil
}

// StoreCredentials seals creds if needed and persists them.
func (s *Service) StoreCredentials(ctx context.Context, integrationID string, creds integrations.Credentials) error {
	sealed, err := s.Encrypt(creds)
	if err != nil {
		return err
	}
	return s.store.StoreCredentials(ctx, integrationID, sealed)
}

// RetrieveCredentials returns the sealed credentials of an integration.
func (s *Service) RetrieveCredentials(ctx context.Context, integrationID string) (integrations.Credentials, error) {
	return s.store.RetrieveCredentials(ctx, integrationID)
}

// DeleteCredentials removes the credentials of an integration.
func (s *Service) DeleteCredentials(ctx context.Context, integrationID string) error {
	return s.store.DeleteCredentials(ctx, integrationID)
}

// ActiveKeyID is the id of the key new envelopes are sealed with.
func (s *Service) ActiveKeyID() string { return s.keys.ActiveID() }
