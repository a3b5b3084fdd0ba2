// Package vaultkv keeps sealed integration credentials in a HashiCorp Vault KV v2 mount.
// The envelope is stored as written, so Vault never sees plaintext credential data.
package vaultkv

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path"
	"strings"
	"time"

	vaultapi "github.com/hashicorp/vault/api"
	"github.com/lexdesk/lexdesk/internal/integrations"
	"github.com/lexdesk/lexdesk/internal/store"
)

const defaultTimeout = 30 * time.Second

type Options struct {
	Address    string
	Token      string
	Namespace  string
	Mount      string
	Prefix     string
	HTTPClient *http.Client
}

// Store implements store.CredentialStore on KV v2.
type Store struct {
	kv     *vaultapi.KVv2
	prefix string
}

var _ store.CredentialStore = (*Store)(nil)

func New(opts Options) (*Store, error) {
	address := strings.TrimSpace(opts.Address)
	if address == "" {
		return nil, errors.New("vault address is required")
	}
	token := strings.TrimSpace(opts.Token)
	if token == "" {
		return nil, errors.New("vault token is required")
	}
	mount := strings.Trim(strings.TrimSpace(opts.Mount), "/")
	if mount == "" {
		return nil, errors.New("vault kv mount is required")
	}

	cfg := vaultapi.DefaultConfig()
	cfg.Address = address
	cfg.HttpClient = opts.HTTPClient
	if cfg.HttpClient == nil {
		cfg.HttpClient = &http.Client{Timeout: defaultTimeout}
	}
	client, err := vaultapi.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("vault client setup: %w", err)
	}
	if ns := strings.TrimSpace(opts.Namespace); ns != "" {
		client.SetNamespace(ns)
	}
	client.SetToken(token)

	return &Store{kv: client.KVv2(mount), prefix: strings.Trim(strings.TrimSpace(opts.Prefix), "/")}, nil
}

func (s *Store) secretPath(integrationID string) (string, error) {
	id := strings.TrimSpace(integrationID)
	if id == "" || strings.ContainsAny(id, "/.") {
		return "", fmt.Errorf("integration id %q cannot be used as a vault path", integrationID)
	}
	if s.prefix == "" {
		return id, nil
	}
	return path.Join(s.prefix, id), nil
}

func (s *Store) StoreCredentials(ctx context.Context, integrationID string, creds integrations.Credentials) error {
	if err := store.CheckSealed(creds); err != nil {
		return err
	}
	p, err := s.secretPath(integrationID)
	if err != nil {
		return err
	}
	if _, err := s.kv.Put(ctx, p, encode(creds)); err != nil {
		return fmt.Errorf("vault put %s: %w", p, err)
	}
	return nil
}

func (s *Store) RetrieveCredentials(ctx context.Context, integrationID string) (integrations.Credentials, error) {
	p, err := s.secretPath(integrationID)
	if err != nil {
		return integrations.Credentials{}, store.NotFound("credentials", integrationID)
	}
	secret, err := s.kv.Get(ctx, p)
	if errors.Is(err, vaultapi.ErrSecretNotFound) {
		return integrations.Credentials{}, store.NotFound("credentials", integrationID)
	}
	if err != nil {
		return integrations.Credentials{}, fmt.Errorf("vault get %s: %w", p, err)
	}
	if secret == nil || secret.Data == nil {
		// A soft-deleted latest version reads back without data.
		return integrations.Credentials{}, store.NotFound("credentials", integrationID)
	}
	creds, err := decode(secret.Data)
	if err != nil {
		return integrations.Credentials{}, fmt.Errorf("vault secret %s: %w", p, err)
	}
	return creds, nil
}

// DeleteCredentials removes every version of the secret.
func (s *Store) DeleteCredentials(ctx context.Context, integrationID string) error {
	p, err := s.secretPath(integrationID)
	if err != nil {
		return nil
	}
	if err := s.kv.DeleteMetadata(ctx, p); err != nil {
		return fmt.Errorf("vault delete %s: %w", p, err)
	}
	return nil
}

func encode(creds integrations.Credentials) map[string]any {
	out := map[string]any{
		"id":         creds.ID,
		"type":       string(creds.Type),
		"ciphertext": creds.Envelope.Ciphertext,
		"iv":         creds.Envelope.IV,
		"algorithm":  creds.Envelope.Algorithm,
		"key_id":     creds.Envelope.KeyID,
		"scopes":     strings.Join(creds.Scopes, " "),
	}
	if creds.ExpiresAt != nil {
		out["expires_at"] = creds.ExpiresAt.UTC().Format(time.RFC3339Nano)
	}
	return out
}

func decode(data map[string]any) (integrations.Credentials, error) {
	str := func(key string) string {
		v, _ := data[key].(string)
		return v
	}
	out := integrations.Credentials{
		ID:        str("id"),
		Type:      integrations.CredentialType(str("type")),
		Encrypted: true,
		Envelope: &integrations.Envelope{
			Ciphertext: str("ciphertext"),
			IV:         str("iv"),
			Algorithm:  str("algorithm"),
			KeyID:      str("key_id"),
		},
		Scopes: strings.Fields(str("scopes")),
	}
	if raw := str("expires_at"); raw != "" {
		t, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return integrations.Credentials{}, fmt.Errorf("expires_at: %w", err)
		}
		out.ExpiresAt = &t
	}
	if len(out.Scopes) == 0 {
		out.Scopes = nil
	}
	if err := out.Validate(); err != nil {
		return integrations.Credentials{}, err
	}
	return out, nil
}
