package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/lexdesk/lexdesk/internal/integrations"
	"github.com/lexdesk/lexdesk/internal/store"
)

// StoreCredentials upserts the sealed credentials of an integration. Plaintext is rejected.
func (s *Store) StoreCredentials(ctx context.Context, integrationID string, creds integrations.Credentials) error {
	if err := store.CheckSealed(creds); err != nil {
		return err
	}
	key, ok := pgUUID(integrationID)
	if !ok {
		return store.NotFound("integration", integrationID)
	}
	credID, ok := pgUUID(creds.ID)
	if !ok {
		credID = pgtype.UUID{Bytes: uuid.New(), Valid: true}
	}
	envelope, err := json.Marshal(creds.Envelope)
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}
	scopes := creds.Scopes
	if scopes == nil {
		scopes = []string{}
	}
	_, err = s.pool.Exec(ctx, `INSERT INTO integration_credentials (id, integration_id, type, envelope, expires_at, scopes)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (integration_id) DO UPDATE SET
			type = EXCLUDED.type, envelope = EXCLUDED.envelope, expires_at = EXCLUDED.expires_at,
			scopes = EXCLUDED.scopes, updated_at = now()`,
		credID, key, string(creds.Type), envelope, creds.ExpiresAt, scopes)
	if isCode(err, pgForeignKeyViolation) {
		return store.NotFound("integration", integrationID)
	}
	if err != nil {
		return fmt.Errorf("store credentials: %w", err)
	}
	return nil
}

func (s *Store) RetrieveCredentials(ctx context.Context, integrationID string) (integrations.Credentials, error) {
	key, ok := pgUUID(integrationID)
	if !ok {
		return integrations.Credentials{}, store.NotFound("credentials", integrationID)
	}
	var (
		out      integrations.Credentials
		id       pgtype.UUID
		credType string
		envelope []byte
	)
	err := s.pool.QueryRow(ctx, `SELECT id, type, envelope, expires_at, scopes
		FROM integration_credentials WHERE integration_id = $1`, key).
		Scan(&id, &credType, &envelope, &out.ExpiresAt, &out.Scopes)
	if errors.Is(err, pgx.ErrNoRows) {
		return integrations.Credentials{}, store.NotFound("credentials", integrationID)
	}
	if err != nil {
		return integrations.Credentials{}, fmt.Errorf("retrieve credentials: %w", err)
	}
	out.ID = uuid.UUID(id.Bytes).String()
	out.Type = integrations.CredentialType(credType)
	out.Encrypted = true
	if err := json.Unmarshal(envelope, &out.Envelope); err != nil {
		return integrations.Credentials{}, fmt.Errorf("decode envelope: %w", err)
	}
	if len(out.Scopes) == 0 {
		out.Scopes = nil
	}
	return out, nil
}

func (s *Store) DeleteCredentials(ctx context.Context, integrationID string) error {
	key, ok := pgUUID(integrationID)
	if !ok {
		return nil
	}
	if _, err := s.pool.Exec(ctx, `DELETE FROM integration_credentials WHERE integration_id = $1`, key); err != nil {
		return fmt.Errorf("delete credentials: %w", err)
	}
	return nil
}
