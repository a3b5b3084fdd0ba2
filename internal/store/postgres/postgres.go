// Package postgres implements the store ports on PostgreSQL through a pgx pool. The schema
// lives in db/migrations and is applied by `lexdesk migrate`.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lexdesk/lexdesk/internal/integrations"
	"github.com/lexdesk/lexdesk/internal/store"
)

const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
)

// Store satisfies every store port.
type Store struct {
	pool *pgxpool.Pool
}

var (
	_ store.IntegrationStore = (*Store)(nil)
	_ store.CredentialStore  = (*Store)(nil)
	_ store.LogStore         = (*Store)(nil)
	_ store.RecordStore      = (*Store)(nil)
)

func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

const integrationColumns = `id, name, slug, provider, status, config, credential_type, webhook, features, metadata,
	last_sync_at, next_sync_at, error_count, last_error, created_at, updated_at`

func (s *Store) ListIntegrations(ctx context.Context, page integrations.Page) (integrations.Paged[integrations.Integration], error) {
	page = page.Normalized()
	out := integrations.Paged[integrations.Integration]{Items: []integrations.Integration{}, Page: page.Page, PageSize: page.PageSize}
	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM integrations`).Scan(&out.Total); err != nil {
		return out, fmt.Errorf("count integrations: %w", err)
	}
	rows, err := s.pool.Query(ctx, `SELECT `+integrationColumns+` FROM integrations
		ORDER BY created_at, id LIMIT $1 OFFSET $2`, page.PageSize, page.Offset())
	if err != nil {
		return out, fmt.Errorf("list integrations: %w", err)
	}
	items, err := collectIntegrations(rows)
	if err != nil {
		return out, err
	}
	out.Items = items
	return out, nil
}

func (s *Store) GetIntegration(ctx context.Context, id string) (integrations.Integration, error) {
	key, ok := pgUUID(id)
	if !ok {
		return integrations.Integration{}, store.NotFound("integration", id)
	}
	rows, err := s.pool.Query(ctx, `SELECT `+integrationColumns+` FROM integrations WHERE id = $1`, key)
	if err != nil {
		return integrations.Integration{}, fmt.Errorf("get integration: %w", err)
	}
	items, err := collectIntegrations(rows)
	if err != nil {
		return integrations.Integration{}, err
	}
	if len(items) == 0 {
		return integrations.Integration{}, store.NotFound("integration", id)
	}
	return items[0], nil
}

func (s *Store) CreateIntegration(ctx context.Context, in integrations.Integration) error {
	key, ok := pgUUID(in.ID)
	if !ok {
		return fmt.Errorf("integration id %q is not a uuid", in.ID)
	}
	args, err := integrationArgs(in)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `INSERT INTO integrations (`+integrationColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`,
		append([]any{key}, args...)...)
	if isCode(err, pgUniqueViolation) {
		return fmt.Errorf("integration %q: %w", in.Slug, integrations.ErrConflict)
	}
	if err != nil {
		return fmt.Errorf("insert integration: %w", err)
	}
	return nil
}

func (s *Store) UpdateIntegration(ctx context.Context, in integrations.Integration) error {
	key, ok := pgUUID(in.ID)
	if !ok {
		return store.NotFound("integration", in.ID)
	}
	args, err := integrationArgs(in)
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx, `UPDATE integrations SET
		name = $2, slug = $3, provider = $4, status = $5, config = $6, credential_type = $7, webhook = $8,
		features = $9, metadata = $10, last_sync_at = $11, next_sync_at = $12, error_count = $13,
		last_error = $14, created_at = $15, updated_at = $16
		WHERE id = $1`, append([]any{key}, args...)...)
	if isCode(err, pgUniqueViolation) {
		return fmt.Errorf("integration %q: %w", in.Slug, integrations.ErrConflict)
	}
	if err != nil {
		return fmt.Errorf("update integration: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.NotFound("integration", in.ID)
	}
	return nil
}

// DeleteIntegration also removes credentials and records through ON DELETE CASCADE.
func (s *Store) DeleteIntegration(ctx context.Context, id string) error {
	key, ok := pgUUID(id)
	if !ok {
		return store.NotFound("integration", id)
	}
	tag, err := s.pool.Exec(ctx, `DELETE FROM integrations WHERE id = $1`, key)
	if err != nil {
		return fmt.Errorf("delete integration: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.NotFound("integration", id)
	}
	return nil
}

func (s *Store) ListActive(ctx context.Context) ([]integrations.Integration, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+integrationColumns+` FROM integrations
		WHERE status IN ($1, $2) ORDER BY id`, string(integrations.StatusActive), string(integrations.StatusError))
	if err != nil {
		return nil, fmt.Errorf("list active integrations: %w", err)
	}
	return collectIntegrations(rows)
}

func (s *Store) ListDue(ctx context.Context, now time.Time) ([]integrations.Integration, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+integrationColumns+` FROM integrations
		WHERE status = $1 AND (next_sync_at IS NULL OR next_sync_at <= $2)
		ORDER BY next_sync_at NULLS FIRST, id`, string(integrations.StatusActive), now)
	if err != nil {
		return nil, fmt.Errorf("list due integrations: %w", err)
	}
	return collectIntegrations(rows)
}

func (s *Store) CountIntegrations(ctx context.Context) (store.Counts, error) {
	out := store.Counts{ByStatus: map[integrations.Status]int{}, ByProvider: map[string]int{}}
	rows, err := s.pool.Query(ctx, `SELECT status, provider, count(*) FROM integrations GROUP BY status, provider`)
	if err != nil {
		return out, fmt.Errorf("count integrations: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			status, provider string
			n                int
		)
		if err := rows.Scan(&status, &provider, &n); err != nil {
			return out, fmt.Errorf("scan integration counts: %w", err)
		}
		out.Total += n
		out.ByStatus[integrations.Status(status)] += n
		out.ByProvider[provider] += n
	}
	return out, rows.Err()
}

func integrationArgs(in integrations.Integration) ([]any, error) {
	cfg := in.Config
	if cfg == nil {
		cfg = integrations.Config{}
	}
	features := in.Features
	if features == nil {
		features = []integrations.Feature{}
	}
	cfgJSON, err := json.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("encode config: %w", err)
	}
	featuresJSON, err := json.Marshal(features)
	if err != nil {
		return nil, fmt.Errorf("encode features: %w", err)
	}
	webhookJSON, err := nullableJSON(in.Webhook)
	if err != nil {
		return nil, fmt.Errorf("encode webhook: %w", err)
	}
	var metadataJSON []byte
	if in.Metadata != nil {
		if metadataJSON, err = json.Marshal(in.Metadata); err != nil {
			return nil, fmt.Errorf("encode metadata: %w", err)
		}
	}
	return []any{
		in.Name, in.Slug, in.Provider, string(in.Status), cfgJSON, string(in.CredentialType), webhookJSON,
		featuresJSON, metadataJSON, in.LastSyncAt, in.NextSyncAt, in.ErrorCount, in.LastError,
		in.CreatedAt, in.UpdatedAt,
	}, nil
}

func collectIntegrations(rows pgx.Rows) ([]integrations.Integration, error) {
	defer rows.Close()
	out := []integrations.Integration{}
	for rows.Next() {
		var (
			in                                     integrations.Integration
			id                                     pgtype.UUID
			status, credType                       string
			cfgJSON, webhookJSON, featJSON, metaJS []byte
		)
		if err := rows.Scan(&id, &in.Name, &in.Slug, &in.Provider, &status, &cfgJSON, &credType, &webhookJSON,
			&featJSON, &metaJS, &in.LastSyncAt, &in.NextSyncAt, &in.ErrorCount, &in.LastError,
			&in.CreatedAt, &in.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan integration: %w", err)
		}
		in.ID = uuid.UUID(id.Bytes).String()
		in.Status = integrations.Status(status)
		in.CredentialType = integrations.CredentialType(credType)
		if err := json.Unmarshal(cfgJSON, &in.Config); err != nil {
			return nil, fmt.Errorf("decode config of %s: %w", in.ID, err)
		}
		if err := json.Unmarshal(featJSON, &in.Features); err != nil {
			return nil, fmt.Errorf("decode features of %s: %w", in.ID, err)
		}
		if len(webhookJSON) > 0 {
			if err := json.Unmarshal(webhookJSON, &in.Webhook); err != nil {
				return nil, fmt.Errorf("decode webhook of %s: %w", in.ID, err)
			}
		}
		if len(metaJS) > 0 {
			if err := json.Unmarshal(metaJS, &in.Metadata); err != nil {
				return nil, fmt.Errorf("decode metadata of %s: %w", in.ID, err)
			}
		}
		out = append(out, in)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read integrations: %w", err)
	}
	return out, nil
}

func nullableJSON[T any](v *T) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	return json.Marshal(v)
}

// pgUUID parses id. Ids that are not uuids cannot exist in the database.
func pgUUID(id string) (pgtype.UUID, bool) {
	parsed, err := uuid.Parse(strings.TrimSpace(id))
	if err != nil {
		return pgtype.UUID{}, false
	}
	return pgtype.UUID{Bytes: parsed, Valid: true}, true
}

func isCode(err error, code string) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == code
}
