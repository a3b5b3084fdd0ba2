package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/lexdesk/lexdesk/internal/integrations"
	"github.com/lexdesk/lexdesk/internal/store"
)

// UpsertRecord reports created=true when the row did not exist before. xmax is zero only
// for freshly inserted tuples.
func (s *Store) UpsertRecord(ctx context.Context, integrationID string, rec integrations.Record) (bool, error) {
	key, ok := pgUUID(integrationID)
	if !ok {
		return false, store.NotFound("integration", integrationID)
	}
	data := rec.Data
	if data == nil {
		data = map[string]any{}
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return false, fmt.Errorf("encode record: %w", err)
	}
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = time.Now().UTC()
	}
	var created bool
	err = s.pool.QueryRow(ctx, `INSERT INTO integration_records (integration_id, entity, external_id, data, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (integration_id, entity, external_id) DO UPDATE SET
			data = EXCLUDED.data, updated_at = EXCLUDED.updated_at
		RETURNING (xmax = 0)`, key, rec.Entity, rec.ExternalID, raw, rec.UpdatedAt).Scan(&created)
	if isCode(err, pgForeignKeyViolation) {
		return false, store.NotFound("integration", integrationID)
	}
	if err != nil {
		return false, fmt.Errorf("upsert record: %w", err)
	}
	return created, nil
}

func (s *Store) ListRecords(ctx context.Context, integrationID, entity string, since *time.Time, limit int) ([]integrations.Record, error) {
	key, ok := pgUUID(integrationID)
	if !ok {
		return nil, nil
	}
	q := `SELECT entity, external_id, data, updated_at FROM integration_records WHERE integration_id = $1`
	args := []any{key}
	if entity != "" {
		args = append(args, entity)
		q += ` AND entity = $` + strconv.Itoa(len(args))
	}
	if since != nil {
		args = append(args, *since)
		q += ` AND updated_at >= $` + strconv.Itoa(len(args))
	}
	q += ` ORDER BY entity, external_id`
	if limit > 0 {
		args = append(args, limit)
		q += ` LIMIT $` + strconv.Itoa(len(args))
	}

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	defer rows.Close()
	var out []integrations.Record
	for rows.Next() {
		var (
			rec integrations.Record
			raw []byte
		)
		if err := rows.Scan(&rec.Entity, &rec.ExternalID, &raw, &rec.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		if err := json.Unmarshal(raw, &rec.Data); err != nil {
			return nil, fmt.Errorf("decode record %s/%s: %w", rec.Entity, rec.ExternalID, err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *Store) DeleteRecords(ctx context.Context, integrationID string) error {
	key, ok := pgUUID(integrationID)
	if !ok {
		return nil
	}
	if _, err := s.pool.Exec(ctx, `DELETE FROM integration_records WHERE integration_id = $1`, key); err != nil {
		return fmt.Errorf("delete records: %w", err)
	}
	return nil
}
