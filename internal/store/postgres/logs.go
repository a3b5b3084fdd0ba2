package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/lexdesk/lexdesk/internal/integrations"
	"github.com/lexdesk/lexdesk/internal/store"
)

func (s *Store) AppendLog(ctx context.Context, entry integrations.LogEntry) error {
	id, ok := pgUUID(entry.ID)
	if !ok {
		id = pgtype.UUID{Bytes: uuid.New(), Valid: true}
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	var details []byte
	if len(entry.Details) > 0 {
		var err error
		if details, err = json.Marshal(entry.Details); err != nil {
			return fmt.Errorf("encode log details: %w", err)
		}
	}
	_, err := s.pool.Exec(ctx, `INSERT INTO integration_logs (id, integration_id, action, level, message, details, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		id, entry.IntegrationID, entry.Action, string(entry.Level), entry.Message, details, entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("append log: %w", err)
	}
	return nil
}

func (s *Store) ListLogs(ctx context.Context, filter store.LogFilter, page integrations.Page) (integrations.Paged[integrations.LogEntry], error) {
	page = page.Normalized()
	out := integrations.Paged[integrations.LogEntry]{Items: []integrations.LogEntry{}, Page: page.Page, PageSize: page.PageSize}

	where, args := logWhere(filter)
	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM integration_logs`+where, args...).Scan(&out.Total); err != nil {
		return out, fmt.Errorf("count logs: %w", err)
	}
	n := len(args)
	args = append(args, page.PageSize, page.Offset())
	rows, err := s.pool.Query(ctx, `SELECT id, integration_id, action, level, message, details, created_at
		FROM integration_logs`+where+` ORDER BY created_at DESC, id
		LIMIT $`+strconv.Itoa(n+1)+` OFFSET $`+strconv.Itoa(n+2), args...)
	if err != nil {
		return out, fmt.Errorf("list logs: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			e       integrations.LogEntry
			id      pgtype.UUID
			level   string
			details []byte
		)
		if err := rows.Scan(&id, &e.IntegrationID, &e.Action, &level, &e.Message, &details, &e.CreatedAt); err != nil {
			return out, fmt.Errorf("scan log: %w", err)
		}
		e.ID = uuid.UUID(id.Bytes).String()
		e.Level = integrations.LogLevel(level)
		if len(details) > 0 {
			if err := json.Unmarshal(details, &e.Details); err != nil {
				return out, fmt.Errorf("decode log details: %w", err)
			}
		}
		out.Items = append(out.Items, e)
	}
	return out, rows.Err()
}

func (s *Store) CountLogs(ctx context.Context, filter store.LogFilter) (int, error) {
	where, args := logWhere(filter)
	var n int
	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM integration_logs`+where, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count logs: %w", err)
	}
	return n, nil
}

// logWhere builds the WHERE clause for filter; zero fields are left out.
func logWhere(filter store.LogFilter) (string, []any) {
	var (
		conds []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if filter.IntegrationID != "" {
		add("integration_id = $%d", filter.IntegrationID)
	}
	if filter.Action != "" {
		add("action = $%d", filter.Action)
	}
	if filter.Level != "" {
		add("level = $%d", string(filter.Level))
	}
	if filter.Since != nil {
		add("created_at >= $%d", *filter.Since)
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}
