package vendorhttp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/lexdesk/lexdesk/internal/integrations"
)

// DecodeRecord turns one vendor entity into a Record. idField names the identifier
// attribute; updatedField, when set, is parsed as an RFC 3339 timestamp.
func DecodeRecord(entity string, raw json.RawMessage, idField, updatedField string) (integrations.Record, error) {
	var data map[string]any
	if err := json.Unmarshal(raw, &data); err != nil {
		return integrations.Record{}, fmt.Errorf("decode %s item: %w", entity, err)
	}
	id := stringValue(data[idField])
	if id == "" {
		return integrations.Record{}, fmt.Errorf("%s item has no %s", entity, idField)
	}
	rec := integrations.Record{Entity: entity, ExternalID: id, Data: data}
	if updatedField != "" {
		if ts := stringValue(data[updatedField]); ts != "" {
			if parsed, err := time.Parse(time.RFC3339, ts); err == nil {
				rec.UpdatedAt = parsed.UTC()
			}
		}
	}
	return rec, nil
}

func stringValue(v any) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case json.Number:
		return t.String()
	default:
		return ""
	}
}

// ErrNoRecordSink is returned by StoreRecord when a non-dry-run sync has nowhere to write.
var ErrNoRecordSink = errors.New("no record sink configured")

// StoreRecord writes rec to the connection's sink. Dry runs report every record as created.
func StoreRecord(ctx context.Context, conn integrations.Connection, rec integrations.Record, dryRun bool) (bool, error) {
	if dryRun {
		return true, nil
	}
	if conn.Records == nil {
		return false, ErrNoRecordSink
	}
	return conn.Records.UpsertRecord(ctx, conn.IntegrationID, rec)
}

// LocalRecords reads records to push. A missing sink yields no records.
func LocalRecords(ctx context.Context, conn integrations.Connection, entity string, opts integrations.SyncOptions) ([]integrations.Record, error) {
	if conn.Records == nil {
		return nil, nil
	}
	return conn.Records.ListRecords(ctx, conn.IntegrationID, entity, opts.Since, opts.Limit)
}

// Remaining returns how many more items fit under limit; zero limit means unbounded (-1).
func Remaining(limit, processed int) int {
	if limit <= 0 {
		return -1
	}
	return max(limit-processed, 0)
}

// Rejection describes a page item that DecodeRecord refused. The raw item is kept as the
// payload when it is valid JSON.
func Rejection(entity string, raw json.RawMessage, err error) integrations.RecordError {
	rej := integrations.RecordError{Entity: entity, Message: err.Error()}
	if json.Valid(raw) {
		rej.Payload = raw
	}
	return rej
}

// StorePage books one pulled page into res. Rejected items count as failures, then records
// are stored until remaining runs out (-1 means no limit).
func StorePage(ctx context.Context, conn integrations.Connection, entity string, page integrations.DataResult, remaining int, dryRun bool, res *integrations.SyncResult) {
	take := func() bool {
		if remaining == 0 {
			return false
		}
		if remaining > 0 {
			remaining--
		}
		return true
	}
	for _, rej := range page.Rejected {
		if !take() {
			return
		}
		res.RecordFailure(entity, rej.EntityID, rej.Message, rej.Payload)
	}
	for _, rec := range page.Records {
		if !take() {
			return
		}
		created, err := StoreRecord(ctx, conn, rec, dryRun)
		if err != nil {
			res.RecordFailure(entity, rec.ExternalID, err.Error(), PayloadOf(rec))
			continue
		}
		res.RecordSuccess(created)
	}
}

// PayloadOf marshals rec.Data for RecordError payloads.
func PayloadOf(rec integrations.Record) json.RawMessage {
	b, err := json.Marshal(rec.Data)
	if err != nil {
		return nil
	}
	return b
}

// SelectEntities returns the requested entities, or all supported ones when none are
// requested. Unknown entities are returned separately.
func SelectEntities(requested, supported []string) (selected, unknown []string) {
	if len(requested) == 0 {
		return append([]string(nil), supported...), nil
	}
	for _, e := range requested {
		e = strings.ToLower(strings.TrimSpace(e))
		found := false
		for _, s := range supported {
			if s == e {
				found = true
				break
			}
		}
		if found {
			selected = append(selected, e)
		} else {
			unknown = append(unknown, e)
		}
	}
	return selected, unknown
}
