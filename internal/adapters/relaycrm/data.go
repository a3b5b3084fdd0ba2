package relaycrm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/lexdesk/lexdesk/internal/integrations"
	"github.com/lexdesk/lexdesk/internal/integrations/vendorhttp"
)

type listResponse struct {
	Results []json.RawMessage `json:"results"`
	Paging  struct {
		NextCursor string `json:"next_cursor"`
	} `json:"paging"`
}

type upsertInput struct {
	ID         string         `json:"id,omitempty"`
	Properties map[string]any `json:"properties"`
}

type upsertResponse struct {
	Results []struct {
		ID      string `json:"id"`
		Status  string `json:"status"`
		Created bool   `json:"created"`
		Message string `json:"message"`
	} `json:"results"`
}

// GetData returns one page of an entity.
func (a *Adapter) GetData(ctx context.Context, conn integrations.Connection, query integrations.DataQuery) integrations.DataResult {
	if err := checkEntity(query.Entity); err != nil {
		return integrations.DataResult{Records: []integrations.Record{}, Error: err.Error()}
	}
	c, header, err := a.authed(conn)
	if err != nil {
		return integrations.DataResult{Records: []integrations.Record{}, Error: err.Error()}
	}

	limit := query.Limit
	if limit <= 0 || limit > maxBatchSize {
		limit = batchSize(conn.Config)
	}
	q := url.Values{}
	q.Set("limit", strconv.Itoa(limit))
	if query.Cursor != "" {
		q.Set("cursor", query.Cursor)
	}
	if query.Since != nil {
		q.Set("updated_since", query.Since.UTC().Format(time.RFC3339))
	}
	for k, v := range query.Filter {
		q.Set("filter["+k+"]", v)
	}

	var body listResponse
	if err := c.JSON(ctx, vendorhttp.Request{Path: "/v2/" + query.Entity, Query: q, Header: header}, &body); err != nil {
		return integrations.DataResult{Records: []integrations.Record{}, Error: err.Error()}
	}
	out := integrations.DataResult{Records: make([]integrations.Record, 0, len(body.Results)), NextCursor: body.Paging.NextCursor}
	for _, raw := range body.Results {
		rec, err := vendorhttp.DecodeRecord(query.Entity, raw, "id", "updated_at")
		if err != nil {
			out.Rejected = append(out.Rejected, vendorhttp.Rejection(query.Entity, raw, err))
			continue
		}
		out.Records = append(out.Records, rec)
	}
	return out
}

// SendData batch-upserts records and reports the per-item status returned by the vendor.
func (a *Adapter) SendData(ctx context.Context, conn integrations.Connection, records []integrations.Record, opts integrations.SendOptions) integrations.SendResult {
	started := a.now()
	var res integrations.SendResult
	entity := opts.Entity
	if entity == "" && len(records) > 0 {
		entity = records[0].Entity
	}
	if err := checkEntity(entity); err != nil {
		res.Abort(err)
		res.Finish(started)
		return res
	}
	c, header, err := a.authed(conn)
	if err != nil {
		res.Abort(err)
		res.Finish(started)
		return res
	}

	op := "create"
	if opts.Upsert {
		op = "upsert"
	}
	size := batchSize(conn.Config)
	for start := 0; start < len(records); start += size {
		batch := records[start:min(start+size, len(records))]
		inputs := make([]upsertInput, len(batch))
		for i, rec := range batch {
			inputs[i] = upsertInput{ID: rec.ExternalID, Properties: rec.Data}
		}

		var body upsertResponse
		err := c.JSON(ctx, vendorhttp.Request{
			Method: http.MethodPost,
			Path:   "/v2/" + entity + "/batch/" + op,
			Header: header,
			Body:   map[string]any{"inputs": inputs},
		}, &body)
		if err != nil {
			// The whole batch was rejected.
			for _, rec := range batch {
				res.RecordFailure(entity, rec.ExternalID, err.Error(), vendorhttp.PayloadOf(rec))
			}
			continue
		}
		for i, rec := range batch {
			if i >= len(body.Results) {
				res.RecordFailure(entity, rec.ExternalID, "no result returned for item", vendorhttp.PayloadOf(rec))
				continue
			}
			item := body.Results[i]
			if item.Status != "ok" {
				msg := item.Message
				if msg == "" {
					msg = "rejected with status " + item.Status
				}
				res.RecordFailure(entity, rec.ExternalID, msg, vendorhttp.PayloadOf(rec))
				continue
			}
			res.RecordSuccess(item.Created)
		}
	}
	res.Finish(started)
	return res
}

// Sync walks cursor pages into the sink for pulls and sends local records for pushes.
func (a *Adapter) Sync(ctx context.Context, conn integrations.Connection, opts integrations.SyncOptions) integrations.SyncResult {
	started := a.now()
	opts = opts.Normalized()
	var res integrations.SyncResult

	entities, unknown := vendorhttp.SelectEntities(opts.Entities, supportedEntities)
	if len(unknown) > 0 {
		res.Abort(fmt.Errorf("%s does not support entities: %v", Provider, unknown))
		res.Finish(started)
		return res
	}

	for _, entity := range entities {
		if opts.Direction.Pulls() {
			res.Merge(a.pull(ctx, conn, entity, opts))
		}
		if res.Error == "" && opts.Direction.Pushes() {
			res.Merge(a.push(ctx, conn, entity, opts))
		}
		if res.Error != "" {
			break
		}
	}
	res.Finish(started)
	return res
}

func (a *Adapter) pull(ctx context.Context, conn integrations.Connection, entity string, opts integrations.SyncOptions) integrations.SyncResult {
	var res integrations.SyncResult
	cursor := ""
	for {
		remaining := vendorhttp.Remaining(opts.Limit, res.Processed)
		if remaining == 0 {
			return res
		}
		page := a.GetData(ctx, conn, integrations.DataQuery{Entity: entity, Since: opts.Since, Cursor: cursor, Limit: remaining})
		if page.Error != "" {
			res.Abort(fmt.Errorf("list %s: %s", entity, page.Error))
			return res
		}
		vendorhttp.StorePage(ctx, conn, entity, page, remaining, opts.DryRun, &res)
		if page.NextCursor == "" || len(page.Records)+len(page.Rejected) == 0 {
			return res
		}
		cursor = page.NextCursor
	}
}

func (a *Adapter) push(ctx context.Context, conn integrations.Connection, entity string, opts integrations.SyncOptions) integrations.SyncResult {
	var res integrations.SyncResult
	records, err := vendorhttp.LocalRecords(ctx, conn, entity, opts)
	if err != nil {
		res.Abort(fmt.Errorf("read local %s: %w", entity, err))
		return res
	}
	if len(records) == 0 {
		return res
	}
	if opts.DryRun {
		for range records {
			res.RecordSuccess(false)
		}
		return res
	}
	return a.SendData(ctx, conn, records, integrations.SendOptions{Entity: entity, Upsert: true})
}
