package mailflow

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/lexdesk/lexdesk/internal/integrations"
	"github.com/lexdesk/lexdesk/internal/integrations/vendorhttp"
)

var updatedFields = map[string]string{
	EntityContacts:  "last_changed",
	EntityLists:     "date_updated",
	EntityCampaigns: "send_time",
}

// listResponse keys items by entity name, e.g. {"contacts":[...],"total_items":42}.
type listResponse map[string]json.RawMessage

func (r listResponse) items(entity string) ([]json.RawMessage, int, error) {
	var items []json.RawMessage
	if raw, ok := r[entity]; ok {
		if err := json.Unmarshal(raw, &items); err != nil {
			return nil, 0, fmt.Errorf("decode %s: %w", entity, err)
		}
	}
	total := 0
	if raw, ok := r["total_items"]; ok {
		_ = json.Unmarshal(raw, &total)
	}
	return items, total, nil
}

// GetData returns one offset page. The cursor is the offset of the next page.
func (a *Adapter) GetData(ctx context.Context, conn integrations.Connection, query integrations.DataQuery) integrations.DataResult {
	fail := func(err error) integrations.DataResult {
		return integrations.DataResult{Records: []integrations.Record{}, Error: err.Error()}
	}
	if err := checkEntity(query.Entity); err != nil {
		return fail(err)
	}
	c, header, err := a.authed(conn)
	if err != nil {
		return fail(err)
	}
	offset := 0
	if query.Cursor != "" {
		offset, err = strconv.Atoi(query.Cursor)
		if err != nil || offset < 0 {
			return fail(fmt.Errorf("invalid cursor %q", query.Cursor))
		}
	}
	count := query.Limit
	if count <= 0 || count > maxBatchSize {
		count = batchSize(conn.Config)
	}

	q := url.Values{}
	q.Set("count", strconv.Itoa(count))
	q.Set("offset", strconv.Itoa(offset))
	if query.Since != nil {
		q.Set("since_"+updatedFields[query.Entity], query.Since.UTC().Format(time.RFC3339))
	}
	for k, v := range query.Filter {
		q.Set(k, v)
	}

	var body listResponse
	if err := c.JSON(ctx, vendorhttp.Request{Path: "/3.0/" + query.Entity, Query: q, Header: header}, &body); err != nil {
		return fail(err)
	}
	items, total, err := body.items(query.Entity)
	if err != nil {
		return fail(err)
	}
	out := integrations.DataResult{Records: make([]integrations.Record, 0, len(items))}
	for _, raw := range items {
		rec, err := vendorhttp.DecodeRecord(query.Entity, raw, "id", updatedFields[query.Entity])
		if err != nil {
			out.Rejected = append(out.Rejected, vendorhttp.Rejection(query.Entity, raw, err))
			continue
		}
		out.Records = append(out.Records, rec)
	}
	if next := offset + len(items); len(items) > 0 && next < total {
		out.NextCursor = strconv.Itoa(next)
	}
	return out
}

// SendData writes list members one at a time; only contacts can be sent.
// The member id is the MD5 hash of the lowercased email address.
func (a *Adapter) SendData(ctx context.Context, conn integrations.Connection, records []integrations.Record, opts integrations.SendOptions) integrations.SendResult {
	started := a.now()
	var res integrations.SendResult
	entity := opts.Entity
	if entity == "" {
		entity = EntityContacts
	}
	if entity != EntityContacts {
		res.Abort(fmt.Errorf("%s only accepts %s", Provider, EntityContacts))
		res.Finish(started)
		return res
	}
	c, header, err := a.authed(conn)
	if err != nil {
		res.Abort(err)
		res.Finish(started)
		return res
	}

	method := http.MethodPost
	if opts.Upsert {
		method = http.MethodPut
	}
	defaultList := integrations.ConfigString(conn.Config, "default_list_id")
	for _, rec := range records {
		email := strings.ToLower(strings.TrimSpace(stringField(rec.Data, "email_address")))
		if email == "" {
			res.RecordFailure(entity, rec.ExternalID, "email_address is required", vendorhttp.PayloadOf(rec))
			continue
		}
		list := stringField(rec.Data, "list_id")
		if list == "" {
			list = defaultList
		}
		if list == "" {
			res.RecordFailure(entity, rec.ExternalID, "list_id is required", vendorhttp.PayloadOf(rec))
			continue
		}

		member := map[string]any{"email_address": email, "status_if_new": "subscribed"}
		for k, v := range rec.Data {
			if k != "list_id" && k != "email_address" {
				member[k] = v
			}
		}
		path := "/3.0/lists/" + url.PathEscape(list) + "/members"
		if method == http.MethodPut {
			path += "/" + subscriberHash(email)
		}
		_, status, err := c.DoStatus(ctx, vendorhttp.Request{Method: method, Path: path, Header: header, Body: member})
		if err != nil {
			res.RecordFailure(entity, rec.ExternalID, err.Error(), vendorhttp.PayloadOf(rec))
			continue
		}
		res.RecordSuccess(status == http.StatusCreated || method == http.MethodPost)
	}
	res.Finish(started)
	return res
}

// Sync pages through each entity by offset and pushes local contacts on push runs.
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
		// Lists and campaigns are read-only here.
		if res.Error == "" && opts.Direction.Pushes() && entity == EntityContacts {
			res.Merge(a.push(ctx, conn, opts))
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
	size := batchSize(conn.Config)
	cursor := ""
	for {
		remaining := vendorhttp.Remaining(opts.Limit, res.Processed)
		if remaining == 0 {
			return res
		}
		page := a.GetData(ctx, conn, integrations.DataQuery{Entity: entity, Since: opts.Since, Cursor: cursor, Limit: size})
		if page.Error != "" {
			res.Abort(fmt.Errorf("list %s: %s", entity, page.Error))
			return res
		}
		vendorhttp.StorePage(ctx, conn, entity, page, remaining, opts.DryRun, &res)
		if page.NextCursor == "" {
			return res
		}
		cursor = page.NextCursor
	}
}

func (a *Adapter) push(ctx context.Context, conn integrations.Connection, opts integrations.SyncOptions) integrations.SyncResult {
	var res integrations.SyncResult
	records, err := vendorhttp.LocalRecords(ctx, conn, EntityContacts, opts)
	if err != nil {
		res.Abort(fmt.Errorf("read local %s: %w", EntityContacts, err))
		return res
	}
	if opts.DryRun {
		for range records {
			res.RecordSuccess(false)
		}
		return res
	}
	if len(records) == 0 {
		return res
	}
	return a.SendData(ctx, conn, records, integrations.SendOptions{Entity: EntityContacts, Upsert: true})
}

func subscriberHash(email string) string {
	sum := md5.Sum([]byte(strings.ToLower(email)))
	return hex.EncodeToString(sum[:])
}

func stringField(data map[string]any, key string) string {
	s, _ := data[key].(string)
	return s
}
