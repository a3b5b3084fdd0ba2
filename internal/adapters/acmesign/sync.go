package acmesign

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"time"

	"github.com/lexdesk/lexdesk/internal/integrations"
	"github.com/lexdesk/lexdesk/internal/integrations/vendorhttp"
)

const maxDocumentSize = 64 << 20

type listPage struct {
	Documents []json.RawMessage `json:"documents"`
	Templates []json.RawMessage `json:"templates"`
	NextPage  int               `json:"next_page"`
}

func (p listPage) items(entity string) []json.RawMessage {
	if entity == EntityTemplates {
		return p.Templates
	}
	return p.Documents
}

// Sync pulls documents and templates into the record sink, and pushes local document
// records back as draft updates. Completed documents are archived when archive_signed is set.
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
	c, err := a.client(conn.Config)
	if err != nil {
		res.Abort(err)
		res.Finish(started)
		return res
	}
	header, _, err := a.authorize(ctx, c, conn.Credentials)
	if err != nil {
		res.Abort(fmt.Errorf("authenticate: %w", err))
		res.Finish(started)
		return res
	}

	for _, entity := range entities {
		if opts.Direction.Pulls() {
			res.Merge(a.pull(ctx, c, header, conn, entity, opts))
		}
		if opts.Direction.Pushes() && entity == EntityDocuments {
			res.Merge(a.push(ctx, c, header, conn, opts))
		}
		if res.Error != "" {
			break
		}
	}
	res.Finish(started)
	return res
}

func (a *Adapter) pull(ctx context.Context, c *vendorhttp.Client, header http.Header, conn integrations.Connection, entity string, opts integrations.SyncOptions) integrations.SyncResult {
	var res integrations.SyncResult
	archive := a.archiver != nil && archiveEnabled(conn.Config) && entity == EntityDocuments
	size := pageSize(conn.Config)
	base := "/v1/accounts/" + url.PathEscape(accountID(conn.Config)) + "/" + entity

	for page := 1; page > 0; {
		remaining := vendorhttp.Remaining(opts.Limit, res.Processed)
		if remaining == 0 {
			break
		}
		q := url.Values{}
		q.Set("page", strconv.Itoa(page))
		q.Set("page_size", strconv.Itoa(size))
		if opts.Since != nil {
			q.Set("updated_since", opts.Since.UTC().Format(time.RFC3339))
		}

		var body listPage
		if err := c.JSON(ctx, vendorhttp.Request{Path: base, Query: q, Header: header}, &body); err != nil {
			res.Abort(fmt.Errorf("list %s: %w", entity, err))
			return res
		}
		items := body.items(entity)
		if remaining > 0 && len(items) > remaining {
			items = items[:remaining]
		}
		for _, raw := range items {
			rec, err := vendorhttp.DecodeRecord(entity, raw, "id", "updated_at")
			if err != nil {
				res.RecordFailure(entity, "", err.Error(), raw)
				continue
			}
			created, err := vendorhttp.StoreRecord(ctx, conn, rec, opts.DryRun)
			if err != nil {
				res.RecordFailure(entity, rec.ExternalID, err.Error(), raw)
				continue
			}
			if archive && !opts.DryRun && rec.Data["status"] == "completed" {
				if err := a.archiveDocument(ctx, c, header, conn, rec.ExternalID); err != nil {
					res.RecordFailure(entity, rec.ExternalID, err.Error(), nil)
					continue
				}
			}
			res.RecordSuccess(created)
		}
		if len(items) == 0 {
			break
		}
		page = body.NextPage
	}
	return res
}

func (a *Adapter) push(ctx context.Context, c *vendorhttp.Client, header http.Header, conn integrations.Connection, opts integrations.SyncOptions) integrations.SyncResult {
	var res integrations.SyncResult
	records, err := vendorhttp.LocalRecords(ctx, conn, EntityDocuments, opts)
	if err != nil {
		res.Abort(fmt.Errorf("read local documents: %w", err))
		return res
	}
	base := "/v1/accounts/" + url.PathEscape(accountID(conn.Config)) + "/documents/"
	for _, rec := range records {
		if status, _ := rec.Data["status"].(string); status == "completed" {
			// Completed documents are immutable on the vendor side.
			continue
		}
		if opts.DryRun {
			res.RecordSuccess(false)
			continue
		}
		_, err := c.Do(ctx, vendorhttp.Request{
			Method: http.MethodPut,
			Path:   base + url.PathEscape(rec.ExternalID),
			Header: header,
			Body:   rec.Data,
		})
		if err != nil {
			res.RecordFailure(EntityDocuments, rec.ExternalID, err.Error(), vendorhttp.PayloadOf(rec))
			continue
		}
		res.RecordSuccess(false)
	}
	return res
}

func (a *Adapter) archiveDocument(ctx context.Context, c *vendorhttp.Client, header http.Header, conn integrations.Connection, documentID string) error {
	body, err := c.Do(ctx, vendorhttp.Request{
		Path:     "/v1/accounts/" + url.PathEscape(accountID(conn.Config)) + "/documents/" + url.PathEscape(documentID) + "/file",
		Header:   header,
		MaxBytes: maxDocumentSize,
	})
	if err != nil {
		return fmt.Errorf("download signed document: %w", err)
	}
	key := path.Join(conn.IntegrationID, documentID+".pdf")
	if err := a.archiver.Put(ctx, key, bytes.NewReader(body), "application/pdf"); err != nil {
		return fmt.Errorf("archive signed document: %w", err)
	}
	a.logger.Info("signed document archived", "integration_id", conn.IntegrationID, "document_id", documentID)
	return nil
}

func archiveEnabled(cfg integrations.Config) bool {
	v, ok := integrations.ConfigBool(cfg, "archive_signed")
	return ok && v
}
