package postgres

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lexdesk/lexdesk/internal/integrations"
	"github.com/lexdesk/lexdesk/internal/store"
)

func TestLogWhere(t *testing.T) {
	t.Parallel()

	since := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	cases := []struct {
		name     string
		filter   store.LogFilter
		want     string
		wantArgs int
	}{
		{name: "empty", filter: store.LogFilter{}, want: "", wantArgs: 0},
		{name: "integration", filter: store.LogFilter{IntegrationID: "i1"}, want: " WHERE integration_id = $1", wantArgs: 1},
		{
			name:     "all",
			filter:   store.LogFilter{IntegrationID: "i1", Action: "sync", Level: integrations.LogError, Since: &since},
			want:     " WHERE integration_id = $1 AND action = $2 AND level = $3 AND created_at >= $4",
			wantArgs: 4,
		},
		{name: "level only", filter: store.LogFilter{Level: integrations.LogInfo}, want: " WHERE level = $1", wantArgs: 1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, args := logWhere(tc.filter)
			if got != tc.want {
				t.Fatalf("logWhere()=%q want %q", got, tc.want)
			}
			if len(args) != tc.wantArgs {
				t.Fatalf("len(args)=%d want %d", len(args), tc.wantArgs)
			}
		})
	}
}

func TestLockKeyIsStableAndCaseInsensitive(t *testing.T) {
	t.Parallel()

	if LockKey("sync-due") != LockKey(" SYNC-DUE ") {
		t.Fatalf("LockKey should ignore case and surrounding space")
	}
	if LockKey("sync-due") == LockKey("health-sweep") {
		t.Fatalf("LockKey collided for distinct names")
	}
}

func TestPGUUIDRejectsNonUUID(t *testing.T) {
	t.Parallel()

	if _, ok := pgUUID("not-a-uuid"); ok {
		t.Fatalf("pgUUID accepted a non-uuid")
	}
	id := uuid.NewString()
	got, ok := pgUUID(id)
	if !ok || uuid.UUID(got.Bytes).String() != id {
		t.Fatalf("pgUUID(%q)=%v, %v", id, got, ok)
	}
}

// newTestStore migrates a throwaway schema in LEXDESK_TEST_DATABASE_URL.
func newTestStore(t *testing.T) *Store {
	t.Helper()
	dsn := strings.TrimSpace(os.Getenv("LEXDESK_TEST_DATABASE_URL"))
	if dsn == "" {
		t.Skip("LEXDESK_TEST_DATABASE_URL is not set")
	}
	ctx := context.Background()

	admin, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	schema := "lexdesk_test_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
	if _, err := admin.Exec(ctx, "CREATE SCHEMA "+schema); err != nil {
		admin.Close()
		t.Fatalf("create schema: %v", err)
	}
	t.Cleanup(func() {
		_, _ = admin.Exec(context.Background(), "DROP SCHEMA "+schema+" CASCADE")
		admin.Close()
	})

	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		t.Fatalf("parse dsn: %v", err)
	}
	cfg.ConnConfig.RuntimeParams["search_path"] = schema
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		t.Fatalf("connect with schema: %v", err)
	}
	t.Cleanup(pool.Close)

	ddl, err := os.ReadFile(filepath.Join("..", "..", "..", "db", "migrations", "000001_integrations.up.sql"))
	if err != nil {
		t.Fatalf("read migration: %v", err)
	}
	if _, err := pool.Exec(ctx, string(ddl), pgx.QueryExecModeSimpleProtocol); err != nil {
		t.Fatalf("apply migration: %v", err)
	}
	return New(pool)
}

func sampleIntegration(name string) integrations.Integration {
	now := time.Now().UTC().Truncate(time.Microsecond)
	return integrations.Integration{
		ID:             uuid.NewString(),
		Name:           name,
		Slug:           integrations.Slugify(name),
		Provider:       "relay-crm",
		Status:         integrations.StatusActive,
		Config:         integrations.Config{"portal_id": "p-1", "batch_size": float64(50)},
		CredentialType: integrations.CredentialOAuth2,
		Webhook:        &integrations.WebhookConfig{Secret: "s3cret"},
		Features:       []integrations.Feature{integrations.FeatureCRMSync},
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

func sealedCreds() integrations.Credentials {
	return integrations.Credentials{
		Type:      integrations.CredentialOAuth2,
		Encrypted: true,
		Envelope:  &integrations.Envelope{Ciphertext: "Y2lwaGVy", IV: "aXY=", Algorithm: "AES-256-GCM", KeyID: "k1"},
		Scopes:    []string{"contacts"},
	}
}

func TestIntegrationRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	in := sampleIntegration("Smith Relay")
	if err := s.CreateIntegration(ctx, in); err != nil {
		t.Fatalf("CreateIntegration() error=%v", err)
	}
	got, err := s.GetIntegration(ctx, in.ID)
	if err != nil {
		t.Fatalf("GetIntegration() error=%v", err)
	}
	if got.Name != in.Name || got.Status != in.Status || got.Webhook == nil || got.Webhook.Secret != "s3cret" {
		t.Fatalf("GetIntegration()=%+v want %+v", got, in)
	}
	if n, _ := integrations.ConfigInt(got.Config, "batch_size"); n != 50 {
		t.Fatalf("batch_size=%d want 50", n)
	}

	dup := sampleIntegration("smith relay")
	if err := s.CreateIntegration(ctx, dup); !errors.Is(err, integrations.ErrConflict) {
		t.Fatalf("CreateIntegration(duplicate slug) error=%v want ErrConflict", err)
	}

	past := time.Now().Add(-time.Minute)
	got.NextSyncAt = &past
	got.ErrorCount = 2
	if err := s.UpdateIntegration(ctx, got); err != nil {
		t.Fatalf("UpdateIntegration() error=%v", err)
	}
	due, err := s.ListDue(ctx, time.Now())
	if err != nil || len(due) != 1 || due[0].ErrorCount != 2 {
		t.Fatalf("ListDue()=%v, %v want the updated integration", due, err)
	}

	counts, err := s.CountIntegrations(ctx)
	if err != nil || counts.Total != 1 || counts.ByProvider["relay-crm"] != 1 {
		t.Fatalf("CountIntegrations()=%+v, %v", counts, err)
	}

	if _, err := s.GetIntegration(ctx, "not-a-uuid"); !errors.Is(err, integrations.ErrNotFound) {
		t.Fatalf("GetIntegration(bad id) error=%v want ErrNotFound", err)
	}
	if err := s.UpdateIntegration(ctx, sampleIntegration("Ghost")); !errors.Is(err, integrations.ErrNotFound) {
		t.Fatalf("UpdateIntegration(missing) error=%v want ErrNotFound", err)
	}
}

func TestCredentialsAndCascade(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	in := sampleIntegration("Cascade")
	if err := s.CreateIntegration(ctx, in); err != nil {
		t.Fatalf("CreateIntegration() error=%v", err)
	}

	plain := integrations.Credentials{Type: integrations.CredentialAPIKey, Data: map[string]string{"api_key": "x"}}
	if err := s.StoreCredentials(ctx, in.ID, plain); !errors.Is(err, integrations.ErrPlaintextCredentials) {
		t.Fatalf("StoreCredentials(plaintext) error=%v want ErrPlaintextCredentials", err)
	}
	if err := s.StoreCredentials(ctx, in.ID, sealedCreds()); err != nil {
		t.Fatalf("StoreCredentials() error=%v", err)
	}
	rotated := sealedCreds()
	rotated.Envelope.KeyID = "k2"
	if err := s.StoreCredentials(ctx, in.ID, rotated); err != nil {
		t.Fatalf("StoreCredentials(second) error=%v", err)
	}
	got, err := s.RetrieveCredentials(ctx, in.ID)
	if err != nil {
		t.Fatalf("RetrieveCredentials() error=%v", err)
	}
	if !got.Encrypted || got.Envelope.KeyID != "k2" || len(got.Scopes) != 1 {
		t.Fatalf("RetrieveCredentials()=%+v want the k2 envelope", got)
	}

	if _, err := s.UpsertRecord(ctx, in.ID, integrations.Record{Entity: "contacts", ExternalID: "c1"}); err != nil {
		t.Fatalf("UpsertRecord() error=%v", err)
	}
	if err := s.DeleteIntegration(ctx, in.ID); err != nil {
		t.Fatalf("DeleteIntegration() error=%v", err)
	}
	if _, err := s.RetrieveCredentials(ctx, in.ID); !errors.Is(err, integrations.ErrNotFound) {
		t.Fatalf("RetrieveCredentials(after delete) error=%v want ErrNotFound", err)
	}
	recs, _ := s.ListRecords(ctx, in.ID, "", nil, 0)
	if len(recs) != 0 {
		t.Fatalf("records survived delete: %v", recs)
	}
}

func TestLogsNewestFirst(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	base := time.Now().UTC().Add(-time.Hour)
	for i, level := range []integrations.LogLevel{integrations.LogInfo, integrations.LogError, integrations.LogInfo} {
		entry := integrations.LogEntry{
			IntegrationID: "i-1",
			Action:        "sync",
			Level:         level,
			Message:       "entry",
			Details:       map[string]any{"n": float64(i)},
			CreatedAt:     base.Add(time.Duration(i) * time.Minute),
		}
		if err := s.AppendLog(ctx, entry); err != nil {
			t.Fatalf("AppendLog() error=%v", err)
		}
	}
	page, err := s.ListLogs(ctx, store.LogFilter{IntegrationID: "i-1"}, integrations.Page{PageSize: 2})
	if err != nil {
		t.Fatalf("ListLogs() error=%v", err)
	}
	if page.Total != 3 || len(page.Items) != 2 || page.Items[0].Details["n"] != float64(2) {
		t.Fatalf("ListLogs()=%+v want newest first, 2 of 3", page)
	}
	n, err := s.CountLogs(ctx, store.LogFilter{Level: integrations.LogError})
	if err != nil || n != 1 {
		t.Fatalf("CountLogs(error)=%d, %v want 1", n, err)
	}
}

func TestUpsertRecordCreatedFlag(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	in := sampleIntegration("Records")
	if err := s.CreateIntegration(ctx, in); err != nil {
		t.Fatalf("CreateIntegration() error=%v", err)
	}

	rec := integrations.Record{Entity: "contacts", ExternalID: "c1", Data: map[string]any{"email": "a@b.test"}}
	created, err := s.UpsertRecord(ctx, in.ID, rec)
	if err != nil || !created {
		t.Fatalf("first UpsertRecord()=%v, %v want created", created, err)
	}
	rec.Data["email"] = "c@d.test"
	created, err = s.UpsertRecord(ctx, in.ID, rec)
	if err != nil || created {
		t.Fatalf("second UpsertRecord()=%v, %v want update", created, err)
	}
	recs, err := s.ListRecords(ctx, in.ID, "contacts", nil, 0)
	if err != nil || len(recs) != 1 || recs[0].Data["email"] != "c@d.test" {
		t.Fatalf("ListRecords()=%v, %v", recs, err)
	}
	if _, err := s.UpsertRecord(ctx, uuid.NewString(), rec); !errors.Is(err, integrations.ErrNotFound) {
		t.Fatalf("UpsertRecord(unknown integration) error=%v want ErrNotFound", err)
	}
}

func TestTryLockIsExclusive(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	release, ok, err := s.TryLock(ctx, "sync-due")
	if err != nil || !ok {
		t.Fatalf("TryLock()=%v, %v want acquired", ok, err)
	}
	if _, ok, err := s.TryLock(ctx, "sync-due"); err != nil || ok {
		t.Fatalf("second TryLock()=%v, %v want busy", ok, err)
	}
	release()
	again, ok, err := s.TryLock(ctx, "sync-due")
	if err != nil || !ok {
		t.Fatalf("TryLock() after release=%v, %v want acquired", ok, err)
	}
	again()
}
