package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/lexdesk/lexdesk/internal/adapters/acmesign"
	"github.com/lexdesk/lexdesk/internal/integrations"
	"github.com/lexdesk/lexdesk/internal/integrations/credentials"
	"github.com/lexdesk/lexdesk/internal/integrations/monitor"
	"github.com/lexdesk/lexdesk/internal/integrations/registry"
	"github.com/lexdesk/lexdesk/internal/store"
	"github.com/lexdesk/lexdesk/internal/store/memory"
)

const stubProvider = "stub-crm"

type stubAdapter struct {
	health  integrations.HealthState
	sync    func(ctx context.Context, conn integrations.Connection, opts integrations.SyncOptions) integrations.SyncResult
	refresh func(conn integrations.Connection) integrations.AuthResult
}

func (s *stubAdapter) Descriptor() integrations.Descriptor {
	return integrations.Descriptor{Provider: stubProvider, Name: "Stub CRM", Version: "1.0.0", Features: s.Features()}
}

func (s *stubAdapter) Authenticate(_ context.Context, conn integrations.Connection) integrations.AuthResult {
	if conn.Credentials.Get(integrations.KeyAccessToken) == "bad" || conn.Credentials.Get(integrations.KeyAPIKey) == "bad" {
		return integrations.AuthFailure("token rejected")
	}
	return integrations.AuthResult{Success: true}
}

func (s *stubAdapter) Ping(context.Context, integrations.Config) integrations.HealthStatus {
	h := s.health
	if h == "" {
		h = integrations.HealthHealthy
	}
	return integrations.HealthStatus{Status: h, ResponseTime: time.Millisecond, CheckedAt: time.Now()}
}

func (s *stubAdapter) GetStatus(ctx context.Context, cfg integrations.Config) integrations.Status {
	return integrations.StatusFromHealth(s.Ping(ctx, cfg))
}

func (s *stubAdapter) ValidateConfig(integrations.Config) integrations.ValidationResult {
	return integrations.NewValidationResult()
}

func (s *stubAdapter) RequiredCredentials() []integrations.CredentialRequirement { return nil }

func (s *stubAdapter) Features() []integrations.Feature {
	return []integrations.Feature{integrations.FeatureCRMSync}
}

func (s *stubAdapter) Sync(ctx context.Context, conn integrations.Connection, opts integrations.SyncOptions) integrations.SyncResult {
	if s.sync != nil {
		return s.sync(ctx, conn, opts)
	}
	res := integrations.SyncResult{}
	res.Finish(time.Now())
	return res
}

func (s *stubAdapter) RefreshToken(_ context.Context, conn integrations.Connection) integrations.AuthResult {
	if s.refresh != nil {
		return s.refresh(conn)
	}
	return integrations.AuthFailure("refresh token revoked")
}

type harness struct {
	svc   *Service
	store *memory.Store
	reg   *registry.Registry
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newHarness(t *testing.T, adapters ...integrations.Adapter) *harness {
	t.Helper()

	reg := registry.New(discardLogger())
	for _, a := range adapters {
		if err := reg.Register(a); err != nil {
			t.Fatalf("Register() error=%v", err)
		}
	}
	st := memory.New()
	keys, err := credentials.NewKeyRing("k1", "service-test-secret", nil)
	if err != nil {
		t.Fatalf("NewKeyRing() error=%v", err)
	}
	creds, err := credentials.NewService(keys, st, credentials.RegistryBackend{Adapters: reg}, credentials.WithLogger(discardLogger()))
	if err != nil {
		t.Fatalf("credentials.NewService() error=%v", err)
	}
	svc, err := New(Deps{
		Registry:     reg,
		Integrations: st,
		Credentials:  creds,
		Logs:         st,
		Records:      st,
		Monitor:      monitor.New(st, discardLogger()),
		Logger:       discardLogger(),
	})
	if err != nil {
		t.Fatalf("New() error=%v", err)
	}
	return &harness{svc: svc, store: st, reg: reg}
}

func (h *harness) createStub(t *testing.T, name string, creds integrations.Credentials) integrations.Integration {
	t.Helper()
	in, err := h.svc.CreateIntegration(context.Background(), CreateRequest{Name: name, Provider: stubProvider, Credentials: creds})
	if err != nil {
		t.Fatalf("CreateIntegration() error=%v", err)
	}
	return in
}

func stubCreds() integrations.Credentials {
	return integrations.Credentials{Type: integrations.CredentialAPIKey, Data: map[string]string{integrations.KeyAPIKey: "good"}}
}

func acmeServer(t *testing.T) *httptest.Server {
	t.Helper()
	const total = 12
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/v1/health":
			w.WriteHeader(http.StatusOK)
		case r.Header.Get("Authorization") != "ApiKey k-123":
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = io.WriteString(w, `{"message":"invalid api key"}`)
		case r.URL.Path == "/v1/accounts/acc-1":
			_, _ = io.WriteString(w, `{"id":"acc-1","name":"Smith & Co"}`)
		case r.URL.Path == "/v1/accounts/acc-1/documents":
			page, _ := strconv.Atoi(r.URL.Query().Get("page"))
			size, _ := strconv.Atoi(r.URL.Query().Get("page_size"))
			docs := []map[string]any{}
			for i := (page - 1) * size; i < min(page*size, total); i++ {
				docs = append(docs, map[string]any{"id": fmt.Sprintf("d%d", i), "status": "sent", "updated_at": "2026-01-02T03:04:05Z"})
			}
			next := 0
			if page*size < total {
				next = page + 1
			}
			_ = json.NewEncoder(w).Encode(map[string]any{"documents": docs, "next_page": next})
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func acmeRequest(baseURL, apiKey string) CreateRequest {
	return CreateRequest{
		Name:        "Acme eSign",
		Provider:    acmesign.Provider,
		Config:      integrations.Config{"base_url": baseURL, "account_id": "acc-1", "page_size": float64(3)},
		Credentials: integrations.Credentials{Type: integrations.CredentialAPIKey, Data: map[string]string{integrations.KeyAPIKey: apiKey}},
	}
}

func TestAcmeEndToEnd(t *testing.T) {
	t.Parallel()

	srv := acmeServer(t)
	h := newHarness(t, acmesign.New(acmesign.Options{HTTPClient: srv.Client(), Logger: discardLogger()}))
	ctx := context.Background()

	in, err := h.svc.CreateIntegration(ctx, acmeRequest(srv.URL, "k-123"))
	if err != nil {
		t.Fatalf("CreateIntegration() error=%v", err)
	}
	if in.Status != integrations.StatusActive {
		t.Fatalf("Status=%v want active (last error %q)", in.Status, in.LastError)
	}
	if in.Webhook == nil || len(in.Webhook.Secret) < 32 {
		t.Fatalf("Webhook=%+v want generated secret", in.Webhook)
	}
	if read, err := h.svc.GetIntegration(ctx, in.ID); err != nil || read.Webhook.Secret != "********" {
		t.Fatalf("GetIntegration() webhook=%+v, %v want redacted secret", read.Webhook, err)
	}

	test := h.svc.TestConnection(ctx, TestConnectionRequest{IntegrationID: in.ID})
	if !test.Success {
		t.Fatalf("TestConnection() error=%q message=%q", test.Error, test.Message)
	}
	if len(test.Features) == 0 {
		t.Fatalf("TestConnection() returned no features")
	}

	res, err := h.svc.SyncIntegration(ctx, in.ID, integrations.SyncOptions{Direction: integrations.SyncPull, Entities: []string{"documents"}, Limit: 5})
	if err != nil {
		t.Fatalf("SyncIntegration() error=%v", err)
	}
	if !res.Success || res.Processed > 5 || res.Processed == 0 {
		t.Fatalf("SyncIntegration()=%+v want success with 1..5 processed", res)
	}

	got, err := h.store.GetIntegration(ctx, in.ID)
	if err != nil {
		t.Fatalf("GetIntegration() error=%v", err)
	}
	if got.Status != integrations.StatusActive || got.LastSyncAt == nil || got.ErrorCount != 0 {
		t.Fatalf("after sync: status=%v last_sync=%v errors=%d", got.Status, got.LastSyncAt, got.ErrorCount)
	}
	if got.NextSyncAt == nil || !got.NextSyncAt.After(*got.LastSyncAt) {
		t.Fatalf("NextSyncAt=%v want after LastSyncAt", got.NextSyncAt)
	}

	recs, _ := h.store.ListRecords(ctx, in.ID, "documents", nil, 0)
	if len(recs) != res.Processed {
		t.Fatalf("stored records=%d want %d", len(recs), res.Processed)
	}

	logs, err := h.svc.GetLogs(ctx, in.ID, integrations.Page{})
	if err != nil {
		t.Fatalf("GetLogs() error=%v", err)
	}
	actions := map[string]bool{}
	for _, e := range logs.Items {
		actions[e.Action] = true
	}
	for _, want := range []string{"create", "test_connection", "sync"} {
		if !actions[want] {
			t.Fatalf("logs missing action %q: %v", want, actions)
		}
	}
}

func TestCreateUnsupportedProvider(t *testing.T) {
	t.Parallel()

	h := newHarness(t, &stubAdapter{})
	_, err := h.svc.CreateIntegration(context.Background(), CreateRequest{Name: "Mystery", Provider: "unknown_crm", Credentials: stubCreds()})
	if !errors.Is(err, integrations.ErrUnsupportedProvider) {
		t.Fatalf("CreateIntegration() error=%v want ErrUnsupportedProvider", err)
	}
	if !strings.Contains(err.Error(), "not supported") {
		t.Fatalf("error=%q want it to mention not supported", err)
	}
	if n := h.store.CredentialCount(); n != 0 {
		t.Fatalf("CredentialCount()=%d want 0", n)
	}
	list, _ := h.svc.GetIntegrations(context.Background(), integrations.Page{})
	if list.Total != 0 {
		t.Fatalf("Total=%d want 0", list.Total)
	}
}

func TestCreateValidation(t *testing.T) {
	t.Parallel()

	srv := acmeServer(t)
	h := newHarness(t, acmesign.New(acmesign.Options{HTTPClient: srv.Client(), Logger: discardLogger()}))
	ctx := context.Background()

	req := acmeRequest(srv.URL, "k-123")
	delete(req.Config, "account_id")
	_, err := h.svc.CreateIntegration(ctx, req)
	if !errors.Is(err, integrations.ErrInvalidConfig) || !strings.Contains(err.Error(), "account_id is required") {
		t.Fatalf("CreateIntegration() error=%v want invalid config naming account_id", err)
	}

	req = acmeRequest(srv.URL, "k-123")
	req.Name = "  "
	if _, err := h.svc.CreateIntegration(ctx, req); !errors.Is(err, integrations.ErrInvalidConfig) {
		t.Fatalf("CreateIntegration(blank name) error=%v want ErrInvalidConfig", err)
	}

	req = acmeRequest(srv.URL, "k-123")
	req.Credentials.Type = "magic"
	if _, err := h.svc.CreateIntegration(ctx, req); !errors.Is(err, integrations.ErrInvalidCredentials) {
		t.Fatalf("CreateIntegration(bad type) error=%v want ErrInvalidCredentials", err)
	}
	if n := h.store.CredentialCount(); n != 0 {
		t.Fatalf("CredentialCount()=%d want 0", n)
	}
}

func TestCreateWithRejectedCredentialsIsPending(t *testing.T) {
	t.Parallel()

	srv := acmeServer(t)
	h := newHarness(t, acmesign.New(acmesign.Options{HTTPClient: srv.Client(), Logger: discardLogger()}))
	ctx := context.Background()

	in, err := h.svc.CreateIntegration(ctx, acmeRequest(srv.URL, "wrong"))
	if err != nil {
		t.Fatalf("CreateIntegration() error=%v", err)
	}
	if in.Status != integrations.StatusPendingSetup || in.LastError == "" {
		t.Fatalf("Status=%v LastError=%q want pending_setup with an error", in.Status, in.LastError)
	}
	creds, err := h.store.RetrieveCredentials(ctx, in.ID)
	if err != nil {
		t.Fatalf("RetrieveCredentials() error=%v", err)
	}
	if !creds.Encrypted || creds.Data != nil {
		t.Fatalf("stored credentials are not sealed: %+v", creds)
	}

	test := h.svc.TestConnection(ctx, TestConnectionRequest{IntegrationID: in.ID})
	if test.Success || test.Message != "Authentication failed" {
		t.Fatalf("TestConnection()=%+v want authentication failure", test)
	}
	after, _ := h.store.GetIntegration(ctx, in.ID)
	if after.Status != integrations.StatusPendingSetup {
		t.Fatalf("TestConnection changed status to %v", after.Status)
	}

	// Fixing the key through an update activates the integration.
	fixed := integrations.Credentials{Type: integrations.CredentialAPIKey, Data: map[string]string{integrations.KeyAPIKey: "k-123"}}
	upd, err := h.svc.UpdateIntegration(ctx, in.ID, UpdateRequest{Credentials: &fixed})
	if err != nil {
		t.Fatalf("UpdateIntegration() error=%v", err)
	}
	if upd.Status != integrations.StatusActive || upd.LastError != "" {
		t.Fatalf("Status=%v LastError=%q want active", upd.Status, upd.LastError)
	}
}

func TestSyncPartialFailure(t *testing.T) {
	t.Parallel()

	failing := true
	stub := &stubAdapter{sync: func(_ context.Context, _ integrations.Connection, _ integrations.SyncOptions) integrations.SyncResult {
		var res integrations.SyncResult
		for i := range 10 {
			id := fmt.Sprintf("r%d", i)
			if failing && (i == 2 || i == 5 || i == 8) {
				res.RecordFailure("contacts", id, "rejected", nil)
				continue
			}
			res.RecordSuccess(true)
		}
		res.Finish(time.Now())
		return res
	}}
	h := newHarness(t, stub)
	ctx := context.Background()
	in := h.createStub(t, "Partial", stubCreds())

	res, err := h.svc.SyncIntegration(ctx, in.ID, integrations.SyncOptions{})
	if err != nil {
		t.Fatalf("SyncIntegration() error=%v", err)
	}
	if res.Success || res.Processed != 10 || res.Failed != 3 || len(res.Errors) != 3 {
		t.Fatalf("SyncIntegration()=%+v want 10 processed, 3 failed", res)
	}
	for _, e := range res.Errors {
		if e.EntityID == "" {
			t.Fatalf("record error without entity id: %+v", e)
		}
	}
	got, _ := h.store.GetIntegration(ctx, in.ID)
	if got.Status != integrations.StatusError || got.ErrorCount != 1 || got.LastError == "" {
		t.Fatalf("status=%v errors=%d last=%q want error/1/set", got.Status, got.ErrorCount, got.LastError)
	}

	// A clean run from the error state recovers the integration.
	failing = false
	if _, err := h.svc.SyncIntegration(ctx, in.ID, integrations.SyncOptions{}); err != nil {
		t.Fatalf("second SyncIntegration() error=%v", err)
	}
	got, _ = h.store.GetIntegration(ctx, in.ID)
	if got.Status != integrations.StatusActive || got.ErrorCount != 0 || got.LastError != "" {
		t.Fatalf("status=%v errors=%d last=%q want active/0/empty", got.Status, got.ErrorCount, got.LastError)
	}

	m, err := h.svc.GetMetrics(ctx)
	if err != nil {
		t.Fatalf("GetMetrics() error=%v", err)
	}
	if m.Total != 1 || m.Syncs != 2 || m.SyncFailures != 1 || m.ByProvider[stubProvider] != 1 {
		t.Fatalf("GetMetrics()=%+v want total 1, 2 syncs, 1 failure", m)
	}
}

func TestSyncAbortReturnsError(t *testing.T) {
	t.Parallel()

	stub := &stubAdapter{sync: func(context.Context, integrations.Connection, integrations.SyncOptions) integrations.SyncResult {
		var res integrations.SyncResult
		res.Abort(errors.New("vendor unavailable"))
		res.Finish(time.Now())
		return res
	}}
	h := newHarness(t, stub)
	in := h.createStub(t, "Abort", stubCreds())

	res, err := h.svc.SyncIntegration(context.Background(), in.ID, integrations.SyncOptions{})
	if !errors.Is(err, ErrSyncFailed) {
		t.Fatalf("SyncIntegration() error=%v want ErrSyncFailed", err)
	}
	if res.Error != "vendor unavailable" {
		t.Fatalf("result error=%q want vendor unavailable", res.Error)
	}
}

func TestSyncRejectsConcurrentRun(t *testing.T) {
	t.Parallel()

	started := make(chan struct{})
	release := make(chan struct{})
	stub := &stubAdapter{sync: func(context.Context, integrations.Connection, integrations.SyncOptions) integrations.SyncResult {
		close(started)
		<-release
		res := integrations.SyncResult{}
		res.Finish(time.Now())
		return res
	}}
	h := newHarness(t, stub)
	in := h.createStub(t, "Busy", stubCreds())

	done := make(chan error, 1)
	go func() {
		_, err := h.svc.SyncIntegration(context.Background(), in.ID, integrations.SyncOptions{})
		done <- err
	}()
	<-started

	if _, err := h.svc.SyncIntegration(context.Background(), in.ID, integrations.SyncOptions{}); !errors.Is(err, integrations.ErrSyncInProgress) {
		t.Fatalf("concurrent SyncIntegration() error=%v want ErrSyncInProgress", err)
	}
	mid, _ := h.store.GetIntegration(context.Background(), in.ID)
	if mid.Status != integrations.StatusSyncing {
		t.Fatalf("Status during sync=%v want syncing", mid.Status)
	}
	close(release)
	if err := <-done; err != nil {
		t.Fatalf("first SyncIntegration() error=%v", err)
	}
}

func TestSyncCanceledCallerStillFinishes(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	stub := &stubAdapter{sync: func(context.Context, integrations.Connection, integrations.SyncOptions) integrations.SyncResult {
		cancel()
		var res integrations.SyncResult
		res.Abort(context.Canceled)
		res.Finish(time.Now())
		return res
	}}
	h := newHarness(t, stub)
	in := h.createStub(t, "Cancel", stubCreds())

	_, _ = h.svc.SyncIntegration(ctx, in.ID, integrations.SyncOptions{})
	got, _ := h.store.GetIntegration(context.Background(), in.ID)
	if got.Status == integrations.StatusSyncing {
		t.Fatalf("integration left in syncing after cancellation")
	}
}

func TestSyncExpiredTokenRefreshFailureExpires(t *testing.T) {
	t.Parallel()

	var refreshes int
	stub := &stubAdapter{refresh: func(integrations.Connection) integrations.AuthResult {
		refreshes++
		return integrations.AuthFailure("refresh token revoked")
	}}
	h := newHarness(t, stub)
	ctx := context.Background()

	past := time.Now().Add(-time.Hour)
	in := h.createStub(t, "OAuth", integrations.Credentials{
		Type:      integrations.CredentialOAuth2,
		Data:      map[string]string{integrations.KeyAccessToken: "old", integrations.KeyRefreshToken: "r"},
		ExpiresAt: &past,
	})
	if in.Status != integrations.StatusActive {
		t.Fatalf("Status=%v want active", in.Status)
	}

	_, err := h.svc.SyncIntegration(ctx, in.ID, integrations.SyncOptions{})
	if !errors.Is(err, integrations.ErrInvalidCredentials) {
		t.Fatalf("SyncIntegration() error=%v want ErrInvalidCredentials", err)
	}
	if refreshes != 1 {
		t.Fatalf("refreshes=%d want 1", refreshes)
	}
	got, _ := h.store.GetIntegration(ctx, in.ID)
	if got.Status != integrations.StatusExpired {
		t.Fatalf("Status=%v want expired", got.Status)
	}
	if _, err := h.svc.SyncIntegration(ctx, in.ID, integrations.SyncOptions{}); !errors.Is(err, integrations.ErrIntegrationInactive) {
		t.Fatalf("SyncIntegration(expired) error=%v want ErrIntegrationInactive", err)
	}

	future := time.Now().Add(time.Hour)
	fresh := integrations.Credentials{Type: integrations.CredentialOAuth2, Data: map[string]string{integrations.KeyAccessToken: "new"}, ExpiresAt: &future}
	upd, err := h.svc.UpdateIntegration(ctx, in.ID, UpdateRequest{Credentials: &fresh})
	if err != nil {
		t.Fatalf("UpdateIntegration() error=%v", err)
	}
	if upd.Status != integrations.StatusActive {
		t.Fatalf("Status after new credentials=%v want active", upd.Status)
	}
}

func TestUpdateStatusTransitions(t *testing.T) {
	t.Parallel()

	h := newHarness(t, &stubAdapter{})
	ctx := context.Background()
	in := h.createStub(t, "Toggle", stubCreds())

	inactive := integrations.StatusInactive
	upd, err := h.svc.UpdateIntegration(ctx, in.ID, UpdateRequest{Status: &inactive})
	if err != nil || upd.Status != integrations.StatusInactive {
		t.Fatalf("UpdateIntegration(inactive)=%v, %v want inactive", upd.Status, err)
	}
	if _, err := h.svc.SyncIntegration(ctx, in.ID, integrations.SyncOptions{}); !errors.Is(err, integrations.ErrIntegrationInactive) {
		t.Fatalf("SyncIntegration(inactive) error=%v want ErrIntegrationInactive", err)
	}

	syncing := integrations.StatusSyncing
	if _, err := h.svc.UpdateIntegration(ctx, in.ID, UpdateRequest{Status: &syncing}); !errors.Is(err, integrations.ErrInvalidTransition) {
		t.Fatalf("UpdateIntegration(inactive->syncing) error=%v want ErrInvalidTransition", err)
	}

	active := integrations.StatusActive
	upd, err = h.svc.UpdateIntegration(ctx, in.ID, UpdateRequest{Status: &active})
	if err != nil || upd.Status != integrations.StatusActive {
		t.Fatalf("UpdateIntegration(active)=%v, %v want active", upd.Status, err)
	}
}

func TestUpdateCredentialsWhileInactive(t *testing.T) {
	t.Parallel()

	h := newHarness(t, &stubAdapter{})
	ctx := context.Background()
	in := h.createStub(t, "Paused", stubCreds())

	inactive := integrations.StatusInactive
	if _, err := h.svc.UpdateIntegration(ctx, in.ID, UpdateRequest{Status: &inactive}); err != nil {
		t.Fatalf("UpdateIntegration(inactive) error=%v", err)
	}
	rotated := integrations.Credentials{Type: integrations.CredentialAPIKey, Data: map[string]string{integrations.KeyAPIKey: "rotated"}}
	upd, err := h.svc.UpdateIntegration(ctx, in.ID, UpdateRequest{Credentials: &rotated})
	if err != nil {
		t.Fatalf("UpdateIntegration(credentials) error=%v", err)
	}
	if upd.Status != integrations.StatusInactive {
		t.Fatalf("Status=%q want inactive", upd.Status)
	}

	stored, err := h.store.RetrieveCredentials(ctx, in.ID)
	if err != nil {
		t.Fatalf("RetrieveCredentials() error=%v", err)
	}
	plain, err := h.svc.creds.Decrypt(stored)
	if err != nil {
		t.Fatalf("Decrypt() error=%v", err)
	}
	if got := plain.Get(integrations.KeyAPIKey); got != "rotated" {
		t.Fatalf("stored api_key=%q want rotated", got)
	}

	invalid := integrations.Credentials{Type: "nonsense"}
	if _, err := h.svc.UpdateIntegration(ctx, in.ID, UpdateRequest{Credentials: &invalid}); !errors.Is(err, integrations.ErrInvalidCredentials) {
		t.Fatalf("UpdateIntegration(invalid credentials) error=%v want ErrInvalidCredentials", err)
	}
}

func TestHandleWebhookMissingSignature(t *testing.T) {
	t.Parallel()

	srv := acmeServer(t)
	h := newHarness(t, acmesign.New(acmesign.Options{HTTPClient: srv.Client(), Logger: discardLogger()}))
	ctx := context.Background()
	in, err := h.svc.CreateIntegration(ctx, acmeRequest(srv.URL, "k-123"))
	if err != nil {
		t.Fatalf("CreateIntegration() error=%v", err)
	}

	res, err := h.svc.HandleWebhook(ctx, in.ID, []byte(`{"event":"document.completed"}`), http.Header{})
	if err != nil {
		t.Fatalf("HandleWebhook() error=%v want nil", err)
	}
	if res.Processed || res.Error != integrations.MsgMissingWebhookSignature {
		t.Fatalf("HandleWebhook()=%+v want missing signature", res)
	}
	n, _ := h.store.CountLogs(ctx, store.LogFilter{IntegrationID: in.ID, Action: "webhook", Level: integrations.LogError})
	if n != 1 {
		t.Fatalf("webhook error logs=%d want 1", n)
	}

	if _, err := h.svc.HandleWebhook(ctx, "missing", nil, http.Header{}); !errors.Is(err, integrations.ErrNotFound) {
		t.Fatalf("HandleWebhook(unknown id) error=%v want ErrNotFound", err)
	}
}

func TestHandleWebhookWithoutCapability(t *testing.T) {
	t.Parallel()

	h := newHarness(t, &stubAdapter{})
	in := h.createStub(t, "No hooks", stubCreds())
	if in.Webhook != nil {
		t.Fatalf("Webhook=%+v want none for an adapter without webhook support", in.Webhook)
	}
	if _, err := h.svc.HandleWebhook(context.Background(), in.ID, []byte(`{}`), http.Header{}); !errors.Is(err, integrations.ErrCapabilityNotSupported) {
		t.Fatalf("HandleWebhook() error=%v want ErrCapabilityNotSupported", err)
	}
}

func TestHealthWithMissingAdapter(t *testing.T) {
	t.Parallel()

	h := newHarness(t, &stubAdapter{})
	in := h.createStub(t, "Gone", stubCreds())
	h.reg.Unregister(stubProvider)

	got := h.svc.GetIntegrationHealth(context.Background(), in.ID)
	if got.Status != integrations.HealthError || !strings.Contains(got.Error, "not supported") {
		t.Fatalf("GetIntegrationHealth()=%+v want synthesized error", got)
	}
	if got := h.svc.GetIntegrationHealth(context.Background(), "nope"); got.Status != integrations.HealthError {
		t.Fatalf("GetIntegrationHealth(unknown)=%+v want error", got)
	}
}

func TestHealthAll(t *testing.T) {
	t.Parallel()

	h := newHarness(t, &stubAdapter{health: integrations.HealthWarning})
	for i := range 5 {
		h.createStub(t, fmt.Sprintf("Firm %d", i), stubCreds())
	}
	reports, err := h.svc.HealthAll(context.Background())
	if err != nil {
		t.Fatalf("HealthAll() error=%v", err)
	}
	if len(reports) != 5 {
		t.Fatalf("len(reports)=%d want 5", len(reports))
	}
	for _, r := range reports {
		if r.IntegrationID == "" || r.Health.Status != integrations.HealthWarning {
			t.Fatalf("report=%+v want warning", r)
		}
	}
}

func TestDeleteIntegration(t *testing.T) {
	t.Parallel()

	h := newHarness(t, &stubAdapter{})
	ctx := context.Background()
	in := h.createStub(t, "Doomed", stubCreds())
	if _, err := h.store.UpsertRecord(ctx, in.ID, integrations.Record{Entity: "contacts", ExternalID: "c1"}); err != nil {
		t.Fatalf("UpsertRecord() error=%v", err)
	}

	if err := h.svc.DeleteIntegration(ctx, in.ID); err != nil {
		t.Fatalf("DeleteIntegration() error=%v", err)
	}
	if _, err := h.svc.GetIntegration(ctx, in.ID); !errors.Is(err, integrations.ErrNotFound) {
		t.Fatalf("GetIntegration() error=%v want ErrNotFound", err)
	}
	if h.store.HasCredentials(in.ID) {
		t.Fatalf("credentials survived delete")
	}
	recs, _ := h.store.ListRecords(ctx, in.ID, "", nil, 0)
	if len(recs) != 0 {
		t.Fatalf("records survived delete: %v", recs)
	}
	if err := h.svc.DeleteIntegration(ctx, in.ID); !errors.Is(err, integrations.ErrNotFound) {
		t.Fatalf("second DeleteIntegration() error=%v want ErrNotFound", err)
	}
}

func TestCreateDuplicateNameConflicts(t *testing.T) {
	t.Parallel()

	h := newHarness(t, &stubAdapter{})
	h.createStub(t, "Smith CRM", stubCreds())
	_, err := h.svc.CreateIntegration(context.Background(), CreateRequest{Name: "smith crm", Provider: stubProvider, Credentials: stubCreds()})
	if !errors.Is(err, integrations.ErrConflict) {
		t.Fatalf("CreateIntegration(duplicate) error=%v want ErrConflict", err)
	}
	if n := h.store.CredentialCount(); n != 1 {
		t.Fatalf("CredentialCount()=%d want 1", n)
	}
}

func TestRotateCredentials(t *testing.T) {
	t.Parallel()

	h := newHarness(t, &stubAdapter{})
	ctx := context.Background()
	first := h.createStub(t, "One", stubCreds())
	h.createStub(t, "Two", stubCreds())

	keys, err := credentials.NewKeyRing("k2", "rotated-secret", map[string]string{"k1": "service-test-secret"})
	if err != nil {
		t.Fatalf("NewKeyRing() error=%v", err)
	}
	creds, err := credentials.NewService(keys, h.store, credentials.RegistryBackend{Adapters: h.reg})
	if err != nil {
		t.Fatalf("credentials.NewService() error=%v", err)
	}
	svc, err := New(Deps{Registry: h.reg, Integrations: h.store, Credentials: creds, Logs: h.store, Records: h.store, Logger: discardLogger()})
	if err != nil {
		t.Fatalf("New() error=%v", err)
	}

	report, err := svc.RotateCredentials(ctx)
	if err != nil {
		t.Fatalf("RotateCredentials() error=%v", err)
	}
	if report.Scanned != 2 || report.Rotated != 2 || len(report.Failed) != 0 {
		t.Fatalf("RotateCredentials()=%+v want 2 scanned, 2 rotated", report)
	}
	sealed, _ := h.store.RetrieveCredentials(ctx, first.ID)
	if sealed.Envelope.KeyID != "k2" {
		t.Fatalf("KeyID=%q want k2", sealed.Envelope.KeyID)
	}
	plain, err := creds.Decrypt(sealed)
	if err != nil || plain.Get(integrations.KeyAPIKey) != "good" {
		t.Fatalf("Decrypt()=%v, %v want original api key", plain.Data, err)
	}

	again, _ := svc.RotateCredentials(ctx)
	if again.Rotated != 0 {
		t.Fatalf("second RotateCredentials() rotated %d want 0", again.Rotated)
	}
}

func TestGetAvailableProviders(t *testing.T) {
	t.Parallel()

	h := newHarness(t, &stubAdapter{}, acmesign.New(acmesign.Options{}))
	got := h.svc.GetAvailableProviders()
	if len(got) != 2 || got[0].Provider != stubProvider || got[1].Provider != acmesign.Provider {
		t.Fatalf("GetAvailableProviders()=%v want stub then acme", got)
	}
	if _, ok := h.svc.GetAdapter(acmesign.Provider); !ok {
		t.Fatalf("GetAdapter(%q) not found", acmesign.Provider)
	}
}
