package relaycrm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/lexdesk/lexdesk/internal/integrations"
	"github.com/lexdesk/lexdesk/internal/integrations/vendorhttp"
	"github.com/lexdesk/lexdesk/internal/store/memory"
)

func oauthConn(baseURL string) integrations.Connection {
	return integrations.Connection{
		IntegrationID: "int-relay",
		Config:        integrations.Config{"base_url": baseURL},
		Credentials: integrations.Credentials{Type: integrations.CredentialOAuth2, Data: map[string]string{
			integrations.KeyAccessToken:  "at-1",
			integrations.KeyRefreshToken: "rt-1",
			integrations.KeyClientID:     "client",
			integrations.KeyClientSecret: "shh",
		}},
	}
}

func TestRelayValidateConfig(t *testing.T) {
	t.Parallel()

	a := New(nil)
	cases := []struct {
		name         string
		cfg          integrations.Config
		wantValid    bool
		wantWarnings int
	}{
		{name: "empty", cfg: integrations.Config{}, wantValid: true},
		{name: "batch too big", cfg: integrations.Config{"batch_size": float64(250)}, wantValid: true, wantWarnings: 1},
		{name: "short interval", cfg: integrations.Config{"sync_interval_minutes": float64(5)}, wantValid: true, wantWarnings: 1},
		{name: "custom fields not list", cfg: integrations.Config{"custom_fields": "matter_id"}, wantValid: false},
		{name: "custom fields list", cfg: integrations.Config{"custom_fields": []any{"matter_id"}}, wantValid: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			res := a.ValidateConfig(tc.cfg)
			if res.Valid != tc.wantValid {
				t.Fatalf("Valid=%v want %v (errors %v)", res.Valid, tc.wantValid, res.Errors)
			}
			if len(res.Warnings) != tc.wantWarnings {
				t.Fatalf("Warnings=%v want %d", res.Warnings, tc.wantWarnings)
			}
		})
	}
}

func TestRelayPingClassify(t *testing.T) {
	t.Parallel()

	cases := []struct {
		code int
		want integrations.HealthState
	}{
		{code: http.StatusOK, want: integrations.HealthHealthy},
		{code: http.StatusUnauthorized, want: integrations.HealthWarning},
		{code: http.StatusForbidden, want: integrations.HealthWarning},
		{code: http.StatusBadGateway, want: integrations.HealthError},
	}
	for _, tc := range cases {
		t.Run(fmt.Sprint(tc.code), func(t *testing.T) {
			t.Parallel()
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.Header.Get("Authorization") != "" {
					t.Errorf("ping sent credentials")
				}
				w.WriteHeader(tc.code)
			}))
			defer srv.Close()

			h := New(srv.Client()).Ping(context.Background(), integrations.Config{"base_url": srv.URL})
			if h.Status != tc.want {
				t.Fatalf("Status=%v want %v", h.Status, tc.want)
			}
		})
	}
}

func TestRelayRefreshToken(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != tokenPath {
			http.NotFound(w, r)
			return
		}
		if err := r.ParseForm(); err != nil {
			t.Errorf("ParseForm: %v", err)
		}
		if got := r.PostForm.Get("grant_type"); got != "refresh_token" {
			t.Errorf("grant_type=%q want refresh_token", got)
		}
		if got := r.PostForm.Get("client_secret"); got != "shh" {
			t.Errorf("client_secret=%q want shh", got)
		}
		if r.PostForm.Get("refresh_token") != "rt-1" {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadRequest)
			_, _ = io.WriteString(w, `{"error":"invalid_grant","error_description":"refresh token revoked"}`)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"access_token":"at-2","refresh_token":"rt-2","token_type":"bearer","expires_in":3600,"scope":"contacts deals"}`)
	}))
	defer srv.Close()

	a := New(srv.Client())
	res := a.RefreshToken(context.Background(), oauthConn(srv.URL))
	if !res.Success {
		t.Fatalf("RefreshToken() error=%q", res.Error)
	}
	if res.Token != "at-2" || res.RefreshToken != "rt-2" {
		t.Fatalf("tokens=%q/%q want at-2/rt-2", res.Token, res.RefreshToken)
	}
	if res.ExpiresIn < 3500 || res.ExpiresIn > 3600 {
		t.Fatalf("ExpiresIn=%d want about 3600", res.ExpiresIn)
	}
	if strings.Join(res.Scopes, ",") != "contacts,deals" {
		t.Fatalf("Scopes=%v want [contacts deals]", res.Scopes)
	}

	revoked := oauthConn(srv.URL)
	revoked.Credentials.Data[integrations.KeyRefreshToken] = "rt-old"
	res = a.RefreshToken(context.Background(), revoked)
	if res.Success {
		t.Fatalf("RefreshToken() with revoked token succeeded")
	}
	if !strings.Contains(res.Error, "invalid_grant") {
		t.Fatalf("Error=%q want invalid_grant", res.Error)
	}
}

func TestRelayRefreshTokenMissingFields(t *testing.T) {
	t.Parallel()

	conn := oauthConn("https://api.relaycrm.io")
	delete(conn.Credentials.Data, integrations.KeyRefreshToken)
	delete(conn.Credentials.Data, integrations.KeyClientSecret)

	res := New(nil).RefreshToken(context.Background(), conn)
	want := "refresh credentials incomplete: missing refresh_token, client_secret"
	if res.Success || res.Error != want {
		t.Fatalf("RefreshToken()=%+v want error %q", res, want)
	}
}

func TestRelayPullFollowsCursor(t *testing.T) {
	t.Parallel()

	var (
		mu      sync.Mutex
		cursors []string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v2/contacts" {
			_, _ = io.WriteString(w, `{"results":[]}`)
			return
		}
		if r.Header.Get("Authorization") != "Bearer at-1" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		cursor := r.URL.Query().Get("cursor")
		mu.Lock()
		cursors = append(cursors, cursor)
		mu.Unlock()
		switch cursor {
		case "":
			_, _ = io.WriteString(w, `{"results":[{"id":"c1","name":"Ada"},{"id":"c2","name":"Bo"}],"paging":{"next_cursor":"p2"}}`)
		case "p2":
			_, _ = io.WriteString(w, `{"results":[{"id":"c3","name":"Cy"}],"paging":{}}`)
		default:
			t.Errorf("unexpected cursor %q", cursor)
		}
	}))
	defer srv.Close()

	sink := memory.New()
	conn := oauthConn(srv.URL)
	conn.Records = sink

	res := New(srv.Client()).Sync(context.Background(), conn, integrations.SyncOptions{Entities: []string{"contacts"}})
	if !res.Success {
		t.Fatalf("Sync() error=%q errors=%v", res.Error, res.Errors)
	}
	if res.Processed != 3 || res.Created != 3 {
		t.Fatalf("Processed=%d Created=%d want 3/3", res.Processed, res.Created)
	}
	if strings.Join(cursors, ",") != ",p2" {
		t.Fatalf("cursors=%q want [\"\" p2]", cursors)
	}
	recs, err := sink.ListRecords(context.Background(), conn.IntegrationID, EntityContacts, nil, 0)
	if err != nil {
		t.Fatalf("ListRecords: %v", err)
	}
	if len(recs) != 3 {
		t.Fatalf("stored=%d want 3", len(recs))
	}
}

func TestRelayPullCountsUndecodableItems(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"results":[{"id":"c1"},{"name":"no id"},{"id":"c3"}],"paging":{}}`)
	}))
	defer srv.Close()

	sink := memory.New()
	conn := oauthConn(srv.URL)
	conn.Records = sink

	res := New(srv.Client()).Sync(context.Background(), conn, integrations.SyncOptions{Entities: []string{"contacts"}})
	if res.Success {
		t.Fatalf("Success=true want false")
	}
	if res.Processed != 3 || res.Failed != 1 || res.Created != 2 {
		t.Fatalf("Processed=%d Failed=%d Created=%d want 3/1/2", res.Processed, res.Failed, res.Created)
	}
	if len(res.Errors) != 1 || res.Errors[0].Entity != EntityContacts || !strings.Contains(string(res.Errors[0].Payload), "no id") {
		t.Fatalf("Errors=%+v want one contacts error carrying the raw item", res.Errors)
	}
}

func TestRelaySyncRejectsUnknownEntity(t *testing.T) {
	t.Parallel()

	res := New(nil).Sync(context.Background(), oauthConn("https://api.relaycrm.io"), integrations.SyncOptions{Entities: []string{"tickets"}})
	if res.Success || !strings.Contains(res.Error, "tickets") {
		t.Fatalf("Sync()=%+v want unsupported entity error", res)
	}
}

func TestRelaySendDataBatchesAndReportsItemErrors(t *testing.T) {
	t.Parallel()

	var (
		mu      sync.Mutex
		batches []int
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/v2/contacts/batch/upsert" {
			http.NotFound(w, r)
			return
		}
		var body struct {
			Inputs []upsertInput `json:"inputs"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode: %v", err)
		}
		mu.Lock()
		batches = append(batches, len(body.Inputs))
		mu.Unlock()

		type item struct {
			ID      string `json:"id"`
			Status  string `json:"status"`
			Created bool   `json:"created,omitempty"`
			Message string `json:"message,omitempty"`
		}
		out := make([]item, len(body.Inputs))
		for i, in := range body.Inputs {
			if in.Properties["email"] == "" {
				out[i] = item{ID: in.ID, Status: "error", Message: "email is required"}
				continue
			}
			out[i] = item{ID: in.ID, Status: "ok", Created: true}
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"results": out})
	}))
	defer srv.Close()

	records := make([]integrations.Record, 5)
	for i := range records {
		email := fmt.Sprintf("p%d@example.com", i)
		if i == 3 {
			email = ""
		}
		records[i] = integrations.Record{Entity: EntityContacts, ExternalID: fmt.Sprintf("c%d", i), Data: map[string]any{"email": email}}
	}
	conn := oauthConn(srv.URL)
	conn.Config["batch_size"] = float64(2)

	res := New(srv.Client()).SendData(context.Background(), conn, records, integrations.SendOptions{Entity: EntityContacts, Upsert: true})
	if res.Success {
		t.Fatalf("SendData() succeeded with a rejected item")
	}
	if res.Processed != 5 || res.Created != 4 || res.Failed != 1 {
		t.Fatalf("Processed=%d Created=%d Failed=%d want 5/4/1", res.Processed, res.Created, res.Failed)
	}
	if len(res.Errors) != 1 || res.Errors[0].EntityID != "c3" || res.Errors[0].Message != "email is required" {
		t.Fatalf("Errors=%+v want c3 email is required", res.Errors)
	}
	if fmt.Sprint(batches) != "[2 2 1]" {
		t.Fatalf("batches=%v want [2 2 1]", batches)
	}
}

func TestRelayHandleWebhook(t *testing.T) {
	t.Parallel()

	const secret = "whsec"
	conn := oauthConn("https://api.relaycrm.io")
	conn.Webhook = &integrations.WebhookConfig{Secret: secret}
	a := New(nil)

	signed := func(body string) http.Header {
		h := http.Header{}
		h.Set(SignatureHeader, "sha256="+vendorhttp.SignPayload(secret, []byte(body), vendorhttp.SignatureHex))
		return h
	}

	cases := []struct {
		name        string
		body        string
		headers     http.Header
		wantOK      bool
		wantError   string
		wantActions []string
	}{
		{name: "missing signature", body: `{}`, headers: http.Header{}, wantError: integrations.MsgMissingWebhookSignature},
		{name: "bad signature", body: `{}`, headers: http.Header{SignatureHeader: {"sha256=00"}}, wantError: integrations.MsgInvalidWebhookSignature},
		{name: "bad json", body: `{`, headers: signed(`{`), wantError: "Invalid webhook payload"},
		{name: "contact updated", body: `{"event":"contact.updated","object_id":"c1"}`, wantOK: true, wantActions: []string{"sync:contacts:c1"}},
		{name: "deal deleted", body: `{"event":"deal.deleted","object_id":"d9"}`, wantOK: true, wantActions: []string{"delete:deals:d9"}},
		{name: "unknown", body: `{"event":"pipeline.changed","object_id":"x"}`, wantOK: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			headers := tc.headers
			if headers == nil {
				headers = signed(tc.body)
			}
			res := a.HandleWebhook(context.Background(), conn, []byte(tc.body), headers)
			if res.Processed != tc.wantOK {
				t.Fatalf("Processed=%v want %v (error %q)", res.Processed, tc.wantOK, res.Error)
			}
			if res.Error != tc.wantError {
				t.Fatalf("Error=%q want %q", res.Error, tc.wantError)
			}
			var got []string
			for _, act := range res.Actions {
				got = append(got, act.Type+":"+act.Entity+":"+act.EntityID)
			}
			if strings.Join(got, ",") != strings.Join(tc.wantActions, ",") {
				t.Fatalf("Actions=%v want %v", got, tc.wantActions)
			}
		})
	}
}

func TestRelayHandleWebhookLogsIgnoredEvent(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	a := New(nil, WithLogger(slog.New(slog.NewTextHandler(&buf, nil))))
	conn := oauthConn("https://api.relaycrm.io")
	conn.Webhook = &integrations.WebhookConfig{Secret: "whsec"}

	for _, event := range []string{"pipeline.changed", "contact.archived"} {
		body := `{"event":"` + event + `","object_id":"x"}`
		h := http.Header{}
		h.Set(SignatureHeader, "sha256="+vendorhttp.SignPayload("whsec", []byte(body), vendorhttp.SignatureHex))
		res := a.HandleWebhook(context.Background(), conn, []byte(body), h)
		if !res.Processed || len(res.Actions) != 0 {
			t.Fatalf("HandleWebhook(%s) = %+v want processed without actions", event, res)
		}
		if !strings.Contains(buf.String(), "event="+event) {
			t.Fatalf("log output = %q want event %s", buf.String(), event)
		}
	}
}
