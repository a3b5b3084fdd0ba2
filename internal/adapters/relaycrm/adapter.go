// Package relaycrm integrates with the Relay CRM REST API (v2).
package relaycrm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/lexdesk/lexdesk/internal/integrations"
	"github.com/lexdesk/lexdesk/internal/integrations/vendorhttp"
	"golang.org/x/oauth2"
)

const (
	Provider       = "relay-crm"
	vendor         = "relay crm"
	vendorDomain   = "relaycrm.io"
	defaultBaseURL = "https://api.relaycrm.io"
	tokenPath      = "/oauth/token"

	defaultBatchSize = 100
	maxBatchSize     = 100

	EntityContacts  = "contacts"
	EntityCompanies = "companies"
	EntityDeals     = "deals"

	SignatureHeader = "X-Relay-Signature"
)

var supportedEntities = []string{EntityContacts, EntityCompanies, EntityDeals}

// Adapter implements the base contract, TokenRefresher, Syncer, DataQuerier and WebhookHandler.
type Adapter struct {
	http   *http.Client
	logger *slog.Logger
	now    func() time.Time
}

// Option configures an Adapter.
type Option func(*Adapter)

// WithLogger sets the logger used for webhook events the adapter does not act on.
func WithLogger(logger *slog.Logger) Option {
	return func(a *Adapter) {
		if logger != nil {
			a.logger = logger
		}
	}
}

var (
	_ integrations.Adapter        = (*Adapter)(nil)
	_ integrations.TokenRefresher = (*Adapter)(nil)
	_ integrations.Syncer         = (*Adapter)(nil)
	_ integrations.DataQuerier    = (*Adapter)(nil)
	_ integrations.WebhookHandler = (*Adapter)(nil)
)

// New returns an adapter that issues requests with httpClient, or a default client.
func New(httpClient *http.Client, opts ...Option) *Adapter {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: vendorhttp.DefaultTimeout}
	}
	a := &Adapter{http: httpClient, logger: slog.Default(), now: time.Now}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *Adapter) Descriptor() integrations.Descriptor {
	return integrations.Descriptor{Provider: Provider, Name: "Relay CRM", Version: "2.1.0", Features: a.Features()}
}

func (a *Adapter) Features() []integrations.Feature {
	return []integrations.Feature{
		integrations.FeatureCRMSync,
		integrations.FeatureContactSync,
		integrations.FeatureCustomFields,
		integrations.FeatureBulkOperations,
		integrations.FeatureWebhookSupport,
		integrations.FeatureRealTimeSync,
	}
}

func (a *Adapter) RequiredCredentials() []integrations.CredentialRequirement {
	return []integrations.CredentialRequirement{
		{Key: integrations.KeyAccessToken, Label: "Access token", Input: integrations.InputPassword, Required: true},
		{Key: integrations.KeyRefreshToken, Label: "Refresh token", Input: integrations.InputPassword, Required: true},
		{Key: integrations.KeyClientID, Label: "Client ID", Input: integrations.InputText, Required: true},
		{Key: integrations.KeyClientSecret, Label: "Client secret", Input: integrations.InputPassword, Required: true},
	}
}

func (a *Adapter) ValidateConfig(cfg integrations.Config) integrations.ValidationResult {
	res := integrations.NewValidationResult()
	if warning, err := vendorhttp.CheckBaseURL(integrations.ConfigString(cfg, "base_url"), vendorDomain); err != nil {
		res.AddError(err.Error())
	} else if warning != "" {
		res.AddWarning(warning)
	}
	res.CheckIntRange(cfg, "batch_size", 1, maxBatchSize)
	res.CheckMinInt(cfg, "sync_interval_minutes", 10, "may exhaust the Relay CRM daily quota")
	if raw, ok := cfg["custom_fields"]; ok {
		if _, isList := raw.([]any); !isList {
			res.AddError("custom_fields must be a list of property names")
		}
	}
	return res
}

// Ping probes /v2/status without credentials: 2xx healthy, 401/403 warning, anything else error.
func (a *Adapter) Ping(ctx context.Context, cfg integrations.Config) integrations.HealthStatus {
	c, err := a.client(cfg)
	if err != nil {
		return integrations.ErrorHealth(a.now(), err.Error())
	}
	return vendorhttp.HealthFromProbe(c.Probe(ctx, "/v2/status"), a.now(), classify)
}

func classify(code int) integrations.HealthState {
	switch {
	case code >= 200 && code < 300:
		return integrations.HealthHealthy
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return integrations.HealthWarning
	default:
		return integrations.HealthError
	}
}

func (a *Adapter) GetStatus(ctx context.Context, cfg integrations.Config) integrations.Status {
	return integrations.StatusFromHealth(a.Ping(ctx, cfg))
}

type me struct {
	ID     string   `json:"id"`
	Email  string   `json:"email"`
	Scopes []string `json:"scopes"`
}

// Authenticate reads the token owner with the stored access token.
func (a *Adapter) Authenticate(ctx context.Context, conn integrations.Connection) integrations.AuthResult {
	c, err := a.client(conn.Config)
	if err != nil {
		return integrations.AuthFailure("%v", err)
	}
	token := conn.Credentials.Get(integrations.KeyAccessToken)
	if token == "" {
		return integrations.AuthFailure("access_token is required")
	}
	var who me
	if err := c.JSON(ctx, vendorhttp.Request{Path: "/v2/me", Header: vendorhttp.BearerHeader(token)}, &who); err != nil {
		return integrations.AuthFailure("%v", err)
	}
	return integrations.AuthResult{Success: true, Scopes: who.Scopes}
}

// RefreshToken runs the OAuth2 refresh grant against the token endpoint.
func (a *Adapter) RefreshToken(ctx context.Context, conn integrations.Connection) integrations.AuthResult {
	var missing []string
	for _, k := range []string{integrations.KeyRefreshToken, integrations.KeyClientID, integrations.KeyClientSecret} {
		if conn.Credentials.Get(k) == "" {
			missing = append(missing, k)
		}
	}
	if len(missing) > 0 {
		return integrations.AuthFailure("refresh credentials incomplete: missing %s", strings.Join(missing, ", "))
	}
	c, err := a.client(conn.Config)
	if err != nil {
		return integrations.AuthFailure("%v", err)
	}

	oc := oauth2.Config{
		ClientID:     conn.Credentials.Get(integrations.KeyClientID),
		ClientSecret: conn.Credentials.Get(integrations.KeyClientSecret),
		Endpoint:     oauth2.Endpoint{TokenURL: c.BaseURL + tokenPath, AuthStyle: oauth2.AuthStyleInParams},
	}
	// An empty access token forces the source to refresh.
	src := oc.TokenSource(context.WithValue(ctx, oauth2.HTTPClient, a.http), &oauth2.Token{
		RefreshToken: conn.Credentials.Get(integrations.KeyRefreshToken),
	})
	tok, err := src.Token()
	if err != nil {
		var rerr *oauth2.RetrieveError
		if errors.As(err, &rerr) {
			msg := rerr.ErrorCode
			if rerr.ErrorDescription != "" {
				msg += ": " + rerr.ErrorDescription
			}
			if msg == "" && rerr.Response != nil {
				msg = rerr.Response.Status
			}
			return integrations.AuthFailure("%s token refresh failed: %s", vendor, msg)
		}
		return integrations.AuthFailure("%s token refresh failed: %v", vendor, err)
	}

	out := integrations.AuthResult{Success: true, Token: tok.AccessToken, RefreshToken: tok.RefreshToken}
	if !tok.Expiry.IsZero() {
		out.ExpiresIn = int64(tok.Expiry.Sub(a.now()).Seconds())
	}
	if scope, ok := tok.Extra("scope").(string); ok && scope != "" {
		out.Scopes = strings.Fields(scope)
	}
	return out
}

func (a *Adapter) client(cfg integrations.Config) (*vendorhttp.Client, error) {
	base := integrations.ConfigString(cfg, "base_url")
	if base == "" {
		base = defaultBaseURL
	}
	return vendorhttp.NewWithHTTP(vendor, base, a.http)
}

func (a *Adapter) authed(conn integrations.Connection) (*vendorhttp.Client, http.Header, error) {
	c, err := a.client(conn.Config)
	if err != nil {
		return nil, nil, err
	}
	token := conn.Credentials.Get(integrations.KeyAccessToken)
	if token == "" {
		return nil, nil, errors.New("access_token is required")
	}
	return c, vendorhttp.BearerHeader(token), nil
}

func batchSize(cfg integrations.Config) int {
	n, ok := integrations.ConfigInt(cfg, "batch_size")
	if !ok || n < 1 || n > maxBatchSize {
		return defaultBatchSize
	}
	return n
}

func checkEntity(entity string) error {
	for _, e := range supportedEntities {
		if e == entity {
			return nil
		}
	}
	return fmt.Errorf("%s does not support entity %q", Provider, entity)
}
