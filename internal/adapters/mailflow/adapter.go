// Package mailflow integrates with the Mailflow marketing automation API (3.0).
package mailflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"time"

	"github.com/lexdesk/lexdesk/internal/integrations"
	"github.com/lexdesk/lexdesk/internal/integrations/vendorhttp"
)

const (
	Provider       = "mailflow"
	vendor         = "mailflow"
	vendorDomain   = "mailflow.com"
	defaultBaseURL = "https://api.mailflow.com"

	defaultBatchSize = 100
	maxBatchSize     = 500

	EntityContacts  = "contacts"
	EntityLists     = "lists"
	EntityCampaigns = "campaigns"

	SignatureHeader = "X-Mailflow-Signature"
)

var supportedEntities = []string{EntityContacts, EntityLists, EntityCampaigns}

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
	_ integrations.Syncer         = (*Adapter)(nil)
	_ integrations.DataQuerier    = (*Adapter)(nil)
	_ integrations.WebhookHandler = (*Adapter)(nil)
)

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
	return integrations.Descriptor{Provider: Provider, Name: "Mailflow", Version: "3.0.4", Features: a.Features()}
}

func (a *Adapter) Features() []integrations.Feature {
	return []integrations.Feature{
		integrations.FeatureEmailAutomation,
		integrations.FeatureContactSync,
		integrations.FeatureBulkOperations,
		integrations.FeatureWebhookSupport,
	}
}

func (a *Adapter) RequiredCredentials() []integrations.CredentialRequirement {
	return []integrations.CredentialRequirement{
		{Key: integrations.KeyAPIKey, Label: "API key", Input: integrations.InputPassword, Required: true, Help: "Account > Extras > API keys."},
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
	res.CheckMinInt(cfg, "sync_interval_minutes", 60, "campaign statistics refresh hourly")
	if raw, ok := cfg["default_list_id"]; ok {
		if _, isString := raw.(string); !isString {
			res.AddError("default_list_id must be a string")
		}
	}
	return res
}

// Ping treats 401 as healthy: the endpoint answers 401 to anonymous callers once the service is up.
func (a *Adapter) Ping(ctx context.Context, cfg integrations.Config) integrations.HealthStatus {
	c, err := a.client(cfg)
	if err != nil {
		return integrations.ErrorHealth(a.now(), err.Error())
	}
	return vendorhttp.HealthFromProbe(c.Probe(ctx, "/3.0/ping"), a.now(), classify)
}

func classify(code int) integrations.HealthState {
	if (code >= 200 && code < 300) || code == http.StatusUnauthorized {
		return integrations.HealthHealthy
	}
	return integrations.HealthError
}

func (a *Adapter) GetStatus(ctx context.Context, cfg integrations.Config) integrations.Status {
	return integrations.StatusFromHealth(a.Ping(ctx, cfg))
}

type account struct {
	AccountID   string `json:"account_id"`
	AccountName string `json:"account_name"`
}

// Authenticate reads the account the API key belongs to.
func (a *Adapter) Authenticate(ctx context.Context, conn integrations.Connection) integrations.AuthResult {
	c, header, err := a.authed(conn)
	if err != nil {
		return integrations.AuthFailure("%v", err)
	}
	var acct account
	if err := c.JSON(ctx, vendorhttp.Request{Path: "/3.0/account", Header: header}, &acct); err != nil {
		return integrations.AuthFailure("%v", err)
	}
	if acct.AccountID == "" {
		return integrations.AuthFailure("%s returned no account for the api key", vendor)
	}
	return integrations.AuthResult{Success: true}
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
	key := conn.Credentials.Get(integrations.KeyAPIKey)
	if key == "" {
		return nil, nil, errors.New("api_key is required")
	}
	h := http.Header{}
	h.Set("X-Api-Key", key)
	return c, h, nil
}

func batchSize(cfg integrations.Config) int {
	n, ok := integrations.ConfigInt(cfg, "batch_size")
	if !ok || n < 1 || n > maxBatchSize {
		return defaultBatchSize
	}
	return n
}

func checkEntity(entity string) error {
	if !slices.Contains(supportedEntities, entity) {
		return fmt.Errorf("%s does not support entity %q", Provider, entity)
	}
	return nil
}
