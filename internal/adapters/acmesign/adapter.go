// Package acmesign integrates with the Acme eSign e-signature API.
package acmesign

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/lexdesk/lexdesk/internal/integrations"
	"github.com/lexdesk/lexdesk/internal/integrations/vendorhttp"
)

const (
	Provider       = "acme-esign"
	vendor         = "acme esign"
	vendorDomain   = "acme-esign.com"
	defaultBaseURL = "https://api.acme-esign.com"
	defaultPage    = 50

	EntityDocuments = "documents"
	EntityTemplates = "templates"

	SignatureHeader = "X-Acme-Signature"
)

var supportedEntities = []string{EntityDocuments, EntityTemplates}

// Archiver stores signed document files.
type Archiver interface {
	Put(ctx context.Context, key string, body io.Reader, contentType string) error
}

// Options configures an Adapter.
type Options struct {
	HTTPClient *http.Client
	Archiver   Archiver
	Logger     *slog.Logger
	Now        func() time.Time
}

// Adapter implements the base contract plus Syncer and WebhookHandler.
type Adapter struct {
	http     *http.Client
	archiver Archiver
	logger   *slog.Logger
	now      func() time.Time
}

var (
	_ integrations.Adapter        = (*Adapter)(nil)
	_ integrations.Syncer         = (*Adapter)(nil)
	_ integrations.WebhookHandler = (*Adapter)(nil)
)

func New(opts Options) *Adapter {
	a := &Adapter{http: opts.HTTPClient, archiver: opts.Archiver, logger: opts.Logger, now: opts.Now}
	if a.http == nil {
		a.http = &http.Client{Timeout: vendorhttp.DefaultTimeout}
	}
	if a.logger == nil {
		a.logger = slog.Default()
	}
	if a.now == nil {
		a.now = time.Now
	}
	return a
}

func (a *Adapter) Descriptor() integrations.Descriptor {
	return integrations.Descriptor{
		Provider: Provider,
		Name:     "Acme eSign",
		Version:  "1.2.0",
		Features: a.Features(),
	}
}

func (a *Adapter) Features() []integrations.Feature {
	return []integrations.Feature{
		integrations.FeatureESignature,
		integrations.FeatureDocumentSync,
		integrations.FeatureWebhookSupport,
		integrations.FeatureFileUpload,
	}
}

func (a *Adapter) RequiredCredentials() []integrations.CredentialRequirement {
	return []integrations.CredentialRequirement{
		{Key: integrations.KeyAPIKey, Label: "API key", Input: integrations.InputPassword, Required: false, Help: "Used when the credential type is api-key."},
		{Key: keyIntegrationKey, Label: "Integration key", Input: integrations.InputText, Help: "JWT grant: the integration (client) id."},
		{Key: keyUserID, Label: "Impersonated user id", Input: integrations.InputText, Help: "JWT grant: the user the token acts as."},
		{Key: keyPrivateKey, Label: "RSA private key", Input: integrations.InputTextarea, Help: "JWT grant: PEM encoded RSA key."},
	}
}

func (a *Adapter) ValidateConfig(cfg integrations.Config) integrations.ValidationResult {
	res := integrations.NewValidationResult()
	if integrations.ConfigString(cfg, "account_id") == "" {
		res.AddError("account_id is required")
	}
	if warning, err := vendorhttp.CheckBaseURL(integrations.ConfigString(cfg, "base_url"), vendorDomain); err != nil {
		res.AddError(err.Error())
	} else if warning != "" {
		res.AddWarning(warning)
	}
	res.CheckIntRange(cfg, "page_size", 1, 100)
	res.CheckMinInt(cfg, "sync_interval_minutes", 15, "may exceed Acme eSign rate limits")
	if _, ok := integrations.ConfigBool(cfg, "archive_signed"); !ok {
		res.AddError("archive_signed must be a boolean")
	}
	return res
}

// Ping probes the public health endpoint without credentials.
func (a *Adapter) Ping(ctx context.Context, cfg integrations.Config) integrations.HealthStatus {
	c, err := a.client(cfg)
	if err != nil {
		return integrations.ErrorHealth(a.now(), err.Error())
	}
	return vendorhttp.HealthFromProbe(c.Probe(ctx, "/v1/health"), a.now(), vendorhttp.StrictClassifier)
}

func (a *Adapter) GetStatus(ctx context.Context, cfg integrations.Config) integrations.Status {
	return integrations.StatusFromHealth(a.Ping(ctx, cfg))
}

func (a *Adapter) client(cfg integrations.Config) (*vendorhttp.Client, error) {
	base := integrations.ConfigString(cfg, "base_url")
	if base == "" {
		base = defaultBaseURL
	}
	return vendorhttp.NewWithHTTP(vendor, base, a.http)
}

func accountID(cfg integrations.Config) string {
	return integrations.ConfigString(cfg, "account_id")
}

func pageSize(cfg integrations.Config) int {
	n, ok := integrations.ConfigInt(cfg, "page_size")
	if !ok || n < 1 || n > 100 {
		return defaultPage
	}
	return n
}
